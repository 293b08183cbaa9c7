package cmd

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psds-microservice/contact-service/internal/application"
	"github.com/psds-microservice/contact-service/internal/model"
)

var seedCount int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert sample contacts for local development",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 50, "number of contacts to create")
	rootCmd.AddCommand(seedCmd)
}

var (
	seedNames = []string{"Jean Dupont", "Maria Garcia", "Aiko Tanaka", "Liam O'Brien", "Fatima Zahra", "Noah Müller", "Priya Raman", "Lucas Silva"}
	seedTexts = map[string]string{
		"technical_issue": "The dashboard returns an error since this morning.",
		"billing_dispute": "I was charged twice for the same invoice.",
		"account_locked":  "My account is locked after a password reset.",
		"support":         "How do I export my data to CSV?",
		"complaint":       "The delivery arrived two weeks late.",
		"general_inquiry": "Do you offer discounts for non-profits?",
		"partnership":     "We would like to discuss a reseller partnership.",
		"sales_inquiry":   "Can we get a quote for 50 seats?",
	}
)

func sampleContact(r *rand.Rand, i int, now time.Time) *model.Contact {
	name := seedNames[r.IntN(len(seedNames))]
	service := model.Services[r.IntN(len(model.Services))]
	requested := now.Add(-time.Duration(r.IntN(30*24*60)) * time.Minute)

	c := &model.Contact{
		Name:             name,
		Email:            fmt.Sprintf("customer%03d@example.com", i),
		Service:          service,
		Message:          seedTexts[service],
		RequestTimestamp: requested,
		CreatedAt:        requested,
		UpdatedAt:        requested,
	}
	if r.IntN(3) == 0 {
		phone := fmt.Sprintf("+1555%07d", r.IntN(10_000_000))
		c.Phone = &phone
	}
	statuses := model.Statuses()
	c.Status = statuses[r.IntN(len(statuses))]
	if c.Status != model.ContactStatusNew {
		touched := requested.Add(time.Duration(15+r.IntN(48*60)) * time.Minute)
		if touched.After(now) {
			touched = now
		}
		c.UpdationTimestamp = &touched
		c.UpdatedAt = touched
	}
	return c
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	if seedCount < 1 {
		return fmt.Errorf("--count must be positive")
	}

	ctx := context.Background()
	s, err := application.Bootstrap(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	now := s.Contacts.Now()
	for i := 0; i < seedCount; i++ {
		c := sampleContact(r, i, now)
		if err := s.Contacts.Seed(ctx, c); err != nil {
			return fmt.Errorf("seed contact %d: %w", i, err)
		}
	}
	log.Info("seed: done", zap.Int("contacts", seedCount))
	return nil
}
