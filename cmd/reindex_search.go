package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psds-microservice/contact-service/internal/application"
	"github.com/psds-microservice/contact-service/internal/kafka"
	"github.com/psds-microservice/contact-service/internal/model"
)

const reindexBatch = 200

var reindexSearchCmd = &cobra.Command{
	Use:   "reindex-search",
	Short: "Reindex all contacts into search. Prefers Kafka; falls back to HTTP if SEARCH_SERVICE_URL set.",
	RunE:  runReindexSearch,
}

func init() {
	rootCmd.AddCommand(reindexSearchCmd)
}

func runReindexSearch(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	s, err := application.Bootstrap(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	var send func(c *model.Contact)
	switch {
	case s.Events.Enabled():
		log.Info("reindex-search: using Kafka")
		send = func(c *model.Contact) {
			event := kafka.EventContactUpdated
			if c.DeletedAt.Valid {
				event = kafka.EventContactDeleted
			}
			s.Events.ProduceContactEvent(ctx, event, c)
		}
	case s.Search.Enabled():
		log.Info("reindex-search: using HTTP")
		send = func(c *model.Contact) { s.Search.IndexContact(ctx, c) }
	default:
		log.Warn("reindex-search: neither KAFKA_BROKERS nor SEARCH_SERVICE_URL set, nothing to do")
		return nil
	}

	total := 0
	err = s.Contacts.All(ctx, reindexBatch, func(batch []model.Contact) error {
		for i := range batch {
			send(&batch[i])
		}
		total += len(batch)
		log.Info("reindex-search: progress", zap.Int("sent", total))
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("reindex-search: %w", err)
	}
	log.Info("reindex-search: done", zap.Int("contacts", total))
	return nil
}
