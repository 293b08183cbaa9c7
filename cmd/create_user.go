package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psds-microservice/contact-service/internal/application"
)

var (
	userName  string
	userEmail string
	userAdmin bool
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Register a user that contacts can be assigned to",
	RunE:  runCreateUser,
}

func init() {
	createUserCmd.Flags().StringVar(&userName, "name", "", "display name")
	createUserCmd.Flags().StringVar(&userEmail, "email", "", "unique email")
	createUserCmd.Flags().BoolVar(&userAdmin, "admin", false, "mark as administrator")
	_ = createUserCmd.MarkFlagRequired("name")
	_ = createUserCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(createUserCmd)
}

func runCreateUser(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx := context.Background()
	s, err := application.Bootstrap(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	u, err := s.Contacts.CreateUser(ctx, userName, userEmail, userAdmin)
	if err != nil {
		return err
	}
	log.Info("user created", zap.Uint64("id", u.ID), zap.String("email", u.Email), zap.Bool("admin", u.IsAdmin))
	cmd.Printf("%d\n", u.ID)
	return nil
}
