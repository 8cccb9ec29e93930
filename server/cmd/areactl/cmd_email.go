package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/areawatch/areawatch/server/internal/mailer"
)

// emailTestCmd checks the SMTP settings of the config.
var emailTestCmd = &cobra.Command{
	Use:   "email-test",
	Short: "Connect and authenticate to the configured SMTP server",
	Long: `Dial the SMTP server from the email section of --config and authenticate
with the password from email.password_env. Nothing is sent.`,
	RunE: runEmailTest,
}

func runEmailTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	m := mailer.New(cfg.Server.Email)
	res := m.Test(ctx)
	pub := m.PublicConfig()
	fmt.Fprintf(cmd.OutOrStdout(), "%s:%d as %s: %s (%s)\n",
		pub.SMTPServer, pub.SMTPPort, pub.SenderEmail, res.Status, res.Message)
	if !res.OK() {
		return fmt.Errorf("email test %s", res.Status)
	}
	return nil
}
