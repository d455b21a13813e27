package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"voltlink/backend/services/telemetry-service/internal/auth"
	"voltlink/backend/services/telemetry-service/internal/config"
)

var (
	tokenSubject string
	tokenRole    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed operator token for the mapping admin endpoints",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "operator name recorded in the mapping audit log")
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleAdmin, "role claim")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	admin, err := config.LoadAdmin(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if admin.JWTSecret == "" {
		return errors.New("admin jwt secret is not configured")
	}

	token, err := auth.NewTokenService(admin.JWTSecret, admin.TokenTTL).GenerateToken(tokenSubject, tokenRole)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
