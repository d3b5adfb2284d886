package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pitchforge/backend/internal/domain"
	"github.com/pitchforge/backend/internal/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation sweep and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		st, err := openStores(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer st.close()

		sweeper := service.NewSweeper(st.entitlements, st.usage, service.LogNotifier{}, cfg.UsageRetentionDays)
		res, runErr := sweeper.RunOnce(ctx)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		return runErr
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStores(commandContext(cmd), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		st.close()
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var (
	tokenUser  string
	tokenEmail string
	tokenRole  string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed access token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if tokenUser == "" {
			return fmt.Errorf("--user is required")
		}
		if tokenRole != "user" && tokenRole != domain.RoleAdmin {
			return fmt.Errorf("--role must be user or %s", domain.RoleAdmin)
		}
		if tokenTTL <= 0 {
			return fmt.Errorf("--ttl must be positive")
		}
		tok, err := service.NewTokenService(cfg.JWTSecret).IssueToken(tokenUser, tokenEmail, tokenRole, tokenTTL)
		if err != nil {
			return err
		}
		log.Debug().Str("user_id", tokenUser).Str("role", tokenRole).Msg("Token issued")
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id placed in the sub claim")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "user", "role claim (user or admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
