package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	appMiddleware "github.com/pitchforge/backend/internal/middleware"
	"github.com/pitchforge/backend/internal/server"
	"github.com/pitchforge/backend/internal/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic reconciliation sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(commandContext(cmd))
	},
}

func runServer(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer st.close()

	gateway := newGateway(cfg)
	limits := limitsOf(cfg)

	entitlements := service.NewEntitlementService(st.entitlements, cfg.GracePeriodDays)
	status := service.NewStatusService(entitlements, gateway, cfg.ProviderTimeout)
	sweeper := service.NewSweeper(st.entitlements, st.usage, service.LogNotifier{}, cfg.UsageRetentionDays)

	// Global rate limiter (20 req/sec per IP, burst of 40)
	rl := appMiddleware.NewRateLimiter(20, 40)
	defer rl.Close()

	router := server.NewRouter(server.Deps{
		DB:            st,
		Gateway:       gateway,
		Tokens:        service.NewTokenService(cfg.JWTSecret),
		Ingestor:      service.NewEventIngestor(entitlements, gateway),
		Usage:         service.NewUsageService(entitlements, st.usage, limits),
		Billing:       service.NewBillingService(entitlements, gateway, cfg.FrontendURL),
		Status:        status,
		Sweeper:       sweeper,
		Limits:        limits,
		CORSOrigins:   cfg.CORSOrigins,
		RateLimiter:   rl,
		ExposeMetrics: true,
	})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("version", Version).Msg("PitchForge backend listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.SweepInterval > 0 {
		g.Go(func() error {
			return sweeper.Run(gctx, cfg.SweepInterval)
		})
	} else {
		log.Warn().Msg("Periodic sweep disabled (SWEEP_INTERVAL=0)")
	}

	return g.Wait()
}
