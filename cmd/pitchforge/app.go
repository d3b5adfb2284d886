package main

import (
	"context"

	"github.com/pitchforge/backend/internal/config"
	"github.com/pitchforge/backend/internal/domain"
	"github.com/pitchforge/backend/internal/logging"
	"github.com/pitchforge/backend/internal/repository"
	"github.com/pitchforge/backend/internal/repository/sqlite"
	"github.com/pitchforge/backend/internal/service"
	"github.com/pitchforge/backend/pkg/payment"
	"github.com/rs/zerolog/log"
)

// stores bundles the persistence backends selected by DATABASE_URL.
type stores struct {
	entitlements service.EntitlementStore
	usage        service.UsageStore
	ping         func(ctx context.Context) error
	close        func()
}

func (s *stores) Ping(ctx context.Context) error { return s.ping(ctx) }

// openStores connects to the configured database and runs migrations.
// sqlite://path selects the embedded store, anything else is handed to pgx.
func openStores(ctx context.Context, databaseURL string) (*stores, error) {
	if path, ok := sqlite.PathFromURL(databaseURL); ok {
		st, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		log.Info().Str("driver", "sqlite").Str("path", path).Msg("Database connected & migrated")
		return &stores{
			entitlements: st,
			usage:        st,
			ping:         st.Ping,
			close:        func() { _ = st.Close() },
		}, nil
	}

	db, err := repository.NewDB(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := repository.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("driver", "postgres").Msg("Database connected & migrated")
	return &stores{
		entitlements: repository.NewEntitlementRepository(db),
		usage:        repository.NewUsageRepository(db),
		ping:         db.Ping,
		close:        db.Close,
	}, nil
}

func newGateway(cfg *config.Config) payment.Gateway {
	if cfg.PaymentProvider == "mock" {
		log.Warn().Msg("Using mock payment gateway")
		return payment.NewMockGateway(cfg.StripeWebhookSecret)
	}
	return payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripePriceID)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func limitsOf(cfg *config.Config) domain.DailyLimits {
	return domain.DailyLimits{Free: cfg.FreeDailyLimit, Premium: cfg.PremiumDailyLimit}
}
