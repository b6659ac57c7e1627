package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mokshitha-y/todosaas/internal/identity"
	"github.com/mokshitha-y/todosaas/internal/logger"
	"github.com/mokshitha-y/todosaas/internal/saga"
	"github.com/mokshitha-y/todosaas/internal/scheduler"
	"github.com/mokshitha-y/todosaas/internal/server"
	"github.com/mokshitha-y/todosaas/internal/store"
	postgresstore "github.com/mokshitha-y/todosaas/internal/store/postgres"
)

type ServeCmd struct {
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"TODOSAAS_LISTEN"`

	// Store configuration
	StoreType string        `help:"store type (memory or postgres)" default:"memory" env:"TODOSAAS_STORE_TYPE" enum:"memory,postgres"`
	Postgres  PostgresFlags `embed:"" prefix:"postgres-"`

	// Identity provider configuration
	IdentityType string        `help:"identity provider type (fake or keycloak)" default:"fake" env:"TODOSAAS_IDENTITY_TYPE" enum:"fake,keycloak"`
	Keycloak     KeycloakFlags `embed:"" prefix:"keycloak-"`

	Scheduler SchedulerFlags `embed:"" prefix:"scheduler-"`

	// Saga tuning
	FanoutLimit int  `help:"max concurrent tenants in fan-out sagas" default:"4" env:"TODOSAAS_FANOUT_LIMIT"`
	MaxAttempts uint `help:"retry budget per saga step" default:"3" env:"TODOSAAS_MAX_ATTEMPTS"`
}

type PostgresFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"TODOSAAS_POSTGRES_AUTO_MIGRATE"`
}

type KeycloakFlags struct {
	BaseURL       string        `help:"Keycloak server base URL" env:"KEYCLOAK_BASE_URL"`
	Realm         string        `help:"realm holding tenant users and groups" env:"KEYCLOAK_REALM"`
	AdminUsername string        `help:"admin username for the password grant" env:"KEYCLOAK_ADMIN_USERNAME"`
	AdminPassword string        `help:"admin password for the password grant" env:"KEYCLOAK_ADMIN_PASSWORD"`
	Timeout       time.Duration `help:"per-call request timeout" default:"5s" env:"KEYCLOAK_TIMEOUT"`
}

type SchedulerFlags struct {
	Enabled          bool   `help:"run the recurring saga scheduler" default:"true" env:"TODOSAAS_SCHEDULER_ENABLED"`
	MetricsSchedule  string `help:"cron schedule for metrics aggregation" default:"0 0 * * * *" env:"TODOSAAS_METRICS_SCHEDULE"`
	RolloverSchedule string `help:"cron schedule for recurring-item rollover" default:"0 30 2 * * *" env:"TODOSAAS_ROLLOVER_SCHEDULE"`
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	var stores saga.Stores
	switch c.StoreType {
	case "postgres":
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.Postgres.ConnString,
			MaxConns:        c.Postgres.MaxConns,
			MinConns:        c.Postgres.MinConns,
			MaxConnLifetime: c.Postgres.MaxConnLifetime,
			MaxConnIdleTime: c.Postgres.MaxConnIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		if c.Postgres.AutoMigrate {
			if err := postgresstore.AutoMigrate(ctx, pool); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		stores = saga.Stores{
			Tenants:       postgresstore.NewTenantStore(pool),
			Organizations: postgresstore.NewOrganizationStore(pool),
			Users:         postgresstore.NewUserStore(pool),
			Memberships:   postgresstore.NewMembershipStore(pool),
			Invitations:   postgresstore.NewInvitationStore(pool),
			EmailSettings: postgresstore.NewEmailSettingsStore(pool),
			Metrics:       postgresstore.NewMetricsStore(pool),
			Audit:         postgresstore.NewAuditStore(pool),
			Partitions:    postgresstore.NewPartitionManager(pool),
		}
		log.Info().Msg("Using PostgreSQL stores with shared connection pool")

	default:
		mem := store.NewMemory()
		stores = saga.Stores{
			Tenants:       mem.Tenants(),
			Organizations: mem.Organizations(),
			Users:         mem.Users(),
			Memberships:   mem.Memberships(),
			Invitations:   mem.Invitations(),
			EmailSettings: mem.EmailSettings(),
			Metrics:       mem.Metrics(),
			Audit:         mem.Audit(),
			Partitions:    mem.Partitions(),
		}
		log.Warn().Msg("Using in-memory stores, data will not survive a restart")
	}

	var idp identity.Provider
	switch c.IdentityType {
	case "keycloak":
		client, err := identity.NewClient(identity.ClientConfig{
			BaseURL:        c.Keycloak.BaseURL,
			Realm:          c.Keycloak.Realm,
			AdminUsername:  c.Keycloak.AdminUsername,
			AdminPassword:  c.Keycloak.AdminPassword,
			RequestTimeout: c.Keycloak.Timeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create keycloak client: %w", err)
		}
		idp = client

	default:
		idp = identity.NewFake()
		log.Warn().Msg("Using fake identity provider, no external IAM calls will be made")
	}

	runner := saga.NewRunner(stores, idp,
		saga.WithFanoutLimit(c.FanoutLimit),
		saga.WithMaxAttempts(c.MaxAttempts),
	)

	schedulerDone := make(chan struct{})
	if c.Scheduler.Enabled {
		sched := scheduler.New()
		if err := sched.Defaults(runner, c.Scheduler.MetricsSchedule, c.Scheduler.RolloverSchedule); err != nil {
			return err
		}
		go func() {
			defer close(schedulerDone)
			sched.Start(ctx)
		}()
		log.Info().
			Str("metrics", c.Scheduler.MetricsSchedule).
			Str("rollover", c.Scheduler.RolloverSchedule).
			Msg("Scheduler started")
	} else {
		close(schedulerDone)
	}

	srv := configureHTTPServer(c.Listen, server.New(runner, stores).Router(log))
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", c.Listen).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		<-schedulerDone
	}
	return nil
}
