package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantd/internal/entitlements"
	"github.com/wolfeidau/tenantd/internal/logger"
	"github.com/wolfeidau/tenantd/internal/orgs"
	"github.com/wolfeidau/tenantd/internal/provider"
	"github.com/wolfeidau/tenantd/internal/provider/providertest"
	"github.com/wolfeidau/tenantd/internal/server"
	"github.com/wolfeidau/tenantd/internal/store"
	memorystore "github.com/wolfeidau/tenantd/internal/store/memory"
	postgresstore "github.com/wolfeidau/tenantd/internal/store/postgres"
	"github.com/wolfeidau/tenantd/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"localhost:8080" env:"TENANTD_LISTEN"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for admin requests" default:"http://localhost:3000" env:"TENANTD_CORS_ORIGINS"`

	// Provider configuration
	ProviderBaseURL string `help:"external identity/billing provider API base URL" default:"" env:"TENANTD_PROVIDER_BASE_URL"`
	ProviderAPIKey  string `help:"external provider API key" default:"" env:"TENANTD_PROVIDER_API_KEY"`

	// Operational modes
	Tracing bool `help:"enable tracing and metrics export" default:"false" env:"TENANTD_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"TENANTD_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"TENANTD_POSTGRES_AUTO_MIGRATE"`
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	zlog.Logger = log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "tenantd-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	// Create stores based on store type
	var (
		orgStore        store.OrganizationStore
		membershipStore store.MembershipStore
		userStore       store.UserStore
		auditStore      store.AuditStore
	)

	switch c.StoreType {
	case "postgres":
		if c.PostgresStore.ConnString == "" {
			return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
		}

		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
			AutoMigrate:     c.PostgresStore.AutoMigrate,
		})
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		orgStore = postgresstore.NewOrganizationStore(pool)
		membershipStore = postgresstore.NewMembershipStore(pool)
		userStore = postgresstore.NewUserStore(pool)
		auditStore = postgresstore.NewAuditStore(pool)

		log.Info().Msg("Using PostgreSQL stores with shared connection pool")

	default:
		memStore := memorystore.NewStore()
		orgStore = memStore
		membershipStore = memStore
		userStore = memStore
		auditStore = memStore

		log.Warn().Msg("Using in-memory stores, data is lost on restart")
	}

	// Create the provider client, or an in-process fake for local
	// development when no base URL is configured.
	var prov provider.Provider
	if c.ProviderBaseURL != "" {
		client, err := provider.NewClient(provider.ClientConfig{
			BaseURL: c.ProviderBaseURL,
			APIKey:  c.ProviderAPIKey,
		})
		if err != nil {
			return err
		}
		prov = client
	} else {
		if c.StoreType == "postgres" {
			return errors.New("provider base URL is required (--provider-base-url or TENANTD_PROVIDER_BASE_URL)")
		}
		log.Warn().Msg("No provider configured, using in-process fake provider")
		prov = providertest.NewFake()
	}

	resolver := entitlements.NewResolver(membershipStore, entitlements.DefaultCatalog)
	lifecycle := orgs.NewLifecycleService(orgStore, userStore, prov)
	syncService := orgs.NewMembershipSyncService(orgStore, membershipStore, userStore, prov, entitlements.DefaultCatalog)

	srv := server.New(resolver, lifecycle, syncService, orgStore, auditStore)
	httpServer := configureHTTPServer(c.Listen, srv.Handler(log, c.CORSOrigins))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down HTTP server: %w", err)
		}
	}

	return nil
}
