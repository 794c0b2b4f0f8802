package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"zashboard.app/internal/analytics"
	"zashboard.app/internal/auth"
	"zashboard.app/internal/config"
	"zashboard.app/internal/httpapi"
	"zashboard.app/internal/integrations"
	"zashboard.app/internal/obs"
	"zashboard.app/internal/org"
	"zashboard.app/internal/retention"
	"zashboard.app/internal/store/memory"
	"zashboard.app/internal/store/pg"
	"zashboard.app/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is the persistence surface shared by the postgres and memory stores.
type backend interface {
	auth.Store
	auth.LegacySource
	org.Store
	integrations.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := obs.Logger("main")
		log.Fatal().Err(err).Msg("load config")
	}
	obs.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	obs.Init()
	obs.InitBuildInfo(obs.BuildInfo{Version: version, Commit: commit, Store: cfg.Store.Driver})

	log := obs.Logger("main")
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api stopped")
	}
	log.Info().Msg("stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store backend
		ready httpapi.ReadyCheck
	)
	switch cfg.Store.Driver {
	case "memory":
		log.Warn().Msg("using in-memory store; data is lost on restart")
		store = memory.New()
	default:
		pgStore, err := pg.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		store = pgStore
		ready = httpapi.ReadyCheck{DB: pgStore.DB()}
	}

	resolver, err := auth.NewResolver(store,
		auth.WithLegacySource(store),
		auth.WithLegacyFallback(cfg.Auth.LegacyFallback),
	)
	if err != nil {
		return err
	}
	if err := resolver.EnsureBuiltins(ctx); err != nil {
		return err
	}
	orgs, err := org.NewService(store, resolver)
	if err != nil {
		return err
	}

	var verifierOpts []auth.VerifierOption
	if cfg.Auth.SessionPublicKey != "" {
		verifierOpts = append(verifierOpts, auth.WithPublicKeyPEM(cfg.Auth.SessionPublicKey))
	}
	if cfg.Auth.SessionSecret != "" {
		verifierOpts = append(verifierOpts, auth.WithSharedSecret(cfg.Auth.SessionSecret))
	}
	if cfg.Auth.Issuer != "" {
		verifierOpts = append(verifierOpts, auth.WithIssuer(cfg.Auth.Issuer))
	}
	sessions, err := auth.NewSessionVerifier(verifierOpts...)
	if err != nil {
		return err
	}

	hub := stream.New()
	events := analytics.NewStore(
		analytics.WithCapacity(cfg.Analytics.Capacity),
		analytics.WithVersionPolicy(analytics.VersionPolicy{
			Line:          cfg.Analytics.VersionLine,
			CurrentPatch:  cfg.Analytics.CurrentPatch,
			OutdatedPatch: cfg.Analytics.OutdatedPatch,
		}),
		analytics.WithIngestHook(hub.Publish),
	)

	sweeper, err := retention.New(retention.Config{
		Pruner:    events,
		Schedule:  cfg.Analytics.RetentionSchedule,
		Retention: cfg.Analytics.Retention,
		Logger:    obs.Logger("retention"),
	})
	if err != nil {
		return err
	}
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	tokenKey := cfg.Integrations.TokenKey
	if tokenKey == "" {
		log.Warn().Msg("integrations.token_key not set; using an ephemeral key, stored tokens will not survive a restart")
		if tokenKey, err = integrations.GenerateKey(); err != nil {
			return err
		}
	}
	sealer, err := integrations.NewSealer(tokenKey)
	if err != nil {
		return err
	}
	runner := integrations.NewRunner(store, sealer,
		integrations.WithWorkers(cfg.Integrations.Workers),
		integrations.WithQueueSize(cfg.Integrations.QueueSize),
		integrations.WithSyncer(integrations.ProviderNotion, integrations.NewNotionSyncer(
			integrations.WithNotionBaseURL(cfg.Integrations.NotionBaseURL),
		)),
	)
	runner.Start(ctx)

	api, err := httpapi.New(httpapi.Options{
		Version:      version,
		Ready:        ready,
		Sessions:     sessions,
		Resolver:     resolver,
		Orgs:         orgs,
		Analytics:    events,
		Stream:       hub,
		Integrations: runner,
		Connections:  store,
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateBurst:    cfg.RateLimit.Burst,
		RatePerSec:   cfg.RateLimit.PerSecond,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Str("store", cfg.Store.Driver).Msg("starting zashboard-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := runner.Stop(); err != nil {
		log.Error().Err(err).Msg("integration runner shutdown")
	}
	return nil
}
