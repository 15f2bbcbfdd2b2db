package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/actions"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/config"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/debuglog"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/httpserver"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/kit"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/logging"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/migrations"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/store"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "bridge"})

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	logDBTarget("primary", cfg.DatabaseURL)
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	if err := runMigrationsWithDirtyFix(db, "primary"); err != nil {
		log.Fatal().Err(err).Msg("failed to apply database migrations")
	}

	st, err := store.New(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create store")
	}

	kitCfg := kitConfig(cfg)
	if kitCfg.OAuth == nil {
		log.Info().Msg("kit oauth not configured; only API key credentials are usable")
	}

	bridge, err := actions.New(st, kitCfg, debuglog.NewSink(cfg.DebugLogPath), st)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event actions")
	}

	srv := httpserver.New(cfg, httpserver.Deps{
		Settings:   st,
		Dispatcher: bridge,
		Events:     st,
		Pinger:     st,
		Kit:        kitCfg,
		Tags:       kit.NewTagCache(cfg.TagCacheTTL),
	})

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.ServerAddress).Msg("bridge starting")
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func kitConfig(cfg config.Config) kit.Config {
	return kit.Config{
		BaseURL:       cfg.KitAPIBaseURL,
		LegacyBaseURL: cfg.KitLegacyAPIBaseURL,
		Timeout:       cfg.KitHTTPTimeout,
		OAuth: kit.NewOAuthConfig(kit.OAuthSettings{
			ClientID:     cfg.KitOAuthClientID,
			ClientSecret: cfg.KitOAuthClientSecret,
			RedirectURL:  cfg.KitOAuthRedirectURI,
			AuthorizeURL: cfg.KitOAuthAuthorizeURL,
			TokenURL:     cfg.KitOAuthTokenURL,
		}),
	}
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, name string) error {
	if err := migrations.Up(db); err != nil {
		log.Warn().Err(err).Str("db", name).Msg("migrations: error detected")
		if strings.Contains(err.Error(), "Dirty database version") {
			log.Warn().Str("db", name).Msg("migrations: dirty database detected, attempting to fix")
			if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
				log.Error().Err(fixErr).Str("db", name).Msg("migrations: failed to fix dirty database")
				return err
			}
			return migrations.Up(db)
		}
		return err
	}
	return nil
}

func logDBTarget(name, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Info().Str("db", name).Err(err).Msg("db configured (dsn parse error)")
		return
	}
	log.Info().Str("db", name).Str("host", u.Hostname()).Str("database", strings.TrimPrefix(u.Path, "/")).Msg("db target")
}
