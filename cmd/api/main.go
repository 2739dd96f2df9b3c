package main

import (
	"context"
	"database/sql"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	server "pmsync/internal/adapters/http_server"
	"pmsync/internal/adapters/observability"
	redisad "pmsync/internal/adapters/redis"
	"pmsync/internal/adapters/webhook"
	"pmsync/internal/app"
	"pmsync/internal/domain"
	"pmsync/internal/shared"
	mysqlrepo "pmsync/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	store := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.IdemTTL)
	q := app.NewQueryService(repo, store, cfg.CacheTTL)
	sync := app.NewSyncService(nil, store, repo, cfg.PropertyID, app.MapOptions{IncludeRawData: cfg.Debug})

	gw, err := webhook.New(webhook.Config{
		Secret:          cfg.WebhookSecret,
		PropertyID:      cfg.PropertyID,
		SignatureHeader: cfg.SignatureHeader,
		TimestampHeader: cfg.TimestampHeader,
		Idempotency:     store,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize webhook gateway")
	}

	opts := webhook.Options{
		OnEvent: func(ctx context.Context, ev domain.WebhookEvent) error {
			if err := sync.HandleEvent(ctx, ev); err != nil {
				return err
			}
			q.InvalidateBooking(ctx, ev.PropertyID, ev.Data.ReservationID)
			return nil
		},
		OnError: func(err error) {
			log.Error().Err(err).Msg("webhook pipeline error")
		},
	}

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Q: q, Gateway: gw, Opts: opts})

	log.Info().Str("addr", cfg.HTTPAddr).Str("property", cfg.PropertyID).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}
