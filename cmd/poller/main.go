package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"pmsync/internal/adapters/observability"
	"pmsync/internal/adapters/pms"
	redisad "pmsync/internal/adapters/redis"
	"pmsync/internal/app"
	"pmsync/internal/domain"
	"pmsync/internal/shared"
	mysqlrepo "pmsync/internal/storage/mysql"
)

func main() {
	ctx := context.Background()
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	log.Info().
		Str("base", cfg.PMSBase).
		Int("workers", cfg.Workers).
		Int("properties", len(cfg.PropertyIDs)).
		Dur("interval", cfg.SyncInterval).
		Msg("poller starting")

	if len(cfg.PropertyIDs) == 0 {
		log.Fatal().Msg("no properties configured (PMS_PROPERTY_IDS)")
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	store := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.IdemTTL)

	// one client+service per property: tokens and cursors are property-scoped
	services := make(map[string]*app.SyncService, len(cfg.PropertyIDs))
	for _, id := range cfg.PropertyIDs {
		client, err := pms.New(pms.Config{
			BaseURL:      cfg.PMSBase,
			ClientID:     cfg.PMSClientID,
			ClientSecret: cfg.PMSClientSecret,
			PropertyID:   id,
			Tokens:       store,
			PageSize:     cfg.PageSize,
		})
		if err != nil {
			log.Fatal().Err(err).Str("property", id).Msg("failed to initialize PMS client")
		}
		services[id] = app.NewSyncService(client, store, repo, id, app.MapOptions{IncludeRawData: cfg.Debug})
	}

	policy := pms.RetryPolicy{BaseDelay: cfg.RetryDelay, MaxDelay: time.Minute}

	runAll := func() {
		sem := semaphore.NewWeighted(int64(cfg.Workers))
		var wg sync.WaitGroup

		for _, id := range cfg.PropertyIDs {
			// acquire before launching the goroutine; release inside it
			if err := sem.Acquire(ctx, 1); err != nil {
				log.Fatal().Err(err).Msg("semaphore acquire failed")
			}

			wg.Add(1)
			go func(propertyID string, svc *app.SyncService) {
				defer wg.Done()
				defer sem.Release(1)

				var res domain.SyncResult
				// Success stays false only when the pass itself failed
				// (transport or cursor), which is worth another attempt;
				// per-record failures are reported, not retried.
				err := pms.WithRetry(ctx, cfg.MaxRetries, policy, func() error {
					res = svc.PerformIncrementalSync(ctx, app.SyncOptions{
						OnError: func(err error) {
							log.Warn().Str("property", propertyID).Err(err).Msg("sync error")
						},
					})
					if !res.Success {
						return fmt.Errorf("sync pass for %s did not complete", propertyID)
					}
					return nil
				})
				if err != nil {
					log.Error().Str("property", propertyID).Err(err).Msg("sync failed")
				}

				observability.SyncRecords.WithLabelValues("saved").Add(float64(res.RecordsSaved))
				observability.SyncRecords.WithLabelValues("failed").Add(float64(res.RecordsFailed))
				if err := repo.LogSyncRun(ctx, propertyID, res); err != nil {
					log.Warn().Str("property", propertyID).Err(err).Msg("sync run audit write failed")
				}
			}(id, services[id])
		}
		wg.Wait()
	}

	runAll()
	if cfg.SyncInterval <= 0 {
		log.Info().Msg("sync pass completed")
		return
	}

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()
	for range ticker.C {
		runAll()
	}
}
