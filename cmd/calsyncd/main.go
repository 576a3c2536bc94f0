package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caldavkit/calsync/internal/clock"
	"github.com/caldavkit/calsync/internal/config"
	"github.com/caldavkit/calsync/internal/logging"
	"github.com/caldavkit/calsync/internal/reconciler"
	"github.com/caldavkit/calsync/internal/syncstore"
	"github.com/caldavkit/calsync/internal/syncstore/memstore"
	"github.com/caldavkit/calsync/internal/syncstore/sqlitestore"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, "calsyncd")

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("store init failed")
	}
	defer closeStore()

	adapter := mustAdapter()

	backoff := syncstore.BackoffPolicy{
		InitialMS:  cfg.Backoff.InitialMS,
		MaxMS:      cfg.Backoff.MaxMS,
		Multiplier: cfg.Backoff.Multiplier,
	}

	r := reconciler.New(store, adapter, clock.System{}, backoff, logger).WithLeaseTimeout(cfg.LeaseTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Tick(ctx); err != nil {
					logger.Error().Err(err).Msg("tick failed")
				}
			}
		}
	}()

	logger.Info().Dur("tick_interval", cfg.TickInterval).Msg("reconciler started")

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cancel()
	logger.Info().Msg("bye")
}

// openStore picks the Store backend per CALSYNC_STORAGE_TYPE. The
// in-memory backend loses its queue on restart; sqlite is durable.
func openStore(cfg *config.Config, logger zerolog.Logger) (syncstore.Store, func(), error) {
	switch cfg.Storage.Type {
	case "sqlite":
		s, err := sqlitestore.New(cfg.Storage.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return memstore.New(), func() {}, nil
	}
}

// mustAdapter has no default: raw CalDAV transport is out of scope for
// this module (spec §1). An embedding application supplies its own
// RemoteAdapter and calls reconciler.New directly instead of running
// this binary unmodified.
func mustAdapter() reconciler.RemoteAdapter {
	log.Fatal("calsyncd: no RemoteAdapter wired; embed this module and supply one via reconciler.New")
	return nil
}
