package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"wordbin/cfg"
	"wordbin/pkg/domain"
	"wordbin/svc/api"
	"wordbin/svc/db"
	"wordbin/svc/files"
	"wordbin/svc/lim"
	"wordbin/svc/store"
	"wordbin/svc/util"
)

func main() {
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		util.InitLog("info", true)
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	util.InitLog(c.LogLevel, c.Environment == "development")
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	util.Info().Msg("starting wordbin")

	if err := os.MkdirAll(c.DataDir, 0o750); err != nil {
		util.Fatal().Err(err).Str("dir", c.DataDir).Msg("failed to create data dir")
		os.Exit(1)
	}
	fileStore, err := files.NewStore(c.DataDir)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize file store")
		os.Exit(1)
	}

	snap := db.NewSnapshot(c.SnapshotPath())
	initial, err := snap.Load()
	if err != nil {
		if errors.Is(err, domain.ErrSnapshotCorrupt) {
			// Treating a corrupt snapshot as empty would be silent data
			// loss, so refuse to start instead.
			util.Fatal().Err(err).Str("path", c.SnapshotPath()).Msg("snapshot unreadable, refusing to start")
			os.Exit(1)
		}
		util.Fatal().Err(err).Msg("failed to load snapshot")
		os.Exit(1)
	}
	util.Info().Int("pastes", len(initial)).Str("path", c.SnapshotPath()).Msg("snapshot loaded")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c.RedisTimeout)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis required in production when configured")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode)")
		} else {
			util.Info().Msg("redis connected")
			defer rdb.Close()
		}
	}

	// A nil *db.Redis must stay a nil interface for the store's guard to
	// fire, hence the indirection.
	var pasteCache store.PasteCache
	if rdb != nil {
		pasteCache = rdb
	}
	st, err := store.New(initial, snap, fileStore, pasteCache, domain.RealClock{}, c.CacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize paste store")
		os.Exit(1)
	}

	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, rdb, c.TrustedProxies)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Msg("rate limiter initialized")

	server := api.NewServer(c, st, fileStore, limiter, rdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.SweepInterval > 0 {
		st.StartSweeper(ctx, c.SweepInterval)
	}

	if c.Environment == "development" {
		go func() {
			util.Info().Msg("starting pprof server on :6060")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				util.Warn().Err(err).Msg("pprof server failed")
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	util.Info().Msg("shutdown complete")
}
