package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/automaxprocs/maxprocs"

	cfgpkg "github.com/local/pagepicker/internal/config"
	"github.com/local/pagepicker/internal/document"
	"github.com/local/pagepicker/internal/limiter"
	logpkg "github.com/local/pagepicker/internal/logger"
	"github.com/local/pagepicker/internal/metrics"
	"github.com/local/pagepicker/internal/orchestrator"
	"github.com/local/pagepicker/internal/pdftest"
	"github.com/local/pagepicker/internal/preview"
	"github.com/local/pagepicker/internal/session"
	"github.com/local/pagepicker/internal/statuscheck"
	"github.com/local/pagepicker/internal/storage"
	"github.com/local/pagepicker/internal/store"
	web "github.com/local/pagepicker/internal/web"
)

func main() {
	cfg, err := cfgpkg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		log.Debug().Msgf(format, args...)
	}))
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Blob storage
	cipher := storage.NewCipher(cfg.Storage.EncryptionKey)
	var (
		blobs    storage.Blobs
		pinger   statuscheck.Pinger
		fetcher  *storage.Fetcher
		maxFetch = int64(cfg.Storage.MaxFetchMB) << 20
	)
	switch cfg.Storage.Backend {
	case "s3":
		s3s, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:          cfg.Storage.Bucket,
			Prefix:          cfg.Storage.Prefix,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
		}, cipher)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init s3 storage")
		}
		blobs, pinger = s3s, s3s
		fetcher = storage.NewFetcher(s3s.Client(), storage.S3Scope{Bucket: cfg.Storage.Bucket, Prefix: cfg.Storage.Prefix}, maxFetch)
	default:
		ls, err := storage.NewLocalStore(cfg.Storage.Dir, cipher)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init local storage")
		}
		ls.CleanupTemps(time.Hour)
		blobs, pinger = ls, ls
		fetcher = storage.NewFetcher(nil, storage.S3Scope{}, maxFetch)
	}

	// Session records
	var (
		records     session.Records
		recordsPing statuscheck.Pinger
	)
	if cfg.Redis.URL != "" {
		rr, err := store.NewRedisRecords(cfg.Redis.URL, cfg.Session.TTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rr.Close()
		records, recordsPing = rr, rr
	} else {
		records = store.NewMemory()
	}

	lim := limiter.New(cfg.Limits.Concurrency)
	deps := session.Dependencies{
		Backend: session.NewPDFBackend(document.New(), cfg.Preview.SnippetPages, cfg.Preview.SnippetLen),
		Blobs:   blobs,
		Records: records,
		Limiter: lim,
	}
	if cfg.Storage.AllowRefs {
		deps.Fetcher = fetcher
	}
	sessions := session.NewManager(deps, session.Options{Booklet: cfg.Features.Booklet})

	mux := http.NewServeMux()
	orchestrator.New(orchestrator.Dependencies{
		Sessions:       sessions,
		MaxUploadBytes: int64(cfg.HTTP.MaxUploadMB) << 20,
		Preview:        preview.Options{DPI: cfg.Preview.DPI, Quality: cfg.Preview.Quality},
		Limiter:        lim,
	}).RegisterRoutes(mux)
	web.New(web.Options{Booklet: cfg.Features.Booklet, MaxUploadMB: cfg.HTTP.MaxUploadMB}).RegisterRoutes(mux)

	sample := pdftest.Build(1)
	checker := statuscheck.New(statuscheck.Options{
		Records:     recordsPing,
		Storage:     pinger,
		StorageName: cfg.Storage.Backend,
		Renderer:    func() error { return preview.Available(sample) },
		Workers:     lim,
		WorkerKeys:  []string{"load", "extract", "preview"},
	})
	mux.Handle("GET /status", checker.Handler())
	mux.Handle("GET /metrics", metrics.Handler())

	// Idle session sweeper
	go func() {
		ticker := time.NewTicker(cfg.Session.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sessions.Sweep(ctx, cfg.Session.TTL)
			}
		}
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	go func() {
		log.Info().Str("storage", cfg.Storage.Backend).Bool("redis", cfg.Redis.URL != "").Bool("booklet", cfg.Features.Booklet).Int("concurrency", lim.Max()).Msgf("HTTP server listening on :%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}
