// nxt-media serves the media on this device over HTTP: an auto-discovered
// listing, user-defined short routes to single files, and uploads.
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

	"go.uber.org/zap"

	"github.com/banux/nxt-media/internal/config"
	"github.com/banux/nxt-media/internal/library"
	"github.com/banux/nxt-media/internal/logging"
	"github.com/banux/nxt-media/internal/media"
	"github.com/banux/nxt-media/internal/mediacache"
	"github.com/banux/nxt-media/internal/metrics"
	"github.com/banux/nxt-media/internal/routes"
	"github.com/banux/nxt-media/internal/server"
	"github.com/banux/nxt-media/internal/uploads"
)

func main() {
	cfgPath := config.FindConfigFile()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "logging init error: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync() //nolint:errcheck
	log := logging.L()

	if cfgPath != "" {
		log.Info("config loaded", zap.String("path", cfgPath))
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatal("cannot create data directory", zap.String("dir", cfg.DataDir), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		lib      media.Library
		scanner  server.Rescanner
		libIndex *library.Index
	)
	if cfg.LibraryDir != "" {
		libIndex, err = library.New(cfg.LibraryDir, cfg.LibraryDB)
		if err != nil {
			log.Fatal("library index error", zap.Error(err))
		}
		defer libIndex.Close()
		if err := libIndex.Scan(ctx); err != nil {
			// The library may appear later; uploads still work meanwhile.
			log.Warn("initial library scan failed", zap.String("dir", cfg.LibraryDir), zap.Error(err))
		} else {
			log.Info("library indexed", zap.String("dir", libIndex.Root()))
		}
		lib, scanner = libIndex, libIndex
	} else {
		log.Info("no library_dir configured, listing uploads only")
	}

	store, err := uploads.New(cfg.UploadsDir)
	if err != nil {
		log.Fatal("uploads store error", zap.Error(err))
	}
	table := routes.New(cfg.RoutesFile)
	cache := mediacache.New(lib, store, mediacache.Options{
		LibraryTimeout: cfg.LibraryTimeout,
		ItemTimeout:    cfg.ItemTimeout,
		MaxImages:      cfg.MaxImages,
		MaxVideos:      cfg.MaxVideos,
	})

	srv, err := server.New(table, cache, store, server.Options{
		MaxUploadSize:    cfg.MaxUploadSize,
		MediaListTimeout: cfg.MediaListTimeout,
		Rescanner:        scanner,
	})
	if err != nil {
		log.Fatal("server init failed", zap.Error(err))
	}

	if libIndex != nil && cfg.RescanInterval > 0 {
		go rescanLoop(ctx, libIndex, cache, cfg.RescanInterval)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux(),
		}
		go func() {
			log.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           logging.Middleware(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
	}()

	log.Info("nxt-media starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("data_dir", cfg.DataDir),
		zap.String("uploads_dir", store.Dir()),
	)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}

// metricsMux serves Prometheus metrics and a health check on the optional
// metrics listener. The main listener always answers GET /api/health.
func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// rescanLoop re-indexes the library every interval and drops the media cache
// so the next listing reflects the new index.
func rescanLoop(ctx context.Context, ix *library.Index, cache *mediacache.Cache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ix.Scan(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.L().Warn("library rescan failed", zap.Error(err))
				continue
			}
			cache.Invalidate()
		}
	}
}
