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

	"ar-frame/internal/broadcast"
	"ar-frame/internal/config"
	"ar-frame/internal/handlers"
	httpapi "ar-frame/internal/http"
	"ar-frame/internal/logging"
	"ar-frame/internal/storage"
	"ar-frame/internal/store"
	"ar-frame/internal/sweeper"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	backend, err := openBackend(cfg)
	if err != nil {
		log.Errorf("open storage backend: %v", err)
		os.Exit(1)
	}
	defer backend.Close()

	reg := store.NewRegistry(backend)
	if err := reg.Load(); err != nil {
		log.Errorf("load session registry: %v", err)
		os.Exit(1)
	}

	hub := broadcast.NewHub(cfg.EventBuffer)
	defer hub.Close()

	st := store.New(backend, reg, hub, cfg.LockWait)
	h := handlers.New(reg, st, hub, log)
	r := httpapi.NewRouter(cfg, log, h)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sw := sweeper.New(reg, st, log.Named("sweep"), cfg.SweepInterval, cfg.RetainFor)
	go sw.Run(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}
	go func() {
		log.Infof("ar-frame listening on %s (backend=%s)", srv.Addr, cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Infof("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown: %v", err)
	}
}

func openBackend(cfg config.Config) (storage.Backend, error) {
	switch cfg.Backend {
	case "fs":
		return storage.NewFS(cfg.DataDir)
	case "sqlite":
		return storage.NewSQLite(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
