package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jefe/internal/config"
	"jefe/internal/handlers"
	"jefe/internal/httpserver"
	"jefe/internal/logging"
	"jefe/internal/repos"
	"jefe/internal/services"
)

func main() {
	cfg := config.LoadServer()
	logger := logging.NewWithFile(cfg.LogLevel, cfg.LogFile)
	defer logger.Close()

	repo, err := repos.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Errorf("open database %s: %v", cfg.DatabaseURL, err)
		os.Exit(1)
	}
	defer repo.Close()

	if cfg.APIKey == "" {
		logger.Warnf("JEFE_API_KEY is empty; sync endpoints are unauthenticated")
	}

	svc := services.NewSyncService(repo, logger)
	h := handlers.NewSyncHandler(svc, logger, cfg.Version)
	router := httpserver.NewRouter(cfg, h, logger)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Infof("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
}
