package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ticket_desk"
	_ "ticket_desk/docs"
	"ticket_desk/internal/clock"
	"ticket_desk/internal/config"
	"ticket_desk/internal/handlers"
	"ticket_desk/internal/hub"
	"ticket_desk/internal/logger"
	"ticket_desk/internal/repository"
	"ticket_desk/internal/repository/db"
	"ticket_desk/internal/server"
	"ticket_desk/internal/service"

	"github.com/spf13/pflag"
)

const (
	shutdownTimeout = 10 * time.Second
	// slack on top of the check timeout for writing the scan response
	responseSlack = 10 * time.Second
)

// @title                       ticket_desk API
// @version                     0.9.0
// @description                 Offline-tolerant ticket-check terminal.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	log := logger.Get(cfg.LogLevel)
	log.Infow("starting", "version", ticket_desk.Version, "port", cfg.Port, "data_dir", cfg.DataDir)

	if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0o700); err != nil {
		log.Fatalw("failed to create database directory", "err", err)
	}
	sqlDB, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	repos, err := repository.NewRepository(context.Background(), sqlDB, cfg.DataDir)
	if err != nil {
		log.Fatalw("failed to load preferences", "err", err)
	}

	events := hub.New()
	services := service.NewService(service.Deps{
		Config:     cfg,
		Repos:      repos,
		Hub:        events,
		Clock:      clock.Real(),
		HTTPClient: &http.Client{Timeout: cfg.Sync.Timeout},
		AppVersion: ticket_desk.Version,
		Log:        log,
	})
	apiHandler := handlers.NewHandler(services, events, log)

	srv := &server.Server{WriteTimeout: cfg.Scan.CheckTimeout + responseSlack}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	waitForShutdown(services, srv, log)
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(services *service.Service, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop tickers and card timers; a running sync pass is left to finish
	services.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
	_ = log.Sync()
}
