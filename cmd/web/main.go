package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cbtportal/internal/app"
	"cbtportal/internal/db"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := app.LoadConfig()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	dbConn, err := db.Open(ctx, cfg.DBDriver, cfg.DBDSN, cfg.DBConfig())
	cancel()
	if err != nil {
		logger.Error("database error", "driver", string(cfg.DBDriver), "err", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	router, err := app.NewRouter(cfg, dbConn)
	if err != nil {
		logger.Error("build router", "err", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		logger.Info("shutting down server")
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server forced to shutdown", "err", err)
		}
	}()

	logger.Info("cbtportal web listening",
		"address", cfg.HTTPAddr,
		"env", cfg.AppEnv,
		"db_driver", string(cfg.DBDriver),
		"band_mode", cfg.BandPolicy.String(),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
