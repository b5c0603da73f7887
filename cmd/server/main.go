package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"SendLater/internal/api"
	"SendLater/internal/config"
	"SendLater/internal/db"
	"SendLater/internal/email"
	"SendLater/internal/metrics"
	"SendLater/internal/scheduling"
	"SendLater/internal/vault"
	"SendLater/internal/worker"
)

func main() {

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		bootLogger, _ := zap.NewProduction()
		bootLogger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	var logger *zap.Logger
	if cfg.LogDevelopment {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	// ------------------------------------------------
	// Credential Vault
	// ------------------------------------------------
	creds, err := vault.New(vault.Options{
		Mode:            vault.Mode(cfg.VaultMode),
		Key:             cfg.VaultKey,
		KeyringDir:      cfg.KeyringDir,
		KeyringPassword: cfg.KeyringPassword,
	})
	if err != nil {
		logger.Fatal("credential vault unavailable", zap.Error(err))
	}
	if cfg.VaultMode == string(vault.ModeBase64) {
		logger.Warn("VAULT_MODE=base64 only obfuscates stored credentials; use sealed or keyring in production")
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Email Sender
	// ------------------------------------------------
	var sender email.Deliverer
	switch cfg.DeliveryMode {
	case config.DeliverySMTP:
		sender = &email.SMTPRelay{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			Timeout:  cfg.SendTimeout,
		}
		logger.Warn("delivering through local SMTP relay", zap.String("host", cfg.SMTPHost), zap.Int("port", cfg.SMTPPort))
	default:
		sender = email.NewGmailSender(cfg.GmailSendURL, cfg.SendTimeout)
	}

	// ------------------------------------------------
	// Rate Limiter
	// ------------------------------------------------
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)

	// ------------------------------------------------
	// Dispatcher
	// ------------------------------------------------
	dispatcher := &worker.Dispatcher{
		Store:   store,
		Vault:   creds,
		Sender:  sender,
		Limiter: limiter,
		Log:     logger,
		Opts: worker.Options{
			BatchSize:    cfg.BatchSize,
			Workers:      cfg.WorkerCount,
			ClaimTimeout: cfg.ClaimTimeout,
			Retry: email.RetryPolicy{
				Attempts:        cfg.RetryAttempts,
				InitialInterval: 2 * time.Second,
				MaxInterval:     30 * time.Second,
			},
		},
	}

	dispatchDone := make(chan struct{})
	if cfg.DispatchInterval > 0 {
		go func() {
			defer close(dispatchDone)
			dispatcher.Run(ctx, cfg.DispatchInterval)
		}()
	} else {
		close(dispatchDone)
		logger.Info("internal dispatch timer disabled; batches run only via GET /pending")
	}

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Service: &scheduling.Service{
			Store: store,
			Vault: creds,
			Log:   logger,
		},
		Dispatcher:  dispatcher,
		WorkerToken: cfg.WorkerToken,
		Log:         logger,
	}

	apiServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           apiHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests, then let an in-flight batch record its outcomes
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		logger.Warn("dispatcher did not stop in time")
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
