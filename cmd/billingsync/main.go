// Package main runs the billing sync service: a Pub/Sub push endpoint that
// reconciles commerce products, customers and orders into the billing
// platform.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mihaimyh/billingsync/pkg/api"
	"github.com/mihaimyh/billingsync/pkg/billing"
	zlog "github.com/mihaimyh/billingsync/pkg/billing/logger/zerolog"
	prommetrics "github.com/mihaimyh/billingsync/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/billingsync/pkg/billing/zuora"
	"github.com/mihaimyh/billingsync/pkg/commerce"
	"github.com/mihaimyh/billingsync/pkg/config"
	"github.com/mihaimyh/billingsync/pkg/reconcile"
	"github.com/mihaimyh/billingsync/pkg/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "billingsync: %v\n", err)
		os.Exit(1)
	}

	logger := zlog.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped", billing.F("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zlog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	var metrics billing.Metrics = &billing.NoopMetrics{}
	if cfg.Metrics.Enabled {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = prommetrics.NewMetrics(reg, cfg.Metrics.Namespace)
	}

	events, err := openLedger(ctx, cfg.Ledger, logger)
	if err != nil {
		return err
	}
	defer events.close()

	billingClient, err := zuora.New(billing.Config{
		BaseURL:      cfg.Billing.BaseURL,
		ClientID:     cfg.Billing.ClientID,
		ClientSecret: cfg.Billing.ClientSecret,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}

	commerceClient, err := commerce.NewClient(commerce.Config{
		APIURL:       cfg.Commerce.APIURL,
		AuthURL:      cfg.Commerce.AuthURL,
		ProjectKey:   cfg.Commerce.ProjectKey,
		ClientID:     cfg.Commerce.ClientID,
		ClientSecret: cfg.Commerce.ClientSecret,
		Scopes:       cfg.Commerce.Scopes,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	reconciler := reconcile.New(billingClient, reconcile.Config{
		Locale:      cfg.Sync.Locale,
		Currency:    cfg.Sync.Currency,
		Concurrency: cfg.Sync.VariantConcurrency,
		Logger:      logger,
		Metrics:     metrics,
	})

	push, err := webhook.NewHandler(webhook.Config{
		ProjectKey: cfg.Commerce.ProjectKey,
		Fetcher:    commerceClient,
		Reconciler: reconciler,
		Store:      events,
		Logger:     logger,
		Metrics:    metrics,
		ClaimLease: cfg.Sync.ClaimLease,
	})
	if err != nil {
		return err
	}

	admin, err := api.NewHandler(api.Config{
		Store:      events,
		Fetcher:    commerceClient,
		Reconciler: reconciler,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if cfg.Server.WebhookToken == "" {
		logger.Warn("WEBHOOK_TOKEN is not set, the push endpoint accepts unauthenticated requests")
	}
	if cfg.Server.AdminToken == "" {
		logger.Info("ADMIN_TOKEN is not set, the admin API is disabled")
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: newRouter(routerConfig{
			Push:         push,
			Admin:        admin.Routes(),
			Ledger:       events,
			Gatherer:     reg,
			WebhookToken: cfg.Server.WebhookToken,
			AdminToken:   cfg.Server.AdminToken,
			Logger:       logger,
		}),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http listen",
			billing.F("addr", cfg.Server.Addr),
			billing.F("ledger", cfg.Ledger.Backend),
			billing.F("project_key", cfg.Commerce.ProjectKey))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received, draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("service stopped")
	return nil
}
