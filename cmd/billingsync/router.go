package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpMiddleware "github.com/mihaimyh/billingsync/middleware/http"
	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/reconcile"
)

const healthTimeout = 2 * time.Second

type routerConfig struct {
	Push         http.Handler
	Admin        http.Handler
	Ledger       reconcile.Store
	Gatherer     prometheus.Gatherer
	WebhookToken string
	AdminToken   string
	Logger       billing.Logger
}

func newRouter(rc routerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(httpMiddleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(rc.Logger))

	push := rc.Push
	if rc.WebhookToken != "" {
		push = httpMiddleware.Middleware(httpMiddleware.Config{
			Token:    rc.WebhookToken,
			GetToken: httpMiddleware.FirstOf(httpMiddleware.FromBearer(), httpMiddleware.FromQuery("token")),
		})(push)
	}
	r.Method(http.MethodPost, "/", push)
	r.Method(http.MethodPost, "/events", push)

	// The admin API is only served when a token protects it.
	if rc.Admin != nil && rc.AdminToken != "" {
		r.Mount("/admin", httpMiddleware.Middleware(httpMiddleware.Config{Token: rc.AdminToken})(rc.Admin))
	}

	r.Get("/healthz", healthz(rc.Ledger))
	if rc.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(rc.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func healthz(store reconcile.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		code := http.StatusOK
		body := map[string]string{"status": "ok"}
		if err := store.Ping(ctx); err != nil {
			code = http.StatusServiceUnavailable
			body["status"] = "unavailable"
			body["ledger"] = err.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func requestLogger(logger billing.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				billing.F("request_id", httpMiddleware.RequestIDFrom(r.Context())),
				billing.F("method", r.Method),
				billing.F("path", r.URL.Path),
				billing.F("status", ww.Status()),
				billing.F("duration_ms", time.Since(start).Milliseconds()))
		})
	}
}
