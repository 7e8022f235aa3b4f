package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/commerce"
	"github.com/mihaimyh/billingsync/pkg/reconcile"
)

// Fetcher loads a commerce entity. It returns (nil, nil) when the entity
// does not exist.
type Fetcher interface {
	FetchEvent(ctx context.Context, ref commerce.ResourceIdentifier) (*commerce.Event, error)
}

// Reconciler syncs one domain event into the billing platform.
type Reconciler interface {
	Handle(ctx context.Context, ev commerce.Event) (*reconcile.Result, error)
}

// Config holds configuration for the admin API handler
type Config struct {
	// Store is the event ledger (required)
	Store reconcile.Store

	// Fetcher and Reconciler serve manual resyncs (required)
	Fetcher    Fetcher
	Reconciler Reconciler

	// URLParam reads a path parameter from the request.
	// Defaults to chi.URLParam.
	URLParam func(r *http.Request, key string) string

	// OnError handles errors (not found, upstream, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional. Defaults to NoopLogger.
	Logger billing.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Fetcher == nil {
		return fmt.Errorf("fetcher is required")
	}
	if c.Reconciler == nil {
		return fmt.Errorf("reconciler is required")
	}
	return nil
}

// NewHandler creates a new admin API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, billing.ConfigError("api.NewHandler", fmt.Errorf("%w: %v", billing.ErrNotConfigured, err))
	}
	if config.URLParam == nil {
		config.URLParam = chi.URLParam
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}
