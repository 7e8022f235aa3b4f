package zuora

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

const (
	tokenPath              = "/oauth/token"
	defaultTokenLifetime   = 3600 * time.Second
	tokenExpiryMargin      = 60 * time.Second
	tokenExchangeTimeout   = 15 * time.Second
	singleflightTokenGroup = "access_token"
)

// tokenSource owns the bearer token. It is the only shared mutable state
// of the client.
type tokenSource struct {
	cfg        clientcredentials.Config
	httpClient *http.Client
	now        func() time.Time
	metrics    billing.Metrics
	logger     billing.Logger

	mu     sync.RWMutex
	token  string
	expiry time.Time

	group singleflight.Group
}

func newTokenSource(baseURL, clientID, clientSecret string, httpClient *http.Client,
	now func() time.Time, metrics billing.Metrics, logger billing.Logger) *tokenSource {
	return &tokenSource{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     baseURL + tokenPath,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
		now:        now,
		metrics:    metrics,
		logger:     logger,
	}
}

// Token returns a valid access token, exchanging client credentials when
// there is none or the current one has expired. Concurrent callers share
// a single in-flight exchange.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := s.cached(); ok {
		return tok, nil
	}

	v, err, _ := s.group.Do(singleflightTokenGroup, func() (interface{}, error) {
		if tok, ok := s.cached(); ok {
			return tok, nil
		}
		return s.exchange(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call re-authenticates.
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiry = time.Time{}
}

func (s *tokenSource) cached() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || !s.now().Before(s.expiry) {
		return "", false
	}
	return s.token, true
}

func (s *tokenSource) exchange(ctx context.Context) (string, error) {
	// The exchange is shared, so one caller's cancellation must not fail the others.
	exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenExchangeTimeout)
	defer cancel()
	exCtx = context.WithValue(exCtx, oauth2.HTTPClient, s.httpClient)

	tok, err := s.cfg.Token(exCtx)
	if err != nil {
		s.metrics.RecordTokenRefresh("error")
		s.logger.Error("billing token exchange failed", billing.F("error", err))

		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return "", &billing.Error{
				Kind:   billing.KindAuth,
				Op:     "token",
				Status: re.Response.StatusCode,
				Err:    fmt.Errorf("%w: %v", billing.ErrUnauthorized, err),
			}
		}
		return "", billing.AuthError("token", fmt.Errorf("%w: %v", billing.ErrUnauthorized, err))
	}

	lifetime := expiresIn(tok)
	now := s.now()

	s.mu.Lock()
	s.token = tok.AccessToken
	s.expiry = now.Add(lifetime - tokenExpiryMargin)
	s.mu.Unlock()

	s.metrics.RecordTokenRefresh("success")
	s.logger.Debug("billing token refreshed", billing.F("expires_in", lifetime.String()))
	return tok.AccessToken, nil
}

// expiresIn reads the raw expires_in of the token response. oauth2 only
// exposes it folded into an absolute Expiry based on the wall clock.
func expiresIn(tok *oauth2.Token) time.Duration {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return defaultTokenLifetime
}
