// Package http provides HTTP middleware for shared-secret authentication
// and request ids.
package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// TokenExtractor extracts the presented token from an HTTP request
// Return empty string if no token was presented
type TokenExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Token is the shared secret requests must present (required)
	Token string

	// GetToken extracts the token from the request
	// Default: FromBearer()
	GetToken TokenExtractor

	// OnUnauthorized is called when the token is missing or wrong
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)
}

// Middleware creates an HTTP middleware that rejects requests without the
// configured token. An empty Config.Token rejects every request.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.GetToken == nil {
		config.GetToken = FromBearer()
	}
	secret := []byte(config.Token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := config.GetToken(r)
			if len(secret) == 0 || presented == "" || subtle.ConstantTimeCompare([]byte(presented), secret) != 1 {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates the token middleware (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// Common extractors for convenience

// FromBearer returns a TokenExtractor that reads "Authorization: Bearer <token>"
func FromBearer() TokenExtractor {
	return func(r *http.Request) string {
		auth := r.Header.Get("Authorization")
		const prefix = "bearer "
		if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
			return ""
		}
		return strings.TrimSpace(auth[len(prefix):])
	}
}

// FromHeader returns a TokenExtractor that reads a header verbatim
func FromHeader(headerName string) TokenExtractor {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(headerName))
	}
}

// FromQuery returns a TokenExtractor that reads a query parameter.
// Push subscriptions that cannot set headers carry the token in the
// endpoint URL.
func FromQuery(param string) TokenExtractor {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.URL.Query().Get(param))
	}
}

// FirstOf returns a TokenExtractor that tries each extractor in order
func FirstOf(extractors ...TokenExtractor) TokenExtractor {
	return func(r *http.Request) string {
		for _, extract := range extractors {
			if token := extract(r); token != "" {
				return token
			}
		}
		return ""
	}
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for the request id
	RequestIDKey ContextKey = "billingsync:requestID"

	// RequestIDHeader carries the request id in and out
	RequestIDHeader = "X-Request-ID"
)

// RequestID assigns every request an id, reusing a valid incoming
// X-Request-ID, and echoes it in the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// WithRequestID adds a request id to the context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestIDFrom returns the request id stored in ctx, or ""
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
