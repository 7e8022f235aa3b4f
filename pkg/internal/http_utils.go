// Package internal holds HTTP helpers shared by the push and admin handlers.
package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

var (
	// ErrPayloadTooLarge is returned when the request body exceeds the size limit
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrEmptyBody is returned when the request carries no body
	ErrEmptyBody = errors.New("empty body")
)

// ReadBodyStrict reads at most limit bytes of the request body and rejects
// empty bodies. Close failures are logged to logger, which may be nil.
func ReadBodyStrict(w http.ResponseWriter, r *http.Request, limit int64, logger billing.Logger) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	body, err := io.ReadAll(r.Body)
	defer func() {
		if closeErr := r.Body.Close(); closeErr != nil && logger != nil {
			logger.Warn("request body close failed", billing.F("error", closeErr))
		}
	}()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w (max %d bytes)", ErrPayloadTooLarge, limit)
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	return body, nil
}

// WriteJSON writes a JSON response with proper headers
func WriteJSON(w http.ResponseWriter, code int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, code int, msg string) {
	_ = WriteJSON(w, code, ErrorResponse{Error: msg})
}

// SetSecurityHeaders marks a response as uncacheable and not sniffable.
func SetSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
