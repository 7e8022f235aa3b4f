package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", ValidationError("reconcile.customer", ErrInvalidEntity), false},
		{"not found", NotFoundError("reconcile.order", ErrNotFound), false},
		{"config", ConfigError("zuora.New", ErrNotConfigured), false},
		{"auth", AuthError("token", ErrUnauthorized), true},
		{"remote 500", RemoteError("CreateProduct", http.StatusInternalServerError, ErrRemote), true},
		{"remote 429", RemoteError("CreateProduct", http.StatusTooManyRequests, ErrRemote), true},
		{"remote transport", RemoteError("CreateProduct", 0, context.DeadlineExceeded), true},
		{"remote 400", RemoteError("CreateProduct", http.StatusBadRequest, ErrRemote), false},
		{"unclassified", errors.New("boom"), true},
		{"wrapped validation", fmt.Errorf("variant SKU-1: %w", ValidationError("reconcile.plan", ErrInvalidEntity)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsRetryable_Joined(t *testing.T) {
	permanent := ValidationError("reconcile.plan", ErrInvalidEntity)
	transient := RemoteError("CreatePrice", http.StatusBadGateway, ErrRemote)

	assert.False(t, IsRetryable(errors.Join(permanent, permanent)))
	assert.True(t, IsRetryable(errors.Join(permanent, transient)))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("line item: %w", NotFoundError("op", ErrNotFound))))
	assert.Equal(t, KindRemote, KindOf(errors.New("plain")))
}

func TestError_Message(t *testing.T) {
	err := RemoteError("CreateOrder", http.StatusBadRequest, ErrRemote)
	assert.Equal(t, "CreateOrder: remote (status 400): billing platform API error", err.Error())
	assert.ErrorIs(t, err, ErrRemote)

	err = ValidationError("reconcile.customer", ErrInvalidEntity)
	assert.Equal(t, "reconcile.customer: validation: entity not eligible for sync", err.Error())
}
