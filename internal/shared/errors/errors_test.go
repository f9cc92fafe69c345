package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestError_Error(t *testing.T) {
	t.Run("without underlying error", func(t *testing.T) {
		err := New(CodeNotFound, "profile not found")
		assert.Equal(t, "NOT_FOUND: profile not found", err.Error())
	})

	t.Run("with underlying error", func(t *testing.T) {
		underlying := errors.New("connection refused")
		err := Wrap(CodeInternal, "auth backend error", underlying)
		assert.Contains(t, err.Error(), "INTERNAL: auth backend error")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("original error")
	err := Wrap(CodeInternal, "wrapped", underlying)

	assert.True(t, errors.Is(err, underlying))
}

func TestError_Is(t *testing.T) {
	err1 := New(CodeNotFound, "not found 1")
	err2 := New(CodeNotFound, "not found 2")
	err3 := New(CodeInternal, "internal")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestError_WithDetails(t *testing.T) {
	err := New(CodeInvalidInput, "validation failed")
	details := map[string]string{"field": "email", "reason": "invalid format"}

	withDetails := err.WithDetails(details)

	assert.Equal(t, err.Code, withDetails.Code)
	assert.Equal(t, err.Message, withDetails.Message)
	assert.Equal(t, details, withDetails.Details)
}

func TestError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		code     Code
		expected int
	}{
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeInvalidCredentials, http.StatusUnauthorized},
		{CodeTokenExpired, http.StatusUnauthorized},
		{CodeEmailNotVerified, http.StatusForbidden},
		{CodeUserDisabled, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeAlreadyExists, http.StatusConflict},
		{CodeLoginInFlight, http.StatusConflict},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeCanceled, 499},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "test")
			assert.Equal(t, tt.expected, err.HTTPStatusCode())
		})
	}
}

func TestError_GRPCStatus(t *testing.T) {
	tests := []struct {
		code     Code
		expected codes.Code
	}{
		{CodeInvalidInput, codes.InvalidArgument},
		{CodeInvalidCredentials, codes.Unauthenticated},
		{CodeEmailNotVerified, codes.PermissionDenied},
		{CodeNotFound, codes.NotFound},
		{CodeRateLimited, codes.ResourceExhausted},
		{CodeInternal, codes.Internal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "test")
			assert.Equal(t, tt.expected, err.GRPCStatus().Code())
		})
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeEmailNotVerified, "verify first")

	assert.True(t, IsCode(err, CodeEmailNotVerified))
	assert.False(t, IsCode(err, CodeInternal))
	assert.False(t, IsCode(errors.New("plain"), CodeEmailNotVerified))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsCode(wrapped, CodeEmailNotVerified))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, CodeNotFound, GetCode(New(CodeNotFound, "missing")))
	assert.Equal(t, CodeInternal, GetCode(errors.New("plain")))
}

func TestUserMessage(t *testing.T) {
	t.Run("coded error surfaces message only", func(t *testing.T) {
		err := Wrap(CodeEmailNotVerified, "Please verify your email before logging in.", errors.New("backend said 403"))
		assert.Equal(t, "Please verify your email before logging in.", UserMessage(err))
	})

	t.Run("plain error surfaces error string", func(t *testing.T) {
		err := errors.New("network is unreachable")
		assert.Equal(t, "network is unreachable", UserMessage(err))
	})
}
