package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeReservationNotFound, "Reservation r1 not found")
		assert.Equal(t, "RESERVATION_NOT_FOUND: Reservation r1 not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("could not serialize access")
		err := Wrap(ErrCodeDatabase, "Database error", cause)
		assert.Contains(t, err.Error(), "DATABASE_ERROR")
		assert.Contains(t, err.Error(), "Database error")
		assert.Contains(t, err.Error(), "could not serialize access")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "amount", "reason": "negative"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"InvalidToken", func() *AppError { return InvalidToken("test") }, ErrCodeInvalidToken},
		{"NotFound", func() *AppError { return NotFound("Workspace") }, ErrCodeNotFound},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("amount", "negative") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("workspaceId") }, ErrCodeMissingRequired},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded("slow down") }, ErrCodeRateLimitExceeded},
		{"ReservationNotFound", func() *AppError { return ReservationNotFound("r1") }, ErrCodeReservationNotFound},
		{"ReservationNotReserved", func() *AppError { return ReservationNotReserved("r1", "settled") }, ErrCodeReservationNotReserved},
		{"UnknownModel", func() *AppError { return UnknownModel("openai", "gpt-x") }, ErrCodeUnknownModel},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestDatabase(t *testing.T) {
	t.Run("wraps database error", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Database(cause)
		assert.Equal(t, ErrCodeDatabase, err.Code)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestExternal(t *testing.T) {
	t.Run("wraps external service error", func(t *testing.T) {
		cause := errors.New("timeout")
		err := External("SMTP", cause)
		assert.Equal(t, ErrCodeExternal, err.Code)
		assert.Contains(t, err.Message, "SMTP")
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := NotFound("Workspace")
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		err := errors.New("standard error")
		extracted, ok := AsAppError(err)
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})

	t.Run("converts wrapped InsufficientCreditsError", func(t *testing.T) {
		typed := &InsufficientCreditsError{
			WorkspaceID: "ws-1",
			Required:    5_000_000_000,
			Available:   1_000_000_000,
			Currency:    model.CurrencyUSD,
		}
		err := fmt.Errorf("reserve credits: %w", typed)

		appErr, ok := AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, ErrCodeInsufficientCredits, appErr.Code)
		assert.Equal(t, typed, appErr.Details)
		assert.ErrorIs(t, appErr, typed)
	})

	t.Run("converts wrapped SpendingLimitExceededError", func(t *testing.T) {
		typed := &SpendingLimitExceededError{
			WorkspaceID: "ws-1",
			Currency:    model.CurrencyEUR,
			FailedLimits: []model.FailedLimit{
				{Scope: model.ScopeWorkspace, TimeFrame: model.TimeFrameDaily, Limit: 100, Current: 101},
			},
		}
		err := fmt.Errorf("check limits: %w", typed)

		appErr, ok := AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, ErrCodeSpendingLimitExceeded, appErr.Code)
		details, ok := appErr.Details.(*SpendingLimitExceededError)
		require.True(t, ok)
		assert.Len(t, details.FailedLimits, 1)
	})

	t.Run("prefers the outermost AppError", func(t *testing.T) {
		inner := &InsufficientCreditsError{WorkspaceID: "ws-1"}
		outer := Wrap(ErrCodeInternal, "reserve failed", inner)

		appErr, ok := AsAppError(outer)
		require.True(t, ok)
		assert.Equal(t, ErrCodeInternal, appErr.Code)
	})
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"AppError", NotFound("Agent"), ErrCodeNotFound},
		{"standard error", errors.New("standard error"), ErrCodeInternal},
		{"insufficient credits", &InsufficientCreditsError{}, ErrCodeInsufficientCredits},
		{"wrapped spending limit", fmt.Errorf("x: %w", &SpendingLimitExceededError{}), ErrCodeSpendingLimitExceeded},
		{"timeout", Timeout("smtp", errors.New("i/o timeout")), ErrCodeTimeout},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, GetCode(tc.err))
		})
	}
}

func TestReservationMessages(t *testing.T) {
	t.Run("not reserved names the current status", func(t *testing.T) {
		err := ReservationNotReserved("r1", model.ReservationStatusSettled)
		assert.Equal(t, "Reservation r1 is settled", err.Message)
	})

	t.Run("unknown model names provider and model", func(t *testing.T) {
		err := UnknownModel("anthropic", "claude-x")
		assert.Equal(t, "No pricing for anthropic/claude-x", err.Message)
	})

	t.Run("not found formats resource name", func(t *testing.T) {
		assert.Equal(t, "Workspace not found", NotFound("Workspace").Message)
	})
}
