package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

// InsufficientCreditsError is returned before a billed operation runs when
// the workspace balance cannot cover its estimated cost.
type InsufficientCreditsError struct {
	WorkspaceID string         `json:"workspaceId"`
	Required    int64          `json:"required"`
	Available   int64          `json:"available"`
	Currency    model.Currency `json:"currency"`
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits in workspace %s: required %d, available %d (%s nanos)",
		e.WorkspaceID, e.Required, e.Available, e.Currency)
}

func (e *InsufficientCreditsError) AppError() *AppError {
	return New(ErrCodeInsufficientCredits, "Insufficient credits").
		WithDetails(e).
		WithCause(e)
}

// SpendingLimitExceededError lists every limit the pending spend would breach.
type SpendingLimitExceededError struct {
	WorkspaceID  string              `json:"workspaceId"`
	Currency     model.Currency      `json:"currency"`
	FailedLimits []model.FailedLimit `json:"failedLimits"`
}

func (e *SpendingLimitExceededError) Error() string {
	return fmt.Sprintf("spending limit exceeded in workspace %s: %d limit(s) failed",
		e.WorkspaceID, len(e.FailedLimits))
}

func (e *SpendingLimitExceededError) AppError() *AppError {
	return New(ErrCodeSpendingLimitExceeded, "Spending limit exceeded").
		WithDetails(e).
		WithCause(e)
}

// AsInsufficientCredits reports whether err carries an InsufficientCreditsError.
func AsInsufficientCredits(err error) (*InsufficientCreditsError, bool) {
	var target *InsufficientCreditsError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// AsSpendingLimitExceeded reports whether err carries a SpendingLimitExceededError.
func AsSpendingLimitExceeded(err error) (*SpendingLimitExceededError, bool) {
	var target *SpendingLimitExceededError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsPreflight reports whether err is one of the two errors that must reach
// the caller before a billed operation executes.
func IsPreflight(err error) bool {
	if _, ok := AsInsufficientCredits(err); ok {
		return true
	}
	_, ok := AsSpendingLimitExceeded(err)
	return ok
}

// IsTimeout reports whether err is a deadline overrun, either raw or wrapped
// by Timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeTimeout
}
