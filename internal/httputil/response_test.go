package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/djinilabs/helpmaton-sub006/internal/errors"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   apperrors.ErrorCode
	}{
		{
			name:       "insufficient credits",
			err:        &apperrors.InsufficientCreditsError{WorkspaceID: "ws-1", Required: 2, Available: 1, Currency: model.CurrencyUSD},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   apperrors.ErrCodeInsufficientCredits,
		},
		{
			name:       "spending limit exceeded",
			err:        &apperrors.SpendingLimitExceededError{WorkspaceID: "ws-1"},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   apperrors.ErrCodeSpendingLimitExceeded,
		},
		{
			name:       "reservation not reserved",
			err:        apperrors.ReservationNotReserved("res-1", model.ReservationStatusSettled),
			wantStatus: http.StatusConflict,
			wantCode:   apperrors.ErrCodeReservationNotReserved,
		},
		{
			name:       "timeout",
			err:        apperrors.Timeout("smtp", errors.New("i/o timeout")),
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   apperrors.ErrCodeTimeout,
		},
		{
			name:       "plain error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   apperrors.ErrCodeInternal,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tc.wantCode, body.Code)
		})
	}
}

func TestWriteErrorCarriesFailedLimits(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &apperrors.SpendingLimitExceededError{
		WorkspaceID: "ws-1",
		Currency:    model.CurrencyUSD,
		FailedLimits: []model.FailedLimit{{
			Scope: model.ScopeAgent, TimeFrame: model.TimeFrameWeekly, Limit: 10, Current: 11,
		}},
	})

	var body struct {
		Details struct {
			FailedLimits []model.FailedLimit `json:"failedLimits"`
		} `json:"details"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Details.FailedLimits, 1)
	assert.Equal(t, model.ScopeAgent, body.Details.FailedLimits[0].Scope)
	assert.Equal(t, int64(11), body.Details.FailedLimits[0].Current)
}
