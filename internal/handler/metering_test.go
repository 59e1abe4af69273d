package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/djinilabs/helpmaton-sub006/internal/credits"
	apperrors "github.com/djinilabs/helpmaton-sub006/internal/errors"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

type MockMetering struct {
	mock.Mock
}

func (m *MockMetering) Reserve(ctx context.Context, req credits.ReserveRequest) (*model.CreditReservation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditReservation), args.Error(1)
}

func (m *MockMetering) Settle(ctx context.Context, res *model.CreditReservation, req credits.SettleRequest) {
	m.Called(ctx, res, req)
}

func (m *MockMetering) Release(ctx context.Context, res *model.CreditReservation, workspaceID string) {
	m.Called(ctx, res, workspaceID)
}

func meteringRouter(h *MeteringHandler) http.Handler {
	r := chi.NewRouter()
	r.Mount("/ops/metering", h.Routes())
	return r
}

const reserveBody = `{"workspaceId":"ws-1","provider":"openai","model":"gpt-4o","estimate":{"promptChars":400,"messageCount":1}}`

func TestMeteringHandler_Reserve(t *testing.T) {
	expected := credits.ReserveRequest{
		WorkspaceID: "ws-1",
		Provider:    "openai",
		Model:       "gpt-4o",
	}
	expected.Estimate.PromptChars = 400
	expected.Estimate.MessageCount = 1

	t.Run("created", func(t *testing.T) {
		m := new(MockMetering)
		m.On("Reserve", mock.Anything, expected).
			Return(&model.CreditReservation{ReservationID: "res-1", ReservedAmount: dollar}, nil)

		rec := serve(meteringRouter(NewMeteringHandler(m, credits.NewToggleFlags(true))), http.MethodPost, "/ops/metering/reservations", reserveBody)
		require.Equal(t, http.StatusCreated, rec.Code)

		var body struct {
			Reservation model.CreditReservation `json:"reservation"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "res-1", body.Reservation.ReservationID)
	})

	t.Run("nothing held", func(t *testing.T) {
		m := new(MockMetering)
		m.On("Reserve", mock.Anything, mock.Anything).Return(nil, nil)

		rec := serve(meteringRouter(NewMeteringHandler(m, credits.NewToggleFlags(true))), http.MethodPost, "/ops/metering/reservations", reserveBody)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"reservation":null}`, rec.Body.String())
	})

	t.Run("insufficient credits is 402", func(t *testing.T) {
		m := new(MockMetering)
		m.On("Reserve", mock.Anything, mock.Anything).Return(nil, &apperrors.InsufficientCreditsError{
			WorkspaceID: "ws-1", Required: 2 * dollar, Available: dollar, Currency: model.CurrencyUSD,
		})

		rec := serve(meteringRouter(NewMeteringHandler(m, credits.NewToggleFlags(true))), http.MethodPost, "/ops/metering/reservations", reserveBody)
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		assert.Contains(t, rec.Body.String(), `"available":1000000000`)
	})

	t.Run("missing model", func(t *testing.T) {
		rec := serve(meteringRouter(NewMeteringHandler(new(MockMetering), credits.NewToggleFlags(true))),
			http.MethodPost, "/ops/metering/reservations", `{"workspaceId":"ws-1","provider":"openai"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMeteringHandler_SettleAndRelease(t *testing.T) {
	m := new(MockMetering)
	usage := model.TokenUsage{PromptTokens: 10, CompletionTokens: 5}
	m.On("Settle", mock.Anything, &model.CreditReservation{ReservationID: "res-1"}, credits.SettleRequest{
		WorkspaceID: "ws-1", Provider: "openai", Model: "gpt-4o", Usage: usage,
	}).Return()
	m.On("Release", mock.Anything, &model.CreditReservation{ReservationID: "res-2"}, "ws-1").Return()
	router := meteringRouter(NewMeteringHandler(m, credits.NewToggleFlags(true)))

	rec := serve(router, http.MethodPost, "/ops/metering/reservations/res-1/settle",
		`{"workspaceId":"ws-1","provider":"openai","model":"gpt-4o","usage":{"promptTokens":10,"completionTokens":5}}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(router, http.MethodPost, "/ops/metering/reservations/res-2/release", `{"workspaceId":"ws-1"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	m.AssertExpectations(t)
}

func TestMeteringHandler_DeductionFlag(t *testing.T) {
	flags := credits.NewToggleFlags(true)
	router := meteringRouter(NewMeteringHandler(new(MockMetering), flags))

	rec := serve(router, http.MethodPut, "/ops/metering/flags/credit-deduction", `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, flags.CreditDeductionEnabled())

	rec = serve(router, http.MethodGet, "/ops/metering/flags/credit-deduction", "")
	assert.JSONEq(t, `{"enabled":false}`, rec.Body.String())

	rec = serve(router, http.MethodPut, "/ops/metering/flags/credit-deduction", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
