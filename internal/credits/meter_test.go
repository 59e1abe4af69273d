package credits

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/djinilabs/helpmaton-sub006/internal/errors"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

type recordingNotifier struct {
	mu   sync.Mutex
	errs []error
}

func (n *recordingNotifier) Dispatch(_ context.Context, _ string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func TestShouldAdjust(t *testing.T) {
	hold := &model.CreditReservation{ReservationID: "res-1", ReservedAmount: dollar}
	byok := &model.CreditReservation{ReservationID: model.BYOKReservationID}
	some := model.TokenUsage{CompletionTokens: 1}

	tests := []struct {
		name    string
		enabled bool
		res     *model.CreditReservation
		usage   model.TokenUsage
		want    bool
	}{
		{"all conditions hold", true, hold, some, true},
		{"flag off", false, hold, some, false},
		{"no reservation", true, nil, some, false},
		{"empty id", true, &model.CreditReservation{}, some, false},
		{"byok sentinel", true, byok, some, false},
		{"zero usage", true, hold, model.TokenUsage{}, false},
		{"cached tokens only", true, hold, model.TokenUsage{CachedPromptTokens: 10}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldAdjust(tc.enabled, tc.res, tc.usage))
		})
	}
}

func TestMeterReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("pre-flight error is returned and owners notified", func(t *testing.T) {
		r := new(MockReserver)
		preflight := &apperrors.InsufficientCreditsError{WorkspaceID: "ws-1", Required: dollar}
		r.On("ValidateAndReserve", ctx, reserveReq).Return(nil, preflight)
		n := &recordingNotifier{}

		res, err := NewMeter(r, StaticFlags{CreditDeduction: true}, WithNotifier(n)).Reserve(ctx, reserveReq)
		assert.Nil(t, res)
		assert.Same(t, preflight, err)
		require.Len(t, n.errs, 1)
		assert.Same(t, preflight, n.errs[0])
	})

	t.Run("other errors are not notified", func(t *testing.T) {
		r := new(MockReserver)
		r.On("ValidateAndReserve", ctx, reserveReq).Return(nil, errors.New("db down"))
		n := &recordingNotifier{}

		_, err := NewMeter(r, StaticFlags{}, WithNotifier(n)).Reserve(ctx, reserveReq)
		assert.Error(t, err)
		assert.Empty(t, n.errs)
	})
}

func TestMeterSettle(t *testing.T) {
	ctx := context.Background()
	hold := &model.CreditReservation{ReservationID: "res-1", ReservedAmount: dollar}
	req := SettleRequest{WorkspaceID: "ws-1", Provider: "openai", Model: "gpt-4o", Usage: usage}

	t.Run("adjusts with configured retries", func(t *testing.T) {
		r := new(MockReserver)
		r.On("Adjust", mock.Anything, AdjustRequest{
			ReservationID: "res-1",
			WorkspaceID:   "ws-1",
			Provider:      "openai",
			Model:         "gpt-4o",
			Usage:         usage,
			MaxRetries:    5,
		}).Return(nil)

		NewMeter(r, StaticFlags{CreditDeduction: true}, WithMaxRetries(5)).Settle(ctx, hold, req)
		r.AssertExpectations(t)
	})

	t.Run("adjust failure is swallowed", func(t *testing.T) {
		r := new(MockReserver)
		r.On("Adjust", mock.Anything, mock.Anything).Return(errors.New("conflict"))

		assert.NotPanics(t, func() {
			NewMeter(r, StaticFlags{CreditDeduction: true}).Settle(ctx, hold, req)
		})
	})

	t.Run("flag off skips everything", func(t *testing.T) {
		r := new(MockReserver)
		NewMeter(r, StaticFlags{}).Settle(ctx, hold, req)
		r.AssertNotCalled(t, "Adjust", mock.Anything, mock.Anything)
		r.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("zero usage releases the hold", func(t *testing.T) {
		r := new(MockReserver)
		r.On("Refund", mock.Anything, "res-1", "ws-1").Return(nil)

		empty := req
		empty.Usage = model.TokenUsage{}
		NewMeter(r, StaticFlags{CreditDeduction: true}).Settle(ctx, hold, empty)
		r.AssertNotCalled(t, "Adjust", mock.Anything, mock.Anything)
		r.AssertExpectations(t)
	})

	t.Run("survives a cancelled caller", func(t *testing.T) {
		r := new(MockReserver)
		r.On("Adjust", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), mock.Anything).Return(nil)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		NewMeter(r, StaticFlags{CreditDeduction: true}).Settle(cancelled, hold, req)
		r.AssertExpectations(t)
	})
}

func TestMeterRun(t *testing.T) {
	ctx := context.Background()
	hold := &model.CreditReservation{ReservationID: "res-1", ReservedAmount: dollar}

	t.Run("reserve failure never runs the operation", func(t *testing.T) {
		r := new(MockReserver)
		r.On("ValidateAndReserve", ctx, reserveReq).Return(nil, &apperrors.SpendingLimitExceededError{WorkspaceID: "ws-1"})

		ran := false
		_, err := NewMeter(r, StaticFlags{CreditDeduction: true}).Run(ctx, reserveReq, func(context.Context) (model.TokenUsage, error) {
			ran = true
			return usage, nil
		})
		assert.True(t, apperrors.IsPreflight(err))
		assert.False(t, ran)
	})

	t.Run("success settles", func(t *testing.T) {
		r := new(MockReserver)
		r.On("ValidateAndReserve", ctx, reserveReq).Return(hold, nil)
		r.On("Adjust", mock.Anything, mock.MatchedBy(func(a AdjustRequest) bool { return a.ReservationID == "res-1" })).Return(nil)

		got, err := NewMeter(r, StaticFlags{CreditDeduction: true}).Run(ctx, reserveReq, func(context.Context) (model.TokenUsage, error) {
			return usage, nil
		})
		require.NoError(t, err)
		assert.Equal(t, usage, got)
		r.AssertExpectations(t)
	})

	t.Run("failed operation without usage refunds", func(t *testing.T) {
		r := new(MockReserver)
		r.On("ValidateAndReserve", ctx, reserveReq).Return(hold, nil)
		r.On("Refund", mock.Anything, "res-1", "ws-1").Return(nil)

		opErr := errors.New("upstream 500")
		_, err := NewMeter(r, StaticFlags{CreditDeduction: true}).Run(ctx, reserveReq, func(context.Context) (model.TokenUsage, error) {
			return model.TokenUsage{}, opErr
		})
		assert.ErrorIs(t, err, opErr)
		r.AssertExpectations(t)
		r.AssertNotCalled(t, "Adjust", mock.Anything, mock.Anything)
	})

	t.Run("failed operation with usage still settles", func(t *testing.T) {
		r := new(MockReserver)
		r.On("ValidateAndReserve", ctx, reserveReq).Return(hold, nil)
		r.On("Adjust", mock.Anything, mock.Anything).Return(nil)

		opErr := errors.New("stream cut")
		_, err := NewMeter(r, StaticFlags{CreditDeduction: true}).Run(ctx, reserveReq, func(context.Context) (model.TokenUsage, error) {
			return usage, opErr
		})
		assert.ErrorIs(t, err, opErr)
		r.AssertExpectations(t)
	})
}

func TestBestEffortRecoversPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		BestEffort(context.Background(), "test", map[string]interface{}{"k": "v"}, func(context.Context) error {
			panic("boom")
		})
	})
}

func TestToggleFlags(t *testing.T) {
	f := NewToggleFlags(false)
	assert.False(t, f.CreditDeductionEnabled())
	f.SetCreditDeduction(true)
	assert.True(t, f.CreditDeductionEnabled())
}
