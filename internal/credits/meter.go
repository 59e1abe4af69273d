package credits

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/djinilabs/helpmaton-sub006/internal/audit"
	apperrors "github.com/djinilabs/helpmaton-sub006/internal/errors"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
)

const defaultSettleTimeout = 15 * time.Second

// ErrorNotifier is told about every pre-flight rejection. Implementations
// must not block the caller.
type ErrorNotifier interface {
	Dispatch(ctx context.Context, workspaceID string, err error)
}

type SettleRequest struct {
	WorkspaceID string           `json:"workspaceId"`
	AgentID     string           `json:"agentId,omitempty"`
	Provider    string           `json:"provider"`
	Model       string           `json:"model"`
	UsesBYOK    bool             `json:"usesByok"`
	Usage       model.TokenUsage `json:"usage"`
}

// Operation is the billed call. It reports what it consumed even when it
// fails part way.
type Operation func(ctx context.Context) (model.TokenUsage, error)

// Meter sequences one billed operation: reserve, execute, measure, adjust.
type Meter struct {
	reserver      Reserver
	flags         FeatureFlags
	notifier      ErrorNotifier
	maxRetries    int
	settleTimeout time.Duration
}

type MeterOption func(*Meter)

func WithNotifier(n ErrorNotifier) MeterOption {
	return func(m *Meter) { m.notifier = n }
}

func WithMaxRetries(n int) MeterOption {
	return func(m *Meter) { m.maxRetries = n }
}

func WithSettleTimeout(d time.Duration) MeterOption {
	return func(m *Meter) { m.settleTimeout = d }
}

func NewMeter(reserver Reserver, flags FeatureFlags, opts ...MeterOption) *Meter {
	m := &Meter{
		reserver:      reserver,
		flags:         flags,
		maxRetries:    DefaultMaxRetries,
		settleTimeout: defaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reserve runs the pre-flight checks. An InsufficientCreditsError or
// SpendingLimitExceededError is returned unchanged and the caller must not
// run the operation; owners are notified in the background.
func (m *Meter) Reserve(ctx context.Context, req ReserveRequest) (*model.CreditReservation, error) {
	res, err := m.reserver.ValidateAndReserve(ctx, req)
	if err != nil {
		if apperrors.IsPreflight(err) {
			audit.Log(ctx, audit.Event{
				Type:        audit.EventPreflightRejected,
				WorkspaceID: req.WorkspaceID,
				AgentID:     req.AgentID,
				Details:     map[string]interface{}{"error": err.Error()},
			})
			if m.notifier != nil {
				m.notifier.Dispatch(ctx, req.WorkspaceID, err)
			}
		}
		return nil, err
	}
	return res, nil
}

// ShouldAdjust reports whether a finished operation needs its hold settled.
func ShouldAdjust(deductionEnabled bool, res *model.CreditReservation, usage model.TokenUsage) bool {
	return deductionEnabled && res.IsBillable() && usage.HasTokens()
}

// Settle adjusts the hold to measured usage. Failures are logged and
// dropped; the caller's response is already decided.
func (m *Meter) Settle(ctx context.Context, res *model.CreditReservation, req SettleRequest) {
	enabled := m.flags.CreditDeductionEnabled()
	if !ShouldAdjust(enabled, res, req.Usage) {
		// a hold with nothing to charge goes back to the balance now rather
		// than waiting for the sweep
		if enabled && res.IsBillable() {
			m.Release(ctx, res, req.WorkspaceID)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.settleTimeout)
	defer cancel()

	BestEffort(ctx, "adjust_reservation", map[string]interface{}{
		"workspaceId":   req.WorkspaceID,
		"reservationId": res.ReservationID,
		"provider":      req.Provider,
		"model":         req.Model,
	}, func(ctx context.Context) error {
		return m.reserver.Adjust(ctx, AdjustRequest{
			ReservationID: res.ReservationID,
			WorkspaceID:   req.WorkspaceID,
			AgentID:       req.AgentID,
			Provider:      req.Provider,
			Model:         req.Model,
			Usage:         req.Usage,
			MaxRetries:    m.maxRetries,
			UsesBYOK:      req.UsesBYOK,
		})
	})
}

// Release refunds a hold whose operation produced no usage.
func (m *Meter) Release(ctx context.Context, res *model.CreditReservation, workspaceID string) {
	if !res.IsBillable() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.settleTimeout)
	defer cancel()

	BestEffort(ctx, "refund_reservation", map[string]interface{}{
		"workspaceId":   workspaceID,
		"reservationId": res.ReservationID,
	}, func(ctx context.Context) error {
		return m.reserver.Refund(ctx, res.ReservationID, workspaceID)
	})
}

// Run reserves, executes op, and settles. The operation's own error is
// returned; billing failures after it ran are not.
func (m *Meter) Run(ctx context.Context, req ReserveRequest, op Operation) (model.TokenUsage, error) {
	res, err := m.Reserve(ctx, req)
	if err != nil {
		return model.TokenUsage{}, err
	}

	usage, opErr := op(ctx)
	if opErr != nil && !usage.HasTokens() {
		m.Release(ctx, res, req.WorkspaceID)
		return usage, opErr
	}

	m.Settle(ctx, res, SettleRequest{
		WorkspaceID: req.WorkspaceID,
		AgentID:     req.AgentID,
		Provider:    req.Provider,
		Model:       req.Model,
		UsesBYOK:    req.UsesBYOK,
		Usage:       usage,
	})
	return usage, opErr
}

// BestEffort runs fn and logs, never returns, any error or panic.
func BestEffort(ctx context.Context, op string, fields map[string]interface{}, fn func(ctx context.Context) error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Fields(fields).
				Str("operation", op).
				Str("panic", fmt.Sprint(p)).
				Str("stack", string(debug.Stack())).
				Msg("Best-effort operation panicked")
		}
	}()

	if err := fn(ctx); err != nil {
		log.Error().
			Err(err).
			Fields(fields).
			Str("operation", op).
			Bool("timeout", apperrors.IsTimeout(err)).
			Msg("Best-effort operation failed")
	}
}
