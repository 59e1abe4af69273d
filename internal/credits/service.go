// Package credits holds estimated cost against a workspace balance before a
// billed operation runs, and settles the hold to the measured cost after.
package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/djinilabs/helpmaton-sub006/internal/audit"
	"github.com/djinilabs/helpmaton-sub006/internal/database"
	apperrors "github.com/djinilabs/helpmaton-sub006/internal/errors"
	"github.com/djinilabs/helpmaton-sub006/internal/limits"
	"github.com/djinilabs/helpmaton-sub006/internal/metrics"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
	"github.com/djinilabs/helpmaton-sub006/internal/pricing"
	"github.com/djinilabs/helpmaton-sub006/internal/repository"
)

const (
	DefaultReservationTTL = 15 * time.Minute
	DefaultMaxRetries     = 3
	retryBackoff          = 25 * time.Millisecond
)

type ReserveRequest struct {
	WorkspaceID string                  `json:"workspaceId"`
	AgentID     string                  `json:"agentId,omitempty"`
	Provider    string                  `json:"provider"`
	Model       string                  `json:"model"`
	Estimate    pricing.EstimateRequest `json:"estimate"`
	UsesBYOK    bool                    `json:"usesByok"`
}

type AdjustRequest struct {
	ReservationID string
	WorkspaceID   string
	AgentID       string
	Provider      string
	Model         string
	Usage         model.TokenUsage
	MaxRetries    int
	UsesBYOK      bool
}

// Reserver validates and holds credits for one billed operation, then
// settles or refunds the hold.
type Reserver interface {
	// ValidateAndReserve returns nil when no platform billing applies.
	ValidateAndReserve(ctx context.Context, req ReserveRequest) (*model.CreditReservation, error)
	Adjust(ctx context.Context, req AdjustRequest) error
	Refund(ctx context.Context, reservationID, workspaceID string) error
}

// LimitChecker is satisfied by *limits.Evaluator.
type LimitChecker interface {
	CheckLimits(ctx context.Context, account *model.WorkspaceAccount, agent *model.AgentPolicy, estimatedCost int64) (*limits.Result, error)
}

// Pricer is satisfied by *pricing.Table.
type Pricer interface {
	Estimate(provider, modelName string, req pricing.EstimateRequest, currency model.Currency) (int64, error)
	Cost(provider, modelName string, usage model.TokenUsage, currency model.Currency) (int64, error)
}

// UsageRecorder receives one record per settled reservation so that later
// limit checks see the spend.
type UsageRecorder interface {
	Record(ctx context.Context, rec model.UsageRecord) error
}

type Transactor interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type Service struct {
	db           Transactor
	workspaces   repository.WorkspaceRepository
	agents       repository.AgentRepository
	reservations repository.ReservationRepository
	usage        UsageRecorder
	pricer       Pricer
	limits       LimitChecker
	flags        FeatureFlags
	ttl          time.Duration
	now          func() time.Time
	metrics      *metrics.Metrics
}

type ServiceOption func(*Service)

func WithReservationTTL(d time.Duration) ServiceOption {
	return func(s *Service) { s.ttl = d }
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithServiceMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func NewService(
	db Transactor,
	workspaces repository.WorkspaceRepository,
	agents repository.AgentRepository,
	reservations repository.ReservationRepository,
	usage UsageRecorder,
	pricer Pricer,
	checker LimitChecker,
	flags FeatureFlags,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		db:           db,
		workspaces:   workspaces,
		agents:       agents,
		reservations: reservations,
		usage:        usage,
		pricer:       pricer,
		limits:       checker,
		flags:        flags,
		ttl:          DefaultReservationTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndReserve checks the balance, then every spending limit, then
// debits the estimate and records the hold, all under the workspace row lock.
// BYOK calls and calls made while deduction is disabled are validated but
// nothing is held.
func (s *Service) ValidateAndReserve(ctx context.Context, req ReserveRequest) (*model.CreditReservation, error) {
	var out *model.CreditReservation

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		workspaces := s.workspaces.WithTx(tx)

		account, err := workspaces.FindByIDForUpdate(ctx, req.WorkspaceID)
		if err != nil {
			return apperrors.Database(err)
		}
		if account == nil {
			return apperrors.NotFound("Workspace")
		}

		var agent *model.AgentPolicy
		if req.AgentID != "" {
			agent, err = s.agents.WithTx(tx).FindPolicy(ctx, req.WorkspaceID, req.AgentID)
			if err != nil {
				return apperrors.Database(err)
			}
			if agent == nil {
				return apperrors.NotFound("Agent")
			}
		}

		estimate, err := s.pricer.Estimate(req.Provider, req.Model, req.Estimate, account.Currency)
		if err != nil {
			if errors.Is(err, pricing.ErrUnknownModel) {
				return apperrors.UnknownModel(req.Provider, req.Model)
			}
			return fmt.Errorf("estimate cost: %w", err)
		}
		if estimate < 0 {
			return apperrors.Internal("Cost estimate is negative").
				WithDetails(map[string]any{"provider": req.Provider, "model": req.Model, "estimate": estimate})
		}

		billable := !req.UsesBYOK
		if billable && account.CreditBalance < estimate {
			return &apperrors.InsufficientCreditsError{
				WorkspaceID: account.ID,
				Required:    estimate,
				Available:   account.CreditBalance,
				Currency:    account.Currency,
			}
		}

		result, err := s.limits.CheckLimits(ctx, account, agent, estimate)
		if err != nil {
			return fmt.Errorf("check spending limits: %w", err)
		}
		if !result.Passed {
			return &apperrors.SpendingLimitExceededError{
				WorkspaceID:  account.ID,
				Currency:     account.Currency,
				FailedLimits: result.FailedLimits,
			}
		}

		if !billable || !s.flags.CreditDeductionEnabled() {
			return nil
		}

		if _, ok, err := workspaces.Debit(ctx, account.ID, estimate); err != nil {
			return apperrors.Database(err)
		} else if !ok {
			return &apperrors.InsufficientCreditsError{
				WorkspaceID: account.ID,
				Required:    estimate,
				Available:   account.CreditBalance,
				Currency:    account.Currency,
			}
		}

		res, err := s.reservations.WithTx(tx).Create(ctx, model.CreateReservationParams{
			ID:             uuid.NewString(),
			WorkspaceID:    account.ID,
			AgentID:        optional(req.AgentID),
			Provider:       req.Provider,
			Model:          req.Model,
			Currency:       account.Currency,
			ReservedAmount: estimate,
			ExpiresAt:      s.now().Add(s.ttl),
		})
		if err != nil {
			return apperrors.Database(err)
		}

		out = &model.CreditReservation{ReservationID: res.ID, ReservedAmount: res.ReservedAmount}
		return nil
	})
	if err != nil {
		s.metrics.RecordReservation(reserveOutcome(err))
		return nil, err
	}

	switch {
	case req.UsesBYOK:
		s.metrics.RecordReservation("byok")
	case out == nil:
		s.metrics.RecordReservation("validated")
	default:
		s.metrics.RecordReservation("reserved")
		audit.Log(ctx, audit.Event{
			Type:          audit.EventCreditsReserved,
			WorkspaceID:   req.WorkspaceID,
			AgentID:       req.AgentID,
			ReservationID: out.ReservationID,
			Details:       map[string]interface{}{"amount": out.ReservedAmount, "provider": req.Provider, "model": req.Model},
		})
	}
	return out, nil
}

// Adjust settles a hold to the measured cost, charging or crediting the
// difference. Transient row conflicts are retried up to req.MaxRetries times.
func (s *Service) Adjust(ctx context.Context, req AdjustRequest) error {
	if req.UsesBYOK || req.ReservationID == "" || req.ReservationID == model.BYOKReservationID {
		return nil
	}

	var (
		settled *model.Reservation
		actual  int64
		err     error
	)
	for attempt := 0; ; attempt++ {
		settled, actual, err = s.adjustOnce(ctx, req)
		if err == nil || !database.IsRetryable(err) || attempt >= req.MaxRetries {
			break
		}
		log.Warn().Err(err).
			Str("reservationId", req.ReservationID).
			Int("attempt", attempt+1).
			Msg("Reservation adjust conflicted, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff << attempt):
		}
	}
	if err != nil {
		s.metrics.RecordSettlement("adjust", "failed")
		return err
	}
	s.metrics.RecordSettlement("adjust", "settled")

	// The reservation, not the caller, decides which agent the spend counts against.
	agentID := valueOf(settled.AgentID)
	audit.Log(ctx, audit.Event{
		Type:          audit.EventReservationSettled,
		WorkspaceID:   settled.WorkspaceID,
		AgentID:       agentID,
		ReservationID: settled.ID,
		Details:       map[string]interface{}{"reserved": settled.ReservedAmount, "actual": actual},
	})

	rec := model.UsageRecord{
		WorkspaceID:  settled.WorkspaceID,
		AgentID:      agentID,
		Currency:     settled.Currency,
		BaseCost:     actual,
		InputTokens:  req.Usage.PromptTokens + req.Usage.CachedPromptTokens,
		OutputTokens: req.Usage.CompletionTokens + req.Usage.ReasoningTokens,
		CreatedAt:    s.now(),
	}
	if err := s.usage.Record(ctx, rec); err != nil {
		log.Error().Err(err).
			Str("workspaceId", settled.WorkspaceID).
			Str("reservationId", settled.ID).
			Msg("Failed to record usage for settled reservation")
	}
	return nil
}

func (s *Service) adjustOnce(ctx context.Context, req AdjustRequest) (*model.Reservation, int64, error) {
	var (
		res    *model.Reservation
		actual int64
	)
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		reservations := s.reservations.WithTx(tx)

		var err error
		res, err = reservations.FindByIDForUpdate(ctx, req.ReservationID)
		if err != nil {
			return apperrors.Database(err)
		}
		if res == nil || res.WorkspaceID != req.WorkspaceID {
			return apperrors.ReservationNotFound(req.ReservationID)
		}
		if res.Status != model.ReservationStatusReserved {
			return apperrors.ReservationNotReserved(res.ID, res.Status)
		}

		actual, err = s.pricer.Cost(req.Provider, req.Model, req.Usage, res.Currency)
		if err != nil {
			if errors.Is(err, pricing.ErrUnknownModel) {
				return apperrors.UnknownModel(req.Provider, req.Model)
			}
			return fmt.Errorf("price usage: %w", err)
		}

		if err := reservations.MarkSettled(ctx, res.ID, actual); err != nil {
			return err
		}
		if delta := res.ReservedAmount - actual; delta != 0 {
			if _, err := s.workspaces.WithTx(tx).Adjust(ctx, res.WorkspaceID, delta); err != nil {
				return err
			}
		}
		return nil
	})
	return res, actual, err
}

// Refund releases a hold and re-credits it. Refunding a reservation that is
// already settled or released is a no-op.
func (s *Service) Refund(ctx context.Context, reservationID, workspaceID string) error {
	_, err := s.refund(ctx, reservationID, workspaceID)
	return err
}

// refund reports whether this call moved the hold to released.
func (s *Service) refund(ctx context.Context, reservationID, workspaceID string) (bool, error) {
	if reservationID == "" || reservationID == model.BYOKReservationID {
		return false, nil
	}

	var released *model.Reservation
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		reservations := s.reservations.WithTx(tx)

		res, err := reservations.FindByIDForUpdate(ctx, reservationID)
		if err != nil {
			return apperrors.Database(err)
		}
		if res == nil || res.WorkspaceID != workspaceID {
			return apperrors.ReservationNotFound(reservationID)
		}
		if res.Status != model.ReservationStatusReserved {
			return nil
		}

		if err := reservations.MarkReleased(ctx, res.ID); err != nil {
			return err
		}
		if _, err := s.workspaces.WithTx(tx).Adjust(ctx, res.WorkspaceID, res.ReservedAmount); err != nil {
			return err
		}
		released = res
		return nil
	})
	if err != nil {
		s.metrics.RecordSettlement("refund", "failed")
		return false, err
	}
	if released == nil {
		s.metrics.RecordSettlement("refund", "noop")
		return false, nil
	}

	s.metrics.RecordSettlement("refund", "released")
	audit.Log(ctx, audit.Event{
		Type:          audit.EventReservationReleased,
		WorkspaceID:   released.WorkspaceID,
		ReservationID: released.ID,
		Details:       map[string]interface{}{"amount": released.ReservedAmount},
	})
	return true, nil
}

// ReleaseExpired refunds up to limit holds whose TTL has passed and returns
// how many were released. A failure on one hold does not stop the others.
func (s *Service) ReleaseExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.reservations.FindExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("find expired reservations: %w", err)
	}

	released := 0
	for _, res := range expired {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		ok, err := s.refund(ctx, res.ID, res.WorkspaceID)
		if err != nil {
			log.Error().Err(err).
				Str("reservationId", res.ID).
				Str("workspaceId", res.WorkspaceID).
				Msg("Failed to release expired reservation")
			continue
		}
		if !ok {
			log.Debug().
				Str("reservationId", res.ID).
				Msg("Expired reservation was settled or released concurrently")
			continue
		}
		released++
		audit.Log(ctx, audit.Event{
			Type:          audit.EventReservationExpired,
			WorkspaceID:   res.WorkspaceID,
			ReservationID: res.ID,
			Details:       map[string]interface{}{"amount": res.ReservedAmount, "expiresAt": res.ExpiresAt},
		})
	}
	s.metrics.AddSweepReleased(released)
	return released, nil
}

func reserveOutcome(err error) string {
	if _, ok := apperrors.AsInsufficientCredits(err); ok {
		return "insufficient_credits"
	}
	if _, ok := apperrors.AsSpendingLimitExceeded(err); ok {
		return "spending_limit_exceeded"
	}
	return "error"
}

func valueOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
