// Package notify emails workspace owners when a billed operation is refused
// for credits or spending limits, at most once per owner per error type per
// cooldown window. The store's conditional write is the only coordination
// between concurrent callers.
package notify

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/djinilabs/helpmaton-sub006/internal/audit"
	apperrors "github.com/djinilabs/helpmaton-sub006/internal/errors"
	"github.com/djinilabs/helpmaton-sub006/internal/mailer"
	"github.com/djinilabs/helpmaton-sub006/internal/metrics"
	"github.com/djinilabs/helpmaton-sub006/internal/model"
	"github.com/djinilabs/helpmaton-sub006/internal/store"
)

const (
	DefaultCooldown    = time.Hour
	defaultConcurrency = 4
	dispatchTimeout    = 30 * time.Second
)

type SkipReason string

const (
	SkipMissingRecord    SkipReason = "missing_record"
	SkipRateLimited      SkipReason = "rate_limited"
	SkipConcurrentUpdate SkipReason = "concurrent_update"
	SkipStoreError       SkipReason = "store_error"
)

// OwnerDirectory lists who should hear about a workspace's billing errors.
type OwnerDirectory interface {
	ListOwners(ctx context.Context, workspaceID string) ([]model.WorkspaceOwner, error)
}

// Decision records what happened for one recipient. Err holds a store or
// send failure; it has already been logged.
type Decision struct {
	UserID     string
	ErrorType  model.NotificationErrorType
	Sent       bool
	SkipReason SkipReason
	Err        error
}

type Notifier struct {
	records     store.RecordStore
	owners      OwnerDirectory
	mailer      mailer.Mailer
	cooldown    time.Duration
	concurrency int
	now         func() time.Time
	metrics     *metrics.Metrics
	baseURL     string
	timeout     time.Duration
}

type Option func(*Notifier)

func WithCooldown(d time.Duration) Option {
	return func(n *Notifier) { n.cooldown = d }
}

func WithConcurrency(limit int) Option {
	return func(n *Notifier) { n.concurrency = limit }
}

func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// WithDispatchTimeout bounds a background Dispatch.
func WithDispatchTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

// WithBaseURL sets the app URL used for links in message bodies.
func WithBaseURL(url string) Option {
	return func(n *Notifier) { n.baseURL = url }
}

func NewNotifier(records store.RecordStore, owners OwnerDirectory, m mailer.Mailer, opts ...Option) *Notifier {
	n := &Notifier{
		records:     records,
		owners:      owners,
		mailer:      m,
		cooldown:    DefaultCooldown,
		concurrency: defaultConcurrency,
		now:         time.Now,
		timeout:     dispatchTimeout,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Classify maps a pre-flight error to the throttle window it is counted in.
func Classify(err error) (model.NotificationErrorType, bool) {
	if _, ok := apperrors.AsInsufficientCredits(err); ok {
		return model.NotificationErrorCredit, true
	}
	if _, ok := apperrors.AsSpendingLimitExceeded(err); ok {
		return model.NotificationErrorSpendingLimit, true
	}
	return "", false
}

// NotifyOnError emails every owner of the workspace about err, subject to the
// per-owner throttle. Errors other than the two pre-flight errors are
// ignored. It never fails; per-recipient outcomes are returned for
// observability.
func (n *Notifier) NotifyOnError(ctx context.Context, workspaceID string, err error) []Decision {
	errType, ok := Classify(err)
	if !ok {
		return nil
	}

	owners, lerr := n.owners.ListOwners(ctx, workspaceID)
	if lerr != nil {
		log.Error().Err(lerr).
			Str("workspaceId", workspaceID).
			Str("errorType", string(errType)).
			Msg("Failed to list workspace owners for notification")
		return nil
	}
	if len(owners) == 0 {
		log.Warn().Str("workspaceId", workspaceID).Msg("Workspace has no owners to notify")
		return nil
	}

	msg := BuildMessage(errType, workspaceID, err, n.baseURL)
	decisions := make([]Decision, len(owners))

	var g errgroup.Group
	g.SetLimit(max(n.concurrency, 1))
	for i, owner := range owners {
		g.Go(func() error {
			decisions[i] = n.notifyOwner(ctx, workspaceID, owner, errType, msg)
			return nil
		})
	}
	_ = g.Wait()
	return decisions
}

// Dispatch runs NotifyOnError in the background, detached from the caller's
// cancellation but bounded by its own deadline.
func (n *Notifier) Dispatch(ctx context.Context, workspaceID string, err error) {
	if _, ok := Classify(err); !ok {
		return
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	go func() {
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				log.Error().
					Interface("panic", p).
					Str("stack", string(debug.Stack())).
					Str("workspaceId", workspaceID).
					Msg("Notification dispatch panicked")
			}
		}()
		n.NotifyOnError(bg, workspaceID, err)
	}()
}

func (n *Notifier) notifyOwner(ctx context.Context, workspaceID string, owner model.WorkspaceOwner, errType model.NotificationErrorType, msg mailer.Message) Decision {
	d := Decision{UserID: owner.UserID, ErrorType: errType}
	now := n.now()
	cutoff := now.Add(-n.cooldown)

	outcome, rec, err := n.records.ConditionalUpdate(ctx, owner.UserID,
		func(rec *model.NotificationRateLimitRecord) bool {
			last := rec.LastSentAt(errType)
			return last == nil || last.Before(cutoff)
		},
		func(rec *model.NotificationRateLimitRecord) {
			rec.SetLastSentAt(errType, now)
		},
	)

	logger := log.With().
		Str("workspaceId", workspaceID).
		Str("userId", owner.UserID).
		Str("errorType", string(errType)).
		Logger()

	if err != nil {
		d.SkipReason, d.Err = SkipStoreError, err
		logger.Error().Err(err).Msg("Notification rate limit update failed, skipping send")
		n.metrics.RecordNotification(string(errType), string(d.SkipReason))
		return d
	}

	switch outcome {
	case store.NotFound:
		d.SkipReason = SkipMissingRecord
	case store.Rejected:
		d.SkipReason = SkipRateLimited
	case store.Conflict:
		d.SkipReason = SkipConcurrentUpdate
	}
	if d.SkipReason != "" {
		logger.Info().Str("reason", string(d.SkipReason)).Msg("Skipping notification")
		n.metrics.RecordNotification(string(errType), string(d.SkipReason))
		return d
	}

	msg.To = owner.Email
	if rec != nil && rec.Email != "" {
		msg.To = rec.Email
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		// the window is consumed; the next failure after it closes retries
		d.Err = err
		logger.Error().Err(err).Bool("timeout", apperrors.IsTimeout(err)).Msg("Failed to send notification email")
		n.metrics.RecordNotification(string(errType), "send_failed")
		return d
	}

	d.Sent = true
	n.metrics.RecordNotification(string(errType), "sent")
	audit.Log(ctx, audit.Event{
		Type:        audit.EventNotificationSent,
		WorkspaceID: workspaceID,
		UserID:      owner.UserID,
		Details:     map[string]interface{}{"errorType": string(errType)},
	})
	return d
}
