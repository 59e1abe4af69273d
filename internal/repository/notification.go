package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
	"github.com/djinilabs/helpmaton-sub006/internal/store"
)

// NotificationRepository stores throttle records on the users table. The
// notification_version column is the compare-and-swap token.
type NotificationRepository interface {
	store.RecordStore
	WithTx(tx *sqlx.Tx) NotificationRepository
}

type notificationRepo struct {
	db sqlxDB
}

func NewNotificationRepository(db *sqlx.DB) NotificationRepository {
	return &notificationRepo{db: db}
}

func (r *notificationRepo) WithTx(tx *sqlx.Tx) NotificationRepository {
	return &notificationRepo{db: tx}
}

func (r *notificationRepo) Get(ctx context.Context, userID string) (*model.NotificationRateLimitRecord, error) {
	var rec model.NotificationRateLimitRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT id, email, last_credit_error_email_sent_at,
			last_spending_limit_error_email_sent_at, notification_version
		FROM users WHERE id = $1
	`, userID)
	return HandleNotFound(&rec, err)
}

func (r *notificationRepo) ConditionalUpdate(ctx context.Context, userID string, pred store.Predicate, mutate store.Mutator) (store.Outcome, *model.NotificationRateLimitRecord, error) {
	current, err := r.Get(ctx, userID)
	if err != nil {
		return store.Conflict, nil, err
	}
	outcome, next := store.Apply(current, pred, mutate)
	if outcome != store.Updated {
		return outcome, nil, nil
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			last_credit_error_email_sent_at = $2,
			last_spending_limit_error_email_sent_at = $3,
			notification_version = $4
		WHERE id = $1 AND notification_version = $5
	`, userID, next.LastCreditErrorEmailSentAt, next.LastSpendingLimitErrorEmailSentAt,
		next.Version, current.Version)
	if err != nil {
		return store.Conflict, nil, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return store.Conflict, nil, err
	}
	if n == 0 {
		return store.Conflict, nil, nil
	}
	return store.Updated, next, nil
}
