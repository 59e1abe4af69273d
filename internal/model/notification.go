package model

import (
	"time"
)

// NotificationRateLimitRecord carries one throttle window per error type.
// Version is bumped on every conditional write.
type NotificationRateLimitRecord struct {
	UserID                            string     `db:"id" json:"userId"`
	Email                             string     `db:"email" json:"email"`
	LastCreditErrorEmailSentAt        *time.Time `db:"last_credit_error_email_sent_at" json:"lastCreditErrorEmailSentAt,omitempty"`
	LastSpendingLimitErrorEmailSentAt *time.Time `db:"last_spending_limit_error_email_sent_at" json:"lastSpendingLimitErrorEmailSentAt,omitempty"`
	Version                           int64      `db:"notification_version" json:"version"`
}

func (r *NotificationRateLimitRecord) LastSentAt(t NotificationErrorType) *time.Time {
	switch t {
	case NotificationErrorCredit:
		return r.LastCreditErrorEmailSentAt
	case NotificationErrorSpendingLimit:
		return r.LastSpendingLimitErrorEmailSentAt
	}
	return nil
}

func (r *NotificationRateLimitRecord) SetLastSentAt(t NotificationErrorType, at time.Time) {
	switch t {
	case NotificationErrorCredit:
		r.LastCreditErrorEmailSentAt = &at
	case NotificationErrorSpendingLimit:
		r.LastSpendingLimitErrorEmailSentAt = &at
	}
}

// Clone returns a deep copy so mutators never alias a stored record.
func (r *NotificationRateLimitRecord) Clone() *NotificationRateLimitRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastCreditErrorEmailSentAt != nil {
		t := *r.LastCreditErrorEmailSentAt
		c.LastCreditErrorEmailSentAt = &t
	}
	if r.LastSpendingLimitErrorEmailSentAt != nil {
		t := *r.LastSpendingLimitErrorEmailSentAt
		c.LastSpendingLimitErrorEmailSentAt = &t
	}
	return &c
}
