package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djinilabs/helpmaton-sub006/internal/model"
	"github.com/djinilabs/helpmaton-sub006/internal/store"
)

const (
	fieldEmail          = "email"
	fieldCreditAt       = "credit_at"
	fieldSpendingAt     = "spending_limit_at"
	fieldVersion        = "version"
	defaultRecordTTL    = 24 * time.Hour
	defaultStoreTimeout = 3 * time.Second
)

// RecordStore keeps notification throttle records in redis hashes and uses
// WATCH/MULTI/EXEC as the compare-and-swap. A record missing from redis is
// seeded from source, which decides whether the user exists at all.
type RecordStore struct {
	client  redis.UniversalClient
	source  store.RecordStore
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

type Option func(*RecordStore)

func WithKeyPrefix(prefix string) Option {
	return func(s *RecordStore) { s.prefix = prefix }
}

// WithTTL sets how long an idle record is cached. It must exceed the
// notification cooldown.
func WithTTL(ttl time.Duration) Option {
	return func(s *RecordStore) { s.ttl = ttl }
}

func WithTimeout(d time.Duration) Option {
	return func(s *RecordStore) { s.timeout = d }
}

func NewRecordStore(client redis.UniversalClient, source store.RecordStore, opts ...Option) *RecordStore {
	s := &RecordStore{
		client:  client,
		source:  source,
		ttl:     defaultRecordTTL,
		timeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.RecordStore = (*RecordStore)(nil)

func (s *RecordStore) Get(ctx context.Context, userID string) (*model.NotificationRateLimitRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vals, err := s.client.HGetAll(ctx, RateLimitKey(s.prefix, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read rate limit record: %w", err)
	}
	if len(vals) > 0 {
		return decodeRecord(userID, vals)
	}
	return s.seed(ctx, userID)
}

func (s *RecordStore) ConditionalUpdate(ctx context.Context, userID string, pred store.Predicate, mutate store.Mutator) (store.Outcome, *model.NotificationRateLimitRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := RateLimitKey(s.prefix, userID)
	outcome := store.Conflict
	var written *model.NotificationRateLimitRecord

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		var current *model.NotificationRateLimitRecord
		if len(vals) > 0 {
			if current, err = decodeRecord(userID, vals); err != nil {
				return err
			}
		} else if current, err = s.seed(ctx, userID); err != nil {
			return err
		}

		var next *model.NotificationRateLimitRecord
		outcome, next = store.Apply(current, pred, mutate)
		if outcome != store.Updated {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeRecord(next))
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		written = next
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return store.Conflict, nil, nil
	}
	if err != nil {
		return store.Conflict, nil, fmt.Errorf("conditional update %s: %w", key, err)
	}
	return outcome, written, nil
}

func (s *RecordStore) seed(ctx context.Context, userID string) (*model.NotificationRateLimitRecord, error) {
	if s.source == nil {
		return nil, nil
	}
	rec, err := s.source.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("seed rate limit record: %w", err)
	}
	return rec, nil
}

func encodeRecord(rec *model.NotificationRateLimitRecord) map[string]any {
	return map[string]any{
		fieldEmail:      rec.Email,
		fieldCreditAt:   encodeTime(rec.LastCreditErrorEmailSentAt),
		fieldSpendingAt: encodeTime(rec.LastSpendingLimitErrorEmailSentAt),
		fieldVersion:    strconv.FormatInt(rec.Version, 10),
	}
}

func decodeRecord(userID string, vals map[string]string) (*model.NotificationRateLimitRecord, error) {
	rec := &model.NotificationRateLimitRecord{UserID: userID, Email: vals[fieldEmail]}
	var err error
	if rec.LastCreditErrorEmailSentAt, err = decodeTime(vals[fieldCreditAt]); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fieldCreditAt, err)
	}
	if rec.LastSpendingLimitErrorEmailSentAt, err = decodeTime(vals[fieldSpendingAt]); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fieldSpendingAt, err)
	}
	if v := vals[fieldVersion]; v != "" {
		if rec.Version, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("decode %s: %w", fieldVersion, err)
		}
	}
	return rec, nil
}

func encodeTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func decodeTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.Unix(0, n).UTC()
	return &t, nil
}
