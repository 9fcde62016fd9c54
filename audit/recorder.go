package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/warp/payout-engine/metrics"
)

// Recorder is the write side of the audit log.
type Recorder struct {
	store    Store
	log      *slog.Logger
	now      func() time.Time
	attempts uint
	delay    time.Duration
}

type Option func(*Recorder)

// WithRetry bounds how often a single append is attempted.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(r *Recorder) {
		if attempts > 0 {
			r.attempts = attempts
		}
		r.delay = delay
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(store Store, log *slog.Logger, opts ...Option) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		store:    store,
		log:      log,
		now:      time.Now,
		attempts: 3,
		delay:    50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one entry. It never fails the caller: on any problem it
// logs, counts, and returns ok=false.
func (r *Recorder) Record(
	ctx context.Context,
	actor Actor,
	action Action,
	target Target,
	details string,
	before, after map[string]any,
) (EntryID, bool) {
	if actor.ID == "" || action == "" {
		r.log.Error("audit entry missing required field",
			slog.String("actor_id", actor.ID),
			slog.String("action", string(action)))
		return "", false
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	actor.Email = NormalizeEmail(actor.Email)
	entry := Entry{
		ID:            EntryID(id.String()),
		SchemaVersion: SchemaVersion,
		Actor:         actor,
		Action:        action,
		Target:        target,
		Details:       details,
		Before:        before,
		After:         after,
		Timestamp:     r.now().UTC().Truncate(time.Millisecond),
	}

	start := time.Now()
	attempt := 0
	err = retry.Do(
		func() error {
			attempt++
			return r.store.Append(ctx, entry)
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
	metrics.AuditWriteDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.AuditWriteFailures.WithLabelValues(string(action)).Inc()
		r.log.Error("failed to write audit entry",
			slog.String("action", string(action)),
			slog.String("target_type", string(target.Type)),
			slog.String("target_id", target.ID),
			slog.Int("attempts", attempt),
			slog.Any("error", err))
		return "", false
	}
	return entry.ID, true
}

// Page runs a read-side query for the audit viewer.
func (r *Recorder) Page(ctx context.Context, q Query) (Page, error) {
	if q.Direction == "" {
		q.Direction = Forward
	}
	if q.Direction == Backward && q.Cursor == nil {
		q.Direction = Forward
	}
	q.EmailPrefix = NormalizeEmail(q.EmailPrefix)
	return r.store.Query(ctx, q)
}
