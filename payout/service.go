/*
service.go - Payout lifecycle orchestration

PURPOSE:
  Every operation that changes a session or payout goes through Service.
  Each one follows the same sequence:

    1. authorize the actor
    2. validate input
    3. inside one store transaction: read, check, write
    4. after commit: write audit entries (fail-soft)

TRANSITION FLOW:
  ┌────────────────────────────────────────────────────────────────────┐
  │  MarkAttended ──▶ payout underReview, session review               │
  │  CreatePayout ──▶ payout pending (session untouched)               │
  │  Approve      ──▶ underReview → pending, session pending/reviewed  │
  │  Pay          ──▶ underReview|pending → paid, session paid         │
  └────────────────────────────────────────────────────────────────────┘

ORDERING:
  Business writes commit before any audit write. A failed business write
  produces no audit entry. A failed audit write does not undo the
  business write; the recorder logs it and moves on.

IDEMPOTENCE:
  Paying a paid payout is rejected with ErrAlreadyProcessed before any
  write, so double clicks never double-log. Two concurrent payers are
  serialized by the compare-and-set status write: the loser gets
  ErrConcurrentModification and its transaction rolls back.

SEE ALSO:
  - transitions.go: the table consulted here
  - sessions.go:    session create/edit/delete
*/
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/warp/payout-engine/audit"
	"github.com/warp/payout-engine/metrics"
)

// Auditor records audit entries. It must not fail the caller.
type Auditor interface {
	Record(ctx context.Context, actor audit.Actor, action audit.Action, target audit.Target,
		details string, before, after map[string]any) (audit.EntryID, bool)
}

// Sealer protects the payment method before it is stored.
type Sealer interface {
	Seal(recordID, plaintext string) (string, error)
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store   TxStore
	auditor Auditor
	sealer  Sealer
	log     *slog.Logger
	now     func() time.Time
	newID   func() string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithLogger(log *slog.Logger) Option { return func(s *Service) { s.log = log } }
func WithIDs(gen func() string) Option { return func(s *Service) { s.newID = gen } }

func NewService(store TxStore, auditor Auditor, sealer Sealer, opts ...Option) *Service {
	s := &Service{
		store:   store,
		auditor: auditor,
		sealer:  sealer,
		log:     slog.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// PAYOUT CREATION
// =============================================================================

// MarkAttended is the mentor confirming they delivered the session. It
// flips the session to review and opens a payout in underReview.
func (s *Service) MarkAttended(ctx context.Context, actor audit.Actor, sessionID SessionID) (Payout, error) {
	if !actor.IsMentor() {
		return Payout{}, fmt.Errorf("%w: only mentors confirm attendance", ErrForbidden)
	}

	now := s.now().UTC()
	var (
		session Session
		created Payout
	)
	err := s.store.WithTx(ctx, func(tx Store) error {
		var err error
		session, err = tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.MentorID != MentorID(actor.ID) {
			return fmt.Errorf("%w: session belongs to another mentor", ErrForbidden)
		}
		if session.Attended {
			return ErrAlreadyAttended
		}
		if err := ensureNoPayout(ctx, tx, sessionID); err != nil {
			return err
		}

		session.Attended = true
		session.AttendedAt = &now
		session.Status = SessionUnderReview
		session.UpdatedAt = now
		if err := tx.UpdateSession(ctx, session); err != nil {
			return fmt.Errorf("failed to mark session attended: %w", err)
		}

		created = s.newPayout(session, OriginAttendance, now)
		if err := tx.CreatePayout(ctx, created); err != nil {
			return fmt.Errorf("failed to create payout: %w", err)
		}
		return nil
	})
	if err != nil {
		return Payout{}, err
	}
	metrics.PayoutsCreated.WithLabelValues(string(OriginAttendance)).Inc()
	s.log.Info("payout created",
		slog.String("payout_id", string(created.ID)),
		slog.String("session_id", string(session.ID)),
		slog.String("origin", string(OriginAttendance)))

	actx := context.WithoutCancel(ctx)
	s.auditor.Record(actx, actor, audit.ActionMarkAttendance,
		audit.Target{Type: audit.TargetSession, ID: string(session.ID)},
		fmt.Sprintf("Marked session %s as attended", session.ID),
		map[string]any{"isAttended": false},
		map[string]any{"isAttended": true, "attendedAt": now.UnixMilli()},
	)
	s.recordPayoutCreated(actx, actor, created)
	return created, nil
}

// CreatePayout is the admin settling a session without a mentor
// attendance report. The payout starts pending; the session is not touched.
func (s *Service) CreatePayout(ctx context.Context, actor audit.Actor, sessionID SessionID) (Payout, error) {
	if !actor.IsAdmin() {
		return Payout{}, fmt.Errorf("%w: only admins create payouts", ErrForbidden)
	}

	now := s.now().UTC()
	var created Payout
	err := s.store.WithTx(ctx, func(tx Store) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.IsPaid() {
			return ErrAlreadyProcessed
		}
		if err := ensureNoPayout(ctx, tx, sessionID); err != nil {
			return err
		}

		created = s.newPayout(session, OriginManual, now)
		if err := tx.CreatePayout(ctx, created); err != nil {
			return fmt.Errorf("failed to create payout: %w", err)
		}
		return nil
	})
	if err != nil {
		return Payout{}, err
	}
	metrics.PayoutsCreated.WithLabelValues(string(OriginManual)).Inc()
	s.log.Info("payout created",
		slog.String("payout_id", string(created.ID)),
		slog.String("session_id", string(sessionID)),
		slog.String("origin", string(OriginManual)))

	s.recordPayoutCreated(context.WithoutCancel(ctx), actor, created)
	return created, nil
}

func (s *Service) newPayout(session Session, origin Origin, now time.Time) Payout {
	return Payout{
		ID:          PayoutID(s.newID()),
		SessionID:   session.ID,
		MentorID:    session.MentorID,
		MentorEmail: session.MentorEmail,
		SessionType: session.Type,
		SessionDate: session.Date,
		Breakdown:   session.Breakdown(),
		Status:      InitialStatus(origin),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func ensureNoPayout(ctx context.Context, tx Store, sessionID SessionID) error {
	_, err := tx.PayoutForSession(ctx, sessionID)
	switch {
	case err == nil:
		return ErrAlreadyProcessed
	case errors.Is(err, ErrPayoutNotFound):
		return nil
	default:
		return fmt.Errorf("failed to look up payout: %w", err)
	}
}

func (s *Service) recordPayoutCreated(ctx context.Context, actor audit.Actor, p Payout) {
	s.auditor.Record(ctx, actor, audit.ActionCreatePayout,
		audit.Target{Type: audit.TargetPayout, ID: string(p.ID)},
		fmt.Sprintf("Created payout for %s - Amount: %s", p.MentorEmail, FormatAmount(p.NetAmount)),
		nil,
		payoutSnapshot(p),
	)
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// Approve moves an underReview payout to pending.
func (s *Service) Approve(ctx context.Context, actor audit.Actor, id PayoutID) (Payout, error) {
	return s.apply(ctx, actor, id, EventApprove, "")
}

// Pay settles a payout that is underReview or pending.
func (s *Service) Pay(ctx context.Context, actor audit.Actor, id PayoutID, method PaymentMethod) (Payout, error) {
	return s.apply(ctx, actor, id, EventPay, method)
}

// ChangeStatus moves a payout to the requested status, when the
// transition table allows it.
func (s *Service) ChangeStatus(ctx context.Context, actor audit.Actor, id PayoutID, to PayoutStatus, method PaymentMethod) (Payout, error) {
	ev, ok := EventFor(to)
	if !ok {
		return Payout{}, &ValidationError{Field: "status", Message: "cannot move a payout to " + string(to)}
	}
	return s.apply(ctx, actor, id, ev, method)
}

func (s *Service) apply(ctx context.Context, actor audit.Actor, id PayoutID, ev Event, method PaymentMethod) (Payout, error) {
	if !actor.IsAdmin() {
		return Payout{}, fmt.Errorf("%w: only admins change payout status", ErrForbidden)
	}
	if ev == EventPay && !method.Valid() {
		return Payout{}, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, method)
	}

	now := s.now().UTC()
	var (
		before, after Payout
		session       Session
	)
	err := s.store.WithTx(ctx, func(tx Store) error {
		var err error
		before, err = tx.GetPayout(ctx, id)
		if err != nil {
			return err
		}
		tr, ok := TransitionFor(before.Status, ev)
		if !ok {
			return &TransitionError{PayoutID: id, From: before.Status, Event: ev}
		}

		upd := StatusUpdate{From: tr.From, To: tr.To, At: now}
		if ev == EventPay {
			sealed, err := s.sealer.Seal(string(id), string(method))
			if err != nil {
				return fmt.Errorf("failed to seal payment method: %w", err)
			}
			upd.PaymentMethod = sealed
			upd.PaidDate = &now
		}
		if err := tx.UpdatePayoutStatus(ctx, id, upd); err != nil {
			return fmt.Errorf("failed to update payout status: %w", err)
		}

		after = before
		after.Status = tr.To
		after.UpdatedAt = now
		if ev == EventPay {
			after.PaymentMethod = upd.PaymentMethod
			after.PaidDate = upd.PaidDate
		}

		session, err = tx.GetSession(ctx, before.SessionID)
		if err != nil {
			return fmt.Errorf("failed to load session %s: %w", before.SessionID, err)
		}
		applySessionEffects(&session, tr, actor, now)
		if err := tx.UpdateSession(ctx, session); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
	if err != nil {
		if IsConflict(err) {
			metrics.RejectedTransitions.WithLabelValues(string(ev)).Inc()
			s.log.Debug("payout transition rejected",
				slog.String("payout_id", string(id)),
				slog.String("event", string(ev)),
				slog.Any("error", err))
		}
		return Payout{}, err
	}
	metrics.PayoutTransitions.WithLabelValues(string(before.Status), string(after.Status)).Inc()
	s.log.Info("payout status changed",
		slog.String("payout_id", string(id)),
		slog.String("from", string(before.Status)),
		slog.String("to", string(after.Status)))

	actx := context.WithoutCancel(ctx)
	statusAfter := map[string]any{"status": string(after.Status)}
	if after.PaidDate != nil {
		statusAfter["paidDate"] = after.PaidDate.UnixMilli()
	}
	s.auditor.Record(actx, actor, audit.ActionUpdatePayoutStatus,
		audit.Target{Type: audit.TargetPayout, ID: string(id)},
		fmt.Sprintf("Updated payout status from %s to %s for %s", before.Status, after.Status, after.MentorEmail),
		map[string]any{"status": string(before.Status)},
		statusAfter,
	)
	if before.Status == PayoutUnderReview && after.Status == PayoutPaid {
		s.auditor.Record(actx, actor, audit.ActionUpdateSessionStatus,
			audit.Target{Type: audit.TargetSession, ID: string(session.ID)},
			fmt.Sprintf("Approved mentor attendance for session %s", session.ID),
			map[string]any{"status": string(SessionUnderReview)},
			map[string]any{"status": string(session.Status), "isPaid": true},
		)
	}
	return after, nil
}

// applySessionEffects mirrors a payout transition onto its session.
func applySessionEffects(session *Session, tr Transition, actor audit.Actor, now time.Time) {
	if tr.From == PayoutUnderReview {
		session.ReviewedBy = actor.Email
		session.ReviewedAt = &now
	}
	switch tr.To {
	case PayoutPending:
		session.Status = SessionPending
	case PayoutPaid:
		session.Status = SessionPaid
		if !session.Attended {
			session.Attended = true
			session.AttendedAt = &now
		}
	}
	session.UpdatedAt = now
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetPayout(ctx context.Context, actor audit.Actor, id PayoutID) (Payout, error) {
	p, err := s.store.GetPayout(ctx, id)
	if err != nil {
		return Payout{}, err
	}
	if !canRead(actor, p.MentorID) {
		return Payout{}, ErrForbidden
	}
	return p, nil
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 50
)

// ListPayouts pages payouts newest first. Mentors only see their own.
func (s *Service) ListPayouts(ctx context.Context, actor audit.Actor, f PayoutFilter) ([]Payout, int, error) {
	if !actor.IsAdmin() {
		f.MentorID = MentorID(actor.ID)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, &ValidationError{Field: "status", Message: "unknown payout status " + string(f.Status)}
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.ListPayouts(ctx, f)
}

// HasActivePayout reports whether the session has a pending or paid payout.
func (s *Service) HasActivePayout(ctx context.Context, sessionID SessionID) (bool, error) {
	p, err := s.store.PayoutForSession(ctx, sessionID)
	if errors.Is(err, ErrPayoutNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Status.Active(), nil
}

func canRead(actor audit.Actor, owner MentorID) bool {
	return actor.IsAdmin() || MentorID(actor.ID) == owner
}
