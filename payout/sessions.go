package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/payout-engine/audit"
)

// =============================================================================
// SESSION WRITES
// =============================================================================

// CreateSession logs a new session. Session dates may not be in the past.
func (s *Service) CreateSession(ctx context.Context, actor audit.Actor, in SessionInput) (Session, error) {
	if !actor.IsAdmin() {
		return Session{}, fmt.Errorf("%w: only admins create sessions", ErrForbidden)
	}
	created, err := s.createSession(ctx, actor, in)
	if err != nil {
		return Session{}, err
	}
	s.recordSessionCreated(context.WithoutCancel(ctx), actor, created)
	return created, nil
}

// BulkResult is the outcome of one row of a bulk create.
type BulkResult struct {
	Index   int
	Session *Session
	Err     error
}

// CreateSessions creates each input independently. A bad row does not
// stop the others; the caller gets one result per input, in order.
func (s *Service) CreateSessions(ctx context.Context, actor audit.Actor, inputs []SessionInput) ([]BulkResult, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins create sessions", ErrForbidden)
	}
	results := make([]BulkResult, len(inputs))
	actx := context.WithoutCancel(ctx)
	for i, in := range inputs {
		results[i].Index = i
		created, err := s.createSession(ctx, actor, in)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Session = &created
		s.recordSessionCreated(actx, actor, created)
	}
	return results, nil
}

func (s *Service) createSession(ctx context.Context, actor audit.Actor, in SessionInput) (Session, error) {
	if err := in.Validate(); err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	if startOfDay(in.Date).Before(startOfDay(now)) {
		return Session{}, &ValidationError{Field: "date", Message: "session date cannot be in the past"}
	}

	session := Session{
		ID:        SessionID(s.newID()),
		Status:    SessionPending,
		CreatedBy: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(&session)
	if err := s.store.CreateSession(ctx, session); err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (s *Service) recordSessionCreated(ctx context.Context, actor audit.Actor, session Session) {
	s.auditor.Record(ctx, actor, audit.ActionCreateSession,
		audit.Target{Type: audit.TargetSession, ID: string(session.ID)},
		fmt.Sprintf("Created %s session for %s", session.Type, session.MentorEmail),
		nil,
		sessionSnapshot(session),
	)
}

// UpdateSession edits a session. Once a payout exists the session is
// locked, since the payout carries its mentor and amounts.
func (s *Service) UpdateSession(ctx context.Context, actor audit.Actor, id SessionID, in SessionInput) (Session, error) {
	if !actor.IsAdmin() {
		return Session{}, fmt.Errorf("%w: only admins edit sessions", ErrForbidden)
	}
	if err := in.Validate(); err != nil {
		return Session{}, err
	}

	now := s.now().UTC()
	var before, after Session
	err := s.store.WithTx(ctx, func(tx Store) error {
		var err error
		before, err = tx.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if err := ensureUnlocked(ctx, tx, before); err != nil {
			return err
		}
		after = before
		in.apply(&after)
		after.UpdatedAt = now
		if err := tx.UpdateSession(ctx, after); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	s.auditor.Record(context.WithoutCancel(ctx), actor, audit.ActionUpdateSession,
		audit.Target{Type: audit.TargetSession, ID: string(id)},
		fmt.Sprintf("Updated session for %s", after.MentorEmail),
		sessionSnapshot(before),
		sessionSnapshot(after),
	)
	return after, nil
}

// DeleteSession removes a session that has no payout yet.
func (s *Service) DeleteSession(ctx context.Context, actor audit.Actor, id SessionID) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: only admins delete sessions", ErrForbidden)
	}

	var before Session
	err := s.store.WithTx(ctx, func(tx Store) error {
		var err error
		before, err = tx.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if err := ensureUnlocked(ctx, tx, before); err != nil {
			return err
		}
		if err := tx.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.auditor.Record(context.WithoutCancel(ctx), actor, audit.ActionDeleteSession,
		audit.Target{Type: audit.TargetSession, ID: string(id)},
		fmt.Sprintf("Deleted %s session for %s", before.Type, before.MentorEmail),
		sessionSnapshot(before),
		nil,
	)
	return nil
}

// ensureUnlocked rejects changes to a session that is paid or has a payout
// in any status.
func ensureUnlocked(ctx context.Context, tx Store, session Session) error {
	if session.IsPaid() {
		return ErrSessionLocked
	}
	_, err := tx.PayoutForSession(ctx, session.ID)
	if errors.Is(err, ErrPayoutNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up payout: %w", err)
	}
	return ErrSessionLocked
}

// =============================================================================
// SESSION READS
// =============================================================================

func (s *Service) GetSession(ctx context.Context, actor audit.Actor, id SessionID) (Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !canRead(actor, session.MentorID) {
		return Session{}, ErrForbidden
	}
	return session, nil
}

// ListSessions returns sessions newest first. Mentors only see their own.
func (s *Service) ListSessions(ctx context.Context, actor audit.Actor, f SessionFilter) ([]Session, error) {
	if !actor.IsAdmin() {
		f.MentorID = MentorID(actor.ID)
	}
	switch f.UIStatus {
	case "", UIUnpaid, UIReview, UIPaid:
	default:
		return nil, &ValidationError{Field: "status", Message: "unknown session status " + string(f.UIStatus)}
	}

	all, err := s.store.ListSessions(ctx, f.MentorID)
	if err != nil {
		return nil, err
	}
	if f.UIStatus == "" {
		return all, nil
	}
	out := make([]Session, 0, len(all))
	for _, session := range all {
		if session.UIStatus() == f.UIStatus {
			out = append(out, session)
		}
	}
	return out, nil
}

// Summary counts a mentor's sessions per dashboard bucket.
func (s *Service) Summary(ctx context.Context, actor audit.Actor, mentorID MentorID) (SessionSummary, error) {
	sessions, err := s.ListSessions(ctx, actor, SessionFilter{MentorID: mentorID})
	if err != nil {
		return SessionSummary{}, err
	}
	var sum SessionSummary
	for _, session := range sessions {
		switch session.UIStatus() {
		case UIPaid:
			sum.Paid++
		case UIReview:
			sum.Review++
		default:
			sum.Unpaid++
		}
	}
	return sum, nil
}

// PreviewBreakdown returns the payout figures a session would produce,
// without creating anything.
func (s *Service) PreviewBreakdown(ctx context.Context, actor audit.Actor, id SessionID) (Breakdown, error) {
	session, err := s.GetSession(ctx, actor, id)
	if err != nil {
		return Breakdown{}, err
	}
	return session.Breakdown(), nil
}

func startOfDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
