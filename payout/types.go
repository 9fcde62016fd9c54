/*
Package payout provides the payout lifecycle and ledger computation engine.

PURPOSE:
  Turns a logged mentoring session into a monetary payout and moves that
  payout through its approval lifecycle. Every mutation is paired with an
  audit entry so support staff can reconstruct what happened.

KEY CONCEPTS IN THIS FILE (types.go):
  - Session: a billed mentoring engagement (rate x duration)
  - Payout: the settlement derived from exactly one Session
  - Status vocabularies for both entities
  - SessionInput: the validated shape callers submit

CANONICAL STATUS:
  A Session persists only Status (pending|review|paid) and Attended.
  IsPaid() and UIStatus() are derived on read so the two can never drift.

    Status   Attended  -> UIStatus
    paid     any       -> paid
    review   any       -> review
    pending  true      -> review   (approved, waiting for payment)
    pending  false     -> unpaid

SEE ALSO:
  - breakdown.go: gross/GST/taxes/fee/net computation
  - transitions.go: legal payout status transitions
  - service.go: orchestration of writes + audit entries
*/
package payout

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SessionID string
type PayoutID string
type MentorID string

// =============================================================================
// SESSION
// =============================================================================

type SessionType string

const (
	SessionOneOnOne SessionType = "oneOnOne"
	SessionGroup    SessionType = "group"
	SessionWorkshop SessionType = "workshop"
	SessionReview   SessionType = "review"
)

func (t SessionType) Valid() bool {
	switch t {
	case SessionOneOnOne, SessionGroup, SessionWorkshop, SessionReview:
		return true
	}
	return false
}

// SessionStatus is the persisted lifecycle of a session. It is a separate
// vocabulary from PayoutStatus.
type SessionStatus string

const (
	SessionPending     SessionStatus = "pending"
	SessionUnderReview SessionStatus = "review"
	SessionPaid        SessionStatus = "paid"
)

// UIStatus is the dashboard bucket a session falls into.
type UIStatus string

const (
	UIUnpaid UIStatus = "unpaid"
	UIReview UIStatus = "review"
	UIPaid   UIStatus = "paid"
)

// MinDurationMinutes is the shortest billable session.
const MinDurationMinutes = 15

type Session struct {
	ID              SessionID
	MentorID        MentorID
	MentorEmail     string
	Type            SessionType
	Date            time.Time
	DurationMinutes int
	RatePerHour     decimal.Decimal
	Notes           string

	Status     SessionStatus
	Attended   bool
	AttendedAt *time.Time
	ReviewedBy string
	ReviewedAt *time.Time

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s Session) IsPaid() bool { return s.Status == SessionPaid }

func (s Session) UIStatus() UIStatus {
	switch {
	case s.Status == SessionPaid:
		return UIPaid
	case s.Status == SessionUnderReview, s.Attended:
		return UIReview
	default:
		return UIUnpaid
	}
}

// Breakdown computes the payout figures this session would produce.
func (s Session) Breakdown() Breakdown {
	return ComputeBreakdown(s.RatePerHour, s.DurationMinutes)
}

// SessionInput carries the editable fields of a session.
type SessionInput struct {
	MentorID        MentorID
	MentorEmail     string
	Type            SessionType
	Date            time.Time
	DurationMinutes int
	RatePerHour     decimal.Decimal
	Notes           string
}

// Validate enforces the calculator's preconditions and the field rules.
// It must pass before a session reaches the store.
func (in SessionInput) Validate() error {
	if in.MentorID == "" {
		return &ValidationError{Field: "mentorId", Message: "mentor is required"}
	}
	if strings.TrimSpace(in.MentorEmail) == "" {
		return &ValidationError{Field: "mentorEmail", Message: "mentor email is required"}
	}
	if !in.Type.Valid() {
		return &ValidationError{Field: "sessionType", Message: "unknown session type " + string(in.Type)}
	}
	if in.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "date is required"}
	}
	if in.DurationMinutes < MinDurationMinutes {
		return &ValidationError{Field: "duration", Message: "duration must be at least 15 minutes"}
	}
	if !in.RatePerHour.IsPositive() {
		return &ValidationError{Field: "ratePerHour", Message: "rate per hour must be positive"}
	}
	return nil
}

func (in SessionInput) apply(s *Session) {
	s.MentorID = in.MentorID
	s.MentorEmail = in.MentorEmail
	s.Type = in.Type
	s.Date = in.Date.UTC()
	s.DurationMinutes = in.DurationMinutes
	s.RatePerHour = in.RatePerHour
	s.Notes = in.Notes
}

// =============================================================================
// PAYOUT
// =============================================================================

type PayoutStatus string

const (
	PayoutUnderReview PayoutStatus = "underReview"
	PayoutPending     PayoutStatus = "pending"
	PayoutPaid        PayoutStatus = "paid"
)

func (s PayoutStatus) Valid() bool {
	switch s {
	case PayoutUnderReview, PayoutPending, PayoutPaid:
		return true
	}
	return false
}

// Active reports whether a payout in this status locks its session.
func (s PayoutStatus) Active() bool {
	return s == PayoutPending || s == PayoutPaid
}

type PaymentMethod string

const (
	MethodCard       PaymentMethod = "card"
	MethodUPI        PaymentMethod = "upi"
	MethodNetBanking PaymentMethod = "netbanking"
	MethodWallet     PaymentMethod = "wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodUPI, MethodNetBanking, MethodWallet:
		return true
	}
	return false
}

// Payout is the settlement of one session. Amounts are fixed at creation.
type Payout struct {
	ID          PayoutID
	SessionID   SessionID
	MentorID    MentorID
	MentorEmail string
	SessionType SessionType
	SessionDate time.Time

	Breakdown

	Status PayoutStatus

	// PaymentMethod holds the sealed value, never the plaintext.
	PaymentMethod string
	PaidDate      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusUpdate is a compare-and-set payload for a payout status write.
type StatusUpdate struct {
	From          PayoutStatus
	To            PayoutStatus
	PaymentMethod string
	PaidDate      *time.Time
	At            time.Time
}

// PayoutFilter selects payouts for listing. Zero values mean "any".
type PayoutFilter struct {
	MentorID MentorID
	Status   PayoutStatus
	Offset   int
	Limit    int
}

// SessionFilter selects sessions for listing. Zero values mean "any".
type SessionFilter struct {
	MentorID MentorID
	UIStatus UIStatus
}

// SessionSummary counts sessions per dashboard bucket.
type SessionSummary struct {
	Unpaid int
	Review int
	Paid   int
}

func (s SessionSummary) Total() int { return s.Unpaid + s.Review + s.Paid }
