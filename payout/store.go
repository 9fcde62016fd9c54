/*
store.go - Persistence interfaces for sessions and payouts

KEY INTERFACES:
  SessionStore: create/read/update/delete/list sessions
  PayoutStore:  create/read/list payouts, compare-and-set status writes
  Store:        both of the above
  TxStore:      Store plus WithTx for atomic multi-record writes

COMPARE-AND-SET:
  UpdatePayoutStatus only succeeds when the stored status equals
  StatusUpdate.From. Otherwise it returns ErrConcurrentModification and
  writes nothing. Inside WithTx this closes the double-pay race: the
  second admin's transaction observes "paid" and is rejected.

IMMUTABILITY:
  There is no general payout update. Amounts are written once by
  CreatePayout; afterwards only status, paid date and the sealed payment
  method change, and only through UpdatePayoutStatus.

IMPLEMENTATIONS:
  - store/memory:   in-memory with snapshot rollback (tests, dev)
  - store/sqlite:   SQLite
  - store/postgres: PostgreSQL via pgx
*/
package payout

import "context"

type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error
	// GetSession returns ErrSessionNotFound for unknown ids.
	GetSession(ctx context.Context, id SessionID) (Session, error)
	UpdateSession(ctx context.Context, s Session) error
	DeleteSession(ctx context.Context, id SessionID) error
	// ListSessions returns a mentor's sessions ordered by date descending.
	// An empty mentor id lists every session.
	ListSessions(ctx context.Context, mentorID MentorID) ([]Session, error)
}

type PayoutStore interface {
	CreatePayout(ctx context.Context, p Payout) error
	// GetPayout returns ErrPayoutNotFound for unknown ids.
	GetPayout(ctx context.Context, id PayoutID) (Payout, error)
	// PayoutForSession returns the payout of a session, or ErrPayoutNotFound.
	PayoutForSession(ctx context.Context, sessionID SessionID) (Payout, error)
	UpdatePayoutStatus(ctx context.Context, id PayoutID, upd StatusUpdate) error
	// ListPayouts orders by creation time descending and reports the total
	// number of matches before paging.
	ListPayouts(ctx context.Context, f PayoutFilter) ([]Payout, int, error)
}

type Store interface {
	SessionStore
	PayoutStore
}

// TxStore wraps Store with transaction support.
// If fn returns an error every write made through the Store it receives
// is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
