// Package memory provides an in-memory Store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/payout-engine/audit"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store implements payout.TxStore and audit.Store.
type Store struct {
	mu        sync.RWMutex
	sessions  map[payout.SessionID]payout.Session
	payouts   map[payout.PayoutID]payout.Payout
	bySession map[payout.SessionID]payout.PayoutID

	auditMu sync.RWMutex
	entries []audit.Entry
	seen    map[audit.EntryID]bool
}

func New() *Store {
	return &Store{
		sessions:  make(map[payout.SessionID]payout.Session),
		payouts:   make(map[payout.PayoutID]payout.Payout),
		bySession: make(map[payout.SessionID]payout.PayoutID),
		seen:      make(map[audit.EntryID]bool),
	}
}

// =============================================================================
// SESSIONS
// =============================================================================

func (m *Store) CreateSession(_ context.Context, s payout.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSessionLocked(s)
}

func (m *Store) GetSession(_ context.Context, id payout.SessionID) (payout.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSessionLocked(id)
}

func (m *Store) UpdateSession(_ context.Context, s payout.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateSessionLocked(s)
}

func (m *Store) DeleteSession(_ context.Context, id payout.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteSessionLocked(id)
}

func (m *Store) ListSessions(_ context.Context, mentorID payout.MentorID) ([]payout.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSessionsLocked(mentorID), nil
}

func (m *Store) createSessionLocked(s payout.Session) error {
	m.sessions[s.ID] = s
	return nil
}

func (m *Store) getSessionLocked(id payout.SessionID) (payout.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return payout.Session{}, payout.ErrSessionNotFound
	}
	return s, nil
}

func (m *Store) updateSessionLocked(s payout.Session) error {
	if _, ok := m.sessions[s.ID]; !ok {
		return payout.ErrSessionNotFound
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Store) deleteSessionLocked(id payout.SessionID) error {
	if _, ok := m.sessions[id]; !ok {
		return payout.ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *Store) listSessionsLocked(mentorID payout.MentorID) []payout.Session {
	var result []payout.Session
	for _, s := range m.sessions {
		if mentorID == "" || s.MentorID == mentorID {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

// =============================================================================
// PAYOUTS
// =============================================================================

func (m *Store) CreatePayout(_ context.Context, p payout.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPayoutLocked(p)
}

func (m *Store) GetPayout(_ context.Context, id payout.PayoutID) (payout.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPayoutLocked(id)
}

func (m *Store) PayoutForSession(_ context.Context, sessionID payout.SessionID) (payout.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.payoutForSessionLocked(sessionID)
}

func (m *Store) UpdatePayoutStatus(_ context.Context, id payout.PayoutID, upd payout.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePayoutStatusLocked(id, upd)
}

func (m *Store) ListPayouts(_ context.Context, f payout.PayoutFilter) ([]payout.Payout, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items, total := m.listPayoutsLocked(f)
	return items, total, nil
}

func (m *Store) createPayoutLocked(p payout.Payout) error {
	// one payout per session
	if _, ok := m.bySession[p.SessionID]; ok {
		return payout.ErrAlreadyProcessed
	}
	m.payouts[p.ID] = p
	m.bySession[p.SessionID] = p.ID
	return nil
}

func (m *Store) getPayoutLocked(id payout.PayoutID) (payout.Payout, error) {
	p, ok := m.payouts[id]
	if !ok {
		return payout.Payout{}, payout.ErrPayoutNotFound
	}
	return p, nil
}

func (m *Store) payoutForSessionLocked(sessionID payout.SessionID) (payout.Payout, error) {
	id, ok := m.bySession[sessionID]
	if !ok {
		return payout.Payout{}, payout.ErrPayoutNotFound
	}
	return m.payouts[id], nil
}

func (m *Store) updatePayoutStatusLocked(id payout.PayoutID, upd payout.StatusUpdate) error {
	p, ok := m.payouts[id]
	if !ok {
		return payout.ErrPayoutNotFound
	}
	if p.Status != upd.From {
		return payout.ErrConcurrentModification
	}
	p.Status = upd.To
	p.UpdatedAt = upd.At
	if upd.PaymentMethod != "" {
		p.PaymentMethod = upd.PaymentMethod
	}
	if upd.PaidDate != nil {
		p.PaidDate = upd.PaidDate
	}
	m.payouts[id] = p
	return nil
}

func (m *Store) listPayoutsLocked(f payout.PayoutFilter) ([]payout.Payout, int) {
	var matched []payout.Payout
	for _, p := range m.payouts {
		if f.MentorID != "" && p.MentorID != f.MentorID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if f.Offset >= total {
		return []payout.Payout{}, total
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Store) WithTx(ctx context.Context, fn func(payout.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	sessions  map[payout.SessionID]payout.Session
	payouts   map[payout.PayoutID]payout.Payout
	bySession map[payout.SessionID]payout.PayoutID
}

func (m *Store) snapshot() snapshot {
	s := snapshot{
		sessions:  make(map[payout.SessionID]payout.Session, len(m.sessions)),
		payouts:   make(map[payout.PayoutID]payout.Payout, len(m.payouts)),
		bySession: make(map[payout.SessionID]payout.PayoutID, len(m.bySession)),
	}
	for k, v := range m.sessions {
		s.sessions[k] = v
	}
	for k, v := range m.payouts {
		s.payouts[k] = v
	}
	for k, v := range m.bySession {
		s.bySession[k] = v
	}
	return s
}

func (m *Store) restore(s snapshot) {
	m.sessions = s.sessions
	m.payouts = s.payouts
	m.bySession = s.bySession
}

// txView runs against the parent's maps while WithTx holds the lock.
type txView struct {
	parent *Store
}

func (tv *txView) CreateSession(_ context.Context, s payout.Session) error {
	return tv.parent.createSessionLocked(s)
}

func (tv *txView) GetSession(_ context.Context, id payout.SessionID) (payout.Session, error) {
	return tv.parent.getSessionLocked(id)
}

func (tv *txView) UpdateSession(_ context.Context, s payout.Session) error {
	return tv.parent.updateSessionLocked(s)
}

func (tv *txView) DeleteSession(_ context.Context, id payout.SessionID) error {
	return tv.parent.deleteSessionLocked(id)
}

func (tv *txView) ListSessions(_ context.Context, mentorID payout.MentorID) ([]payout.Session, error) {
	return tv.parent.listSessionsLocked(mentorID), nil
}

func (tv *txView) CreatePayout(_ context.Context, p payout.Payout) error {
	return tv.parent.createPayoutLocked(p)
}

func (tv *txView) GetPayout(_ context.Context, id payout.PayoutID) (payout.Payout, error) {
	return tv.parent.getPayoutLocked(id)
}

func (tv *txView) PayoutForSession(_ context.Context, sessionID payout.SessionID) (payout.Payout, error) {
	return tv.parent.payoutForSessionLocked(sessionID)
}

func (tv *txView) UpdatePayoutStatus(_ context.Context, id payout.PayoutID, upd payout.StatusUpdate) error {
	return tv.parent.updatePayoutStatusLocked(id, upd)
}

func (tv *txView) ListPayouts(_ context.Context, f payout.PayoutFilter) ([]payout.Payout, int, error) {
	items, total := tv.parent.listPayoutsLocked(f)
	return items, total, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// Append adds an entry. Re-appending a known id is a no-op, which keeps
// repeated legacy imports idempotent.
func (m *Store) Append(_ context.Context, e audit.Entry) error {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	if m.seen[e.ID] {
		return nil
	}
	m.seen[e.ID] = true
	m.entries = append(m.entries, e)
	return nil
}

// Query scans every entry; fine for the volumes this store is used with.
func (m *Store) Query(_ context.Context, q audit.Query) (audit.Page, error) {
	m.auditMu.RLock()
	defer m.auditMu.RUnlock()

	byEmail := q.ByEmail()
	var matched []audit.Entry
	for _, e := range m.entries {
		if q.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return audit.Before(*audit.CursorFor(matched[i]), *audit.CursorFor(matched[j]), byEmail)
	})

	limit := q.PageLimit()
	var fetched []audit.Entry
	if q.Direction == audit.Backward {
		for i := len(matched) - 1; i >= 0 && len(fetched) <= limit; i-- {
			if q.Cursor == nil || audit.Before(*audit.CursorFor(matched[i]), *q.Cursor, byEmail) {
				fetched = append(fetched, matched[i])
			}
		}
	} else {
		for _, e := range matched {
			if len(fetched) > limit {
				break
			}
			if q.Cursor == nil || audit.Before(*q.Cursor, *audit.CursorFor(e), byEmail) {
				fetched = append(fetched, e)
			}
		}
	}
	return audit.Window(q, fetched), nil
}

// Entries returns a copy of the whole log in append order.
func (m *Store) Entries() []audit.Entry {
	m.auditMu.RLock()
	defer m.auditMu.RUnlock()
	return append([]audit.Entry(nil), m.entries...)
}

func (m *Store) Ping(context.Context) error { return nil }
func (m *Store) Close() error               { return nil }
