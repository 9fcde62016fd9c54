/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements payout.TxStore and audit.Store on a single SQLite file. This
  is the default backend for single-node deployments; store/postgres
  covers the same interfaces for shared deployments.

INTERFACES IMPLEMENTED:
  payout.TxStore: sessions, payouts, transactions
  audit.Store:    append-only audit log with keyset paging

KEY TABLES:
  sessions:   billed engagements (money as exact decimal TEXT)
  payouts:    one row per session, amounts never updated
  audit_logs: append-only, timestamps as unix millis

INDEXES:
  - idx_payouts_session (UNIQUE): at most one payout per session
  - idx_audit_ts:        default viewer order (ts DESC, id DESC)
  - idx_audit_email_ts:  email-prefix order (email ASC, ts DESC, id DESC)
  - idx_audit_action_ts: action filter

COMPARE-AND-SET:
  Status writes are UPDATE ... WHERE id = ? AND status = ?. Zero rows
  affected means someone else moved the payout first.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so a
  ":memory:" database is shared by every caller.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/payouts.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - payout/store.go: Interface definitions
  - audit/query.go:  Ordering and cursor rules
  - store/memory:    In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/audit"
	"github.com/warp/payout-engine/payout"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		mentor_id TEXT NOT NULL,
		mentor_email TEXT NOT NULL,
		session_type TEXT NOT NULL,
		session_date INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL,
		rate_per_hour TEXT NOT NULL,
		notes TEXT,
		status TEXT NOT NULL,
		attended INTEGER NOT NULL DEFAULT 0,
		attended_at INTEGER,
		reviewed_by TEXT,
		reviewed_at INTEGER,
		created_by TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_mentor_date
		ON sessions(mentor_id, session_date DESC);

	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		mentor_id TEXT NOT NULL,
		mentor_email TEXT NOT NULL,
		session_type TEXT NOT NULL,
		session_date INTEGER NOT NULL,
		gross_amount TEXT NOT NULL,
		gst TEXT NOT NULL,
		taxes TEXT NOT NULL,
		platform_fee TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT,
		paid_date INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- At most one payout per session
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payouts_session
		ON payouts(session_id);
	CREATE INDEX IF NOT EXISTS idx_payouts_mentor_created
		ON payouts(mentor_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_payouts_status_created
		ON payouts(status, created_at DESC);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		schema_version INTEGER NOT NULL,
		actor_id TEXT NOT NULL,
		actor_email TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action_type TEXT NOT NULL,
		target_type TEXT,
		target_id TEXT,
		details TEXT,
		before_json TEXT,
		after_json TEXT,
		ts INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_ts
		ON audit_logs(ts DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_email_ts
		ON audit_logs(actor_email, ts DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_action_ts
		ON audit_logs(action_type, ts DESC, id DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SESSION STORE
// =============================================================================

const sessionColumns = `id, mentor_id, mentor_email, session_type, session_date, duration_minutes,
	rate_per_hour, notes, status, attended, attended_at, reviewed_by, reviewed_at,
	created_by, created_at, updated_at`

func (s *Store) CreateSession(ctx context.Context, session payout.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createSession(ctx, s.db, session)
}

func (s *Store) GetSession(ctx context.Context, id payout.SessionID) (payout.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSession(ctx, s.db, id)
}

func (s *Store) UpdateSession(ctx context.Context, session payout.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateSession(ctx, s.db, session)
}

func (s *Store) DeleteSession(ctx context.Context, id payout.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteSession(ctx, s.db, id)
}

func (s *Store) ListSessions(ctx context.Context, mentorID payout.MentorID) ([]payout.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSessions(ctx, s.db, mentorID)
}

func createSession(ctx context.Context, q querier, session payout.Session) error {
	query := `INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		session.ID,
		session.MentorID,
		session.MentorEmail,
		session.Type,
		session.Date.UnixMilli(),
		session.DurationMinutes,
		session.RatePerHour.String(),
		nullString(session.Notes),
		session.Status,
		session.Attended,
		nullMillis(session.AttendedAt),
		nullString(session.ReviewedBy),
		nullMillis(session.ReviewedAt),
		session.CreatedBy,
		session.CreatedAt.UnixMilli(),
		session.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func getSession(ctx context.Context, q querier, id payout.SessionID) (payout.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payout.Session{}, payout.ErrSessionNotFound
	}
	return session, err
}

func updateSession(ctx context.Context, q querier, session payout.Session) error {
	query := `
		UPDATE sessions SET
			mentor_id = ?, mentor_email = ?, session_type = ?, session_date = ?,
			duration_minutes = ?, rate_per_hour = ?, notes = ?, status = ?,
			attended = ?, attended_at = ?, reviewed_by = ?, reviewed_at = ?,
			updated_at = ?
		WHERE id = ?
	`
	res, err := q.ExecContext(ctx, query,
		session.MentorID,
		session.MentorEmail,
		session.Type,
		session.Date.UnixMilli(),
		session.DurationMinutes,
		session.RatePerHour.String(),
		nullString(session.Notes),
		session.Status,
		session.Attended,
		nullMillis(session.AttendedAt),
		nullString(session.ReviewedBy),
		nullMillis(session.ReviewedAt),
		session.UpdatedAt.UnixMilli(),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return expectOne(res, payout.ErrSessionNotFound)
}

func deleteSession(ctx context.Context, q querier, id payout.SessionID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return expectOne(res, payout.ErrSessionNotFound)
}

func listSessions(ctx context.Context, q querier, mentorID payout.MentorID) ([]payout.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if mentorID != "" {
		query += ` WHERE mentor_id = ?`
		args = append(args, mentorID)
	}
	query += ` ORDER BY session_date DESC, id DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []payout.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (payout.Session, error) {
	var (
		session    payout.Session
		date       int64
		rate       string
		notes      sql.NullString
		attendedAt sql.NullInt64
		reviewedBy sql.NullString
		reviewedAt sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)

	err := row.Scan(
		&session.ID, &session.MentorID, &session.MentorEmail, &session.Type,
		&date, &session.DurationMinutes, &rate, &notes, &session.Status,
		&session.Attended, &attendedAt, &reviewedBy, &reviewedAt,
		&session.CreatedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session, err
		}
		return session, fmt.Errorf("failed to scan session: %w", err)
	}

	session.RatePerHour, err = decimal.NewFromString(rate)
	if err != nil {
		return session, fmt.Errorf("corrupt rate for session %s: %w", session.ID, err)
	}
	session.Date = fromMillis(date)
	session.Notes = notes.String
	session.AttendedAt = timePtr(attendedAt)
	session.ReviewedBy = reviewedBy.String
	session.ReviewedAt = timePtr(reviewedAt)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	return session, nil
}

// =============================================================================
// PAYOUT STORE
// =============================================================================

const payoutColumns = `id, session_id, mentor_id, mentor_email, session_type, session_date,
	gross_amount, gst, taxes, platform_fee, net_amount, status, payment_method, paid_date,
	created_at, updated_at`

func (s *Store) CreatePayout(ctx context.Context, p payout.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createPayout(ctx, s.db, p)
}

func (s *Store) GetPayout(ctx context.Context, id payout.PayoutID) (payout.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPayout(ctx, s.db, `id = ?`, id)
}

func (s *Store) PayoutForSession(ctx context.Context, sessionID payout.SessionID) (payout.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPayout(ctx, s.db, `session_id = ?`, sessionID)
}

func (s *Store) UpdatePayoutStatus(ctx context.Context, id payout.PayoutID, upd payout.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updatePayoutStatus(ctx, s.db, id, upd)
}

func (s *Store) ListPayouts(ctx context.Context, f payout.PayoutFilter) ([]payout.Payout, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPayouts(ctx, s.db, f)
}

func createPayout(ctx context.Context, q querier, p payout.Payout) error {
	query := `INSERT INTO payouts (` + payoutColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		p.ID,
		p.SessionID,
		p.MentorID,
		p.MentorEmail,
		p.SessionType,
		p.SessionDate.UnixMilli(),
		p.GrossAmount.String(),
		p.GST.String(),
		p.Taxes.String(),
		p.PlatformFee.String(),
		p.NetAmount.String(),
		p.Status,
		nullString(p.PaymentMethod),
		nullMillis(p.PaidDate),
		p.CreatedAt.UnixMilli(),
		p.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return payout.ErrAlreadyProcessed
		}
		return fmt.Errorf("failed to insert payout: %w", err)
	}
	return nil
}

func getPayout(ctx context.Context, q querier, where string, arg any) (payout.Payout, error) {
	row := q.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE `+where, arg)
	p, err := scanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payout.Payout{}, payout.ErrPayoutNotFound
	}
	return p, err
}

func updatePayoutStatus(ctx context.Context, q querier, id payout.PayoutID, upd payout.StatusUpdate) error {
	query := `
		UPDATE payouts SET
			status = ?,
			payment_method = COALESCE(?, payment_method),
			paid_date = COALESCE(?, paid_date),
			updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := q.ExecContext(ctx, query,
		upd.To,
		nullString(upd.PaymentMethod),
		nullMillis(upd.PaidDate),
		upd.At.UnixMilli(),
		id,
		upd.From,
	)
	if err != nil {
		return fmt.Errorf("failed to update payout status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Distinguish a missing payout from a lost race.
	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM payouts WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check payout: %w", err)
	}
	if exists == 0 {
		return payout.ErrPayoutNotFound
	}
	return payout.ErrConcurrentModification
}

func listPayouts(ctx context.Context, q querier, f payout.PayoutFilter) ([]payout.Payout, int, error) {
	var (
		where []string
		args  []any
	)
	if f.MentorID != "" {
		where = append(where, "mentor_id = ?")
		args = append(args, f.MentorID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM payouts`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payouts: %w", err)
	}

	query := `SELECT ` + payoutColumns + ` FROM payouts` + clause +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	payouts := []payout.Payout{}
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, 0, err
		}
		payouts = append(payouts, p)
	}
	return payouts, total, rows.Err()
}

func scanPayout(row scanner) (payout.Payout, error) {
	var (
		p                           payout.Payout
		sessionDate                 int64
		gross, gst, taxes, fee, net string
		method                      sql.NullString
		paidDate                    sql.NullInt64
		createdAt, updatedAt        int64
	)

	err := row.Scan(
		&p.ID, &p.SessionID, &p.MentorID, &p.MentorEmail, &p.SessionType, &sessionDate,
		&gross, &gst, &taxes, &fee, &net, &p.Status, &method, &paidDate,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan payout: %w", err)
	}

	amounts := []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&p.GrossAmount, gross}, {&p.GST, gst}, {&p.Taxes, taxes},
		{&p.PlatformFee, fee}, {&p.NetAmount, net},
	}
	for _, a := range amounts {
		if *a.dst, err = decimal.NewFromString(a.raw); err != nil {
			return p, fmt.Errorf("corrupt amount on payout %s: %w", p.ID, err)
		}
	}

	p.SessionDate = fromMillis(sessionDate)
	p.PaymentMethod = method.String
	p.PaidDate = timePtr(paidDate)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

// =============================================================================
// TRANSACTIONAL STORE (payout.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store payout.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateSession(ctx context.Context, session payout.Session) error {
	return createSession(ctx, ts.tx, session)
}

func (ts *txStore) GetSession(ctx context.Context, id payout.SessionID) (payout.Session, error) {
	return getSession(ctx, ts.tx, id)
}

func (ts *txStore) UpdateSession(ctx context.Context, session payout.Session) error {
	return updateSession(ctx, ts.tx, session)
}

func (ts *txStore) DeleteSession(ctx context.Context, id payout.SessionID) error {
	return deleteSession(ctx, ts.tx, id)
}

func (ts *txStore) ListSessions(ctx context.Context, mentorID payout.MentorID) ([]payout.Session, error) {
	return listSessions(ctx, ts.tx, mentorID)
}

func (ts *txStore) CreatePayout(ctx context.Context, p payout.Payout) error {
	return createPayout(ctx, ts.tx, p)
}

func (ts *txStore) GetPayout(ctx context.Context, id payout.PayoutID) (payout.Payout, error) {
	return getPayout(ctx, ts.tx, `id = ?`, id)
}

func (ts *txStore) PayoutForSession(ctx context.Context, sessionID payout.SessionID) (payout.Payout, error) {
	return getPayout(ctx, ts.tx, `session_id = ?`, sessionID)
}

func (ts *txStore) UpdatePayoutStatus(ctx context.Context, id payout.PayoutID, upd payout.StatusUpdate) error {
	return updatePayoutStatus(ctx, ts.tx, id, upd)
}

func (ts *txStore) ListPayouts(ctx context.Context, f payout.PayoutFilter) ([]payout.Payout, int, error) {
	return listPayouts(ctx, ts.tx, f)
}

// =============================================================================
// AUDIT STORE (audit.Store interface)
// =============================================================================

// Append inserts an entry. A known id is ignored, so replaying an import
// does not duplicate history.
func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := marshalData(e.Before)
	if err != nil {
		return err
	}
	after, err := marshalData(e.After)
	if err != nil {
		return err
	}

	query := `
		INSERT OR IGNORE INTO audit_logs
		(id, schema_version, actor_id, actor_email, actor_role, action_type,
		 target_type, target_id, details, before_json, after_json, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID,
		e.SchemaVersion,
		e.Actor.ID,
		e.Actor.Email,
		e.Actor.Role,
		e.Action,
		nullString(string(e.Target.Type)),
		nullString(e.Target.ID),
		nullString(e.Details),
		before,
		after,
		e.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query runs a keyset scan in the order audit.Query defines.
func (s *Store) Query(ctx context.Context, q audit.Query) (audit.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if q.Action != "" {
		where = append(where, "action_type = ?")
		args = append(args, q.Action)
	}
	byEmail := q.ByEmail()
	if byEmail {
		prefix := audit.NormalizeEmail(q.EmailPrefix)
		where = append(where, "substr(actor_email, 1, length(?)) = ?")
		args = append(args, prefix, prefix)
	}

	backward := q.Direction == audit.Backward
	if c := q.Cursor; c != nil {
		// Forward continues past the cursor in canonical order; backward
		// walks the other way.
		tsCmp, idCmp, emailCmp := "<", "<", ">"
		if backward {
			tsCmp, idCmp, emailCmp = ">", ">", "<"
		}
		ts := c.Timestamp.UnixMilli()
		inEmail := fmt.Sprintf("(ts %s ? OR (ts = ? AND id %s ?))", tsCmp, idCmp)
		if byEmail {
			where = append(where, fmt.Sprintf("(actor_email %s ? OR (actor_email = ? AND %s))", emailCmp, inEmail))
			args = append(args, c.Email, c.Email, ts, ts, c.ID)
		} else {
			where = append(where, inEmail)
			args = append(args, ts, ts, c.ID)
		}
	}

	order := "ts DESC, id DESC"
	if backward {
		order = "ts ASC, id ASC"
	}
	if byEmail {
		if backward {
			order = "actor_email DESC, " + order
		} else {
			order = "actor_email ASC, " + order
		}
	}

	query := `SELECT id, schema_version, actor_id, actor_email, actor_role, action_type,
		target_type, target_id, details, before_json, after_json, ts FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + order + " LIMIT ?"
	args = append(args, q.PageLimit()+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return audit.Page{}, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var fetched []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return audit.Page{}, err
		}
		fetched = append(fetched, e)
	}
	if err := rows.Err(); err != nil {
		return audit.Page{}, err
	}
	return audit.Window(q, fetched), nil
}

func scanEntry(row scanner) (audit.Entry, error) {
	var (
		e                    audit.Entry
		targetType, targetID sql.NullString
		details              sql.NullString
		before, after        sql.NullString
		ts                   int64
	)
	err := row.Scan(
		&e.ID, &e.SchemaVersion, &e.Actor.ID, &e.Actor.Email, &e.Actor.Role, &e.Action,
		&targetType, &targetID, &details, &before, &after, &ts,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	e.Target = audit.Target{Type: audit.TargetType(targetType.String), ID: targetID.String}
	e.Details = details.String
	e.Timestamp = fromMillis(ts)
	if e.Before, err = unmarshalData(before); err != nil {
		return e, err
	}
	if e.After, err = unmarshalData(after); err != nil {
		return e, err
	}
	return e, nil
}

// Reset clears all data (for testing/demo purposes).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"payouts", "sessions", "audit_logs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timePtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

func marshalData(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode audit data: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalData(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("corrupt audit data: %w", err)
	}
	return m, nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
