/*
Package postgres provides a PostgreSQL implementation of the storage
interfaces, for deployments where several server instances share one
database.

Same contract as store/sqlite. Differences:
  - Money is NUMERIC, read back as text so no float ever touches it.
  - Timestamps are TIMESTAMPTZ; the audit ts stays unix millis so cursors
    compare exactly.
  - Inside WithTx the payout row is read FOR UPDATE, so a second payer
    blocks until the first commits and then sees "paid".
*/
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/audit"
	"github.com/warp/payout-engine/payout"
)

//go:embed schema.sql
var schema string

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
	repo
}

// repo carries the queries. forUpdate is set on the copy handed to a
// transaction.
type repo struct {
	db        DBTX
	forUpdate bool
}

// Connect opens a pool and applies the schema.
func Connect(ctx context.Context, dbURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, repo: repo{db: pool}}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// WithTx runs fn inside a transaction. Returning an error rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(payout.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&repo{db: tx, forUpdate: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// SESSIONS
// =============================================================================

const sessionColumns = `id, mentor_id, mentor_email, session_type, session_date, duration_minutes,
	rate_per_hour::text, notes, status, attended, attended_at, reviewed_by, reviewed_at,
	created_by, created_at, updated_at`

func (r *repo) CreateSession(ctx context.Context, s payout.Session) error {
	query := `
		INSERT INTO sessions (id, mentor_id, mentor_email, session_type, session_date, duration_minutes,
			rate_per_hour, notes, status, attended, attended_at, reviewed_by, reviewed_at,
			created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Exec(ctx, query,
		string(s.ID), string(s.MentorID), s.MentorEmail, string(s.Type), s.Date, s.DurationMinutes,
		s.RatePerHour.String(), s.Notes, string(s.Status), s.Attended, s.AttendedAt,
		s.ReviewedBy, s.ReviewedAt, s.CreatedBy, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *repo) GetSession(ctx context.Context, id payout.SessionID) (payout.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	if r.forUpdate {
		query += ` FOR UPDATE`
	}
	s, err := scanSession(r.db.QueryRow(ctx, query, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return payout.Session{}, payout.ErrSessionNotFound
	}
	return s, err
}

func (r *repo) UpdateSession(ctx context.Context, s payout.Session) error {
	query := `
		UPDATE sessions SET
			mentor_id = $2, mentor_email = $3, session_type = $4, session_date = $5,
			duration_minutes = $6, rate_per_hour = $7, notes = $8, status = $9,
			attended = $10, attended_at = $11, reviewed_by = $12, reviewed_at = $13,
			updated_at = $14
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		string(s.ID), string(s.MentorID), s.MentorEmail, string(s.Type), s.Date, s.DurationMinutes,
		s.RatePerHour.String(), s.Notes, string(s.Status), s.Attended, s.AttendedAt,
		s.ReviewedBy, s.ReviewedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payout.ErrSessionNotFound
	}
	return nil
}

func (r *repo) DeleteSession(ctx context.Context, id payout.SessionID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payout.ErrSessionNotFound
	}
	return nil
}

func (r *repo) ListSessions(ctx context.Context, mentorID payout.MentorID) ([]payout.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if mentorID != "" {
		query += ` WHERE mentor_id = $1`
		args = append(args, string(mentorID))
	}
	query += ` ORDER BY session_date DESC, id DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []payout.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (payout.Session, error) {
	var (
		s                                 payout.Session
		id, mentorID, sessionType, status string
		rate                              string
	)
	err := row.Scan(
		&id, &mentorID, &s.MentorEmail, &sessionType, &s.Date, &s.DurationMinutes,
		&rate, &s.Notes, &status, &s.Attended, &s.AttendedAt, &s.ReviewedBy, &s.ReviewedAt,
		&s.CreatedBy, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("failed to scan session: %w", err)
	}
	s.ID = payout.SessionID(id)
	s.MentorID = payout.MentorID(mentorID)
	s.Type = payout.SessionType(sessionType)
	s.Status = payout.SessionStatus(status)
	if s.RatePerHour, err = decimal.NewFromString(rate); err != nil {
		return s, fmt.Errorf("corrupt rate for session %s: %w", id, err)
	}
	s.Date = s.Date.UTC()
	return s, nil
}

// =============================================================================
// PAYOUTS
// =============================================================================

const payoutColumns = `id, session_id, mentor_id, mentor_email, session_type, session_date,
	gross_amount::text, gst::text, taxes::text, platform_fee::text, net_amount::text,
	status, payment_method, paid_date, created_at, updated_at`

func (r *repo) CreatePayout(ctx context.Context, p payout.Payout) error {
	query := `
		INSERT INTO payouts (id, session_id, mentor_id, mentor_email, session_type, session_date,
			gross_amount, gst, taxes, platform_fee, net_amount, status, payment_method, paid_date,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Exec(ctx, query,
		string(p.ID), string(p.SessionID), string(p.MentorID), p.MentorEmail, string(p.SessionType), p.SessionDate,
		p.GrossAmount.String(), p.GST.String(), p.Taxes.String(), p.PlatformFee.String(), p.NetAmount.String(),
		string(p.Status), p.PaymentMethod, p.PaidDate, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return payout.ErrAlreadyProcessed
		}
		return fmt.Errorf("failed to insert payout: %w", err)
	}
	return nil
}

func (r *repo) GetPayout(ctx context.Context, id payout.PayoutID) (payout.Payout, error) {
	return r.getPayout(ctx, `id = $1`, string(id))
}

func (r *repo) PayoutForSession(ctx context.Context, sessionID payout.SessionID) (payout.Payout, error) {
	return r.getPayout(ctx, `session_id = $1`, string(sessionID))
}

func (r *repo) getPayout(ctx context.Context, where string, arg any) (payout.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE ` + where
	if r.forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPayout(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return payout.Payout{}, payout.ErrPayoutNotFound
	}
	return p, err
}

func (r *repo) UpdatePayoutStatus(ctx context.Context, id payout.PayoutID, upd payout.StatusUpdate) error {
	query := `
		UPDATE payouts SET
			status = $3,
			payment_method = COALESCE(NULLIF($4, ''), payment_method),
			paid_date = COALESCE($5, paid_date),
			updated_at = $6
		WHERE id = $1 AND status = $2
	`
	tag, err := r.db.Exec(ctx, query, string(id), string(upd.From), string(upd.To),
		upd.PaymentMethod, upd.PaidDate, upd.At)
	if err != nil {
		return fmt.Errorf("failed to update payout status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payouts WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check payout: %w", err)
	}
	if !exists {
		return payout.ErrPayoutNotFound
	}
	return payout.ErrConcurrentModification
}

func (r *repo) ListPayouts(ctx context.Context, f payout.PayoutFilter) ([]payout.Payout, int, error) {
	var b argBuilder
	if f.MentorID != "" {
		b.where("mentor_id = " + b.arg(string(f.MentorID)))
	}
	if f.Status != "" {
		b.where("status = " + b.arg(string(f.Status)))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM payouts`+b.clause(), b.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payouts: %w", err)
	}

	query := `SELECT ` + payoutColumns + ` FROM payouts` + b.clause() + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + b.arg(f.Limit)
	}
	query += ` OFFSET ` + b.arg(f.Offset)

	rows, err := r.db.Query(ctx, query, b.args...)
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

func scanPayout(row pgx.Row) (payout.Payout, error) {
	var (
		p                                            payout.Payout
		id, sessionID, mentorID, sessionType, status string
		gross, gst, taxes, fee, net                  string
	)
	err := row.Scan(
		&id, &sessionID, &mentorID, &p.MentorEmail, &sessionType, &p.SessionDate,
		&gross, &gst, &taxes, &fee, &net,
		&status, &p.PaymentMethod, &p.PaidDate, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan payout: %w", err)
	}
	p.ID = payout.PayoutID(id)
	p.SessionID = payout.SessionID(sessionID)
	p.MentorID = payout.MentorID(mentorID)
	p.SessionType = payout.SessionType(sessionType)
	p.Status = payout.PayoutStatus(status)
	p.SessionDate = p.SessionDate.UTC()

	for _, a := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&p.GrossAmount, gross}, {&p.GST, gst}, {&p.Taxes, taxes}, {&p.PlatformFee, fee}, {&p.NetAmount, net}} {
		if *a.dst, err = decimal.NewFromString(a.raw); err != nil {
			return p, fmt.Errorf("corrupt amount on payout %s: %w", id, err)
		}
	}
	return p, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	before, err := marshalData(e.Before)
	if err != nil {
		return err
	}
	after, err := marshalData(e.After)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_logs (id, schema_version, actor_id, actor_email, actor_role, action_type,
			target_type, target_id, details, before_data, after_data, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.pool.Exec(ctx, query,
		string(e.ID), e.SchemaVersion, e.Actor.ID, e.Actor.Email, string(e.Actor.Role), string(e.Action),
		string(e.Target.Type), e.Target.ID, e.Details, before, after, e.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q audit.Query) (audit.Page, error) {
	var b argBuilder
	if q.Action != "" {
		b.where("action_type = " + b.arg(string(q.Action)))
	}
	byEmail := q.ByEmail()
	if byEmail {
		p := b.arg(audit.NormalizeEmail(q.EmailPrefix))
		b.where(fmt.Sprintf("left(actor_email, length(%s)) = %s", p, p))
	}

	backward := q.Direction == audit.Backward
	if c := q.Cursor; c != nil {
		tsCmp, idCmp, emailCmp := "<", "<", ">"
		if backward {
			tsCmp, idCmp, emailCmp = ">", ">", "<"
		}
		ts, id := b.arg(c.Timestamp.UnixMilli()), b.arg(string(c.ID))
		inEmail := fmt.Sprintf("(ts %s %s OR (ts = %s AND id %s %s))", tsCmp, ts, ts, idCmp, id)
		if byEmail {
			email := b.arg(c.Email)
			b.where(fmt.Sprintf("(actor_email %s %s OR (actor_email = %s AND %s))", emailCmp, email, email, inEmail))
		} else {
			b.where(inEmail)
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
		target_type, target_id, details, before_data, after_data, ts FROM audit_logs` +
		b.clause() + ` ORDER BY ` + order + ` LIMIT ` + b.arg(q.PageLimit()+1)

	rows, err := s.pool.Query(ctx, query, b.args...)
	if err != nil {
		return audit.Page{}, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var fetched []audit.Entry
	for rows.Next() {
		var (
			e                            audit.Entry
			id, role, action, targetType string
			before, after                []byte
			ts                           int64
		)
		if err := rows.Scan(&id, &e.SchemaVersion, &e.Actor.ID, &e.Actor.Email, &role, &action,
			&targetType, &e.Target.ID, &e.Details, &before, &after, &ts); err != nil {
			return audit.Page{}, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.ID = audit.EntryID(id)
		e.Actor.Role = audit.Role(role)
		e.Action = audit.Action(action)
		e.Target.Type = audit.TargetType(targetType)
		e.Timestamp = time.UnixMilli(ts).UTC()
		if e.Before, err = unmarshalData(before); err != nil {
			return audit.Page{}, err
		}
		if e.After, err = unmarshalData(after); err != nil {
			return audit.Page{}, err
		}
		fetched = append(fetched, e)
	}
	if err := rows.Err(); err != nil {
		return audit.Page{}, err
	}
	return audit.Window(q, fetched), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// argBuilder numbers positional parameters as conditions are added.
type argBuilder struct {
	args  []any
	conds []string
}

func (b *argBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *argBuilder) where(cond string) { b.conds = append(b.conds, cond) }

func (b *argBuilder) clause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

func marshalData(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit data: %w", err)
	}
	return raw, nil
}

func unmarshalData(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("corrupt audit data: %w", err)
	}
	return m, nil
}
