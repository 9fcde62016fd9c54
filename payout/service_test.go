package payout_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payout-engine/audit"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/store/memory"
	"github.com/warp/payout-engine/vault"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	admin    = audit.Actor{ID: "admin-1", Email: "ops@example.com", Role: audit.RoleAdmin}
	mentor   = audit.Actor{ID: "mentor-1", Email: "ana@example.com", Role: audit.RoleMentor}
	stranger = audit.Actor{ID: "mentor-2", Email: "bo@example.com", Role: audit.RoleMentor}
)

type testEnv struct {
	svc   *payout.Service
	store *memory.Store
	vault *vault.Vault
}

// tickingClock starts at testNow and advances one millisecond per call so
// audit entries keep a stable order.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := testNow
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return v
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memory.New()
	return newTestEnvWith(t, st, st)
}

func newTestEnvWith(t *testing.T, st payout.TxStore, auditStore audit.Store, opts ...payout.Option) *testEnv {
	t.Helper()
	v := newTestVault(t)
	rec := audit.NewRecorder(auditStore, discardLogger(),
		audit.WithRetry(2, 0),
		audit.WithClock(tickingClock()))
	opts = append([]payout.Option{
		payout.WithClock(func() time.Time { return testNow }),
		payout.WithLogger(discardLogger()),
	}, opts...)
	svc := payout.NewService(st, rec, v, opts...)

	env := &testEnv{svc: svc, vault: v}
	if m, ok := st.(*memory.Store); ok {
		env.store = m
	}
	return env
}

func sessionInput(mentorID payout.MentorID, rate string, minutes int) payout.SessionInput {
	return payout.SessionInput{
		MentorID:        mentorID,
		MentorEmail:     "ana@example.com",
		Type:            payout.SessionOneOnOne,
		Date:            testNow.Add(24 * time.Hour),
		DurationMinutes: minutes,
		RatePerHour:     decimal.RequireFromString(rate),
	}
}

func (e *testEnv) createSession(t *testing.T) payout.Session {
	t.Helper()
	s, err := e.svc.CreateSession(context.Background(), admin, sessionInput("mentor-1", "50", 60))
	require.NoError(t, err)
	return s
}

func (e *testEnv) attended(t *testing.T) (payout.Session, payout.Payout) {
	t.Helper()
	s := e.createSession(t)
	p, err := e.svc.MarkAttended(context.Background(), mentor, s.ID)
	require.NoError(t, err)
	return s, p
}

func (e *testEnv) actions() []audit.Action {
	var out []audit.Action
	for _, entry := range e.store.Entries() {
		out = append(out, entry.Action)
	}
	return out
}

// failingAuditStore rejects every append.
type failingAuditStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingAuditStore) Append(context.Context, audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("audit store unavailable")
}

func (f *failingAuditStore) Query(context.Context, audit.Query) (audit.Page, error) {
	return audit.Page{}, nil
}

// conflictStore simulates a writer that got in between our read and our
// compare-and-set.
type conflictStore struct{ *memory.Store }

func (c conflictStore) WithTx(ctx context.Context, fn func(payout.Store) error) error {
	return c.Store.WithTx(ctx, func(tx payout.Store) error {
		return fn(conflictTx{tx})
	})
}

type conflictTx struct{ payout.Store }

func (conflictTx) UpdatePayoutStatus(context.Context, payout.PayoutID, payout.StatusUpdate) error {
	return payout.ErrConcurrentModification
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func TestMarkAttended_OpensPayoutUnderReview(t *testing.T) {
	// GIVEN: an unpaid $50 / 60 min session
	env := newTestEnv(t)
	s := env.createSession(t)
	assert.Equal(t, payout.UIUnpaid, s.UIStatus())

	// WHEN: the owning mentor confirms attendance
	p, err := env.svc.MarkAttended(context.Background(), mentor, s.ID)
	require.NoError(t, err)

	// THEN: an underReview payout carries the exact breakdown
	assert.Equal(t, payout.PayoutUnderReview, p.Status)
	assert.Equal(t, s.ID, p.SessionID)
	assert.True(t, decimal.RequireFromString("35.625").Equal(p.NetAmount))
	assert.True(t, decimal.RequireFromString("50").Equal(p.GrossAmount))

	// AND: the session moved to review
	got, err := env.svc.GetSession(context.Background(), admin, s.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.SessionUnderReview, got.Status)
	assert.True(t, got.Attended)
	assert.False(t, got.IsPaid())
	assert.Equal(t, payout.UIReview, got.UIStatus())
	require.NotNil(t, got.AttendedAt)

	// AND: attendance and payout creation are both audited
	assert.Equal(t, []audit.Action{
		audit.ActionCreateSession,
		audit.ActionMarkAttendance,
		audit.ActionCreatePayout,
	}, env.actions())
}

func TestMarkAttended_OnlyOwningMentor(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t)
	ctx := context.Background()

	_, err := env.svc.MarkAttended(ctx, stranger, s.ID)
	assert.ErrorIs(t, err, payout.ErrForbidden)

	_, err = env.svc.MarkAttended(ctx, admin, s.ID)
	assert.ErrorIs(t, err, payout.ErrForbidden)

	// nothing beyond the creation entry was written
	assert.Len(t, env.store.Entries(), 1)
}

func TestMarkAttended_Twice(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.attended(t)
	before := len(env.store.Entries())

	_, err := env.svc.MarkAttended(context.Background(), mentor, s.ID)

	assert.ErrorIs(t, err, payout.ErrAlreadyAttended)
	assert.Len(t, env.store.Entries(), before)
}

func TestMarkAttended_UnknownSession(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.MarkAttended(context.Background(), mentor, "missing")

	assert.ErrorIs(t, err, payout.ErrSessionNotFound)
	assert.Empty(t, env.store.Entries())
}

// =============================================================================
// MANUAL PAYOUTS
// =============================================================================

func TestCreatePayout_ManualStartsPending(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t)

	p, err := env.svc.CreatePayout(context.Background(), admin, s.ID)
	require.NoError(t, err)

	assert.Equal(t, payout.PayoutPending, p.Status)
	active, err := env.svc.HasActivePayout(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, []audit.Action{audit.ActionCreateSession, audit.ActionCreatePayout}, env.actions())
}

func TestCreatePayout_OnePerSession(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.attended(t)

	_, err := env.svc.CreatePayout(context.Background(), admin, s.ID)

	assert.ErrorIs(t, err, payout.ErrAlreadyProcessed)
}

func TestCreatePayout_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t)

	_, err := env.svc.CreatePayout(context.Background(), mentor, s.ID)

	assert.ErrorIs(t, err, payout.ErrForbidden)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestApprove_MovesToPending(t *testing.T) {
	// GIVEN: an attended session with an underReview payout
	env := newTestEnv(t)
	s, p := env.attended(t)
	ctx := context.Background()

	// WHEN: an admin approves it
	approved, err := env.svc.Approve(ctx, admin, p.ID)
	require.NoError(t, err)

	// THEN: payout is pending, session is approved but unpaid
	assert.Equal(t, payout.PayoutPending, approved.Status)
	assert.Nil(t, approved.PaidDate)

	got, err := env.svc.GetSession(ctx, admin, s.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.SessionPending, got.Status)
	assert.Equal(t, payout.UIReview, got.UIStatus())
	assert.Equal(t, admin.Email, got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)

	// AND: only the payout status change is audited
	entries := env.store.Entries()
	last := entries[len(entries)-1]
	assert.Equal(t, audit.ActionUpdatePayoutStatus, last.Action)
	assert.Equal(t, map[string]any{"status": "underReview"}, last.Before)
	assert.Equal(t, map[string]any{"status": "pending"}, last.After)
	assert.Len(t, entries, 4)
}

func TestPay_FromUnderReview(t *testing.T) {
	// GIVEN: an underReview payout
	env := newTestEnv(t)
	s, p := env.attended(t)
	ctx := context.Background()

	// WHEN: an admin pays it directly
	paid, err := env.svc.Pay(ctx, admin, p.ID, payout.MethodUPI)
	require.NoError(t, err)

	// THEN: the payout is paid with a sealed method
	assert.Equal(t, payout.PayoutPaid, paid.Status)
	require.NotNil(t, paid.PaidDate)
	assert.True(t, paid.PaidDate.Equal(testNow))
	assert.NotEqual(t, "upi", paid.PaymentMethod)
	method, err := env.vault.Open(string(p.ID), paid.PaymentMethod)
	require.NoError(t, err)
	assert.Equal(t, "upi", method)

	// AND: the session is paid and attended
	got, err := env.svc.GetSession(ctx, admin, s.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPaid())
	assert.True(t, got.Attended)
	assert.Equal(t, payout.UIPaid, got.UIStatus())

	// AND: both the payout and the session status changes are audited
	entries := env.store.Entries()
	require.Len(t, entries, 5)
	assert.Equal(t, audit.ActionUpdatePayoutStatus, entries[3].Action)
	assert.Equal(t, audit.Target{Type: audit.TargetPayout, ID: string(p.ID)}, entries[3].Target)
	assert.Equal(t, "paid", entries[3].After["status"])
	assert.Equal(t, testNow.UnixMilli(), entries[3].After["paidDate"])
	assert.Equal(t, audit.ActionUpdateSessionStatus, entries[4].Action)
	assert.Equal(t, audit.Target{Type: audit.TargetSession, ID: string(s.ID)}, entries[4].Target)
}

func TestPay_FromPending(t *testing.T) {
	// GIVEN: a manual payout, never attended
	env := newTestEnv(t)
	s := env.createSession(t)
	ctx := context.Background()
	p, err := env.svc.CreatePayout(ctx, admin, s.ID)
	require.NoError(t, err)

	// WHEN
	_, err = env.svc.Pay(ctx, admin, p.ID, payout.MethodCard)
	require.NoError(t, err)

	// THEN: the session is paid and marked attended
	got, err := env.svc.GetSession(ctx, admin, s.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.SessionPaid, got.Status)
	assert.True(t, got.Attended)

	// AND: only the payout change is audited
	assert.Equal(t, []audit.Action{
		audit.ActionCreateSession,
		audit.ActionCreatePayout,
		audit.ActionUpdatePayoutStatus,
	}, env.actions())
}

func TestPay_AlreadyPaidIsRejectedWithoutAudit(t *testing.T) {
	// GIVEN: a service clock that moves on every read
	st := memory.New()
	env := newTestEnvWith(t, st, st, payout.WithClock(tickingClock()))
	_, p := env.attended(t)
	ctx := context.Background()
	first, err := env.svc.Pay(ctx, admin, p.ID, payout.MethodUPI)
	require.NoError(t, err)
	entries := len(env.store.Entries())

	_, err = env.svc.Pay(ctx, admin, p.ID, payout.MethodCard)

	assert.ErrorIs(t, err, payout.ErrAlreadyProcessed)
	var te *payout.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, payout.PayoutPaid, te.From)
	assert.Len(t, env.store.Entries(), entries)

	// the stored record is untouched
	got, err := env.svc.GetPayout(ctx, admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, first.PaymentMethod, got.PaymentMethod)
	require.NotNil(t, got.PaidDate)
	assert.True(t, first.PaidDate.Equal(*got.PaidDate))
}

func TestPay_ConcurrentCallersSettleOnce(t *testing.T) {
	env := newTestEnv(t)
	_, p := env.attended(t)
	ctx := context.Background()

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		processed int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Pay(ctx, admin, p.ID, payout.MethodWallet)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, payout.ErrAlreadyProcessed):
				processed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, processed)

	var statusEntries int
	for _, a := range env.actions() {
		if a == audit.ActionUpdatePayoutStatus {
			statusEntries++
		}
	}
	assert.Equal(t, 1, statusEntries)
}

func TestPay_InvalidMethod(t *testing.T) {
	env := newTestEnv(t)
	_, p := env.attended(t)

	_, err := env.svc.Pay(context.Background(), admin, p.ID, "cash")

	assert.ErrorIs(t, err, payout.ErrInvalidPaymentMethod)
	assert.True(t, payout.IsClientError(err))
	got, err := env.svc.GetPayout(context.Background(), admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.PayoutUnderReview, got.Status)
}

func TestApprove_PendingIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t)
	p, err := env.svc.CreatePayout(context.Background(), admin, s.ID)
	require.NoError(t, err)

	_, err = env.svc.Approve(context.Background(), admin, p.ID)

	assert.ErrorIs(t, err, payout.ErrInvalidTransition)
	assert.False(t, errors.Is(err, payout.ErrAlreadyProcessed))
}

func TestTransitions_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	_, p := env.attended(t)
	ctx := context.Background()

	_, err := env.svc.Approve(ctx, mentor, p.ID)
	assert.ErrorIs(t, err, payout.ErrForbidden)
	_, err = env.svc.Pay(ctx, mentor, p.ID, payout.MethodUPI)
	assert.ErrorIs(t, err, payout.ErrForbidden)
}

func TestChangeStatus(t *testing.T) {
	env := newTestEnv(t)
	_, p := env.attended(t)
	ctx := context.Background()

	_, err := env.svc.ChangeStatus(ctx, admin, p.ID, payout.PayoutUnderReview, "")
	assert.ErrorIs(t, err, payout.ErrValidation)

	got, err := env.svc.ChangeStatus(ctx, admin, p.ID, payout.PayoutPending, "")
	require.NoError(t, err)
	assert.Equal(t, payout.PayoutPending, got.Status)

	got, err = env.svc.ChangeStatus(ctx, admin, p.ID, payout.PayoutPaid, payout.MethodNetBanking)
	require.NoError(t, err)
	assert.Equal(t, payout.PayoutPaid, got.Status)
}

func TestPay_UnknownPayoutWritesNoAudit(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Pay(context.Background(), admin, "missing", payout.MethodUPI)

	assert.ErrorIs(t, err, payout.ErrPayoutNotFound)
	assert.Empty(t, env.store.Entries())
}

func TestPay_ConcurrentModificationRollsBack(t *testing.T) {
	// GIVEN: a store whose compare-and-set always loses the race
	base := memory.New()
	env := newTestEnvWith(t, base, base)
	_, p := env.attended(t)
	racing := newTestEnvWith(t, conflictStore{base}, base)
	entries := len(base.Entries())

	// WHEN
	_, err := racing.svc.Pay(context.Background(), admin, p.ID, payout.MethodUPI)

	// THEN: the caller sees a conflict, nothing changed, nothing audited
	assert.ErrorIs(t, err, payout.ErrConcurrentModification)
	assert.True(t, payout.IsConflict(err))
	got, err := base.GetPayout(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.PayoutUnderReview, got.Status)
	assert.Len(t, base.Entries(), entries)
}

func TestPay_AuditFailureDoesNotFailTransition(t *testing.T) {
	// GIVEN: a working data store and a broken audit store
	st := memory.New()
	broken := &failingAuditStore{}
	env := newTestEnvWith(t, st, broken)
	ctx := context.Background()
	s, err := env.svc.CreateSession(ctx, admin, sessionInput("mentor-1", "80", 45))
	require.NoError(t, err)
	p, err := env.svc.MarkAttended(ctx, mentor, s.ID)
	require.NoError(t, err)

	// WHEN
	paid, err := env.svc.Pay(ctx, admin, p.ID, payout.MethodUPI)

	// THEN: the business change is committed anyway
	require.NoError(t, err)
	assert.Equal(t, payout.PayoutPaid, paid.Status)
	stored, err := st.GetPayout(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.PayoutPaid, stored.Status)
	assert.Positive(t, broken.calls)
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestCreateSession_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := map[string]func(in *payout.SessionInput){
		"past date":    func(in *payout.SessionInput) { in.Date = testNow.Add(-48 * time.Hour) },
		"too short":    func(in *payout.SessionInput) { in.DurationMinutes = 10 },
		"zero rate":    func(in *payout.SessionInput) { in.RatePerHour = decimal.Zero },
		"unknown type": func(in *payout.SessionInput) { in.Type = "lecture" },
		"no mentor":    func(in *payout.SessionInput) { in.MentorID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := sessionInput("mentor-1", "50", 60)
			mutate(&in)

			_, err := env.svc.CreateSession(ctx, admin, in)

			var ve *payout.ValidationError
			assert.ErrorAs(t, err, &ve)
			assert.True(t, payout.IsClientError(err))
		})
	}
	assert.Empty(t, env.store.Entries())
}

func TestCreateSession_TodayIsAllowed(t *testing.T) {
	env := newTestEnv(t)
	in := sessionInput("mentor-1", "50", 60)
	in.Date = time.Date(2025, 6, 1, 0, 30, 0, 0, time.UTC) // earlier today

	s, err := env.svc.CreateSession(context.Background(), admin, in)

	require.NoError(t, err)
	assert.Equal(t, payout.SessionPending, s.Status)
	assert.Equal(t, admin.ID, s.CreatedBy)
}

func TestCreateSession_AdminOnly(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateSession(context.Background(), mentor, sessionInput("mentor-1", "50", 60))

	assert.ErrorIs(t, err, payout.ErrForbidden)
}

func TestCreateSessions_PartialFailure(t *testing.T) {
	env := newTestEnv(t)
	bad := sessionInput("mentor-1", "50", 5)

	results, err := env.svc.CreateSessions(context.Background(), admin, []payout.SessionInput{
		sessionInput("mentor-1", "50", 60),
		bad,
		sessionInput("mentor-2", "70", 30),
	})

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NotNil(t, results[0].Session)
	assert.Nil(t, results[1].Session)
	assert.ErrorIs(t, results[1].Err, payout.ErrValidation)
	assert.Equal(t, 1, results[1].Index)
	assert.NotNil(t, results[2].Session)
	assert.Len(t, env.store.Entries(), 2)
}

func TestUpdateSession_Locks(t *testing.T) {
	ctx := context.Background()
	edit := sessionInput("mentor-1", "60", 90)

	t.Run("no payout editable", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.createSession(t)

		got, err := env.svc.UpdateSession(ctx, admin, s.ID, edit)

		require.NoError(t, err)
		assert.Equal(t, 90, got.DurationMinutes)
		entries := env.store.Entries()
		last := entries[len(entries)-1]
		assert.Equal(t, audit.ActionUpdateSession, last.Action)
		assert.Equal(t, 60, last.Before["duration"])
		assert.Equal(t, 90, last.After["duration"])
	})

	t.Run("underReview payout locks", func(t *testing.T) {
		// GIVEN: an attended session with its payout under review
		env := newTestEnv(t)
		s, p := env.attended(t)
		entries := len(env.store.Entries())

		// WHEN: an admin moves it to another mentor at a new rate
		moved := sessionInput("mentor-2", "200", 60)
		_, err := env.svc.UpdateSession(ctx, admin, s.ID, moved)

		// THEN: the edit is rejected and session and payout still agree
		assert.ErrorIs(t, err, payout.ErrSessionLocked)
		assert.Len(t, env.store.Entries(), entries)

		got, err := env.svc.GetSession(ctx, admin, s.ID)
		require.NoError(t, err)
		assert.Equal(t, payout.MentorID("mentor-1"), got.MentorID)
		assert.True(t, got.RatePerHour.Equal(decimal.NewFromInt(50)))

		current, err := env.svc.GetPayout(ctx, mentor, p.ID)
		require.NoError(t, err)
		assert.Equal(t, payout.MentorID("mentor-1"), current.MentorID)
		assert.True(t, current.Breakdown.NetAmount.Equal(decimal.RequireFromString("35.625")))
	})

	t.Run("pending payout locks", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.createSession(t)
		_, err := env.svc.CreatePayout(ctx, admin, s.ID)
		require.NoError(t, err)

		_, err = env.svc.UpdateSession(ctx, admin, s.ID, edit)

		assert.ErrorIs(t, err, payout.ErrSessionLocked)
	})

	t.Run("paid session locks", func(t *testing.T) {
		env := newTestEnv(t)
		s, p := env.attended(t)
		_, err := env.svc.Pay(ctx, admin, p.ID, payout.MethodUPI)
		require.NoError(t, err)

		_, err = env.svc.UpdateSession(ctx, admin, s.ID, edit)

		assert.ErrorIs(t, err, payout.ErrSessionLocked)
	})
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()

	t.Run("no payout", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.createSession(t)

		require.NoError(t, env.svc.DeleteSession(ctx, admin, s.ID))

		_, err := env.svc.GetSession(ctx, admin, s.ID)
		assert.ErrorIs(t, err, payout.ErrSessionNotFound)
		entries := env.store.Entries()
		last := entries[len(entries)-1]
		assert.Equal(t, audit.ActionDeleteSession, last.Action)
		assert.NotNil(t, last.Before)
		assert.Nil(t, last.After)
	})

	t.Run("any payout locks", func(t *testing.T) {
		env := newTestEnv(t)
		s, _ := env.attended(t)

		err := env.svc.DeleteSession(ctx, admin, s.ID)

		assert.ErrorIs(t, err, payout.ErrSessionLocked)
		_, err = env.svc.GetSession(ctx, admin, s.ID)
		assert.NoError(t, err)
	})
}

func TestListSessions_ScopedAndFiltered(t *testing.T) {
	// GIVEN: mentor-1 has one session per bucket, mentor-2 has one
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSession(t)
	env.attended(t)
	_, paid := env.attended(t)
	_, err := env.svc.Pay(ctx, admin, paid.ID, payout.MethodUPI)
	require.NoError(t, err)
	_, err = env.svc.CreateSession(ctx, admin, sessionInput("mentor-2", "40", 30))
	require.NoError(t, err)

	// WHEN / THEN: admins see everything, mentors only their own
	all, err := env.svc.ListSessions(ctx, admin, payout.SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	mine, err := env.svc.ListSessions(ctx, mentor, payout.SessionFilter{MentorID: "mentor-2"})
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	inReview, err := env.svc.ListSessions(ctx, mentor, payout.SessionFilter{UIStatus: payout.UIReview})
	require.NoError(t, err)
	require.Len(t, inReview, 1)

	_, err = env.svc.ListSessions(ctx, admin, payout.SessionFilter{UIStatus: "done"})
	assert.ErrorIs(t, err, payout.ErrValidation)

	sum, err := env.svc.Summary(ctx, mentor, "")
	require.NoError(t, err)
	assert.Equal(t, payout.SessionSummary{Unpaid: 1, Review: 1, Paid: 1}, sum)
	assert.Equal(t, 3, sum.Total())
}

func TestReads_MentorCannotSeeOthers(t *testing.T) {
	env := newTestEnv(t)
	s, p := env.attended(t)
	ctx := context.Background()

	_, err := env.svc.GetSession(ctx, stranger, s.ID)
	assert.ErrorIs(t, err, payout.ErrForbidden)
	_, err = env.svc.GetPayout(ctx, stranger, p.ID)
	assert.ErrorIs(t, err, payout.ErrForbidden)
	_, err = env.svc.PreviewBreakdown(ctx, stranger, s.ID)
	assert.ErrorIs(t, err, payout.ErrForbidden)

	b, err := env.svc.PreviewBreakdown(ctx, mentor, s.ID)
	require.NoError(t, err)
	assert.True(t, b.NetAmount.Equal(p.NetAmount))
}

func TestListPayouts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		env.attended(t)
	}
	s, err := env.svc.CreateSession(ctx, admin, sessionInput("mentor-2", "40", 30))
	require.NoError(t, err)
	_, err = env.svc.CreatePayout(ctx, admin, s.ID)
	require.NoError(t, err)

	all, total, err := env.svc.ListPayouts(ctx, admin, payout.PayoutFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, all, 2)

	mine, total, err := env.svc.ListPayouts(ctx, mentor, payout.PayoutFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	for _, p := range mine {
		assert.Equal(t, payout.MentorID("mentor-1"), p.MentorID)
	}

	pending, total, err := env.svc.ListPayouts(ctx, admin, payout.PayoutFilter{Status: payout.PayoutPending, Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, pending, 1)

	_, _, err = env.svc.ListPayouts(ctx, admin, payout.PayoutFilter{Status: "void"})
	assert.ErrorIs(t, err, payout.ErrValidation)
}

func TestAuditEntries_CarryActorAndSchema(t *testing.T) {
	env := newTestEnv(t)
	mixedCase := audit.Actor{ID: "admin-9", Email: "  Ops@Example.COM ", Role: audit.RoleAdmin}

	_, err := env.svc.CreateSession(context.Background(), mixedCase, sessionInput("mentor-1", "50", 60))
	require.NoError(t, err)

	entries := env.store.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, audit.SchemaVersion, e.SchemaVersion)
	assert.Equal(t, "ops@example.com", e.Actor.Email)
	assert.Equal(t, audit.RoleAdmin, e.Actor.Role)
	assert.Equal(t, audit.TargetSession, e.Target.Type)
	assert.Nil(t, e.Before)
	assert.Equal(t, "50", e.After["ratePerHour"])
}
