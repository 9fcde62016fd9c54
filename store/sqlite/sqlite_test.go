package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payout-engine/audit"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var day = time.Date(2025, 4, 10, 14, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSession(id string) payout.Session {
	return payout.Session{
		ID:              payout.SessionID(id),
		MentorID:        "mentor-1",
		MentorEmail:     "ana@example.com",
		Type:            payout.SessionWorkshop,
		Date:            day,
		DurationMinutes: 45,
		RatePerHour:     decimal.RequireFromString("73.33"),
		Notes:           "intro",
		Status:          payout.SessionPending,
		CreatedBy:       "admin-1",
		CreatedAt:       day.Add(-time.Hour),
		UpdatedAt:       day.Add(-time.Hour),
	}
}

func testPayout(id string, s payout.Session, status payout.PayoutStatus) payout.Payout {
	return payout.Payout{
		ID:          payout.PayoutID(id),
		SessionID:   s.ID,
		MentorID:    s.MentorID,
		MentorEmail: s.MentorEmail,
		SessionType: s.Type,
		SessionDate: s.Date,
		Breakdown:   s.Breakdown(),
		Status:      status,
		CreatedAt:   day,
		UpdatedAt:   day,
	}
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestSessions_CRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := testSession("s-1")

	require.NoError(t, store.CreateSession(ctx, s))

	got, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, s.MentorEmail, got.MentorEmail)
	assert.True(t, s.Date.Equal(got.Date))
	assert.True(t, s.RatePerHour.Equal(got.RatePerHour), "rate survives as an exact decimal")
	assert.Equal(t, payout.SessionPending, got.Status)
	assert.Nil(t, got.AttendedAt)

	attendedAt := day.Add(time.Hour)
	got.Attended = true
	got.AttendedAt = &attendedAt
	got.Status = payout.SessionUnderReview
	require.NoError(t, store.UpdateSession(ctx, got))

	got, err = store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, got.Attended)
	require.NotNil(t, got.AttendedAt)
	assert.True(t, attendedAt.Equal(*got.AttendedAt))

	require.NoError(t, store.DeleteSession(ctx, "s-1"))
	_, err = store.GetSession(ctx, "s-1")
	assert.ErrorIs(t, err, payout.ErrSessionNotFound)
	assert.ErrorIs(t, store.DeleteSession(ctx, "s-1"), payout.ErrSessionNotFound)
	assert.ErrorIs(t, store.UpdateSession(ctx, got), payout.ErrSessionNotFound)
}

func TestListSessions_ByMentorNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s := testSession(fmt.Sprintf("s-%d", i))
		s.Date = day.AddDate(0, 0, i)
		require.NoError(t, store.CreateSession(ctx, s))
	}
	other := testSession("s-other")
	other.MentorID = "mentor-2"
	require.NoError(t, store.CreateSession(ctx, other))

	mine, err := store.ListSessions(ctx, "mentor-1")
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, payout.SessionID("s-2"), mine[0].ID)

	all, err := store.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

// =============================================================================
// PAYOUTS
// =============================================================================

func TestCreatePayout_OnePerSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := testSession("s-1")
	require.NoError(t, store.CreateSession(ctx, s))

	require.NoError(t, store.CreatePayout(ctx, testPayout("p-1", s, payout.PayoutUnderReview)))
	err := store.CreatePayout(ctx, testPayout("p-2", s, payout.PayoutPending))

	assert.ErrorIs(t, err, payout.ErrAlreadyProcessed)

	got, err := store.PayoutForSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, payout.PayoutID("p-1"), got.ID)
	assert.True(t, decimal.RequireFromString("73.33").Mul(decimal.RequireFromString("0.75")).Equal(got.GrossAmount))
	assert.True(t, got.NetAmount.Add(got.Deductions()).Equal(got.GrossAmount))
}

func TestUpdatePayoutStatus_CompareAndSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := testSession("s-1")
	require.NoError(t, store.CreateSession(ctx, s))
	require.NoError(t, store.CreatePayout(ctx, testPayout("p-1", s, payout.PayoutUnderReview)))

	paidAt := day.Add(2 * time.Hour)
	upd := payout.StatusUpdate{
		From:          payout.PayoutUnderReview,
		To:            payout.PayoutPaid,
		PaymentMethod: "v1.sealed",
		PaidDate:      &paidAt,
		At:            paidAt,
	}
	require.NoError(t, store.UpdatePayoutStatus(ctx, "p-1", upd))

	// the same expectation a second time loses: the row is no longer underReview
	err := store.UpdatePayoutStatus(ctx, "p-1", upd)
	assert.ErrorIs(t, err, payout.ErrConcurrentModification)

	err = store.UpdatePayoutStatus(ctx, "p-missing", upd)
	assert.ErrorIs(t, err, payout.ErrPayoutNotFound)

	got, err := store.GetPayout(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, payout.PayoutPaid, got.Status)
	assert.Equal(t, "v1.sealed", got.PaymentMethod)
	require.NotNil(t, got.PaidDate)
	assert.True(t, paidAt.Equal(*got.PaidDate))
}

func TestListPayouts_FilterAndPage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s := testSession(fmt.Sprintf("s-%d", i))
		require.NoError(t, store.CreateSession(ctx, s))
		status := payout.PayoutUnderReview
		if i%2 == 0 {
			status = payout.PayoutPending
		}
		p := testPayout(fmt.Sprintf("p-%d", i), s, status)
		p.CreatedAt = day.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.CreatePayout(ctx, p))
	}

	page, total, err := store.ListPayouts(ctx, payout.PayoutFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, payout.PayoutID("p-2"), page[0].ID)

	pending, total, err := store.ListPayouts(ctx, payout.PayoutFilter{Status: payout.PayoutPending, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, pending, 3)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := testSession("s-1")
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx payout.Store) error {
		require.NoError(t, tx.CreateSession(ctx, s))
		require.NoError(t, tx.CreatePayout(ctx, testPayout("p-1", s, payout.PayoutPending)))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	_, err = store.GetSession(ctx, "s-1")
	assert.ErrorIs(t, err, payout.ErrSessionNotFound)
	_, err = store.GetPayout(ctx, "p-1")
	assert.ErrorIs(t, err, payout.ErrPayoutNotFound)
}

func TestWithTx_Commits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := testSession("s-1")

	err := store.WithTx(ctx, func(tx payout.Store) error {
		if err := tx.CreateSession(ctx, s); err != nil {
			return err
		}
		_, err := tx.GetSession(ctx, s.ID)
		return err
	})

	require.NoError(t, err)
	_, err = store.GetSession(ctx, "s-1")
	assert.NoError(t, err)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func appendEntries(t *testing.T, store *sqlite.Store, emails []string) {
	t.Helper()
	for i, email := range emails {
		action := audit.ActionCreateSession
		if i%3 == 0 {
			action = audit.ActionLogin
		}
		require.NoError(t, store.Append(context.Background(), audit.Entry{
			ID:            audit.EntryID(fmt.Sprintf("e-%02d", i)),
			SchemaVersion: audit.SchemaVersion,
			Actor:         audit.Actor{ID: "u", Email: email, Role: audit.RoleAdmin},
			Action:        action,
			Target:        audit.Target{Type: audit.TargetSession, ID: fmt.Sprint(i)},
			After:         map[string]any{"status": "pending", "duration": 45},
			Timestamp:     day.Add(time.Duration(i) * time.Second),
		}))
	}
}

func ids(p audit.Page) []audit.EntryID {
	out := make([]audit.EntryID, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.ID
	}
	return out
}

func TestAppend_IgnoresKnownID(t *testing.T) {
	store := newTestStore(t)
	appendEntries(t, store, []string{"a@x.io"})
	appendEntries(t, store, []string{"a@x.io"})

	page, err := store.Query(context.Background(), audit.Query{})

	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	e := page.Entries[0]
	assert.Equal(t, "pending", e.After["status"])
	assert.Equal(t, float64(45), e.After["duration"])
	assert.Nil(t, e.Before)
}

func TestQuery_ForwardAndBackward(t *testing.T) {
	store := newTestStore(t)
	emails := make([]string, 23)
	for i := range emails {
		emails[i] = "ops@example.com"
	}
	appendEntries(t, store, emails)
	ctx := context.Background()

	first, err := store.Query(ctx, audit.Query{})
	require.NoError(t, err)
	require.Len(t, first.Entries, 10)
	assert.Equal(t, audit.EntryID("e-22"), first.Entries[0].ID)
	assert.True(t, first.HasMore)

	second, err := store.Query(ctx, audit.Query{Cursor: first.Next, Direction: audit.Forward})
	require.NoError(t, err)
	assert.Equal(t, audit.EntryID("e-12"), second.Entries[0].ID)

	third, err := store.Query(ctx, audit.Query{Cursor: second.Next, Direction: audit.Forward})
	require.NoError(t, err)
	assert.Len(t, third.Entries, 3)
	assert.False(t, third.HasMore)

	back, err := store.Query(ctx, audit.Query{Cursor: third.Prev, Direction: audit.Backward})
	require.NoError(t, err)
	assert.Equal(t, ids(second), ids(back))

	top, err := store.Query(ctx, audit.Query{Cursor: back.Prev, Direction: audit.Backward})
	require.NoError(t, err)
	assert.Equal(t, ids(first), ids(top))
	assert.False(t, top.HasPrevious)
}

func TestQuery_Filters(t *testing.T) {
	store := newTestStore(t)
	appendEntries(t, store, []string{
		"sam@example.com", "sally@example.com", "bob@example.com",
		"sam@example.com", "sally@example.com", "bob@example.com",
	})
	ctx := context.Background()

	logins, err := store.Query(ctx, audit.Query{Action: audit.ActionLogin})
	require.NoError(t, err)
	assert.Equal(t, []audit.EntryID{"e-03", "e-00"}, ids(logins))

	sa, err := store.Query(ctx, audit.Query{EmailPrefix: "sa", Limit: 3})
	require.NoError(t, err)
	// email ascending, then newest first
	assert.Equal(t, []audit.EntryID{"e-04", "e-01", "e-03"}, ids(sa))
	require.True(t, sa.HasMore)

	rest, err := store.Query(ctx, audit.Query{EmailPrefix: "sa", Limit: 3, Cursor: sa.Next, Direction: audit.Forward})
	require.NoError(t, err)
	assert.Equal(t, []audit.EntryID{"e-00"}, ids(rest))

	back, err := store.Query(ctx, audit.Query{EmailPrefix: "sa", Limit: 3, Cursor: rest.Prev, Direction: audit.Backward})
	require.NoError(t, err)
	assert.Equal(t, ids(sa), ids(back))
}
