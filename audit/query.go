package audit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PageSize is the audit viewer's fixed page size.
const PageSize = 10

var ErrInvalidCursor = errors.New("invalid audit cursor")

// Store persists entries. Append-only: there is no update or delete.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, q Query) (Page, error)
}

type Direction string

const (
	Forward  Direction = "next"
	Backward Direction = "prev"
)

// Query filters and pages the log.
//
// Ordering is timestamp descending. When EmailPrefix is set the order is
// actor email ascending first, then timestamp descending, matching the
// range scan the prefix filter needs. Entry ids break remaining ties.
type Query struct {
	Action      Action
	EmailPrefix string
	Cursor      *Cursor
	Direction   Direction
	Limit       int
}

// ByEmail reports whether email is part of the sort key.
func (q Query) ByEmail() bool { return q.EmailPrefix != "" }

func (q Query) PageLimit() int {
	if q.Limit <= 0 {
		return PageSize
	}
	return q.Limit
}

// Page is one window of results in canonical order.
type Page struct {
	Entries     []Entry
	Next        *Cursor
	Prev        *Cursor
	HasMore     bool
	HasPrevious bool
}

// =============================================================================
// CURSOR - keyset position, opaque to clients
// =============================================================================

type Cursor struct {
	Timestamp time.Time `json:"t"`
	Email     string    `json:"e,omitempty"`
	ID        EntryID   `json:"i"`
}

func CursorFor(e Entry) *Cursor {
	return &Cursor{Timestamp: e.Timestamp, Email: e.Actor.Email, ID: e.ID}
}

func (c Cursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.ID == "" || c.Timestamp.IsZero() {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}

// =============================================================================
// ORDERING HELPERS - shared by stores that sort in Go
// =============================================================================

// Before reports whether a sorts ahead of b in the canonical order.
func Before(a, b Cursor, byEmail bool) bool {
	if byEmail && a.Email != b.Email {
		return a.Email < b.Email
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}

// Matches applies the query's filters (not its cursor) to an entry.
func (q Query) Matches(e Entry) bool {
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.EmailPrefix != "" && !strings.HasPrefix(e.Actor.Email, NormalizeEmail(q.EmailPrefix)) {
		return false
	}
	return true
}

// Window turns candidates fetched past the cursor into a Page.
// fetched holds up to limit+1 entries in scan order: canonical order for
// Forward, reverse canonical order for Backward.
func Window(q Query, fetched []Entry) Page {
	limit := q.PageLimit()
	extra := len(fetched) > limit
	if extra {
		fetched = fetched[:limit]
	}

	page := Page{}
	if q.Direction == Backward {
		for i, j := 0, len(fetched)-1; i < j; i, j = i+1, j-1 {
			fetched[i], fetched[j] = fetched[j], fetched[i]
		}
		page.HasPrevious = extra
		page.HasMore = q.Cursor != nil
	} else {
		page.HasMore = extra
		page.HasPrevious = q.Cursor != nil
	}
	page.Entries = fetched

	if len(fetched) > 0 {
		if page.HasMore {
			page.Next = CursorFor(fetched[len(fetched)-1])
		}
		if page.HasPrevious {
			page.Prev = CursorFor(fetched[0])
		}
	}
	return page
}
