package audit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrLegacyEntry is returned when an exported record cannot be mapped onto
// the current schema.
var ErrLegacyEntry = errors.New("unusable legacy audit entry")

// Normalize maps one exported document from the old document store onto
// the current Entry shape.
//
// Field aliases (first non-empty wins):
//
//	email:     userEmail, email
//	role:      userRole, role
//	details:   details, actionDetails
//	timestamp: timestamp, createdAt
//
// Timestamps may be epoch millis, an RFC3339 string, or a server
// timestamp object ({seconds,nanoseconds} or {_seconds,_nanoseconds}).
func Normalize(doc map[string]any) (Entry, error) {
	action := Action(str(doc, "actionType"))
	if action == "" {
		return Entry{}, fmt.Errorf("%w: missing actionType", ErrLegacyEntry)
	}

	ts, ok := firstTime(doc, "timestamp", "createdAt")
	if !ok {
		return Entry{}, fmt.Errorf("%w: missing or unreadable timestamp", ErrLegacyEntry)
	}

	actorID := str(doc, "userId")
	if actorID == "" {
		actorID = "unknown"
	}

	e := Entry{
		ID:            EntryID(str(doc, "id")),
		SchemaVersion: SchemaVersion,
		Actor: Actor{
			ID:    actorID,
			Email: NormalizeEmail(first(doc, "userEmail", "email")),
			Role:  Role(first(doc, "userRole", "role")),
		},
		Action: action,
		Target: Target{
			Type: TargetType(str(doc, "targetEntity")),
			ID:   str(doc, "targetId"),
		},
		Details:   first(doc, "details", "actionDetails"),
		Before:    obj(doc, "beforeData"),
		After:     obj(doc, "afterData"),
		Timestamp: ts.UTC().Truncate(time.Millisecond),
	}
	if e.Actor.Role == "" || e.Actor.Role == "unknown" {
		e.Actor.Role = RoleSystem
	}
	return e, nil
}

func str(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok && v != "unknown" {
		return v
	}
	return ""
}

func first(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := str(doc, k); v != "" {
			return v
		}
	}
	return ""
}

func obj(doc map[string]any, key string) map[string]any {
	if v, ok := doc[key].(map[string]any); ok {
		return v
	}
	return nil
}

func firstTime(doc map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		if t, ok := parseTime(doc[k]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		if t <= 0 || math.IsNaN(t) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(t)), true
	case int64:
		return time.UnixMilli(t), t > 0
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms), true
		}
	case map[string]any:
		secs, ok := number(t, "seconds", "_seconds")
		if !ok {
			return time.Time{}, false
		}
		nanos, _ := number(t, "nanoseconds", "_nanoseconds")
		return time.Unix(int64(secs), int64(nanos)), true
	}
	return time.Time{}, false
}

func number(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := m[k].(float64); ok {
			return f, true
		}
	}
	return 0, false
}

// ImportResult summarizes one legacy import run.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []error
}

// Import normalizes and appends exported documents. Documents without an
// id get a fresh one. Unusable documents are skipped and reported; the
// run continues.
func Import(ctx context.Context, store Store, docs []map[string]any) ImportResult {
	var res ImportResult
	for i, doc := range docs {
		e, err := Normalize(doc)
		if err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Errorf("document %d: %w", i, err))
			continue
		}
		if e.ID == "" {
			e.ID = EntryID(uuid.NewString())
		}
		if err := store.Append(ctx, e); err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Errorf("document %d (%s): %w", i, e.ID, err))
			continue
		}
		res.Imported++
	}
	return res
}
