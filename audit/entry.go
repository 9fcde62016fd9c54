/*
Package audit records every state-changing action in an append-only log.

PURPOSE:
  Support and reconciliation need to answer "who changed what, when, and
  from what to what" without trusting mutable records elsewhere. Each
  entry captures the actor, the action, the target, a human-readable
  detail line and optional before/after snapshots.

SCHEMA:
  Entries carry SchemaVersion. Version 2 is the only shape written.
  Older exports used drifted field names (userEmail vs email, timestamp
  vs createdAt); Normalize in legacy.go converts them once at the storage
  boundary so readers only ever see version 2.

FAIL-SOFT:
  Recorder.Record never returns an error. A failed append is retried a
  bounded number of times, logged, counted, and reported as ok=false.
  Business transitions do not depend on it.

SEE ALSO:
  - recorder.go: the write path
  - query.go:    filtering and cursor pagination for the audit viewer
*/
package audit

import (
	"strings"
	"time"
)

// SchemaVersion is stamped on every entry written by this package.
const SchemaVersion = 2

// =============================================================================
// ACTOR
// =============================================================================

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMentor Role = "mentor"
	RoleSystem Role = "system"
)

// Actor is the authenticated caller: uid, email, role.
type Actor struct {
	ID    string
	Email string
	Role  Role
}

func (a Actor) IsAdmin() bool  { return a.Role == RoleAdmin }
func (a Actor) IsMentor() bool { return a.Role == RoleMentor }

// System is used for entries written by tooling rather than a person.
var System = Actor{ID: "system", Email: "system", Role: RoleSystem}

// =============================================================================
// ACTIONS & TARGETS
// =============================================================================

type Action string

const (
	ActionLogin               Action = "login"
	ActionLogout              Action = "logout"
	ActionCreateSession       Action = "create_session"
	ActionUpdateSession       Action = "update_session"
	ActionDeleteSession       Action = "delete_session"
	ActionMarkAttendance      Action = "mark_attendance"
	ActionCreatePayout        Action = "create_payout"
	ActionUpdatePayoutStatus  Action = "update_payout_status"
	ActionUpdateSessionStatus Action = "update_session_status"
)

var knownActions = map[Action]bool{
	ActionLogin:               true,
	ActionLogout:              true,
	ActionCreateSession:       true,
	ActionUpdateSession:       true,
	ActionDeleteSession:       true,
	ActionMarkAttendance:      true,
	ActionCreatePayout:        true,
	ActionUpdatePayoutStatus:  true,
	ActionUpdateSessionStatus: true,
}

func (a Action) Known() bool { return knownActions[a] }

type TargetType string

const (
	TargetSession TargetType = "session"
	TargetPayout  TargetType = "payout"
	TargetUser    TargetType = "user"
)

type Target struct {
	Type TargetType
	ID   string
}

// =============================================================================
// ENTRY
// =============================================================================

type EntryID string

// Entry is one immutable audit record.
type Entry struct {
	ID            EntryID
	SchemaVersion int
	Actor         Actor
	Action        Action
	Target        Target
	Details       string
	Before        map[string]any
	After         map[string]any
	Timestamp     time.Time
}

// NormalizeEmail lower-cases and trims an email so prefix filters match
// regardless of how the address was typed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
