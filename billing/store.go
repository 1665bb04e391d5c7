/*
store.go - Persistence interface for obligations and alerts

PURPOSE:
  Defines the boundary between the engine and the database. One durable
  record per Obligation (its installments embedded as an ordered list) and
  one per Alert, both keyed by opaque ids and filterable by student and
  formation.

CONTRACT:
  - GetObligation / GetAlert return *NotFoundError for unknown ids.
  - SaveObligation replaces the whole record atomically and returns
    *NotFoundError if it no longer exists.
  - DeleteObligation never touches alerts (they are an audit trail).
  - CreateAlert returns ErrDuplicateAlert when DedupKey is already taken.
  - Returned values are copies; mutating them never changes stored state.
  - Status is NOT stored. Filtering by status is the Service's job.

IMPLEMENTATIONS:
  - billing/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go:  Production SQLite

SEE ALSO:
  - service.go: Only caller that mutates
  - lock.go: Per-obligation exclusion around read-modify-write
*/
package billing

import "context"

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	CreateObligation(ctx context.Context, ob Obligation) error
	GetObligation(ctx context.Context, id ObligationID) (Obligation, error)
	SaveObligation(ctx context.Context, ob Obligation) error
	DeleteObligation(ctx context.Context, id ObligationID) error

	// ListObligations returns matching obligations ordered by CreatedAt, then ID.
	ListObligations(ctx context.Context, filter ObligationFilter) ([]Obligation, error)

	CreateAlert(ctx context.Context, alert Alert) error
	GetAlert(ctx context.Context, id AlertID) (Alert, error)
	SaveAlert(ctx context.Context, alert Alert) error

	// ListAlerts returns matching alerts, newest first.
	ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error)

	// AlertExists checks whether an alert with this dedup key was raised.
	AlertExists(ctx context.Context, dedupKey string) (bool, error)
}

// Resetter is implemented by stores that can be wiped (demo scenarios).
type Resetter interface {
	Reset(ctx context.Context) error
}

// ObligationFilter narrows ListObligations. Empty fields match everything.
type ObligationFilter struct {
	StudentID   StudentID
	FormationID FormationID
}

func (f ObligationFilter) Matches(ob Obligation) bool {
	if f.StudentID != "" && ob.StudentID != f.StudentID {
		return false
	}
	if f.FormationID != "" && ob.FormationID != f.FormationID {
		return false
	}
	return true
}

// AlertFilter narrows ListAlerts. Empty fields match everything.
type AlertFilter struct {
	StudentID    StudentID
	ObligationID ObligationID
	UnreadOnly   bool
}

func (f AlertFilter) Matches(a Alert) bool {
	if f.StudentID != "" && a.StudentID != f.StudentID {
		return false
	}
	if f.ObligationID != "" && a.ObligationID != f.ObligationID {
		return false
	}
	if f.UnreadOnly && a.ReadStatus != Unread {
		return false
	}
	return true
}
