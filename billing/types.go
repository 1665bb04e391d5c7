/*
Package billing provides the tuition payment lifecycle engine.

PURPOSE:
  Tracks what a student owes for one formation enrollment, whether the
  obligation is settled in one payment or in installments, and derives
  every user-facing artifact (status, alerts, receipts, invoices) from the
  stored facts.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: An exact decimal currency amount (never float64)
  - Obligation: The record of money a student owes for one enrollment
  - Installment: One dated partial amount inside an installment plan
  - Alert: A reminder/overdue notice referencing an obligation

DESIGN PRINCIPLES:
  1. Facts, not status: only amounts, dates and paid timestamps are stored.
     Status is derived on every read (see status.go).
  2. Precision: Money uses decimal.Decimal, amounts are whole cents.
  3. Ownership: an Obligation exclusively owns its installments. They are
     keyed by their 0-based index and never reordered.
  4. Explicit transitions: every mutation is a staff action going through
     the Service under a per-obligation lock.

USAGE:
  svc := billing.NewService(store)
  ob, err := svc.CreateObligation(ctx, billing.CreateObligationInput{
      StudentID:        "stu-1",
      FormationID:      "frm-go",
      TotalAmount:      billing.MustMoney("300"),
      PlanType:         billing.PlanInstallment,
      InstallmentCount: 3,
  })

SEE ALSO:
  - plan.go: Installment plan builder
  - status.go: Status deriver
  - service.go: Obligation operations
  - alerts.go: Alert generator
  - document.go: Receipt and invoice rendering
*/
package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact decimal currency amount
// =============================================================================

// MinorUnits is the number of decimal places of the currency.
const MinorUnits = 2

// Money is a currency amount. There is a single currency per deployment.
type Money struct {
	Value decimal.Decimal
}

// NewMoney parses a decimal string such as "100.33".
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{Value: d}, nil
}

// MustMoney is NewMoney for literals. It panics on malformed input.
func MustMoney(s string) Money {
	m, err := NewMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func MoneyFromInt(v int64) Money       { return Money{Value: decimal.NewFromInt(v)} }
func MoneyFromFloat(v float64) Money   { return Money{Value: decimal.NewFromFloat(v)} }
func ZeroMoney() Money                 { return Money{Value: decimal.Zero} }
func (m Money) Add(o Money) Money      { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money      { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) MulInt(n int) Money     { return Money{Value: m.Value.Mul(decimal.NewFromInt(int64(n)))} }
func (m Money) IsPositive() bool       { return m.Value.IsPositive() }
func (m Money) IsZero() bool           { return m.Value.IsZero() }
func (m Money) Equal(o Money) bool     { return m.Value.Equal(o.Value) }
func (m Money) LessThan(o Money) bool  { return m.Value.LessThan(o.Value) }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }

// Cents rounds half-up to the currency's minor unit.
func (m Money) Cents() Money { return Money{Value: m.Value.Round(MinorUnits)} }

// HasSubCentPrecision reports whether the amount cannot be expressed in whole cents.
func (m Money) HasSubCentPrecision() bool { return !m.Value.Equal(m.Value.Round(MinorUnits)) }

// String formats with exactly two decimals.
func (m Money) String() string { return m.Value.StringFixed(MinorUnits) }

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "100.33" and 100.33.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		m.Value = decimal.Zero
		return nil
	}
	parsed, err := NewMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// SumMoney adds amounts exactly.
func SumMoney(amounts ...Money) Money {
	total := ZeroMoney()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ObligationID string
type StudentID string
type FormationID string
type AlertID string

// =============================================================================
// ENUMS
// =============================================================================

type PlanType string

const (
	PlanComplete    PlanType = "complete"
	PlanInstallment PlanType = "installment"
)

func (p PlanType) Valid() bool { return p == PlanComplete || p == PlanInstallment }

// ObligationStatus is derived, never stored.
type ObligationStatus string

const (
	StatusPending   ObligationStatus = "pending"
	StatusPartial   ObligationStatus = "partial"
	StatusOverdue   ObligationStatus = "overdue"
	StatusCompleted ObligationStatus = "completed"
)

func (s ObligationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusOverdue, StatusCompleted:
		return true
	}
	return false
}

// InstallmentStatus: Paid is a recorded fact, Overdue is derived, Pending is the default.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

type AlertKind string

const (
	AlertReminder AlertKind = "reminder"
	AlertOverdue  AlertKind = "overdue"
	AlertDueSoon  AlertKind = "due_soon"
	AlertGeneral  AlertKind = "general"
)

func (k AlertKind) Valid() bool {
	switch k {
	case AlertReminder, AlertOverdue, AlertDueSoon, AlertGeneral:
		return true
	}
	return false
}

type ReadStatus string

const (
	Unread ReadStatus = "unread"
	Read   ReadStatus = "read"
)

// =============================================================================
// OBLIGATION / INSTALLMENT
// =============================================================================

// Installment is one scheduled partial payment. Index is its stable key.
type Installment struct {
	Index   int
	Amount  Money
	DueDate Date
	PaidAt  *time.Time
}

func (i Installment) IsPaid() bool { return i.PaidAt != nil }

// Obligation is one student's debt for one formation enrollment.
//
// INVARIANTS:
//   - PlanComplete: DueDate set, Installments empty
//   - PlanInstallment: DueDate nil, Installments non-empty, amounts sum
//     exactly to TotalAmount, due dates non-decreasing by index
//   - CreatedAt never changes
type Obligation struct {
	ID           ObligationID
	StudentID    StudentID
	FormationID  FormationID
	TotalAmount  Money
	PlanType     PlanType
	DueDate      *Date
	Description  string
	Installments []Installment

	// PaidAt is the complete-plan paid fact. Installment plans record it per line.
	PaidAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers never share installment slices or pointers.
func (o Obligation) Clone() Obligation {
	c := o
	if o.DueDate != nil {
		d := *o.DueDate
		c.DueDate = &d
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.Installments != nil {
		c.Installments = make([]Installment, len(o.Installments))
		for i, inst := range o.Installments {
			if inst.PaidAt != nil {
				t := *inst.PaidAt
				inst.PaidAt = &t
			}
			c.Installments[i] = inst
		}
	}
	return c
}

// =============================================================================
// ALERT
// =============================================================================

// Alert is a notice for a student. Its lifecycle is independent of the
// obligation it references: deleting the obligation keeps the alert.
type Alert struct {
	ID           AlertID
	StudentID    StudentID
	FormationID  FormationID
	ObligationID ObligationID
	Kind         AlertKind
	Message      string
	ReadStatus   ReadStatus
	CreatedAt    time.Time
	ReadAt       *time.Time

	// DedupKey is set by the sweep so the same notice is raised once.
	DedupKey string
}
