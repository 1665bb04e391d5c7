/*
status.go - Status deriver

PURPOSE:
  The single place where obligation and installment statuses are computed.
  Status is a pure function of stored facts (amounts, due dates, paid
  timestamps) and the current date. Nothing here is persisted, so a status
  can never drift from the facts it is derived from.

INSTALLMENT RULES:
  Paid     if PaidAt is set
  Overdue  else if DueDate < today
  Pending  otherwise

OBLIGATION RULES (complete plan):
  Completed  if PaidAt is set
  Overdue    else if DueDate < today
  Pending    otherwise

OBLIGATION RULES (installment plan), evaluated in this order:
  Completed  every installment paid
  Partial    at least one paid and at least one unpaid
  Overdue    none paid and some unpaid installment is past due
  Pending    otherwise

TIE-BREAK:
  One paid installment plus one overdue installment is PARTIAL, not
  OVERDUE. Partial progress is surfaced ahead of lateness; Overdue at the
  obligation level only applies while nothing has been paid.

"today" is the UTC calendar day of now. Something due today is not overdue.
*/
package billing

import "time"

// InstallmentStatusAt derives one installment's status.
func InstallmentStatusAt(inst Installment, today Date) InstallmentStatus {
	switch {
	case inst.IsPaid():
		return InstallmentPaid
	case inst.DueDate.Before(today):
		return InstallmentOverdue
	default:
		return InstallmentPending
	}
}

// ObligationStatusAt derives the obligation status.
func ObligationStatusAt(ob Obligation, today Date) ObligationStatus {
	if ob.PlanType == PlanComplete {
		switch {
		case ob.PaidAt != nil:
			return StatusCompleted
		case ob.DueDate != nil && ob.DueDate.Before(today):
			return StatusOverdue
		default:
			return StatusPending
		}
	}

	paid, overdue := 0, 0
	for _, inst := range ob.Installments {
		switch InstallmentStatusAt(inst, today) {
		case InstallmentPaid:
			paid++
		case InstallmentOverdue:
			overdue++
		}
	}

	switch {
	case len(ob.Installments) > 0 && paid == len(ob.Installments):
		return StatusCompleted
	case paid > 0:
		return StatusPartial
	case overdue > 0:
		return StatusOverdue
	default:
		return StatusPending
	}
}

// =============================================================================
// VIEW - Obligation with everything derived at one instant
// =============================================================================

// InstallmentView pairs an installment with its derived status.
type InstallmentView struct {
	Installment
	Status InstallmentStatus
}

// View is an obligation as seen on a given day.
type View struct {
	Obligation   Obligation
	AsOf         Date
	Status       ObligationStatus
	Installments []InstallmentView
	PaidAmount   Money
	Outstanding  Money

	// NextUnpaid is the lowest-index unpaid installment, nil when none.
	NextUnpaid *InstallmentView

	// NextDueDate is the due date of the next unpaid line (or the complete
	// plan's due date while unpaid). Zero when fully paid.
	NextDueDate Date
}

// Derive computes the view of ob as of now.
func Derive(ob Obligation, now time.Time) View {
	today := DateOf(now)
	v := View{
		Obligation: ob,
		AsOf:       today,
		Status:     ObligationStatusAt(ob, today),
		PaidAmount: ZeroMoney(),
	}

	if ob.PlanType == PlanComplete {
		if ob.PaidAt != nil {
			v.PaidAmount = ob.TotalAmount
		} else if ob.DueDate != nil {
			v.NextDueDate = *ob.DueDate
		}
		v.Outstanding = ob.TotalAmount.Sub(v.PaidAmount)
		return v
	}

	v.Installments = make([]InstallmentView, len(ob.Installments))
	for i, inst := range ob.Installments {
		iv := InstallmentView{Installment: inst, Status: InstallmentStatusAt(inst, today)}
		v.Installments[i] = iv
		if inst.IsPaid() {
			v.PaidAmount = v.PaidAmount.Add(inst.Amount)
		} else if v.NextUnpaid == nil {
			next := iv
			v.NextUnpaid = &next
			v.NextDueDate = inst.DueDate
		}
	}
	v.Outstanding = ob.TotalAmount.Sub(v.PaidAmount)
	return v
}

// EarliestOverdue returns the earliest past-due unpaid date, if any.
func (v View) EarliestOverdue() (Date, bool) {
	if v.Obligation.PlanType == PlanComplete {
		if v.Status == StatusOverdue {
			return *v.Obligation.DueDate, true
		}
		return Date{}, false
	}
	for _, iv := range v.Installments {
		if iv.Status == InstallmentOverdue {
			return iv.DueDate, true
		}
	}
	return Date{}, false
}
