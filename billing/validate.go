package billing

import (
	"fmt"
	"strings"
)

// validateAmount checks a single money field.
func validateAmount(field string, m Money) error {
	if !m.IsPositive() {
		return invalid(field, "must be positive, got %s", m.Value)
	}
	if m.HasSubCentPrecision() {
		return invalid(field, "must not have more than %d decimal places, got %s", MinorUnits, m.Value)
	}
	return nil
}

// validateObligation checks every invariant of a freshly built obligation.
// Out-of-order due dates are rejected, never reordered.
func validateObligation(ob Obligation) error {
	if strings.TrimSpace(string(ob.StudentID)) == "" {
		return invalid("student_id", "is required")
	}
	if strings.TrimSpace(string(ob.FormationID)) == "" {
		return invalid("formation_id", "is required")
	}
	if err := validateAmount("total_amount", ob.TotalAmount); err != nil {
		return err
	}

	switch ob.PlanType {
	case PlanComplete:
		if ob.DueDate == nil || ob.DueDate.IsZero() {
			return invalid("due_date", "is required for a complete plan")
		}
		if len(ob.Installments) > 0 {
			return invalid("installments", "must be empty for a complete plan")
		}
		return nil

	case PlanInstallment:
		if ob.DueDate != nil {
			return invalid("due_date", "must be absent for an installment plan")
		}
		if len(ob.Installments) == 0 {
			return invalid("installments", "at least one installment is required")
		}
		sum := ZeroMoney()
		for i, inst := range ob.Installments {
			field := fmt.Sprintf("installments[%d]", i)
			if err := validateAmount(field+".amount", inst.Amount); err != nil {
				return err
			}
			if inst.DueDate.IsZero() {
				return invalid(field+".due_date", "is required")
			}
			if i > 0 && inst.DueDate.Before(ob.Installments[i-1].DueDate) {
				return invalid(field+".due_date", "%s is before installment %d due %s",
					inst.DueDate, i-1, ob.Installments[i-1].DueDate)
			}
			sum = sum.Add(inst.Amount)
		}
		if !sum.Equal(ob.TotalAmount) {
			return invalid("installments", "amounts sum to %s, total is %s", sum, ob.TotalAmount)
		}
		return nil

	default:
		return invalid("plan_type", "must be %q or %q, got %q", PlanComplete, PlanInstallment, ob.PlanType)
	}
}

// validateDueDateChange checks that moving installment index to due keeps the
// schedule ordered and does not rewrite paid history.
func validateDueDateChange(ob Obligation, index int, due Date) error {
	inst := ob.Installments[index]
	field := fmt.Sprintf("installments[%d].due_date", index)
	if inst.IsPaid() {
		return invalid(field, "installment is paid, its due date is history")
	}
	if due.IsZero() {
		return invalid(field, "is required")
	}
	if index > 0 {
		if prev := ob.Installments[index-1]; due.Before(prev.DueDate) {
			return invalid(field, "%s is before installment %d due %s", due, index-1, prev.DueDate)
		}
	}
	if index < len(ob.Installments)-1 {
		if next := ob.Installments[index+1]; due.After(next.DueDate) {
			return invalid(field, "%s is after installment %d due %s", due, index+1, next.DueDate)
		}
	}
	return nil
}
