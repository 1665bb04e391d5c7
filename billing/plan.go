/*
plan.go - Installment plan builder

PURPOSE:
  Proposes a starting schedule of (amount, due date) pairs for an
  installment plan. Staff may edit any line before committing; the builder
  only suggests. Pure: no store access, safe to call repeatedly to preview
  different counts.

ROUNDING:
  Each share is total/count rounded half-up to the cent. The LAST line
  absorbs the residual, so the lines always sum exactly to the total:

    301 / 3  ->  100.33, 100.33, 100.34
    200 / 3  ->  66.67, 66.67, 66.66

  For totals of only a few cents, half-up can overshoot so much that the
  residual would be zero or negative (0.09 / 6 -> 0.02 x 5 = 0.10). The
  share is then truncated instead (0.01 x 5, last 0.04) so every line stays
  positive.

DUE DATES:
  Monthly recurrence anchored on the plan creation day, first due one month
  later by default. Generated with an RRULE. Anchors on the 29th-31st use
  BYMONTHDAY=28..d;BYSETPOS=-1 so short months get their last day instead
  of being skipped:

    anchor 2026-01-31 -> 2026-02-28, 2026-03-31, 2026-04-30

SEE ALSO:
  - service.go: CreateObligation uses DefaultPlan when given a count
*/
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/teambition/rrule-go"
)

// PlanLine is one proposed installment.
type PlanLine struct {
	Amount  Money
	DueDate Date
}

// MinInstallments is the smallest count the builder accepts.
const MinInstallments = 2

// BuildPlan divides total into count installments due monthly, the first one
// firstDueOffsetMonths after from (values <= 0 mean one month).
func BuildPlan(total Money, count int, from Date, firstDueOffsetMonths int) ([]PlanLine, error) {
	if count < MinInstallments {
		return nil, &InvalidPlanError{Reason: fmt.Sprintf("count must be at least %d, got %d", MinInstallments, count)}
	}
	if !total.IsPositive() {
		return nil, &InvalidPlanError{Reason: fmt.Sprintf("total amount must be positive, got %s", total.Value)}
	}
	if total.HasSubCentPrecision() {
		return nil, &InvalidPlanError{Reason: fmt.Sprintf("total amount %s has more than %d decimal places", total.Value, MinorUnits)}
	}
	minimum := Money{Value: decimal.New(1, -MinorUnits)}.MulInt(count)
	if total.LessThan(minimum) {
		return nil, &InvalidPlanError{Reason: fmt.Sprintf("total amount %s cannot cover %d installments of at least one cent", total, count)}
	}
	if from.IsZero() {
		return nil, &InvalidPlanError{Reason: "plan start date is required"}
	}
	if firstDueOffsetMonths <= 0 {
		firstDueOffsetMonths = 1
	}

	amounts := splitAmount(total, count)
	dates, err := monthlyDueDates(from, firstDueOffsetMonths, count)
	if err != nil {
		return nil, err
	}

	lines := make([]PlanLine, count)
	for i := range lines {
		lines[i] = PlanLine{Amount: amounts[i], DueDate: dates[i]}
	}
	return lines, nil
}

// DefaultPlan builds a plan starting one month after the calendar day of now.
func DefaultPlan(total Money, count int, now time.Time) ([]PlanLine, error) {
	return BuildPlan(total, count, DateOf(now), 1)
}

// splitAmount returns count shares summing exactly to total.
func splitAmount(total Money, count int) []Money {
	n := decimal.NewFromInt(int64(count))
	share := Money{Value: total.Value.DivRound(n, MinorUnits)}
	last := total.Sub(share.MulInt(count - 1))
	if !last.IsPositive() {
		share = Money{Value: total.Value.Div(n).Truncate(MinorUnits)}
		last = total.Sub(share.MulInt(count - 1))
	}

	amounts := make([]Money, count)
	for i := 0; i < count-1; i++ {
		amounts[i] = share
	}
	amounts[count-1] = last
	return amounts
}

// monthlyDueDates returns count dates, the first offset months after anchor.
func monthlyDueDates(anchor Date, offset, count int) ([]Date, error) {
	opt := rrule.ROption{
		Freq:    rrule.MONTHLY,
		Dtstart: anchor.Time(),
		Count:   offset + count,
	}
	day := anchor.Day()
	if day > 28 {
		for d := 28; d <= day; d++ {
			opt.Bymonthday = append(opt.Bymonthday, d)
		}
		opt.Bysetpos = []int{-1}
	} else {
		opt.Bymonthday = []int{day}
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, &InvalidPlanError{Reason: fmt.Sprintf("due date recurrence: %v", err)}
	}
	occurrences := rule.All()
	// The anchor itself matches the rule and is occurrence 0.
	if len(occurrences) < offset+count {
		return nil, &InvalidPlanError{Reason: fmt.Sprintf("recurrence produced %d dates, need %d", len(occurrences), offset+count)}
	}

	dates := make([]Date, 0, count)
	for _, t := range occurrences[offset : offset+count] {
		dates = append(dates, DateOf(t))
	}
	return dates, nil
}
