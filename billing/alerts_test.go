package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tuition-engine/billing"
)

// =============================================================================
// SEND / READ
// =============================================================================

func TestSendAlert(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))

	alert, err := svc.SendAlert(context.Background(), billing.SendAlertInput{
		StudentID: "stu-1",
		Kind:      billing.AlertReminder,
		Message:   "  Your February installment is coming up  ",
	})
	require.NoError(t, err)

	assert.Equal(t, billing.Unread, alert.ReadStatus)
	assert.Equal(t, "Your February installment is coming up", alert.Message)
	assert.Nil(t, alert.ReadAt)
	assert.Equal(t, at(2026, time.January, 15), alert.CreatedAt)
}

func TestSendAlert_DefaultsToGeneral(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))

	alert, err := svc.SendAlert(context.Background(), billing.SendAlertInput{StudentID: "stu-1", Message: "Office closed Friday"})
	require.NoError(t, err)
	assert.Equal(t, billing.AlertGeneral, alert.Kind)
}

func TestSendAlert_Rejected(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()

	_, err := svc.SendAlert(ctx, billing.SendAlertInput{StudentID: "stu-1", Message: "   "})
	var vErr *billing.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "message", vErr.Field)

	_, err = svc.SendAlert(ctx, billing.SendAlertInput{Message: "hello"})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "student_id", vErr.Field)

	_, err = svc.SendAlert(ctx, billing.SendAlertInput{StudentID: "stu-1", Kind: "urgent", Message: "hello"})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "kind", vErr.Field)
}

func TestMarkAlertRead_Idempotent(t *testing.T) {
	// GIVEN: An unread alert
	// WHEN: Marking it read three times at different instants
	// THEN: Every call succeeds and ReadAt keeps the first instant

	svc, _, clk := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()
	alert, err := svc.SendAlert(ctx, billing.SendAlertInput{StudentID: "stu-1", Message: "hello"})
	require.NoError(t, err)

	clk.Set(at(2026, time.January, 16))
	first, err := svc.MarkAlertRead(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.Read, first.ReadStatus)
	require.NotNil(t, first.ReadAt)

	for i := 0; i < 2; i++ {
		clk.Set(at(2026, time.January, 17+i))
		again, err := svc.MarkAlertRead(ctx, alert.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.Read, again.ReadStatus)
		assert.Equal(t, *first.ReadAt, *again.ReadAt)
	}

	_, err = svc.MarkAlertRead(ctx, "missing")
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestListAlertsForStudent_NewestFirst(t *testing.T) {
	svc, _, clk := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()

	old, err := svc.SendAlert(ctx, billing.SendAlertInput{StudentID: "stu-1", Message: "first"})
	require.NoError(t, err)
	clk.Set(at(2026, time.January, 16))
	_, err = svc.SendAlert(ctx, billing.SendAlertInput{StudentID: "stu-2", Message: "other student"})
	require.NoError(t, err)
	clk.Set(at(2026, time.January, 17))
	recent, err := svc.SendAlert(ctx, billing.SendAlertInput{StudentID: "stu-1", Message: "second"})
	require.NoError(t, err)

	alerts, err := svc.ListAlertsForStudent(ctx, "stu-1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, recent.ID, alerts[0].ID)
	assert.Equal(t, old.ID, alerts[1].ID)

	_, err = svc.MarkAlertRead(ctx, old.ID)
	require.NoError(t, err)
	unread, err := svc.ListAlerts(ctx, billing.AlertFilter{StudentID: "stu-1", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, recent.ID, unread[0].ID)
}

// =============================================================================
// SWEEP PREDICATE
// =============================================================================

func TestObligationsNeedingAlert(t *testing.T) {
	now := at(2026, time.March, 10)
	today := billing.DateOf(now)
	paid := paidAt(at(2026, time.March, 1))

	overdueComplete := completeObligation(today.AddDays(-1))
	overdueComplete.ID = "overdue-complete"

	dueSoon := installmentObligation(
		billing.Installment{Amount: money("100"), DueDate: today.AddDays(-10), PaidAt: paid},
		billing.Installment{Amount: money("150"), DueDate: today.AddDays(2)},
	)
	dueSoon.ID = "due-soon"

	dueToday := completeObligation(today)
	dueToday.ID = "due-today"

	farAway := completeObligation(today.AddDays(30))
	farAway.ID = "far-away"

	done := completeObligation(today.AddDays(-3))
	done.ID = "done"
	done.PaidAt = paid

	// Paid plus overdue is Partial and raises a due-soon only if the next line is near.
	partialLate := installmentObligation(
		billing.Installment{Amount: money("100"), DueDate: today.AddDays(-40), PaidAt: paid},
		billing.Installment{Amount: money("100"), DueDate: today.AddDays(-5)},
	)
	partialLate.ID = "partial-late"

	needs := billing.ObligationsNeedingAlert(
		[]billing.Obligation{overdueComplete, dueSoon, dueToday, farAway, done, partialLate},
		now, billing.DefaultDueSoonWindow,
	)

	byID := map[billing.ObligationID]billing.AlertNeed{}
	for _, n := range needs {
		byID[n.ObligationID] = n
	}
	require.Len(t, byID, 3)

	assert.Equal(t, billing.AlertOverdue, byID["overdue-complete"].Kind)
	assert.Equal(t, -1, byID["overdue-complete"].InstallmentIndex)
	assert.Equal(t, today.AddDays(-1), byID["overdue-complete"].DueDate)

	soon := byID["due-soon"]
	assert.Equal(t, billing.AlertDueSoon, soon.Kind)
	assert.Equal(t, 1, soon.InstallmentIndex)
	assert.Equal(t, "150.00", soon.Amount.String())
	assert.Contains(t, soon.Message(), "Installment 2")

	assert.Equal(t, billing.AlertDueSoon, byID["due-today"].Kind)
}

// =============================================================================
// SWEEP
// =============================================================================

func TestSweep_Dedup(t *testing.T) {
	// GIVEN: One overdue complete plan and one installment due in two days
	// WHEN: Sweeping twice, then moving the due date and sweeping again
	// THEN: Two alerts first, none on the repeat, one fresh after the move

	svc, _, clk := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()

	late, err := svc.CreateObligation(ctx, billing.CreateObligationInput{
		StudentID: "stu-1", FormationID: "f", TotalAmount: money("1200"),
		PlanType: billing.PlanComplete, DueDate: datePtr(day(2026, time.February, 1)),
	})
	require.NoError(t, err)
	plan := createInstallmentPlan(t, svc, "stu-2", "300", 3) // Feb 15, Mar 15, Apr 15

	clk.Set(at(2026, time.February, 13))
	result, err := svc.Sweep(ctx, billing.DefaultDueSoonWindow)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 2, result.Raised)
	assert.Equal(t, 0, result.Skipped)

	result, err = svc.Sweep(ctx, billing.DefaultDueSoonWindow)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Raised)
	assert.Equal(t, 2, result.Skipped)

	_, err = svc.UpdateInstallmentDueDate(ctx, plan.ID, 0, day(2026, time.February, 14))
	require.NoError(t, err)
	result, err = svc.Sweep(ctx, billing.DefaultDueSoonWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Raised)
	assert.Equal(t, 1, result.Skipped)

	alerts, err := svc.ListAlerts(ctx, billing.AlertFilter{ObligationID: late.ID})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, billing.AlertOverdue, alerts[0].Kind)
	assert.Equal(t, billing.Unread, alerts[0].ReadStatus)
}
