package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/billing/store"
)

func createInstallmentPlan(t *testing.T, svc *billing.Service, student, total string, count int) billing.Obligation {
	t.Helper()
	ob, err := svc.CreateObligation(context.Background(), billing.CreateObligationInput{
		StudentID:        billing.StudentID(student),
		FormationID:      "form-1",
		TotalAmount:      money(total),
		PlanType:         billing.PlanInstallment,
		InstallmentCount: count,
	})
	require.NoError(t, err)
	return ob
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateObligation_InstallmentPlanFromCount(t *testing.T) {
	// GIVEN: 300 over 3 requested on 2026-01-15
	// WHEN: Creating the obligation and paying installment 0
	// THEN: Lines are 100 each a month apart, and the status becomes Partial

	svc, _, _ := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()

	ob := createInstallmentPlan(t, svc, "stu-1", "300", 3)
	require.Len(t, ob.Installments, 3)
	for i, inst := range ob.Installments {
		assert.Equal(t, i, inst.Index)
		assert.Equal(t, "100.00", inst.Amount.String())
		assert.Nil(t, inst.PaidAt)
	}
	assert.Equal(t, day(2026, time.February, 15), ob.Installments[0].DueDate)
	assert.Equal(t, day(2026, time.March, 15), ob.Installments[1].DueDate)
	assert.Equal(t, billing.StatusPending, svc.Derive(ob).Status)

	ob, err := svc.MarkInstallmentPaid(ctx, ob.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPartial, svc.Derive(ob).Status)
}

func TestCreateObligation_ExplicitLines(t *testing.T) {
	svc, mem, _ := newTestService(t, at(2026, time.January, 15))

	ob, err := svc.CreateObligation(context.Background(), billing.CreateObligationInput{
		StudentID:   "  stu-1 ",
		FormationID: "form-1",
		TotalAmount: money("500"),
		PlanType:    billing.PlanInstallment,
		Description: "Web development bootcamp",
		Installments: []billing.InstallmentInput{
			{Amount: money("200"), DueDate: day(2026, time.February, 1)},
			{Amount: money("300"), DueDate: day(2026, time.February, 1)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, billing.StudentID("stu-1"), ob.StudentID)

	stored, err := mem.GetObligation(context.Background(), ob.ID)
	require.NoError(t, err)
	assert.Equal(t, ob, stored)
}

func TestCreateObligation_CompletePlan(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))

	ob, err := svc.CreateObligation(context.Background(), billing.CreateObligationInput{
		StudentID:   "stu-1",
		FormationID: "form-1",
		TotalAmount: money("1200"),
		PlanType:    billing.PlanComplete,
		DueDate:     datePtr(day(2026, time.February, 1)),
	})
	require.NoError(t, err)
	assert.Empty(t, ob.Installments)
	assert.Equal(t, billing.StatusPending, svc.Derive(ob).Status)
}

func TestCreateObligation_Rejected(t *testing.T) {
	feb := day(2026, time.February, 1)
	mar := day(2026, time.March, 1)

	cases := []struct {
		name  string
		in    billing.CreateObligationInput
		field string
	}{
		{
			name:  "missing student",
			in:    billing.CreateObligationInput{FormationID: "f", TotalAmount: money("100"), PlanType: billing.PlanComplete, DueDate: &feb},
			field: "student_id",
		},
		{
			name:  "missing formation",
			in:    billing.CreateObligationInput{StudentID: "s", TotalAmount: money("100"), PlanType: billing.PlanComplete, DueDate: &feb},
			field: "formation_id",
		},
		{
			name:  "zero total",
			in:    billing.CreateObligationInput{StudentID: "s", FormationID: "f", TotalAmount: money("0"), PlanType: billing.PlanComplete, DueDate: &feb},
			field: "total_amount",
		},
		{
			name:  "sub-cent total",
			in:    billing.CreateObligationInput{StudentID: "s", FormationID: "f", TotalAmount: money("10.001"), PlanType: billing.PlanComplete, DueDate: &feb},
			field: "total_amount",
		},
		{
			name:  "complete plan without due date",
			in:    billing.CreateObligationInput{StudentID: "s", FormationID: "f", TotalAmount: money("100"), PlanType: billing.PlanComplete},
			field: "due_date",
		},
		{
			name: "complete plan with installments",
			in: billing.CreateObligationInput{StudentID: "s", FormationID: "f", TotalAmount: money("100"), PlanType: billing.PlanComplete, DueDate: &feb,
				Installments: []billing.InstallmentInput{{Amount: money("100"), DueDate: feb}}},
			field: "installments",
		},
		{
			name: "installment plan with due date",
			in: billing.CreateObligationInput{StudentID: "s", FormationID: "f", TotalAmount: money("100"), PlanType: billing.PlanInstallment, DueDate: &feb,
				Installments: []billing.InstallmentInput{{Amount: money("100"), DueDate: feb}}},
			field: "due_date",
		},
		{
			name:  "installment plan without lines",
			in:    billing.CreateObligationInput{StudentID: "s", FormationID: "f", TotalAmount: money("100"), PlanType: billing.PlanInstallment},
			field: "installments",
		},
		{
			name: "lines do not sum to total",
			in: billing.CreateObligationInput{StudentID: "s", FormationID: "f", TotalAmount: money("300"), PlanType: billing.PlanInstallment,
				Installments: []billing.InstallmentInput{{Amount: money("100"), DueDate: feb}, {Amount: money("199.99"), DueDate: mar}}},
			field: "installments",
		},
		{
			name: "due dates out of order",
			in: billing.CreateObligationInput{StudentID: "s", FormationID: "f", TotalAmount: money("200"), PlanType: billing.PlanInstallment,
				Installments: []billing.InstallmentInput{{Amount: money("100"), DueDate: mar}, {Amount: money("100"), DueDate: feb}}},
			field: "installments[1].due_date",
		},
		{
			name: "zero line amount",
			in: billing.CreateObligationInput{StudentID: "s", FormationID: "f", TotalAmount: money("200"), PlanType: billing.PlanInstallment,
				Installments: []billing.InstallmentInput{{Amount: money("0"), DueDate: feb}, {Amount: money("200"), DueDate: mar}}},
			field: "installments[0].amount",
		},
		{
			name: "count disagrees with lines",
			in: billing.CreateObligationInput{StudentID: "s", FormationID: "f", TotalAmount: money("200"), PlanType: billing.PlanInstallment, InstallmentCount: 3,
				Installments: []billing.InstallmentInput{{Amount: money("100"), DueDate: feb}, {Amount: money("100"), DueDate: mar}}},
			field: "installment_count",
		},
		{
			name:  "unknown plan type",
			in:    billing.CreateObligationInput{StudentID: "s", FormationID: "f", TotalAmount: money("100"), PlanType: "monthly"},
			field: "plan_type",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, mem, _ := newTestService(t, at(2026, time.January, 15))

			_, err := svc.CreateObligation(context.Background(), tc.in)

			var vErr *billing.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
			assert.ErrorIs(t, err, billing.ErrValidation)

			obs, err := mem.ListObligations(context.Background(), billing.ObligationFilter{})
			require.NoError(t, err)
			assert.Empty(t, obs, "nothing is persisted on failure")
		})
	}
}

func TestCreateObligation_InvalidCount(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))

	_, err := svc.CreateObligation(context.Background(), billing.CreateObligationInput{
		StudentID:        "s",
		FormationID:      "f",
		TotalAmount:      money("300"),
		PlanType:         billing.PlanInstallment,
		InstallmentCount: 1,
	})

	assert.ErrorIs(t, err, billing.ErrInvalidPlan)
}

// =============================================================================
// MARK PAID
// =============================================================================

func TestMarkInstallmentPaid_Twice_AlreadyPaid(t *testing.T) {
	// GIVEN: Installment 0 was marked paid
	// WHEN: Marking it paid again
	// THEN: AlreadyPaidError carrying the first payment timestamp, state unchanged

	svc, _, clk := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()
	ob := createInstallmentPlan(t, svc, "stu-1", "300", 3)

	first, err := svc.MarkInstallmentPaid(ctx, ob.ID, 0)
	require.NoError(t, err)
	firstPaid := *first.Installments[0].PaidAt

	clk.Set(at(2026, time.January, 20))
	_, err = svc.MarkInstallmentPaid(ctx, ob.ID, 0)

	var paidErr *billing.AlreadyPaidError
	require.ErrorAs(t, err, &paidErr)
	assert.Equal(t, 0, paidErr.InstallmentIndex)
	assert.Equal(t, firstPaid, paidErr.PaidAt)

	after, err := svc.GetObligation(ctx, ob.ID)
	require.NoError(t, err)
	assert.Equal(t, firstPaid, *after.Installments[0].PaidAt)
}

func TestMarkInstallmentPaid_UnknownTargets(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()
	ob := createInstallmentPlan(t, svc, "stu-1", "300", 3)

	_, err := svc.MarkInstallmentPaid(ctx, ob.ID, 3)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	_, err = svc.MarkInstallmentPaid(ctx, ob.ID, -1)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	_, err = svc.MarkInstallmentPaid(ctx, "missing", 0)
	var nf *billing.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "obligation", nf.Kind)
}

func TestMarkInstallmentPaid_OnCompletePlanIsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))
	ob, err := svc.CreateObligation(context.Background(), billing.CreateObligationInput{
		StudentID: "s", FormationID: "f", TotalAmount: money("100"),
		PlanType: billing.PlanComplete, DueDate: datePtr(day(2026, time.February, 1)),
	})
	require.NoError(t, err)

	_, err = svc.MarkInstallmentPaid(context.Background(), ob.ID, 0)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestMarkCompletePaid(t *testing.T) {
	// GIVEN: A complete plan that went overdue
	// WHEN: Marking it paid, then marking again
	// THEN: Completed, then AlreadyPaidError with index -1

	svc, _, clk := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()
	ob, err := svc.CreateObligation(ctx, billing.CreateObligationInput{
		StudentID: "s", FormationID: "f", TotalAmount: money("1200"),
		PlanType: billing.PlanComplete, DueDate: datePtr(day(2026, time.February, 1)),
	})
	require.NoError(t, err)

	clk.Set(at(2026, time.March, 1))
	assert.Equal(t, billing.StatusOverdue, svc.Derive(ob).Status)

	ob, err = svc.MarkCompletePaid(ctx, ob.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCompleted, svc.Derive(ob).Status)

	_, err = svc.MarkCompletePaid(ctx, ob.ID)
	var paidErr *billing.AlreadyPaidError
	require.ErrorAs(t, err, &paidErr)
	assert.Equal(t, -1, paidErr.InstallmentIndex)
}

func TestMarkCompletePaid_OnInstallmentPlan(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))
	ob := createInstallmentPlan(t, svc, "stu-1", "300", 3)

	_, err := svc.MarkCompletePaid(context.Background(), ob.ID)
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestMarkInstallmentPaid_Concurrent_ExactlyOneWins(t *testing.T) {
	// GIVEN: Twenty goroutines racing to pay the same installment
	// WHEN: All of them call MarkInstallmentPaid
	// THEN: One succeeds, the rest get AlreadyPaidError

	svc, _, _ := newTestService(t, at(2026, time.January, 15))
	ob := createInstallmentPlan(t, svc, "stu-1", "300", 3)

	const workers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		conflict int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.MarkInstallmentPaid(context.Background(), ob.ID, 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, billing.ErrAlreadyPaid):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, workers-1, conflict)
}

// =============================================================================
// DUE DATE UPDATE
// =============================================================================

func TestUpdateInstallmentDueDate(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()
	ob := createInstallmentPlan(t, svc, "stu-1", "300", 3)
	// Feb 15, Mar 15, Apr 15

	updated, err := svc.UpdateInstallmentDueDate(ctx, ob.ID, 1, day(2026, time.March, 20))
	require.NoError(t, err)
	assert.Equal(t, day(2026, time.March, 20), updated.Installments[1].DueDate)

	// Equal to a neighbour is allowed.
	_, err = svc.UpdateInstallmentDueDate(ctx, ob.ID, 1, day(2026, time.April, 15))
	require.NoError(t, err)
}

func TestUpdateInstallmentDueDate_Rejected(t *testing.T) {
	// GIVEN: Feb 15, Mar 15, Apr 15 with installment 0 paid
	// WHEN: Moving lines past their neighbours or touching the paid one
	// THEN: ValidationError, stored schedule unchanged

	svc, _, _ := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()
	ob := createInstallmentPlan(t, svc, "stu-1", "300", 3)
	_, err := svc.MarkInstallmentPaid(ctx, ob.ID, 0)
	require.NoError(t, err)

	_, err = svc.UpdateInstallmentDueDate(ctx, ob.ID, 1, day(2026, time.February, 10))
	assert.ErrorIs(t, err, billing.ErrValidation, "before previous")

	_, err = svc.UpdateInstallmentDueDate(ctx, ob.ID, 1, day(2026, time.April, 16))
	assert.ErrorIs(t, err, billing.ErrValidation, "after next")

	_, err = svc.UpdateInstallmentDueDate(ctx, ob.ID, 0, day(2026, time.February, 20))
	assert.ErrorIs(t, err, billing.ErrValidation, "paid installment")

	_, err = svc.UpdateInstallmentDueDate(ctx, ob.ID, 9, day(2026, time.May, 1))
	assert.ErrorIs(t, err, billing.ErrNotFound)

	after, err := svc.GetObligation(ctx, ob.ID)
	require.NoError(t, err)
	assert.Equal(t, day(2026, time.February, 15), after.Installments[0].DueDate)
	assert.Equal(t, day(2026, time.March, 15), after.Installments[1].DueDate)
}

func TestUpdateInstallmentDueDate_LastLineCanMoveLater(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))
	ob := createInstallmentPlan(t, svc, "stu-1", "300", 3)

	updated, err := svc.UpdateInstallmentDueDate(context.Background(), ob.ID, 2, day(2026, time.December, 31))
	require.NoError(t, err)
	assert.Equal(t, day(2026, time.December, 31), updated.Installments[2].DueDate)
}

// =============================================================================
// DELETE
// =============================================================================

func TestDeleteObligation_KeepsAlerts(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()
	ob := createInstallmentPlan(t, svc, "stu-1", "300", 3)
	alert, err := svc.SendAlert(ctx, billing.SendAlertInput{StudentID: "stu-1", ObligationID: ob.ID, Message: "Please pay"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteObligation(ctx, ob.ID))

	_, err = svc.GetObligation(ctx, ob.ID)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	kept, err := svc.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, ob.ID, kept.ObligationID)

	assert.ErrorIs(t, svc.DeleteObligation(ctx, ob.ID), billing.ErrNotFound)
}

// =============================================================================
// LIST
// =============================================================================

func TestList_FiltersAndRestarts(t *testing.T) {
	svc, _, clk := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()

	a := createInstallmentPlan(t, svc, "stu-1", "300", 3)
	clk.Set(at(2026, time.January, 16))
	b := createInstallmentPlan(t, svc, "stu-2", "600", 2)
	clk.Set(at(2026, time.January, 17))
	c := createInstallmentPlan(t, svc, "stu-1", "900", 3)

	_, err := svc.MarkInstallmentPaid(ctx, c.ID, 0)
	require.NoError(t, err)

	seq := svc.List(ctx, billing.ListFilter{})
	all, err := billing.Collect(seq)
	require.NoError(t, err)
	assert.Equal(t, []billing.ObligationID{a.ID, b.ID, c.ID}, ids(all))

	// Ranging again re-reads the store.
	d := createInstallmentPlan(t, svc, "stu-3", "300", 3)
	again, err := billing.Collect(seq)
	require.NoError(t, err)
	assert.Equal(t, []billing.ObligationID{a.ID, b.ID, c.ID, d.ID}, ids(again))

	mine, err := billing.Collect(svc.ListForStudent(ctx, "stu-1"))
	require.NoError(t, err)
	assert.Equal(t, []billing.ObligationID{a.ID, c.ID}, ids(mine))

	partial, err := billing.Collect(svc.List(ctx, billing.ListFilter{Status: billing.StatusPartial}))
	require.NoError(t, err)
	assert.Equal(t, []billing.ObligationID{c.ID}, ids(partial))

	// The first installment of a is due Feb 15.
	clk.Set(at(2026, time.March, 1))
	overdue, err := billing.Collect(svc.List(ctx, billing.ListFilter{Status: billing.StatusOverdue, StudentID: "stu-1"}))
	require.NoError(t, err)
	assert.Equal(t, []billing.ObligationID{a.ID}, ids(overdue))
}

func TestList_EarlyBreak(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))
	for i := 0; i < 5; i++ {
		createInstallmentPlan(t, svc, "stu-1", "300", 3)
	}

	n := 0
	for _, err := range svc.List(context.Background(), billing.ListFilter{}) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

// =============================================================================
// STORAGE FAILURES
// =============================================================================

// failingStore fails every obligation write and list.
type failingStore struct {
	*store.Memory
	err error
}

func (f *failingStore) SaveObligation(context.Context, billing.Obligation) error { return f.err }
func (f *failingStore) ListObligations(context.Context, billing.ObligationFilter) ([]billing.Obligation, error) {
	return nil, f.err
}

func TestStorageFailure_Wrapped(t *testing.T) {
	// GIVEN: A store whose writes fail with a driver error
	// WHEN: Marking an installment paid and listing
	// THEN: StorageError wrapping the driver error, retryable, not a client error

	driverErr := errors.New("disk I/O error")
	fs := &failingStore{Memory: store.NewMemory(), err: driverErr}
	svc := billing.NewService(fs, billing.WithClock(func() time.Time { return at(2026, time.January, 15) }))
	ctx := context.Background()

	ob, err := svc.CreateObligation(ctx, billing.CreateObligationInput{
		StudentID: "s", FormationID: "f", TotalAmount: money("300"),
		PlanType: billing.PlanInstallment, InstallmentCount: 3,
	})
	require.NoError(t, err)

	_, err = svc.MarkInstallmentPaid(ctx, ob.ID, 0)
	var sErr *billing.StorageError
	require.ErrorAs(t, err, &sErr)
	assert.ErrorIs(t, err, billing.ErrStorage)
	assert.ErrorIs(t, err, driverErr)
	assert.True(t, billing.IsRetryable(err))
	assert.False(t, billing.IsClientError(err))

	_, err = billing.Collect(svc.List(ctx, billing.ListFilter{}))
	assert.ErrorIs(t, err, billing.ErrStorage)

	stored, err := fs.GetObligation(ctx, ob.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Installments[0].PaidAt, "failed write leaves state untouched")
}

func TestMarkInstallmentPaid_LockTimeout(t *testing.T) {
	locker := billing.NewKeyedMutex()
	svc := billing.NewService(store.NewMemory(), billing.WithLocker(locker))
	ob := createInstallmentPlan(t, svc, "stu-1", "300", 3)

	unlock, err := locker.Lock(context.Background(), billing.ObligationLockKey(ob.ID))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.MarkInstallmentPaid(ctx, ob.ID, 0)

	assert.ErrorIs(t, err, billing.ErrLockTimeout)
	assert.True(t, billing.IsRetryable(err))
}

func ids(obs []billing.Obligation) []billing.ObligationID {
	out := make([]billing.ObligationID, len(obs))
	for i, ob := range obs {
		out[i] = ob.ID
	}
	return out
}
