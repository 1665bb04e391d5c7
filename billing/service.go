/*
service.go - Payment obligation operations

PURPOSE:
  The authoritative state machine for obligations. Wraps a Store with the
  business rules: creation-time invariants, double-payment detection,
  due-date ordering, and per-obligation mutual exclusion.

MUTATIONS (all under the per-obligation lock):
  MarkInstallmentPaid       sets PaidAt on one installment
  MarkCompletePaid          sets PaidAt on a complete-plan obligation
  UpdateInstallmentDueDate  moves one unpaid installment's due date
  DeleteObligation          hard delete, alerts are kept

  Each runs lock -> load -> check -> save -> unlock. Two concurrent
  "mark installment 0 paid" calls therefore produce exactly one success;
  the loser reads the winner's PaidAt and gets AlreadyPaidError.

NOT IDEMPOTENT ON PURPOSE:
  Re-marking a paid installment is a caller bug (double entry), reported as
  AlreadyPaidError instead of being swallowed. Compare MarkAlertRead in
  alerts.go, which IS idempotent.

READS:
  GetObligation, List and the document renderers take no lock. They may see
  a snapshot that is a moment stale, which is fine: status is recomputed on
  every read.

ATOMICITY:
  A failed operation persists nothing. Checks run on a private copy and the
  store write is a single SaveObligation.

SEE ALSO:
  - store.go: Persistence contract
  - status.go: Derived status
  - lock.go: Locker implementations
*/
package billing

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store  Store
	locker Locker
	now    func() time.Time
	newID  func() string
}

type Option func(*Service)

// WithClock overrides time.Now (tests, backfills).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocker overrides the in-process KeyedMutex, e.g. with a Redis lock.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithIDGenerator overrides UUID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locker: NewKeyedMutex(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }

// Derive computes ob's view at the service clock.
func (s *Service) Derive(ob Obligation) View { return Derive(ob, s.now()) }

// =============================================================================
// CREATE
// =============================================================================

// InstallmentInput is one staff-edited line of an installment plan.
type InstallmentInput struct {
	Amount  Money
	DueDate Date
}

// CreateObligationInput describes a new obligation. For an installment plan,
// give either explicit Installments or an InstallmentCount for the builder.
type CreateObligationInput struct {
	StudentID        StudentID
	FormationID      FormationID
	TotalAmount      Money
	PlanType         PlanType
	DueDate          *Date
	Description      string
	Installments     []InstallmentInput
	InstallmentCount int
}

// PreviewPlan runs the plan builder at the service clock.
func (s *Service) PreviewPlan(total Money, count int) ([]PlanLine, error) {
	return DefaultPlan(total, count, s.now())
}

// CreateObligation validates and persists a new obligation.
func (s *Service) CreateObligation(ctx context.Context, in CreateObligationInput) (Obligation, error) {
	now := s.now().UTC()
	ob := Obligation{
		ID:          ObligationID(s.newID()),
		StudentID:   StudentID(strings.TrimSpace(string(in.StudentID))),
		FormationID: FormationID(strings.TrimSpace(string(in.FormationID))),
		TotalAmount: in.TotalAmount,
		PlanType:    in.PlanType,
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.DueDate != nil {
		d := *in.DueDate
		ob.DueDate = &d
	}

	for i, line := range in.Installments {
		ob.Installments = append(ob.Installments, Installment{Index: i, Amount: line.Amount, DueDate: line.DueDate})
	}
	if in.PlanType == PlanInstallment {
		switch {
		case len(in.Installments) > 0 && in.InstallmentCount > 0 && in.InstallmentCount != len(in.Installments):
			return Obligation{}, invalid("installment_count", "is %d but %d installments were given", in.InstallmentCount, len(in.Installments))
		case len(in.Installments) == 0 && in.InstallmentCount > 0:
			lines, err := DefaultPlan(in.TotalAmount, in.InstallmentCount, now)
			if err != nil {
				return Obligation{}, err
			}
			for i, line := range lines {
				ob.Installments = append(ob.Installments, Installment{Index: i, Amount: line.Amount, DueDate: line.DueDate})
			}
		}
	}

	if err := validateObligation(ob); err != nil {
		return Obligation{}, err
	}
	if err := s.store.CreateObligation(ctx, ob); err != nil {
		return Obligation{}, s.storeErr("create obligation", err)
	}
	return ob.Clone(), nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// MarkInstallmentPaid records payment of one installment.
func (s *Service) MarkInstallmentPaid(ctx context.Context, id ObligationID, index int) (Obligation, error) {
	return s.mutate(ctx, id, func(ob *Obligation, now time.Time) error {
		if index < 0 || index >= len(ob.Installments) {
			return installmentNotFound(id, index)
		}
		inst := &ob.Installments[index]
		if inst.IsPaid() {
			return &AlreadyPaidError{ObligationID: id, InstallmentIndex: index, PaidAt: *inst.PaidAt}
		}
		inst.PaidAt = &now
		return nil
	})
}

// MarkCompletePaid records payment of a complete-plan obligation.
func (s *Service) MarkCompletePaid(ctx context.Context, id ObligationID) (Obligation, error) {
	return s.mutate(ctx, id, func(ob *Obligation, now time.Time) error {
		if ob.PlanType != PlanComplete {
			return invalid("plan_type", "obligation %s is an installment plan, mark its installments instead", id)
		}
		if ob.PaidAt != nil {
			return &AlreadyPaidError{ObligationID: id, InstallmentIndex: -1, PaidAt: *ob.PaidAt}
		}
		ob.PaidAt = &now
		return nil
	})
}

// UpdateInstallmentDueDate moves an unpaid installment's due date within its
// neighbours' dates.
func (s *Service) UpdateInstallmentDueDate(ctx context.Context, id ObligationID, index int, due Date) (Obligation, error) {
	return s.mutate(ctx, id, func(ob *Obligation, _ time.Time) error {
		if index < 0 || index >= len(ob.Installments) {
			return installmentNotFound(id, index)
		}
		if err := validateDueDateChange(*ob, index, due); err != nil {
			return err
		}
		ob.Installments[index].DueDate = due
		return nil
	})
}

// DeleteObligation removes the obligation and its installments. Alerts that
// reference it are kept.
func (s *Service) DeleteObligation(ctx context.Context, id ObligationID) error {
	unlock, err := s.locker.Lock(ctx, ObligationLockKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.store.GetObligation(ctx, id); err != nil {
		return s.storeErr("get obligation", err)
	}
	if err := s.store.DeleteObligation(ctx, id); err != nil {
		return s.storeErr("delete obligation", err)
	}
	return nil
}

// mutate runs fn on a private copy of the obligation under its lock and
// persists the result only if fn succeeds.
func (s *Service) mutate(ctx context.Context, id ObligationID, fn func(ob *Obligation, now time.Time) error) (Obligation, error) {
	unlock, err := s.locker.Lock(ctx, ObligationLockKey(id))
	if err != nil {
		return Obligation{}, err
	}
	defer unlock()

	stored, err := s.store.GetObligation(ctx, id)
	if err != nil {
		return Obligation{}, s.storeErr("get obligation", err)
	}

	ob := stored.Clone()
	now := s.now().UTC()
	if err := fn(&ob, now); err != nil {
		return Obligation{}, err
	}
	ob.UpdatedAt = now

	if err := s.store.SaveObligation(ctx, ob); err != nil {
		return Obligation{}, s.storeErr("save obligation", err)
	}
	return ob.Clone(), nil
}

// =============================================================================
// READS
// =============================================================================

// GetObligation loads one obligation.
func (s *Service) GetObligation(ctx context.Context, id ObligationID) (Obligation, error) {
	ob, err := s.store.GetObligation(ctx, id)
	if err != nil {
		return Obligation{}, s.storeErr("get obligation", err)
	}
	return ob, nil
}

// ListFilter narrows List. Status filters on the derived status.
type ListFilter struct {
	StudentID   StudentID
	FormationID FormationID
	Status      ObligationStatus
}

// List returns a lazy sequence of matching obligations. Nothing is read until
// iteration starts; every new iteration reads a fresh snapshot, so callers can
// restart by ranging again. A store failure is yielded once as the error.
func (s *Service) List(ctx context.Context, filter ListFilter) iter.Seq2[Obligation, error] {
	return func(yield func(Obligation, error) bool) {
		obs, err := s.store.ListObligations(ctx, ObligationFilter{
			StudentID:   filter.StudentID,
			FormationID: filter.FormationID,
		})
		if err != nil {
			yield(Obligation{}, s.storeErr("list obligations", err))
			return
		}
		today := DateOf(s.now())
		for _, ob := range obs {
			if filter.Status != "" && ObligationStatusAt(ob, today) != filter.Status {
				continue
			}
			if !yield(ob, nil) {
				return
			}
		}
	}
}

// ListForStudent is List scoped to one student.
func (s *Service) ListForStudent(ctx context.Context, studentID StudentID) iter.Seq2[Obligation, error] {
	return s.List(ctx, ListFilter{StudentID: studentID})
}

// Collect drains a sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[Obligation, error]) ([]Obligation, error) {
	var out []Obligation
	for ob, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, ob)
	}
	return out, nil
}

// storeErr passes engine errors through and wraps everything else.
func (s *Service) storeErr(op string, err error) error {
	if isDomainError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
