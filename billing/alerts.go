/*
alerts.go - Alert generator

PURPOSE:
  Records notices for students (manual staff alerts and sweep-generated
  reminders) and exposes the pure predicate that decides which obligations
  need an Overdue or DueSoon notice.

IDEMPOTENCY CONTRAST:
  MarkAlertRead is idempotent: marking a read alert again is a no-op.
  Reading has no financial consequence, unlike payment marking (see
  service.go) which reports AlreadyPaidError.

SWEEP:
  Triggering is external (cron, ticker, queue consumer). The engine offers:
    ObligationsNeedingAlert(obligations, now, window)  pure predicate
    Service.Sweep(ctx, window)                         predicate + dedup + record

  Rules:
    Overdue  derived obligation status is Overdue
    DueSoon  the next unpaid due date is within [today, today+window]

  Each need carries a dedup key naming the obligation, kind and the due
  date it is about. A daily sweep therefore raises each notice once, and a
  due-date edit legitimately raises a fresh one.

SEE ALSO:
  - api/scheduler.go: background ticker calling Sweep
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultDueSoonWindow is how far ahead DueSoon looks.
const DefaultDueSoonWindow = 3 * 24 * time.Hour

// =============================================================================
// SEND / READ / LIST
// =============================================================================

// SendAlertInput describes a manual alert.
type SendAlertInput struct {
	StudentID    StudentID
	FormationID  FormationID
	ObligationID ObligationID
	Kind         AlertKind
	Message      string
}

// SendAlert records a new unread alert. Only the message and addressing are
// validated.
func (s *Service) SendAlert(ctx context.Context, in SendAlertInput) (Alert, error) {
	return s.recordAlert(ctx, in, "")
}

func (s *Service) recordAlert(ctx context.Context, in SendAlertInput, dedupKey string) (Alert, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return Alert{}, invalid("message", "must not be empty")
	}
	if strings.TrimSpace(string(in.StudentID)) == "" {
		return Alert{}, invalid("student_id", "is required")
	}
	kind := in.Kind
	if kind == "" {
		kind = AlertGeneral
	}
	if !kind.Valid() {
		return Alert{}, invalid("kind", "unknown alert kind %q", in.Kind)
	}

	alert := Alert{
		ID:           AlertID(s.newID()),
		StudentID:    in.StudentID,
		FormationID:  in.FormationID,
		ObligationID: in.ObligationID,
		Kind:         kind,
		Message:      msg,
		ReadStatus:   Unread,
		CreatedAt:    s.now().UTC(),
		DedupKey:     dedupKey,
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return Alert{}, s.storeErr("create alert", err)
	}
	return alert, nil
}

// MarkAlertRead marks an alert read. Calling it again is a no-op.
func (s *Service) MarkAlertRead(ctx context.Context, id AlertID) (Alert, error) {
	alert, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return Alert{}, s.storeErr("get alert", err)
	}
	if alert.ReadStatus == Read {
		return alert, nil
	}
	now := s.now().UTC()
	alert.ReadStatus = Read
	alert.ReadAt = &now
	if err := s.store.SaveAlert(ctx, alert); err != nil {
		return Alert{}, s.storeErr("save alert", err)
	}
	return alert, nil
}

// GetAlert loads one alert.
func (s *Service) GetAlert(ctx context.Context, id AlertID) (Alert, error) {
	alert, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return Alert{}, s.storeErr("get alert", err)
	}
	return alert, nil
}

// ListAlerts returns alerts matching filter, newest first.
func (s *Service) ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error) {
	alerts, err := s.store.ListAlerts(ctx, filter)
	if err != nil {
		return nil, s.storeErr("list alerts", err)
	}
	return alerts, nil
}

// ListAlertsForStudent returns one student's alerts, newest first.
func (s *Service) ListAlertsForStudent(ctx context.Context, studentID StudentID) ([]Alert, error) {
	return s.ListAlerts(ctx, AlertFilter{StudentID: studentID})
}

// =============================================================================
// SWEEP PREDICATE
// =============================================================================

// AlertNeed is one notice the sweep should raise.
type AlertNeed struct {
	ObligationID     ObligationID
	StudentID        StudentID
	FormationID      FormationID
	Kind             AlertKind
	DueDate          Date
	Amount           Money
	InstallmentIndex int // -1 for a complete plan
	DedupKey         string
}

// Message renders the default notice text.
func (n AlertNeed) Message() string {
	what := "Your tuition payment"
	if n.InstallmentIndex >= 0 {
		what = fmt.Sprintf("Installment %d of your tuition", n.InstallmentIndex+1)
	}
	switch n.Kind {
	case AlertOverdue:
		return fmt.Sprintf("%s (%s) was due on %s and is overdue.", what, n.Amount, n.DueDate)
	default:
		return fmt.Sprintf("%s (%s) is due on %s.", what, n.Amount, n.DueDate)
	}
}

// ObligationsNeedingAlert is the pure sweep predicate.
func ObligationsNeedingAlert(obligations []Obligation, now time.Time, window time.Duration) []AlertNeed {
	today := DateOf(now)
	horizon := DateOf(now.Add(window))

	var needs []AlertNeed
	for _, ob := range obligations {
		v := Derive(ob, now)
		switch {
		case v.Status == StatusCompleted:
			continue

		case v.Status == StatusOverdue:
			due, _ := v.EarliestOverdue()
			need := newNeed(v, AlertOverdue, due)
			need.DedupKey = fmt.Sprintf("%s:%s:%s", ob.ID, AlertOverdue, due)
			needs = append(needs, need)

		case !v.NextDueDate.IsZero() && v.NextDueDate.AfterOrEqual(today) && v.NextDueDate.BeforeOrEqual(horizon):
			need := newNeed(v, AlertDueSoon, v.NextDueDate)
			need.DedupKey = fmt.Sprintf("%s:%s:%d:%s", ob.ID, AlertDueSoon, need.InstallmentIndex, v.NextDueDate)
			needs = append(needs, need)
		}
	}
	return needs
}

func newNeed(v View, kind AlertKind, due Date) AlertNeed {
	ob := v.Obligation
	need := AlertNeed{
		ObligationID:     ob.ID,
		StudentID:        ob.StudentID,
		FormationID:      ob.FormationID,
		Kind:             kind,
		DueDate:          due,
		Amount:           v.Outstanding,
		InstallmentIndex: -1,
	}
	if ob.PlanType == PlanInstallment {
		for _, iv := range v.Installments {
			if !iv.IsPaid() && iv.DueDate.Equal(due) {
				need.InstallmentIndex = iv.Index
				need.Amount = iv.Amount
				break
			}
		}
	}
	return need
}

// =============================================================================
// SWEEP
// =============================================================================

// SweepResult counts what one sweep did.
type SweepResult struct {
	Checked int
	Raised  int
	Skipped int
	Alerts  []Alert
}

// Sweep raises every needed alert not raised before.
func (s *Service) Sweep(ctx context.Context, window time.Duration) (SweepResult, error) {
	obs, err := Collect(s.List(ctx, ListFilter{}))
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Checked: len(obs)}
	for _, need := range ObligationsNeedingAlert(obs, s.now(), window) {
		exists, err := s.store.AlertExists(ctx, need.DedupKey)
		if err != nil {
			return result, s.storeErr("check alert", err)
		}
		if exists {
			result.Skipped++
			continue
		}
		alert, err := s.recordAlert(ctx, SendAlertInput{
			StudentID:    need.StudentID,
			FormationID:  need.FormationID,
			ObligationID: need.ObligationID,
			Kind:         need.Kind,
			Message:      need.Message(),
		}, need.DedupKey)
		if errors.Is(err, ErrDuplicateAlert) {
			result.Skipped++
			continue
		}
		if err != nil {
			return result, err
		}
		result.Raised++
		result.Alerts = append(result.Alerts, alert)
	}
	return result, nil
}
