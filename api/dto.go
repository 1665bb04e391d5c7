/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Obligations:
    ObligationDTO, InstallmentDTO, CreateObligationRequest,
    InstallmentRequest, PreviewPlanRequest, PlanLineDTO,
    UpdateDueDateRequest

  Alerts:
    AlertDTO, SendAlertRequest, SweepResultDTO

  Documents:
    DocumentDTO, DocumentLineDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request shapes are checked with validator tags (see validate.go); field
  names in messages are the JSON names. Business invariants (sums, date
  order, paid immutability) are the engine's job and are checked again there.

MONEY:
  Amounts are decimal strings in responses ("100.33"). Requests accept a
  JSON number or a numeric string.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/tuition-engine/billing"
)

// =============================================================================
// OBLIGATIONS
// =============================================================================

// InstallmentDTO is one installment with its derived status.
type InstallmentDTO struct {
	Index   int        `json:"index"`
	Amount  string     `json:"amount"`
	DueDate string     `json:"due_date"`
	Status  string     `json:"status"`
	PaidAt  *time.Time `json:"paid_at,omitempty"`
}

// ObligationDTO is an obligation with everything derived at request time.
type ObligationDTO struct {
	ID           string           `json:"id"`
	StudentID    string           `json:"student_id"`
	FormationID  string           `json:"formation_id"`
	TotalAmount  string           `json:"total_amount"`
	PlanType     string           `json:"plan_type"`
	DueDate      *string          `json:"due_date,omitempty"`
	Description  string           `json:"description,omitempty"`
	Status       string           `json:"status"`
	PaidAmount   string           `json:"paid_amount"`
	Outstanding  string           `json:"outstanding"`
	NextDueDate  *string          `json:"next_due_date,omitempty"`
	PaidAt       *time.Time       `json:"paid_at,omitempty"`
	Installments []InstallmentDTO `json:"installments"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// InstallmentRequest is one explicit line of an installment plan.
type InstallmentRequest struct {
	Amount  json.Number `json:"amount" validate:"required,numeric"`
	DueDate string      `json:"due_date" validate:"required,datetime=2006-01-02"`
}

// CreateObligationRequest creates an obligation. Installment plans take
// either explicit installments or an installment_count.
type CreateObligationRequest struct {
	StudentID        string               `json:"student_id" validate:"required,notblank,max=100"`
	FormationID      string               `json:"formation_id" validate:"required,notblank,max=100"`
	TotalAmount      json.Number          `json:"total_amount" validate:"required,numeric"`
	PlanType         string               `json:"plan_type" validate:"required,oneof=complete installment"`
	DueDate          string               `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Description      string               `json:"description" validate:"max=500"`
	InstallmentCount int                  `json:"installment_count" validate:"omitempty,min=2,max=60"`
	Installments     []InstallmentRequest `json:"installments" validate:"omitempty,max=60,dive"`
}

// PreviewPlanRequest asks the plan builder for a proposal.
type PreviewPlanRequest struct {
	TotalAmount json.Number `json:"total_amount" validate:"required,numeric"`
	Count       int         `json:"count" validate:"required,min=2,max=60"`
}

// PlanLineDTO is one proposed installment.
type PlanLineDTO struct {
	Index   int    `json:"index"`
	Amount  string `json:"amount"`
	DueDate string `json:"due_date"`
}

// UpdateDueDateRequest moves one installment.
type UpdateDueDateRequest struct {
	DueDate string `json:"due_date" validate:"required,datetime=2006-01-02"`
}

// =============================================================================
// ALERTS
// =============================================================================

type AlertDTO struct {
	ID           string     `json:"id"`
	StudentID    string     `json:"student_id"`
	FormationID  string     `json:"formation_id,omitempty"`
	ObligationID string     `json:"obligation_id,omitempty"`
	Kind         string     `json:"kind"`
	Message      string     `json:"message"`
	ReadStatus   string     `json:"read_status"`
	CreatedAt    time.Time  `json:"created_at"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
}

type SendAlertRequest struct {
	StudentID    string `json:"student_id" validate:"required,notblank"`
	FormationID  string `json:"formation_id"`
	ObligationID string `json:"obligation_id"`
	Kind         string `json:"kind" validate:"omitempty,oneof=reminder overdue due_soon general"`
	Message      string `json:"message" validate:"required,notblank,max=2000"`
}

type SweepResultDTO struct {
	Checked int        `json:"checked"`
	Raised  int        `json:"raised"`
	Skipped int        `json:"skipped"`
	Alerts  []AlertDTO `json:"alerts"`
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type DocumentLineDTO struct {
	Index   int        `json:"index"`
	Label   string     `json:"label"`
	DueDate string     `json:"due_date,omitempty"`
	Amount  string     `json:"amount"`
	Status  string     `json:"status"`
	PaidAt  *time.Time `json:"paid_at,omitempty"`
}

type DocumentDTO struct {
	Type          string            `json:"type"`
	Number        string            `json:"number"`
	ObligationID  string            `json:"obligation_id"`
	IssuedAt      time.Time         `json:"issued_at"`
	StudentID     string            `json:"student_id"`
	FormationID   string            `json:"formation_id"`
	Description   string            `json:"description,omitempty"`
	Status        string            `json:"status"`
	Lines         []DocumentLineDTO `json:"lines"`
	Total         string            `json:"total"`
	Paid          string            `json:"paid"`
	Outstanding   string            `json:"outstanding"`
	AmountInWords string            `json:"amount_in_words"`
	HTML          string            `json:"html"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toObligationDTO(v billing.View) ObligationDTO {
	ob := v.Obligation
	dto := ObligationDTO{
		ID:           string(ob.ID),
		StudentID:    string(ob.StudentID),
		FormationID:  string(ob.FormationID),
		TotalAmount:  ob.TotalAmount.String(),
		PlanType:     string(ob.PlanType),
		Description:  ob.Description,
		Status:       string(v.Status),
		PaidAmount:   v.PaidAmount.String(),
		Outstanding:  v.Outstanding.String(),
		PaidAt:       ob.PaidAt,
		Installments: make([]InstallmentDTO, len(v.Installments)),
		CreatedAt:    ob.CreatedAt,
		UpdatedAt:    ob.UpdatedAt,
	}
	if ob.DueDate != nil {
		dto.DueDate = strPtr(ob.DueDate.String())
	}
	if !v.NextDueDate.IsZero() {
		dto.NextDueDate = strPtr(v.NextDueDate.String())
	}
	for i, iv := range v.Installments {
		dto.Installments[i] = InstallmentDTO{
			Index:   iv.Index,
			Amount:  iv.Amount.String(),
			DueDate: iv.DueDate.String(),
			Status:  string(iv.Status),
			PaidAt:  iv.PaidAt,
		}
	}
	return dto
}

func toAlertDTO(a billing.Alert) AlertDTO {
	return AlertDTO{
		ID:           string(a.ID),
		StudentID:    string(a.StudentID),
		FormationID:  string(a.FormationID),
		ObligationID: string(a.ObligationID),
		Kind:         string(a.Kind),
		Message:      a.Message,
		ReadStatus:   string(a.ReadStatus),
		CreatedAt:    a.CreatedAt,
		ReadAt:       a.ReadAt,
	}
}

func toAlertDTOs(alerts []billing.Alert) []AlertDTO {
	dtos := make([]AlertDTO, len(alerts))
	for i, a := range alerts {
		dtos[i] = toAlertDTO(a)
	}
	return dtos
}

func toDocumentDTO(doc billing.Document) DocumentDTO {
	dto := DocumentDTO{
		Type:          string(doc.DocumentType),
		Number:        doc.Number,
		ObligationID:  string(doc.ObligationID),
		IssuedAt:      doc.IssuedAt,
		StudentID:     string(doc.StudentID),
		FormationID:   string(doc.FormationID),
		Description:   doc.Description,
		Status:        string(doc.Status),
		Lines:         make([]DocumentLineDTO, len(doc.Lines)),
		Total:         doc.Total.String(),
		Paid:          doc.Paid.String(),
		Outstanding:   doc.Outstanding.String(),
		AmountInWords: doc.AmountInWords,
		HTML:          doc.HTML,
	}
	for i, l := range doc.Lines {
		line := DocumentLineDTO{
			Index:  l.Index,
			Label:  l.Label,
			Amount: l.Amount.String(),
			Status: string(l.Status),
			PaidAt: l.PaidAt,
		}
		if !l.DueDate.IsZero() {
			line.DueDate = l.DueDate.String()
		}
		dto.Lines[i] = line
	}
	return dto
}

func toPlanLineDTOs(lines []billing.PlanLine) []PlanLineDTO {
	dtos := make([]PlanLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = PlanLineDTO{Index: i, Amount: l.Amount.String(), DueDate: l.DueDate.String()}
	}
	return dtos
}

// toCreateInput converts a validated request into engine input.
func (req CreateObligationRequest) toCreateInput() (billing.CreateObligationInput, error) {
	total, err := billing.NewMoney(req.TotalAmount.String())
	if err != nil {
		return billing.CreateObligationInput{}, &billing.ValidationError{Field: "total_amount", Reason: err.Error()}
	}
	in := billing.CreateObligationInput{
		StudentID:        billing.StudentID(req.StudentID),
		FormationID:      billing.FormationID(req.FormationID),
		TotalAmount:      total,
		PlanType:         billing.PlanType(req.PlanType),
		Description:      req.Description,
		InstallmentCount: req.InstallmentCount,
	}
	if req.DueDate != "" {
		d, err := billing.ParseDate(req.DueDate)
		if err != nil {
			return in, &billing.ValidationError{Field: "due_date", Reason: err.Error()}
		}
		in.DueDate = &d
	}
	for i, line := range req.Installments {
		amount, err := billing.NewMoney(line.Amount.String())
		if err != nil {
			return in, &billing.ValidationError{Field: fmt.Sprintf("installments[%d].amount", i), Reason: err.Error()}
		}
		due, err := billing.ParseDate(line.DueDate)
		if err != nil {
			return in, &billing.ValidationError{Field: fmt.Sprintf("installments[%d].due_date", i), Reason: err.Error()}
		}
		in.Installments = append(in.Installments, billing.InstallmentInput{Amount: amount, DueDate: due})
	}
	return in, nil
}

func strPtr(s string) *string {
	return &s
}
