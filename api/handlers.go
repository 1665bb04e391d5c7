/*
handlers.go - HTTP API handlers for the tuition payment engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, actor scoping, and delegates to billing.Service.

ENDPOINTS:
  Obligations (staff):
    GET    /api/obligations                                 List (student_id, formation_id, status)
    POST   /api/obligations                                 Create
    POST   /api/obligations/preview                         Plan builder proposal
    GET    /api/obligations/export                          Spreadsheet export
    DELETE /api/obligations/{id}                            Delete (alerts kept)
    POST   /api/obligations/{id}/pay                        Mark complete plan paid
    POST   /api/obligations/{id}/installments/{index}/pay   Mark installment paid
    PUT    /api/obligations/{id}/installments/{index}/due-date

  Obligations (staff or owning student):
    GET    /api/obligations/{id}
    GET    /api/obligations/{id}/receipt    ?format=html for the printable body
    GET    /api/obligations/{id}/invoice    409 until completed

  Student:
    GET    /api/me/obligations
    GET    /api/me/alerts                   ?unread=true

  Alerts:
    GET    /api/alerts                      (staff) student_id, obligation_id, unread
    POST   /api/alerts                      (staff) Send
    POST   /api/alerts/{id}/read            (owner or staff) Idempotent
    POST   /api/alerts/sweep                (staff) Run the sweep now

ERROR HANDLING:
  Engine errors map to HTTP status in writeServiceError:
  - 400: Validation errors, invalid plan, malformed body
  - 403: Wrong role
  - 404: Unknown obligation, installment or alert (or not the caller's)
  - 409: Already paid, invoice before completion
  - 503: Storage failure, lock timeout (retryable)
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Actor extraction
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/tuition-engine/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service       *billing.Service
	Store         billing.Store
	Documents     billing.DocumentOptions
	DueSoonWindow time.Duration

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. store is the service's store, used
// directly only for demo resets.
func NewHandler(svc *billing.Service, store billing.Store) *Handler {
	return &Handler{
		Service:       svc,
		Store:         store,
		Documents:     billing.DefaultDocumentOptions,
		DueSoonWindow: billing.DefaultDueSoonWindow,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// OBLIGATION HANDLERS
// =============================================================================

// ListObligations returns obligations filtered by query parameters.
func (h *Handler) ListObligations(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilterFromQuery(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeObligations(w, r, filter)
}

// ListMyObligations returns the calling student's obligations.
func (h *Handler) ListMyObligations(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	filter, err := listFilterFromQuery(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	filter.StudentID = billing.StudentID(actor.ID)
	h.writeObligations(w, r, filter)
}

func (h *Handler) writeObligations(w http.ResponseWriter, r *http.Request, filter billing.ListFilter) {
	dtos := make([]ObligationDTO, 0)
	for ob, err := range h.Service.List(r.Context(), filter) {
		if err != nil {
			writeServiceError(w, err)
			return
		}
		dtos = append(dtos, toObligationDTO(h.Service.Derive(ob)))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func listFilterFromQuery(r *http.Request) (billing.ListFilter, error) {
	q := r.URL.Query()
	filter := billing.ListFilter{
		StudentID:   billing.StudentID(q.Get("student_id")),
		FormationID: billing.FormationID(q.Get("formation_id")),
		Status:      billing.ObligationStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, &billing.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	return filter, nil
}

// CreateObligation creates an obligation from a complete or installment plan.
func (h *Handler) CreateObligation(w http.ResponseWriter, r *http.Request) {
	var req CreateObligationRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	in, err := req.toCreateInput()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	ob, err := h.Service.CreateObligation(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toObligationDTO(h.Service.Derive(ob)))
}

// PreviewPlan returns the builder's proposal without persisting anything.
func (h *Handler) PreviewPlan(w http.ResponseWriter, r *http.Request) {
	var req PreviewPlanRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	total, err := billing.NewMoney(req.TotalAmount.String())
	if err != nil {
		writeServiceError(w, &billing.ValidationError{Field: "total_amount", Reason: err.Error()})
		return
	}

	lines, err := h.Service.PreviewPlan(total, req.Count)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanLineDTOs(lines))
}

// GetObligation returns one obligation with derived state.
func (h *Handler) GetObligation(w http.ResponseWriter, r *http.Request) {
	ob, ok := h.loadVisibleObligation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(h.Service.Derive(ob)))
}

// DeleteObligation removes an obligation.
func (h *Handler) DeleteObligation(w http.ResponseWriter, r *http.Request) {
	id := billing.ObligationID(chi.URLParam(r, "id"))
	if err := h.Service.DeleteObligation(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkCompletePaid records payment of a complete-plan obligation.
func (h *Handler) MarkCompletePaid(w http.ResponseWriter, r *http.Request) {
	id := billing.ObligationID(chi.URLParam(r, "id"))
	ob, err := h.Service.MarkCompletePaid(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(h.Service.Derive(ob)))
}

// MarkInstallmentPaid records payment of one installment.
func (h *Handler) MarkInstallmentPaid(w http.ResponseWriter, r *http.Request) {
	id := billing.ObligationID(chi.URLParam(r, "id"))
	index, err := indexParam(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	ob, err := h.Service.MarkInstallmentPaid(r.Context(), id, index)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(h.Service.Derive(ob)))
}

// UpdateInstallmentDueDate moves an unpaid installment.
func (h *Handler) UpdateInstallmentDueDate(w http.ResponseWriter, r *http.Request) {
	id := billing.ObligationID(chi.URLParam(r, "id"))
	index, err := indexParam(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req UpdateDueDateRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	due, err := billing.ParseDate(req.DueDate)
	if err != nil {
		writeServiceError(w, &billing.ValidationError{Field: "due_date", Reason: err.Error()})
		return
	}

	ob, err := h.Service.UpdateInstallmentDueDate(r.Context(), id, index, due)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(h.Service.Derive(ob)))
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// RenderReceipt returns proof of obligation.
func (h *Handler) RenderReceipt(w http.ResponseWriter, r *http.Request) {
	h.renderDocument(w, r, billing.DocumentReceipt)
}

// RenderInvoice returns proof of payment in full.
func (h *Handler) RenderInvoice(w http.ResponseWriter, r *http.Request) {
	h.renderDocument(w, r, billing.DocumentInvoice)
}

func (h *Handler) renderDocument(w http.ResponseWriter, r *http.Request, kind billing.DocumentType) {
	ob, ok := h.loadVisibleObligation(w, r)
	if !ok {
		return
	}

	var (
		doc billing.Document
		err error
	)
	if kind == billing.DocumentInvoice {
		doc, err = h.Service.RenderInvoice(r.Context(), ob.ID, h.Documents)
	} else {
		doc, err = h.Service.RenderReceipt(r.Context(), ob.ID, h.Documents)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(doc.HTML))
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// loadVisibleObligation loads {id} and hides other students' records behind
// a 404. It writes the error response itself.
func (h *Handler) loadVisibleObligation(w http.ResponseWriter, r *http.Request) (billing.Obligation, bool) {
	id := billing.ObligationID(chi.URLParam(r, "id"))
	ob, err := h.Service.GetObligation(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return billing.Obligation{}, false
	}
	actor, _ := ActorFrom(r.Context())
	if !actor.CanSee(string(ob.StudentID)) {
		writeServiceError(w, &billing.NotFoundError{Kind: "obligation", ID: string(id)})
		return billing.Obligation{}, false
	}
	return ob, true
}

// =============================================================================
// ALERT HANDLERS
// =============================================================================

// ListAlerts returns alerts for staff.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	alerts, err := h.Service.ListAlerts(r.Context(), billing.AlertFilter{
		StudentID:    billing.StudentID(q.Get("student_id")),
		ObligationID: billing.ObligationID(q.Get("obligation_id")),
		UnreadOnly:   q.Get("unread") == "true",
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTOs(alerts))
}

// ListMyAlerts returns the calling student's alerts, newest first.
func (h *Handler) ListMyAlerts(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	alerts, err := h.Service.ListAlerts(r.Context(), billing.AlertFilter{
		StudentID:  billing.StudentID(actor.ID),
		UnreadOnly: r.URL.Query().Get("unread") == "true",
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTOs(alerts))
}

// SendAlert records a manual alert.
func (h *Handler) SendAlert(w http.ResponseWriter, r *http.Request) {
	var req SendAlertRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	alert, err := h.Service.SendAlert(r.Context(), billing.SendAlertInput{
		StudentID:    billing.StudentID(req.StudentID),
		FormationID:  billing.FormationID(req.FormationID),
		ObligationID: billing.ObligationID(req.ObligationID),
		Kind:         billing.AlertKind(req.Kind),
		Message:      req.Message,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAlertDTO(alert))
}

// MarkAlertRead marks an alert read. Repeating it returns the same alert.
func (h *Handler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	id := billing.AlertID(chi.URLParam(r, "id"))
	alert, err := h.Service.GetAlert(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	actor, _ := ActorFrom(r.Context())
	if !actor.CanSee(string(alert.StudentID)) {
		writeServiceError(w, &billing.NotFoundError{Kind: "alert", ID: string(id)})
		return
	}

	alert, err = h.Service.MarkAlertRead(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTO(alert))
}

// TriggerSweep runs the alert sweep immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.Sweep(r.Context(), h.DueSoonWindow)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	log.Printf("[Sweep] Manual sweep: checked=%d raised=%d skipped=%d", result.Checked, result.Raised, result.Skipped)
	writeJSON(w, http.StatusOK, SweepResultDTO{
		Checked: result.Checked,
		Raised:  result.Raised,
		Skipped: result.Skipped,
		Alerts:  toAlertDTOs(result.Alerts),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func indexParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &billing.ValidationError{Field: "index", Reason: fmt.Sprintf("must be an integer, got %q", raw)}
	}
	return index, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// writeServiceError maps engine and request errors to a status and body.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		reqErr  *RequestError
		vErr    *billing.ValidationError
		planErr *billing.InvalidPlanError
		nfErr   *billing.NotFoundError
		paidErr *billing.AlreadyPaidError
		notDone *billing.NotCompletedError
	)

	switch {
	case errors.As(err, &reqErr):
		var details any
		if len(reqErr.Fields) > 0 {
			details = reqErr.Fields
		}
		writeError(w, http.StatusBadRequest, "invalid_request", reqErr.Message, details)

	case errors.As(err, &planErr):
		writeError(w, http.StatusBadRequest, "invalid_plan", "Invalid installment plan", planErr.Reason)

	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, "validation", "Validation failed",
			map[string]string{"field": vErr.Field, "reason": vErr.Reason})

	case errors.As(err, &nfErr):
		writeError(w, http.StatusNotFound, "not_found", notFoundMessage(nfErr.Kind), nfErr.ID)

	case errors.As(err, &paidErr):
		details := map[string]any{"obligation_id": paidErr.ObligationID, "paid_at": paidErr.PaidAt}
		if paidErr.InstallmentIndex >= 0 {
			details["installment_index"] = paidErr.InstallmentIndex
		}
		writeError(w, http.StatusConflict, "already_paid", "Already paid", details)

	case errors.As(err, &notDone):
		writeError(w, http.StatusConflict, "not_completed", "Invoice requires a completed obligation",
			map[string]any{"obligation_id": notDone.ObligationID, "status": notDone.Status})

	case errors.Is(err, billing.ErrLockTimeout):
		writeError(w, http.StatusServiceUnavailable, "lock_timeout", "Obligation is busy, retry", err.Error())

	case errors.Is(err, billing.ErrStorage):
		log.Printf("[API] Storage failure: %v", err)
		writeError(w, http.StatusServiceUnavailable, "storage", "Storage unavailable, retry", nil)

	default:
		log.Printf("[API] Internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "Internal error", nil)
	}
}

func notFoundMessage(kind string) string {
	if kind == "" {
		return "Not found"
	}
	return strings.ToUpper(kind[:1]) + kind[1:] + " not found"
}
