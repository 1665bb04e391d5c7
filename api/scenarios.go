/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates obligations (and payments) relative
	to today so derived statuses are always meaningful.

AVAILABLE SCENARIOS:

	even-installments:     300 over 3, first installment paid (Partial)
	residual-installments: 301 over 3, last line absorbs the residual cent
	overdue-complete:      complete plan past due (Overdue) next to a paid one
	partial-with-overdue:  one paid plus one late installment (Partial, not Overdue)
	due-soon:              installment due in two days, for the alert sweep

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create obligations through billing.Service, so every invariant is checked
 3. Mark payments through the service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "partial-with-overdue"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add it to scenarioLoaders

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Obligation handlers
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/warp/tuition-engine/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "even-installments",
		Name:        "Even Installments",
		Description: "300 split into 3 monthly installments, the first one paid",
	},
	{
		ID:          "residual-installments",
		Name:        "Residual Cent",
		Description: "301 split into 3: 100.33, 100.33, 100.34",
	},
	{
		ID:          "overdue-complete",
		Name:        "Overdue Full Payment",
		Description: "Complete plan due 10 days ago and unpaid, next to a paid one",
	},
	{
		ID:          "partial-with-overdue",
		Name:        "Partial Beats Overdue",
		Description: "One installment paid and one past due: the obligation is Partial",
	},
	{
		ID:          "due-soon",
		Name:        "Due Soon",
		Description: "Installment due in two days, picked up by the alert sweep",
	},
}

func (h *Handler) scenarioLoaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"even-installments":     h.loadEvenInstallmentsScenario,
		"residual-installments": h.loadResidualInstallmentsScenario,
		"overdue-complete":      h.loadOverdueCompleteScenario,
		"partial-with-overdue":  h.loadPartialWithOverdueScenario,
		"due-soon":              h.loadDueSoonScenario,
	}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	load, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Scenario not found", req.ScenarioID)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to load scenario", err.Error())
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	log.Printf("[Scenario] Loaded %s", req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

var errResetUnsupported = errors.New("store does not support reset")

func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Store.(billing.Resetter)
	if !ok {
		return errResetUnsupported
	}
	if err := resetter.Reset(ctx); err != nil {
		return &billing.StorageError{Op: "reset", Err: err}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const (
	formationWeb  = billing.FormationID("formation-web-dev")
	formationData = billing.FormationID("formation-data-analysis")
)

// Scenario A: 300 over 3, first installment paid.
func (h *Handler) loadEvenInstallmentsScenario(ctx context.Context) error {
	ob, err := h.Service.CreateObligation(ctx, billing.CreateObligationInput{
		StudentID:        "student-amina",
		FormationID:      formationWeb,
		TotalAmount:      billing.MoneyFromInt(300),
		PlanType:         billing.PlanInstallment,
		Description:      "Web development bootcamp",
		InstallmentCount: 3,
	})
	if err != nil {
		return fmt.Errorf("create obligation: %w", err)
	}
	if _, err := h.Service.MarkInstallmentPaid(ctx, ob.ID, 0); err != nil {
		return fmt.Errorf("mark installment paid: %w", err)
	}
	return nil
}

// Scenario B: 301 over 3.
func (h *Handler) loadResidualInstallmentsScenario(ctx context.Context) error {
	_, err := h.Service.CreateObligation(ctx, billing.CreateObligationInput{
		StudentID:        "student-youssef",
		FormationID:      formationData,
		TotalAmount:      billing.MoneyFromInt(301),
		PlanType:         billing.PlanInstallment,
		Description:      "Data analysis certificate",
		InstallmentCount: 3,
	})
	if err != nil {
		return fmt.Errorf("create obligation: %w", err)
	}
	return nil
}

// Scenario C: complete plan past due, plus one already settled.
func (h *Handler) loadOverdueCompleteScenario(ctx context.Context) error {
	today := billing.DateOf(h.Service.Now())

	late := today.AddDays(-10)
	if _, err := h.Service.CreateObligation(ctx, billing.CreateObligationInput{
		StudentID:   "student-salma",
		FormationID: formationWeb,
		TotalAmount: billing.MoneyFromInt(1200),
		PlanType:    billing.PlanComplete,
		DueDate:     &late,
		Description: "Web development bootcamp, paid in full",
	}); err != nil {
		return fmt.Errorf("create overdue obligation: %w", err)
	}

	settledDue := today.AddDays(-20)
	settled, err := h.Service.CreateObligation(ctx, billing.CreateObligationInput{
		StudentID:   "student-karim",
		FormationID: formationData,
		TotalAmount: billing.MoneyFromInt(950),
		PlanType:    billing.PlanComplete,
		DueDate:     &settledDue,
		Description: "Data analysis certificate, paid in full",
	})
	if err != nil {
		return fmt.Errorf("create settled obligation: %w", err)
	}
	if _, err := h.Service.MarkCompletePaid(ctx, settled.ID); err != nil {
		return fmt.Errorf("mark complete paid: %w", err)
	}
	return nil
}

// Scenario D: one paid installment and one past due.
func (h *Handler) loadPartialWithOverdueScenario(ctx context.Context) error {
	today := billing.DateOf(h.Service.Now())

	ob, err := h.Service.CreateObligation(ctx, billing.CreateObligationInput{
		StudentID:   "student-nadia",
		FormationID: formationWeb,
		TotalAmount: billing.MoneyFromInt(900),
		PlanType:    billing.PlanInstallment,
		Description: "Web development bootcamp",
		Installments: []billing.InstallmentInput{
			{Amount: billing.MoneyFromInt(300), DueDate: today.AddDays(-40)},
			{Amount: billing.MoneyFromInt(300), DueDate: today.AddDays(-5)},
			{Amount: billing.MoneyFromInt(300), DueDate: today.AddDays(25)},
		},
	})
	if err != nil {
		return fmt.Errorf("create obligation: %w", err)
	}
	if _, err := h.Service.MarkInstallmentPaid(ctx, ob.ID, 0); err != nil {
		return fmt.Errorf("mark installment paid: %w", err)
	}
	return nil
}

// Next installment due in two days, nothing paid yet.
func (h *Handler) loadDueSoonScenario(ctx context.Context) error {
	today := billing.DateOf(h.Service.Now())

	_, err := h.Service.CreateObligation(ctx, billing.CreateObligationInput{
		StudentID:   "student-omar",
		FormationID: formationData,
		TotalAmount: billing.MustMoney("1500.00"),
		PlanType:    billing.PlanInstallment,
		Description: "Data analysis certificate",
		Installments: []billing.InstallmentInput{
			{Amount: billing.MustMoney("750.00"), DueDate: today.AddDays(2)},
			{Amount: billing.MustMoney("750.00"), DueDate: today.AddDays(2).AddMonths(1)},
		},
	})
	if err != nil {
		return fmt.Errorf("create obligation: %w", err)
	}
	return nil
}
