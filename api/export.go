package api

import (
	"fmt"
	"net/http"

	"github.com/warp/tuition-engine/billing"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Obligations"

var exportHeaders = []string{
	"Obligation", "Student", "Formation", "Plan", "Description",
	"Total", "Paid", "Outstanding", "Status", "Next due date", "Installments",
}

// ExportObligations streams the filtered obligations as an .xlsx workbook,
// one row per obligation with its derived status.
func (h *Handler) ExportObligations(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilterFromQuery(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	obligations, err := billing.Collect(h.Service.List(r.Context(), filter))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	f, err := buildObligationWorkbook(obligations, h.Service.Derive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to build spreadsheet", err.Error())
		return
	}
	defer f.Close()

	fileName := fmt.Sprintf("obligations_%s.xlsx", h.Service.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+fileName)
	if err := f.Write(w); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to write spreadsheet", err.Error())
	}
}

func buildObligationWorkbook(obligations []billing.Obligation, derive func(billing.Obligation) billing.View) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(exportSheet)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, err
	}

	for i, header := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(exportSheet, cell, header)
	}

	for i, ob := range obligations {
		v := derive(ob)
		row := i + 2
		total, _ := ob.TotalAmount.Value.Float64()
		paid, _ := v.PaidAmount.Value.Float64()
		outstanding, _ := v.Outstanding.Value.Float64()

		values := []any{
			string(ob.ID), string(ob.StudentID), string(ob.FormationID), string(ob.PlanType), ob.Description,
			total, paid, outstanding, string(v.Status), "", len(ob.Installments),
		}
		if !v.NextDueDate.IsZero() {
			values[9] = v.NextDueDate.String()
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(exportSheet, cell, value); err != nil {
				f.Close()
				return nil, err
			}
		}
	}
	return f, nil
}
