/*
document.go - Receipt and invoice projection

PURPOSE:
  Renders financial documents from obligation state at call time. A
  document is a value composed for printing, never stored: calling again
  regenerates it from the current facts.

DOCUMENT TYPES:
  receipt  Proof of obligation. Valid for any status (pending, partial,
           overdue, completed). Shows what is owed, paid and outstanding.
  invoice  Proof of payment in full. Only for a Completed obligation;
           otherwise NotCompletedError.

OUTPUT:
  Document carries structured lines and totals plus a self-contained HTML
  body that can be printed or converted to PDF by an external renderer.
*/
package billing

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/divan/num2words"
)

type DocumentType string

const (
	DocumentReceipt DocumentType = "receipt"
	DocumentInvoice DocumentType = "invoice"
)

// DocumentLine is one schedule line. Index is -1 for a complete plan.
type DocumentLine struct {
	Index   int
	Label   string
	DueDate Date
	Amount  Money
	Status  InstallmentStatus
	PaidAt  *time.Time
}

// Document is a rendered receipt or invoice.
type Document struct {
	ObligationID  ObligationID
	DocumentType  DocumentType
	Number        string
	IssuedAt      time.Time
	StudentID     StudentID
	FormationID   FormationID
	Description   string
	PlanType      PlanType
	Status        ObligationStatus
	Lines         []DocumentLine
	Total         Money
	Paid          Money
	Outstanding   Money
	AmountInWords string
	HTML          string
}

// DocumentOptions controls presentation only.
type DocumentOptions struct {
	IssuerName string
	Currency   string
}

// DefaultDocumentOptions is used when the caller does not set any.
var DefaultDocumentOptions = DocumentOptions{IssuerName: "Training Center", Currency: "MAD"}

// RenderReceipt renders proof of obligation for any status.
func (s *Service) RenderReceipt(ctx context.Context, id ObligationID, opts DocumentOptions) (Document, error) {
	ob, err := s.GetObligation(ctx, id)
	if err != nil {
		return Document{}, err
	}
	return BuildDocument(DocumentReceipt, Derive(ob, s.now()), s.now(), opts)
}

// RenderInvoice renders proof of payment in full.
func (s *Service) RenderInvoice(ctx context.Context, id ObligationID, opts DocumentOptions) (Document, error) {
	ob, err := s.GetObligation(ctx, id)
	if err != nil {
		return Document{}, err
	}
	v := Derive(ob, s.now())
	if v.Status != StatusCompleted {
		return Document{}, &NotCompletedError{ObligationID: id, Status: v.Status}
	}
	return BuildDocument(DocumentInvoice, v, s.now(), opts)
}

// BuildDocument projects a view into a document. It does not check whether
// the document type is allowed for the status; the Render* methods do.
func BuildDocument(kind DocumentType, v View, issuedAt time.Time, opts DocumentOptions) (Document, error) {
	if opts.IssuerName == "" {
		opts.IssuerName = DefaultDocumentOptions.IssuerName
	}
	if opts.Currency == "" {
		opts.Currency = DefaultDocumentOptions.Currency
	}

	ob := v.Obligation
	doc := Document{
		ObligationID: ob.ID,
		DocumentType: kind,
		Number:       documentNumber(kind, ob.ID),
		IssuedAt:     issuedAt.UTC(),
		StudentID:    ob.StudentID,
		FormationID:  ob.FormationID,
		Description:  ob.Description,
		PlanType:     ob.PlanType,
		Status:       v.Status,
		Total:        ob.TotalAmount,
		Paid:         v.PaidAmount,
		Outstanding:  v.Outstanding,
	}

	if ob.PlanType == PlanComplete {
		status := InstallmentPending
		switch v.Status {
		case StatusCompleted:
			status = InstallmentPaid
		case StatusOverdue:
			status = InstallmentOverdue
		}
		line := DocumentLine{Index: -1, Label: "Full payment", Amount: ob.TotalAmount, Status: status, PaidAt: ob.PaidAt}
		if ob.DueDate != nil {
			line.DueDate = *ob.DueDate
		}
		doc.Lines = []DocumentLine{line}
	} else {
		for _, iv := range v.Installments {
			doc.Lines = append(doc.Lines, DocumentLine{
				Index:   iv.Index,
				Label:   fmt.Sprintf("Installment %d of %d", iv.Index+1, len(v.Installments)),
				DueDate: iv.DueDate,
				Amount:  iv.Amount,
				Status:  iv.Status,
				PaidAt:  iv.PaidAt,
			})
		}
	}

	// Invoices state what was paid; receipts state what is owed.
	worded := ob.TotalAmount
	if kind == DocumentInvoice {
		worded = v.PaidAmount
	}
	doc.AmountInWords = AmountInWords(worded, opts.Currency)

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, struct {
		Document
		Title  string
		Issuer string
		Ccy    string
	}{doc, documentTitle(kind), opts.IssuerName, opts.Currency}); err != nil {
		return Document{}, fmt.Errorf("render %s: %w", kind, err)
	}
	doc.HTML = buf.String()
	return doc, nil
}

// AmountInWords spells the whole part and writes cents as a fraction:
// 301.34 -> "three hundred one and 34/100 MAD".
func AmountInWords(m Money, currency string) string {
	rounded := m.Cents().Value
	whole := rounded.Truncate(0)
	cents := rounded.Sub(whole).Shift(MinorUnits).IntPart()
	words := num2words.Convert(int(whole.IntPart()))
	return strings.TrimSpace(fmt.Sprintf("%s and %02d/100 %s", words, cents, currency))
}

func documentNumber(kind DocumentType, id ObligationID) string {
	prefix := "REC"
	if kind == DocumentInvoice {
		prefix = "INV"
	}
	short := strings.ToUpper(strings.ReplaceAll(string(id), "-", ""))
	if len(short) > 8 {
		short = short[:8]
	}
	return prefix + "-" + short
}

func documentTitle(kind DocumentType) string {
	if kind == DocumentInvoice {
		return "Invoice"
	}
	return "Receipt"
}

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"paid": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.UTC().Format("2006-01-02")
	},
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}} {{.Number}}</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 40px auto;">
<h1>{{.Issuer}}</h1>
<h2>{{.Title}} {{.Number}}</h2>
<p>Issued: {{.IssuedAt.Format "2006-01-02"}}<br>
Student: {{.StudentID}}<br>
Formation: {{.FormationID}}{{if .Description}}<br>
{{.Description}}{{end}}</p>
<table border="1" cellpadding="6" cellspacing="0" width="100%">
<thead><tr><th>Item</th><th>Due date</th><th>Amount ({{.Ccy}})</th><th>Status</th><th>Paid on</th></tr></thead>
<tbody>
{{range .Lines}}<tr><td>{{.Label}}</td><td>{{.DueDate}}</td><td>{{.Amount}}</td><td>{{.Status}}</td><td>{{paid .PaidAt}}</td></tr>
{{end}}</tbody>
</table>
<p>Total: {{.Total}} {{.Ccy}}<br>
Paid: {{.Paid}} {{.Ccy}}<br>
Outstanding: {{.Outstanding}} {{.Ccy}}<br>
Status: {{.Status}}</p>
<p><em>{{.AmountInWords}}</em></p>
</body>
</html>
`))
