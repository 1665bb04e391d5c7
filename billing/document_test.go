package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tuition-engine/billing"
)

func TestRenderDocuments_PartialObligation(t *testing.T) {
	// GIVEN: A partially paid installment plan
	// WHEN: Rendering an invoice and a receipt
	// THEN: Invoice fails with NotCompletedError, receipt succeeds

	svc, _, _ := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()
	ob := createInstallmentPlan(t, svc, "stu-1", "301", 3)
	_, err := svc.MarkInstallmentPaid(ctx, ob.ID, 0)
	require.NoError(t, err)

	_, err = svc.RenderInvoice(ctx, ob.ID, billing.DocumentOptions{})
	var ncErr *billing.NotCompletedError
	require.ErrorAs(t, err, &ncErr)
	assert.Equal(t, billing.StatusPartial, ncErr.Status)
	assert.True(t, billing.IsClientError(err))

	receipt, err := svc.RenderReceipt(ctx, ob.ID, billing.DocumentOptions{IssuerName: "Atlas Academy"})
	require.NoError(t, err)
	assert.Equal(t, billing.DocumentReceipt, receipt.DocumentType)
	assert.Equal(t, billing.StatusPartial, receipt.Status)
	require.Len(t, receipt.Lines, 3)
	assert.Equal(t, billing.InstallmentPaid, receipt.Lines[0].Status)
	assert.Equal(t, "Installment 1 of 3", receipt.Lines[0].Label)
	assert.Equal(t, "100.33", receipt.Paid.String())
	assert.Equal(t, "200.67", receipt.Outstanding.String())
	assert.Equal(t, "three hundred one and 00/100 MAD", receipt.AmountInWords)
	assert.Contains(t, receipt.HTML, "Atlas Academy")
	assert.Contains(t, receipt.HTML, "REC-")
}

func TestRenderInvoice_Completed(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))
	ctx := context.Background()
	ob, err := svc.CreateObligation(ctx, billing.CreateObligationInput{
		StudentID: "stu-1", FormationID: "form-1", TotalAmount: money("1250.50"),
		PlanType: billing.PlanComplete, DueDate: datePtr(day(2026, time.February, 1)),
		Description: "Data analysis certificate",
	})
	require.NoError(t, err)
	_, err = svc.MarkCompletePaid(ctx, ob.ID)
	require.NoError(t, err)

	invoice, err := svc.RenderInvoice(ctx, ob.ID, billing.DocumentOptions{Currency: "EUR"})
	require.NoError(t, err)

	assert.Equal(t, billing.DocumentInvoice, invoice.DocumentType)
	assert.Equal(t, "INV-ID1", invoice.Number)
	require.Len(t, invoice.Lines, 1)
	assert.Equal(t, -1, invoice.Lines[0].Index)
	assert.Equal(t, billing.InstallmentPaid, invoice.Lines[0].Status)
	assert.True(t, invoice.Outstanding.IsZero())
	assert.Equal(t, "one thousand two hundred fifty and 50/100 EUR", invoice.AmountInWords)
	assert.Contains(t, invoice.HTML, "Data analysis certificate")
}

func TestRenderReceipt_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, at(2026, time.January, 15))

	_, err := svc.RenderReceipt(context.Background(), "missing", billing.DocumentOptions{})
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestAmountInWords(t *testing.T) {
	assert.Equal(t, "three hundred one and 34/100 MAD", billing.AmountInWords(money("301.34"), "MAD"))
	assert.Equal(t, "zero and 05/100 MAD", billing.AmountInWords(money("0.05"), "MAD"))
	assert.Equal(t, "one hundred and 00/100 MAD", billing.AmountInWords(money("100"), "MAD"))
}
