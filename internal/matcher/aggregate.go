package matcher

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/naseerahmed599/enprom-reconciler/internal/models"
)

// LedgerGroup collects every ledger row sharing one invoice number.
// The individual rows stay available as match candidates; Total is their
// signed sum and drives the paid-off detection.
type LedgerGroup struct {
	InvoiceNumber string
	Rows          []models.LedgerRow
	Total         decimal.Decimal
}

// Aggregate flattens the group into the shape used for ledger-only reporting
func (g *LedgerGroup) Aggregate() models.InvoiceAggregate {
	agg := models.InvoiceAggregate{
		InvoiceNumber: g.InvoiceNumber,
		Amount:        g.Total,
		RowCount:      len(g.Rows),
	}
	if len(g.Rows) > 0 {
		agg.Date = g.Rows[0].PostingDate
		agg.CostCenter = g.Rows[0].CostCenter
	}
	for _, row := range g.Rows {
		if row.BookingText != "" {
			agg.BookingTexts = append(agg.BookingTexts, row.BookingText)
		}
	}
	return agg
}

// AggregateWorkflow groups workflow rows by invoice number. Rows are first
// put into a stable order by document id so that the first-seen date and
// cost center do not depend on fetch order; amounts sum with sign. The
// returned slice is sorted by invoice number.
func AggregateWorkflow(rows []models.WorkflowRow) []models.InvoiceAggregate {
	ordered := make([]models.WorkflowRow, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DocumentID < ordered[j].DocumentID
	})

	byInvoice := make(map[string]*models.InvoiceAggregate)
	var order []string
	for _, row := range ordered {
		agg, ok := byInvoice[row.InvoiceNumber]
		if !ok {
			agg = &models.InvoiceAggregate{
				InvoiceNumber: row.InvoiceNumber,
				Date:          row.InvoiceDate,
				CostCenter:    row.CostCenter,
			}
			byInvoice[row.InvoiceNumber] = agg
			order = append(order, row.InvoiceNumber)
		}
		agg.Amount = agg.Amount.Add(row.Amount)
		agg.RowCount++
	}

	sort.Strings(order)
	result := make([]models.InvoiceAggregate, 0, len(order))
	for _, invoice := range order {
		result = append(result, *byInvoice[invoice])
	}
	return result
}

// AggregateLedger groups ledger rows by invoice number, preserving source
// row order inside each group. The returned slice is sorted by invoice number.
func AggregateLedger(rows []models.LedgerRow) []LedgerGroup {
	byInvoice := make(map[string]*LedgerGroup)
	var order []string
	for _, row := range rows {
		group, ok := byInvoice[row.InvoiceNumber]
		if !ok {
			group = &LedgerGroup{InvoiceNumber: row.InvoiceNumber}
			byInvoice[row.InvoiceNumber] = group
			order = append(order, row.InvoiceNumber)
		}
		group.Rows = append(group.Rows, row)
		group.Total = group.Total.Add(row.Amount)
	}

	sort.Strings(order)
	result := make([]LedgerGroup, 0, len(order))
	for _, invoice := range order {
		result = append(result, *byInvoice[invoice])
	}
	return result
}
