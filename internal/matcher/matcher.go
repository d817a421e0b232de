package matcher

import (
	"github.com/shopspring/decimal"

	"github.com/naseerahmed599/enprom-reconciler/internal/models"
)

// Engine matches aggregated workflow invoices against ledger groups.
// Matching is a pure function of its inputs: no I/O, no clock, no randomness,
// so identical inputs always produce identical output.
type Engine struct {
	config *Config
}

// NewEngine creates a matching engine with the given configuration
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{config: config}
}

// Summary provides aggregate statistics about one matching run
type Summary struct {
	WorkflowInvoices int `json:"workflow_invoices"`
	LedgerInvoices   int `json:"ledger_invoices"`
	Matched          int `json:"matched"`
	Paid             int `json:"paid"`
	Mismatched       int `json:"mismatched"`
	NotInLedger      int `json:"not_in_ledger"`
	NotInWorkflow    int `json:"not_in_workflow"`
}

// Outcome is the complete result of one matching run
type Outcome struct {
	// Results holds exactly one entry per workflow invoice, ordered by
	// invoice number
	Results []models.ReconciliationResult
	// LedgerOnly lists invoices present on the ledger side only,
	// ordered by invoice number
	LedgerOnly []models.InvoiceAggregate
	Summary    Summary
}

// evaluation scores one ledger row as a match candidate
type evaluation struct {
	row         models.LedgerRow
	dateMatch   bool
	ccMatch     bool
	amountMatch bool
	viaTotal    bool
	score       int
	diff        decimal.Decimal
}

// Match reconciles the two aggregated sides. Inputs are expected sorted by
// invoice number as produced by AggregateWorkflow and AggregateLedger.
func (e *Engine) Match(workflow []models.InvoiceAggregate, ledger []LedgerGroup) *Outcome {
	byInvoice := make(map[string]*LedgerGroup, len(ledger))
	for i := range ledger {
		byInvoice[ledger[i].InvoiceNumber] = &ledger[i]
	}

	out := &Outcome{
		Summary: Summary{
			WorkflowInvoices: len(workflow),
			LedgerInvoices:   len(ledger),
		},
	}

	matched := make(map[string]bool, len(workflow))
	for _, w := range workflow {
		group, ok := byInvoice[w.InvoiceNumber]
		if !ok {
			out.Results = append(out.Results, models.ReconciliationResult{
				InvoiceNumber:      w.InvoiceNumber,
				Status:             models.StatusNotInLedger,
				WorkflowDate:       w.Date,
				WorkflowCostCenter: w.CostCenter,
				WorkflowAmount:     w.Amount,
			})
			out.Summary.NotInLedger++
			continue
		}
		matched[w.InvoiceNumber] = true
		result := e.reconcileInvoice(w, group)
		out.Results = append(out.Results, result)
		switch result.Status {
		case models.StatusMatch:
			out.Summary.Matched++
		case models.StatusPaid:
			out.Summary.Paid++
		default:
			out.Summary.Mismatched++
		}
	}

	for _, group := range ledger {
		if matched[group.InvoiceNumber] {
			continue
		}
		out.LedgerOnly = append(out.LedgerOnly, group.Aggregate())
	}
	out.Summary.NotInWorkflow = len(out.LedgerOnly)
	return out
}

// reconcileInvoice scores every ledger row in the group against the workflow
// invoice and renders the verdict from the best-scoring candidate
func (e *Engine) reconcileInvoice(w models.InvoiceAggregate, group *LedgerGroup) models.ReconciliationResult {
	best := e.bestCandidate(w, group)

	result := models.ReconciliationResult{
		InvoiceNumber:      w.InvoiceNumber,
		DateMatch:          best.dateMatch,
		CCMatch:            best.ccMatch,
		AmountMatch:        best.amountMatch,
		WorkflowDate:       w.Date,
		WorkflowCostCenter: w.CostCenter,
		WorkflowAmount:     w.Amount,
	}

	ledgerDate := best.row.PostingDate
	ledgerCC := best.row.CostCenter
	ledgerAmount := best.row.Amount
	if best.viaTotal {
		// the group total is what matched, so that is the amount to show
		ledgerAmount = group.Total
	}
	result.LedgerDate = &ledgerDate
	result.LedgerCostCenter = &ledgerCC
	result.LedgerAmount = &ledgerAmount
	for _, row := range group.Rows {
		if row.BookingText != "" {
			result.LedgerBooking = append(result.LedgerBooking, row.BookingText)
		}
	}
	diff := best.diff
	result.AmountDiff = &diff

	switch {
	case group.Total.Abs().LessThanOrEqual(e.config.Tolerance):
		result.Status = models.StatusPaid
	case best.dateMatch && best.ccMatch && best.amountMatch:
		result.Status = models.StatusMatch
	default:
		result.Status = models.StatusMismatch
	}
	return result
}

// bestCandidate returns the highest-scoring row; ties go to the earlier row
func (e *Engine) bestCandidate(w models.InvoiceAggregate, group *LedgerGroup) evaluation {
	var best evaluation
	for i, row := range group.Rows {
		eval := e.evaluate(w, row, group.Total)
		if i == 0 || eval.score > best.score {
			best = eval
		}
	}
	return best
}

func (e *Engine) evaluate(w models.InvoiceAggregate, row models.LedgerRow, total decimal.Decimal) evaluation {
	tol := e.config.Tolerance
	wAbs := w.Amount.Abs()
	rowAbs := row.Amount.Abs()
	totalAbs := total.Abs()

	individual := models.CompareAmountsWithTolerance(row.Amount, w.Amount, tol)
	viaTotal := models.CompareAmountsWithTolerance(total, w.Amount, tol)

	eval := evaluation{
		row:         row,
		dateMatch:   models.SameDay(row.PostingDate, w.Date),
		ccMatch:     row.CostCenter == w.CostCenter,
		amountMatch: individual || viaTotal,
		viaTotal:    !individual && viaTotal,
	}

	if eval.amountMatch {
		eval.score += 4
		// a row whose own amount matches outranks one that only matches
		// through the group total
		if eval.viaTotal {
			eval.score--
		}
	}
	if eval.dateMatch {
		eval.score += 2
	}
	if eval.ccMatch {
		eval.score++
	}

	switch {
	case individual:
		eval.diff = rowAbs.Sub(wAbs)
	case viaTotal:
		eval.diff = totalAbs.Sub(wAbs)
	default:
		eval.diff = rowAbs.Sub(wAbs)
	}
	return eval
}
