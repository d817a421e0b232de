// Package reporter renders reconciliation output for human and machine
// consumption.
//
// Supported output formats:
//   - Console: readable tabular output for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: flat rows for spreadsheet import
//
// Amounts are carried through the pipeline at full decimal precision and
// rounded to two fractional digits only here.
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/naseerahmed599/enprom-reconciler/internal/models"
	"github.com/naseerahmed599/enprom-reconciler/internal/reconciler"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// statusNotInWorkflow labels ledger-only invoices in flat outputs
const statusNotInWorkflow = "NOT_IN_WORKFLOW"

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeResults    bool `json:"include_results"`
	IncludeLedgerOnly bool `json:"include_ledger_only"`
	IncludeWarnings   bool `json:"include_warnings"`
	IncludeStats      bool `json:"include_stats"`
	// ProblemsOnly suppresses Match results, leaving only items that
	// need attention
	ProblemsOnly bool `json:"problems_only"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeResults:    true,
		IncludeLedgerOnly: true,
		IncludeWarnings:   true,
		IncludeStats:      true,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	return nil
}

// ReportGenerator renders reconciliation output in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a report generator with the given configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// Generate writes a report of the given output to the writer
func (rg *ReportGenerator) Generate(out *reconciler.Output, writer io.Writer) error {
	if out == nil {
		return fmt.Errorf("reconciliation output cannot be nil")
	}
	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsole(out, writer)
	case FormatJSON:
		return rg.generateJSON(out, writer)
	case FormatCSV:
		return rg.generateCSV(out, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// results returns the result set after the problems-only filter
func (rg *ReportGenerator) results(out *reconciler.Output) []models.ReconciliationResult {
	if !rg.config.ProblemsOnly {
		return out.Results
	}
	var filtered []models.ReconciliationResult
	for _, r := range out.Results {
		if r.Status != models.StatusMatch {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func (rg *ReportGenerator) generateConsole(out *reconciler.Output, writer io.Writer) error {
	fmt.Fprintf(writer, "RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Generated: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration:  %v\n\n", out.Duration.Round(time.Millisecond))

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	s := out.Summary
	fmt.Fprintf(writer, "%-24s %6d\n", "Workflow invoices:", s.WorkflowInvoices)
	fmt.Fprintf(writer, "%-24s %6d\n", "Ledger invoices:", s.LedgerInvoices)
	fmt.Fprintf(writer, "%-24s %6d\n", "Matched:", s.Matched)
	fmt.Fprintf(writer, "%-24s %6d\n", "Paid:", s.Paid)
	fmt.Fprintf(writer, "%-24s %6d\n", "Mismatched:", s.Mismatched)
	fmt.Fprintf(writer, "%-24s %6d\n", "Not in ledger:", s.NotInLedger)
	fmt.Fprintf(writer, "%-24s %6d\n\n", "Not in workflow:", s.NotInWorkflow)

	results := rg.results(out)
	if rg.config.IncludeResults && len(results) > 0 {
		fmt.Fprintf(writer, "=== RESULTS ===\n")
		fmt.Fprintf(writer, "%-20s %-15s %-12s %-12s %-12s %-10s\n",
			"INVOICE", "STATUS", "WF DATE", "WF AMOUNT", "LG AMOUNT", "DIFF")
		for _, r := range results {
			fmt.Fprintf(writer, "%-20s %-15s %-12s %-12s %-12s %-10s\n",
				truncate(r.InvoiceNumber, 20),
				r.Status.DisplayName(),
				fmtDate(r.WorkflowDate),
				fmtAmount(r.WorkflowAmount),
				fmtOptAmount(r.LedgerAmount),
				fmtOptAmount(r.AmountDiff))
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeLedgerOnly && len(out.LedgerOnly) > 0 {
		fmt.Fprintf(writer, "=== NOT IN WORKFLOW ===\n")
		fmt.Fprintf(writer, "%-20s %-12s %-12s %-12s %6s\n",
			"INVOICE", "DATE", "COST CTR", "AMOUNT", "ROWS")
		for _, lo := range out.LedgerOnly {
			fmt.Fprintf(writer, "%-20s %-12s %-12s %-12s %6d\n",
				truncate(lo.InvoiceNumber, 20),
				fmtDate(lo.Date),
				lo.CostCenter,
				fmtAmount(lo.Amount),
				lo.RowCount)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeWarnings && len(out.Stats.Warnings) > 0 {
		fmt.Fprintf(writer, "=== WARNINGS (%d) ===\n", len(out.Stats.Warnings))
		for _, w := range out.Stats.Warnings {
			fmt.Fprintf(writer, "  - %s\n", w)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeStats {
		st := out.Stats
		fmt.Fprintf(writer, "=== INGESTION ===\n")
		fmt.Fprintf(writer, "Months fetched:     %d/%d\n", st.MonthsFetched, st.MonthsPlanned)
		fmt.Fprintf(writer, "Documents listed:   %d\n", st.DocumentsListed)
		fmt.Fprintf(writer, "Dropped (cc/stage/date/invoice/detail): %d/%d/%d/%d/%d\n",
			st.DroppedByCostCenter, st.DroppedByStage, st.DroppedByDate,
			st.DroppedMissingInvoice, st.DroppedDetailFailure)
		if st.DroppedSplitsByCostCenter > 0 {
			fmt.Fprintf(writer, "Split rows dropped: %d (cost-center filter)\n", st.DroppedSplitsByCostCenter)
		}
		fmt.Fprintf(writer, "Detail lookups:     %d (%d cache hits)\n", st.DetailLookups, st.DetailCacheHits)
		fmt.Fprintf(writer, "Ledger rows:        %d read, %d dropped\n", st.LedgerRowsRead, st.LedgerRowsDropped)
		if st.Cancelled {
			fmt.Fprintf(writer, "Run was cancelled; results are partial.\n")
		}
	}
	return nil
}

// jsonResult is the export view of a single verdict with rounded amounts
type jsonResult struct {
	InvoiceNumber      string  `json:"invoice_number"`
	Status             string  `json:"status"`
	DateMatch          bool    `json:"date_match"`
	CCMatch            bool    `json:"cc_match"`
	AmountMatch        bool    `json:"amount_match"`
	WorkflowDate       string  `json:"workflow_date"`
	WorkflowCostCenter string  `json:"workflow_cost_center"`
	WorkflowAmount     string  `json:"workflow_amount"`
	LedgerDate         *string `json:"ledger_date,omitempty"`
	LedgerCostCenter   *string `json:"ledger_cost_center,omitempty"`
	LedgerAmount       *string `json:"ledger_amount,omitempty"`
	AmountDiff         *string `json:"amount_diff,omitempty"`
}

type jsonLedgerOnly struct {
	InvoiceNumber string   `json:"invoice_number"`
	Date          string   `json:"date"`
	CostCenter    string   `json:"cost_center"`
	Amount        string   `json:"amount"`
	RowCount      int      `json:"row_count"`
	BookingTexts  []string `json:"booking_texts,omitempty"`
}

func (rg *ReportGenerator) generateJSON(out *reconciler.Output, writer io.Writer) error {
	report := map[string]interface{}{
		"generated_at": time.Now().Format(time.RFC3339),
		"duration_ms":  out.Duration.Milliseconds(),
		"summary":      out.Summary,
	}
	if rg.config.IncludeResults {
		results := rg.results(out)
		views := make([]jsonResult, 0, len(results))
		for _, r := range results {
			views = append(views, jsonResult{
				InvoiceNumber:      r.InvoiceNumber,
				Status:             string(r.Status),
				DateMatch:          r.DateMatch,
				CCMatch:            r.CCMatch,
				AmountMatch:        r.AmountMatch,
				WorkflowDate:       fmtDate(r.WorkflowDate),
				WorkflowCostCenter: r.WorkflowCostCenter,
				WorkflowAmount:     fmtAmount(r.WorkflowAmount),
				LedgerDate:         optDate(r.LedgerDate),
				LedgerCostCenter:   r.LedgerCostCenter,
				LedgerAmount:       optAmount(r.LedgerAmount),
				AmountDiff:         optAmount(r.AmountDiff),
			})
		}
		report["results"] = views
	}
	if rg.config.IncludeLedgerOnly {
		views := make([]jsonLedgerOnly, 0, len(out.LedgerOnly))
		for _, lo := range out.LedgerOnly {
			views = append(views, jsonLedgerOnly{
				InvoiceNumber: lo.InvoiceNumber,
				Date:          fmtDate(lo.Date),
				CostCenter:    lo.CostCenter,
				Amount:        fmtAmount(lo.Amount),
				RowCount:      lo.RowCount,
				BookingTexts:  lo.BookingTexts,
			})
		}
		report["ledger_only"] = views
	}
	if rg.config.IncludeStats {
		report["stats"] = out.Stats
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func (rg *ReportGenerator) generateCSV(out *reconciler.Output, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	defer csvWriter.Flush()

	if rg.config.CSVHeaders {
		header := []string{
			"invoice_number", "status", "date_match", "cc_match", "amount_match",
			"workflow_date", "workflow_cost_center", "workflow_amount",
			"ledger_date", "ledger_cost_center", "ledger_amount", "amount_diff",
		}
		if err := csvWriter.Write(header); err != nil {
			return err
		}
	}

	if rg.config.IncludeResults {
		for _, r := range rg.results(out) {
			record := []string{
				r.InvoiceNumber,
				string(r.Status),
				fmt.Sprintf("%t", r.DateMatch),
				fmt.Sprintf("%t", r.CCMatch),
				fmt.Sprintf("%t", r.AmountMatch),
				fmtDate(r.WorkflowDate),
				r.WorkflowCostCenter,
				fmtAmount(r.WorkflowAmount),
				deref(optDate(r.LedgerDate)),
				deref(r.LedgerCostCenter),
				deref(optAmount(r.LedgerAmount)),
				deref(optAmount(r.AmountDiff)),
			}
			if err := csvWriter.Write(record); err != nil {
				return err
			}
		}
	}

	if rg.config.IncludeLedgerOnly {
		for _, lo := range out.LedgerOnly {
			record := []string{
				lo.InvoiceNumber,
				statusNotInWorkflow,
				"false", "false", "false",
				"", "", "",
				fmtDate(lo.Date),
				lo.CostCenter,
				fmtAmount(lo.Amount),
				"",
			}
			if err := csvWriter.Write(record); err != nil {
				return err
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func fmtAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func fmtOptAmount(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}

func optAmount(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}

func fmtDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func optDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtDate(*t)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
