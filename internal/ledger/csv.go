package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/naseerahmed599/enprom-reconciler/internal/models"
	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"
	"github.com/naseerahmed599/enprom-reconciler/pkg/logger"
)

// Canonical column names for journal files
const (
	columnInvoiceNumber = "invoice_number"
	columnPostingDate   = "posting_date"
	columnCostCenter    = "cost_center"
	columnAmount        = "amount"
	columnBookingText   = "booking_text"
)

// columnAliases maps header spellings seen in DATEV exports onto the
// canonical column names
var columnAliases = map[string]string{
	"invoice_number":  columnInvoiceNumber,
	"invoice":         columnInvoiceNumber,
	"invoice_no":      columnInvoiceNumber,
	"belegfeld1":      columnInvoiceNumber,
	"rechnungsnummer": columnInvoiceNumber,

	"posting_date":  columnPostingDate,
	"date":          columnPostingDate,
	"datum":         columnPostingDate,
	"belegdatum":    columnPostingDate,
	"buchungsdatum": columnPostingDate,

	"cost_center":   columnCostCenter,
	"costcenter":    columnCostCenter,
	"kostenstelle":  columnCostCenter,
	"kst":           columnCostCenter,

	"amount":  columnAmount,
	"betrag":  columnAmount,
	"umsatz":  columnAmount,
	"value":   columnAmount,

	"booking_text": columnBookingText,
	"buchungstext": columnBookingText,
	"text":         columnBookingText,
}

// requiredColumns must all be resolvable from the header
var requiredColumns = []string{columnInvoiceNumber, columnPostingDate, columnCostCenter, columnAmount}

// CSVSource reads ledger rows from monthly journal CSV files in a directory.
// Files are named journal-YYYY-MM.csv; months without a file yield no rows.
type CSVSource struct {
	dir       string
	delimiter rune
	logger    logger.Logger
}

// NewCSVSource creates a CSVSource for the given directory
func NewCSVSource(dir string) (*CSVSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger-dir", dir, err)
	}
	if !info.IsDir() {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger-dir", dir, nil).
			WithSuggestion("ledger-dir must point to a directory of monthly journal files")
	}

	return &CSVSource{
		dir:       dir,
		delimiter: ',',
		logger:    logger.GetGlobalLogger().WithComponent("ledger_csv"),
	}, nil
}

// Fetch implements Source. Rows outside the range and rows failing the
// cost-center filter are dropped; rows that fail to parse are dropped with a
// warning. Sentinel invoice numbers pass through untouched so the ingestion
// stats can account for them.
func (s *CSVSource) Fetch(ctx context.Context, r models.DateRange, costCenters map[string]bool) ([]models.LedgerRow, []string, error) {
	if err := r.Validate(); err != nil {
		return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "date-range", r.String(), err)
	}

	var rows []models.LedgerRow
	var warnings []string

	for _, month := range r.Months() {
		if err := ctx.Err(); err != nil {
			return rows, warnings, errors.CancelledError("ledger fetch", err)
		}

		path := filepath.Join(s.dir, fmt.Sprintf("journal-%s.csv", month.String()))
		file, err := os.Open(path)
		if os.IsNotExist(err) {
			s.logger.WithField("month", month.String()).Debug("No journal file for month")
			continue
		}
		if err != nil {
			return nil, warnings, errors.Wrap(err, errors.CategoryConfiguration, errors.CodeInvalidConfig,
				fmt.Sprintf("journal file %s not readable", path))
		}

		monthRows, monthWarnings, err := s.readFile(file, path, r, costCenters)
		file.Close()
		if err != nil {
			return nil, warnings, err
		}

		rows = append(rows, monthRows...)
		warnings = append(warnings, monthWarnings...)
	}

	s.logger.WithFields(logger.Fields{
		"range":    r.String(),
		"rows":     len(rows),
		"warnings": len(warnings),
	}).Debug("Ledger fetch complete")

	return rows, warnings, nil
}

func (s *CSVSource) readFile(f io.Reader, path string, r models.DateRange, costCenters map[string]bool) ([]models.LedgerRow, []string, error) {
	reader := csv.NewReader(f)
	reader.Comma = s.delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errors.SchemaError(errors.CodeInvalidPayload, "header", path, err)
	}

	columns, err := resolveColumns(header)
	if err != nil {
		return nil, nil, errors.SchemaError(errors.CodeMissingField, "header", path, err).
			WithContext("file", path)
	}

	var rows []models.LedgerRow
	var warnings []string
	line := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s line %d: %v", filepath.Base(path), line, err))
			continue
		}

		row, err := buildRow(record, columns)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s line %d: %v", filepath.Base(path), line, err))
			continue
		}

		if !r.Contains(row.PostingDate) {
			continue
		}
		if len(costCenters) > 0 && !costCenters[row.CostCenter] {
			continue
		}

		rows = append(rows, row)
	}

	return rows, warnings, nil
}

// resolveColumns maps canonical column names to indexes using the alias table
func resolveColumns(header []string) (map[string]int, error) {
	columns := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := columnAliases[key]; ok {
			if _, exists := columns[canonical]; !exists {
				columns[canonical] = i
			}
		}
	}

	for _, required := range requiredColumns {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("required column '%s' not found in header", required)
		}
	}

	return columns, nil
}

func buildRow(record []string, columns map[string]int) (models.LedgerRow, error) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	date, err := models.ParseDate(field(columnPostingDate))
	if err != nil {
		return models.LedgerRow{}, err
	}

	// Accounting-parenthesized negatives are canonicalized here, at the
	// source boundary
	amount, err := models.ParseAccountingAmount(field(columnAmount))
	if err != nil {
		return models.LedgerRow{}, err
	}

	row := models.LedgerRow{
		InvoiceNumber: strings.TrimSpace(field(columnInvoiceNumber)),
		PostingDate:   date,
		CostCenter:    models.NormalizeCostCenter(field(columnCostCenter)),
		Amount:        amount,
		BookingText:   strings.TrimSpace(field(columnBookingText)),
	}

	return row, nil
}
