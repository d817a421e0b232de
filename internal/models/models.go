// Package models defines the shared data model for invoice reconciliation.
//
// Two independently sourced sides are modeled:
//   - the bookkeeping ledger (DATEV-style journal rows)
//   - the workflow/document service (documents with receipt splits)
//
// The ingest layer produces flat row tables (LedgerRow, WorkflowRow); the
// matching layer consumes per-invoice aggregates (InvoiceAggregate) and emits
// one ReconciliationResult per workflow invoice.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus classifies the per-invoice reconciliation verdict
type MatchStatus string

const (
	// StatusMatch means amount, date and cost center all agree
	StatusMatch MatchStatus = "MATCH"
	// StatusPaid means the ledger rows for the invoice sum to zero
	StatusPaid MatchStatus = "PAID"
	// StatusMismatch means a ledger candidate exists but at least one field disagrees
	StatusMismatch MatchStatus = "MISMATCH"
	// StatusNotInLedger means no ledger row carries the invoice number
	StatusNotInLedger MatchStatus = "NOT_IN_LEDGER"
)

// String returns the string representation of MatchStatus
func (s MatchStatus) String() string {
	return string(s)
}

// DisplayName returns the human-readable verdict used in reports
func (s MatchStatus) DisplayName() string {
	switch s {
	case StatusMatch:
		return "Match"
	case StatusPaid:
		return "Paid"
	case StatusMismatch:
		return "Mismatch"
	case StatusNotInLedger:
		return "Not in Ledger"
	default:
		return string(s)
	}
}

// Workflow stages as reported by the document service
const (
	StageDraft     = "Draft"
	StageApproved  = "Approved"
	StageProcessed = "Processed"
	StageRejected  = "Rejected"
)

// DefaultValidStages returns the stage set kept during ingestion
func DefaultValidStages() map[string]bool {
	return map[string]bool{
		StageProcessed: true,
		StageDraft:     true,
		StageApproved:  true,
	}
}

// DateRange represents an inclusive range of whole calendar days
type DateRange struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

// NewDateRange creates a DateRange with both ends normalized to midnight
func NewDateRange(min, max time.Time) DateRange {
	return DateRange{Min: Midnight(min), Max: Midnight(max)}
}

// Validate checks the range invariant
func (r DateRange) Validate() error {
	if r.Min.IsZero() || r.Max.IsZero() {
		return fmt.Errorf("date range bounds cannot be zero")
	}
	if r.Min.After(r.Max) {
		return fmt.Errorf("date range min %s is after max %s",
			r.Min.Format("2006-01-02"), r.Max.Format("2006-01-02"))
	}
	return nil
}

// Contains reports whether the given day falls inside the range
func (r DateRange) Contains(t time.Time) bool {
	d := Midnight(t)
	return !d.Before(r.Min) && !d.After(r.Max)
}

// Months expands the range into the ordered list of months intersecting it
func (r DateRange) Months() []MonthPath {
	var months []MonthPath
	cur := MonthPath{Year: r.Min.Year(), Month: r.Min.Month()}
	last := MonthPath{Year: r.Max.Year(), Month: r.Max.Month()}
	for {
		months = append(months, cur)
		if cur == last {
			break
		}
		cur = cur.Next()
	}
	return months
}

// String returns "YYYY-MM-DD..YYYY-MM-DD"
func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Min.Format("2006-01-02"), r.Max.Format("2006-01-02"))
}

// MonthPath identifies one calendar month, the pagination unit of the
// workflow service
type MonthPath struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// MonthOf returns the MonthPath containing the given time
func MonthOf(t time.Time) MonthPath {
	return MonthPath{Year: t.Year(), Month: t.Month()}
}

// Next returns the following calendar month
func (m MonthPath) Next() MonthPath {
	if m.Month == time.December {
		return MonthPath{Year: m.Year + 1, Month: time.January}
	}
	return MonthPath{Year: m.Year, Month: m.Month + 1}
}

// After reports whether m is chronologically after other
func (m MonthPath) After(other MonthPath) bool {
	if m.Year != other.Year {
		return m.Year > other.Year
	}
	return m.Month > other.Month
}

// String returns "YYYY-MM"
func (m MonthPath) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// PathValue returns the opaque path key understood by the workflow service
func (m MonthPath) PathValue() string {
	return fmt.Sprintf("CreationDate-Months/%s", m.String())
}

// LedgerRow is one journal entry from the bookkeeping side
type LedgerRow struct {
	InvoiceNumber string          `json:"invoiceNumber"`
	PostingDate   time.Time       `json:"postingDate"`
	CostCenter    string          `json:"costCenter"`
	Amount        decimal.Decimal `json:"amount"`
	BookingText   string          `json:"bookingText"`
}

// Validate performs basic validation on the LedgerRow
func (r *LedgerRow) Validate() error {
	if NormalizeInvoiceNumber(r.InvoiceNumber) == "" {
		return fmt.Errorf("ledger row invoice number is empty or a sentinel")
	}
	if r.PostingDate.IsZero() {
		return fmt.Errorf("ledger row posting date cannot be zero")
	}
	return nil
}

// String returns a string representation of the LedgerRow
func (r *LedgerRow) String() string {
	return fmt.Sprintf("LedgerRow{Invoice: %s, Date: %s, CC: %s, Amount: %s}",
		r.InvoiceNumber, r.PostingDate.Format("2006-01-02"), r.CostCenter, r.Amount.String())
}

// ReceiptSplit is one line item of a document's cost allocation
type ReceiptSplit struct {
	DocumentID  int             `json:"documentId"`
	CostCenter  string          `json:"costCenter"`
	Amount      decimal.Decimal `json:"amount"`
	TaxPercent  decimal.Decimal `json:"taxPercent"`
	BookingText string          `json:"bookingText"`
	InvoiceDate time.Time       `json:"invoiceDate"`
}

// WorkflowDoc is a workflow-service document with its receipt splits.
// InvoiceNumber and CurrencyCode may be empty until hydrated via a detail
// lookup; a zero InvoiceDate means the listing did not carry one.
type WorkflowDoc struct {
	DocumentID    int            `json:"documentId"`
	InvoiceNumber string         `json:"invoiceNumber"`
	InvoiceDate   time.Time      `json:"invoiceDate"`
	CurrencyCode  string         `json:"currencyCode"`
	CurrentStage  string         `json:"currentStage"`
	Splits        []ReceiptSplit `json:"splits"`
}

// String returns a string representation of the WorkflowDoc
func (d *WorkflowDoc) String() string {
	return fmt.Sprintf("WorkflowDoc{ID: %d, Invoice: %s, Stage: %s, Splits: %d}",
		d.DocumentID, d.InvoiceNumber, d.CurrentStage, len(d.Splits))
}

// WorkflowRow is one flat, EUR-denominated row handed to the matcher.
// One WorkflowDoc yields one row per retained receipt split.
type WorkflowRow struct {
	DocumentID    int             `json:"documentId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	InvoiceDate   time.Time       `json:"invoiceDate"`
	CostCenter    string          `json:"costCenter"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Stage         string          `json:"stage"`
}

// InvoiceAggregate is one side's rows grouped by invoice number.
// Date and CostCenter are first-seen under the side's stable ordering;
// Amount is the signed sum of the constituent rows.
type InvoiceAggregate struct {
	InvoiceNumber string          `json:"invoiceNumber"`
	Date          time.Time       `json:"date"`
	CostCenter    string          `json:"costCenter"`
	Amount        decimal.Decimal `json:"amount"`
	BookingTexts  []string        `json:"bookingTexts,omitempty"`
	RowCount      int             `json:"rowCount"`
}

// ReconciliationResult is the per-invoice verdict with diagnostic fields.
// Workflow fields are always populated; ledger fields are nil for
// StatusNotInLedger.
type ReconciliationResult struct {
	InvoiceNumber string      `json:"invoiceNumber"`
	Status        MatchStatus `json:"status"`

	DateMatch   bool `json:"dateMatch"`
	CCMatch     bool `json:"ccMatch"`
	AmountMatch bool `json:"amountMatch"`

	WorkflowDate       time.Time       `json:"workflowDate"`
	WorkflowCostCenter string          `json:"workflowCostCenter"`
	WorkflowAmount     decimal.Decimal `json:"workflowAmount"`

	LedgerDate       *time.Time       `json:"ledgerDate,omitempty"`
	LedgerCostCenter *string          `json:"ledgerCostCenter,omitempty"`
	LedgerAmount     *decimal.Decimal `json:"ledgerAmount,omitempty"`
	LedgerBooking    []string         `json:"ledgerBooking,omitempty"`

	AmountDiff *decimal.Decimal `json:"amountDiff,omitempty"`
}

// String returns a compact representation for logs
func (r *ReconciliationResult) String() string {
	return fmt.Sprintf("Result{Invoice: %s, Status: %s, flags: date=%t cc=%t amount=%t}",
		r.InvoiceNumber, r.Status, r.DateMatch, r.CCMatch, r.AmountMatch)
}

// Normalization helpers shared by both sides

// invoice number and cost center values the sources use to mean "absent"
var sentinelValues = map[string]bool{
	"":     true,
	"None": true,
	"nan":  true,
}

// NormalizeInvoiceNumber trims the value and maps sentinels to the empty string
func NormalizeInvoiceNumber(s string) string {
	trimmed := strings.TrimSpace(s)
	if sentinelValues[trimmed] {
		return ""
	}
	return trimmed
}

// NormalizeCostCenter trims the value and maps sentinels to the empty string
func NormalizeCostCenter(s string) string {
	trimmed := strings.TrimSpace(s)
	if sentinelValues[trimmed] {
		return ""
	}
	return trimmed
}

// NormalizeCurrency uppercases the code; empty or unknown values mean EUR
func NormalizeCurrency(s string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(s))
	if trimmed == "" || sentinelValues[strings.TrimSpace(s)] {
		return "EUR"
	}
	return trimmed
}

// Midnight strips the clock and timezone, keeping the calendar day in local time
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
}

// SameDay reports whether two times fall on the same calendar day
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// dateFormats accepted from the workflow service and ledger exports
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006", // DATEV exports use German day-first dates
	"01/02/2006",
}

// ParseDate parses a date string and normalizes it to local midnight
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	var lastErr error
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return Midnight(t), nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}

// ParseAmount parses a decimal amount, tolerating currency symbols and
// thousands separators
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, "€", "")
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseAccountingAmount parses an amount that may use the accounting
// convention of parenthesized negatives, e.g. "(1,234.56)" -> -1234.56.
// Applied only at the ledger source boundary.
func ParseAccountingAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}

	d, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}

	if negative {
		return d.Neg(), nil
	}
	return d, nil
}

// CompareAmountsWithTolerance compares two absolute amounts with a tolerance
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	diff := a.Abs().Sub(b.Abs()).Abs()
	return diff.LessThanOrEqual(tolerance)
}
