// Command generate produces a coherent local fixture set: monthly ledger
// journal CSVs, the workflow documents that should reconcile against them,
// and an FX rate table. The workflow JSON can be served by any static file
// server to exercise the reconciler end to end.
//
// Usage:
//
//	go run generate.go -output-dir ../generated -from 2024-01 -to 2024-03 \
//	  -count 40 -match-ratio 0.7 -seed 42
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

var currencies = []string{"EUR", "EUR", "EUR", "USD", "PLN"}

var costCenters = []string{"250041", "250042", "250107", "250348", "290000"}

var stages = []string{"Processed", "Processed", "Draft", "Approved", "Rejected"}

type split struct {
	DocumentID  int             `json:"documentId"`
	CostCenter  string          `json:"costCenter"`
	Amount      decimal.Decimal `json:"amount"`
	TaxPercent  decimal.Decimal `json:"taxPercent"`
	BookingText string          `json:"bookingText"`
	InvoiceDate string          `json:"invoiceDate"`
}

type document struct {
	DocumentID    int     `json:"documentId"`
	InvoiceNumber string  `json:"invoiceNumber"`
	InvoiceDate   string  `json:"invoiceDate"`
	CurrencyCode  string  `json:"currencyCode"`
	CurrentStage  string  `json:"currentStage"`
	Splits        []split `json:"documentReceiptSplits"`
}

func main() {
	var (
		outputDir  = flag.String("output-dir", "../generated", "Output directory")
		fromMonth  = flag.String("from", "2024-01", "First month (YYYY-MM)")
		toMonth    = flag.String("to", "2024-03", "Last month (YYYY-MM)")
		count      = flag.Int("count", 40, "Invoices per month")
		matchRatio = flag.Float64("match-ratio", 0.7, "Fraction of invoices that reconcile cleanly")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible output")
	)
	flag.Parse()

	from, err := time.Parse("2006-01", *fromMonth)
	if err != nil {
		log.Fatalf("Invalid from month: %v", err)
	}
	to, err := time.Parse("2006-01", *toMonth)
	if err != nil {
		log.Fatalf("Invalid to month: %v", err)
	}
	if to.Before(from) {
		log.Fatal("to month precedes from month")
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	docID := 1000
	rates := map[string]decimal.Decimal{
		"USD": decimal.NewFromFloat(1.08),
		"PLN": decimal.NewFromFloat(4.32),
	}

	var rateRows [][]string
	for month := from; !month.After(to); month = month.AddDate(0, 1, 0) {
		var docs []document
		var ledgerRows [][]string

		for i := 0; i < *count; i++ {
			docID++
			day := 1 + rng.Intn(28)
			invoiceDate := time.Date(month.Year(), month.Month(), day, 0, 0, 0, 0, time.UTC)
			invoice := fmt.Sprintf("INV-%s-%04d", month.Format("200601"), i+1)
			currency := currencies[rng.Intn(len(currencies))]
			cc := costCenters[rng.Intn(len(costCenters))]
			amountEUR := decimal.NewFromInt(int64(100 + rng.Intn(500000))).Div(decimal.NewFromInt(100))

			amount := amountEUR
			if currency != "EUR" {
				amount = amountEUR.Mul(rates[currency]).Round(2)
			}

			docs = append(docs, document{
				DocumentID:    docID,
				InvoiceNumber: invoice,
				InvoiceDate:   invoiceDate.Format("2006-01-02T15:04:05"),
				CurrencyCode:  currency,
				CurrentStage:  stages[rng.Intn(len(stages))],
				Splits: []split{{
					DocumentID:  docID,
					CostCenter:  cc,
					Amount:      amount,
					TaxPercent:  decimal.NewFromInt(19),
					BookingText: fmt.Sprintf("Rechnung %s", invoice),
					InvoiceDate: invoiceDate.Format("2006-01-02T15:04:05"),
				}},
			})

			roll := rng.Float64()
			switch {
			case roll < *matchRatio:
				// clean match, occasionally split across two rows
				if rng.Intn(5) == 0 {
					half := amountEUR.Div(decimal.NewFromInt(2)).Round(2)
					ledgerRows = append(ledgerRows,
						ledgerRow(invoice, invoiceDate, cc, half),
						ledgerRow(invoice, invoiceDate, cc, amountEUR.Sub(half)))
				} else {
					ledgerRows = append(ledgerRows, ledgerRow(invoice, invoiceDate, cc, amountEUR))
				}
			case roll < *matchRatio+0.1:
				// paid off: booking and its reversal
				ledgerRows = append(ledgerRows,
					ledgerRow(invoice, invoiceDate, cc, amountEUR),
					ledgerRow(invoice, invoiceDate.AddDate(0, 0, 3), cc, amountEUR.Neg()))
			case roll < *matchRatio+0.2:
				// mismatch on amount or cost center
				if rng.Intn(2) == 0 {
					ledgerRows = append(ledgerRows,
						ledgerRow(invoice, invoiceDate, cc, amountEUR.Add(decimal.NewFromFloat(7.77))))
				} else {
					other := costCenters[(indexOf(cc)+1)%len(costCenters)]
					ledgerRows = append(ledgerRows, ledgerRow(invoice, invoiceDate, other, amountEUR))
				}
			default:
				// not in ledger; sometimes add an unrelated ledger-only row
				if rng.Intn(3) == 0 {
					only := fmt.Sprintf("LG-%s-%04d", month.Format("200601"), i+1)
					ledgerRows = append(ledgerRows,
						ledgerRow(only, invoiceDate, cc, decimal.NewFromInt(int64(10+rng.Intn(900)))))
				}
			}
		}

		writeJSON(filepath.Join(*outputDir, fmt.Sprintf("documents-%s.json", month.Format("2006-01"))),
			map[string]interface{}{"documents": docs})
		writeLedgerCSV(filepath.Join(*outputDir, fmt.Sprintf("journal-%s.csv", month.Format("2006-01"))),
			ledgerRows)

		for currency, rate := range rates {
			rateRows = append(rateRows, []string{
				currency, month.Format("2006-01") + "-01", rate.String(),
			})
		}
	}

	writeRatesCSV(filepath.Join(*outputDir, "rates.csv"), rateRows)
	fmt.Printf("Fixtures written to %s\n", *outputDir)
}

func ledgerRow(invoice string, date time.Time, cc string, amount decimal.Decimal) []string {
	return []string{
		invoice,
		date.Format("02.01.2006"),
		cc,
		amount.StringFixed(2),
		fmt.Sprintf("Buchung %s", invoice),
	}
}

func indexOf(cc string) int {
	for i, c := range costCenters {
		if c == cc {
			return i
		}
	}
	return 0
}

func writeJSON(path string, payload interface{}) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		log.Fatalf("Failed to write %s: %v", path, err)
	}
}

func writeLedgerCSV(path string, rows [][]string) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	w.Write([]string{"belegfeld1", "buchungsdatum", "kostenstelle", "betrag", "buchungstext"})
	for _, row := range rows {
		w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Fatalf("Failed to write %s: %v", path, err)
	}
}

func writeRatesCSV(path string, rows [][]string) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	w.Write([]string{"currency", "date", "rate"})
	for _, row := range rows {
		w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Fatalf("Failed to write %s: %v", path, err)
	}
}
