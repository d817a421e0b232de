package fx

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/naseerahmed599/enprom-reconciler/internal/models"
	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"

	"github.com/shopspring/decimal"
)

// TableSource is an in-memory, date-keyed rate table. Lookups for dates the
// table does not carry fall back to the most recent earlier date for that
// currency.
type TableSource struct {
	// rates[currency] is sorted ascending by day
	rates map[string][]tableEntry
}

type tableEntry struct {
	day  time.Time
	rate decimal.Decimal
}

// NewTableSource creates an empty rate table
func NewTableSource() *TableSource {
	return &TableSource{rates: make(map[string][]tableEntry)}
}

// AddRate registers a rate for the currency on the given day
func (s *TableSource) AddRate(currency string, day time.Time, rate decimal.Decimal) {
	currency = models.NormalizeCurrency(currency)
	entries := append(s.rates[currency], tableEntry{day: models.Midnight(day), rate: rate})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].day.Before(entries[j].day)
	})
	s.rates[currency] = entries
}

// Rate implements RateSource with fallback to the latest day <= date
func (s *TableSource) Rate(currency string, date time.Time) (decimal.Decimal, bool) {
	entries := s.rates[models.NormalizeCurrency(currency)]
	if len(entries) == 0 {
		return decimal.Zero, false
	}

	day := models.Midnight(date)
	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].day.After(day)
	})
	if idx == 0 {
		// All known dates are after the requested one
		return decimal.Zero, false
	}
	return entries[idx-1].rate, true
}

// LoadTableCSV reads a currency,date,rate table from a CSV file.
// A header row is detected and skipped; blank lines are ignored.
func LoadTableCSV(path string) (*TableSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "fx-table", path, err)
	}
	defer file.Close()

	source, err := ReadTable(file)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategorySchema, errors.CodeInvalidPayload,
			fmt.Sprintf("fx table %s not readable", path)).WithContext("path", path)
	}
	return source, nil
}

// ReadTable parses a currency,date,rate CSV stream into a TableSource
func ReadTable(r io.Reader) (*TableSource, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = 3

	source := NewTableSource()
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("fx table line %d: %w", line+1, err)
		}
		line++

		// Header row
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "currency") {
			continue
		}

		day, err := models.ParseDate(record[1])
		if err != nil {
			return nil, fmt.Errorf("fx table line %d: %w", line, err)
		}

		rate, err := decimal.NewFromString(strings.TrimSpace(record[2]))
		if err != nil {
			return nil, fmt.Errorf("fx table line %d: invalid rate '%s': %w", line, record[2], err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("fx table line %d: rate must be positive, got %s", line, rate)
		}

		source.AddRate(record[0], day, rate)
	}

	return source, nil
}
