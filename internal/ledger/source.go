// Package ledger provides access to bookkeeping journal rows.
//
// The reconciliation core only depends on the Source interface; the backing
// store is supplied by the embedding application. The package bundles one
// concrete adapter, CSVSource, which reads DATEV-style journal exports laid
// out as one CSV file per calendar month.
package ledger

import (
	"context"

	"github.com/naseerahmed599/enprom-reconciler/internal/models"
)

// Source yields ledger rows for a date range, optionally filtered by a set
// of cost-center codes.
//
// An empty or nil costCenters set means no cost-center filtering. Amount
// sign convention: positive for receivables, negative for payables;
// accounting-parenthesized negatives must already be canonicalized to signed
// numbers by the implementation. Rows the implementation had to drop are
// described in the returned warnings.
type Source interface {
	Fetch(ctx context.Context, r models.DateRange, costCenters map[string]bool) ([]models.LedgerRow, []string, error)
}
