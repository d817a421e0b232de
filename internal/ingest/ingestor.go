package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/naseerahmed599/enprom-reconciler/internal/ledger"
	"github.com/naseerahmed599/enprom-reconciler/internal/models"
	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"
	"github.com/naseerahmed599/enprom-reconciler/pkg/logger"
)

var decimalOne = decimal.NewFromInt(1)

// WorkflowClient is the slice of the workflow API the ingestor consumes
type WorkflowClient interface {
	ListMonth(ctx context.Context, month models.MonthPath) ([]models.WorkflowDoc, []string, error)
	GetDocument(ctx context.Context, documentID int) (*models.WorkflowDoc, error)
}

// Config tunes ingestion behavior
type Config struct {
	// Concurrency bounds the worker pool shared by month listings and
	// detail lookups
	Concurrency int
	// Retry applies to every upstream call
	Retry RetryPolicy
	// ValidStages whitelists workflow stages; docs in other stages are dropped
	ValidStages map[string]bool
	// Now is the clock used to cap lookahead months, injectable for tests
	Now func() time.Time
}

// DefaultConfig returns the standard ingestion configuration
func DefaultConfig() Config {
	return Config{
		Concurrency: 10,
		Retry:       DefaultRetryPolicy(),
		ValidStages: models.DefaultValidStages(),
		Now:         time.Now,
	}
}

// Request describes one ingestion run
type Request struct {
	Range models.DateRange
	// CostCenters restricts both sides to the given normalized cost
	// centers; nil or empty means no restriction
	CostCenters map[string]bool
	// LookaheadMonths extends month listings past the range to catch
	// documents filed after their invoice date. Capped at the current month.
	LookaheadMonths int
}

// Result is the raw material handed to the matcher
type Result struct {
	LedgerRows   []models.LedgerRow
	WorkflowRows []models.WorkflowRow
	Stats        Stats
}

// Ingestor pulls both sides into flat rows: workflow documents via the HTTP
// client, ledger rows via the configured source. All amounts leave here in EUR.
type Ingestor struct {
	workflow WorkflowClient
	ledger   ledger.Source
	run      *RunContext
	cfg      Config
	logger   logger.Logger
}

// NewIngestor wires an ingestor; zero config fields get defaults
func NewIngestor(wf WorkflowClient, src ledger.Source, run *RunContext, cfg Config, log logger.Logger) *Ingestor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.ValidStages == nil {
		cfg.ValidStages = models.DefaultValidStages()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Ingestor{
		workflow: wf,
		ledger:   src,
		run:      run,
		cfg:      cfg,
		logger:   log.WithComponent("ingest"),
	}
}

// Ingest fetches, filters, hydrates and normalizes both sides.
// A partial Result together with a cancelled error is returned when the
// context is cancelled mid-run; auth failures abort immediately.
func (in *Ingestor) Ingest(ctx context.Context, req Request) (*Result, error) {
	if err := req.Range.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "range", req.Range.String(), err)
	}

	res := &Result{}
	months := in.expandMonths(req.Range, req.LookaheadMonths)
	res.Stats.MonthsPlanned = len(months)

	docs, err := in.fetchMonths(ctx, months, &res.Stats)
	if err != nil {
		return in.finish(res, err)
	}
	res.Stats.DocumentsListed = len(docs)

	docs = in.filterCostCenters(docs, req.CostCenters, &res.Stats)
	docs = in.filterStages(docs, &res.Stats)

	docs, err = in.hydrate(ctx, docs, &res.Stats)
	if err != nil {
		return in.finish(res, err)
	}

	docs = in.filterDates(docs, req.Range, &res.Stats)

	res.WorkflowRows = in.emitRows(docs, &res.Stats)
	res.Stats.WorkflowRows = len(res.WorkflowRows)

	if ctx.Err() != nil {
		return in.finish(res, errors.CancelledError("ingest", ctx.Err()))
	}

	ledgerRows, warnings, err := in.ledger.Fetch(ctx, req.Range, req.CostCenters)
	if err != nil {
		if errors.IsCancelled(err) {
			return in.finish(res, err)
		}
		return nil, err
	}
	for _, w := range warnings {
		res.Stats.warn(w)
	}
	res.Stats.LedgerRowsRead = len(ledgerRows)
	res.LedgerRows = in.normalizeLedger(ledgerRows, &res.Stats)

	in.logger.WithFields(logger.Fields{
		"workflow_rows": len(res.WorkflowRows),
		"ledger_rows":   len(res.LedgerRows),
		"months":        len(months),
	}).Info("ingestion complete")
	return res, nil
}

// finish marks the partial result when a run is cut short
func (in *Ingestor) finish(res *Result, err error) (*Result, error) {
	if errors.IsCancelled(err) {
		res.Stats.Cancelled = true
		return res, err
	}
	return nil, err
}

// expandMonths lists every month touched by the range plus up to
// lookahead trailing months, never past the current month
func (in *Ingestor) expandMonths(r models.DateRange, lookahead int) []models.MonthPath {
	months := r.Months()
	if lookahead <= 0 || len(months) == 0 {
		return months
	}
	current := models.MonthOf(in.cfg.Now())
	last := months[len(months)-1]
	for i := 0; i < lookahead; i++ {
		next := last.Next()
		if next.After(current) {
			break
		}
		months = append(months, next)
		last = next
	}
	return months
}

// fetchMonths lists all months through the bounded pool. A failed month is
// skipped with a warning; an auth failure aborts the whole run.
func (in *Ingestor) fetchMonths(ctx context.Context, months []models.MonthPath, stats *Stats) ([]models.WorkflowDoc, error) {
	type monthResult struct {
		docs     []models.WorkflowDoc
		warnings []string
		attempts int
		err      error
	}
	results := make([]monthResult, len(months))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.Concurrency)
	for i, month := range months {
		i, month := i, month
		g.Go(func() error {
			var docs []models.WorkflowDoc
			var warns []string
			attempts, err := retry(gctx, in.cfg.Retry, func() error {
				d, w, e := in.workflow.ListMonth(gctx, month)
				if e != nil {
					return e
				}
				docs, warns = d, w
				return nil
			})
			results[i] = monthResult{docs: docs, warnings: warns, attempts: attempts, err: err}
			if err != nil && (errors.IsAuth(err) || errors.IsCancelled(err)) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil && !errors.IsCancelled(err) {
			err = errors.CancelledError("month listing", ctx.Err())
		}
		return nil, err
	}

	var docs []models.WorkflowDoc
	seen := make(map[int]bool)
	for i, month := range months {
		r := results[i]
		fetch := MonthFetch{Month: month.String(), Documents: len(r.docs), Attempts: r.attempts}
		if r.err != nil {
			fetch.Error = r.err.Error()
			stats.MonthsFailed++
			stats.warn(fmt.Sprintf("month %s skipped: %v", month, r.err))
			in.logger.WithField("month", month.String()).WithError(r.err).Warn("month listing failed, skipping")
		} else {
			stats.MonthsFetched++
		}
		stats.MonthFetches = append(stats.MonthFetches, fetch)
		for _, w := range r.warnings {
			stats.warn(fmt.Sprintf("month %s: %s", month, w))
		}
		for _, d := range r.docs {
			if seen[d.DocumentID] {
				continue
			}
			seen[d.DocumentID] = true
			docs = append(docs, d)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].DocumentID < docs[j].DocumentID })
	return docs, nil
}

func (in *Ingestor) filterCostCenters(docs []models.WorkflowDoc, costCenters map[string]bool, stats *Stats) []models.WorkflowDoc {
	if len(costCenters) == 0 {
		return docs
	}
	kept := docs[:0]
	for _, doc := range docs {
		var splits []models.ReceiptSplit
		for _, s := range doc.Splits {
			if costCenters[models.NormalizeCostCenter(s.CostCenter)] {
				splits = append(splits, s)
			}
		}
		if len(splits) == 0 {
			stats.DroppedByCostCenter++
			continue
		}
		stats.DroppedSplitsByCostCenter += len(doc.Splits) - len(splits)
		doc.Splits = splits
		kept = append(kept, doc)
	}
	return kept
}

func (in *Ingestor) filterStages(docs []models.WorkflowDoc, stats *Stats) []models.WorkflowDoc {
	kept := docs[:0]
	for _, doc := range docs {
		if !in.cfg.ValidStages[doc.CurrentStage] {
			stats.DroppedByStage++
			continue
		}
		kept = append(kept, doc)
	}
	if len(kept) == 0 && stats.DroppedByStage > 0 {
		stats.warn("all listed documents were filtered out by stage; check the valid-stages configuration")
	}
	return kept
}

// hydrate backfills missing invoice numbers and currency codes via document
// detail lookups, consulting the run caches first. A document whose invoice
// number cannot be resolved is dropped; a document whose currency cannot be
// resolved falls back to EUR.
func (in *Ingestor) hydrate(ctx context.Context, docs []models.WorkflowDoc, stats *Stats) ([]models.WorkflowDoc, error) {
	type outcome struct {
		attempts int
		fetched  bool
		cacheHit bool
		err      error
	}
	outcomes := make([]outcome, len(docs))

	needsDetail := func(doc *models.WorkflowDoc) bool {
		return models.NormalizeInvoiceNumber(doc.InvoiceNumber) == "" || doc.CurrencyCode == ""
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.Concurrency)
	for i := range docs {
		doc := &docs[i]
		if models.NormalizeInvoiceNumber(doc.InvoiceNumber) == "" {
			if v, ok := in.run.InvoiceNumber.Get(doc.DocumentID); ok {
				doc.InvoiceNumber = v
				outcomes[i].cacheHit = true
			}
		}
		if doc.CurrencyCode == "" {
			if v, ok := in.run.Currency.Get(doc.DocumentID); ok {
				doc.CurrencyCode = v
				outcomes[i].cacheHit = true
			}
		}
		if !needsDetail(doc) {
			continue
		}
		i, doc := i, doc
		g.Go(func() error {
			var detail *models.WorkflowDoc
			attempts, err := retry(gctx, in.cfg.Retry, func() error {
				d, e := in.workflow.GetDocument(gctx, doc.DocumentID)
				if e != nil {
					return e
				}
				detail = d
				return nil
			})
			outcomes[i].attempts = attempts
			outcomes[i].fetched = err == nil
			outcomes[i].err = err
			if err != nil {
				if errors.IsAuth(err) || errors.IsCancelled(err) {
					return err
				}
				return nil
			}
			invoice := models.NormalizeInvoiceNumber(detail.InvoiceNumber)
			currency := models.NormalizeCurrency(detail.CurrencyCode)
			in.run.InvoiceNumber.Set(doc.DocumentID, invoice)
			in.run.Currency.Set(doc.DocumentID, currency)
			if models.NormalizeInvoiceNumber(doc.InvoiceNumber) == "" {
				doc.InvoiceNumber = invoice
			}
			if doc.CurrencyCode == "" {
				doc.CurrencyCode = currency
			}
			if doc.InvoiceDate.IsZero() {
				doc.InvoiceDate = detail.InvoiceDate
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil && !errors.IsCancelled(err) {
			err = errors.CancelledError("document hydration", ctx.Err())
		}
		return nil, err
	}

	kept := docs[:0]
	for i := range docs {
		doc := docs[i]
		o := outcomes[i]
		if o.cacheHit {
			stats.DetailCacheHits++
		}
		if o.fetched || o.err != nil {
			stats.DetailLookups++
		}
		if o.err != nil && models.NormalizeInvoiceNumber(doc.InvoiceNumber) == "" {
			stats.DroppedDetailFailure++
			stats.warn(fmt.Sprintf("document %d dropped: detail lookup failed: %v", doc.DocumentID, o.err))
			continue
		}
		if o.err != nil && doc.CurrencyCode == "" {
			stats.warn(fmt.Sprintf("document %d: currency lookup failed, assuming EUR: %v", doc.DocumentID, o.err))
			doc.CurrencyCode = "EUR"
		}
		if models.NormalizeInvoiceNumber(doc.InvoiceNumber) == "" {
			stats.DroppedMissingInvoice++
			stats.warn(fmt.Sprintf("document %d dropped: no invoice number after detail lookup", doc.DocumentID))
			continue
		}
		kept = append(kept, doc)
	}
	return kept, nil
}

// effectiveDate is the document invoice date, falling back to the earliest
// split date when the document itself carries none
func effectiveDate(doc models.WorkflowDoc) time.Time {
	if !doc.InvoiceDate.IsZero() {
		return doc.InvoiceDate
	}
	for _, s := range doc.Splits {
		if !s.InvoiceDate.IsZero() {
			return s.InvoiceDate
		}
	}
	return time.Time{}
}

func (in *Ingestor) filterDates(docs []models.WorkflowDoc, r models.DateRange, stats *Stats) []models.WorkflowDoc {
	kept := docs[:0]
	for _, doc := range docs {
		date := effectiveDate(doc)
		if date.IsZero() {
			stats.DroppedByDate++
			stats.warn(fmt.Sprintf("document %d dropped: no usable invoice date", doc.DocumentID))
			continue
		}
		if !r.Contains(date) {
			stats.DroppedByDate++
			continue
		}
		kept = append(kept, doc)
	}
	return kept
}

// emitRows flattens documents into per-split EUR rows. Non-EUR amounts are
// divided by the exchange rate on the document's effective date; when no
// rate is available the amount is passed through as if it were EUR.
func (in *Ingestor) emitRows(docs []models.WorkflowDoc, stats *Stats) []models.WorkflowRow {
	var rows []models.WorkflowRow
	for _, doc := range docs {
		date := effectiveDate(doc)
		currency := models.NormalizeCurrency(doc.CurrencyCode)
		rate := decimalOne
		if currency != "EUR" {
			r, err := in.run.FX.GetRate(currency, date)
			if err != nil {
				stats.FxFallbacks++
				stats.warn(fmt.Sprintf("document %d: no %s rate for %s, treating amounts as EUR",
					doc.DocumentID, currency, date.Format("2006-01-02")))
			} else {
				rate = r
			}
		}
		invoice := models.NormalizeInvoiceNumber(doc.InvoiceNumber)
		for _, split := range doc.Splits {
			rowDate := split.InvoiceDate
			if rowDate.IsZero() {
				rowDate = date
			}
			amount := split.Amount
			if !rate.Equal(decimalOne) {
				amount = amount.Div(rate)
			}
			rows = append(rows, models.WorkflowRow{
				DocumentID:    doc.DocumentID,
				InvoiceNumber: invoice,
				InvoiceDate:   rowDate,
				CostCenter:    models.NormalizeCostCenter(split.CostCenter),
				Amount:        amount,
				Currency:      currency,
				Stage:         doc.CurrentStage,
			})
		}
	}
	return rows
}

// normalizeLedger drops sentinel-numbered rows and trims identifiers
func (in *Ingestor) normalizeLedger(rows []models.LedgerRow, stats *Stats) []models.LedgerRow {
	kept := rows[:0]
	for _, row := range rows {
		invoice := models.NormalizeInvoiceNumber(row.InvoiceNumber)
		if invoice == "" {
			stats.LedgerRowsDropped++
			continue
		}
		row.InvoiceNumber = invoice
		row.CostCenter = models.NormalizeCostCenter(row.CostCenter)
		kept = append(kept, row)
	}
	return kept
}
