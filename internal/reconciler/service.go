// Package reconciler provides high-level orchestration for a reconciliation
// run: ingestion of the workflow and ledger sides, aggregation by invoice
// number, and matching into per-invoice verdicts.
//
// Example usage:
//
//	run := ingest.NewRunContext(rates)
//	ingestor := ingest.NewIngestor(client, source, run, ingest.DefaultConfig(), log)
//	service := reconciler.NewService(ingestor, run, log)
//
//	output, err := service.Run(ctx, reconciler.Request{
//		From:      from,
//		To:        to,
//		Tolerance: decimal.NewFromFloat(0.01),
//	})
package reconciler

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/naseerahmed599/enprom-reconciler/internal/ingest"
	"github.com/naseerahmed599/enprom-reconciler/internal/matcher"
	"github.com/naseerahmed599/enprom-reconciler/internal/models"
	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"
	"github.com/naseerahmed599/enprom-reconciler/pkg/logger"
)

// MaxLookaheadMonths bounds how far past the date range month listings may
// extend
const MaxLookaheadMonths = 12

// DefaultLookaheadMonths is used when the request does not specify one
const DefaultLookaheadMonths = 4

// DefaultTolerance is the standard amount-comparison tolerance
func DefaultTolerance() decimal.Decimal {
	return decimal.NewFromFloat(0.01)
}

// Request describes one reconciliation run
type Request struct {
	// From and To bound the invoice dates considered, inclusive
	From time.Time
	To   time.Time
	// CostCenters restricts both sides; empty means all cost centers
	CostCenters []string
	// LookaheadMonths extends workflow month listings past To
	LookaheadMonths int
	// Tolerance is the maximum amount difference treated as equal
	Tolerance decimal.Decimal
}

// Validate checks the request parameters
func (r *Request) Validate() error {
	rng := models.NewDateRange(r.From, r.To)
	if err := rng.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "date_range", rng.String(), err)
	}
	if r.Tolerance.IsNegative() {
		return errors.ConfigurationError(errors.CodeInvalidConfig,
			"tolerance", r.Tolerance.String(), nil).
			WithSuggestion("Tolerance must be zero or positive")
	}
	if r.LookaheadMonths < 0 || r.LookaheadMonths > MaxLookaheadMonths {
		return errors.ConfigurationError(errors.CodeInvalidConfig,
			"lookahead_months", r.LookaheadMonths, nil).
			WithSuggestion("Lookahead must be between 0 and 12 months")
	}
	return nil
}

// costCenterSet normalizes the requested cost centers into a lookup set
func (r *Request) costCenterSet() map[string]bool {
	if len(r.CostCenters) == 0 {
		return nil
	}
	set := make(map[string]bool, len(r.CostCenters))
	for _, cc := range r.CostCenters {
		if normalized := models.NormalizeCostCenter(cc); normalized != "" {
			set[normalized] = true
		}
	}
	return set
}

// Output is the complete result of a reconciliation run
type Output struct {
	// Results holds one verdict per workflow invoice, ordered by invoice
	// number
	Results []models.ReconciliationResult
	// LedgerOnly lists invoices found on the ledger but not in the
	// workflow service
	LedgerOnly []models.InvoiceAggregate
	Summary    matcher.Summary
	Stats      ingest.Stats
	Duration   time.Duration
}

// Service runs reconciliations. It owns no state beyond the injected
// ingestor and run context; Run may be called repeatedly and benefits from
// the warm caches of earlier runs.
type Service struct {
	ingestor *ingest.Ingestor
	run      *ingest.RunContext
	logger   logger.Logger
}

// NewService creates a reconciliation service
func NewService(ingestor *ingest.Ingestor, run *ingest.RunContext, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{
		ingestor: ingestor,
		run:      run,
		logger:   log.WithComponent("reconciler"),
	}
}

// Run executes one reconciliation. On cancellation a partial Output carrying
// the ingestion stats is returned together with the cancellation error.
func (s *Service) Run(ctx context.Context, req Request) (*Output, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()

	rng := models.NewDateRange(req.From, req.To)
	s.logger.WithFields(logger.Fields{
		"range":        rng.String(),
		"cost_centers": len(req.CostCenters),
		"lookahead":    req.LookaheadMonths,
		"tolerance":    req.Tolerance.String(),
	}).Info("starting reconciliation run")

	ingested, err := s.ingestor.Ingest(ctx, ingest.Request{
		Range:           rng,
		CostCenters:     req.costCenterSet(),
		LookaheadMonths: req.LookaheadMonths,
	})
	if err != nil {
		if errors.IsCancelled(err) && ingested != nil {
			return &Output{Stats: ingested.Stats, Duration: time.Since(started)}, err
		}
		return nil, err
	}

	engine := matcher.NewEngine(&matcher.Config{Tolerance: req.Tolerance})
	outcome := engine.Match(
		matcher.AggregateWorkflow(ingested.WorkflowRows),
		matcher.AggregateLedger(ingested.LedgerRows),
	)

	out := &Output{
		Results:    outcome.Results,
		LedgerOnly: outcome.LedgerOnly,
		Summary:    outcome.Summary,
		Stats:      ingested.Stats,
		Duration:   time.Since(started),
	}

	s.logger.WithFields(logger.Fields{
		"invoices":        out.Summary.WorkflowInvoices,
		"matched":         out.Summary.Matched,
		"paid":            out.Summary.Paid,
		"mismatched":      out.Summary.Mismatched,
		"not_in_ledger":   out.Summary.NotInLedger,
		"not_in_workflow": out.Summary.NotInWorkflow,
		"duration":        out.Duration.String(),
	}).Info("reconciliation run complete")
	return out, nil
}

// ClearCaches empties the run-scoped caches shared across Run calls
func (s *Service) ClearCaches() {
	if s.run != nil {
		s.run.ClearCaches()
	}
}
