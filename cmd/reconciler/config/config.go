// Package config translates CLI flag values into the typed configurations
// of the underlying packages.
package config

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/naseerahmed599/enprom-reconciler/internal/fx"
	"github.com/naseerahmed599/enprom-reconciler/internal/ingest"
	"github.com/naseerahmed599/enprom-reconciler/internal/ledger"
	"github.com/naseerahmed599/enprom-reconciler/internal/models"
	"github.com/naseerahmed599/enprom-reconciler/internal/reporter"
	"github.com/naseerahmed599/enprom-reconciler/internal/workflow"
	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"
)

// CreateWorkflowConfig builds and validates the workflow client configuration
func CreateWorkflowConfig(baseURL, apiKey string, timeout time.Duration) (*workflow.Config, error) {
	cfg := workflow.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = apiKey
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CreateLedgerSource builds the bundled monthly-CSV ledger adapter
func CreateLedgerSource(dir string) (ledger.Source, error) {
	if dir == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "ledger-dir", "", nil).
			WithSuggestion("Point --ledger-dir at the directory holding journal-YYYY-MM.csv files")
	}
	return ledger.NewCSVSource(dir)
}

// CreateRateSource loads the FX rate table; an empty path yields an empty
// table, meaning every non-EUR document falls back to EUR with a warning
func CreateRateSource(path string) (fx.RateSource, error) {
	if path == "" {
		return fx.NewTableSource(), nil
	}
	return fx.LoadTableCSV(path)
}

// CreateIngestConfig builds the ingestion configuration from flag values
func CreateIngestConfig(concurrency, maxRetries int, validStages []string) ingest.Config {
	cfg := ingest.DefaultConfig()
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}
	if maxRetries > 0 {
		cfg.Retry.MaxAttempts = maxRetries
	}
	if len(validStages) > 0 {
		stages := make(map[string]bool, len(validStages))
		for _, s := range validStages {
			stages[s] = true
		}
		cfg.ValidStages = stages
	}
	return cfg
}

// ParseTolerance parses the tolerance flag, rejecting negative values
func ParseTolerance(s string) (decimal.Decimal, error) {
	tolerance, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.ConfigurationError(errors.CodeInvalidConfig, "tolerance", s, err).
			WithSuggestion("Use a decimal value like 0.01")
	}
	if tolerance.IsNegative() {
		return decimal.Zero, errors.ConfigurationError(errors.CodeInvalidConfig, "tolerance", s, nil).
			WithSuggestion("Tolerance must be zero or positive")
	}
	return tolerance, nil
}

// DefaultValidStages lists the workflow stages considered reconcilable
func DefaultValidStages() []string {
	stages := models.DefaultValidStages()
	names := make([]string, 0, len(stages))
	for _, s := range []string{models.StageProcessed, models.StageDraft, models.StageApproved} {
		if stages[s] {
			names = append(names, s)
		}
	}
	return names
}

// CreateReportConfig builds the report configuration from flag values
func CreateReportConfig(format string, problemsOnly bool) *reporter.ReportConfig {
	cfg := reporter.DefaultReportConfig()
	cfg.Format = reporter.OutputFormat(format)
	cfg.ProblemsOnly = problemsOnly

	switch cfg.Format {
	case reporter.FormatJSON:
		cfg.IncludeStats = true
	case reporter.FormatCSV:
		// flat formats carry rows only; stats go to the log
		cfg.IncludeStats = false
		cfg.IncludeWarnings = false
	}
	return cfg
}
