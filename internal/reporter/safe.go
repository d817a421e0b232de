package reporter

import (
	"fmt"
	"io"
	"os"

	"github.com/naseerahmed599/enprom-reconciler/internal/reconciler"
	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"
	"github.com/naseerahmed599/enprom-reconciler/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with fallback rendering so a
// finished reconciliation run is never lost to a reporting failure: if the
// configured format fails it retries as console output, and if the target
// writer fails it retries on stdout.
type SafeReportGenerator struct {
	generator *ReportGenerator
	logger    logger.Logger
}

// NewSafeReportGenerator creates a fallback-capable report generator
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &SafeReportGenerator{
		generator: generator,
		logger:    log.WithComponent("reporter"),
	}, nil
}

// GenerateSafely renders the output, degrading to simpler formats and
// destinations rather than failing outright. When every attempt fails the
// returned error summarizes all of them.
func (srg *SafeReportGenerator) GenerateSafely(out *reconciler.Output, writer io.Writer) error {
	err := srg.generator.Generate(out, writer)
	if err == nil {
		return nil
	}
	srg.logger.WithError(err).Warn("report generation failed, attempting fallback")
	failures := []*errors.ReconcilerError{
		errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError,
			fmt.Sprintf("rendering as %s failed", srg.generator.config.Format)),
	}

	if srg.generator.config.Format != FormatConsole {
		fallback := *srg.generator.config
		fallback.Format = FormatConsole
		if g, gerr := NewReportGenerator(&fallback); gerr == nil {
			ferr := g.Generate(out, writer)
			if ferr == nil {
				srg.logger.Info("rendered report as console output instead")
				return nil
			}
			failures = append(failures, errors.WrapIfNeeded(ferr,
				errors.CategoryInternal, errors.CodeUnexpectedError, "console fallback failed"))
		}
	}

	if writer != os.Stdout {
		ferr := srg.generator.Generate(out, os.Stdout)
		if ferr == nil {
			srg.logger.Warn("report written to stdout after write failure")
			return nil
		}
		failures = append(failures, errors.WrapIfNeeded(ferr,
			errors.CategoryInternal, errors.CodeUnexpectedError, "stdout fallback failed"))
	}

	if len(failures) == 1 {
		return failures[0]
	}
	return errors.NewErrorSummary(failures)
}
