package cmd

import (
	"fmt"
	"os"

	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"
)

// CLIErrorHandler converts errors into user-facing messages and exit codes
type CLIErrorHandler struct {
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{verbose: verbose}
}

// HandleError prints a helpful message for the error and returns the exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}
	if summary, ok := err.(*errors.ErrorSummary); ok {
		return h.handleErrorSummary(summary)
	}
	if rerr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(rerr)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

// handleErrorSummary prints one line per underlying error plus the help text
// for the most actionable category present
func (h *CLIErrorHandler) handleErrorSummary(summary *errors.ErrorSummary) int {
	fmt.Fprintf(os.Stderr, "Error: %s\n", summary.Error())
	if summary.Total > 1 {
		for _, e := range summary.Errors {
			fmt.Fprintf(os.Stderr, "  - %s\n", e.Message)
		}
	}
	for _, category := range []errors.ErrorCategory{
		errors.CategoryAuth, errors.CategoryConfiguration,
		errors.CategoryTransient, errors.CategorySchema, errors.CategoryFx,
	} {
		if !summary.HasCategory(category) {
			continue
		}
		if help := h.categoryHelp(category); help != "" {
			fmt.Fprintf(os.Stderr, "%s\n", help)
		}
		break
	}
	return summary.GetExitCode()
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Message)
	if err.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "Suggestion: %s\n", err.Suggestion)
	}
	if help := h.categoryHelp(err.Category); help != "" {
		fmt.Fprintf(os.Stderr, "%s\n", help)
	}
	if h.verbose {
		if err.Cause != nil {
			fmt.Fprintf(os.Stderr, "Cause: %v\n", err.Cause)
		}
		for key, value := range err.Context {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
		}
	}
	return err.GetExitCode()
}

func (h *CLIErrorHandler) categoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryAuth:
		return "Check that RECONCILER_API_KEY holds a valid workflow service key."
	case errors.CategoryTransient:
		return "The workflow service did not respond in time; retrying later may succeed."
	case errors.CategoryConfiguration:
		return "Run with --help to see the accepted flags and their formats."
	case errors.CategorySchema:
		return "The upstream data did not match the expected shape; see warnings for the affected rows."
	case errors.CategoryFx:
		return "Provide an --fx-table covering the affected currency and dates."
	default:
		return ""
	}
}

// ExitCode maps an error to the process exit code used by main
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if summary, ok := err.(*errors.ErrorSummary); ok {
		return summary.GetExitCode()
	}
	if rerr, ok := errors.AsReconcilerError(err); ok {
		return rerr.GetExitCode()
	}
	return 1
}
