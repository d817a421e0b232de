package cmd

import (
	stderrors "errors"
	"testing"

	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, 0},
		{"plain error", stderrors.New("boom"), 1},
		{"auth", errors.AuthError(errors.CodeInvalidAPIKey, "/find/path", nil), 2},
		{"schema", errors.SchemaError(errors.CodeInvalidPayload, "body", "", nil), 3},
		{"configuration", errors.ConfigurationError(errors.CodeInvalidConfig, "tolerance", "-1", nil), 4},
		{"transient", errors.TransientError(errors.CodeTimeout, "/documents/1", nil), 6},
		{"cancelled", errors.CancelledError("ingest", nil), 7},
		{"summary takes highest code", errors.NewErrorSummary([]*errors.ReconcilerError{
			errors.AuthError(errors.CodeInvalidAPIKey, "/find/path", nil),
			errors.TransientError(errors.CodeTimeout, "/documents/1", nil),
		}), 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("expected exit code %d, got %d", tt.want, got)
			}
		})
	}
}

func TestHandleError(t *testing.T) {
	h := NewCLIErrorHandler()
	if code := h.HandleError(nil); code != 0 {
		t.Errorf("expected 0 for nil error, got %d", code)
	}
	err := errors.AuthError(errors.CodeInvalidAPIKey, "/find/path", nil)
	if code := h.HandleError(err); code != 2 {
		t.Errorf("expected 2 for auth error, got %d", code)
	}
}

func TestHandleErrorSummary(t *testing.T) {
	h := NewCLIErrorHandler()
	summary := errors.NewErrorSummary([]*errors.ReconcilerError{
		errors.TransientError(errors.CodeTimeout, "/documents/1", nil),
		errors.AuthError(errors.CodeInvalidAPIKey, "/find/path", nil),
	})
	// the transient error carries the higher exit code of the two
	if code := h.HandleError(summary); code != 6 {
		t.Errorf("expected 6 for mixed summary, got %d", code)
	}
	if !summary.HasCategory(errors.CategoryAuth) {
		t.Error("expected summary to report the auth category")
	}
}
