// Package workflow wraps the workflow/document service HTTP API.
//
// The client exposes three logical operations:
//   - ListMonth: documents with receipt splits for one calendar month
//   - GetDocument: a single document record (currency code, invoice number)
//   - ListCostCenters: distinct cost-center codes present in a date range
//
// The client maps HTTP status codes onto the shared error taxonomy and
// normalizes the service's payload quirks (doubly-encoded JSON, variant
// envelope shapes, variant split keys) in decode.go, so callers only ever
// see models.WorkflowDoc. It never retries; retry policy belongs to the
// ingest layer where concurrency is accounted for.
package workflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/naseerahmed599/enprom-reconciler/internal/models"
	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"
	"github.com/naseerahmed599/enprom-reconciler/pkg/logger"
)

// apiKeyHeader is the authentication header expected by the service
const apiKeyHeader = "X-AUTH-ApiKey"

// Config holds the connection settings for the workflow service
type Config struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"-"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns a configuration with the default per-request timeout
func DefaultConfig() *Config {
	return &Config{Timeout: 30 * time.Second}
}

// Validate checks the configuration for required values
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "base-url", nil, nil)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "api-key", nil, nil)
	}
	if c.Timeout <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "timeout", c.Timeout, nil)
	}
	return nil
}

// Client is a thin typed wrapper around the workflow service REST API
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  logger.Logger
}

// NewClient creates a workflow client from the given configuration
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(config.BaseURL), "/"),
		apiKey:  config.APIKey,
		http:    &http.Client{Timeout: config.Timeout},
		logger:  logger.GetGlobalLogger().WithComponent("workflow_client"),
	}, nil
}

// ListMonth fetches all documents with receipt splits created in the given
// month. Rows the service delivered malformed are dropped and reported in
// the returned warnings.
func (c *Client) ListMonth(ctx context.Context, month models.MonthPath) ([]models.WorkflowDoc, []string, error) {
	params := url.Values{}
	params.Set("Path", month.PathValue())
	endpoint := "/find/path/documents/receipt-splits"

	body, err := c.get(ctx, endpoint, params)
	if err != nil {
		return nil, nil, err
	}

	docs, warnings, err := decodeDocuments(body)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CategorySchema, errors.CodeInvalidPayload,
			fmt.Sprintf("month listing %s not decodable", month)).
			WithContext("month", month.String())
	}

	c.logger.WithFields(logger.Fields{
		"month":     month.String(),
		"documents": len(docs),
		"warnings":  len(warnings),
	}).Debug("Month listing fetched")

	return docs, warnings, nil
}

// GetDocument fetches a single document record, used to hydrate currency
// codes and invoice numbers missing from month listings
func (c *Client) GetDocument(ctx context.Context, documentID int) (*models.WorkflowDoc, error) {
	endpoint := fmt.Sprintf("/documents/%d", documentID)

	body, err := c.get(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	doc, err := decodeDocument(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategorySchema, errors.CodeInvalidPayload,
			fmt.Sprintf("document %d not decodable", documentID)).
			WithContext("document_id", documentID)
	}

	if doc.DocumentID == 0 {
		doc.DocumentID = documentID
	}

	return doc, nil
}

// ListCostCenters returns the distinct cost-center codes appearing on
// receipt splits whose invoice date falls inside the range, sorted
func (c *Client) ListCostCenters(ctx context.Context, r models.DateRange) ([]string, error) {
	if err := r.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "date-range", r.String(), err)
	}

	seen := make(map[string]bool)
	for _, month := range r.Months() {
		docs, _, err := c.ListMonth(ctx, month)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			for _, split := range doc.Splits {
				date := split.InvoiceDate
				if date.IsZero() {
					date = doc.InvoiceDate
				}
				if !date.IsZero() && !r.Contains(date) {
					continue
				}
				if cc := models.NormalizeCostCenter(split.CostCenter); cc != "" {
					seen[cc] = true
				}
			}
		}
	}

	codes := make([]string, 0, len(seen))
	for cc := range seen {
		codes = append(codes, cc)
	}
	sort.Strings(codes)
	return codes, nil
}

// get issues one authenticated GET and maps failures onto the error taxonomy
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "building request", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, errors.CancelledError("request to "+path, err)
		}
		if ctx.Err() == context.DeadlineExceeded || isTimeout(err) {
			return nil, errors.TransientError(errors.CodeTimeout, path, err)
		}
		return nil, errors.TransientError(errors.CodeConnectionFailed, path, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errors.AuthError(errors.CodeInvalidAPIKey, path, nil)
	case resp.StatusCode == http.StatusForbidden:
		return nil, errors.AuthError(errors.CodeForbidden, path, nil)
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NotFoundError(errors.CodeDocumentNotFound, "resource", path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.TransientError(errors.CodeRateLimited, path, nil)
	case resp.StatusCode >= 500:
		return nil, errors.TransientError(errors.CodeServerError, path, nil).
			WithContext("status", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, errors.SchemaError(errors.CodeInvalidPayload, path, resp.StatusCode, nil).
			WithContext("body", strings.TrimSpace(string(body)))
	}

	if readErr != nil {
		return nil, errors.TransientError(errors.CodeConnectionFailed, path, readErr)
	}

	return body, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	for e := err; e != nil; {
		if t, ok := e.(timeouter); ok && t.Timeout() {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return false
}
