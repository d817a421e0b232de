package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/naseerahmed599/enprom-reconciler/internal/fx"
	"github.com/naseerahmed599/enprom-reconciler/internal/models"
	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"
	"github.com/naseerahmed599/enprom-reconciler/pkg/logger"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakeWorkflow struct {
	mu        sync.Mutex
	months    map[string][]models.WorkflowDoc
	monthErrs map[string]error
	docs      map[int]*models.WorkflowDoc
	docErrs   map[int]error
	listCalls map[string]int
	getCalls  map[int]int
}

func newFakeWorkflow() *fakeWorkflow {
	return &fakeWorkflow{
		months:    make(map[string][]models.WorkflowDoc),
		monthErrs: make(map[string]error),
		docs:      make(map[int]*models.WorkflowDoc),
		docErrs:   make(map[int]error),
		listCalls: make(map[string]int),
		getCalls:  make(map[int]int),
	}
}

func (f *fakeWorkflow) ListMonth(ctx context.Context, month models.MonthPath) ([]models.WorkflowDoc, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls[month.String()]++
	if err, ok := f.monthErrs[month.String()]; ok {
		return nil, nil, err
	}
	return f.months[month.String()], nil, nil
}

func (f *fakeWorkflow) GetDocument(ctx context.Context, id int) (*models.WorkflowDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls[id]++
	if err, ok := f.docErrs[id]; ok {
		return nil, err
	}
	if d, ok := f.docs[id]; ok {
		copy := *d
		return &copy, nil
	}
	return nil, errors.NotFoundError(errors.CodeDocumentNotFound, "document", "unknown")
}

type fakeLedger struct {
	rows     []models.LedgerRow
	warnings []string
	err      error
}

func (f *fakeLedger) Fetch(ctx context.Context, r models.DateRange, costCenters map[string]bool) ([]models.LedgerRow, []string, error) {
	return f.rows, f.warnings, f.err
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2, MaxDelay: 2 * time.Millisecond}
}

func testConfig(now time.Time) Config {
	cfg := DefaultConfig()
	cfg.Retry = fastRetry()
	cfg.Now = func() time.Time { return now }
	return cfg
}

func newTestIngestor(wf WorkflowClient, src *fakeLedger, rates fx.RateSource, cfg Config) (*Ingestor, *RunContext) {
	run := NewRunContext(rates)
	return NewIngestor(wf, src, run, cfg, logger.Noop()), run
}

func doc(id int, invoice, stage string, d time.Time, splits ...models.ReceiptSplit) models.WorkflowDoc {
	return models.WorkflowDoc{
		DocumentID:    id,
		InvoiceNumber: invoice,
		InvoiceDate:   d,
		CurrentStage:  stage,
		Splits:        splits,
	}
}

func split(id int, cc, amount string, d time.Time) models.ReceiptSplit {
	return models.ReceiptSplit{DocumentID: id, CostCenter: cc, Amount: dec(amount), InvoiceDate: d}
}

func TestExpandMonths(t *testing.T) {
	tests := []struct {
		name      string
		min, max  time.Time
		lookahead int
		now       time.Time
		want      []string
	}{
		{
			name: "no lookahead",
			min:  date(2024, 1, 10), max: date(2024, 3, 20),
			lookahead: 0, now: date(2024, 12, 1),
			want: []string{"2024-01", "2024-02", "2024-03"},
		},
		{
			name: "lookahead extends past range",
			min:  date(2024, 1, 10), max: date(2024, 3, 20),
			lookahead: 2, now: date(2024, 12, 1),
			want: []string{"2024-01", "2024-02", "2024-03", "2024-04", "2024-05"},
		},
		{
			name: "lookahead capped at current month",
			min:  date(2024, 1, 10), max: date(2024, 3, 20),
			lookahead: 6, now: date(2024, 5, 15),
			want: []string{"2024-01", "2024-02", "2024-03", "2024-04", "2024-05"},
		},
		{
			name: "year rollover",
			min:  date(2023, 11, 1), max: date(2023, 12, 31),
			lookahead: 2, now: date(2024, 6, 1),
			want: []string{"2023-11", "2023-12", "2024-01", "2024-02"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _ := newTestIngestor(newFakeWorkflow(), &fakeLedger{}, fx.NewTableSource(), testConfig(tt.now))
			got := in.expandMonths(models.NewDateRange(tt.min, tt.max), tt.lookahead)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d months, got %d: %v", len(tt.want), len(got), got)
			}
			for i, w := range tt.want {
				if got[i].String() != w {
					t.Errorf("month %d: expected %s, got %s", i, w, got[i])
				}
			}
		})
	}
}

func TestIngestHappyPath(t *testing.T) {
	wf := newFakeWorkflow()
	wf.months["2024-01"] = []models.WorkflowDoc{
		doc(1, "INV-001", models.StageProcessed, date(2024, 1, 15),
			split(1, "CC-100", "100.00", date(2024, 1, 15))),
		doc(2, "INV-002", models.StageDraft, date(2024, 1, 20),
			split(2, "CC-200", "50.00", date(2024, 1, 20)),
			split(2, "CC-100", "25.00", date(2024, 1, 20))),
	}
	wf.months["2024-02"] = []models.WorkflowDoc{
		// duplicate of doc 1, already seen in January
		doc(1, "INV-001", models.StageProcessed, date(2024, 1, 15),
			split(1, "CC-100", "100.00", date(2024, 1, 15))),
	}
	src := &fakeLedger{rows: []models.LedgerRow{
		{InvoiceNumber: "INV-001", PostingDate: date(2024, 1, 16), CostCenter: "CC-100", Amount: dec("-100.00")},
		{InvoiceNumber: "None", PostingDate: date(2024, 1, 17), Amount: dec("-5.00")},
	}}

	in, _ := newTestIngestor(wf, src, fx.NewTableSource(), testConfig(date(2024, 3, 1)))
	res, err := in.Ingest(context.Background(), Request{
		Range:           models.NewDateRange(date(2024, 1, 1), date(2024, 1, 31)),
		LookaheadMonths: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Stats.DocumentsListed != 2 {
		t.Errorf("expected 2 listed documents after dedupe, got %d", res.Stats.DocumentsListed)
	}
	if len(res.WorkflowRows) != 3 {
		t.Fatalf("expected 3 workflow rows, got %d", len(res.WorkflowRows))
	}
	if res.WorkflowRows[0].InvoiceNumber != "INV-001" || res.WorkflowRows[1].InvoiceNumber != "INV-002" {
		t.Errorf("rows not in document id order: %+v", res.WorkflowRows)
	}
	if len(res.LedgerRows) != 1 {
		t.Fatalf("expected 1 ledger row after sentinel drop, got %d", len(res.LedgerRows))
	}
	if res.Stats.LedgerRowsDropped != 1 {
		t.Errorf("expected 1 dropped ledger row, got %d", res.Stats.LedgerRowsDropped)
	}
	if res.Stats.MonthsFetched != 2 {
		t.Errorf("expected 2 fetched months, got %d", res.Stats.MonthsFetched)
	}
}

func TestIngestStageAndCostCenterFilters(t *testing.T) {
	wf := newFakeWorkflow()
	wf.months["2024-01"] = []models.WorkflowDoc{
		doc(1, "INV-001", models.StageProcessed, date(2024, 1, 10),
			split(1, "CC-100", "10.00", date(2024, 1, 10)),
			split(1, "CC-999", "20.00", date(2024, 1, 10))),
		doc(2, "INV-002", models.StageRejected, date(2024, 1, 11),
			split(2, "CC-100", "30.00", date(2024, 1, 11))),
		doc(3, "INV-003", models.StageApproved, date(2024, 1, 12),
			split(3, "CC-999", "40.00", date(2024, 1, 12))),
	}

	in, _ := newTestIngestor(wf, &fakeLedger{}, fx.NewTableSource(), testConfig(date(2024, 3, 1)))
	res, err := in.Ingest(context.Background(), Request{
		Range:       models.NewDateRange(date(2024, 1, 1), date(2024, 1, 31)),
		CostCenters: map[string]bool{"CC-100": true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Stats.DroppedByCostCenter != 1 {
		t.Errorf("expected 1 doc dropped by cost center, got %d", res.Stats.DroppedByCostCenter)
	}
	// the CC-999 split of doc 1 is removed even though the doc survives
	if res.Stats.DroppedSplitsByCostCenter != 1 {
		t.Errorf("expected 1 split dropped by cost center, got %d", res.Stats.DroppedSplitsByCostCenter)
	}
	if res.Stats.DroppedByStage != 1 {
		t.Errorf("expected 1 doc dropped by stage, got %d", res.Stats.DroppedByStage)
	}
	if len(res.WorkflowRows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.WorkflowRows))
	}
	if res.WorkflowRows[0].CostCenter != "CC-100" || !res.WorkflowRows[0].Amount.Equal(dec("10.00")) {
		t.Errorf("unexpected surviving row: %+v", res.WorkflowRows[0])
	}
}

func TestIngestAllFilteredByStageWarns(t *testing.T) {
	wf := newFakeWorkflow()
	wf.months["2024-01"] = []models.WorkflowDoc{
		doc(1, "INV-001", models.StageRejected, date(2024, 1, 10),
			split(1, "CC-100", "10.00", date(2024, 1, 10))),
	}

	in, _ := newTestIngestor(wf, &fakeLedger{}, fx.NewTableSource(), testConfig(date(2024, 3, 1)))
	res, err := in.Ingest(context.Background(), Request{
		Range: models.NewDateRange(date(2024, 1, 1), date(2024, 1, 31)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, w := range res.Stats.Warnings {
		if strings.Contains(w, "filtered out by stage") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected stage-filter warning, got %v", res.Stats.Warnings)
	}
}

func TestIngestDateFilterUsesLookahead(t *testing.T) {
	wf := newFakeWorkflow()
	// filed in February, invoice dated in January: found via lookahead
	wf.months["2024-02"] = []models.WorkflowDoc{
		doc(5, "INV-005", models.StageProcessed, date(2024, 1, 28),
			split(5, "CC-100", "75.00", date(2024, 1, 28))),
		doc(6, "INV-006", models.StageProcessed, date(2024, 2, 5),
			split(6, "CC-100", "80.00", date(2024, 2, 5))),
	}

	in, _ := newTestIngestor(wf, &fakeLedger{}, fx.NewTableSource(), testConfig(date(2024, 6, 1)))
	res, err := in.Ingest(context.Background(), Request{
		Range:           models.NewDateRange(date(2024, 1, 1), date(2024, 1, 31)),
		LookaheadMonths: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.WorkflowRows) != 1 || res.WorkflowRows[0].InvoiceNumber != "INV-005" {
		t.Fatalf("expected only INV-005 inside the range, got %+v", res.WorkflowRows)
	}
	if res.Stats.DroppedByDate != 1 {
		t.Errorf("expected 1 doc dropped by date, got %d", res.Stats.DroppedByDate)
	}
}

func TestIngestHydratesMissingInvoiceAndCurrency(t *testing.T) {
	wf := newFakeWorkflow()
	wf.months["2024-01"] = []models.WorkflowDoc{
		doc(10, "", models.StageProcessed, date(2024, 1, 10),
			split(10, "CC-100", "100.00", date(2024, 1, 10))),
	}
	wf.docs[10] = &models.WorkflowDoc{
		DocumentID:    10,
		InvoiceNumber: "INV-010",
		CurrencyCode:  "USD",
		InvoiceDate:   date(2024, 1, 10),
	}

	rates := fx.NewTableSource()
	rates.AddRate("USD", date(2024, 1, 10), dec("1.25"))

	in, run := newTestIngestor(wf, &fakeLedger{}, rates, testConfig(date(2024, 3, 1)))
	res, err := in.Ingest(context.Background(), Request{
		Range: models.NewDateRange(date(2024, 1, 1), date(2024, 1, 31)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.WorkflowRows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.WorkflowRows))
	}
	row := res.WorkflowRows[0]
	if row.InvoiceNumber != "INV-010" {
		t.Errorf("expected hydrated invoice number, got %q", row.InvoiceNumber)
	}
	if row.Currency != "USD" {
		t.Errorf("expected hydrated currency, got %q", row.Currency)
	}
	// 100 USD at rate 1.25 = 80 EUR
	if !row.Amount.Equal(dec("80")) {
		t.Errorf("expected 80 EUR, got %s", row.Amount)
	}
	if res.Stats.DetailLookups != 1 {
		t.Errorf("expected 1 detail lookup, got %d", res.Stats.DetailLookups)
	}

	// second run with the same caches skips the detail lookup
	res2, err := in.Ingest(context.Background(), Request{
		Range: models.NewDateRange(date(2024, 1, 1), date(2024, 1, 31)),
	})
	if err != nil {
		t.Fatalf("unexpected error on second run: %v", err)
	}
	if res2.Stats.DetailLookups != 0 {
		t.Errorf("expected cached second run, got %d lookups", res2.Stats.DetailLookups)
	}
	if res2.Stats.DetailCacheHits == 0 {
		t.Errorf("expected cache hits on second run")
	}
	if wf.getCalls[10] != 1 {
		t.Errorf("expected exactly 1 GetDocument call across runs, got %d", wf.getCalls[10])
	}
	if run.InvoiceNumber.Len() != 1 || run.Currency.Len() != 1 {
		t.Errorf("expected populated caches, got %d/%d", run.InvoiceNumber.Len(), run.Currency.Len())
	}
}

func TestIngestDetailFailureDropsDocument(t *testing.T) {
	wf := newFakeWorkflow()
	wf.months["2024-01"] = []models.WorkflowDoc{
		doc(20, "None", models.StageProcessed, date(2024, 1, 10),
			split(20, "CC-100", "10.00", date(2024, 1, 10))),
	}
	wf.docErrs[20] = errors.TransientError(errors.CodeServerError, "/documents/20", nil)

	in, _ := newTestIngestor(wf, &fakeLedger{}, fx.NewTableSource(), testConfig(date(2024, 3, 1)))
	res, err := in.Ingest(context.Background(), Request{
		Range: models.NewDateRange(date(2024, 1, 1), date(2024, 1, 31)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.WorkflowRows) != 0 {
		t.Fatalf("expected doc dropped, got rows %+v", res.WorkflowRows)
	}
	if res.Stats.DroppedDetailFailure != 1 {
		t.Errorf("expected 1 detail-failure drop, got %d", res.Stats.DroppedDetailFailure)
	}
	// transient failures are retried before giving up
	if wf.getCalls[20] != 3 {
		t.Errorf("expected 3 attempts, got %d", wf.getCalls[20])
	}
}

func TestIngestCurrencyLookupFailureAssumesEUR(t *testing.T) {
	wf := newFakeWorkflow()
	wf.months["2024-01"] = []models.WorkflowDoc{
		doc(21, "INV-021", models.StageProcessed, date(2024, 1, 10),
			split(21, "CC-100", "10.00", date(2024, 1, 10))),
	}
	wf.docErrs[21] = errors.NotFoundError(errors.CodeDocumentNotFound, "document", "21")

	in, _ := newTestIngestor(wf, &fakeLedger{}, fx.NewTableSource(), testConfig(date(2024, 3, 1)))
	res, err := in.Ingest(context.Background(), Request{
		Range: models.NewDateRange(date(2024, 1, 1), date(2024, 1, 31)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.WorkflowRows) != 1 {
		t.Fatalf("expected doc retained as EUR, got %d rows", len(res.WorkflowRows))
	}
	if res.WorkflowRows[0].Currency != "EUR" {
		t.Errorf("expected EUR fallback, got %q", res.WorkflowRows[0].Currency)
	}
}

func TestIngestMonthFailureSkipsMonth(t *testing.T) {
	wf := newFakeWorkflow()
	wf.months["2024-01"] = []models.WorkflowDoc{
		doc(1, "INV-001", models.StageProcessed, date(2024, 1, 10),
			split(1, "CC-100", "10.00", date(2024, 1, 10))),
	}
	wf.monthErrs["2024-02"] = errors.TransientError(errors.CodeServerError, "/find/path", nil)

	in, _ := newTestIngestor(wf, &fakeLedger{}, fx.NewTableSource(), testConfig(date(2024, 6, 1)))
	res, err := in.Ingest(context.Background(), Request{
		Range: models.NewDateRange(date(2024, 1, 1), date(2024, 2, 28)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stats.MonthsFailed != 1 || res.Stats.MonthsFetched != 1 {
		t.Errorf("expected 1 failed and 1 fetched month, got %d/%d",
			res.Stats.MonthsFailed, res.Stats.MonthsFetched)
	}
	if wf.listCalls["2024-02"] != 3 {
		t.Errorf("expected 3 attempts on failing month, got %d", wf.listCalls["2024-02"])
	}
	if len(res.WorkflowRows) != 1 {
		t.Errorf("expected the healthy month's rows, got %d", len(res.WorkflowRows))
	}
}

func TestIngestAuthFailureAborts(t *testing.T) {
	wf := newFakeWorkflow()
	wf.monthErrs["2024-01"] = errors.AuthError(errors.CodeInvalidAPIKey, "/find/path", nil)

	in, _ := newTestIngestor(wf, &fakeLedger{}, fx.NewTableSource(), testConfig(date(2024, 6, 1)))
	_, err := in.Ingest(context.Background(), Request{
		Range: models.NewDateRange(date(2024, 1, 1), date(2024, 1, 31)),
	})
	if err == nil {
		t.Fatal("expected auth error")
	}
	if !errors.IsAuth(err) {
		t.Errorf("expected auth category, got %v", err)
	}
	if wf.listCalls["2024-01"] != 1 {
		t.Errorf("auth failures must not be retried, got %d attempts", wf.listCalls["2024-01"])
	}
}

func TestIngestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wf := newFakeWorkflow()
	in, _ := newTestIngestor(wf, &fakeLedger{}, fx.NewTableSource(), testConfig(date(2024, 6, 1)))
	res, err := in.Ingest(ctx, Request{
		Range: models.NewDateRange(date(2024, 1, 1), date(2024, 1, 31)),
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.IsCancelled(err) {
		t.Errorf("expected cancelled category, got %v", err)
	}
	if res == nil || !res.Stats.Cancelled {
		t.Errorf("expected partial result marked cancelled, got %+v", res)
	}
}

func TestRetryPolicy(t *testing.T) {
	t.Run("succeeds on second attempt", func(t *testing.T) {
		calls := 0
		attempts, err := retry(context.Background(), fastRetry(), func() error {
			calls++
			if calls < 2 {
				return errors.TransientError(errors.CodeTimeout, "op", nil)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", attempts)
		}
	})

	t.Run("exhausts transient retries", func(t *testing.T) {
		calls := 0
		_, err := retry(context.Background(), fastRetry(), func() error {
			calls++
			return errors.TransientError(errors.CodeTimeout, "op", nil)
		})
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
		rerr, ok := errors.AsReconcilerError(err)
		if !ok || rerr.Code != errors.CodeRetriesExhausted {
			t.Errorf("expected retries-exhausted error, got %v", err)
		}
	})

	t.Run("does not retry schema errors", func(t *testing.T) {
		calls := 0
		_, err := retry(context.Background(), fastRetry(), func() error {
			calls++
			return errors.SchemaError(errors.CodeInvalidPayload, "body", "", nil)
		})
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
		if !errors.IsSchema(err) {
			t.Errorf("expected schema error passthrough, got %v", err)
		}
	})

	t.Run("delay grows and caps", func(t *testing.T) {
		p := RetryPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, Factor: 2, MaxDelay: 8 * time.Second}
		if d := p.delay(1); d != 0 {
			t.Errorf("first attempt must not wait, got %s", d)
		}
		if d := p.delay(2); d != 500*time.Millisecond {
			t.Errorf("expected 500ms, got %s", d)
		}
		if d := p.delay(3); d != time.Second {
			t.Errorf("expected 1s, got %s", d)
		}
		if d := p.delay(100); d != 8*time.Second {
			t.Errorf("expected cap at 8s, got %s", d)
		}
	})

	t.Run("jitter stays within bounds", func(t *testing.T) {
		p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Factor: 2, JitterFrac: 0.2, MaxDelay: 8 * time.Second}
		for i := 0; i < 50; i++ {
			d := p.delay(2)
			if d < 800*time.Millisecond || d > 1200*time.Millisecond {
				t.Fatalf("jittered delay out of bounds: %s", d)
			}
		}
	})
}

func TestDocCache(t *testing.T) {
	c := NewDocCache()
	if _, ok := c.Get(1); ok {
		t.Error("empty cache must miss")
	}
	c.Set(1, "EUR")
	c.Set(2, "")
	if v, ok := c.Get(1); !ok || v != "EUR" {
		t.Errorf("expected EUR hit, got %q %t", v, ok)
	}
	// an empty value is still a hit: it records a known-absent field
	if v, ok := c.Get(2); !ok || v != "" {
		t.Errorf("expected empty-string hit, got %q %t", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after clear, got %d", c.Len())
	}
}
