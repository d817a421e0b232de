package ingest

// MonthFetch records the outcome of a single month listing
type MonthFetch struct {
	Month     string `json:"month"`
	Documents int    `json:"documents"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

// Stats reports what ingestion saw and what it dropped, so an empty result
// set can be told apart from an over-aggressive filter.
type Stats struct {
	MonthsPlanned int          `json:"months_planned"`
	MonthsFetched int          `json:"months_fetched"`
	MonthsFailed  int          `json:"months_failed"`
	MonthFetches  []MonthFetch `json:"month_fetches,omitempty"`

	DocumentsListed int `json:"documents_listed"`
	// DroppedByCostCenter counts whole documents; DroppedSplitsByCostCenter
	// counts individual splits removed from documents that survived
	DroppedByCostCenter       int `json:"dropped_by_cost_center"`
	DroppedSplitsByCostCenter int `json:"dropped_splits_by_cost_center"`
	DroppedByStage            int `json:"dropped_by_stage"`
	DroppedByDate             int `json:"dropped_by_date"`
	DroppedMissingInvoice     int `json:"dropped_missing_invoice"`
	DroppedDetailFailure      int `json:"dropped_detail_failure"`

	DetailLookups   int `json:"detail_lookups"`
	DetailCacheHits int `json:"detail_cache_hits"`
	FxFallbacks     int `json:"fx_fallbacks"`

	WorkflowRows      int `json:"workflow_rows"`
	LedgerRowsRead    int `json:"ledger_rows_read"`
	LedgerRowsDropped int `json:"ledger_rows_dropped"`

	Warnings  []string `json:"warnings,omitempty"`
	Cancelled bool     `json:"cancelled,omitempty"`
}

func (s *Stats) warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}
