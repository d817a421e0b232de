package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/naseerahmed599/enprom-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

// The workflow service is inconsistent about response shapes. Three quirks
// are normalized here, and only here:
//
//  1. Payloads sometimes arrive doubly encoded, i.e. a JSON string whose
//     content is the actual JSON document.
//  2. Month listings arrive either as {"documents": [...]} or as a bare
//     array; document details sometimes arrive under a "document" key.
//  3. Receipt splits appear under "documentReceiptSplits", "splits" or
//     "receiptSplits" inside a document, or as top-level split rows that
//     only reference their document by id.

// rawSplit mirrors one receipt split as serialized by the service.
// Amounts arrive as JSON numbers; json.Number preserves their exact text
// for decimal parsing.
type rawSplit struct {
	DocumentID    int         `json:"documentId"`
	CostCenter    string      `json:"costCenter"`
	Amount        json.Number `json:"amount"`
	TaxPercent    json.Number `json:"taxPercent"`
	BookingText   string      `json:"bookingText"`
	InvoiceDate   string      `json:"invoiceDate"`
	InvoiceNumber string      `json:"invoiceNumber"`
	CurrencyCode  string      `json:"currencyCode"`
}

// rawDocument mirrors one document entry with all known split-key variants
type rawDocument struct {
	ID            int         `json:"id"`
	DocumentID    int         `json:"documentId"`
	InvoiceNumber string      `json:"invoiceNumber"`
	InvoiceDate   string      `json:"invoiceDate"`
	CurrencyCode  string      `json:"currencyCode"`
	CurrentStage  string      `json:"currentStage"`
	CostCenter    string      `json:"costCenter"`
	Amount        json.Number `json:"amount"`
	TaxPercent    json.Number `json:"taxPercent"`
	BookingText   string      `json:"bookingText"`

	DocumentReceiptSplits []rawSplit `json:"documentReceiptSplits"`
	Splits                []rawSplit `json:"splits"`
	ReceiptSplits         []rawSplit `json:"receiptSplits"`
}

// listEnvelope is the object form of a month listing
type listEnvelope struct {
	Documents []rawDocument `json:"documents"`
}

// detailEnvelope is the object form of a document detail response
type detailEnvelope struct {
	Document *rawDocument `json:"document"`
}

// unwrapPayload peels off string-encoding layers until the body is a JSON
// value. Capped to avoid looping on pathological input.
func unwrapPayload(body []byte) []byte {
	for i := 0; i < 3; i++ {
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || trimmed[0] != '"' {
			return trimmed
		}
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return trimmed
		}
		body = []byte(inner)
	}
	return bytes.TrimSpace(body)
}

// decodeDocuments normalizes a month-listing payload into WorkflowDocs.
// Malformed rows are skipped and described in the returned warnings.
func decodeDocuments(body []byte) ([]models.WorkflowDoc, []string, error) {
	body = unwrapPayload(body)

	var raws []rawDocument
	if len(body) > 0 && body[0] == '{' {
		var envelope listEnvelope
		if err := decodeStrictNumbers(body, &envelope); err != nil {
			return nil, nil, err
		}
		raws = envelope.Documents
	} else {
		if err := decodeStrictNumbers(body, &raws); err != nil {
			return nil, nil, err
		}
	}

	var warnings []string
	byID := make(map[int]*models.WorkflowDoc)
	var order []int

	add := func(doc models.WorkflowDoc) {
		existing, ok := byID[doc.DocumentID]
		if !ok {
			copied := doc
			byID[doc.DocumentID] = &copied
			order = append(order, doc.DocumentID)
			return
		}
		// Top-level split rows for the same document merge into one doc
		existing.Splits = append(existing.Splits, doc.Splits...)
		if existing.InvoiceNumber == "" {
			existing.InvoiceNumber = doc.InvoiceNumber
		}
		if existing.CurrencyCode == "" {
			existing.CurrencyCode = doc.CurrencyCode
		}
		if existing.CurrentStage == "" {
			existing.CurrentStage = doc.CurrentStage
		}
		if existing.InvoiceDate.IsZero() {
			existing.InvoiceDate = doc.InvoiceDate
		}
	}

	for i, raw := range raws {
		doc, warns, err := toWorkflowDoc(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("listing entry %d dropped: %v", i, err))
			continue
		}
		warnings = append(warnings, warns...)
		add(doc)
	}

	docs := make([]models.WorkflowDoc, 0, len(order))
	for _, id := range order {
		docs = append(docs, *byID[id])
	}
	return docs, warnings, nil
}

// decodeDocument normalizes a document-detail payload
func decodeDocument(body []byte) (*models.WorkflowDoc, error) {
	body = unwrapPayload(body)

	var envelope detailEnvelope
	if err := decodeStrictNumbers(body, &envelope); err == nil && envelope.Document != nil {
		doc, _, err := toWorkflowDoc(*envelope.Document)
		if err != nil {
			return nil, err
		}
		return &doc, nil
	}

	var raw rawDocument
	if err := decodeStrictNumbers(body, &raw); err != nil {
		return nil, err
	}
	doc, _, err := toWorkflowDoc(raw)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// toWorkflowDoc converts a raw entry, resolving the split-key variants.
// A raw entry that carries split fields directly (top-level split row) is
// turned into a one-split document keyed by its documentId.
func toWorkflowDoc(raw rawDocument) (models.WorkflowDoc, []string, error) {
	id := raw.DocumentID
	if id == 0 {
		id = raw.ID
	}
	if id == 0 {
		return models.WorkflowDoc{}, nil, fmt.Errorf("entry has no document id")
	}

	doc := models.WorkflowDoc{
		DocumentID:    id,
		InvoiceNumber: models.NormalizeInvoiceNumber(raw.InvoiceNumber),
		CurrencyCode:  raw.CurrencyCode,
		CurrentStage:  raw.CurrentStage,
	}

	var warnings []string
	if raw.InvoiceDate != "" {
		date, err := models.ParseDate(raw.InvoiceDate)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("document %d: %v", id, err))
		} else {
			doc.InvoiceDate = date
		}
	}

	rawSplits := raw.DocumentReceiptSplits
	if len(rawSplits) == 0 {
		rawSplits = raw.Splits
	}
	if len(rawSplits) == 0 {
		rawSplits = raw.ReceiptSplits
	}

	// Entry is itself a split row
	if len(rawSplits) == 0 && (raw.CostCenter != "" || raw.Amount != "") {
		rawSplits = []rawSplit{{
			DocumentID:  id,
			CostCenter:  raw.CostCenter,
			Amount:      raw.Amount,
			TaxPercent:  raw.TaxPercent,
			BookingText: raw.BookingText,
			InvoiceDate: raw.InvoiceDate,
		}}
	}

	for i, rs := range rawSplits {
		split, err := toReceiptSplit(id, rs)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("document %d split %d dropped: %v", id, i, err))
			continue
		}
		if split.InvoiceDate.IsZero() {
			split.InvoiceDate = doc.InvoiceDate
		}
		// Some payloads carry document identity only on the split rows
		if doc.InvoiceNumber == "" {
			doc.InvoiceNumber = models.NormalizeInvoiceNumber(rs.InvoiceNumber)
		}
		if doc.CurrencyCode == "" {
			doc.CurrencyCode = rs.CurrencyCode
		}
		doc.Splits = append(doc.Splits, split)
	}

	// Keep split order deterministic per document
	sort.SliceStable(doc.Splits, func(i, j int) bool {
		return doc.Splits[i].InvoiceDate.Before(doc.Splits[j].InvoiceDate)
	})

	return doc, warnings, nil
}

func toReceiptSplit(documentID int, rs rawSplit) (models.ReceiptSplit, error) {
	if rs.Amount == "" {
		return models.ReceiptSplit{}, fmt.Errorf("split has no amount")
	}

	amount, err := decimal.NewFromString(rs.Amount.String())
	if err != nil {
		return models.ReceiptSplit{}, fmt.Errorf("invalid amount '%s': %w", rs.Amount, err)
	}

	split := models.ReceiptSplit{
		DocumentID:  documentID,
		CostCenter:  models.NormalizeCostCenter(rs.CostCenter),
		Amount:      amount,
		BookingText: rs.BookingText,
	}

	if rs.TaxPercent != "" {
		if tax, err := decimal.NewFromString(rs.TaxPercent.String()); err == nil {
			split.TaxPercent = tax
		}
	}

	if rs.InvoiceDate != "" {
		date, err := models.ParseDate(rs.InvoiceDate)
		if err != nil {
			return models.ReceiptSplit{}, err
		}
		split.InvoiceDate = date
	}

	return split, nil
}

// decodeStrictNumbers unmarshals with json.Number so amount text survives
// exactly for decimal parsing
func decodeStrictNumbers(body []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}
