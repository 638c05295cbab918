package reporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"direct-debit-engine/internal/engine"
	"direct-debit-engine/internal/models"
	"direct-debit-engine/internal/risk"

	"github.com/shopspring/decimal"
)

func sampleReport() *BatchReport {
	batch := &models.Batch{
		ID:             "batch-1",
		CreatedAt:      time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC),
		CollectionDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Currency:       "EUR",
		Status:         models.BatchStatusDraft,
		Entries: []*models.Entry{
			{
				InvoiceID:  "INV-001",
				MemberID:   "M-001",
				MemberName: "Jan de Vries",
				Amount:     decimal.NewFromFloat(25.00),
				IBAN:       "NL91****4300",
				Status:     models.EntryStatusPending,

				ValidationStatus: models.ValidationValid,
			},
			{
				InvoiceID:        "INV-002",
				MemberID:         "M-002",
				MemberName:       "Maria Hendriks",
				Amount:           decimal.NewFromFloat(12.50),
				IBAN:             "NL69****6789",
				Status:           models.EntryStatusPending,
				ValidationStatus: models.ValidationInvalid,
				ValidationIssues: []string{"missing mandate reference"},
			},
		},
		Conflicts: []*models.Conflict{
			{
				ID:               "conflict-1",
				BatchID:          "batch-1",
				EntryIndex:       0,
				NewMemberID:      "M-001",
				ExistingMemberID: "M-003",
				Score:            0.92,
				MatchReasons:     []string{"identical IBAN", "name similarity 95%"},
				Severity:         models.SeverityHigh,
				Resolution:       models.ResolutionUnresolved,
			},
		},
	}

	detail := &engine.BatchDetail{
		Batch: batch,
		Risk:  risk.ScoreBatch(batch),
		Analysis: engine.BatchAnalysis{
			EntriesByStatus:     map[models.EntryStatus]int{models.EntryStatusPending: 2},
			ConflictsBySeverity: map[models.Severity]int{models.SeverityHigh: 1},
			InvalidEntries:      1,
			Issues:              []string{"1 entries failed validation without an override"},
		},
	}

	return &BatchReport{
		Detail: detail,
		Conflicts: &engine.ConflictReport{
			BatchID:  "batch-1",
			High:     batch.Conflicts,
			Blocking: 1,
		},
	}
}

func TestRenderConsole(t *testing.T) {
	reporter := NewBatchReporter(nil)
	var buf bytes.Buffer

	if err := reporter.Render(sampleReport(), &buf); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"batch-1",
		"Draft",
		"37.50 EUR",
		"INV-001",
		"NL91****4300",
		"HIGH SEVERITY CONFLICTS",
		"identical IBAN",
		"missing mandate reference",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Console output missing %q", want)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	reporter := NewBatchReporter(config)

	var buf bytes.Buffer
	if err := reporter.Render(sampleReport(), &buf); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	var decoded BatchReport
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if decoded.Detail.Batch.ID != "batch-1" {
		t.Errorf("Unexpected batch id: %s", decoded.Detail.Batch.ID)
	}
	if len(decoded.Conflicts.High) != 1 {
		t.Errorf("Expected 1 high conflict in JSON output")
	}
}

func TestRenderCSV(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	reporter := NewBatchReporter(config)

	var buf bytes.Buffer
	if err := reporter.Render(sampleReport(), &buf); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "invoice_id,") {
		t.Errorf("Unexpected CSV header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "NL91****4300") {
		t.Errorf("CSV row missing masked IBAN: %s", lines[1])
	}
}

func TestRenderRejectsBadInput(t *testing.T) {
	reporter := NewBatchReporter(nil)
	if err := reporter.Render(nil, &bytes.Buffer{}); err == nil {
		t.Error("Expected error for nil report")
	}

	config := DefaultReportConfig()
	config.Format = OutputFormat("xml")
	bad := NewBatchReporter(config)
	if err := bad.Render(sampleReport(), &bytes.Buffer{}); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
