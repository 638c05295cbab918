// Package reporter renders batch views for terminal display and export.
//
// Reports are generated from the engine's read-side views, which already
// mask account numbers; the reporter never sees an unmasked IBAN.
//
// Supported output formats:
//   - Console: human-readable output for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: entry-level export for spreadsheet review
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"direct-debit-engine/internal/engine"
	"direct-debit-engine/internal/models"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	IncludeEntries    bool `json:"include_entries"`
	IncludeConflicts  bool `json:"include_conflicts"`
	IncludeAuditTrail bool `json:"include_audit_trail"`
	IncludeBatchLog   bool `json:"include_batch_log"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeEntries:    true,
		IncludeConflicts:  true,
		IncludeAuditTrail: false,
		IncludeBatchLog:   false,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	return nil
}

// BatchReport is the assembled report for one batch
type BatchReport struct {
	Detail     *engine.BatchDetail     `json:"detail"`
	Conflicts  *engine.ConflictReport  `json:"conflicts,omitempty"`
	AuditTrail []models.AuditLogEntry  `json:"audit_trail,omitempty"`
}

// BatchReporter renders batch reports in the configured format
type BatchReporter struct {
	config *ReportConfig
}

// NewBatchReporter creates a reporter with the given configuration
func NewBatchReporter(config *ReportConfig) *BatchReporter {
	if config == nil {
		config = DefaultReportConfig()
	}
	return &BatchReporter{config: config}
}

// Render writes the report to w in the configured format
func (r *BatchReporter) Render(report *BatchReport, w io.Writer) error {
	if report == nil || report.Detail == nil {
		return fmt.Errorf("report has no batch detail")
	}
	if err := r.config.Validate(); err != nil {
		return err
	}

	switch r.config.Format {
	case FormatJSON:
		return r.renderJSON(report, w)
	case FormatCSV:
		return r.renderCSV(report, w)
	default:
		return r.renderConsole(report, w)
	}
}

func (r *BatchReporter) renderJSON(report *BatchReport, w io.Writer) error {
	trimmed := *report
	if !r.config.IncludeConflicts {
		trimmed.Conflicts = nil
	}
	if !r.config.IncludeAuditTrail {
		trimmed.AuditTrail = nil
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(&trimmed)
}

func (r *BatchReporter) renderCSV(report *BatchReport, w io.Writer) error {
	writer := csv.NewWriter(w)
	writer.Comma = r.config.CSVDelimiter
	defer writer.Flush()

	if r.config.CSVHeaders {
		header := []string{"invoice_id", "member_id", "member_name", "amount", "iban", "status", "validation", "result_code"}
		if err := writer.Write(header); err != nil {
			return err
		}
	}

	for _, entry := range report.Detail.Batch.Entries {
		record := []string{
			entry.InvoiceID,
			entry.MemberID,
			entry.MemberName,
			entry.Amount.StringFixed(2),
			entry.IBAN,
			string(entry.Status),
			string(entry.ValidationStatus),
			entry.ResultCode,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func (r *BatchReporter) renderConsole(report *BatchReport, w io.Writer) error {
	batch := report.Detail.Batch
	assessment := report.Detail.Risk
	analysis := report.Detail.Analysis

	var b strings.Builder

	b.WriteString("DIRECT DEBIT BATCH REPORT\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	fmt.Fprintf(&b, "Batch:           %s\n", batch.ID)
	fmt.Fprintf(&b, "Status:          %s\n", batch.Status)
	fmt.Fprintf(&b, "Collection date: %s\n", batch.CollectionDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Entries:         %d\n", batch.EntryCount())
	fmt.Fprintf(&b, "Total:           %s %s\n", batch.TotalAmount().StringFixed(2), batch.Currency)
	fmt.Fprintf(&b, "Risk:            %s (score %.2f)\n", assessment.Level, assessment.Score)
	for _, factor := range assessment.Factors {
		fmt.Fprintf(&b, "  - %s\n", factor)
	}
	if batch.FileReference != "" {
		fmt.Fprintf(&b, "File:            %s\n", batch.FileReference)
	}

	if len(analysis.Issues) > 0 {
		b.WriteString("\nISSUES\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		for _, issue := range analysis.Issues {
			fmt.Fprintf(&b, "  ! %s\n", issue)
		}
	}

	if r.config.IncludeEntries && len(batch.Entries) > 0 {
		b.WriteString("\nENTRIES\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		fmt.Fprintf(&b, "%-12s %-10s %-24s %10s  %-16s %s\n",
			"INVOICE", "MEMBER", "NAME", "AMOUNT", "IBAN", "STATUS")
		for _, entry := range batch.Entries {
			status := string(entry.Status)
			if entry.ValidationStatus == models.ValidationInvalid && entry.Override == nil {
				status = "INVALID: " + strings.Join(entry.ValidationIssues, ", ")
			}
			fmt.Fprintf(&b, "%-12s %-10s %-24s %10s  %-16s %s\n",
				entry.InvoiceID, entry.MemberID, truncate(entry.MemberName, 24),
				entry.Amount.StringFixed(2), entry.IBAN, status)
		}
	}

	if r.config.IncludeConflicts && report.Conflicts != nil {
		r.writeConflictSection(&b, "HIGH SEVERITY CONFLICTS", report.Conflicts.High)
		r.writeConflictSection(&b, "MEDIUM SEVERITY CONFLICTS", report.Conflicts.Medium)
	}

	if r.config.IncludeAuditTrail && len(report.AuditTrail) > 0 {
		b.WriteString("\nAUDIT TRAIL\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		for _, entry := range report.AuditTrail {
			fmt.Fprintf(&b, "  %s  %-10s %s",
				entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Actor, entry.Decision)
			if entry.ConflictID != "" {
				fmt.Fprintf(&b, " (conflict %s)", entry.ConflictID)
			}
			b.WriteString("\n")
		}
	}

	if r.config.IncludeBatchLog && len(batch.Log) > 0 {
		b.WriteString("\nBATCH LOG\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		for _, line := range batch.Log {
			fmt.Fprintf(&b, "  %s  %s\n", line.Timestamp.Format("2006-01-02 15:04:05"), line.Message)
		}
	}

	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func (r *BatchReporter) writeConflictSection(b *strings.Builder, title string, conflicts []*models.Conflict) {
	if len(conflicts) == 0 {
		return
	}

	b.WriteString("\n" + title + "\n")
	b.WriteString(strings.Repeat("-", 60) + "\n")
	for _, conflict := range conflicts {
		fmt.Fprintf(b, "  entry #%d: member %s vs existing %s (score %.2f, %s)\n",
			conflict.EntryIndex, conflict.NewMemberID, conflict.ExistingMemberID,
			conflict.Score, conflict.Resolution)
		if len(conflict.MatchReasons) > 0 {
			fmt.Fprintf(b, "    reasons: %s\n", strings.Join(conflict.MatchReasons, "; "))
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
