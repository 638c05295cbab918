package engine

import (
	"fmt"
	"sort"
	"time"

	"direct-debit-engine/internal/bank"
	"direct-debit-engine/internal/models"
	"direct-debit-engine/internal/risk"
)

// ListFilters bound a batch listing
type ListFilters struct {
	Status      models.BatchStatus `json:"status,omitempty"`
	RiskLevel   models.RiskLevel   `json:"risk_level,omitempty"`
	CreatedFrom time.Time          `json:"created_from,omitempty"`
	CreatedTo   time.Time          `json:"created_to,omitempty"`
}

// ConflictSummary aggregates a batch's conflict state for listings
type ConflictSummary struct {
	Total      int `json:"total"`
	Unresolved int `json:"unresolved"`
	Escalated  int `json:"escalated"`
	High       int `json:"high"`
}

// BatchSummary is the listing view of one batch. Risk is recomputed from
// the batch's current state on every call, never cached.
type BatchSummary struct {
	ID             string             `json:"id"`
	CreatedAt      time.Time          `json:"created_at"`
	CollectionDate time.Time          `json:"collection_date"`
	Currency       string             `json:"currency"`
	Status         models.BatchStatus `json:"status"`
	EntryCount     int                `json:"entry_count"`
	TotalAmount    string             `json:"total_amount"`
	Risk           risk.Assessment    `json:"risk"`
	Conflicts      ConflictSummary    `json:"conflicts"`
}

// BatchAnalysis is the per-batch security and health breakdown returned
// with the full batch view
type BatchAnalysis struct {
	EntriesByStatus     map[models.EntryStatus]int `json:"entries_by_status"`
	ConflictsBySeverity map[models.Severity]int    `json:"conflicts_by_severity"`
	InvalidEntries      int                        `json:"invalid_entries"`
	OverriddenEntries   int                        `json:"overridden_entries"`
	Issues              []string                   `json:"issues,omitempty"`
}

// BatchDetail is the full view of one batch. Entry IBANs are masked;
// unmasked account numbers never leave the engine except toward the file
// generation collaborator.
type BatchDetail struct {
	Batch    *models.Batch   `json:"batch"`
	Risk     risk.Assessment `json:"risk"`
	Analysis BatchAnalysis   `json:"analysis"`
}

// ConflictReport groups a batch's conflicts by severity
type ConflictReport struct {
	BatchID  string             `json:"batch_id"`
	High     []*models.Conflict `json:"high"`
	Medium   []*models.Conflict `json:"medium"`
	Blocking int                `json:"blocking"`
}

// ListBatches returns summaries of the batches matching the filters,
// newest first
func (s *Service) ListBatches(filters ListFilters) []*BatchSummary {
	s.mu.RLock()
	records := make([]*batchRecord, 0, len(s.batches))
	for _, record := range s.batches {
		records = append(records, record)
	}
	s.mu.RUnlock()

	var summaries []*BatchSummary
	for _, record := range records {
		record.mu.Lock()
		batch := record.batch.Clone()
		record.mu.Unlock()

		summary := summarize(batch)
		if !matchesListFilters(batch, summary, filters) {
			continue
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		}
		return summaries[i].ID < summaries[j].ID
	})

	return summaries
}

func matchesListFilters(batch *models.Batch, summary *BatchSummary, filters ListFilters) bool {
	if filters.Status != "" && batch.Status != filters.Status {
		return false
	}
	if filters.RiskLevel != "" && summary.Risk.Level != filters.RiskLevel {
		return false
	}
	if !filters.CreatedFrom.IsZero() && batch.CreatedAt.Before(filters.CreatedFrom) {
		return false
	}
	if !filters.CreatedTo.IsZero() && batch.CreatedAt.After(filters.CreatedTo) {
		return false
	}
	return true
}

func summarize(batch *models.Batch) *BatchSummary {
	summary := &BatchSummary{
		ID:             batch.ID,
		CreatedAt:      batch.CreatedAt,
		CollectionDate: batch.CollectionDate,
		Currency:       batch.Currency,
		Status:         batch.Status,
		EntryCount:     batch.EntryCount(),
		TotalAmount:    batch.TotalAmount().StringFixed(2),
		Risk:           risk.ScoreBatch(batch),
	}

	for _, conflict := range batch.Conflicts {
		summary.Conflicts.Total++
		switch conflict.Resolution {
		case models.ResolutionUnresolved:
			summary.Conflicts.Unresolved++
		case models.ResolutionEscalate:
			summary.Conflicts.Escalated++
		}
		if conflict.Severity == models.SeverityHigh {
			summary.Conflicts.High++
		}
	}

	return summary
}

// GetBatch returns the full batch view with masked IBANs, the current
// risk assessment, and the security analysis
func (s *Service) GetBatch(batchID string) (*BatchDetail, error) {
	batch, err := s.snapshot(batchID)
	if err != nil {
		return nil, err
	}

	// Score before masking; masking only affects the returned copy
	assessment := risk.ScoreBatch(batch)
	analysis := analyze(batch)

	for _, entry := range batch.Entries {
		entry.IBAN = bank.MaskIBAN(entry.IBAN)
	}

	return &BatchDetail{
		Batch:    batch,
		Risk:     assessment,
		Analysis: analysis,
	}, nil
}

// analyze computes the per-batch health breakdown
func analyze(batch *models.Batch) BatchAnalysis {
	analysis := BatchAnalysis{
		EntriesByStatus:     make(map[models.EntryStatus]int),
		ConflictsBySeverity: make(map[models.Severity]int),
	}

	for _, entry := range batch.Entries {
		analysis.EntriesByStatus[entry.Status]++
		if entry.ValidationStatus == models.ValidationInvalid {
			analysis.InvalidEntries++
		}
		if entry.Override != nil {
			analysis.OverriddenEntries++
		}
	}
	for _, conflict := range batch.Conflicts {
		analysis.ConflictsBySeverity[conflict.Severity]++
	}

	if analysis.InvalidEntries > analysis.OverriddenEntries {
		analysis.Issues = append(analysis.Issues,
			fmt.Sprintf("%d entries failed validation without an override", analysis.InvalidEntries-analysis.OverriddenEntries))
	}
	if blocking := len(batch.BlockingConflicts()); blocking > 0 {
		analysis.Issues = append(analysis.Issues,
			fmt.Sprintf("%d conflicts block generation", blocking))
	}
	if high := analysis.ConflictsBySeverity[models.SeverityHigh]; high > 0 {
		analysis.Issues = append(analysis.Issues,
			fmt.Sprintf("%d high severity duplicate conflicts", high))
	}

	return analysis
}

// GetConflicts returns the batch's conflicts grouped by severity
func (s *Service) GetConflicts(batchID string) (*ConflictReport, error) {
	batch, err := s.snapshot(batchID)
	if err != nil {
		return nil, err
	}

	report := &ConflictReport{BatchID: batchID}
	for _, conflict := range batch.Conflicts {
		switch conflict.Severity {
		case models.SeverityHigh:
			report.High = append(report.High, conflict)
		default:
			report.Medium = append(report.Medium, conflict)
		}
		if conflict.Resolution.Blocking() {
			report.Blocking++
		}
	}

	return report, nil
}

// AuditTrail returns the audit entries recorded for the batch
func (s *Service) AuditTrail(batchID string) ([]models.AuditLogEntry, error) {
	if _, err := s.record(batchID); err != nil {
		return nil, err
	}
	return s.audit.ForBatch(batchID), nil
}
