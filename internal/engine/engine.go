// Package engine orchestrates the direct debit batch lifecycle.
//
// The engine owns batches and their entries, conflicts and audit trail.
// Invoices and members live in external systems and are only read. All
// operations are synchronous; the engine runs no timers or background
// work of its own.
//
// Concurrency model: every batch is a single-writer resource. Mutations
// take the batch's own mutex, so concurrent transition attempts on one
// batch serialize while different batches proceed independently. Reads
// take the same mutex just long enough to clone, so callers always see
// a consistent snapshot and never a batch mid-mutation.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"direct-debit-engine/internal/dedup"
	"direct-debit-engine/internal/eligibility"
	"direct-debit-engine/internal/models"
	"direct-debit-engine/pkg/errors"
	"direct-debit-engine/pkg/logger"

	"github.com/google/uuid"
)

// Service exposes the batch engine operations to UI and API callers
type Service struct {
	mu      sync.RWMutex
	batches map[string]*batchRecord

	selector *eligibility.Selector
	detector *dedup.DetectionEngine
	audit    *AuditLog

	logger logger.Logger
	now    func() time.Time
}

// batchRecord pairs a batch with the mutex that serializes its mutations
type batchRecord struct {
	mu    sync.Mutex
	batch *models.Batch
}

// NewService creates a batch engine service backed by the given
// eligibility selector and duplicate detection engine
func NewService(selector *eligibility.Selector, detector *dedup.DetectionEngine) *Service {
	return &Service{
		batches:  make(map[string]*batchRecord),
		selector: selector,
		detector: detector,
		audit:    NewAuditLog(),
		logger:   logger.GetGlobalLogger().WithComponent("batch_engine"),
		now:      time.Now,
	}
}

// Audit returns the engine's append-only audit log
func (s *Service) Audit() *AuditLog {
	return s.audit
}

// CreateBatchRequest describes a new collection batch
type CreateBatchRequest struct {
	CollectionDate time.Time           `json:"collection_date"`
	Currency       string              `json:"currency"`
	Filters        eligibility.Filters `json:"filters"`
}

// CreateBatch selects eligible invoices, runs duplicate detection, and
// stores a new Draft batch. The returned batch is a snapshot; later
// mutations do not affect it.
func (s *Service) CreateBatch(ctx context.Context, req CreateBatchRequest) (*models.Batch, error) {
	if req.CollectionDate.IsZero() {
		return nil, errors.ValidationError(errors.CodeInvalidFilter, "collection_date", "required")
	}

	currency := req.Currency
	if currency == "" {
		currency = "EUR"
	}

	entries, err := s.selector.SelectEligible(ctx, req.Filters)
	if err != nil {
		return nil, err
	}

	batch := &models.Batch{
		ID:             uuid.NewString(),
		CreatedAt:      s.now(),
		CollectionDate: req.CollectionDate,
		Currency:       currency,
		Status:         models.BatchStatusDraft,
		Entries:        entries,
	}

	conflicts, err := s.detector.DetectConflicts(ctx, batch.ID, entries)
	if err != nil {
		return nil, err
	}
	batch.Conflicts = conflicts

	batch.AppendLog(s.now(), fmt.Sprintf("batch created with %d entries, total %s %s",
		batch.EntryCount(), batch.TotalAmount().StringFixed(2), batch.Currency))
	if len(conflicts) > 0 {
		batch.AppendLog(s.now(), fmt.Sprintf("duplicate detection found %d conflicts", len(conflicts)))
	}

	s.mu.Lock()
	s.batches[batch.ID] = &batchRecord{batch: batch}
	s.mu.Unlock()

	s.logger.WithFields(logger.Fields{
		"batch_id":  batch.ID,
		"entries":   batch.EntryCount(),
		"conflicts": len(conflicts),
		"total":     batch.TotalAmount().StringFixed(2),
	}).Info("Batch created")

	return batch.Clone(), nil
}

// SelectEligibleInvoices returns candidate entries without creating a
// batch. Callers use this to preview a collection run.
func (s *Service) SelectEligibleInvoices(ctx context.Context, filters eligibility.Filters) ([]*models.Entry, error) {
	return s.selector.SelectEligible(ctx, filters)
}

// record returns the batch record for the given id
func (s *Service) record(batchID string) (*batchRecord, error) {
	s.mu.RLock()
	record, ok := s.batches[batchID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFoundError(errors.CodeBatchNotFound, batchID)
	}
	return record, nil
}

// snapshot returns a deep copy of the batch with the given id
func (s *Service) snapshot(batchID string) (*models.Batch, error) {
	record, err := s.record(batchID)
	if err != nil {
		return nil, err
	}

	record.mu.Lock()
	defer record.mu.Unlock()
	return record.batch.Clone(), nil
}
