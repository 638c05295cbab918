package engine

import (
	"fmt"

	"direct-debit-engine/internal/models"
	"direct-debit-engine/pkg/errors"
	"direct-debit-engine/pkg/logger"
)

// AdvanceBatch attempts to move the batch to the target status. Guards
// are checked under the batch's mutex and the transition either applies
// completely or not at all. Advancing a batch to its current status is a
// no-op.
func (s *Service) AdvanceBatch(batchID string, target models.BatchStatus) (models.BatchStatus, error) {
	if !target.IsValid() {
		return "", errors.ValidationError(errors.CodeInvalidFilter, "target_status", string(target))
	}

	record, err := s.record(batchID)
	if err != nil {
		return "", err
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	batch := record.batch
	current := batch.Status

	if current == target {
		return current, nil
	}

	if !current.CanTransitionTo(target) {
		return current, errors.GuardViolation(errors.CodeIllegalTransition,
			batchID, string(current), string(target), nil)
	}

	if err := s.checkGuards(batch, target); err != nil {
		return current, err
	}

	batch.Status = target
	batch.AppendLog(s.now(), fmt.Sprintf("status changed from %s to %s", current, target))

	s.logger.WithFields(logger.Fields{
		"batch_id": batchID,
		"from":     current,
		"to":       target,
	}).Info("Batch advanced")

	return target, nil
}

// checkGuards enforces the per-transition guard conditions. The caller
// holds the batch mutex and has already verified the lifecycle edge.
func (s *Service) checkGuards(batch *models.Batch, target models.BatchStatus) error {
	switch target {
	case models.BatchStatusGenerated:
		return s.checkGenerationGuards(batch)
	case models.BatchStatusSubmitted:
		if batch.FileReference == "" {
			return errors.GuardViolation(errors.CodeFileNotGenerated,
				batch.ID, string(batch.Status), string(target), nil)
		}
		return nil
	case models.BatchStatusProcessed, models.BatchStatusFailed:
		return s.checkSettlementGuards(batch, target)
	default:
		return nil
	}
}

// checkGenerationGuards verifies that every entry is collectable and no
// conflict still blocks the batch
func (s *Service) checkGenerationGuards(batch *models.Batch) error {
	var blockedEntries []string
	for _, entry := range batch.Entries {
		if !entry.Collectable() {
			blockedEntries = append(blockedEntries, entry.InvoiceID)
		}
	}
	if len(blockedEntries) > 0 {
		return errors.GuardViolation(errors.CodeEntriesNotValid,
			batch.ID, string(batch.Status), string(models.BatchStatusGenerated), blockedEntries)
	}

	blocking := batch.BlockingConflicts()
	if len(blocking) > 0 {
		conflictIDs := make([]string, len(blocking))
		for i, conflict := range blocking {
			conflictIDs[i] = conflict.ID
		}
		return errors.UnresolvedConflictError(batch.ID, conflictIDs)
	}

	return nil
}

// checkSettlementGuards verifies that the terminal status matches the
// recorded per-entry settlement outcomes
func (s *Service) checkSettlementGuards(batch *models.Batch, target models.BatchStatus) error {
	var pending []string
	anyFailed := false
	for _, entry := range batch.Entries {
		switch entry.Status {
		case models.EntryStatusPending:
			pending = append(pending, entry.InvoiceID)
		case models.EntryStatusFailed:
			anyFailed = true
		}
	}

	if len(pending) > 0 {
		return errors.GuardViolation(errors.CodeEntriesNotValid,
			batch.ID, string(batch.Status), string(target), pending)
	}

	derived := models.BatchStatusProcessed
	if anyFailed {
		derived = models.BatchStatusFailed
	}
	if target != derived {
		return errors.GuardViolation(errors.CodeIllegalTransition,
			batch.ID, string(batch.Status), string(target), nil).
			WithContext("settlement_outcome", string(derived))
	}

	return nil
}

// NotifyFileGenerated records that the file generation collaborator has
// produced the collection file for the batch. Recording the same
// reference twice is a no-op.
func (s *Service) NotifyFileGenerated(batchID, fileReference string) error {
	if fileReference == "" {
		return errors.ValidationError(errors.CodeInvalidFilter, "file_reference", "required")
	}

	record, err := s.record(batchID)
	if err != nil {
		return err
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	batch := record.batch
	if batch.FileReference == fileReference {
		return nil
	}
	if batch.Status != models.BatchStatusGenerated {
		return errors.GuardViolation(errors.CodeIllegalTransition,
			batchID, string(batch.Status), string(batch.Status), nil).
			WithContext("reason", "collection files attach to generated batches only")
	}

	batch.FileReference = fileReference
	batch.AppendLog(s.now(), fmt.Sprintf("collection file %s attached", fileReference))
	return nil
}

// RecordSettlement ingests the bank's per-entry settlement feedback and
// derives the terminal batch status. Recording the same feedback twice is
// idempotent; entry statuses and the derived batch status end up
// identical and no duplicate log lines are written.
func (s *Service) RecordSettlement(feedback models.SettlementFeedback) (models.BatchStatus, error) {
	record, err := s.record(feedback.BatchID)
	if err != nil {
		return "", err
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	batch := record.batch
	if batch.Status != models.BatchStatusSubmitted && !batch.Status.IsTerminal() {
		return batch.Status, errors.GuardViolation(errors.CodeIllegalTransition,
			batch.ID, string(batch.Status), string(models.BatchStatusProcessed), nil).
			WithContext("reason", "settlement feedback applies to submitted batches")
	}

	entriesByInvoice := make(map[string]*models.Entry, len(batch.Entries))
	for _, entry := range batch.Entries {
		entriesByInvoice[entry.InvoiceID] = entry
	}

	changed := 0
	for _, result := range feedback.Results {
		entry, ok := entriesByInvoice[result.InvoiceID]
		if !ok {
			s.logger.WithFields(logger.Fields{
				"batch_id":   batch.ID,
				"invoice_id": result.InvoiceID,
			}).Warn("Settlement result for unknown entry ignored")
			continue
		}
		if !result.Status.IsValid() || result.Status == models.EntryStatusPending {
			continue
		}
		if entry.Status == result.Status && entry.ResultCode == result.ResultCode {
			continue
		}
		entry.Status = result.Status
		entry.ResultCode = result.ResultCode
		entry.ResultMessage = result.ResultMessage
		changed++
	}

	successful, failed, pending := 0, 0, 0
	for _, entry := range batch.Entries {
		switch entry.Status {
		case models.EntryStatusSuccessful:
			successful++
		case models.EntryStatusFailed:
			failed++
		default:
			pending++
		}
	}

	if changed > 0 {
		batch.AppendLog(s.now(), fmt.Sprintf("settlement recorded: %d successful, %d failed, %d pending",
			successful, failed, pending))
	}

	if pending > 0 {
		return batch.Status, nil
	}

	derived := models.BatchStatusProcessed
	if failed > 0 {
		derived = models.BatchStatusFailed
	}

	if batch.Status == models.BatchStatusSubmitted {
		batch.Status = derived
		batch.AppendLog(s.now(), fmt.Sprintf("status changed from %s to %s", models.BatchStatusSubmitted, derived))
		s.logger.WithFields(logger.Fields{
			"batch_id":   batch.ID,
			"successful": successful,
			"failed":     failed,
		}).Info("Batch settled")
	}

	return batch.Status, nil
}
