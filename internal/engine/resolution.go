package engine

import (
	"context"
	"fmt"
	"sort"

	"direct-debit-engine/internal/models"
	"direct-debit-engine/pkg/errors"
	"direct-debit-engine/pkg/logger"
)

// SystemActor is recorded on decisions the engine takes on its own, such
// as escalating high severity conflicts the operator left undecided
const SystemActor = "system"

// ResolutionResult reports the outcome of applying a resolution map
type ResolutionResult struct {
	Success      bool                  `json:"success"`
	AppliedCount int                   `json:"applied_count"`
	Errors       []*errors.EngineError `json:"errors,omitempty"`
}

// ApplyResolutions applies operator decisions to the batch's conflicts.
//
// Decisions are terminal once set: repeating an identical decision counts
// as applied without a new audit entry, while changing a decided conflict
// fails. High severity conflicts accept only escalation; any high
// severity conflict left undecided after the map is applied is escalated
// on the operator's behalf under the system actor. Applying the same map
// twice therefore yields the same applied count and writes no duplicate
// audit entries.
func (s *Service) ApplyResolutions(batchID string, resolutions map[string]models.Resolution, actor string) (*ResolutionResult, error) {
	record, err := s.record(batchID)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = SystemActor
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	batch := record.batch
	result := &ResolutionResult{}

	// Process decisions in conflict id order so repeated calls report
	// errors identically
	conflictIDs := make([]string, 0, len(resolutions))
	for conflictID := range resolutions {
		conflictIDs = append(conflictIDs, conflictID)
	}
	sort.Strings(conflictIDs)

	for _, conflictID := range conflictIDs {
		decision := resolutions[conflictID]

		conflict := batch.FindConflict(conflictID)
		if conflict == nil {
			result.Errors = append(result.Errors, errors.NotFoundError(errors.CodeConflictNotFound, conflictID))
			continue
		}
		if !decision.IsDecision() {
			result.Errors = append(result.Errors, errors.ConflictResolutionError(
				errors.CodeUnknownDecision, conflictID, string(decision)))
			continue
		}
		if conflict.Resolution == decision {
			result.AppliedCount++
			continue
		}
		if conflict.Resolution.IsDecision() {
			result.Errors = append(result.Errors, errors.ConflictResolutionError(
				errors.CodeResolutionFinal, conflictID, string(conflict.Resolution)))
			continue
		}
		if conflict.Severity == models.SeverityHigh && decision != models.ResolutionEscalate {
			result.Errors = append(result.Errors, errors.ConflictResolutionError(
				errors.CodeEscalatedConflicts, conflictID,
				fmt.Sprintf("high severity conflicts must be escalated, not %s", decision)))
			continue
		}

		s.resolveLocked(batch, conflict, decision, actor)
		result.AppliedCount++
	}

	// High severity conflicts the operator did not decide are escalated
	// automatically
	for _, conflict := range batch.Conflicts {
		if conflict.Severity == models.SeverityHigh && conflict.Resolution == models.ResolutionUnresolved {
			s.resolveLocked(batch, conflict, models.ResolutionEscalate, SystemActor)
		}
	}

	result.Success = len(result.Errors) == 0

	s.logger.WithFields(logger.Fields{
		"batch_id": batchID,
		"applied":  result.AppliedCount,
		"errors":   len(result.Errors),
	}).Info("Resolutions applied")

	return result, nil
}

// resolveLocked records a resolution decision, its audit entry and batch
// log line. The caller holds the batch mutex.
func (s *Service) resolveLocked(batch *models.Batch, conflict *models.Conflict, decision models.Resolution, actor string) string {
	conflict.Resolution = decision
	conflict.ResolvedBy = actor
	conflict.ResolvedAt = s.now()

	batch.AppendLog(s.now(), fmt.Sprintf("conflict %s resolved as %s by %s", conflict.ID, decision, actor))

	return s.audit.Append(models.AuditLogEntry{
		BatchID:    batch.ID,
		ConflictID: conflict.ID,
		Decision:   string(decision),
		Actor:      actor,
		Timestamp:  s.now(),
	})
}

// Escalate marks the given conflicts for escalation and returns the audit
// entry ids written. Conflicts already escalated are skipped without new
// audit entries; conflicts with a different final decision fail the call.
func (s *Service) Escalate(batchID string, conflictIDs []string, actor string) ([]string, error) {
	record, err := s.record(batchID)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = SystemActor
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	batch := record.batch
	var auditIDs []string

	for _, conflictID := range conflictIDs {
		conflict := batch.FindConflict(conflictID)
		if conflict == nil {
			return auditIDs, errors.NotFoundError(errors.CodeConflictNotFound, conflictID)
		}
		if conflict.Resolution == models.ResolutionEscalate {
			continue
		}
		if conflict.Resolution.IsDecision() {
			return auditIDs, errors.ConflictResolutionError(
				errors.CodeResolutionFinal, conflictID, string(conflict.Resolution))
		}
		auditIDs = append(auditIDs, s.resolveLocked(batch, conflict, models.ResolutionEscalate, actor))
	}

	return auditIDs, nil
}

// ReevaluateBatch re-runs duplicate detection for a Draft batch,
// replacing its conflicts and discarding every prior resolution. This is
// the only way to re-open a decided conflict.
func (s *Service) ReevaluateBatch(ctx context.Context, batchID string) error {
	record, err := s.record(batchID)
	if err != nil {
		return err
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	batch := record.batch
	if batch.Status != models.BatchStatusDraft {
		return errors.GuardViolation(errors.CodeIllegalTransition,
			batchID, string(batch.Status), string(models.BatchStatusDraft), nil).
			WithContext("reason", "only draft batches can be re-evaluated")
	}

	conflicts, err := s.detector.DetectConflicts(ctx, batch.ID, batch.Entries)
	if err != nil {
		return err
	}

	discarded := len(batch.Conflicts)
	batch.Conflicts = conflicts
	batch.AppendLog(s.now(), fmt.Sprintf("batch re-evaluated: %d prior conflicts discarded, %d detected",
		discarded, len(conflicts)))

	s.audit.Append(models.AuditLogEntry{
		BatchID:   batch.ID,
		Decision:  "re-evaluate",
		Actor:     SystemActor,
		Timestamp: s.now(),
	})

	return nil
}

// RecordEntryOverride records an explicit operator decision to collect an
// entry that failed validation. Overriding an already overridden entry is
// a no-op.
func (s *Service) RecordEntryOverride(batchID, invoiceID, actor, reason string) error {
	if actor == "" || reason == "" {
		return errors.ValidationError(errors.CodeInvalidFilter, "override", "actor and reason are required")
	}

	record, err := s.record(batchID)
	if err != nil {
		return err
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	batch := record.batch
	if batch.Status != models.BatchStatusDraft {
		return errors.GuardViolation(errors.CodeIllegalTransition,
			batchID, string(batch.Status), string(batch.Status), nil).
			WithContext("reason", "overrides apply to draft batches only")
	}

	for _, entry := range batch.Entries {
		if entry.InvoiceID != invoiceID {
			continue
		}
		if entry.Override != nil {
			return nil
		}
		entry.Override = &models.EntryOverride{
			Actor:     actor,
			Reason:    reason,
			Timestamp: s.now(),
		}
		batch.AppendLog(s.now(), fmt.Sprintf("entry %s override recorded by %s: %s", invoiceID, actor, reason))
		s.audit.Append(models.AuditLogEntry{
			BatchID:   batch.ID,
			Decision:  "override entry " + invoiceID,
			Actor:     actor,
			Timestamp: s.now(),
		})
		return nil
	}

	return errors.NotFoundError(errors.CodeEntryNotFound, invoiceID).
		WithContext("batch_id", batchID)
}
