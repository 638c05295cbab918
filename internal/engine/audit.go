package engine

import (
	"sync"

	"direct-debit-engine/internal/models"

	"github.com/google/uuid"
)

// AuditLog is the append-only record of every resolution and escalation
// decision. Entries are assigned an id on append and are never mutated or
// removed afterwards; compliance review depends on the log being
// strictly additive.
type AuditLog struct {
	mu      sync.RWMutex
	entries []models.AuditLogEntry
}

// NewAuditLog creates an empty audit log
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Append stores the entry and returns its assigned id
func (al *AuditLog) Append(entry models.AuditLogEntry) string {
	entry.ID = uuid.NewString()

	al.mu.Lock()
	al.entries = append(al.entries, entry)
	al.mu.Unlock()

	return entry.ID
}

// ForBatch returns all entries recorded for the given batch, in append
// order
func (al *AuditLog) ForBatch(batchID string) []models.AuditLogEntry {
	al.mu.RLock()
	defer al.mu.RUnlock()

	var matched []models.AuditLogEntry
	for _, entry := range al.entries {
		if entry.BatchID == batchID {
			matched = append(matched, entry)
		}
	}
	return matched
}

// All returns every entry in append order
func (al *AuditLog) All() []models.AuditLogEntry {
	al.mu.RLock()
	defer al.mu.RUnlock()
	return append([]models.AuditLogEntry(nil), al.entries...)
}

// Len returns the number of recorded entries
func (al *AuditLog) Len() int {
	al.mu.RLock()
	defer al.mu.RUnlock()
	return len(al.entries)
}
