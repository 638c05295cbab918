// Package models defines the domain records the batch engine operates on:
// batches, collection entries, duplicate conflicts, and the audit trail.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus represents the lifecycle state of a direct debit batch
type BatchStatus string

const (
	BatchStatusDraft     BatchStatus = "Draft"
	BatchStatusGenerated BatchStatus = "Generated"
	BatchStatusSubmitted BatchStatus = "Submitted"
	BatchStatusProcessed BatchStatus = "Processed"
	BatchStatusFailed    BatchStatus = "Failed"
)

// String returns the string representation of BatchStatus
func (s BatchStatus) String() string {
	return string(s)
}

// IsValid checks if the batch status is valid
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusDraft, BatchStatusGenerated, BatchStatusSubmitted,
		BatchStatusProcessed, BatchStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusProcessed || s == BatchStatusFailed
}

// CanTransitionTo reports whether the lifecycle permits moving to the
// target status. This checks graph edges only; transition guards are
// enforced by the lifecycle manager.
func (s BatchStatus) CanTransitionTo(target BatchStatus) bool {
	switch s {
	case BatchStatusDraft:
		return target == BatchStatusGenerated
	case BatchStatusGenerated:
		return target == BatchStatusSubmitted
	case BatchStatusSubmitted:
		return target == BatchStatusProcessed || target == BatchStatusFailed
	}
	return false
}

// ParseBatchStatus parses and validates a batch status from string
func ParseBatchStatus(s string) (BatchStatus, error) {
	status := BatchStatus(strings.TrimSpace(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid batch status '%s': must be one of Draft, Generated, Submitted, Processed, Failed", s)
	}
	return status, nil
}

// EntryStatus represents the settlement state of a single collection entry
type EntryStatus string

const (
	EntryStatusPending    EntryStatus = "pending"
	EntryStatusSuccessful EntryStatus = "successful"
	EntryStatusFailed     EntryStatus = "failed"
)

// IsValid checks if the entry status is valid
func (s EntryStatus) IsValid() bool {
	return s == EntryStatusPending || s == EntryStatusSuccessful || s == EntryStatusFailed
}

// ValidationStatus marks whether an entry's bank identifiers passed validation
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
)

// Severity classifies how risky a detected duplicate conflict is
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	return s == SeverityMedium || s == SeverityHigh
}

// Resolution represents the operator decision on a conflict
type Resolution string

const (
	ResolutionUnresolved Resolution = "unresolved"
	ResolutionProceed    Resolution = "proceed"
	ResolutionMerge      Resolution = "merge"
	ResolutionExclude    Resolution = "exclude"
	ResolutionEscalate   Resolution = "escalate"
)

// IsValid checks if the resolution is valid
func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionUnresolved, ResolutionProceed, ResolutionMerge,
		ResolutionExclude, ResolutionEscalate:
		return true
	}
	return false
}

// IsDecision reports whether the resolution is an operator decision
// rather than the initial unresolved state
func (r Resolution) IsDecision() bool {
	return r.IsValid() && r != ResolutionUnresolved
}

// Blocking reports whether the resolution blocks batch generation
func (r Resolution) Blocking() bool {
	return r == ResolutionUnresolved || r == ResolutionEscalate
}

// ParseResolution parses and validates a resolution decision from string
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsDecision() {
		return "", fmt.Errorf("invalid resolution decision '%s': must be proceed, merge, exclude, or escalate", s)
	}
	return r, nil
}

// RiskLevel classifies the overall risk of collecting a batch
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Member represents a member record from the external member directory.
// The engine only reads members; it never owns or mutates them.
type Member struct {
	ID               string `json:"id"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Email            string `json:"email"`
	IBAN             string `json:"iban"`
	MemberType       string `json:"member_type"`
	IdentityVerified bool   `json:"identity_verified"`
}

// FullName returns the member's display name
func (m *Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// Validate performs basic validation on the Member
func (m *Member) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("member ID cannot be empty")
	}
	if m.FullName() == "" {
		return fmt.Errorf("member name cannot be empty")
	}
	return nil
}

// Invoice represents an unpaid invoice from the external invoice store
type Invoice struct {
	ID               string          `json:"id"`
	MemberID         string          `json:"member_id"`
	MemberName       string          `json:"member_name"`
	MemberType       string          `json:"member_type"`
	Amount           decimal.Decimal `json:"amount"`
	InvoiceDate      time.Time       `json:"invoice_date"`
	Status           string          `json:"status"`
	MandateReference string          `json:"mandate_reference"`
}

// Validate performs basic validation on the Invoice
func (i *Invoice) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("invoice ID cannot be empty")
	}
	if strings.TrimSpace(i.MemberID) == "" {
		return fmt.Errorf("invoice member reference cannot be empty")
	}
	if !i.Amount.IsPositive() {
		return fmt.Errorf("invoice amount must be positive, got %s", i.Amount.String())
	}
	if i.InvoiceDate.IsZero() {
		return fmt.Errorf("invoice date cannot be zero")
	}
	return nil
}

// EntryOverride records an explicit operator decision to include an entry
// that failed validation. Overrides are audited.
type EntryOverride struct {
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry represents one collection entry in a batch. Entries are owned by
// their batch and are discarded with it.
type Entry struct {
	InvoiceID        string           `json:"invoice_id"`
	MemberID         string           `json:"member_id"`
	MemberName       string           `json:"member_name"`
	Amount           decimal.Decimal  `json:"amount"`
	IBAN             string           `json:"iban"`
	BIC              string           `json:"bic,omitempty"`
	MandateReference string           `json:"mandate_reference"`
	Status           EntryStatus      `json:"status"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	ValidationIssues []string         `json:"validation_issues,omitempty"`
	Override         *EntryOverride   `json:"override,omitempty"`
	ResultCode       string           `json:"result_code,omitempty"`
	ResultMessage    string           `json:"result_message,omitempty"`
}

// Validate performs basic validation on the Entry
func (e *Entry) Validate() error {
	if strings.TrimSpace(e.InvoiceID) == "" {
		return fmt.Errorf("entry invoice reference cannot be empty")
	}
	if strings.TrimSpace(e.MemberID) == "" {
		return fmt.Errorf("entry member reference cannot be empty")
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("entry amount must be positive, got %s", e.Amount.String())
	}
	return nil
}

// Collectable reports whether the entry may be included in a generated
// batch: it either validated cleanly or carries an explicit override.
func (e *Entry) Collectable() bool {
	return e.ValidationStatus == ValidationValid || e.Override != nil
}

// Clone returns a deep copy of the entry
func (e *Entry) Clone() *Entry {
	clone := *e
	clone.ValidationIssues = append([]string(nil), e.ValidationIssues...)
	if e.Override != nil {
		override := *e.Override
		clone.Override = &override
	}
	return &clone
}

// Conflict represents a detected possible duplicate between a candidate
// member entering a batch and an existing member record. Both members are
// referenced, never owned.
type Conflict struct {
	ID               string     `json:"id"`
	BatchID          string     `json:"batch_id"`
	EntryIndex       int        `json:"entry_index"`
	NewMemberID      string     `json:"new_member_id"`
	ExistingMemberID string     `json:"existing_member_id"`
	Score            float64    `json:"score"`
	MatchReasons     []string   `json:"match_reasons"`
	Severity         Severity   `json:"severity"`
	Resolution       Resolution `json:"resolution"`
	ResolvedBy       string     `json:"resolved_by,omitempty"`
	ResolvedAt       time.Time  `json:"resolved_at,omitempty"`
}

// Clone returns a deep copy of the conflict
func (c *Conflict) Clone() *Conflict {
	clone := *c
	clone.MatchReasons = append([]string(nil), c.MatchReasons...)
	return &clone
}

// Batch represents a set of direct debit collection entries submitted
// together for one collection date. Entry order is insertion order and
// equals processing order.
type Batch struct {
	ID             string      `json:"id"`
	CreatedAt      time.Time   `json:"created_at"`
	CollectionDate time.Time   `json:"collection_date"`
	Currency       string      `json:"currency"`
	Status         BatchStatus `json:"status"`
	Entries        []*Entry    `json:"entries"`
	Conflicts      []*Conflict `json:"conflicts"`
	FileReference  string      `json:"file_reference,omitempty"`
	Log            []LogLine   `json:"log,omitempty"`
}

// LogLine is one human-readable line in a batch's processing log
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// TotalAmount returns the sum of the batch's entry amounts. The total is
// always derived, never stored, so it can never drift from the entries.
func (b *Batch) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, entry := range b.Entries {
		total = total.Add(entry.Amount)
	}
	return total
}

// EntryCount returns the number of entries in the batch
func (b *Batch) EntryCount() int {
	return len(b.Entries)
}

// BlockingConflicts returns the conflicts whose resolution state blocks
// batch generation (unresolved or escalated)
func (b *Batch) BlockingConflicts() []*Conflict {
	var blocking []*Conflict
	for _, conflict := range b.Conflicts {
		if conflict.Resolution.Blocking() {
			blocking = append(blocking, conflict)
		}
	}
	return blocking
}

// FindConflict returns the conflict with the given id, or nil
func (b *Batch) FindConflict(conflictID string) *Conflict {
	for _, conflict := range b.Conflicts {
		if conflict.ID == conflictID {
			return conflict
		}
	}
	return nil
}

// AppendLog adds a line to the batch's processing log
func (b *Batch) AppendLog(now time.Time, message string) {
	b.Log = append(b.Log, LogLine{Timestamp: now, Message: message})
}

// Clone returns a deep copy of the batch. Reads hand out clones so callers
// never observe a batch mid-mutation.
func (b *Batch) Clone() *Batch {
	clone := *b
	clone.Entries = make([]*Entry, len(b.Entries))
	for i, entry := range b.Entries {
		clone.Entries[i] = entry.Clone()
	}
	clone.Conflicts = make([]*Conflict, len(b.Conflicts))
	for i, conflict := range b.Conflicts {
		clone.Conflicts[i] = conflict.Clone()
	}
	clone.Log = append([]LogLine(nil), b.Log...)
	return &clone
}

// String returns a string representation of the Batch
func (b *Batch) String() string {
	return fmt.Sprintf("Batch{ID: %s, Status: %s, Entries: %d, Total: %s %s}",
		b.ID, b.Status, len(b.Entries), b.TotalAmount().String(), b.Currency)
}

// AuditLogEntry is one append-only record of a resolution or escalation
// decision. Audit entries are never mutated or deleted.
type AuditLogEntry struct {
	ID         string    `json:"id"`
	BatchID    string    `json:"batch_id"`
	ConflictID string    `json:"conflict_id,omitempty"`
	Decision   string    `json:"decision"`
	Actor      string    `json:"actor"`
	Timestamp  time.Time `json:"timestamp"`
}

// EntryResult is per-entry settlement feedback from the bank
type EntryResult struct {
	InvoiceID     string      `json:"invoice_id"`
	Status        EntryStatus `json:"status"`
	ResultCode    string      `json:"result_code,omitempty"`
	ResultMessage string      `json:"result_message,omitempty"`
}

// SettlementFeedback is the bank's acknowledgment for a submitted batch.
// Recording the same feedback twice must not duplicate side effects.
type SettlementFeedback struct {
	BatchID string        `json:"batch_id"`
	Results []EntryResult `json:"results"`
}
