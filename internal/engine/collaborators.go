package engine

import (
	"context"
	"strings"

	"direct-debit-engine/internal/eligibility"
	"direct-debit-engine/internal/models"
)

// MemoryInvoiceStore serves unpaid invoices from an in-memory snapshot.
// The CLI loads a CSV export of the external invoice store into one of
// these; tests use it directly.
type MemoryInvoiceStore struct {
	invoices []*models.Invoice
}

// NewMemoryInvoiceStore creates a store over the given invoices
func NewMemoryInvoiceStore(invoices []*models.Invoice) *MemoryInvoiceStore {
	return &MemoryInvoiceStore{invoices: invoices}
}

// UnpaidInvoices returns the unpaid invoices matching the filters
func (m *MemoryInvoiceStore) UnpaidInvoices(ctx context.Context, filters eligibility.Filters) ([]*models.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matched []*models.Invoice
	for _, invoice := range m.invoices {
		if !isUnpaid(invoice.Status) {
			continue
		}
		if filters.Matches(invoice) {
			matched = append(matched, invoice)
		}
	}
	return matched, nil
}

func isUnpaid(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "unpaid", "overdue", "":
		return true
	}
	return false
}

// MemoryMemberDirectory resolves member records from an in-memory
// snapshot of the external member directory
type MemoryMemberDirectory struct {
	byID map[string]*models.Member
	all  []*models.Member
}

// NewMemoryMemberDirectory creates a directory over the given members
func NewMemoryMemberDirectory(members []*models.Member) *MemoryMemberDirectory {
	directory := &MemoryMemberDirectory{
		byID: make(map[string]*models.Member, len(members)),
		all:  members,
	}
	for _, member := range members {
		if member != nil && member.ID != "" {
			directory.byID[member.ID] = member
		}
	}
	return directory
}

// Member returns the member with the given id, or nil when unknown
func (m *MemoryMemberDirectory) Member(ctx context.Context, id string) (*models.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.byID[id], nil
}

// Members returns the full directory snapshot for duplicate detection
func (m *MemoryMemberDirectory) Members() []*models.Member {
	return m.all
}
