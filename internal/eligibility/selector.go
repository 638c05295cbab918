// Package eligibility selects unpaid invoices into candidate batch entries.
//
// The selector pulls unpaid invoices from the external invoice store,
// attaches each invoice's member IBAN, and validates the bank identifiers.
// Entries that fail validation stay in the result set with their issues
// recorded; downstream components need to see them to raise warnings, so
// nothing is silently dropped.
package eligibility

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"direct-debit-engine/internal/bank"
	"direct-debit-engine/internal/models"
	"direct-debit-engine/pkg/errors"
	"direct-debit-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// Filters bound the invoice selection
type Filters struct {
	DateFrom   time.Time        `json:"date_from"`
	DateTo     time.Time        `json:"date_to"`
	MemberType string           `json:"member_type,omitempty"`
	AmountMin  *decimal.Decimal `json:"amount_min,omitempty"`
	AmountMax  *decimal.Decimal `json:"amount_max,omitempty"`
}

// Validate checks the filter bounds
func (f *Filters) Validate() error {
	if f.DateFrom.IsZero() || f.DateTo.IsZero() {
		return errors.ValidationError(errors.CodeInvalidFilter, "date_range", "both date_from and date_to are required")
	}
	if f.DateFrom.After(f.DateTo) {
		return errors.ValidationError(errors.CodeInvalidFilter, "date_range",
			fmt.Sprintf("%s after %s", f.DateFrom.Format("2006-01-02"), f.DateTo.Format("2006-01-02")))
	}
	if f.AmountMin != nil && f.AmountMin.IsNegative() {
		return errors.ValidationError(errors.CodeInvalidAmount, "amount_min", f.AmountMin.String())
	}
	if f.AmountMax != nil && f.AmountMax.IsNegative() {
		return errors.ValidationError(errors.CodeInvalidAmount, "amount_max", f.AmountMax.String())
	}
	if f.AmountMin != nil && f.AmountMax != nil && f.AmountMin.GreaterThan(*f.AmountMax) {
		return errors.ValidationError(errors.CodeInvalidFilter, "amount_range",
			fmt.Sprintf("min %s exceeds max %s", f.AmountMin.String(), f.AmountMax.String()))
	}
	return nil
}

// Matches reports whether an invoice satisfies the filters. Collaborator
// implementations backed by in-memory data share this predicate.
func (f *Filters) Matches(invoice *models.Invoice) bool {
	if invoice.InvoiceDate.Before(f.DateFrom) || invoice.InvoiceDate.After(f.DateTo) {
		return false
	}
	if f.MemberType != "" && invoice.MemberType != f.MemberType {
		return false
	}
	if f.AmountMin != nil && invoice.Amount.LessThan(*f.AmountMin) {
		return false
	}
	if f.AmountMax != nil && invoice.Amount.GreaterThan(*f.AmountMax) {
		return false
	}
	return true
}

// InvoiceStore is the external invoice persistence collaborator. The
// engine never writes invoices; it only reads the unpaid set.
type InvoiceStore interface {
	UnpaidInvoices(ctx context.Context, filters Filters) ([]*models.Invoice, error)
}

// MemberLookup resolves member records from the external member
// directory. A missing member yields (nil, nil), not an error.
type MemberLookup interface {
	Member(ctx context.Context, id string) (*models.Member, error)
}

// Selector builds candidate batch entries from unpaid invoices
type Selector struct {
	invoices InvoiceStore
	members  MemberLookup
	logger   logger.Logger
}

// NewSelector creates a new eligibility selector
func NewSelector(invoices InvoiceStore, members MemberLookup) *Selector {
	return &Selector{
		invoices: invoices,
		members:  members,
		logger:   logger.GetGlobalLogger().WithComponent("eligibility_selector"),
	}
}

// SelectEligible returns one candidate entry per unpaid invoice matching
// the filters. Entries with missing or invalid bank identifiers are
// flagged invalid, never dropped.
func (s *Selector) SelectEligible(ctx context.Context, filters Filters) ([]*models.Entry, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	invoices, err := s.invoices.UnpaidInvoices(ctx, filters)
	if err != nil {
		return nil, collaboratorError("invoice store", err)
	}

	entries := make([]*models.Entry, 0, len(invoices))
	flagged := 0

	for _, invoice := range invoices {
		entry, err := s.buildEntry(ctx, invoice)
		if err != nil {
			return nil, err
		}
		if entry.ValidationStatus == models.ValidationInvalid {
			flagged++
			s.logger.WithFields(logger.Fields{
				"invoice": entry.InvoiceID,
				"member":  entry.MemberID,
				"issues":  entry.ValidationIssues,
			}).Warn("Entry flagged invalid")
		}
		entries = append(entries, entry)
	}

	s.logger.WithFields(logger.Fields{
		"selected": len(entries),
		"flagged":  flagged,
	}).Info("Selected eligible invoices")

	return entries, nil
}

// buildEntry attaches the member's IBAN and validates bank identifiers.
// Validation defects degrade the entry, they never abort the selection.
func (s *Selector) buildEntry(ctx context.Context, invoice *models.Invoice) (*models.Entry, error) {
	entry := &models.Entry{
		InvoiceID:        invoice.ID,
		MemberID:         invoice.MemberID,
		MemberName:       invoice.MemberName,
		Amount:           invoice.Amount,
		MandateReference: invoice.MandateReference,
		Status:           models.EntryStatusPending,
		ValidationStatus: models.ValidationValid,
	}

	member, err := s.members.Member(ctx, invoice.MemberID)
	if err != nil {
		return nil, collaboratorError("member directory", err)
	}

	var issues []string

	if member == nil {
		issues = append(issues, "member record not found")
	} else {
		if entry.MemberName == "" {
			entry.MemberName = member.FullName()
		}
		entry.IBAN = bank.Normalize(member.IBAN)
	}

	switch {
	case entry.IBAN == "":
		issues = append(issues, "missing IBAN")
	default:
		if _, err := bank.ValidateIBAN(entry.IBAN); err != nil {
			issues = append(issues, "invalid IBAN")
		} else {
			entry.BIC = bank.DeriveBIC(entry.IBAN)
		}
	}

	if entry.MandateReference == "" {
		issues = append(issues, "missing mandate reference")
	}

	if len(issues) > 0 {
		entry.ValidationStatus = models.ValidationInvalid
		entry.ValidationIssues = issues
	}

	return entry, nil
}

// collaboratorError maps a collaborator failure onto the engine's error
// model. Deadline expiry surfaces as a retryable CollaboratorTimeout.
func collaboratorError(collaborator string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.CollaboratorTimeout(collaborator, err)
	}
	return errors.Wrap(err, errors.CategoryCollaborator, errors.CodeUnavailable,
		fmt.Sprintf("%s call failed", collaborator))
}
