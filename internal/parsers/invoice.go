package parsers

import (
	"fmt"
	"io"
	"strings"
	"time"

	"direct-debit-engine/internal/models"

	"github.com/shopspring/decimal"
)

// invoiceColumnAliases maps common export column names to canonical ones
var invoiceColumnAliases = map[string]string{
	"id":           "invoice_id",
	"invoice":      "invoice_id",
	"name":         "invoice_id",
	"member":       "member_id",
	"amt":          "amount",
	"outstanding":  "amount",
	"posting_date": "invoice_date",
	"date":         "invoice_date",
	"mandate":      "mandate_reference",
	"mandate_ref":  "mandate_reference",
	"type":         "member_type",
}

// invoiceDateFormats lists the date layouts accepted in invoice exports
var invoiceDateFormats = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02-01-2006",
}

// InvoiceParser reads unpaid invoice records from a CSV export of the
// external invoice store
type InvoiceParser struct {
	*baseParser
}

// NewInvoiceParser creates a new invoice parser
func NewInvoiceParser(config *ParseConfig) *InvoiceParser {
	return &InvoiceParser{baseParser: newBaseParser(config, "invoice_parser")}
}

// ParseInvoices reads all invoice records from the given file. Malformed
// rows are returned as parse errors alongside the successfully parsed
// invoices; they never abort the file.
func (p *InvoiceParser) ParseInvoices(filePath string) ([]*models.Invoice, []*ParseError, error) {
	file, reader, err := p.openFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	var invoices []*models.Invoice
	var parseErrors []*ParseError
	var columns map[string]int

	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			parseErrors = append(parseErrors, &ParseError{
				Line: line, Message: "malformed CSV row", Err: err,
			})
			continue
		}

		if line == 1 && p.config.HasHeader {
			columns = headerMap(record, invoiceColumnAliases)
			continue
		}
		if columns == nil {
			columns = defaultInvoiceColumns(len(record))
		}
		if p.config.SkipEmptyRows && emptyRow(record) {
			continue
		}

		invoice, parseErr := p.parseRecord(record, columns, line)
		if parseErr != nil {
			parseErrors = append(parseErrors, parseErr)
			continue
		}
		invoices = append(invoices, invoice)
	}

	p.logger.WithFields(map[string]interface{}{
		"file_path": filePath,
		"invoices":  len(invoices),
		"errors":    len(parseErrors),
	}).Info("Parsed invoice export")

	return invoices, parseErrors, nil
}

// defaultInvoiceColumns assumes positional columns when no header exists
func defaultInvoiceColumns(width int) map[string]int {
	names := []string{
		"invoice_id", "member_id", "member_name", "member_type",
		"amount", "invoice_date", "status", "mandate_reference",
	}
	columns := make(map[string]int)
	for i, name := range names {
		if i < width {
			columns[name] = i
		}
	}
	return columns
}

func (p *InvoiceParser) parseRecord(record []string, columns map[string]int, line int) (*models.Invoice, *ParseError) {
	amountStr := field(record, columns, "amount")
	amount, err := parseAmount(amountStr)
	if err != nil {
		return nil, &ParseError{Line: line, Field: "amount", Value: amountStr,
			Message: "invalid amount", Err: err}
	}

	dateStr := field(record, columns, "invoice_date")
	invoiceDate, err := parseDate(dateStr, invoiceDateFormats)
	if err != nil {
		return nil, &ParseError{Line: line, Field: "invoice_date", Value: dateStr,
			Message: "invalid invoice date", Err: err}
	}

	invoice := &models.Invoice{
		ID:               field(record, columns, "invoice_id"),
		MemberID:         field(record, columns, "member_id"),
		MemberName:       field(record, columns, "member_name"),
		MemberType:       field(record, columns, "member_type"),
		Amount:           amount,
		InvoiceDate:      invoiceDate,
		Status:           field(record, columns, "status"),
		MandateReference: field(record, columns, "mandate_reference"),
	}
	if invoice.Status == "" {
		invoice.Status = "Unpaid"
	}

	if err := invoice.Validate(); err != nil {
		return nil, &ParseError{Line: line, Field: "invoice_id", Value: invoice.ID,
			Message: "invalid invoice record", Err: err}
	}

	return invoice, nil
}

// parseAmount parses a decimal amount, tolerating currency symbols and
// thousand separators found in real exports
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount cannot be empty")
	}

	s = strings.ReplaceAll(s, "€", "")
	s = strings.ReplaceAll(s, "EUR", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	return amount, nil
}

// parseDate attempts the given layouts in order
func parseDate(s string, formats []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date cannot be empty")
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}
