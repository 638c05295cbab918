package parsers

import (
	"io"
	"strings"

	"direct-debit-engine/internal/models"
)

// memberColumnAliases maps common export column names to canonical ones
var memberColumnAliases = map[string]string{
	"id":         "member_id",
	"member":     "member_id",
	"name":       "member_id",
	"firstname":  "first_name",
	"lastname":   "last_name",
	"surname":    "last_name",
	"mail":       "email",
	"email_id":   "email",
	"account":    "iban",
	"bank_iban":  "iban",
	"type":       "member_type",
	"verified":   "identity_verified",
	"is_unique":  "identity_verified",
	"unique_ok":  "identity_verified",
}

// MemberParser reads member records from a CSV export of the external
// member directory
type MemberParser struct {
	*baseParser
}

// NewMemberParser creates a new member parser
func NewMemberParser(config *ParseConfig) *MemberParser {
	return &MemberParser{baseParser: newBaseParser(config, "member_parser")}
}

// ParseMembers reads all member records from the given file. Malformed
// rows are returned as parse errors alongside the parsed members.
func (p *MemberParser) ParseMembers(filePath string) ([]*models.Member, []*ParseError, error) {
	file, reader, err := p.openFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	var members []*models.Member
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
			columns = headerMap(record, memberColumnAliases)
			continue
		}
		if columns == nil {
			columns = defaultMemberColumns(len(record))
		}
		if p.config.SkipEmptyRows && emptyRow(record) {
			continue
		}

		member := &models.Member{
			ID:               field(record, columns, "member_id"),
			FirstName:        field(record, columns, "first_name"),
			LastName:         field(record, columns, "last_name"),
			Email:            field(record, columns, "email"),
			IBAN:             field(record, columns, "iban"),
			MemberType:       field(record, columns, "member_type"),
			IdentityVerified: parseBool(field(record, columns, "identity_verified")),
		}

		if err := member.Validate(); err != nil {
			parseErrors = append(parseErrors, &ParseError{
				Line: line, Field: "member_id", Value: member.ID,
				Message: "invalid member record", Err: err,
			})
			continue
		}

		members = append(members, member)
	}

	p.logger.WithFields(map[string]interface{}{
		"file_path": filePath,
		"members":   len(members),
		"errors":    len(parseErrors),
	}).Info("Parsed member export")

	return members, parseErrors, nil
}

// defaultMemberColumns assumes positional columns when no header exists
func defaultMemberColumns(width int) map[string]int {
	names := []string{
		"member_id", "first_name", "last_name", "email",
		"iban", "member_type", "identity_verified",
	}
	columns := make(map[string]int)
	for i, name := range names {
		if i < width {
			columns[name] = i
		}
	}
	return columns
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
