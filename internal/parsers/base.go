// Package parsers reads the engine's collaborator data from CSV exports.
//
// The invoice store and member directory are external systems; in the CLI
// they are represented by CSV exports of unpaid invoices and member records.
// Parsing is lenient per record: a malformed row is collected as a parse
// error and skipped, it never aborts the whole file.
package parsers

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"direct-debit-engine/pkg/logger"
)

// ParseError represents an error that occurred during CSV parsing
type ParseError struct {
	Line    int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error at line %d (%s='%s'): %s: %v",
			e.Line, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("parse error at line %d (%s='%s'): %s",
		e.Line, e.Field, e.Value, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
	}
}

// baseParser provides common CSV parsing functionality for the concrete
// invoice and member parsers
type baseParser struct {
	config *ParseConfig
	logger logger.Logger
}

func newBaseParser(config *ParseConfig, component string) *baseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	return &baseParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent(component),
	}
}

// openFile opens a CSV file and returns a configured csv.Reader
func (bp *baseParser) openFile(filePath string) (*os.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", filePath, err)
	}

	reader := csv.NewReader(file)
	reader.Comma = bp.config.Delimiter
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1

	return file, reader, nil
}

// headerMap builds a column-name-to-index map from a header row, applying
// the given aliases and lowercasing names for case-insensitive lookup
func headerMap(header []string, aliases map[string]string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := aliases[name]; ok {
			name = canonical
		}
		columns[name] = i
	}
	return columns
}

// field returns the named column's value from a record, or an empty string
// when the column is absent or the record is short
func field(record []string, columns map[string]int, name string) string {
	index, ok := columns[name]
	if !ok || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// emptyRow reports whether every field of a record is blank
func emptyRow(record []string) bool {
	for _, value := range record {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}
