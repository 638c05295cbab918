// Package config assembles component configurations for the CLI
package config

import (
	"direct-debit-engine/internal/dedup"
	"direct-debit-engine/internal/parsers"
	"direct-debit-engine/internal/reporter"
)

// CreateParseConfig creates the CSV parse configuration used for both the
// invoice and member exports
func CreateParseConfig() *parsers.ParseConfig {
	config := parsers.DefaultParseConfig()
	config.HasHeader = true
	config.SkipEmptyRows = true
	return config
}

// CreateDetectionConfig creates a duplicate detection configuration with
// the CLI overrides applied
func CreateDetectionConfig(mediumThreshold float64, maxConcurrency int) *dedup.DetectionConfig {
	config := dedup.DefaultDetectionConfig()

	if mediumThreshold > 0 {
		config.MediumThreshold = mediumThreshold
	}
	if maxConcurrency > 0 {
		config.MaxConcurrency = maxConcurrency
	}

	return config
}

// CreateReportConfig creates a report configuration for the specified
// output format
func CreateReportConfig(format string) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()

	switch format {
	case "json":
		config.Format = reporter.FormatJSON
		config.IncludeConflicts = true
		config.IncludeAuditTrail = true
	case "csv":
		config.Format = reporter.FormatCSV
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	default:
		config.Format = reporter.FormatConsole
		config.IncludeEntries = true
		config.IncludeConflicts = true
	}

	return config
}
