// Package dedup implements the duplicate member detection engine.
//
// Before a batch collects money it must not debit the same person twice
// under two member records. The engine compares each batch entry's member
// against the existing member directory, handling the imperfections of
// real registration data:
//   - Shared bank accounts across household members
//   - Name variants, diacritics and inconsistent casing
//   - Email aliases and shared family addresses
//   - Configurable weights and severity thresholds
//
// Detection uses a multi-stage approach:
//  1. Candidate selection using indexed lookups
//  2. Scoring on IBAN, name and email similarity
//  3. Severity classification against the configured thresholds
//  4. Deterministic ordering of the resulting conflicts
//
// Example usage:
//
//	config := dedup.DefaultDetectionConfig()
//	config.MediumThreshold = 0.5
//
//	engine := dedup.NewDetectionEngine(config)
//	engine.LoadDirectory(members)
//
//	conflicts, err := engine.DetectConflicts(ctx, batchID, entries)
package dedup

import (
	"fmt"
)

// HighSeverityThreshold is the similarity score at and above which a
// conflict is classified high severity. Unlike the medium threshold it is
// not configurable; a high score means the records are close enough that
// collecting without review is unsafe regardless of operator preference.
const HighSeverityThreshold = 0.8

// DetectionConfig holds configuration parameters for duplicate detection.
// The weights control how much each identity signal contributes to the
// similarity score; the medium threshold controls how aggressively weak
// matches are surfaced for review.
type DetectionConfig struct {
	// MediumThreshold is the minimum score for a medium severity conflict.
	// Must be at least 0.4 and strictly below the high severity threshold.
	MediumThreshold float64 `json:"medium_threshold"`

	// MaxConcurrency bounds the number of entries scored in parallel
	MaxConcurrency int `json:"max_concurrency"`

	// SkipVerifiedMembers excludes identity-verified directory records
	// from candidate selection
	SkipVerifiedMembers bool `json:"skip_verified_members"`

	// Weights define the relative importance of each identity signal
	Weights SimilarityWeights `json:"weights"`
}

// SimilarityWeights defines the relative importance of identity signals.
// The score of a candidate pair is the weighted sum, accumulated in fixed
// field order (IBAN, name, email) so repeated runs produce bit-identical
// scores.
type SimilarityWeights struct {
	IBANWeight  float64 `json:"iban_weight"`
	NameWeight  float64 `json:"name_weight"`
	EmailWeight float64 `json:"email_weight"`
}

// DefaultDetectionConfig returns a configuration with sensible defaults
func DefaultDetectionConfig() *DetectionConfig {
	return &DetectionConfig{
		MediumThreshold:     0.4,
		MaxConcurrency:      4,
		SkipVerifiedMembers: true,
		Weights: SimilarityWeights{
			IBANWeight:  0.5,
			NameWeight:  0.35,
			EmailWeight: 0.15,
		},
	}
}

// StrictDetectionConfig returns a configuration that surfaces fewer,
// stronger conflicts for operators who review every one
func StrictDetectionConfig() *DetectionConfig {
	return &DetectionConfig{
		MediumThreshold:     0.6,
		MaxConcurrency:      4,
		SkipVerifiedMembers: true,
		Weights: SimilarityWeights{
			IBANWeight:  0.5,
			NameWeight:  0.35,
			EmailWeight: 0.15,
		},
	}
}

// Validate checks if the detection configuration is valid
func (dc *DetectionConfig) Validate() error {
	if dc.MediumThreshold < 0.4 {
		return fmt.Errorf("medium threshold must be at least 0.4: %f", dc.MediumThreshold)
	}

	if dc.MediumThreshold >= HighSeverityThreshold {
		return fmt.Errorf("medium threshold must be below %0.1f: %f", HighSeverityThreshold, dc.MediumThreshold)
	}

	if dc.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive: %d", dc.MaxConcurrency)
	}

	if err := dc.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}

	return nil
}

// Validate checks if the similarity weights are valid
func (sw *SimilarityWeights) Validate() error {
	if sw.IBANWeight < 0.0 || sw.IBANWeight > 1.0 {
		return fmt.Errorf("IBAN weight must be between 0.0 and 1.0: %f", sw.IBANWeight)
	}

	if sw.NameWeight < 0.0 || sw.NameWeight > 1.0 {
		return fmt.Errorf("name weight must be between 0.0 and 1.0: %f", sw.NameWeight)
	}

	if sw.EmailWeight < 0.0 || sw.EmailWeight > 1.0 {
		return fmt.Errorf("email weight must be between 0.0 and 1.0: %f", sw.EmailWeight)
	}

	// Weights should sum to approximately 1.0 (allow some tolerance)
	total := sw.IBANWeight + sw.NameWeight + sw.EmailWeight
	if total < 0.9 || total > 1.1 {
		return fmt.Errorf("weights should sum to approximately 1.0, got %f", total)
	}

	return nil
}

// Clone creates a deep copy of the detection configuration
func (dc *DetectionConfig) Clone() *DetectionConfig {
	if dc == nil {
		return nil
	}

	return &DetectionConfig{
		MediumThreshold:     dc.MediumThreshold,
		MaxConcurrency:      dc.MaxConcurrency,
		SkipVerifiedMembers: dc.SkipVerifiedMembers,
		Weights: SimilarityWeights{
			IBANWeight:  dc.Weights.IBANWeight,
			NameWeight:  dc.Weights.NameWeight,
			EmailWeight: dc.Weights.EmailWeight,
		},
	}
}

// String returns a human-readable description of the configuration
func (dc *DetectionConfig) String() string {
	return fmt.Sprintf("DetectionConfig{MediumThreshold: %.2f, MaxConcurrency: %d, Weights: iban=%.2f name=%.2f email=%.2f}",
		dc.MediumThreshold, dc.MaxConcurrency,
		dc.Weights.IBANWeight, dc.Weights.NameWeight, dc.Weights.EmailWeight)
}
