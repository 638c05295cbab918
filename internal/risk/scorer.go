// Package risk classifies batches by how much operator attention they
// deserve before money moves.
//
// The score is an ordinal indicator, not a probability. Factors are
// additive and may exceed 1.0; only the relative ordering and the level
// thresholds matter. Scoring is pure and recomputed on every read, so a
// stored level can never go stale against its inputs.
package risk

import (
	"fmt"

	"direct-debit-engine/internal/models"

	"github.com/shopspring/decimal"
)

// Scoring factors and level thresholds
const (
	largeAmountFactor   = 0.3
	largeBatchFactor    = 0.2
	hasConflictsFactor  = 0.4
	failedStatusFactor  = 0.5

	highLevelThreshold   = 0.7
	mediumLevelThreshold = 0.4

	largeBatchEntryCount = 100
)

// largeAmountThreshold is the total above which a batch counts as a
// large collection
var largeAmountThreshold = decimal.NewFromInt(10000)

// Assessment is the result of scoring one batch
type Assessment struct {
	Score   float64          `json:"score"`
	Level   models.RiskLevel `json:"level"`
	Factors []string         `json:"factors,omitempty"`
}

// ScoreBatch computes the batch's risk assessment from its current
// amounts, entry count, conflicts and status. The function reads the
// batch and touches nothing else.
func ScoreBatch(batch *models.Batch) Assessment {
	assessment := Assessment{Level: models.RiskLow}
	if batch == nil {
		return assessment
	}

	if batch.TotalAmount().GreaterThan(largeAmountThreshold) {
		assessment.Score += largeAmountFactor
		assessment.Factors = append(assessment.Factors,
			fmt.Sprintf("total amount %s exceeds %s", batch.TotalAmount().StringFixed(2), largeAmountThreshold.StringFixed(2)))
	}

	if batch.EntryCount() > largeBatchEntryCount {
		assessment.Score += largeBatchFactor
		assessment.Factors = append(assessment.Factors,
			fmt.Sprintf("%d entries exceed %d", batch.EntryCount(), largeBatchEntryCount))
	}

	if len(batch.Conflicts) > 0 {
		assessment.Score += hasConflictsFactor
		assessment.Factors = append(assessment.Factors,
			fmt.Sprintf("%d duplicate conflicts detected", len(batch.Conflicts)))
	}

	if batch.Status == models.BatchStatusFailed {
		assessment.Score += failedStatusFactor
		assessment.Factors = append(assessment.Factors, "batch previously failed")
	}

	assessment.Level = classify(assessment.Score)
	return assessment
}

func classify(score float64) models.RiskLevel {
	switch {
	case score >= highLevelThreshold:
		return models.RiskHigh
	case score >= mediumLevelThreshold:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
