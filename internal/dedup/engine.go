package dedup

import (
	"context"
	"fmt"
	"sort"

	"direct-debit-engine/internal/models"
	"direct-debit-engine/pkg/errors"
	"direct-debit-engine/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DetectionEngine scores batch entries against the member directory and
// produces review conflicts for likely duplicate members
type DetectionEngine struct {
	Config *DetectionConfig
	Index  *DirectoryIndex

	logger logger.Logger
}

// candidateScore is the outcome of comparing one entry against one
// directory record
type candidateScore struct {
	member  *models.Member
	score   float64
	reasons []string
}

// NewDetectionEngine creates a new detection engine with the specified
// configuration
func NewDetectionEngine(config *DetectionConfig) *DetectionEngine {
	if config == nil {
		config = DefaultDetectionConfig()
	}

	return &DetectionEngine{
		Config: config,
		logger: logger.GetGlobalLogger().WithComponent("dedup_engine"),
	}
}

// LoadDirectory loads the member directory snapshot and builds indexes
func (de *DetectionEngine) LoadDirectory(members []*models.Member) {
	de.Index = NewDirectoryIndex(members)

	de.logger.WithFields(logger.Fields{
		"members":         de.Index.Size(),
		"shared_accounts": de.Index.SharedAccountCount(),
	}).Debug("Member directory indexed")
}

// DetectConflicts compares every entry's member against the directory and
// returns the conflicts at or above the medium threshold.
//
// Entries are scored in parallel, bounded by MaxConcurrency. The result
// is independent of scheduling: per-entry results land in fixed slots and
// the flattened list is ordered by entry position, then existing member
// ID. Scoring the same batch against the same directory twice yields
// identical scores and ordering.
func (de *DetectionEngine) DetectConflicts(ctx context.Context, batchID string, entries []*models.Entry) ([]*models.Conflict, error) {
	if de.Index == nil {
		return nil, errors.New(errors.CategoryInternal, errors.CodeUnexpectedError,
			"member directory must be loaded before detection")
	}

	perEntry := make([][]*models.Conflict, len(entries))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(de.Config.MaxConcurrency)

	for i, entry := range entries {
		i, entry := i, entry
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			perEntry[i] = de.scoreEntry(batchID, i, entry)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.CollaboratorTimeout("duplicate detection", ctx.Err())
		}
		return nil, err
	}

	var conflicts []*models.Conflict
	for _, entryConflicts := range perEntry {
		conflicts = append(conflicts, entryConflicts...)
	}

	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].EntryIndex != conflicts[j].EntryIndex {
			return conflicts[i].EntryIndex < conflicts[j].EntryIndex
		}
		return conflicts[i].ExistingMemberID < conflicts[j].ExistingMemberID
	})

	de.logger.WithFields(logger.Fields{
		"batch_id":  batchID,
		"entries":   len(entries),
		"conflicts": len(conflicts),
	}).Info("Duplicate detection completed")

	return conflicts, nil
}

// scoreEntry compares one entry against every eligible directory record
func (de *DetectionEngine) scoreEntry(batchID string, entryIndex int, entry *models.Entry) []*models.Conflict {
	subjectName := entry.MemberName
	subjectIBAN := entry.IBAN
	subjectEmail := ""

	if member := de.Index.ByID(entry.MemberID); member != nil {
		if subjectName == "" {
			subjectName = member.FullName()
		}
		if subjectIBAN == "" {
			subjectIBAN = member.IBAN
		}
		subjectEmail = member.Email
	}

	var conflicts []*models.Conflict

	for _, candidate := range de.Index.AllMembers {
		if candidate.ID == entry.MemberID {
			continue
		}
		if de.Config.SkipVerifiedMembers && candidate.IdentityVerified {
			continue
		}

		result := de.scoreCandidate(subjectIBAN, subjectName, subjectEmail, candidate)
		severity, ok := de.classify(result.score)
		if !ok {
			continue
		}

		conflicts = append(conflicts, &models.Conflict{
			ID:               uuid.NewString(),
			BatchID:          batchID,
			EntryIndex:       entryIndex,
			NewMemberID:      entry.MemberID,
			ExistingMemberID: candidate.ID,
			Score:            result.score,
			MatchReasons:     result.reasons,
			Severity:         severity,
			Resolution:       models.ResolutionUnresolved,
		})
	}

	return conflicts
}

// scoreCandidate computes the weighted similarity of one pair. The
// contributions accumulate in fixed field order (IBAN, name, email) so
// the floating point result is reproducible.
func (de *DetectionEngine) scoreCandidate(iban, name, email string, candidate *models.Member) candidateScore {
	weights := de.Config.Weights

	result := candidateScore{member: candidate}

	ibanScore := ibanSimilarity(iban, candidate.IBAN)
	result.score = weights.IBANWeight * ibanScore
	if ibanScore == 1.0 {
		result.reasons = append(result.reasons, "identical IBAN")
	}

	nameScore := nameSimilarity(name, candidate.FullName())
	result.score += weights.NameWeight * nameScore
	if nameScore >= 0.5 {
		result.reasons = append(result.reasons, fmt.Sprintf("name similarity %d%%", int(nameScore*100)))
	}

	emailScore := emailSimilarity(email, candidate.Email)
	result.score += weights.EmailWeight * emailScore
	switch emailScore {
	case emailExactScore:
		result.reasons = append(result.reasons, "identical email")
	case emailSameLocalScore:
		result.reasons = append(result.reasons, "matching email name")
	case emailNearMatchScore:
		result.reasons = append(result.reasons, "similar email")
	}

	// Validate tolerates weight sums slightly above 1.0; the score itself
	// is defined on [0.0, 1.0]
	if result.score > 1.0 {
		result.score = 1.0
	}

	return result
}

// classify maps a score to a conflict severity. Scores below the medium
// threshold produce no conflict at all.
func (de *DetectionEngine) classify(score float64) (models.Severity, bool) {
	switch {
	case score >= HighSeverityThreshold:
		return models.SeverityHigh, true
	case score >= de.Config.MediumThreshold:
		return models.SeverityMedium, true
	default:
		return "", false
	}
}
