package dedup

import (
	"strings"

	"direct-debit-engine/internal/models"
)

// DirectoryIndex provides indexed access to the member directory snapshot
// used during detection. The index is built once per detection run and
// read concurrently by the scoring workers; it is never mutated after
// construction.
type DirectoryIndex struct {
	// AllMembers holds every indexed member in load order
	AllMembers []*models.Member

	byID   map[string]*models.Member
	byIBAN map[string][]*models.Member
}

// NewDirectoryIndex creates an index over the given member records.
// Records without an ID are skipped; they cannot be referenced by a
// conflict and would only produce unresolvable review items.
func NewDirectoryIndex(members []*models.Member) *DirectoryIndex {
	index := &DirectoryIndex{
		AllMembers: make([]*models.Member, 0, len(members)),
		byID:       make(map[string]*models.Member, len(members)),
		byIBAN:     make(map[string][]*models.Member),
	}

	for _, member := range members {
		if member == nil || member.ID == "" {
			continue
		}
		index.AllMembers = append(index.AllMembers, member)
		index.byID[member.ID] = member

		if iban := normalizeIBANKey(member.IBAN); iban != "" {
			index.byIBAN[iban] = append(index.byIBAN[iban], member)
		}
	}

	return index
}

// ByID returns the member with the given ID, or nil
func (di *DirectoryIndex) ByID(id string) *models.Member {
	return di.byID[id]
}

// ByIBAN returns all members registered with the given account
func (di *DirectoryIndex) ByIBAN(iban string) []*models.Member {
	return di.byIBAN[normalizeIBANKey(iban)]
}

// Size returns the number of indexed members
func (di *DirectoryIndex) Size() int {
	return len(di.AllMembers)
}

// SharedAccountCount returns the number of accounts used by more than one
// member. Useful as a quick health signal on the directory data.
func (di *DirectoryIndex) SharedAccountCount() int {
	shared := 0
	for _, members := range di.byIBAN {
		if len(members) > 1 {
			shared++
		}
	}
	return shared
}

func normalizeIBANKey(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(iban), " ", ""))
}
