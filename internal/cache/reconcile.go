package cache

import (
	"sort"

	"github.com/iago/section-writer-back/internal/domain"
)

// SyncResult is the reconciled section map for one session.
type SyncResult struct {
	Sections map[string]domain.SectionRecord
	// Stale lists titles whose cached copy was newer than the database row
	// and was overridden anyway.
	Stale []string
	// Updated lists titles whose cached copy changed.
	Updated []string
}

// Reconcile merges database rows over the cached sections. The database always
// wins for titles it holds; cached titles it does not hold are kept.
func Reconcile(known map[string]domain.SectionRecord, remote []domain.SectionRecord) SyncResult {
	result := SyncResult{
		Sections: make(map[string]domain.SectionRecord, len(known)+len(remote)),
		Stale:    []string{},
		Updated:  []string{},
	}
	for title, record := range known {
		result.Sections[title] = record
	}

	for _, row := range remote {
		cached, ok := known[row.Title]
		switch {
		case !ok:
			result.Updated = append(result.Updated, row.Title)
		case row.UpdatedAt.Before(cached.UpdatedAt):
			result.Stale = append(result.Stale, row.Title)
			result.Updated = append(result.Updated, row.Title)
		case cached.Content != row.Content || !cached.UpdatedAt.Equal(row.UpdatedAt):
			result.Updated = append(result.Updated, row.Title)
		}
		if row.Source == "" {
			row.Source = domain.SectionSourceDB
		}
		if ok && cached.Content == row.Content && cached.UpdatedAt.Equal(row.UpdatedAt) {
			row.Source = cached.Source
		}
		result.Sections[row.Title] = row
	}

	sort.Strings(result.Stale)
	sort.Strings(result.Updated)
	return result
}
