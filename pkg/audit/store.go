package audit

import (
	"context"
	"sort"
)

// Source is a read-only view of the audit trail
type Source interface {
	// Search returns entries matching filter, newest first unless SortOrder is "asc"
	Search(ctx context.Context, filter SearchFilter) ([]*Entry, error)

	// GetStats summarizes entries matching filter. Pagination is ignored.
	GetStats(ctx context.Context, filter SearchFilter) (*Stats, error)
}

var _ Source = (*Reader)(nil)

// Matches reports whether e satisfies the conditions of filter. Pagination and
// ordering are ignored.
func Matches(e *Entry, filter SearchFilter) bool {
	if filter.StartTime != nil && e.CreatedAt.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && e.CreatedAt.After(*filter.EndTime) {
		return false
	}
	if filter.ActorID != nil && (e.ActorID == nil || *e.ActorID != *filter.ActorID) {
		return false
	}
	if filter.TenantID != nil && (e.Meta.TenantID == nil || *e.Meta.TenantID != *filter.TenantID) {
		return false
	}
	if len(filter.Actions) > 0 && !containsAction(filter.Actions, e.Action) {
		return false
	}
	if filter.SubjectType != "" && e.SubjectType != filter.SubjectType {
		return false
	}
	if filter.SubjectID != "" && e.SubjectID != filter.SubjectID {
		return false
	}
	if filter.RequestID != "" && e.Meta.RequestID != filter.RequestID {
		return false
	}
	return true
}

// Query applies filter to entries in memory with the same semantics as Reader
func Query(entries []*Entry, filter SearchFilter) []*Entry {
	out := make([]*Entry, 0)
	for _, e := range entries {
		if Matches(e, filter) {
			out = append(out, e)
		}
	}

	asc := filter.SortOrder == "asc"
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return out[:0]
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out
}

// Summarize computes stats over entries matching filter
func Summarize(entries []*Entry, filter SearchFilter) *Stats {
	stats := &Stats{EntriesByAction: make(map[Action]int64)}
	actors := make(map[int64]struct{})
	for _, e := range entries {
		if !Matches(e, filter) {
			continue
		}
		stats.TotalEntries++
		stats.EntriesByAction[e.Action]++
		if e.ActorID == nil {
			stats.SystemEntries++
		} else {
			actors[*e.ActorID] = struct{}{}
		}
		if e.Meta.Impersonated {
			stats.Impersonated++
		}
	}
	stats.UniqueActors = int64(len(actors))
	return stats
}

func containsAction(actions []Action, a Action) bool {
	for _, candidate := range actions {
		if candidate == a {
			return true
		}
	}
	return false
}
