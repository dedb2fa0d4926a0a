package matrix

import (
	"fmt"
	"sort"

	"creative-matrix/internal/models"
)

// SortMode selects the primary ordering key.
type SortMode string

const (
	SortScore     SortMode = "score"
	SortFavourite SortMode = "favourite"
	SortDate      SortMode = "date"
)

// ParseSortMode validates a sort mode string. Empty defaults to date.
func ParseSortMode(s string) (SortMode, error) {
	switch SortMode(s) {
	case SortScore, SortFavourite, SortDate:
		return SortMode(s), nil
	case "":
		return SortDate, nil
	}
	return "", fmt.Errorf("unknown sort mode %q", s)
}

// Order returns a new slice sorted by the layered comparator: the primary key
// chosen by mode, then completed before any other status, then descending
// progress within a shared status, with the incoming order as the final
// tiebreak. The sort is stable, so finished work always surfaces above
// in-progress work regardless of the primary key the caller picked.
func Order(combos []*models.Combination, mode SortMode) []*models.Combination {
	out := make([]*models.Combination, len(combos))
	copy(out, combos)
	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i], out[j], mode)
	})
	return out
}

func less(a, b *models.Combination, mode SortMode) bool {
	if p := primaryKey(a, b, mode); p != 0 {
		return p < 0
	}
	aDone := a.Status == models.StatusCompleted
	bDone := b.Status == models.StatusCompleted
	if aDone != bDone {
		return aDone
	}
	if a.Status == b.Status && a.Progress != b.Progress {
		return a.Progress > b.Progress
	}
	return false
}

// primaryKey compares by the selected mode; negative means a sorts first.
func primaryKey(a, b *models.Combination, mode SortMode) int {
	switch mode {
	case SortScore:
		return compareScores(a.EngagementScore, b.EngagementScore)
	case SortFavourite:
		if a.Favourite == b.Favourite {
			return 0
		}
		if a.Favourite {
			return -1
		}
		return 1
	case SortDate:
		// Most recently created first; Seq is the monotonic creation key.
		if a.Seq == b.Seq {
			return 0
		}
		if a.Seq > b.Seq {
			return -1
		}
		return 1
	}
	return 0
}

// compareScores sorts descending; unscored combinations sort as lowest.
func compareScores(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a == *b:
		return 0
	case *a > *b:
		return -1
	}
	return 1
}
