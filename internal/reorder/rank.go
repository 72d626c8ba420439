package reorder

import (
	"sort"

	"git.sr.ht/~jakintosh/orden/internal/domain"
)

func ItemID(it *domain.Item) string {
	return it.ID
}

// AssignRanks writes position-based ranks into items and returns the
// matching updates, one per item, in order.
func AssignRanks(items []*domain.Item) []domain.RankUpdate {
	updates := make([]domain.RankUpdate, len(items))
	for i, it := range items {
		orden := i + domain.RankBase
		it.SetRank(orden)
		updates[i] = domain.RankUpdate{ID: it.ID, Orden: orden}
	}
	return updates
}

// NormalizeLoaded sorts freshly fetched items by rank, placing unranked items
// last in their fetched order, and backfills missing ranks from position.
func NormalizeLoaded(items []*domain.Item) []*domain.Item {
	out := make([]*domain.Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Orden, out[j].Orden
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	for i, it := range out {
		if it.Orden == nil {
			it.SetRank(i + domain.RankBase)
		}
	}
	return out
}

// ValidateUpdates rejects empty or malformed rank update sets.
func ValidateUpdates(updates []domain.RankUpdate) error {
	if len(updates) == 0 {
		return domain.Invalid("items", "la lista de orden esta vacia")
	}
	seen := make(map[string]struct{}, len(updates))
	for _, u := range updates {
		if u.ID == "" {
			return domain.Invalid("items", "elemento sin id")
		}
		if u.Orden < domain.RankBase {
			return domain.Invalid("items", "orden %d invalido para %q", u.Orden, u.ID)
		}
		if _, dup := seen[u.ID]; dup {
			return domain.Invalid("items", "id duplicado %q", u.ID)
		}
		seen[u.ID] = struct{}{}
	}
	return nil
}

// Contiguous reports whether the ranks form RankBase..RankBase+n-1 with no
// gaps or duplicates, in any order.
func Contiguous(updates []domain.RankUpdate) bool {
	seen := make([]bool, len(updates))
	for _, u := range updates {
		i := u.Orden - domain.RankBase
		if i < 0 || i >= len(updates) || seen[i] {
			return false
		}
		seen[i] = true
	}
	return true
}

// Ranks extracts the current rank of each item.
func Ranks(items []*domain.Item) []domain.RankUpdate {
	out := make([]domain.RankUpdate, len(items))
	for i, it := range items {
		out[i] = domain.RankUpdate{ID: it.ID, Orden: it.Rank()}
	}
	return out
}
