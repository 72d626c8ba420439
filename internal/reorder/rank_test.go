package reorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~jakintosh/orden/internal/domain"
)

func item(id string, orden ...int) *domain.Item {
	it := &domain.Item{ID: id, OwnerID: "hab-1"}
	if len(orden) > 0 {
		it.SetRank(orden[0])
	}
	return it
}

func ids(items []*domain.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestNormalizeLoaded(t *testing.T) {
	loaded := []*domain.Item{
		item("sin-orden-1"),
		item("c", 7),
		item("a", 2),
		item("sin-orden-2"),
		item("b", 2),
	}

	got := NormalizeLoaded(loaded)

	assert.Equal(t, []string{"a", "b", "c", "sin-orden-1", "sin-orden-2"}, ids(got))
	assert.Equal(t, 4, got[3].Rank(), "missing rank backfilled as index+1")
	assert.Equal(t, 5, got[4].Rank())
	assert.Equal(t, 7, got[2].Rank(), "existing ranks kept as loaded")
}

func TestAssignRanksIsContiguous(t *testing.T) {
	items := []*domain.Item{item("c", 30), item("a", 1), item("b")}
	updates := AssignRanks(items)

	require.Len(t, updates, 3)
	for i, u := range updates {
		assert.Equal(t, items[i].ID, u.ID)
		assert.Equal(t, i+domain.RankBase, u.Orden)
		assert.Equal(t, u.Orden, items[i].Rank())
	}
	assert.True(t, Contiguous(updates))
	assert.Equal(t, updates, Ranks(items))
}

func TestValidateUpdates(t *testing.T) {
	tests := []struct {
		name    string
		updates []domain.RankUpdate
		wantErr bool
	}{
		{"empty", nil, true},
		{"blank id", []domain.RankUpdate{{ID: "", Orden: 1}}, true},
		{"duplicate id", []domain.RankUpdate{{ID: "a", Orden: 1}, {ID: "a", Orden: 2}}, true},
		{"rank below base", []domain.RankUpdate{{ID: "a", Orden: 0}}, true},
		{"valid", []domain.RankUpdate{{ID: "a", Orden: 1}, {ID: "b", Orden: 2}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpdates(tt.updates)
			if tt.wantErr {
				assert.True(t, domain.IsValidation(err), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestContiguous(t *testing.T) {
	assert.True(t, Contiguous([]domain.RankUpdate{{ID: "b", Orden: 2}, {ID: "a", Orden: 1}}))
	assert.False(t, Contiguous([]domain.RankUpdate{{ID: "a", Orden: 1}, {ID: "b", Orden: 3}}))
	assert.False(t, Contiguous([]domain.RankUpdate{{ID: "a", Orden: 1}, {ID: "b", Orden: 1}}))
}

func TestDragThenRank(t *testing.T) {
	items := []*domain.Item{item("A", 1), item("B", 2), item("C", 3)}

	moved, ok, err := MoveByID(items, ItemID, "C", "A")
	require.NoError(t, err)
	require.True(t, ok)
	updates := AssignRanks(moved)

	assert.Equal(t, []string{"C", "A", "B"}, ids(moved))
	assert.Equal(t, []domain.RankUpdate{{ID: "C", Orden: 1}, {ID: "A", Orden: 2}, {ID: "B", Orden: 3}}, updates)
}
