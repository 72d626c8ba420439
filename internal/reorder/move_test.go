package reorder

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~jakintosh/orden/internal/domain"
)

func letters(s string) []string {
	return strings.Split(s, "")
}

func self(s string) string { return s }

func TestMove(t *testing.T) {
	tests := []struct {
		name     string
		seq      string
		from, to int
		want     string
	}{
		{"forward", "ABCD", 0, 2, "BCAD"},
		{"backward", "ABCD", 3, 0, "DABC"},
		{"adjacent forward", "ABCD", 1, 2, "ACBD"},
		{"adjacent backward", "ABCD", 2, 1, "ACBD"},
		{"to end", "ABCD", 0, 3, "BCDA"},
		{"same index", "ABCD", 2, 2, "ABCD"},
		{"out of range", "ABCD", 0, 9, "ABCD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := letters(tt.seq)
			got := Move(seq, tt.from, tt.to)
			if diff := cmp.Diff(letters(tt.want), got); diff != "" {
				t.Errorf("Move(%s, %d, %d) mismatch (-want +got):\n%s", tt.seq, tt.from, tt.to, diff)
			}
			assert.Equal(t, letters(tt.seq), seq, "input must not be mutated")
		})
	}
}

// Every valid (old, new) pair places the moved element at new and keeps the
// relative order of everything else.
func TestMoveLaw(t *testing.T) {
	seq := letters("ABCDEFG")
	for from := range seq {
		for to := range seq {
			got := Move(seq, from, to)
			require.Len(t, got, len(seq))
			assert.Equal(t, seq[from], got[to])

			rest := make([]string, 0, len(seq)-1)
			for i, v := range seq {
				if i != from {
					rest = append(rest, v)
				}
			}
			gotRest := append(append([]string{}, got[:to]...), got[to+1:]...)
			assert.Equal(t, rest, gotRest, "from=%d to=%d", from, to)
		}
	}
}

func TestMoveChecked(t *testing.T) {
	_, err := MoveChecked(letters("ABC"), -1, 1)
	assert.True(t, domain.IsValidation(err))

	_, err = MoveChecked(letters("ABC"), 0, 3)
	assert.True(t, domain.IsValidation(err))

	got, err := MoveChecked(letters("ABC"), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, letters("CAB"), got)
}

func TestMoveByID(t *testing.T) {
	seq := letters("ABCD")

	got, moved, err := MoveByID(seq, self, "A", "C")
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, letters("BCAD"), got)

	got, moved, err = MoveByID(seq, self, "A", "")
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, seq, got)

	_, moved, err = MoveByID(seq, self, "B", "B")
	require.NoError(t, err)
	assert.False(t, moved)

	_, _, err = MoveByID(seq, self, "Z", "A")
	assert.True(t, domain.IsValidation(err))

	_, _, err = MoveByID(seq, self, "A", "Z")
	assert.True(t, domain.IsValidation(err))
}

func TestMoveToIndexClamps(t *testing.T) {
	got, moved, err := MoveToIndex(letters("ABCD"), self, "B", 99)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, letters("ACDB"), got)

	_, moved, err = MoveToIndex(letters("ABCD"), self, "A", -4)
	require.NoError(t, err)
	assert.False(t, moved)
}
