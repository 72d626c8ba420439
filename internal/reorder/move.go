// Package reorder holds the pure list operations behind drag-and-drop
// reordering: array moves, rank assignment and load-time normalization.
package reorder

import "git.sr.ht/~jakintosh/orden/internal/domain"

// Move returns a copy of seq with the element at oldIndex removed and
// reinserted at newIndex. Elements between the two positions shift by one.
// Out-of-range indexes return an unchanged copy.
func Move[T any](seq []T, oldIndex, newIndex int) []T {
	out := make([]T, len(seq))
	copy(out, seq)
	if oldIndex == newIndex || !inRange(oldIndex, len(seq)) || !inRange(newIndex, len(seq)) {
		return out
	}

	moved := out[oldIndex]
	if oldIndex < newIndex {
		copy(out[oldIndex:newIndex], out[oldIndex+1:newIndex+1])
	} else {
		copy(out[newIndex+1:oldIndex+1], out[newIndex:oldIndex])
	}
	out[newIndex] = moved
	return out
}

// MoveChecked is Move with index validation.
func MoveChecked[T any](seq []T, oldIndex, newIndex int) ([]T, error) {
	if !inRange(oldIndex, len(seq)) {
		return nil, domain.Invalid("oldIndex", "indice %d fuera de rango (%d elementos)", oldIndex, len(seq))
	}
	if !inRange(newIndex, len(seq)) {
		return nil, domain.Invalid("newIndex", "indice %d fuera de rango (%d elementos)", newIndex, len(seq))
	}
	return Move(seq, oldIndex, newIndex), nil
}

// MoveByID moves the element identified by sourceID to the position held by
// targetID. An empty target, or a target equal to the source, is a no-op and
// reports false.
func MoveByID[T any](seq []T, idOf func(T) string, sourceID, targetID string) ([]T, bool, error) {
	if targetID == "" || targetID == sourceID {
		return seq, false, nil
	}
	oldIndex := IndexOf(seq, idOf, sourceID)
	if oldIndex < 0 {
		return nil, false, domain.Invalid("source", "elemento %q no esta en la lista", sourceID)
	}
	newIndex := IndexOf(seq, idOf, targetID)
	if newIndex < 0 {
		return nil, false, domain.Invalid("target", "elemento %q no esta en la lista", targetID)
	}
	return Move(seq, oldIndex, newIndex), true, nil
}

// MoveToIndex moves the element identified by sourceID to newIndex, clamping
// newIndex into the list bounds.
func MoveToIndex[T any](seq []T, idOf func(T) string, sourceID string, newIndex int) ([]T, bool, error) {
	oldIndex := IndexOf(seq, idOf, sourceID)
	if oldIndex < 0 {
		return nil, false, domain.Invalid("source", "elemento %q no esta en la lista", sourceID)
	}
	newIndex = max(0, min(newIndex, len(seq)-1))
	if newIndex == oldIndex {
		return seq, false, nil
	}
	return Move(seq, oldIndex, newIndex), true, nil
}

func IndexOf[T any](seq []T, idOf func(T) string, id string) int {
	for i, v := range seq {
		if idOf(v) == id {
			return i
		}
	}
	return -1
}

func inRange(i, n int) bool {
	return i >= 0 && i < n
}
