// Package ordering holds list operations used by drag-style reorder commands.
package ordering

import "fmt"

// Move returns a copy of items with the element at from relocated to index to.
// Elements between the two positions shift by one to close the gap.
func Move[T any](items []T, from, to int) ([]T, error) {
	n := len(items)
	if from < 0 || from >= n {
		return nil, fmt.Errorf("move: source index %d out of range [0,%d)", from, n)
	}
	if to < 0 || to >= n {
		return nil, fmt.Errorf("move: target index %d out of range [0,%d)", to, n)
	}

	out := make([]T, n)
	copy(out, items)
	if from == to {
		return out, nil
	}

	moved := out[from]
	if from < to {
		copy(out[from:to], out[from+1:to+1])
	} else {
		copy(out[to+1:from+1], out[to:from])
	}
	out[to] = moved
	return out, nil
}
