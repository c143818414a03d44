// Package paging splits a fully loaded slice into numbered pages.
package paging

import "sync"

// DefaultPageSize is used when a non-positive size is requested.
const DefaultPageSize = 10

// Table is page-number pagination over an in-memory slice. The current page
// is clamped back into range whenever the rows or the page size change.
type Table[T any] struct {
	mu   sync.RWMutex
	rows []T
	size int
	page int
}

// NewTable returns an empty table on page 1.
func NewTable[T any](pageSize int) *Table[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Table[T]{size: pageSize, page: 1}
}

// Pages returns ceil(len/size) for the given counts.
func Pages(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// SetRows replaces the backing slice.
func (t *Table[T]) SetRows(rows []T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append([]T(nil), rows...)
	t.clamp()
}

// SetPageSize changes the page size and re-clamps the current page.
func (t *Table[T]) SetPageSize(size int) {
	if size <= 0 {
		size = DefaultPageSize
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.size = size
	t.clamp()
}

// SetPage moves to page n, clamped into range. It returns the page actually selected.
func (t *Table[T]) SetPage(n int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.page = n
	t.clamp()
	return t.page
}

// Update replaces the first row matching match. It reports whether a row was found.
func (t *Table[T]) Update(match func(T) bool, fn func(*T)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.rows {
		if match(t.rows[i]) {
			fn(&t.rows[i])
			return true
		}
	}
	return false
}

// Remove deletes every row matching match and re-clamps the page.
func (t *Table[T]) Remove(match func(T) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.rows[:0]
	removed := 0
	for _, row := range t.rows {
		if match(row) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	clear(t.rows[len(kept):])
	t.rows = kept
	t.clamp()
	return removed
}

// Find returns a copy of the first matching row.
func (t *Table[T]) Find(match func(T) bool) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, row := range t.rows {
		if match(row) {
			return row, true
		}
	}
	var zero T
	return zero, false
}

// Page returns a copy of the rows on the current page.
func (t *Table[T]) Page() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	start := (t.page - 1) * t.size
	if start >= len(t.rows) {
		return nil
	}
	end := min(start+t.size, len(t.rows))
	return append([]T(nil), t.rows[start:end]...)
}

func (t *Table[T]) CurrentPage() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.page
}

func (t *Table[T]) PageCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Pages(len(t.rows), t.size)
}

func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Rows returns a copy of every row.
func (t *Table[T]) Rows() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]T(nil), t.rows...)
}

func (t *Table[T]) clamp() {
	last := max(Pages(len(t.rows), t.size), 1)
	if t.page < 1 {
		t.page = 1
	}
	if t.page > last {
		t.page = last
	}
}
