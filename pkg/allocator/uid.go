package allocator

// IDSet tracks numeric IDs already claimed in the directory.
type IDSet map[int64]struct{}

// NewIDSet builds an IDSet from a list of IDs.
func NewIDSet(ids ...int64) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is claimed.
func (s IDSet) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

// Add claims id.
func (s IDSet) Add(id int64) {
	s[id] = struct{}{}
}

// UIDAllocator hands out UIDs by first-free-forward search over an in-use
// set. The cursor only moves forward within a run so repeated calls never
// revisit a previously considered range.
type UIDAllocator struct {
	used   IDSet
	cursor int64
}

// NewUIDAllocator creates an allocator over used. The set is shared with the
// caller: IDs claimed through Next become visible in it.
func NewUIDAllocator(used IDSet) *UIDAllocator {
	return &UIDAllocator{used: used}
}

// Next returns the smallest free ID >= max(cursor, start), claims it, and
// advances the cursor past it.
func (a *UIDAllocator) Next(start int64) int64 {
	n := a.cursor
	if start > n {
		n = start
	}
	for a.used.Contains(n) {
		n++
	}
	a.used.Add(n)
	a.cursor = n + 1
	return n
}

// Claim marks an externally assigned ID as used without moving the cursor.
func (a *UIDAllocator) Claim(id int64) {
	a.used.Add(id)
}

// Cursor returns the next value the allocator will consider.
func (a *UIDAllocator) Cursor() int64 {
	return a.cursor
}

// SeedCursor advances the cursor to n, typically a value persisted from an
// earlier run. It never moves backward.
func (a *UIDAllocator) SeedCursor(n int64) {
	if n > a.cursor {
		a.cursor = n
	}
}
