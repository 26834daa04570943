package allocator

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// ErrRangeExhausted is returned when every GID in the configured group range
// is already claimed.
var ErrRangeExhausted = fmt.Errorf("no free GID left in group range")

// GroupGID computes a deterministic GID for a directory group inside the
// half-open range [start, end].
//
// The base slot is derived from the first 8 bytes of SHA-256(groupID),
// big-endian, reduced modulo the range size. On collision with an already
// claimed GID (user primary GIDs plus groups assigned earlier in the run)
// the slot probes linearly forward with wraparound. The chosen GID is
// recorded in used.
//
// Callers must process groups in ascending lexicographic order of groupID so
// that independent runs over the same directory state converge on identical
// assignments.
func GroupGID(groupID string, start, end int64, used IDSet) (int64, error) {
	if end < start {
		return 0, fmt.Errorf("invalid group GID range [%d,%d]", start, end)
	}
	rangeSize := end - start + 1

	sum := sha256.Sum256([]byte(groupID))
	h := binary.BigEndian.Uint64(sum[:8])
	base := start + int64(h%uint64(rangeSize))

	for offset := int64(0); offset < rangeSize; offset++ {
		candidate := start + (base-start+offset)%rangeSize
		if !used.Contains(candidate) {
			used.Add(candidate)
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("%w: [%d,%d]", ErrRangeExhausted, start, end)
}
