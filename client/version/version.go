// Package version orders dotted-integer version strings such as "1.2.10".
//
// Segments are compared numerically from left to right and a missing
// trailing segment counts as 0, so "1.2" equals "1.2.0". A segment that is
// not a plain non-negative integer (for example "v1", "3-beta" or "") is
// read as 0 rather than rejected.
package version

import (
	"strconv"
	"strings"
)

// Compare returns -1 if a < b, 0 if a == b and 1 if a > b.
func Compare(a, b string) int {
	as := strings.Split(strings.TrimSpace(a), ".")
	bs := strings.Split(strings.TrimSpace(b), ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		x, y := segment(as, i), segment(bs, i)
		if x < y {
			return -1
		}
		if x > y {
			return 1
		}
	}
	return 0
}

func segment(parts []string, i int) uint64 {
	if i >= len(parts) {
		return 0
	}
	v, err := strconv.ParseUint(parts[i], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// AtLeast reports whether v >= min.
func AtLeast(v, min string) bool {
	return Compare(v, min) >= 0
}
