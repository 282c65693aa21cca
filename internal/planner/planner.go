// Package planner implements the segment planner described in spec §4.3:
// partitioning a known total size into n contiguous byte ranges.
package planner

import "github.com/fetchcore/fetchcore/internal/model"

// Plan partitions [0, totalSize-1] into exactly n contiguous, non-
// overlapping segments. The last segment absorbs the remainder so the
// partition always covers the whole file exactly. When totalSize is
// smaller than n, the first n-1 segments are zero-width (Start == End+1,
// i.e. Size() == 0) and the last one holds every byte; fetchers must
// short-circuit the zero-width ones.
func Plan(totalSize int64, n int) []model.Segment {
	if n < 1 {
		n = 1
	}
	if totalSize < 0 {
		totalSize = 0
	}

	segments := make([]model.Segment, n)
	base := totalSize / int64(n)

	offset := int64(0)
	for i := 0; i < n; i++ {
		start := offset
		var end int64
		if i == n-1 {
			end = totalSize - 1
		} else {
			end = start + base - 1
		}
		if end < start-1 {
			end = start - 1 // zero-width segment, Size() == 0
		}
		segments[i] = model.Segment{ID: i, Start: start, End: end}
		offset = end + 1
	}
	return segments
}
