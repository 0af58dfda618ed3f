package consensus

import "sort"

// MedianTimePast returns the median of the given timestamps, the effective
// "now" for locktime checks. Callers pass the previous MedianTimeSpan block
// timestamps (fewer near genesis). Zero when the slice is empty.
func MedianTimePast(timestamps []uint32) uint32 {
	if len(timestamps) == 0 {
		return 0
	}
	sorted := append([]uint32(nil), timestamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}
