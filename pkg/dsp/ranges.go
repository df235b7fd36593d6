package dsp

import "sort"

// paramRange is a maximal run of consecutive parameter numbers.
type paramRange struct {
	start, end int
}

// coalesceRanges merges parameter numbers into the minimal set of maximal
// consecutive runs, sorted ascending. Duplicates collapse into their run.
func coalesceRanges(params []int) []paramRange {
	if len(params) == 0 {
		return nil
	}
	sorted := make([]int, len(params))
	copy(sorted, params)
	sort.Ints(sorted)

	var runs []paramRange
	for _, p := range sorted {
		if n := len(runs); n > 0 && p <= runs[n-1].end+1 {
			if p > runs[n-1].end {
				runs[n-1].end = p
			}
			continue
		}
		runs = append(runs, paramRange{start: p, end: p})
	}
	return runs
}
