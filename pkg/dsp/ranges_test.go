package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoalesceRanges(t *testing.T) {
	cases := []struct {
		name string
		in   []int
		want []paramRange
	}{
		{"empty", nil, nil},
		{"single", []int{7}, []paramRange{{7, 7}}},
		{
			"mixed runs",
			[]int{3, 4, 5, 9, 10, 12},
			[]paramRange{{3, 5}, {9, 10}, {12, 12}},
		},
		{
			"unsorted input",
			[]int{12, 3, 10, 5, 4, 9},
			[]paramRange{{3, 5}, {9, 10}, {12, 12}},
		},
		{
			"duplicates collapse",
			[]int{1, 1, 2, 2, 3},
			[]paramRange{{1, 3}},
		},
		{
			"all disjoint",
			[]int{1, 3, 5},
			[]paramRange{{1, 1}, {3, 3}, {5, 5}},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, coalesceRanges(c.in))
		})
	}
}
