package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistribute(t *testing.T) {
	testCases := []struct {
		name     string
		budget   int
		items    int
		expected []int
	}{
		{name: "remainder goes to the first items", budget: 10, items: 3, expected: []int{4, 3, 3}},
		{name: "zero shares are dropped", budget: 3, items: 5, expected: []int{1, 1, 1}},
		{name: "even split", budget: 6, items: 3, expected: []int{2, 2, 2}},
		{name: "single item takes everything", budget: 7, items: 1, expected: []int{7}},
		{name: "no items", budget: 5, items: 0, expected: nil},
		{name: "no budget", budget: 0, items: 3, expected: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Distribute(tc.budget, tc.items))
		})
	}
}

func TestDistribute_ConservesBudget(t *testing.T) {
	for _, budget := range []int{1, 5, 17, 100} {
		for _, items := range []int{1, 3, 8} {
			total := 0
			for _, n := range Distribute(budget, items) {
				total += n
			}
			assert.Equal(t, budget, total, "budget %d over %d items", budget, items)
		}
	}
}
