package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Of[int]()
	assert.Len(t, s, 0)

	s.Insert(3, 7, 3)
	assert.Len(t, s, 2)
	assert.True(t, s.Has(3))
	assert.True(t, s.Has(7))
	assert.False(t, s.Has(5))

	s2 := Of([]int{4, 0, 4}, []int{2, 0})
	assert.Equal(t, []int{0, 2, 4}, Sorted(s2))
	assert.Empty(t, Sorted(Of[string]()))
}
