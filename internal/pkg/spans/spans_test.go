package spans

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddMergesOverlapping(t *testing.T) {
	set := NewSet(Span{0, 10}, Span{5, 20}, Span{30, 40})

	assert.Equal(t, []Span{{0, 20}, {30, 40}}, set.Spans())
	assert.True(t, set.Covers(Span{0, 20}))
	assert.True(t, set.Covers(Span{3, 7}))
	assert.False(t, set.Covers(Span{15, 35}))
}

func TestAddMergesAdjacent(t *testing.T) {
	set := NewSet(Span{0, 10}, Span{10, 20})

	assert.Equal(t, []Span{{0, 20}}, set.Spans())
}

func TestSubtractSplitsSpan(t *testing.T) {
	set := NewSet(Span{0, 100})
	set.Subtract(Span{40, 60})

	assert.Equal(t, []Span{{0, 40}, {60, 100}}, set.Spans())
	assert.False(t, set.Covers(Span{0, 100}))
	assert.True(t, set.Covers(Span{0, 40}))
	assert.True(t, set.Covers(Span{60, 100}))
}

func TestSubtractFullSpan(t *testing.T) {
	set := NewSet(Full)
	set.Subtract(Span{150, 300})

	assert.False(t, set.Covers(Span{0, 300}))
	assert.True(t, set.Covers(Span{0, 150}))
	assert.True(t, set.Covers(Span{300, 1000}))
}

func TestClampBelow(t *testing.T) {
	set := NewSet(Span{0, 100}, Span{200, 300})
	set.ClampBelow(250)

	assert.Equal(t, []Span{{250, 300}}, set.Spans())
}

func TestEmptySpanIsNoop(t *testing.T) {
	set := NewSet(Span{10, 10}, Span{20, 5})

	assert.True(t, set.Empty())
	assert.True(t, set.Covers(Span{5, 5}))
	assert.False(t, set.Covers(Span{5, 6}))
}

func TestOverlaps(t *testing.T) {
	set := NewSet(Span{10, 20})

	assert.True(t, set.Overlaps(Span{19, 30}))
	assert.True(t, set.Overlaps(Span{0, 11}))
	assert.False(t, set.Overlaps(Span{20, 30}))
	assert.False(t, set.Overlaps(Span{0, 10}))
}
