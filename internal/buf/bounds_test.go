package buf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddOverflowSafe(t *testing.T) {
	v, ok := AddOverflowSafe(40, 2)
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = AddOverflowSafe(math.MaxInt, 1)
	assert.False(t, ok)

	_, ok = AddOverflowSafe(math.MinInt, -1)
	assert.False(t, ok)
}

func TestMulOverflowSafe(t *testing.T) {
	v, ok := MulOverflowSafe(1024, 4096)
	assert.True(t, ok)
	assert.Equal(t, 1024*4096, v)

	v, ok = MulOverflowSafe(0, math.MaxInt)
	assert.True(t, ok)
	assert.Equal(t, 0, v)

	_, ok = MulOverflowSafe(math.MaxInt/2, 3)
	assert.False(t, ok)

	_, ok = MulOverflowSafe(math.MinInt, -1)
	assert.False(t, ok)
}
