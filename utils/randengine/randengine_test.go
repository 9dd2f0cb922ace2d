package randengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/randengine"
)

func TestEngineReproducible(t *testing.T) {
	a := randengine.New(42)
	b := randengine.New(42)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.IntRangeSafe(0, 30), b.IntRangeSafe(0, 30))
	}
}

func TestIntRangeSafeBounds(t *testing.T) {
	e := randengine.New(7)
	for i := 0; i < 1000; i++ {
		v := e.IntRangeSafe(3, 5)
		assert.GreaterOrEqual(t, v, 3)
		assert.LessOrEqual(t, v, 5)
	}
	assert.Equal(t, 4, e.IntRangeSafe(4, 4))
	assert.Equal(t, 4, e.IntRangeSafe(4, 1))
}
