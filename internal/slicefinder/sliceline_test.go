package slicefinder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// two features; errors sit on f0 = 1 AND f1 = 2
var (
	lattice = [][]int{
		{0, 0},
		{0, 1},
		{0, 2},
		{1, 0},
		{1, 1},
		{1, 2},
		{1, 2},
		{0, 0},
	}
	latticeErrs = []float64{0, 0, 0, 0, 0, 1, 1, 0}
)

func TestSliceLine(t *testing.T) {
	found := SliceLine(lattice, latticeErrs, Params{Alpha: 0.95, MaxLevel: 2, MinSupport: 1, TopK: 10})
	require.Len(t, found, 3)

	assert.ElementsMatch(t, []Item{{Feature: 0, Code: 1}, {Feature: 1, Code: 2}}, found[0].Items)
	assert.Equal(t, 2, found[0].Size)
	assert.Equal(t, 2.0, found[0].ErrSum)
	assert.InDelta(t, 2.7, found[0].Score, 1e-9)
	assert.Equal(t, []int{5, 6}, found[0].Rows)

	assert.Equal(t, []Item{{Feature: 1, Code: 2}}, found[1].Items)
	assert.InDelta(t, 1.5, found[1].Score, 1e-9)
	assert.Equal(t, []Item{{Feature: 0, Code: 1}}, found[2].Items)
	assert.InDelta(t, 0.9, found[2].Score, 1e-9)

	for i := 1; i < len(found); i++ {
		assert.GreaterOrEqual(t, found[i-1].Score, found[i].Score)
	}
}

func TestSliceLineParams(t *testing.T) {
	top := SliceLine(lattice, latticeErrs, Params{Alpha: 0.95, MaxLevel: 2, MinSupport: 1, TopK: 1})
	require.Len(t, top, 1)
	assert.Len(t, top[0].Items, 2)

	single := SliceLine(lattice, latticeErrs, Params{Alpha: 0.95, MaxLevel: 1, MinSupport: 1, TopK: 10})
	require.Len(t, single, 2)
	for _, f := range single {
		assert.Len(t, f.Items, 1)
	}

	supported := SliceLine(lattice, latticeErrs, Params{Alpha: 0.95, MaxLevel: 2, MinSupport: 3, TopK: 10})
	require.Len(t, supported, 2)
	for _, f := range supported {
		assert.GreaterOrEqual(t, f.Size, 3)
	}
}

func TestSliceLineNothingToFind(t *testing.T) {
	assert.Nil(t, SliceLine(nil, nil, Params{Alpha: 0.95, TopK: 5}))
	assert.Nil(t, SliceLine(lattice, make([]float64, len(lattice)), Params{Alpha: 0.95, TopK: 5}))
	assert.Nil(t, SliceLine(lattice, latticeErrs[:3], Params{Alpha: 0.95, TopK: 5}))
}

func TestSliceLineSkipsMissingCodes(t *testing.T) {
	x := [][]int{{-1}, {0}, {0}, {1}}
	errs := []float64{5, 1, 1, 0}
	found := SliceLine(x, errs, Params{Alpha: 0.95, MaxLevel: 1, MinSupport: 1, TopK: 5})
	for _, f := range found {
		for _, it := range f.Items {
			assert.GreaterOrEqual(t, it.Code, 0)
		}
		assert.NotContains(t, f.Rows, 0)
	}
}

func TestIntersect(t *testing.T) {
	assert.Equal(t, []int{2, 5}, intersect([]int{1, 2, 5, 7}, []int{2, 3, 5}))
	assert.Nil(t, intersect([]int{1}, []int{2}))
}
