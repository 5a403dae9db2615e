package ucum_test

import (
	"testing"

	"github.com/jpl-au/fhird/internal/ucum"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalize_Linear(t *testing.T) {
	unit, v, ok := ucum.Canonicalize("kg", 1.5)
	assert.True(t, ok)
	assert.Equal(t, "g", unit)
	assert.InDelta(t, 1500, v, 1e-9)

	unit, v, ok = ucum.Canonicalize("mg/dL", 100)
	assert.True(t, ok)
	assert.Equal(t, "g/L", unit)
	assert.InDelta(t, 1.0, v, 1e-9)
}

func TestCanonicalize_Affine(t *testing.T) {
	_, cel, ok := ucum.Canonicalize("Cel", 37)
	assert.True(t, ok)
	assert.InDelta(t, 310.15, cel, 1e-9)

	_, f, ok := ucum.Canonicalize("[degF]", 98.6)
	assert.True(t, ok)
	assert.InDelta(t, cel, f, 1e-6)
}

func TestCanonicalize_Unknown(t *testing.T) {
	_, _, ok := ucum.Canonicalize("{tablets}", 2)
	assert.False(t, ok)
}

func TestComparable(t *testing.T) {
	assert.True(t, ucum.Comparable("kg", "[lb_av]"))
	assert.True(t, ucum.Comparable("mg/dL", "g/L"))
	assert.False(t, ucum.Comparable("kg", "L"))
	assert.False(t, ucum.Comparable("kg", "{beats}"))
}
