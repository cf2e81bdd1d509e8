package scale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerva/colocmap/internal/models"
)

func TestBandScale_TwoCategories(t *testing.T) {
	x := NewBand(models.Categories([]string{"A", "B"}), 0, 340, 0.05)

	step := 340 / 2.05
	assert.InDelta(t, step, x.Step(), 1e-9)
	assert.InDelta(t, step*0.95, x.Bandwidth(), 1e-9)

	a, ok := x.Position("A")
	require.True(t, ok)
	b, ok := x.Position("B")
	require.True(t, ok)

	outer := (340 - step*1.95) / 2
	assert.InDelta(t, outer, a, 1e-9)
	assert.InDelta(t, outer+step, b, 1e-9)

	// symmetric outer padding
	assert.InDelta(t, 340-(b+x.Bandwidth()), a, 1e-9)
}

func TestBandScale_UnknownCategory(t *testing.T) {
	x := NewBand(models.Categories([]string{"A"}), 0, 100, 0.05)
	_, ok := x.Position("Z")
	assert.False(t, ok)
}

func TestBandScale_Reversed(t *testing.T) {
	y := NewBand(models.Categories([]string{"A", "B", "C"}), 300, 0, 0)
	a, _ := y.Position("A")
	c, _ := y.Position("C")
	assert.InDelta(t, 200, a, 1e-9)
	assert.InDelta(t, 0, c, 1e-9)
	assert.InDelta(t, 100, y.Bandwidth(), 1e-9)
}

func TestBandScale_Empty(t *testing.T) {
	x := NewBand(nil, 0, 100, 0.05)
	assert.InDelta(t, 100, x.Step(), 1e-9)
	_, ok := x.Position("A")
	assert.False(t, ok)
}

func TestLinearScale_LegendMapping(t *testing.T) {
	l := NewLinear(-1, 1, 50, -50)

	assert.InDelta(t, 50, l.Map(-1), 1e-9)
	assert.InDelta(t, 0, l.Map(0), 1e-9)
	assert.InDelta(t, -50, l.Map(1), 1e-9)

	for px := -50.0; px <= 50; px++ {
		assert.InDelta(t, px, l.Map(l.Invert(px)), 1e-9)
	}
	assert.InDelta(t, 1, l.Invert(-50), 1e-9)
}

func TestSequential_ReversedDomainEndpoints(t *testing.T) {
	s := NewSequential(1, -1, InterpolateRdBu)

	assert.Equal(t, "#67001f", s.Color(1))
	assert.Equal(t, "#053061", s.Color(-1))
	assert.InDelta(t, 0.5, s.Position(0), 1e-12)
}

func TestSequential_PositionIsMonotonic(t *testing.T) {
	s := NewSequential(1, -1, InterpolateRdBu)

	prev := s.Position(-1)
	for v := -0.99; v <= 1.0; v += 0.01 {
		p := s.Position(v)
		assert.Less(t, p, prev, "position must decrease as value grows (v=%.2f)", v)
		prev = p
	}
}

func TestSequential_DivergesAroundZero(t *testing.T) {
	s := NewSequential(1, -1, InterpolateRdBu)

	for _, v := range []float64{0.1, 0.25, 0.5, 0.75, 1} {
		c := s.RGB(v)
		assert.Greater(t, c.R, c.B, "positive value %.2f should be red", v)

		n := s.RGB(-v)
		assert.Greater(t, n.B, n.R, "negative value %.2f should be blue", -v)
	}
}

func TestSequential_ClampsOutOfRange(t *testing.T) {
	s := NewSequential(1, -1, InterpolateRdBu)

	assert.Equal(t, s.Color(1), s.Color(3))
	assert.Equal(t, s.Color(-1), s.Color(-2.5))
}

func TestRGBBasis_PassesThroughEnds(t *testing.T) {
	interp := RGBBasis([]string{"#000000", "#808080", "#ffffff"})

	assert.Equal(t, "#000000", interp(0).Clamped().Hex())
	assert.Equal(t, "#ffffff", interp(1).Clamped().Hex())
	assert.Equal(t, "#808080", interp(0.5).Clamped().Hex())
}
