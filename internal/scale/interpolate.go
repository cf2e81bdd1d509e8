package scale

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// RdBu is the 11-class ColorBrewer red-blue diverging scheme, red end first.
var RdBu = []string{
	"#67001f", "#b2182b", "#d6604d", "#f4a582", "#fddbc7", "#f7f7f7",
	"#d1e5f0", "#92c5de", "#4393c3", "#2166ac", "#053061",
}

var rdbu = RGBBasis(RdBu)

// InterpolateRdBu returns the RdBu colour at t, clamped to [0, 1].
func InterpolateRdBu(t float64) colorful.Color {
	return rdbu(t)
}

// RGBBasis returns an interpolator through the given colours using a uniform
// cubic B-spline per RGB channel. The spline passes exactly through the
// first and last colours.
func RGBBasis(hexes []string) Interpolator {
	n := len(hexes)
	r := make([]float64, n)
	g := make([]float64, n)
	b := make([]float64, n)
	for i, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			panic("scale: bad colour " + h)
		}
		r[i], g[i], b[i] = c.R, c.G, c.B
	}

	if n == 1 {
		c := colorful.Color{R: r[0], G: g[0], B: b[0]}
		return func(float64) colorful.Color { return c }
	}

	return func(t float64) colorful.Color {
		return colorful.Color{
			R: basisSpline(r, t),
			G: basisSpline(g, t),
			B: basisSpline(b, t),
		}
	}
}

func basisSpline(values []float64, t float64) float64 {
	n := len(values) - 1
	var i int
	switch {
	case t <= 0 || math.IsNaN(t):
		t = 0
		i = 0
	case t >= 1:
		t = 1
		i = n - 1
	default:
		i = int(math.Floor(t * float64(n)))
	}

	v1 := values[i]
	v2 := values[i+1]
	v0 := 2*v1 - v2
	if i > 0 {
		v0 = values[i-1]
	}
	v3 := 2*v2 - v1
	if i < n-1 {
		v3 = values[i+2]
	}
	return basis((t-float64(i)/float64(n))*float64(n), v0, v1, v2, v3)
}

func basis(t1, v0, v1, v2, v3 float64) float64 {
	t2 := t1 * t1
	t3 := t2 * t1
	return ((1-3*t1+3*t2-t3)*v0 +
		(4-6*t2+3*t3)*v1 +
		(1+3*t1+3*t2-3*t3)*v2 +
		t3*v3) / 6
}
