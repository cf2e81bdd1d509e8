// Package scale maps data values to positions and colours: categorical band
// scales for the heatmap axes, a linear scale for the legend, and a
// sequential colour scale backed by the RdBu diverging interpolator.
package scale

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/minerva/colocmap/internal/models"
)

// BandScale divides a continuous range into uniform bands, one per category.
// Padding is applied both between bands and at the outer edges, and the
// bands are centred within the range.
type BandScale struct {
	domain  []models.Category
	index   map[models.Category]int
	start   float64
	stop    float64
	padding float64

	step      float64
	bandwidth float64
	offset    float64
}

func NewBand(domain []models.Category, rangeStart, rangeStop, padding float64) *BandScale {
	b := &BandScale{
		domain:  append([]models.Category(nil), domain...),
		index:   make(map[models.Category]int, len(domain)),
		start:   rangeStart,
		stop:    rangeStop,
		padding: math.Min(1, math.Max(0, padding)),
	}
	for i, c := range b.domain {
		if _, dup := b.index[c]; !dup {
			b.index[c] = i
		}
	}
	b.rescale()
	return b
}

func (b *BandScale) rescale() {
	n := float64(len(b.domain))
	start, stop := b.start, b.stop
	reverse := stop < start
	if reverse {
		start, stop = stop, start
	}

	b.step = (stop - start) / math.Max(1, n-b.padding+b.padding*2)
	// align 0.5: leftover space is split evenly on both sides
	start += (stop - start - b.step*(n-b.padding)) * 0.5
	b.bandwidth = b.step * (1 - b.padding)
	b.offset = start
	if reverse {
		b.offset = start + b.step*(n-1)
		b.step = -b.step
	}
}

// Position returns the start coordinate of the band for c.
func (b *BandScale) Position(c models.Category) (float64, bool) {
	i, ok := b.index[c]
	if !ok {
		return 0, false
	}
	return b.offset + b.step*float64(i), true
}

// Center returns the midpoint of the band for c.
func (b *BandScale) Center(c models.Category) (float64, bool) {
	p, ok := b.Position(c)
	if !ok {
		return 0, false
	}
	return p + b.bandwidth/2, true
}

func (b *BandScale) Bandwidth() float64 {
	return b.bandwidth
}

func (b *BandScale) Step() float64 {
	return math.Abs(b.step)
}

func (b *BandScale) Domain() []models.Category {
	return append([]models.Category(nil), b.domain...)
}

func (b *BandScale) Range() (float64, float64) {
	return b.start, b.stop
}

// LinearScale is an affine map from a two-value domain to a two-value range.
type LinearScale struct {
	d0, d1 float64
	r0, r1 float64
}

func NewLinear(d0, d1, r0, r1 float64) *LinearScale {
	return &LinearScale{d0: d0, d1: d1, r0: r0, r1: r1}
}

func (l *LinearScale) Map(v float64) float64 {
	if l.d1 == l.d0 {
		return (l.r0 + l.r1) / 2
	}
	t := (v - l.d0) / (l.d1 - l.d0)
	return l.r0 + t*(l.r1-l.r0)
}

func (l *LinearScale) Invert(px float64) float64 {
	if l.r1 == l.r0 {
		return (l.d0 + l.d1) / 2
	}
	t := (px - l.r0) / (l.r1 - l.r0)
	return l.d0 + t*(l.d1-l.d0)
}

func (l *LinearScale) Range() (float64, float64) {
	return l.r0, l.r1
}

// Interpolator maps t in [0, 1] to a colour.
type Interpolator func(t float64) colorful.Color

// Sequential maps a continuous domain onto an interpolator. The domain may be
// reversed, e.g. [1, -1], in which case larger values sit at t = 0.
type Sequential struct {
	d0, d1      float64
	interpolate Interpolator
}

func NewSequential(d0, d1 float64, interpolate Interpolator) *Sequential {
	return &Sequential{d0: d0, d1: d1, interpolate: interpolate}
}

// Position is the normalised, unclamped position of v within the domain.
func (s *Sequential) Position(v float64) float64 {
	if s.d1 == s.d0 {
		return 0.5
	}
	return (v - s.d0) / (s.d1 - s.d0)
}

func (s *Sequential) RGB(v float64) colorful.Color {
	return s.interpolate(s.Position(v))
}

// Color returns the hex colour for v.
func (s *Sequential) Color(v float64) string {
	return s.RGB(v).Clamped().Hex()
}
