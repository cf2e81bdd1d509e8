package scene

import "fmt"

// Canvas draws SVG primitives into a group node.
type Canvas struct {
	root *Node
}

func NewCanvas(g *Node) *Canvas {
	return &Canvas{root: g}
}

func (c *Canvas) Root() *Node {
	return c.root
}

// Group appends a <g> translated by (x, y) and returns a canvas over it.
func (c *Canvas) Group(x, y float64) *Canvas {
	g := c.root.Append("g")
	if x != 0 || y != 0 {
		g.Attr("transform", Translate(x, y))
	}
	return &Canvas{root: g}
}

func (c *Canvas) Rect(x, y, w, h float64) *Node {
	return c.root.Append("rect").
		AttrNum("x", x).
		AttrNum("y", y).
		AttrNum("width", w).
		AttrNum("height", h)
}

func (c *Canvas) Text(x, y float64, s string) *Node {
	return c.root.Append("text").
		AttrNum("x", x).
		AttrNum("y", y).
		Text(s)
}

func Translate(x, y float64) string {
	return fmt.Sprintf("translate(%s,%s)", Num(x), Num(y))
}

type Orient int

const (
	OrientBottom Orient = iota
	OrientLeft
	OrientRight
)

type Tick struct {
	Label string
	Value float64
	Pos   float64
}

// AxisSpec describes an axis the way d3-axis lays one out: ticks at Pos,
// a tick line of TickSize, labels TickPadding beyond it, and an optional
// domain path spanning RangeStart..RangeEnd.
type AxisSpec struct {
	Orient      Orient
	Ticks       []Tick
	TickSize    float64
	TickPadding float64
	RangeStart  float64
	RangeEnd    float64
	Domain      bool
	FontSize    string
}

// Axis draws the axis into a new group and returns it. Tick labels are the
// <text> children of each g.tick.
func (c *Canvas) Axis(spec AxisSpec) *Node {
	if spec.TickPadding == 0 {
		spec.TickPadding = 3
	}
	if spec.FontSize == "" {
		spec.FontSize = "10"
	}

	g := c.root.Append("g").
		Attr("fill", "none").
		Attr("font-size", spec.FontSize).
		Attr("font-family", "sans-serif")

	sign := 1.0
	anchor := "middle"
	switch spec.Orient {
	case OrientLeft:
		sign = -1
		anchor = "end"
	case OrientRight:
		anchor = "start"
	}
	g.Attr("text-anchor", anchor)

	if spec.Domain {
		outer := sign * spec.TickSize
		var d string
		if spec.Orient == OrientBottom {
			d = fmt.Sprintf("M%s,%sV0H%sV%s", Num(spec.RangeStart), Num(outer), Num(spec.RangeEnd), Num(outer))
		} else {
			d = fmt.Sprintf("M%s,%sH0V%sH%s", Num(outer), Num(spec.RangeStart), Num(spec.RangeEnd), Num(outer))
		}
		g.Append("path").
			Attr("class", "domain").
			Attr("stroke", "currentColor").
			Attr("d", d)
	}

	offset := sign * (spec.TickSize + spec.TickPadding)
	for _, t := range spec.Ticks {
		tick := g.Append("g").
			Attr("class", "tick").
			Attr("opacity", "1").
			Attr("data-value", Num(t.Value))
		line := tick.Append("line").Attr("stroke", "currentColor")
		label := tick.Append("text").Attr("fill", "currentColor").Text(t.Label)

		if spec.Orient == OrientBottom {
			tick.Attr("transform", Translate(t.Pos, 0))
			line.AttrNum("y2", spec.TickSize)
			label.AttrNum("y", offset).Attr("dy", "0.71em")
		} else {
			tick.Attr("transform", Translate(0, t.Pos))
			line.AttrNum("x2", sign*spec.TickSize)
			label.AttrNum("x", offset).Attr("dy", "0.32em")
		}
	}
	return g
}
