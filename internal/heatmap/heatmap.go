// Package heatmap draws the cell-cell colocalization heatmap: a square grid
// of pairwise Spearman coefficients between phenotypes, with band axes, a
// diverging colour legend and hover tooltips.
//
// A Widget is bound to one container of a scene.Document. Initialize fetches
// the matrix from its DataSource once and draws; there is no update path.
package heatmap

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"math"
	"strconv"

	"github.com/minerva/colocmap/internal/models"
	"github.com/minerva/colocmap/internal/scale"
	"github.com/minerva/colocmap/internal/scene"
)

var ErrDimensionMismatch = errors.New("matrix dimensions do not match phenotypes")

// DataSource is the data layer the widget reads from.
type DataSource interface {
	// HeatmapData fetches the square correlation matrix, rows and columns in
	// Phenotypes order.
	HeatmapData(ctx context.Context) (models.CorrelationMatrix, error)
	Phenotypes() []models.Category
}

type State int

const (
	StateUnloaded State = iota
	StateRendered
)

func (s State) String() string {
	if s == StateRendered {
		return "rendered"
	}
	return "unloaded"
}

const (
	DefaultTitle    = "Cell-Cell Colocalization"
	DefaultSubtitle = "Spearman rank correlation coefficient of each pair of cell-types"

	// SVGID is the id of the drawing surface appended to the container.
	SVGID = "heatmap-svg"
)

// Layout of the drawing surface, in SVG user units.
const (
	SurfaceWidth  = 600
	SurfaceHeight = 600
	MarginTop     = 100
	MarginRight   = 100
	MarginBottom  = 160
	MarginLeft    = 160

	PlotWidth  = SurfaceWidth - MarginLeft - MarginRight
	PlotHeight = SurfaceHeight - MarginTop - MarginBottom

	BandPadding  = 0.05
	TileRadius   = 4
	TileOpacity  = "0.8"
	DiagonalFill = "white"

	TooltipOffsetX = 20

	LegendHalfExtent = 50
	LegendWidth      = 10
	LegendLabelGap   = 10
)

type options struct {
	title              string
	subtitle           string
	hideTooltipOnLeave bool
	logger             *slog.Logger
}

type Option func(*options)

func WithTitle(title string) Option {
	return func(o *options) { o.title = title }
}

func WithSubtitle(subtitle string) Option {
	return func(o *options) { o.subtitle = subtitle }
}

// WithHideTooltipOnLeave makes the tooltip visible while the pointer moves
// over a tile and hidden again when it leaves. Without it the tooltip only
// becomes visible after the first pointer-leave and then stays visible.
func WithHideTooltipOnLeave() Option {
	return func(o *options) { o.hideTooltipOnLeave = true }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

type Widget struct {
	id     string
	source DataSource
	opts   options

	categories []models.Category
	tiles      []models.Tile
	state      State
	color      *scale.Sequential
}

func New(containerID string, source DataSource, opts ...Option) *Widget {
	o := options{
		title:    DefaultTitle,
		subtitle: DefaultSubtitle,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Widget{
		id:     containerID,
		source: source,
		opts:   o,
		state:  StateUnloaded,
		color:  ColorScale(),
	}
}

// ColorScale maps coefficients onto RdBu over the reversed domain [1, -1]:
// +1 is dark red, -1 dark blue.
func ColorScale() *scale.Sequential {
	return scale.NewSequential(1, -1, scale.InterpolateRdBu)
}

func (w *Widget) ContainerID() string {
	return w.id
}

func (w *Widget) State() State {
	return w.state
}

// Tiles returns a copy of the tiles built by Initialize.
func (w *Widget) Tiles() []models.Tile {
	return append([]models.Tile(nil), w.tiles...)
}

func (w *Widget) Categories() []models.Category {
	return append([]models.Category(nil), w.categories...)
}

func (w *Widget) TooltipID() string {
	return w.id + "-tooltip"
}

// Initialize fetches the matrix, flattens it into tiles and draws into doc.
// A failed fetch is returned wrapped and nothing is drawn.
func (w *Widget) Initialize(ctx context.Context, doc *scene.Document) error {
	matrix, err := w.source.HeatmapData(ctx)
	if err != nil {
		return fmt.Errorf("fetching heatmap data: %w", err)
	}

	cats := w.source.Phenotypes()
	if err := matrix.Validate(len(cats)); err != nil {
		return fmt.Errorf("%w: %w", ErrDimensionMismatch, err)
	}
	if n := matrix.OutOfRange(); n > 0 {
		w.opts.logger.Warn("correlation values outside [-1, 1]", "container", w.id, "cells", n)
	}

	w.categories = append([]models.Category(nil), cats...)
	w.tiles = models.Flatten(w.categories, matrix)

	return w.Draw(doc)
}

// Draw builds the scene inside the widget's container. It is not idempotent:
// a second call appends a second copy of every element.
func (w *Widget) Draw(doc *scene.Document) error {
	container, err := doc.Container(w.id)
	if err != nil {
		return fmt.Errorf("drawing heatmap: %w", err)
	}

	w.drawTooltip(container)

	svg := container.Append("svg").
		Attr("xmlns", "http://www.w3.org/2000/svg").
		AttrNum("width", SurfaceWidth).
		AttrNum("height", SurfaceHeight).
		Attr("id", SVGID)
	plot := scene.NewCanvas(svg.Append("g").Attr("transform", scene.Translate(MarginLeft, MarginTop)))

	x := scale.NewBand(w.categories, 0, PlotWidth, BandPadding)
	y := scale.NewBand(w.categories, 0, PlotHeight, BandPadding)

	w.drawXAxis(plot, x)
	w.drawYAxis(plot, y)
	w.drawTiles(plot, x, y)
	w.drawTitles(plot)
	w.drawLegend(plot)

	w.state = StateRendered
	w.opts.logger.Debug("heatmap drawn",
		"container", w.id,
		"phenotypes", len(w.categories),
		"tiles", len(w.tiles))
	return nil
}

func (w *Widget) drawTooltip(container *scene.Node) {
	container.Append("div").
		Attr("id", w.TooltipID()).
		Attr("class", "tooltip").
		Style("opacity", "0").
		Style("position", "absolute").
		Style("background-color", "white").
		Style("border", "solid").
		Style("z-index", "1").
		Style("border-width", "1px").
		Style("border-radius", "5px").
		Style("padding", "5px")
}

func bandTicks(b *scale.BandScale) []scene.Tick {
	ticks := make([]scene.Tick, 0, len(b.Domain()))
	for i, c := range b.Domain() {
		pos, _ := b.Center(c)
		ticks = append(ticks, scene.Tick{Label: string(c), Value: float64(i), Pos: pos})
	}
	return ticks
}

func (w *Widget) drawXAxis(plot *scene.Canvas, x *scale.BandScale) {
	axis := plot.Group(0, PlotHeight).Axis(scene.AxisSpec{
		Orient:     scene.OrientBottom,
		Ticks:      bandTicks(x),
		RangeStart: 0,
		RangeEnd:   PlotWidth,
		Domain:     true,
	})
	axis.Attr("class", "x-axis")

	for _, label := range axis.FindAll(scene.ByTag("text")) {
		label.Style("text-anchor", "end").
			Attr("dx", "-.8em").
			Attr("dy", ".15em").
			Attr("font-size", "0.6rem").
			Attr("transform", "rotate(-90)")
	}
}

func (w *Widget) drawYAxis(plot *scene.Canvas, y *scale.BandScale) {
	axis := plot.Group(0, 0).Axis(scene.AxisSpec{
		Orient: scene.OrientLeft,
		Ticks:  bandTicks(y),
	})
	axis.Attr("class", "y-axis").Style("font-size", "0.6rem")
}

func (w *Widget) drawTiles(plot *scene.Canvas, x, y *scale.BandScale) {
	tip := w.TooltipID()
	leaveOpacity := "1"
	if w.opts.hideTooltipOnLeave {
		leaveOpacity = "0"
	}

	for _, t := range w.tiles {
		px, okX := x.Position(t.Col)
		py, okY := y.Position(t.Row)
		if !okX || !okY {
			continue
		}

		rect := plot.Rect(px, py, x.Bandwidth(), y.Bandwidth()).
			Attr("class", "tile").
			AttrNum("rx", TileRadius).
			AttrNum("ry", TileRadius).
			Attr("data-row", string(t.Row)).
			Attr("data-col", string(t.Col)).
			Attr("data-value", strconv.FormatFloat(t.Value, 'g', -1, 64)).
			Style("fill", w.TileFill(t)).
			Style("stroke", "none").
			Style("opacity", TileOpacity)

		rect.On(scene.EventPointerEnter,
			scene.SetStyle(scene.Self, "opacity", "1"),
			scene.SetStyle(scene.Self, "stroke", "black"),
			scene.SetStyle(scene.Self, "stroke-width", "1px"))

		move := []scene.Action{
			scene.SetHTML(tip, TooltipHTML(t)),
			scene.FollowPointer(tip, TooltipOffsetX, 0),
		}
		if w.opts.hideTooltipOnLeave {
			move = append(move, scene.SetStyle(tip, "opacity", "1"))
		}
		rect.On(scene.EventPointerMove, move...)

		rect.On(scene.EventPointerLeave,
			scene.SetStyle(tip, "opacity", leaveOpacity),
			scene.SetStyle(scene.Self, "stroke", "none"),
			scene.SetStyle(scene.Self, "opacity", TileOpacity))
	}
}

// TileFill is white on the diagonal and the coefficient's colour elsewhere.
func (w *Widget) TileFill(t models.Tile) string {
	if t.Diagonal() {
		return DiagonalFill
	}
	return w.color.Color(t.Value)
}

func (w *Widget) drawTitles(plot *scene.Canvas) {
	plot.Text(0, -50, w.opts.title).
		Attr("class", "title").
		Attr("text-anchor", "left").
		Style("font-size", "22px")

	plot.Text(0, -30, w.opts.subtitle).
		Attr("class", "subtitle").
		Attr("text-anchor", "left").
		Style("font-size", "14px").
		Style("fill", "grey").
		Style("max-width", "400")
}

// LegendScale maps [-1, 1] onto the legend's pixel range, +1 at the top.
func LegendScale() *scale.LinearScale {
	return scale.NewLinear(-1, 1, LegendHalfExtent, -LegendHalfExtent)
}

// LegendTicks are the values labelled on the legend axis.
var LegendTicks = []float64{-1, 0, 1}

func (w *Widget) drawLegend(plot *scene.Canvas) {
	ls := LegendScale()

	ticks := make([]scene.Tick, len(LegendTicks))
	for i, v := range LegendTicks {
		ticks[i] = scene.Tick{Label: strconv.FormatFloat(v, 'f', -1, 64), Value: v, Pos: ls.Map(v)}
	}
	r0, r1 := ls.Range()
	plot.Group(PlotWidth+15, PlotHeight/2).Axis(scene.AxisSpec{
		Orient:     scene.OrientRight,
		Ticks:      ticks,
		TickSize:   6,
		RangeStart: r0,
		RangeEnd:   r1,
		Domain:     true,
	}).Attr("class", "legend-axis")

	legend := plot.Group(PlotWidth+5, PlotHeight/2)
	legend.Root().Attr("class", "legend")
	for px := -LegendHalfExtent; px <= LegendHalfExtent; px++ {
		legend.Rect(0, float64(px), LegendWidth, 1).
			Attr("class", "legend-step").
			Attr("fill", w.color.Color(ls.Invert(float64(px))))
	}

	legend.Text(0, LegendHalfExtent+LegendLabelGap, "Avoidance").
		Attr("font-size", "0.8rem").
		Attr("dominant-baseline", "middle")
	legend.Text(0, -(LegendHalfExtent + LegendLabelGap), "Interaction").
		Attr("font-size", "0.8rem").
		Attr("dominant-baseline", "middle")
}

// FormatCoefficient rounds to exactly two decimals.
func FormatCoefficient(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	r := math.Round(v*100) / 100
	if r == 0 {
		r = 0
	}
	return strconv.FormatFloat(r, 'f', 2, 64)
}

// TooltipHTML is the hover content for a tile.
func TooltipHTML(t models.Tile) string {
	return fmt.Sprintf("<span>%s - %s</span><br><span>Spearman Correlation coefficient: <b>%s</b></span>",
		html.EscapeString(string(t.Row)),
		html.EscapeString(string(t.Col)),
		FormatCoefficient(t.Value))
}
