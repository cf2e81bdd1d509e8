package scene

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_Containers(t *testing.T) {
	doc := NewDocument()

	c, err := doc.AddContainer("heatmap")
	require.NoError(t, err)
	assert.Equal(t, "heatmap", c.ID())

	_, err = doc.AddContainer("heatmap")
	assert.ErrorIs(t, err, ErrDuplicateID)

	got, err := doc.Container("heatmap")
	require.NoError(t, err)
	assert.Same(t, c, got)

	_, err = doc.Container("missing")
	assert.ErrorIs(t, err, ErrContainerNotFound)

	assert.True(t, doc.RemoveContainer("heatmap"))
	assert.False(t, doc.RemoveContainer("heatmap"))
	_, err = doc.Container("heatmap")
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestNode_AttrKeepsOrder(t *testing.T) {
	n := newNode("rect").Attr("x", "1").Attr("y", "2").Attr("x", "3")

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, n))
	assert.Equal(t, `<rect x="3" y="2"></rect>`, buf.String())
}

func TestRender_EscapesTextAndAttributes(t *testing.T) {
	n := newNode("text").Attr("data-label", `a"b`).Text("T <cells> & B")

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, n))
	assert.Equal(t, `<text data-label="a&#34;b">T &lt;cells&gt; &amp; B</text>`, buf.String())
}

func TestRender_HandlersRoundTripThroughMarkup(t *testing.T) {
	doc := NewDocument()
	c, err := doc.AddContainer("root")
	require.NoError(t, err)

	c.Append("div").Attr("id", "tip")
	c.Append("rect").Attr("class", "tile").
		On(EventPointerMove, SetHTML("tip", "<b>A - B</b>"), FollowPointer("tip", 20, 0))

	var buf bytes.Buffer
	require.NoError(t, doc.Render(&buf))

	page, err := goquery.NewDocumentFromReader(strings.NewReader(buf.String()))
	require.NoError(t, err)

	raw, ok := page.Find("rect.tile").Attr("data-on-pointermove")
	require.True(t, ok)

	var actions []Action
	require.NoError(t, json.Unmarshal([]byte(raw), &actions))
	require.Len(t, actions, 2)
	assert.Equal(t, ActionSetHTML, actions[0].Kind)
	assert.Equal(t, "<b>A - B</b>", actions[0].Value)
	assert.Equal(t, ActionFollowPointer, actions[1].Kind)
	assert.Equal(t, 20.0, actions[1].DX)
}

func TestDispatch_AppliesActions(t *testing.T) {
	doc := NewDocument()
	c, err := doc.AddContainer("root")
	require.NoError(t, err)

	tip := c.Append("div").Attr("id", "tip").Style("opacity", "0")
	rect := c.Append("rect").Style("opacity", "0.8")
	rect.On(EventPointerEnter, SetStyle(Self, "opacity", "1"))
	rect.On(EventPointerMove, SetHTML("tip", "hello"), FollowPointer("tip", 20, 0))
	rect.On(EventPointerLeave, SetStyle("tip", "opacity", "1"), SetStyle(Self, "opacity", "0.8"))

	require.NoError(t, doc.Dispatch(rect, Event{Type: EventPointerEnter}))
	op, _ := rect.GetStyle("opacity")
	assert.Equal(t, "1", op)

	require.NoError(t, doc.Dispatch(rect, Event{Type: EventPointerMove, X: 42, Y: 7.5}))
	assert.Equal(t, "hello", tip.InnerHTML())
	left, _ := tip.GetStyle("left")
	top, _ := tip.GetStyle("top")
	assert.Equal(t, "62px", left)
	assert.Equal(t, "7.5px", top)

	require.NoError(t, doc.Dispatch(rect, Event{Type: EventPointerLeave}))
	op, _ = rect.GetStyle("opacity")
	assert.Equal(t, "0.8", op)
	tipOp, _ := tip.GetStyle("opacity")
	assert.Equal(t, "1", tipOp)
}

func TestDispatch_MissingTarget(t *testing.T) {
	doc := NewDocument()
	c, err := doc.AddContainer("root")
	require.NoError(t, err)

	rect := c.Append("rect").On(EventPointerMove, SetHTML("nope", "x"))
	err = doc.Dispatch(rect, Event{Type: EventPointerMove})
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestCanvas_AxisLayout(t *testing.T) {
	root := newNode("g")
	c := NewCanvas(root)

	axis := c.Axis(AxisSpec{
		Orient:     OrientRight,
		TickSize:   6,
		RangeStart: 50,
		RangeEnd:   -50,
		Domain:     true,
		Ticks: []Tick{
			{Label: "-1", Value: -1, Pos: 50},
			{Label: "0", Value: 0, Pos: 0},
			{Label: "1", Value: 1, Pos: -50},
		},
	})

	ticks := axis.FindAll(ByClass("tick"))
	require.Len(t, ticks, 3)
	tr, _ := ticks[0].GetAttr("transform")
	assert.Equal(t, "translate(0,50)", tr)

	label := ticks[2].FindAll(ByTag("text"))[0]
	x, _ := label.GetAttr("x")
	assert.Equal(t, "9", x)
	assert.Equal(t, "1", label.TextContent())

	domain := axis.FindAll(ByClass("domain"))
	require.Len(t, domain, 1)
	d, _ := domain[0].GetAttr("d")
	assert.Equal(t, "M6,50H0V-50H6", d)
}

func TestCanvas_AxisWithoutDomain(t *testing.T) {
	c := NewCanvas(newNode("g"))
	axis := c.Axis(AxisSpec{Orient: OrientLeft, Ticks: []Tick{{Label: "A", Pos: 10}}})

	assert.Empty(t, axis.FindAll(ByClass("domain")))
	anchor, _ := axis.GetAttr("text-anchor")
	assert.Equal(t, "end", anchor)
	x, _ := axis.FindAll(ByTag("text"))[0].GetAttr("x")
	assert.Equal(t, "-3", x)
}

func TestNum(t *testing.T) {
	assert.Equal(t, "0", Num(-0.00001))
	assert.Equal(t, "8.2927", Num(8.292682926829))
	assert.Equal(t, "-50", Num(-50))
}

func TestRenderPage_IncludesScript(t *testing.T) {
	doc := NewDocument()
	_, err := doc.AddContainer("heatmap")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, doc.RenderPage(&buf, "Colocalization"))

	out := buf.String()
	assert.Contains(t, out, "<title>Colocalization</title>")
	assert.Contains(t, out, `<div id="heatmap" style="position: relative"></div>`)
	assert.Contains(t, out, "data-on-")
}
