// Package scene is a small retained element tree for building SVG/HTML
// visualisations on the server. A widget appends nodes into named
// containers of a Document it owns; the Document renders to markup, and the
// declarative hover behaviour attached to nodes can be replayed in memory
// with Dispatch.
package scene

import (
	"math"
	"strconv"
	"strings"
)

type pair struct {
	key   string
	value string
}

type Node struct {
	Tag string

	attrs    []pair
	styles   []pair
	text     string
	html     string
	children []*Node
	parent   *Node
	handlers map[EventType][]Action
}

func newNode(tag string) *Node {
	return &Node{Tag: tag}
}

// Append creates a child element and returns it.
func (n *Node) Append(tag string) *Node {
	child := newNode(tag)
	child.parent = n
	n.children = append(n.children, child)
	return child
}

func (n *Node) Children() []*Node {
	return n.children
}

func (n *Node) Parent() *Node {
	return n.parent
}

// Attr sets an attribute, keeping the position of an existing one.
func (n *Node) Attr(key, value string) *Node {
	n.attrs = set(n.attrs, key, value)
	return n
}

// AttrNum sets a numeric attribute.
func (n *Node) AttrNum(key string, v float64) *Node {
	return n.Attr(key, Num(v))
}

func (n *Node) GetAttr(key string) (string, bool) {
	return get(n.attrs, key)
}

func (n *Node) ID() string {
	id, _ := n.GetAttr("id")
	return id
}

func (n *Node) Style(prop, value string) *Node {
	n.styles = set(n.styles, prop, value)
	return n
}

func (n *Node) GetStyle(prop string) (string, bool) {
	return get(n.styles, prop)
}

// Text replaces the node's content with escaped text.
func (n *Node) Text(s string) *Node {
	n.text = s
	n.html = ""
	return n
}

// HTML replaces the node's content with trusted markup.
func (n *Node) HTML(s string) *Node {
	n.html = s
	n.text = ""
	return n
}

func (n *Node) TextContent() string {
	return n.text
}

func (n *Node) InnerHTML() string {
	return n.html
}

// HasClass reports whether the class attribute contains name.
func (n *Node) HasClass(name string) bool {
	cls, ok := n.GetAttr("class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(cls) {
		if c == name {
			return true
		}
	}
	return false
}

// On registers actions to run when ev fires on this node.
func (n *Node) On(ev EventType, actions ...Action) *Node {
	if n.handlers == nil {
		n.handlers = make(map[EventType][]Action)
	}
	n.handlers[ev] = append(n.handlers[ev], actions...)
	return n
}

func (n *Node) Handlers(ev EventType) []Action {
	return n.handlers[ev]
}

// Walk visits n and its descendants depth first. Returning false from fn
// skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// FindAll returns every descendant (n included) matching pred, in document
// order.
func (n *Node) FindAll(pred func(*Node) bool) []*Node {
	var out []*Node
	n.Walk(func(x *Node) bool {
		if pred(x) {
			out = append(out, x)
		}
		return true
	})
	return out
}

func ByTag(tag string) func(*Node) bool {
	return func(n *Node) bool { return n.Tag == tag }
}

func ByClass(class string) func(*Node) bool {
	return func(n *Node) bool { return n.HasClass(class) }
}

// Num formats a coordinate with at most four decimals.
func Num(v float64) string {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		r = 0
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

func set(list []pair, key, value string) []pair {
	for i := range list {
		if list[i].key == key {
			list[i].value = value
			return list
		}
	}
	return append(list, pair{key: key, value: value})
}

func get(list []pair, key string) (string, bool) {
	for _, p := range list {
		if p.key == key {
			return p.value, true
		}
	}
	return "", false
}
