package scene

import (
	"errors"
	"fmt"
)

var (
	ErrContainerNotFound = errors.New("container not found")
	ErrElementNotFound   = errors.New("element not found")
	ErrDuplicateID       = errors.New("container id already in use")
)

// Document is the set of top-level containers one render owns. It is not
// safe for concurrent use; each request builds its own.
type Document struct {
	containers []*Node
}

func NewDocument() *Document {
	return &Document{}
}

// AddContainer creates an empty div with the given id.
func (d *Document) AddContainer(id string) (*Node, error) {
	for _, c := range d.containers {
		if c.ID() == id {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
	}
	c := newNode("div").Attr("id", id).Style("position", "relative")
	d.containers = append(d.containers, c)
	return c, nil
}

func (d *Document) Container(id string) (*Node, error) {
	for _, c := range d.containers {
		if c.ID() == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
}

// RemoveContainer detaches a container and everything drawn into it.
func (d *Document) RemoveContainer(id string) bool {
	for i, c := range d.containers {
		if c.ID() == id {
			d.containers = append(d.containers[:i], d.containers[i+1:]...)
			return true
		}
	}
	return false
}

func (d *Document) Containers() []*Node {
	return d.containers
}

// ElementByID returns the first element with the id, searching containers in
// order.
func (d *Document) ElementByID(id string) *Node {
	var found *Node
	for _, c := range d.containers {
		c.Walk(func(n *Node) bool {
			if found != nil {
				return false
			}
			if n.ID() == id {
				found = n
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

func (d *Document) Find(pred func(*Node) bool) []*Node {
	var out []*Node
	for _, c := range d.containers {
		out = append(out, c.FindAll(pred)...)
	}
	return out
}

// Dispatch runs the actions registered on node for ev.Type against the
// in-memory tree, the same way the page script does in a browser.
func (d *Document) Dispatch(node *Node, ev Event) error {
	for _, a := range node.Handlers(ev.Type) {
		target := node
		if a.Target != Self {
			target = d.ElementByID(a.Target)
			if target == nil {
				return fmt.Errorf("%w: %s", ErrElementNotFound, a.Target)
			}
		}
		if err := a.apply(target, ev); err != nil {
			return err
		}
	}
	return nil
}
