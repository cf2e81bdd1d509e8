package scene

import (
	"encoding/json"
	"fmt"
)

type EventType string

const (
	EventPointerEnter EventType = "pointerenter"
	EventPointerMove  EventType = "pointermove"
	EventPointerLeave EventType = "pointerleave"
)

// Self targets the node the event fired on.
const Self = "self"

type ActionKind string

const (
	ActionSetStyle      ActionKind = "style"
	ActionSetHTML       ActionKind = "html"
	ActionFollowPointer ActionKind = "follow"
)

// Action is one declarative reaction to an event. Target is Self or the id of
// another element in the same Document.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Target string     `json:"target"`
	Prop   string     `json:"prop,omitempty"`
	Value  string     `json:"value,omitempty"`
	DX     float64    `json:"dx,omitempty"`
	DY     float64    `json:"dy,omitempty"`
}

func SetStyle(target, prop, value string) Action {
	return Action{Kind: ActionSetStyle, Target: target, Prop: prop, Value: value}
}

func SetHTML(target, html string) Action {
	return Action{Kind: ActionSetHTML, Target: target, Value: html}
}

// FollowPointer moves an absolutely positioned element to the pointer,
// offset by (dx, dy) pixels.
func FollowPointer(target string, dx, dy float64) Action {
	return Action{Kind: ActionFollowPointer, Target: target, DX: dx, DY: dy}
}

// Event is a pointer event in container pixel coordinates.
type Event struct {
	Type EventType
	X    float64
	Y    float64
}

func (a Action) apply(target *Node, ev Event) error {
	switch a.Kind {
	case ActionSetStyle:
		target.Style(a.Prop, a.Value)
	case ActionSetHTML:
		target.HTML(a.Value)
	case ActionFollowPointer:
		target.Style("left", Num(ev.X+a.DX)+"px")
		target.Style("top", Num(ev.Y+a.DY)+"px")
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

func encodeActions(actions []Action) (string, error) {
	data, err := json.Marshal(actions)
	if err != nil {
		return "", fmt.Errorf("encoding actions: %w", err)
	}
	return string(data), nil
}
