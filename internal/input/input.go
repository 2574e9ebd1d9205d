// Package input injects remote mouse and keyboard events into the local
// desktop.
package input

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/breeze-rmm/streamcore/internal/logging"
)

var log = logging.L("input")

// EventType names a remote input action.
type EventType string

const (
	MouseMove   EventType = "mouse_move"
	MouseClick  EventType = "mouse_click"
	MouseDown   EventType = "mouse_down"
	MouseUp     EventType = "mouse_up"
	MouseScroll EventType = "mouse_scroll"
	KeyPress    EventType = "key_press"
	KeyDown     EventType = "key_down"
	KeyUp       EventType = "key_up"
)

// ErrNotSupported is returned for a backend unavailable on this host.
var ErrNotSupported = errors.New("input backend not supported")

// Event is one input action as sent by the viewer.
type Event struct {
	Type      EventType `json:"type"`
	X         int       `json:"x,omitempty"`
	Y         int       `json:"y,omitempty"`
	Button    string    `json:"button,omitempty"`    // left, right, middle
	Key       string    `json:"key,omitempty"`       // key name or character
	Modifiers []string  `json:"modifiers,omitempty"` // ctrl, alt, shift, meta
	Delta     int       `json:"delta,omitempty"`     // scroll steps, positive is up
}

// ParseEvent decodes and validates a JSON event.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode input event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate checks that the event carries what its type needs.
func (e Event) Validate() error {
	switch e.Type {
	case MouseMove, MouseClick, MouseDown, MouseUp, MouseScroll:
		if e.X < 0 || e.Y < 0 {
			return fmt.Errorf("%s: negative coordinates (%d,%d)", e.Type, e.X, e.Y)
		}
	case KeyPress, KeyDown, KeyUp:
		if e.Key == "" {
			return fmt.Errorf("%s: missing key", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type: %q", e.Type)
	}
	return nil
}

// Injector delivers events to the desktop.
type Injector interface {
	Inject(ctx context.Context, ev Event) error
	Name() string
}

// New returns the named injector. An empty name selects the platform
// default.
func New(backend string) (Injector, error) {
	switch backend {
	case "":
		return platformDefault(), nil
	case "log", "none":
		return LogInjector{}, nil
	case "xdotool":
		return newXdotool()
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotSupported, backend)
	}
}

// LogInjector records events without touching the desktop.
type LogInjector struct{}

func (LogInjector) Inject(_ context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	log.Debug("input event", "type", ev.Type, "x", ev.X, "y", ev.Y, "key", ev.Key)
	return nil
}

func (LogInjector) Name() string { return "log" }
