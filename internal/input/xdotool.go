package input

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// xdotool button numbers.
var buttons = map[string]string{
	"":       "1",
	"left":   "1",
	"middle": "2",
	"right":  "3",
}

const (
	scrollUp   = "4"
	scrollDown = "5"
)

var modifierNames = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"alt":     "alt",
	"shift":   "shift",
	"meta":    "super",
	"super":   "super",
	"win":     "super",
	"cmd":     "super",
}

// X11 keysym names for viewer key names. Symbols are mapped so xdotool does
// not read them as flags.
var keysyms = map[string]string{
	"enter": "Return", "return": "Return", "tab": "Tab", "space": "space",
	"backspace": "BackSpace", "escape": "Escape", "esc": "Escape",
	"delete": "Delete", "del": "Delete", "insert": "Insert",
	"home": "Home", "end": "End", "pageup": "Page_Up", "pagedown": "Page_Down",
	"up": "Up", "down": "Down", "left": "Left", "right": "Right",
	"-": "minus", "=": "equal", "[": "bracketleft", "]": "bracketright",
	"\\": "backslash", ";": "semicolon", "'": "apostrophe", "`": "grave",
	",": "comma", ".": "period", "/": "slash",
	"add": "KP_Add", "subtract": "KP_Subtract", "multiply": "KP_Multiply",
	"divide": "KP_Divide", "decimal": "KP_Decimal",
	"capslock": "Caps_Lock", "numlock": "Num_Lock", "scrolllock": "Scroll_Lock",
	"printscreen": "Print", "pause": "Pause",
}

func keysym(key string) string {
	lower := strings.ToLower(key)
	if s, ok := keysyms[lower]; ok {
		return s
	}
	if n, ok := strings.CutPrefix(lower, "num"); ok && len(n) == 1 && n[0] >= '0' && n[0] <= '9' {
		return "KP_" + n
	}
	if n, ok := strings.CutPrefix(lower, "f"); ok {
		if i, err := strconv.Atoi(n); err == nil && i >= 1 && i <= 24 {
			return "F" + n
		}
	}
	return key
}

// xdotoolCommands translates an event into xdotool invocations.
func xdotoolCommands(ev Event) ([][]string, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	move := []string{"mousemove", strconv.Itoa(ev.X), strconv.Itoa(ev.Y)}

	switch ev.Type {
	case MouseMove:
		return [][]string{move}, nil
	case MouseClick, MouseDown, MouseUp:
		btn, ok := buttons[ev.Button]
		if !ok {
			return nil, fmt.Errorf("unknown mouse button %q", ev.Button)
		}
		verb := map[EventType]string{MouseClick: "click", MouseDown: "mousedown", MouseUp: "mouseup"}[ev.Type]
		return [][]string{move, {verb, btn}}, nil
	case MouseScroll:
		if ev.Delta == 0 {
			return [][]string{move}, nil
		}
		dir, n := scrollUp, ev.Delta
		if n < 0 {
			dir, n = scrollDown, -n
		}
		return [][]string{move, {"click", "--repeat", strconv.Itoa(n), dir}}, nil
	case KeyPress:
		parts := make([]string, 0, len(ev.Modifiers)+1)
		for _, m := range ev.Modifiers {
			if name, ok := modifierNames[strings.ToLower(m)]; ok {
				parts = append(parts, name)
			}
		}
		parts = append(parts, keysym(ev.Key))
		return [][]string{{"key", "--", strings.Join(parts, "+")}}, nil
	case KeyDown:
		return [][]string{{"keydown", "--", keysym(ev.Key)}}, nil
	case KeyUp:
		return [][]string{{"keyup", "--", keysym(ev.Key)}}, nil
	}
	return nil, fmt.Errorf("unknown event type: %q", ev.Type)
}

type runFunc func(ctx context.Context, args ...string) error

// Xdotool injects events on X11 by running xdotool.
type Xdotool struct {
	run runFunc
}

func newXdotool() (*Xdotool, error) {
	path, err := exec.LookPath("xdotool")
	if err != nil {
		return nil, fmt.Errorf("%w: xdotool not found: %v", ErrNotSupported, err)
	}
	return &Xdotool{run: func(ctx context.Context, args ...string) error {
		out, err := exec.CommandContext(ctx, path, args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("xdotool %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
		}
		return nil
	}}, nil
}

func (x *Xdotool) Inject(ctx context.Context, ev Event) error {
	cmds, err := xdotoolCommands(ev)
	if err != nil {
		return err
	}
	for _, args := range cmds {
		if err := x.run(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func (x *Xdotool) Name() string { return "xdotool" }
