package session

import (
	"encoding/json"

	"github.com/breeze-rmm/streamcore/internal/input"
)

const (
	maxBitrateCap = 20_000_000
	maxFrameRate  = 60
)

// controlMessage is sent by the viewer on the control data channel.
type controlMessage struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

func (c *Controller) handleDataMessage(label string, data []byte) {
	switch label {
	case labelInput:
		c.handleInputMessage(data)
	case labelControl:
		c.handleControlMessage(data)
	}
}

// handleInputMessage relays one viewer input event to the injector.
func (c *Controller) handleInputMessage(data []byte) {
	if c.injector == nil {
		return
	}
	ev, err := input.ParseEvent(data)
	if err != nil {
		c.log.Warn("rejected input event", "error", err)
		return
	}
	if err := c.injector.Inject(c.ctx, ev); err != nil {
		c.log.Warn("failed to inject input event", "type", ev.Type, "error", err)
	}
}

// handleControlMessage processes control messages (bitrate, fps, key frame,
// recording and audio toggles).
func (c *Controller) handleControlMessage(data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn("failed to parse control message", "error", err)
		return
	}

	switch msg.Type {
	case "request_keyframe":
		c.enc.ForceKeyframe()
	case "set_bitrate":
		if msg.Value <= 0 || msg.Value > maxBitrateCap {
			c.log.Warn("bitrate out of range", "bitrate", msg.Value)
			return
		}
		if err := c.enc.SetBitrate(msg.Value); err != nil {
			c.log.Warn("failed to set bitrate", "bitrate", msg.Value, "error", err)
		}
	case "set_fps":
		if msg.Value <= 0 || msg.Value > maxFrameRate {
			c.log.Warn("fps out of range", "fps", msg.Value)
			return
		}
		if err := c.enc.SetFPS(msg.Value); err != nil {
			c.log.Warn("failed to set fps", "fps", msg.Value, "error", err)
			return
		}
		c.pipe.setFPS(msg.Value)
	case "start_recording":
		c.startRecording()
	case "stop_recording":
		c.finishRecording()
	case "toggle_audio":
		if c.audio == nil {
			return
		}
		enabled := msg.Value != 0
		c.audio.setEnabled(enabled)
		c.log.Info("audio toggled", "enabled", enabled)
	default:
		c.log.Debug("unknown control message", "type", msg.Type)
	}
}
