package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrMalformedSDP is returned for a remote description that does not parse.
	ErrMalformedSDP = errors.New("session: malformed SDP")

	// ErrMalformedCandidate is returned for a remote ICE candidate that does
	// not parse.
	ErrMalformedCandidate = errors.New("session: malformed ICE candidate")
)

// validateSDP parses a remote description before it reaches the transport.
func validateSDP(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: empty", ErrMalformedSDP)
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSDP, err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: no media sections", ErrMalformedSDP)
	}
	return nil
}

// parseCandidate accepts either the JSON form of an ICE candidate init or a
// bare "candidate:" attribute line. An empty candidate string marks the end
// of the remote candidates and is returned without validation.
func parseCandidate(payload string) (webrtc.ICECandidateInit, error) {
	payload = strings.TrimSpace(payload)
	var init webrtc.ICECandidateInit
	if strings.HasPrefix(payload, "{") {
		if err := json.Unmarshal([]byte(payload), &init); err != nil {
			return init, fmt.Errorf("%w: %v", ErrMalformedCandidate, err)
		}
	} else {
		init.Candidate = payload
	}

	line := strings.TrimPrefix(strings.TrimPrefix(init.Candidate, "a="), "candidate:")
	if line == "" {
		return init, nil
	}
	if _, err := ice.UnmarshalCandidate(line); err != nil {
		return init, fmt.Errorf("%w: %v", ErrMalformedCandidate, err)
	}
	return init, nil
}

// encodeCandidate renders a local candidate for the signaling wire.
func encodeCandidate(c webrtc.ICECandidateInit) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
