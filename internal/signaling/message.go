// Package signaling carries session negotiation messages between the
// streaming engine and a remote peer.
//
// Messages are plain text frames prefixed with their type: "offer:<sdp>",
// "answer:<sdp>" and "candidate:<candidate>". Anything else is passed
// through untyped and ignored by the session.
package signaling

import "strings"

// MessageType identifies a signaling message.
type MessageType string

const (
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "candidate"
	TypeOther     MessageType = ""
)

const separator = ":"

// Message is one parsed signaling frame.
type Message struct {
	Type    MessageType
	Payload string
}

// Parse splits a raw frame on its type prefix. Unknown prefixes yield
// TypeOther with the whole frame as payload.
func Parse(raw string) Message {
	for _, t := range []MessageType{TypeOffer, TypeAnswer, TypeCandidate} {
		if rest, ok := strings.CutPrefix(raw, string(t)+separator); ok {
			return Message{Type: t, Payload: rest}
		}
	}
	return Message{Type: TypeOther, Payload: raw}
}

// String formats the message for the wire.
func (m Message) String() string {
	if m.Type == TypeOther {
		return m.Payload
	}
	return string(m.Type) + separator + m.Payload
}

func Offer(sdp string) Message { return Message{Type: TypeOffer, Payload: sdp} }

func Answer(sdp string) Message { return Message{Type: TypeAnswer, Payload: sdp} }

func Candidate(candidate string) Message {
	return Message{Type: TypeCandidate, Payload: candidate}
}
