package device

import "bytes"

// Request verbs. A request is published on the device topic and the device
// answers on the same topic.
const (
	// RequestRead asks a device for its current value.
	RequestRead = "GET"

	// RequestToggle flips a switch.
	RequestToggle = "TOGGLE"
)

// Switch replies.
const (
	StateOn  = "ON"
	StateOff = "OFF"
)

// IsRequest reports whether payload is one of the request verbs.
func IsRequest(payload []byte) bool {
	p := bytes.TrimSpace(payload)
	return string(p) == RequestRead || string(p) == RequestToggle
}

// IsReply reports whether payload can be a device reply. Requests share the
// device topic, so every subscriber also sees them; they are not replies.
func IsReply(payload []byte) bool {
	return !IsRequest(payload)
}

// DefaultRequest is the verb a query sends to a device of the given kind.
func DefaultRequest(kind Kind) string {
	if kind == KindSwitch {
		return RequestToggle
	}
	return RequestRead
}

// ValidRequest reports whether verb is a known request verb.
func ValidRequest(verb string) bool {
	return verb == RequestRead || verb == RequestToggle
}
