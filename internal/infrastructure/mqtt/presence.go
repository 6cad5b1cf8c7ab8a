package mqtt

import (
	"encoding/json"
	"time"
)

// Presence values published retained on the status topic.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"

	reasonLost     = "unexpected_disconnect"
	reasonShutdown = "graceful_shutdown"
)

// Presence announces that a controller or simulator joined or left the bus.
type Presence struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func newPresence(status, clientID, reason string) []byte {
	data, _ := json.Marshal(Presence{ //nolint:errcheck // Plain strings always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return data
}
