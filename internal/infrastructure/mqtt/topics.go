package mqtt

import (
	"strings"

	"github.com/nerrad567/homebus/internal/infrastructure/config"
)

// Reserved leaf segments under the namespace that are not device topics.
const (
	// AnnounceSegment is the leaf of the topic new switches are announced on.
	AnnounceSegment = "add_device"

	// StatusSegment is the leaf of the controller online/offline topic.
	StatusSegment = "status"
)

// Topics provides builders for homebus MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Every device lives directly under the namespace:
//
//	topics := mqtt.Topics{Root: "redes2", Realm: "2312", Group: "1"}
//	topics.Device("switch", "2")
//	// Returns: "redes2/2312/1/switch_2"
//
// Requests and replies share the device topic, so a publish to a device
// topic is also seen by every subscriber of that topic, including the
// publisher itself.
type Topics struct {
	Root  string
	Realm string
	Group string
}

// TopicsFromConfig builds Topics from the topics section of the config.
func TopicsFromConfig(cfg config.TopicsConfig) Topics {
	return Topics{Root: cfg.Root, Realm: cfg.Realm, Group: cfg.Group}
}

// Prefix returns the namespace without a trailing slash.
//
// Example: redes2/2312/1
func (t Topics) Prefix() string {
	return t.Root + "/" + t.Realm + "/" + t.Group
}

// Device returns the topic of a single device.
//
// Example: redes2/2312/1/sensor_1
func (t Topics) Device(kind, id string) string {
	return t.Prefix() + "/" + kind + "_" + id
}

// Request returns the topic requests to a device are published on.
func (t Topics) Request(kind, id string) string {
	return t.Device(kind, id)
}

// Response returns the topic replies from a device arrive on.
func (t Topics) Response(kind, id string) string {
	return t.Device(kind, id)
}

// AllDevices returns the subscription pattern matching every device topic.
// It also matches the announcement and status topics; use ParseDevice to
// tell them apart.
//
// Example: redes2/2312/1/+
func (t Topics) AllDevices() string {
	return t.Prefix() + "/+"
}

// Announce returns the topic new switches are announced on.
//
// Example: redes2/2312/1/add_device
func (t Topics) Announce() string {
	return t.Prefix() + "/" + AnnounceSegment
}

// Status returns the controller status topic, also used for the LWT.
//
// Example: redes2/2312/1/status
func (t Topics) Status() string {
	return t.Prefix() + "/" + StatusSegment
}

// ParseDevice splits a device topic back into kind and id.
//
// It returns ok=false for topics outside the namespace, for nested topics,
// for the reserved leaves and for leaves that are not shaped <kind>_<id>.
// The kind is not checked against the known device kinds.
func (t Topics) ParseDevice(topic string) (kind, id string, ok bool) {
	leaf, found := strings.CutPrefix(topic, t.Prefix()+"/")
	if !found || leaf == "" || strings.Contains(leaf, "/") {
		return "", "", false
	}
	if leaf == AnnounceSegment || leaf == StatusSegment {
		return "", "", false
	}

	sep := strings.LastIndexByte(leaf, '_')
	if sep <= 0 || sep == len(leaf)-1 {
		return "", "", false
	}
	return leaf[:sep], leaf[sep+1:], true
}
