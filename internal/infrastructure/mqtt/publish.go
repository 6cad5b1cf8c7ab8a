package mqtt

import "fmt"

// checkAddress validates the topic and QoS shared by Publish and Subscribe.
func checkAddress(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// Publish sends payload to topic and waits for the broker's acknowledgement.
//
// Requests, replies and readings are never retained; only presence is.
// Payloads above 1MB are refused.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkAddress(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return waitAck(c.paho.Publish(topic, qos, retained, payload), ackTimeout, ErrPublishFailed)
}
