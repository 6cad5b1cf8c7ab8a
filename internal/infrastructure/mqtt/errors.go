package mqtt

import (
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Sentinel errors; check with errors.Is.
var (
	ErrConnectionFailed = errors.New("mqtt: cannot reach broker")
	ErrNotConnected     = errors.New("mqtt: not connected to broker")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrInvalidTopic     = errors.New("mqtt: empty topic")
	ErrInvalidQoS       = errors.New("mqtt: qos must be 0, 1 or 2")
)

// waitAck waits up to timeout for a paho token and wraps any failure in op.
func waitAck(token pahomqtt.Token, timeout time.Duration, op error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: no acknowledgement after %v", op, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	return nil
}
