package mqtt

import "fmt"

// maxPayloadSize bounds one publish. Evidence travels base64-encoded inside
// setup.apontamento bodies, so this is also the attachment ceiling.
const maxPayloadSize = 1 << 20

// Publish hands payload to paho and waits until it is written to the socket.
// CmControl traffic is QoS 0 and never retained; other values are accepted
// for the Last Will and tests.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := ValidatePublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload over the %d byte limit", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s not written within %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
