package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTChannel publishes alerts to an MQTT broker topic.
type MQTTChannel struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

// MQTTOption configures the MQTT channel.
type MQTTOption func(*MQTTChannel)

// WithQoS overrides the publish QoS level.
func WithQoS(qos byte) MQTTOption {
	return func(ch *MQTTChannel) {
		if qos <= 2 {
			ch.qos = qos
		}
	}
}

// WithPublishTimeout overrides the publish wait timeout.
func WithPublishTimeout(timeout time.Duration) MQTTOption {
	return func(ch *MQTTChannel) {
		if timeout > 0 {
			ch.timeout = timeout
		}
	}
}

// NewMQTTChannel connects to the broker and returns a publishing channel.
func NewMQTTChannel(brokerURL, clientID, topic string, opts ...MQTTOption) (*MQTTChannel, error) {
	if brokerURL == "" || topic == "" {
		return nil, errors.New("mqtt channel: empty broker url or topic")
	}
	if clientID == "" {
		clientID = "outlier-monitor"
	}
	options := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(options)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.New("mqtt channel: connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt channel: connect: %w", err)
	}

	channel := &MQTTChannel{
		client:  client,
		topic:   topic,
		qos:     0,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send publishes the content to the configured topic.
func (c *MQTTChannel) Send(ctx context.Context, content string) error {
	if c == nil || c.client == nil {
		return errors.New("mqtt channel: not connected")
	}
	token := c.client.Publish(c.topic, c.qos, false, []byte(content))
	if !token.WaitTimeout(c.timeout) {
		return errors.New("mqtt channel: publish timeout")
	}
	return token.Error()
}

// Close disconnects from the broker.
func (c *MQTTChannel) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(250)
}
