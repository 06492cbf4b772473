package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ecozone/authcore/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for publish-only use.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	connected bool
	connMu    sync.RWMutex
}

// Connect establishes a connection to the MQTT broker, registers the Last
// Will and announces the service as online.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	topics := Topics{Prefix: cfg.TopicPrefix}
	opts := buildClientOptions(cfg)
	configureLWT(opts, topics, cfg.Broker.ClientID)

	c := &Client{cfg: cfg, topics: topics}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.setConnected(true)
		c.publishStatus("online", "")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, _ error) {
		c.setConnected(false)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect callback runs asynchronously and may not have fired yet.
	c.setConnected(true)

	return c, nil
}

// Topics returns the topic builder bound to the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

func (c *Client) publishStatus(status, reason string) {
	token := c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true,
		buildStatusPayload(c.cfg.Broker.ClientID, status, reason))
	token.WaitTimeout(defaultPublishTimeout)
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishStatus("offline", "graceful_shutdown")
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}
