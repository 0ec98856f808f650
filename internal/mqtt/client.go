package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when publishing without a broker connection
var ErrNotConnected = errors.New("mqtt client is not connected")

// Config holds MQTT client configuration
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	// WillTopic receives "online" on every connect and "offline" as the
	// last will. Empty disables both.
	WillTopic string
}

// Client wraps a paho client. Subscriptions are remembered and restored
// after every reconnect.
type Client struct {
	client paho.Client
	config Config
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]Handler
}

// NewClient creates a client; Connect must be called before use
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "prismbridge-" + uuid.NewString()[:8]
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	c := &Client{
		config: cfg,
		logger: logger.Named("mqtt"),
		subs:   make(map[string]Handler),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, PayloadOffline, 1, true)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Warn("Connection lost", zap.Error(err))
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		c.logger.Info("Attempting to reconnect")
	})
	opts.SetOnConnectHandler(c.onConnect)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	// Keep per-topic delivery order
	opts.SetOrderMatters(true)

	c.client = paho.NewClient(opts)
	return c, nil
}

// Connect establishes the broker connection
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("Connecting to broker", zap.String("broker", c.config.Broker), zap.String("client_id", c.config.ClientID))

	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("failed to connect to MQTT broker: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Disconnect announces offline and closes the connection
func (c *Client) Disconnect() {
	if c.config.WillTopic != "" && c.client.IsConnected() {
		if err := c.Publish(c.config.WillTopic, true, PayloadOffline); err != nil {
			c.logger.Warn("Failed to publish offline availability", zap.Error(err))
		}
	}
	c.client.Disconnect(250)
	c.logger.Info("Disconnected from broker")
}

// IsConnected reports whether the broker connection is up
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Subscribe implements Transport
func (c *Client) Subscribe(topic string, handler Handler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnected() {
		// Restored by onConnect
		return nil
	}
	return c.subscribe(topic, handler)
}

// Unsubscribe implements Transport
func (c *Client) Unsubscribe(topics ...string) error {
	if len(topics) == 0 {
		return nil
	}

	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()

	if !c.client.IsConnected() {
		return nil
	}
	token := c.client.Unsubscribe(topics...)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return fmt.Errorf("unsubscribe timed out")
	}
	return token.Error()
}

// Publish implements Transport
func (c *Client) Publish(topic string, retained bool, payload string) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.config.QoS, retained, payload)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	c.logger.Debug("Published", zap.String("topic", topic), zap.Bool("retained", retained))
	return nil
}

func (c *Client) subscribe(topic string, handler Handler) error {
	token := c.client.Subscribe(topic, c.config.QoS, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return fmt.Errorf("subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	c.logger.Debug("Subscribed", zap.String("topic", topic))
	return nil
}

// onConnect runs on paho's goroutine after every (re)connect
func (c *Client) onConnect(_ paho.Client) {
	c.logger.Info("Connected to broker", zap.String("broker", c.config.Broker))

	c.mu.RLock()
	subs := make(map[string]Handler, len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	c.mu.RUnlock()

	// Token waits must not run on paho's callback goroutine
	go func() {
		for t, h := range subs {
			if err := c.subscribe(t, h); err != nil {
				c.logger.Error("Failed to restore subscription", zap.String("topic", t), zap.Error(err))
			}
		}
		if c.config.WillTopic != "" {
			if err := c.Publish(c.config.WillTopic, true, PayloadOnline); err != nil {
				c.logger.Warn("Failed to publish online availability", zap.Error(err))
			}
		}
	}()
}
