package warp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// EditHandler is called for every edit command received over MQTT.
type EditHandler func(cmd EditCommand) (EditResult, error)

// MQTTClient manages the broker connection and the edit subscription.
type MQTTClient struct {
	client      mqtt.Client
	config      MQTTConfig
	editHandler EditHandler
	log         *logrus.Entry
	isConnected bool
	mu          sync.RWMutex
}

// NewMQTTClient builds a client for config. It returns nil when no broker is
// configured. Call Start to connect.
func NewMQTTClient(config MQTTConfig, handler EditHandler, log *logrus.Entry) *MQTTClient {
	if log == nil {
		log = logrus.StandardLogger().WithField("component", "mqtt")
	}
	if config.Broker == "" {
		log.Info("MQTT disabled: no broker configured")
		return nil
	}

	c := &MQTTClient{
		config:      config,
		editHandler: handler,
		log:         log.WithField("broker", config.Broker),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	clientID := config.ClientID
	if clientID == "" {
		clientID = "warpmesh"
	}
	opts.SetClientID(clientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Edits must reach the table in the order they were sent.
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)
	return c
}

// newMQTTClientWithMock creates an MQTTClient around a provided mqtt.Client.
func newMQTTClientWithMock(client mqtt.Client, config MQTTConfig, handler EditHandler) *MQTTClient {
	return &MQTTClient{
		client:      client,
		config:      config,
		editHandler: handler,
		log:         logrus.StandardLogger().WithField("component", "mqtt"),
	}
}

// Start connects in the background, retrying until ctx is done.
func (c *MQTTClient) Start(ctx context.Context) {
	go c.connectWithRetry(ctx)
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry(ctx context.Context) {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.log.Info("connecting to MQTT broker")
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.log.Info("connected to MQTT broker")
				c.setConnected(true)
				return
			}
			c.log.WithError(token.Error()).Warn("MQTT connection failed")
		} else {
			c.log.Warn("MQTT connection timeout")
		}

		c.log.WithField("delay", retryDelay).Info("retrying MQTT connection")
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// EditTopic returns the topic edits are read from.
func (c *MQTTClient) EditTopic() string {
	return Topic(c.config.PublishPrefix, TopicEdit)
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	topic := c.EditTopic()
	token := client.Subscribe(topic, 1, c.handleEdit)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		c.log.WithError(token.Error()).WithField("topic", topic).Error("subscribing to edits")
		return
	}
	c.log.WithField("topic", topic).Info("subscribed to edits")
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	c.log.WithError(err).Warn("MQTT connection interrupted, auto-reconnect will retry")
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	c.log.Info("MQTT reconnecting")
}

// handleEdit decodes one edit message and hands it to the edit handler.
// Malformed messages are logged and dropped.
func (c *MQTTClient) handleEdit(client mqtt.Client, msg mqtt.Message) {
	log := c.log.WithFields(logrus.Fields{"topic": msg.Topic(), "size": len(msg.Payload())})
	cmd, err := ParseEditCommand(msg.Payload())
	if err != nil {
		log.WithError(err).Warn("dropping malformed edit")
		return
	}
	if c.editHandler == nil {
		return
	}
	res, err := c.editHandler(cmd)
	if err != nil {
		log.WithError(err).WithField("op", cmd.Op).Warn("edit rejected")
		return
	}
	log.WithFields(logrus.Fields{"op": res.Op, "row": res.Row, "applied": res.Applied}).Debug("edit applied")
}

// Client returns the underlying MQTT client for publishing.
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.log.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// EncodeEdit marshals cmd for publishing to the edit topic.
func EncodeEdit(cmd EditCommand) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encoding edit command: %w", err)
	}
	return data, nil
}
