package bridge

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/config"
)

// MessageHandler receives a message published on topic
type MessageHandler func(topic string, payload []byte)

// Broker is the MQTT surface the bridge needs
type Broker interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler MessageHandler) error
	Close()
}

// PahoBroker is a Broker backed by the Eclipse Paho client. Subscriptions
// are restored after a reconnect.
type PahoBroker struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	subs map[string]MessageHandler
}

// Dial connects to cfg.Broker. willTopic, when set, receives a retained
// "offline" if the connection is lost.
func Dial(cfg config.MQTTConfig, willTopic string, logger *zap.Logger) (*PahoBroker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "openmatrixctl-" + uuid.NewString()[:8]
	}

	b := &PahoBroker{
		qos:     1,
		timeout: 10 * time.Second,
		logger:  logger,
		subs:    make(map[string]MessageHandler),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(b.timeout).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		})
	if willTopic != "" {
		opts.SetWill(willTopic, "offline", b.qos, true)
	}

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(b.timeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	logger.Info("Connected to MQTT broker",
		zap.String("broker", cfg.Broker),
		zap.String("client_id", clientID))
	return b, nil
}

// Publish sends payload to topic
func (b *PahoBroker) Publish(topic string, retained bool, payload []byte) error {
	token := b.client.Publish(topic, b.qos, retained, payload)
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic
func (b *PahoBroker) Subscribe(topic string, handler MessageHandler) error {
	b.mu.Lock()
	b.subs[topic] = handler
	b.mu.Unlock()
	return b.subscribe(topic, handler)
}

// Close disconnects, letting in-flight work finish for up to 250ms
func (b *PahoBroker) Close() {
	b.client.Disconnect(250)
	b.logger.Info("Disconnected from MQTT broker")
}

func (b *PahoBroker) subscribe(topic string, handler MessageHandler) error {
	token := b.client.Subscribe(topic, b.qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("timed out subscribing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return nil
}

// onConnect restores subscriptions after a reconnect. It runs on the paho
// goroutine, so the subscribe calls are not awaited.
func (b *PahoBroker) onConnect(client mqtt.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, handler := range b.subs {
		handler := handler
		client.Subscribe(topic, b.qos, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Topic(), msg.Payload())
		})
	}
	if len(b.subs) > 0 {
		b.logger.Info("Restored MQTT subscriptions", zap.Int("count", len(b.subs)))
	}
}
