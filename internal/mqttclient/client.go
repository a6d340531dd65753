// Package mqttclient connects to the broker that carries transcription
// deliveries in and analysis events out.
package mqttclient

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Publish while the broker connection is down.
var ErrNotConnected = errors.New("mqtt not connected")

type MessageHandler func(topic string, payload []byte)

type Client struct {
	conn      mqtt.Client
	topics    []string
	connected atomic.Bool
	log       zerolog.Logger

	mu      sync.RWMutex
	handler MessageHandler
}

type Options struct {
	BrokerURL string
	ClientID  string
	Topics    string // comma-separated subscriptions
	Username  string
	Password  string
	Log       zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		topics: parseTopics(opts.Topics),
		log:    opts.Log.With().Str("component", "mqtt").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

// SetMessageHandler routes every received message to h.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Strs("topics", c.topics).Msg("mqtt connected, subscribing")

	filters := make(map[string]byte, len(c.topics))
	for _, t := range c.topics {
		filters[t] = 1
	}
	token := client.SubscribeMultiple(filters, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h != nil {
		h(msg.Topic(), msg.Payload())
		return
	}
	c.log.Debug().
		Str("topic", msg.Topic()).
		Int("payload_size", len(msg.Payload())).
		Msg("mqtt message received")
}

// Publish sends payload to topic at QoS 1 without waiting for the broker ack.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.conn.Publish(topic, 1, false, payload)
	return nil
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

// Envelope is the JSON body of an event published to the broker.
type Envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Publisher is the subset of Client that EventPublisher needs.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// EventPublisher forwards selected pipeline events to a topic.
type EventPublisher struct {
	client Publisher
	topic  string
	kinds  map[string]bool
	log    zerolog.Logger
	now    func() time.Time
}

// NewEventPublisher publishes events of the given kinds, or every kind when
// none are given, to topic.
func NewEventPublisher(client Publisher, topic string, log zerolog.Logger, kinds ...string) *EventPublisher {
	p := &EventPublisher{
		client: client,
		topic:  topic,
		log:    log.With().Str("component", "mqtt-publisher").Logger(),
		now:    time.Now,
	}
	if len(kinds) > 0 {
		p.kinds = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			p.kinds[k] = true
		}
	}
	return p
}

// Publish implements the orchestrator's event sink.
func (p *EventPublisher) Publish(kind string, payload any) {
	if p.kinds != nil && !p.kinds[kind] {
		return
	}
	body, err := json.Marshal(Envelope{Type: kind, Timestamp: p.now().UTC(), Data: payload})
	if err != nil {
		p.log.Warn().Err(err).Str("kind", kind).Msg("event encode failed")
		return
	}
	if err := p.client.Publish(p.topic, body); err != nil {
		p.log.Debug().Err(err).Str("kind", kind).Msg("event not published")
	}
}

func parseTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}
