// Package mqtt mirrors bus events to an MQTT broker and accepts
// characteristic commands from it.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/tagyoureit/luxord/internal/config"
	"github.com/tagyoureit/luxord/internal/eventbus"
	"github.com/tagyoureit/luxord/internal/luxor"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	commandTimeout    = 10 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
	qos               = 1
)

// ErrConnectionFailed is returned when the broker cannot be reached.
var ErrConnectionFailed = errors.New("mqtt connection failed")

// Client is the subset of the paho client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// Setter applies a characteristic command to an accessory.
type Setter interface {
	SetCharacteristic(ctx context.Context, accessoryID, characteristic string, value any) error
}

// Publisher forwards bus events to MQTT topics under a prefix.
type Publisher struct {
	client Client
	prefix string
}

// Connect dials the broker from config and returns a Publisher.
func Connect(cfg config.MQTTConfig) (*Publisher, error) {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(statusTopic(prefix), "offline", qos, true)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
		c.Publish(statusTopic(prefix), qos, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return NewPublisher(client, prefix), nil
}

// NewPublisher wraps an already connected client.
func NewPublisher(client Client, prefix string) *Publisher {
	return &Publisher{client: client, prefix: strings.TrimSuffix(prefix, "/")}
}

// Attach subscribes the publisher to every bus event.
func (p *Publisher) Attach(bus *eventbus.Bus) {
	bus.SubscribeAll(p.Handle)
}

// Handle publishes one event. Characteristic changes are retained under the
// accessory topic; everything else goes to the events topic.
func (p *Publisher) Handle(e eventbus.Event) {
	var topic string
	var payload []byte
	var err error
	retained := false

	if e.Type == eventbus.EventCharacteristicChanged {
		topic = fmt.Sprintf("%s/accessories/%s/%s", p.prefix, e.AccessoryID, luxor.CharacteristicName(e.Characteristic))
		payload, err = json.Marshal(e.Value)
		retained = true
	} else {
		topic = fmt.Sprintf("%s/events/%s", p.prefix, e.Type)
		payload, err = json.Marshal(e)
	}
	if err != nil {
		log.Error().Err(err).Str("event_type", string(e.Type)).Msg("Failed to encode MQTT payload")
		return
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		log.Warn().Str("topic", topic).Msg("MQTT publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("MQTT publish failed")
	}
}

// HandleCommands subscribes to {prefix}/accessories/{id}/{characteristic}/set
// and forwards each message to setter. Payloads are JSON values.
func (p *Publisher) HandleCommands(ctx context.Context, setter Setter) error {
	topic := p.prefix + "/accessories/+/+/set"
	token := p.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		p.command(ctx, setter, msg)
	})
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("timeout subscribing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) command(ctx context.Context, setter Setter, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("MQTT command handler panicked")
		}
	}()

	id, name, ok := p.parseCommandTopic(msg.Topic())
	if !ok {
		log.Warn().Str("topic", msg.Topic()).Msg("Ignoring malformed MQTT command topic")
		return
	}
	tag, ok := luxor.CharacteristicFromName(name)
	if !ok {
		log.Warn().Str("topic", msg.Topic()).Str("characteristic", name).Msg("Ignoring unknown characteristic")
		return
	}

	var value any
	if err := json.Unmarshal(msg.Payload(), &value); err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Ignoring non-JSON MQTT command")
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := setter.SetCharacteristic(cmdCtx, id, tag, value); err != nil {
		log.Error().Err(err).Str("accessory", id).Str("characteristic", name).Msg("MQTT command failed")
	}
}

func (p *Publisher) parseCommandTopic(topic string) (id, characteristic string, ok bool) {
	rest, found := strings.CutPrefix(topic, p.prefix+"/accessories/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "set" || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Close publishes the offline status and disconnects.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		token := p.client.Publish(statusTopic(p.prefix), qos, true, "offline")
		token.WaitTimeout(publishTimeout)
	}
	p.client.Disconnect(disconnectQuiesce)
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}
