package mqtt

import (
	"context"
	"fmt"
	"time"

	"device-remoting/internal/core/bus"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const qos = 1

type Config struct {
	Broker   string // tcp://host:1883
	Username string
	Password string
}

// Bus routes frames over an MQTT broker.
type Bus struct {
	client MQTT.Client
	topics []string
	lg     zerolog.Logger
}

var _ bus.EventBus = (*Bus)(nil)

func New(cfg Config, lg zerolog.Logger) (*Bus, error) {
	lg = lg.With().Str("adapter", "mqtt").Logger()

	opts := MQTT.NewClientOptions().AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("remoting_%d", time.Now().UnixNano()))
	opts.SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		lg.Warn().Err(err).Msg("connection lost")
	})

	c := MQTT.NewClient(opts)
	if tok := c.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("connect: %w", tok.Error())
	}
	lg.Info().Str("broker", cfg.Broker).Msg("connected")
	return &Bus{client: c, lg: lg}, nil
}

// Publish counts a broker acknowledgement as one delivery.
func (b *Bus) Publish(ctx context.Context, topic, msg string) (int, error) {
	tok := b.client.Publish(topic, qos, false, msg)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return 0, err
	}
	return 1, nil
}

func (b *Bus) Subscribe(topic string, h bus.Handler) error {
	tok := b.client.Subscribe(topic, qos, func(_ MQTT.Client, m MQTT.Message) {
		h(context.Background(), string(m.Payload()))
	})
	if tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, tok.Error())
	}
	b.topics = append(b.topics, topic)
	return nil
}

func (b *Bus) Close() error {
	if len(b.topics) > 0 {
		b.client.Unsubscribe(b.topics...).WaitTimeout(time.Second)
	}
	b.client.Disconnect(250)
	return nil
}
