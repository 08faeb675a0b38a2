package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// tokenPublisher is the slice of mqtt.Client the sink needs.
type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes events as JSON to <prefix>/events/<name>.
type MQTTSink struct {
	conn      tokenPublisher
	client    mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
}

type MQTTOptions struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	// ConnectWait bounds how long ConnectMQTT waits for the first
	// connection. Zero means 10s.
	ConnectWait time.Duration
	Log         zerolog.Logger
}

// ConnectMQTT starts connecting to the broker. An unreachable broker is not
// fatal: the client keeps retrying in the background and the sink reports
// disconnected until it succeeds. An error means the client could not start
// at all, e.g. an unparsable broker URL.
func ConnectMQTT(opts MQTTOptions) (*MQTTSink, error) {
	s := &MQTTSink{
		prefix: strings.Trim(opts.TopicPrefix, "/"),
		log:    opts.Log.With().Str("component", "mqtt").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	s.client = mqtt.NewClient(clientOpts)
	s.conn = s.client
	wait := opts.ConnectWait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	token := s.client.Connect()
	if !token.WaitTimeout(wait) {
		s.log.Warn().Str("broker", opts.BrokerURL).Dur("waited", wait).
			Msg("mqtt broker not reachable yet, retrying in background")
		return s, nil
	}
	if err := token.Error(); err != nil {
		s.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.BrokerURL, err)
	}
	return s, nil
}

func (s *MQTTSink) onConnect(_ mqtt.Client) {
	s.connected.Store(true)
	s.log.Info().Str("prefix", s.prefix).Msg("mqtt connected")
}

func (s *MQTTSink) onConnectionLost(_ mqtt.Client, err error) {
	s.connected.Store(false)
	s.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Topic returns the topic an event is published on.
func (s *MQTTSink) Topic(ev Event) string {
	name := strings.ReplaceAll(ev.Name, ".", "/")
	if s.prefix == "" {
		return "events/" + name
	}
	return s.prefix + "/events/" + name
}

// Send publishes with QoS 1 and waits for the broker ack or ctx.
func (s *MQTTSink) Send(ctx context.Context, ev Event) error {
	if s.client != nil && !s.IsConnected() {
		return fmt.Errorf("mqtt publish %s: %w", ev.Name, mqtt.ErrNotConnected)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	token := s.conn.Publish(s.Topic(ev), 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish %s: %w", ev.Name, ctx.Err())
	}
}

func (s *MQTTSink) IsConnected() bool {
	return s.connected.Load()
}

func (s *MQTTSink) Close() {
	if s.client == nil {
		return
	}
	s.log.Info().Msg("disconnecting mqtt client")
	s.client.Disconnect(1000)
}
