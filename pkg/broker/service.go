// Package broker keeps the MQTT subscription alive and hands every
// received payload to a handler, one message at a time.
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/NotCoffee418/p1_logger/pkg/config"
)

var (
	ErrConnectFailed   = errors.New("mqtt connect failed")
	ErrSubscribeFailed = errors.New("mqtt subscribe failed")
)

// Handler receives the raw payload of one message.
type Handler func(payload []byte)

// Prefix of generated client ids. Brokers must accept ids of up to 23 characters.
const clientIDPrefix = "p1_logger-"

type Subscriber struct {
	cfg      config.MQTTConfig
	clientID string
	logger   *slog.Logger

	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewSubscriber(cfg config.MQTTConfig, logger *slog.Logger) *Subscriber {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = randomClientID()
	}
	return &Subscriber{
		cfg:       cfg,
		clientID:  clientID,
		logger:    logger,
		newClient: mqtt.NewClient,
	}
}

// A shared broker disconnects the older session when a second client
// connects with the same id, so installs must not share a default.
func randomClientID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return clientIDPrefix + id[:12]
}


// Options builds the client options. Subscribing happens in the
// on-connect handler so a reconnect re-subscribes; failures are pushed
// to fatal.
func (s *Subscriber) Options(handle Handler, fatal chan<- error) (*mqtt.ClientOptions, error) {
	password, err := s.cfg.MQTTPassword()
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions().AddBroker(s.cfg.Broker)
	opts.SetClientID(s.clientID)
	opts.SetUsername(s.cfg.Username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout())
	opts.SetCleanSession(true)
	// Callbacks run one after another in arrival order.
	opts.SetOrderMatters(true)
	if s.cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	messageHandler := s.messageHandler(handle)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		s.logger.Info("connected to mqtt broker", "broker", s.cfg.Broker, "client_id", s.clientID)
		token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, messageHandler)
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("subscribe failed", "topic", s.cfg.Topic, "err", err)
			select {
			case fatal <- fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, s.cfg.Topic, err):
			default:
			}
			return
		}
		s.logger.Info("subscribed", "topic", s.cfg.Topic, "qos", s.cfg.QoS)
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		s.logger.Warn("mqtt connection lost, reconnecting", "err", err)
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		s.logger.Info("reconnecting to mqtt broker", "broker", s.cfg.Broker)
	})

	return opts, nil
}

func (s *Subscriber) messageHandler(handle Handler) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		handle(msg.Payload())
	}
}

// Run connects, subscribes and blocks until ctx is cancelled or the
// subscription fails. Failing to connect at all is returned as an error
// so the process can exit instead of idling without data.
func (s *Subscriber) Run(ctx context.Context, handle Handler) error {
	fatal := make(chan error, 1)
	opts, err := s.Options(handle, fatal)
	if err != nil {
		return err
	}

	client := s.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout()) {
		client.Disconnect(0)
		return fmt.Errorf("%w: %s: timed out after %s", ErrConnectFailed, s.cfg.Broker, s.cfg.ConnectTimeout())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, s.cfg.Broker, err)
	}

	select {
	case <-ctx.Done():
		s.logger.Info("disconnecting from mqtt broker")
		client.Disconnect(250)
		return nil
	case err := <-fatal:
		client.Disconnect(250)
		return err
	}
}
