package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/NotCoffee418/p1_logger/pkg/config"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeClient implements only what Subscriber uses.
type fakeClient struct {
	mqtt.Client
	opts         *mqtt.ClientOptions
	connectErr   error
	subscribeErr error
	subscribed   []string
	handler      mqtt.MessageHandler
	ready        chan struct{}
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token {
	if c.connectErr == nil && c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return &fakeToken{err: c.connectErr}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.subscribed = append(c.subscribed, topic)
	c.handler = callback
	if c.ready != nil {
		close(c.ready)
	}
	return &fakeToken{err: c.subscribeErr}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.disconnected = true
}

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m *fakeMessage) Payload() []byte { return m.payload }

func testConfig() config.MQTTConfig {
	cfg := config.Default().MQTT
	cfg.Username = "smartmeter_readonly"
	cfg.PasswordBase64 = "c2VjcmV0"
	return cfg
}

func newTestSubscriber(client *fakeClient) *Subscriber {
	s := NewSubscriber(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		client.opts = opts
		return client
	}
	return s
}

func TestOptions(t *testing.T) {
	s := NewSubscriber(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	opts, err := s.Options(func([]byte) {}, make(chan error, 1))
	if err != nil {
		t.Fatalf("options: %v", err)
	}

	if len(opts.Servers) != 1 || opts.Servers[0].Host != "mqtt.sendlab.nl:11883" {
		t.Fatalf("unexpected servers: %v", opts.Servers)
	}
	if opts.Username != "smartmeter_readonly" || opts.Password != "secret" {
		t.Fatalf("credentials not applied: %q / %q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect {
		t.Fatal("auto reconnect disabled")
	}
	if !opts.Order {
		t.Fatal("messages must be delivered in order")
	}
}

func TestRunDeliversPayloadsAndStopsOnCancel(t *testing.T) {
	client := &fakeClient{ready: make(chan struct{})}
	s := newTestSubscriber(client)

	var got [][]byte
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(p []byte) { got = append(got, p) })
	}()

	select {
	case <-client.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription never happened")
	}
	client.handler(client, &fakeMessage{payload: []byte("one")})
	client.handler(client, &fakeMessage{payload: []byte("two")})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v after cancel", err)
	}
	if len(got) != 2 || string(got[0]) != "one" || string(got[1]) != "two" {
		t.Fatalf("payloads: %q", got)
	}
	if client.subscribed[0] != "smartmeter/raw" {
		t.Fatalf("subscribed to %v", client.subscribed)
	}
	if !client.disconnected {
		t.Fatal("client not disconnected")
	}
}

func TestRunReturnsConnectFailure(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("not authorized")}
	s := newTestSubscriber(client)

	err := s.Run(context.Background(), func([]byte) {})
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("expected ErrConnectFailed, got %v", err)
	}
}

func TestRunReturnsSubscribeFailure(t *testing.T) {
	client := &fakeClient{subscribeErr: errors.New("topic denied")}
	s := newTestSubscriber(client)

	err := s.Run(context.Background(), func([]byte) {})
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("expected ErrSubscribeFailed, got %v", err)
	}
}

func TestDefaultSubscribersGetDistinctClientIDs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	first := NewSubscriber(config.Default().MQTT, logger)
	second := NewSubscriber(config.Default().MQTT, logger)

	firstOpts, err := first.Options(func([]byte) {}, make(chan error, 1))
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	secondOpts, err := second.Options(func([]byte) {}, make(chan error, 1))
	if err != nil {
		t.Fatalf("options: %v", err)
	}

	if firstOpts.ClientID == secondOpts.ClientID {
		t.Fatalf("both subscribers use client id %q", firstOpts.ClientID)
	}
	for _, id := range []string{firstOpts.ClientID, secondOpts.ClientID} {
		if !strings.HasPrefix(id, clientIDPrefix) || len(id) > 23 {
			t.Fatalf("unexpected generated client id %q", id)
		}
	}

	// Reconnects reuse the id chosen at construction.
	again, _ := first.Options(func([]byte) {}, make(chan error, 1))
	if again.ClientID != firstOpts.ClientID {
		t.Fatalf("client id changed from %q to %q", firstOpts.ClientID, again.ClientID)
	}
}

func TestConfiguredClientIDIsKept(t *testing.T) {
	cfg := testConfig()
	cfg.ClientID = "kitchen-logger"
	s := NewSubscriber(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	opts, err := s.Options(func([]byte) {}, make(chan error, 1))
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.ClientID != "kitchen-logger" {
		t.Fatalf("client id: got %q", opts.ClientID)
	}
}
