package tdsingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	logger "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Logger"
	tdsmodels "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Models"
)

// EventKind classifies what the broker connection reported
type EventKind int

const (
	EventConnected EventKind = iota
	EventSubscribed
	EventPublish
	EventConnectionLost
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventSubscribed:
		return "subscribed"
	case EventPublish:
		return "publish"
	case EventConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// Event is one item of the subscription stream. Only EventPublish carries a payload.
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte
	Err     error
}

// Transport owns the broker connection and turns it into an ordered event stream
type Transport interface {
	// Subscribe connects and subscribes to the configured topic. An error here is fatal for the caller.
	// The returned channel is closed when the transport is closed.
	Subscribe(ctx context.Context) (<-chan Event, error)
	Publish(topic string, payload []byte) error
	IsConnected() bool
	Close()
}

var errNotConnected = errors.New("mqtt client not connected")

const eventBuffer = 256

// MQTTTransport is the paho-backed Transport. Delivery is ordered, so the paho callback
// blocks once eventBuffer events are queued and the broker router waits for the loop.
// A full buffer is logged each time the callback has to wait.
type MQTTTransport struct {
	cfg    tdsmodels.IngestorConfig
	logger *logger.Logger

	mu     sync.RWMutex
	client mqtt.Client

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	closed    bool // guarded by mu
	// set once the first subscription succeeded; later connects re-subscribe
	subscribed atomic.Bool
}

func NewMQTTTransport(cfg tdsmodels.IngestorConfig, log *logger.Logger) *MQTTTransport {
	return &MQTTTransport{
		cfg:    cfg,
		logger: log.WithComponent("mqtt"),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (t *MQTTTransport) Subscribe(ctx context.Context) (<-chan Event, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(t.cfg.BrokerURL).
		SetClientID(t.cfg.ClientID).
		SetOrderMatters(true).
		SetKeepAlive(t.cfg.KeepAlive).
		SetPingTimeout(t.cfg.PingTimeout).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true)

	if t.cfg.BrokerUser != "" {
		opts.SetUsername(t.cfg.BrokerUser)
		opts.SetPassword(t.cfg.BrokerPass)
	}

	if t.cfg.UseTLS {
		tlsCfg, err := tlsConfig(t.cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
		t.emit(Event{Kind: EventConnectionLost, Err: err})
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		t.emit(Event{Kind: EventConnected})
		if !t.subscribed.Load() {
			return
		}
		// clean session: the broker forgot our subscription
		if err := t.subscribe(context.Background(), c); err != nil {
			t.logger.Logger.Error().Err(err).Str("topic", t.cfg.Topic).Msg("Failed to re-subscribe to MQTT topic")
		}
	})

	client := mqtt.NewClient(opts)
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	if err := waitToken(ctx, client.Connect(), t.cfg.ConnectTimeout); err != nil {
		// abandon a connect that is still pending so auto-reconnect cannot revive it
		client.Disconnect(250)
		return nil, fmt.Errorf("connect to %s: %w", t.cfg.BrokerURL, err)
	}

	if err := t.subscribe(ctx, client); err != nil {
		client.Disconnect(250)
		return nil, err
	}
	t.subscribed.Store(true)

	return t.events, nil
}

func (t *MQTTTransport) subscribe(ctx context.Context, c mqtt.Client) error {
	token := c.Subscribe(t.cfg.Topic, t.cfg.QoS, t.onMessage)
	if err := waitToken(ctx, token, t.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("subscribe to %s: %w", t.cfg.Topic, err)
	}

	// a broker may acknowledge with a failure return code instead of an error
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		if code, found := st.Result()[t.cfg.Topic]; found && code == 0x80 {
			return fmt.Errorf("subscribe to %s: rejected by broker", t.cfg.Topic)
		}
	}

	t.logger.Logger.Info().Str("topic", t.cfg.Topic).Uint8("qos", t.cfg.QoS).Msg("Subscribed to MQTT topic")
	t.emit(Event{Kind: EventSubscribed, Topic: t.cfg.Topic})
	return nil
}

func (t *MQTTTransport) onMessage(_ mqtt.Client, m mqtt.Message) {
	t.emit(Event{Kind: EventPublish, Topic: m.Topic(), Payload: m.Payload()})
}

// emit blocks until the loop takes the event or the transport is closed.
// Blocking keeps broker order intact.
func (t *MQTTTransport) emit(ev Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
		return
	default:
	}

	t.logger.Logger.Warn().
		Str("event", ev.Kind.String()).
		Int("buffered", cap(t.events)).
		Msg("Event buffer full, broker delivery paused until the loop catches up")
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *MQTTTransport) Publish(topic string, payload []byte) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return errNotConnected
	}
	return waitToken(context.Background(), client.Publish(topic, 0, false, payload), t.cfg.ConnectTimeout)
}

func (t *MQTTTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client != nil && t.client.IsConnected()
}

// Close disconnects from the broker and closes the event stream
func (t *MQTTTransport) Close() {
	t.closeOnce.Do(func() {
		close(t.done) // unblock pending emits before taking the write lock

		t.mu.Lock()
		t.closed = true
		close(t.events)
		client := t.client
		t.mu.Unlock()

		if client != nil && client.IsConnected() {
			client.Disconnect(500)
		}
	})
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	}
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file %s", caFile)
	}
	cfg.RootCAs = cp
	return cfg, nil
}
