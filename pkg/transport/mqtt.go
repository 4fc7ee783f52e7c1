package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-irrigation/pkg/messagepipeline"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
)

// qosAtLeastOnce is used for every subscribe and publish.
const qosAtLeastOnce byte = 1

// Publisher publishes a payload to a topic with at-least-once delivery.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MqttTransport is the single broker connection of the ingestion core. It
// implements messagepipeline.MessageConsumer for inbound device messages and
// Publisher for outbound commands and alerts.
type MqttTransport struct {
	client mqtt.Client
	cfg    *MQTTClientConfig
	topics types.Topics
	logger zerolog.Logger

	messages chan messagepipeline.Message
	done     chan struct{}
	lost     chan error
	stopOnce sync.Once

	// sendMu guards messages against being closed while a callback sends.
	sendMu sync.RWMutex
	closed bool

	subMu      sync.Mutex
	subscribed []string
}

// NewMqttTransport creates a transport backed by a new Paho client. It does
// not connect until Connect or Start is called.
func NewMqttTransport(cfg *MQTTClientConfig, logger zerolog.Logger) (*MqttTransport, error) {
	t, err := newMqttTransport(cfg, logger)
	if err != nil {
		return nil, err
	}
	t.client = mqtt.NewClient(t.createMqttOptions())
	return t, nil
}

// NewMqttTransportWithClient creates a transport around an existing client.
// Connection handlers configured on the client's options are left untouched.
func NewMqttTransportWithClient(client mqtt.Client, cfg *MQTTClientConfig, logger zerolog.Logger) (*MqttTransport, error) {
	if client == nil {
		return nil, fmt.Errorf("mqtt client cannot be nil")
	}
	t, err := newMqttTransport(cfg, logger)
	if err != nil {
		return nil, err
	}
	t.client = client
	return t, nil
}

func newMqttTransport(cfg *MQTTClientConfig, logger zerolog.Logger) (*MqttTransport, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config cannot be nil")
	}
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = 1000
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &MqttTransport{
		cfg:      cfg,
		topics:   types.NewTopics(cfg.Namespace),
		logger:   logger.With().Str("component", "MqttTransport").Str("device_id", cfg.DeviceID).Logger(),
		messages: make(chan messagepipeline.Message, cfg.InboundBuffer),
		done:     make(chan struct{}),
		lost:     make(chan error, 1),
	}, nil
}

// Messages returns the bounded channel of inbound messages. It is closed by Stop.
func (t *MqttTransport) Messages() <-chan messagepipeline.Message {
	return t.messages
}

// Done is closed once the transport has been stopped.
func (t *MqttTransport) Done() <-chan struct{} {
	return t.done
}

// ConnectionLost reports connection losses. Only the most recent unread loss
// is kept; reconnection is left to the client's own policy or the caller.
func (t *MqttTransport) ConnectionLost() <-chan error {
	return t.lost
}

// IsConnected reports whether the underlying client currently has a connection.
func (t *MqttTransport) IsConnected() bool {
	return t.client != nil && t.client.IsConnectionOpen()
}

// Start connects and subscribes to the device's sensors, alerts and status topics.
func (t *MqttTransport) Start(ctx context.Context) error {
	if err := t.Connect(ctx); err != nil {
		return err
	}
	for _, topic := range t.topics.Subscriptions(t.cfg.DeviceID) {
		if err := t.Subscribe(ctx, topic); err != nil {
			t.client.Disconnect(250)
			return err
		}
	}
	return nil
}

// Connect opens the broker connection.
func (t *MqttTransport) Connect(ctx context.Context) error {
	t.logger.Info().Str("broker", t.cfg.BrokerURL).Msg("Connecting to MQTT broker...")
	if err := waitToken(ctx, t.client.Connect(), t.cfg.ConnectTimeout); err != nil {
		t.logger.Error().Err(err).Msg("Failed to connect to MQTT broker.")
		return &types.TransportError{Op: types.OpConnect, Err: err}
	}
	t.logger.Info().Msg("Connected to MQTT broker.")
	return nil
}

// Subscribe subscribes to topic at QoS 1, delivering into Messages.
func (t *MqttTransport) Subscribe(ctx context.Context, topic string) error {
	if !t.IsConnected() {
		return &types.TransportError{Op: types.OpSubscribe, Topic: topic, Err: types.ErrNotConnected}
	}
	if err := waitToken(ctx, t.client.Subscribe(topic, qosAtLeastOnce, t.handleIncomingMessage), t.cfg.SubscribeTimeout); err != nil {
		t.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic.")
		return &types.TransportError{Op: types.OpSubscribe, Topic: topic, Err: err}
	}
	t.subMu.Lock()
	t.subscribed = append(t.subscribed, topic)
	t.subMu.Unlock()
	t.logger.Info().Str("topic", topic).Msg("Subscribed to MQTT topic.")
	return nil
}

// Publish sends payload to topic at QoS 1 and waits for the broker's ack.
func (t *MqttTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if !t.IsConnected() {
		return &types.TransportError{Op: types.OpPublish, Topic: topic, Err: types.ErrNotConnected}
	}
	if err := waitToken(ctx, t.client.Publish(topic, qosAtLeastOnce, false, payload), t.cfg.PublishTimeout); err != nil {
		return &types.TransportError{Op: types.OpPublish, Topic: topic, Err: err}
	}
	t.logger.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("Published MQTT message.")
	return nil
}

// Stop unsubscribes, disconnects and closes the message channel. It is safe to
// call more than once.
func (t *MqttTransport) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() {
		t.logger.Info().Msg("Stopping MqttTransport...")
		close(t.done)

		if t.IsConnected() {
			t.subMu.Lock()
			topics := append([]string(nil), t.subscribed...)
			t.subMu.Unlock()
			if len(topics) > 0 {
				if err := waitToken(ctx, t.client.Unsubscribe(topics...), 2*time.Second); err != nil {
					t.logger.Warn().Err(err).Strs("topics", topics).Msg("Failed to unsubscribe from MQTT topics.")
				}
			}
			t.client.Disconnect(250)
			t.logger.Info().Msg("Paho MQTT client disconnected.")
		}

		t.sendMu.Lock()
		t.closed = true
		close(t.messages)
		t.sendMu.Unlock()
		t.logger.Info().Msg("MqttTransport stopped.")
	})
	return nil
}

// Disconnect is Stop with a default deadline.
func (t *MqttTransport) Disconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = t.Stop(ctx)
}

// handleIncomingMessage converts a Paho message into a pipeline Message.
func (t *MqttTransport) handleIncomingMessage(_ mqtt.Client, msg mqtt.Message) {
	t.logger.Debug().Str("topic", msg.Topic()).Msg("Received MQTT message.")
	payloadCopy := make([]byte, len(msg.Payload()))
	copy(payloadCopy, msg.Payload())

	consumed := messagepipeline.Message{
		MessageData: messagepipeline.MessageData{
			ID:          strconv.Itoa(int(msg.MessageID())),
			Payload:     payloadCopy,
			PublishTime: time.Now().UTC(),
		},
		Attributes: map[string]string{
			messagepipeline.AttrMqttTopic: msg.Topic(),
			messagepipeline.AttrDuplicate: strconv.FormatBool(msg.Duplicate()),
		},
		// QoS 1 acks are handled at the protocol level by the Paho client.
		Ack:  func() {},
		Nack: func() {},
	}

	t.sendMu.RLock()
	defer t.sendMu.RUnlock()
	if t.closed {
		t.logger.Warn().Str("topic", msg.Topic()).Msg("Transport is stopped, dropping MQTT message.")
		return
	}
	select {
	case t.messages <- consumed:
	case <-t.done:
		t.logger.Warn().Str("topic", msg.Topic()).Msg("Transport is shutting down, dropping MQTT message.")
	}
}

// createMqttOptions assembles the Paho client options from the config.
func (t *MqttTransport) createMqttOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.BrokerURL)
	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = t.cfg.ClientIDPrefix + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)
	opts.SetUsername(t.cfg.Username)
	opts.SetPassword(t.cfg.Password)
	opts.SetCleanSession(t.cfg.CleanSession)
	opts.SetResumeSubs(!t.cfg.CleanSession)
	opts.SetKeepAlive(t.cfg.KeepAlive)
	opts.SetConnectTimeout(t.cfg.ConnectTimeout)
	opts.SetAutoReconnect(t.cfg.AutoReconnect)
	if t.cfg.ReconnectWaitMax > 0 {
		opts.SetMaxReconnectInterval(t.cfg.ReconnectWaitMax)
	}
	// Callbacks must run in arrival order for per-device ordering downstream.
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		t.logger.Info().Str("broker", t.cfg.BrokerURL).Str("client_id", clientID).Msg("Paho client connected to MQTT broker.")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
		select {
		case t.lost <- err:
		default:
		}
	})

	if isTLSBroker(t.cfg.BrokerURL) {
		tlsConfig, err := newTLSConfig(t.cfg)
		if err != nil {
			t.logger.Error().Err(err).Msg("Failed to create TLS config, proceeding without it.")
		} else {
			opts.SetTLSConfig(tlsConfig)
			t.logger.Info().Msg("TLS configured for MQTT client.")
		}
	}
	return opts
}

func isTLSBroker(url string) bool {
	lower := strings.ToLower(url)
	for _, scheme := range []string{"tls://", "ssl://", "mqtts://"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// newTLSConfig builds the TLS config, including a client key pair for mTLS.
func newTLSConfig(cfg *MQTTClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// waitToken waits for a Paho token, the context, or the timeout.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
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
