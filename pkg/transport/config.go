package transport

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// MQTTClientConfig holds all configuration for the Paho MQTT client: the broker
// endpoint, the device identity, timeouts and TLS material.
type MQTTClientConfig struct {
	// BrokerURL is the full URL of the MQTT broker.
	// Example: "tls://xxxx-ats.iot.eu-west-1.amazonaws.com:8883"
	BrokerURL string `yaml:"broker_url"`
	// Namespace is the first topic segment, "irrigation" by default.
	Namespace string `yaml:"-"`
	// DeviceID is the device whose sensors, alerts and status topics are subscribed.
	DeviceID string `yaml:"-"`
	// ClientID is the MQTT client identity. When empty, ClientIDPrefix plus a
	// random suffix is used.
	ClientID       string `yaml:"client_id"`
	ClientIDPrefix string `yaml:"client_id_prefix"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	// CleanSession false keeps subscriptions on the broker across reconnects.
	CleanSession bool `yaml:"clean_session"`
	// AutoReconnect lets the Paho client retry a lost connection in the background.
	AutoReconnect    bool          `yaml:"auto_reconnect"`
	KeepAlive        time.Duration `yaml:"keep_alive"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`
	PublishTimeout   time.Duration `yaml:"publish_timeout"`
	ReconnectWaitMax time.Duration `yaml:"reconnect_wait_max"`
	// InboundBuffer bounds the channel between the Paho callback and the pipeline.
	InboundBuffer int `yaml:"inbound_buffer"`
	// CACertFile is an optional path to a CA certificate for verifying the broker.
	CACertFile string `yaml:"ca_cert_file"`
	// ClientCertFile and ClientKeyFile enable mTLS (required by AWS IoT Core).
	ClientCertFile string `yaml:"client_cert_file"`
	ClientKeyFile  string `yaml:"client_key_file"`
	// InsecureSkipVerify skips TLS certificate verification. Not for production.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Env keys read by LoadMQTTClientConfigFromEnv.
const (
	MqttBrokerURL             = "MQTT_BROKER_URL"
	MqttClientID              = "MQTT_CLIENT_ID"
	MqttUsername              = "MQTT_USERNAME"
	MqttPassword              = "MQTT_PASSWORD"
	MqttCACertFile            = "MQTT_CA_CERT_FILE"
	MqttClientCertFile        = "MQTT_CLIENT_CERT_FILE"
	MqttClientKeyFile         = "MQTT_CLIENT_KEY_FILE"
	MqttSkipVerify            = "MQTT_INSECURE_SKIP_VERIFY"
	MqttKeepAliveSeconds      = "MQTT_KEEP_ALIVE_SECONDS"
	MqttConnectTimeoutSeconds = "MQTT_CONNECT_TIMEOUT_SECONDS"
	MqttPublishTimeoutSeconds = "MQTT_PUBLISH_TIMEOUT_SECONDS"
)

// NewMQTTClientConfigDefaults returns the default client settings.
func NewMQTTClientConfigDefaults() *MQTTClientConfig {
	return &MQTTClientConfig{
		ClientIDPrefix:   "irrigation-core-",
		AutoReconnect:    true,
		KeepAlive:        30 * time.Second,
		ConnectTimeout:   10 * time.Second,
		SubscribeTimeout: 5 * time.Second,
		PublishTimeout:   5 * time.Second,
		ReconnectWaitMax: 2 * time.Minute,
		InboundBuffer:    1000,
	}
}

// LoadMQTTClientConfigFromEnv loads the MQTT configuration from environment
// variables, filling defaults for anything not set. DeviceID and Namespace are
// left for the caller.
func LoadMQTTClientConfigFromEnv() *MQTTClientConfig {
	cfg := NewMQTTClientConfigDefaults()
	ApplyEnv(cfg)
	return cfg
}

// ApplyEnv overrides cfg with any MQTT environment variables that are set.
func ApplyEnv(cfg *MQTTClientConfig) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(MqttBrokerURL, &cfg.BrokerURL)
	setString(MqttClientID, &cfg.ClientID)
	setString(MqttUsername, &cfg.Username)
	setString(MqttPassword, &cfg.Password)
	setString(MqttCACertFile, &cfg.CACertFile)
	setString(MqttClientCertFile, &cfg.ClientCertFile)
	setString(MqttClientKeyFile, &cfg.ClientKeyFile)
	if skipVerify := os.Getenv(MqttSkipVerify); skipVerify == "true" {
		cfg.InsecureSkipVerify = true
	}

	cfg.KeepAlive = envSeconds(MqttKeepAliveSeconds, cfg.KeepAlive)
	cfg.ConnectTimeout = envSeconds(MqttConnectTimeoutSeconds, cfg.ConnectTimeout)
	cfg.PublishTimeout = envSeconds(MqttPublishTimeoutSeconds, cfg.PublishTimeout)
}

func envSeconds(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw + "s")
	if err != nil {
		log.Warn().Err(err).Str("env", key).Msg("transport: error parsing seconds, using default")
		return def
	}
	return d
}
