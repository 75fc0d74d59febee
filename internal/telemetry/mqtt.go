// Package telemetry publishes proxy events and periodic statistics to an
// MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/conduit/internal/config"
	"github.com/energizer-project/conduit/internal/events"
	"github.com/energizer-project/conduit/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicStatus   = "proxy/status"
	TopicStats    = "proxy/stats"
	TopicPlayers  = "proxy/players"
	TopicSecurity = "proxy/security"
)

// Stats is the periodic snapshot published on TopicStats.
type Stats struct {
	OnlinePlayers int                `json:"online_players"`
	Connections   int                `json:"connections"`
	Uptime        string             `json:"uptime"`
	Resources     util.ResourceUsage `json:"resources"`
}

// MQTTHandler owns the broker connection and turns bus events into messages.
type MQTTHandler struct {
	mu sync.Mutex

	client   mqtt.Client
	prefix   string
	broker   string
	metadata map[string]interface{}
	logger   zerolog.Logger
}

// NewMQTTHandler builds a client from the mqtt section of cfg.
func NewMQTTHandler(cfg *config.Config, version string) (*MQTTHandler, error) {
	mqttCfg := cfg.MQTT
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		prefix: strings.Trim(mqttCfg.TopicPrefix, "/"),
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"cpu_model":   sysInfo.CPUModel,
			"cpu_cores":   sysInfo.CPUCores,
			"memory_mb":   sysInfo.TotalMemory,
			"app_version": version,
		},
		logger: log.With().Str("component", "mqtt").Logger(),
	}

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	h.broker = fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(h.broker)
	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("conduit-%s", sysInfo.Hostname))
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)
	opts.SetWill(h.topic(TopicStatus), `{"status":"offline"}`, 1, true)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		h.logger.Info().Str("broker", h.broker).Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func buildTLSConfig(m config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if m.CertFile != "" && m.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.CertFile, m.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if m.CAFile != "" {
		pem, err := os.ReadFile(m.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", m.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Start connects, subscribes to bus and blocks until ctx ends, then
// announces the shutdown and disconnects.
func (h *MQTTHandler) Start(ctx context.Context, bus *events.EventBus) error {
	h.logger.Info().Str("broker", h.broker).Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.Subscribe(bus)
	h.publishRetained(TopicStatus, map[string]interface{}{"status": "online"})

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

// Subscribe forwards the proxy's connection events to the broker.
func (h *MQTTHandler) Subscribe(bus *events.EventBus) {
	for _, t := range []events.EventType{
		events.EventPostLogin,
		events.EventDisconnect,
		events.EventBackendConnected,
		events.EventLoginFailed,
		events.EventConnectionDenied,
	} {
		bus.Subscribe(t, "mqtt", h.onEvent)
	}
}

// topicFor maps an event to its topic suffix.
func topicFor(t events.EventType) string {
	switch t {
	case events.EventLoginFailed, events.EventConnectionDenied:
		return TopicSecurity
	default:
		return TopicPlayers
	}
}

func (h *MQTTHandler) onEvent(_ context.Context, ev events.Event) error {
	h.publish(topicFor(ev.Type), map[string]interface{}{
		"event":   string(ev.Type),
		"payload": ev.Payload,
	})
	return nil
}

// PublishStats sends a statistics snapshot.
func (h *MQTTHandler) PublishStats(s Stats) {
	h.publish(TopicStats, s)
}

// PublishShutdown announces that the proxy is going away.
func (h *MQTTHandler) PublishShutdown() {
	h.publishRetained(TopicStatus, map[string]interface{}{"status": "offline", "event": "shutdown"})
}

func (h *MQTTHandler) topic(suffix string) string {
	if h.prefix == "" {
		return suffix
	}
	return h.prefix + "/" + suffix
}

func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	h.send(suffix, payload, false)
}

func (h *MQTTHandler) publishRetained(suffix string, payload interface{}) {
	h.send(suffix, payload, true)
}

func (h *MQTTHandler) send(suffix string, payload interface{}, retained bool) {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return
	}

	topic := h.topic(suffix)
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := client.Publish(topic, 1, retained, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage wraps payload with the host metadata and a timestamp.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}
