package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	mqttQoS         = 1
	mqttWaitTimeout = 10 * time.Second
)

// MQTT carries events over a broker for sketches that cannot keep a
// websocket open. Client <id> publishes on <prefix>/<id>/up/<event> and
// receives on <prefix>/<id>/down/<event>.
type MQTT struct {
	client mqtt.Client
	prefix string
	mux    *Mux
	log    *slog.Logger
}

func NewMQTT(brokerURL, prefix string, mux *Mux, logger *slog.Logger) (*MQTT, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MQTT{
		prefix: strings.Trim(prefix, "/"),
		mux:    mux,
		log:    logger.With("transport", "mqtt"),
	}

	opts := mqtt.NewClientOptions().AddBroker(brokerURL)
	opts.SetClientID("ssam-replicate-" + uuid.NewString())
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := m.subscribe(c); err != nil {
			m.log.Error("resubscribe failed", "error", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.log.Warn("connection lost", "error", err)
	})

	m.client = mqtt.NewClient(opts)
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", brokerURL, token.Error())
	}
	if err := m.subscribe(m.client); err != nil {
		m.client.Disconnect(250)
		return nil, err
	}
	m.log.Info("listening", "broker", brokerURL, "topic", m.inboundFilter())
	return m, nil
}

func (m *MQTT) IsConnected() bool {
	return m.client.IsConnected()
}

func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

func (m *MQTT) inboundFilter() string {
	return m.prefix + "/+/up/+"
}

func (m *MQTT) subscribe(c mqtt.Client) error {
	token := c.Subscribe(m.inboundFilter(), mqttQoS, m.onMessage)
	if !token.WaitTimeout(mqttWaitTimeout) {
		return fmt.Errorf("subscribe %s: timed out", m.inboundFilter())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.inboundFilter(), err)
	}
	return nil
}

func (m *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	rest := strings.TrimPrefix(msg.Topic(), m.prefix+"/")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "up" || parts[0] == "" || parts[2] == "" {
		m.log.Debug("ignoring topic", "topic", msg.Topic())
		return
	}
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	m.mux.Dispatch(parts[2], json.RawMessage(payload), &mqttClient{id: parts[0], transport: m})
}

type mqttClient struct {
	id        string
	transport *MQTT
}

func (c *mqttClient) ID() string { return c.id }

func (c *mqttClient) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	topic := fmt.Sprintf("%s/%s/down/%s", c.transport.prefix, c.id, event)
	token := c.transport.client.Publish(topic, mqttQoS, false, payload)
	if !token.WaitTimeout(mqttWaitTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}
