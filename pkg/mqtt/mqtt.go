// Package mqtt publishes per-camera state and values to an MQTT broker.
// Publishing is best-effort: a broker outage degrades to warnings and
// never blocks the streaming path.
package mqtt

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ethan/iotc-bridge/pkg/cloud"
	"github.com/ethan/iotc-bridge/pkg/config"
	"github.com/ethan/iotc-bridge/pkg/logger"
)

const publishTimeout = 5 * time.Second

// Publisher wraps the broker connection. A nil or disabled publisher
// swallows every call, so callers never need to guard.
type Publisher struct {
	client pahomqtt.Client
	topic  string
	log    *logger.Logger
}

// NewPublisher connects to the broker named in the config. When MQTT is
// not configured it returns a disabled publisher.
func NewPublisher(cfg *config.Config, log *logger.Logger) *Publisher {
	if !cfg.MQTTEnabled() {
		return &Publisher{log: log, topic: cfg.MQTTTopic}
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%s", cfg.MQTTHost, cfg.MQTTPort)).
		SetClientID(fmt.Sprintf("iotc-bridge-%d", os.Getpid())).
		SetConnectTimeout(publishTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	if cfg.MQTTUser != "" {
		opts.SetUsername(cfg.MQTTUser)
		opts.SetPassword(cfg.MQTTPass)
	}

	client := pahomqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(publishTimeout) && token.Error() != nil {
		log.Warn("mqtt connect failed", "error", token.Error())
	}
	return &Publisher{client: client, topic: cfg.MQTTTopic, log: log}
}

// Enabled reports whether a broker is configured.
func (p *Publisher) Enabled() bool { return p != nil && p.client != nil }

// Publish sends one message under the bridge's base topic.
func (p *Publisher) Publish(topic string, payload any) {
	if !p.Enabled() {
		return
	}
	var body []byte
	switch v := payload.(type) {
	case string:
		body = []byte(v)
	case []byte:
		body = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			p.log.Warn("mqtt payload encode failed", "topic", topic, "error", err)
			return
		}
		body = encoded
	}

	full := p.topic + "/" + topic
	token := p.client.Publish(full, 0, true, body)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		p.log.Warn("mqtt publish failed", "topic", full, "error", token.Error())
		return
	}
	p.log.DebugMQTT("published", "topic", full)
}

// UpdateState publishes a camera's lifecycle state.
func (p *Publisher) UpdateState(uri, state string) {
	p.Publish(uri+"/state", state)
}

// PublishValues publishes one message per key under the camera's topic.
func (p *Publisher) PublishValues(uri string, values map[string]any) {
	for key, value := range values {
		p.Publish(uri+"/"+key, value)
	}
}

// Discovery announces a camera for MQTT-discovery-aware consumers. The
// discovery topic prefix comes from MQTT_DTOPIC.
func (p *Publisher) Discovery(cam *cloud.Camera, uri string) {
	if !p.Enabled() {
		return
	}
	p.UpdateState(uri, "disconnected")

	dtopic := config.Env("MQTT_DTOPIC")
	if dtopic == "" {
		return
	}
	payload := map[string]any{
		"uniq_id":               "WYZE" + cam.MAC,
		"name":                  "Wyze Cam " + cam.Nickname,
		"json_attributes_topic": fmt.Sprintf("%s/%s/attributes", p.topic, uri),
		"availability_topic":    fmt.Sprintf("%s/%s/state", p.topic, uri),
		"icon":                  "mdi:image",
		"device": map[string]any{
			"connections":  [][]string{{"mac", cam.MAC}},
			"identifiers":  cam.MAC,
			"manufacturer": "Wyze",
			"model":        cam.ProductModel,
			"sw_version":   cam.FirmwareVer,
			"via_device":   "iotc-bridge",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	topic := fmt.Sprintf("%s/camera/%s/config", dtopic, cam.MAC)
	token := p.client.Publish(topic, 0, true, body)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		p.log.Warn("mqtt discovery failed", "topic", topic, "error", token.Error())
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.Enabled() {
		p.client.Disconnect(250)
	}
}
