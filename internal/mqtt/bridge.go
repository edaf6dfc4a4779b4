//go:build !no_mqtt

// Package mqtt bridges the runner to an MQTT broker: every run message is
// published under the configured topic prefix, and termination commands are
// accepted from the broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"seqflow/internal/runner"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge connects the runner service to MQTT.
type Bridge struct {
	client pahomqtt.Client
	svc    *runner.Service
	prefix string
	logger *slog.Logger
	unsub  func()
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(svc *runner.Service, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		svc:    svc,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("seqflow").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to runner events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.svc.OnMessage(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(ev runner.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("marshal event", "err", err)
		return
	}
	b.publish(b.prefix+"/runs/"+ev.RunID, payload, false)
}

// subscribeCommands listens for termination requests. The payload is the
// run ID to terminate.
func (b *Bridge) subscribeCommands() {
	topic := b.prefix + "/cmd/terminate"
	token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		runID := strings.TrimSpace(string(msg.Payload()))
		if runID == "" {
			return
		}
		if err := b.svc.Terminate(runID); err != nil {
			b.logger.Warn("terminate via mqtt", "run", runID, "err", err)
		}
	})
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		b.logger.Error("subscribe commands", "err", token.Error())
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publish(topic string, payload []byte, retain bool) {
	token := b.client.Publish(topic, 1, retain, payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			b.logger.Warn("publish", "topic", topic, "err", token.Error())
		}
	}()
}
