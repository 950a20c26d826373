package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/brightline-controls/dalilink/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "dalilink-test",
			TLS:      false,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// newDisconnectedClient builds a client that never connected. Used to
// exercise validation and state checks without a broker.
func newDisconnectedClient() *Client {
	return &Client{
		cfg:           testConfig(),
		subscriptions: make(map[string]subscription),
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	c := newDisconnectedClient()

	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
}

func TestClose_NeverConnected(t *testing.T) {
	c := newDisconnectedClient()

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v for nil client", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c := newDisconnectedClient()

	t.Run("disconnected", func(t *testing.T) {
		if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
			t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
		}
	})
}

func TestPublish_Validation(t *testing.T) {
	c := newDisconnectedClient()
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 1, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "dalilink/state/DALLA1", qos: 3, wantErr: ErrInvalidQoS},
		{name: "oversized payload", topic: "dalilink/state/DALLA1", payload: make([]byte, maxPayloadSize+1), qos: 1, wantErr: ErrPublishFailed},
		{name: "not connected", topic: "dalilink/state/DALLA1", payload: []byte("{}"), qos: 1, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := newDisconnectedClient()

	if err := c.Subscribe("", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("dalilink/#", 3, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("dalilink/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("dalilink/#", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}

	// Failed subscribes leave no tracking behind.
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes", c.SubscriptionCount())
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	c := newDisconnectedClient()

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("dalilink/health"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestHasSubscription(t *testing.T) {
	c := newDisconnectedClient()

	if c.HasSubscription("dalilink/command/device/+") {
		t.Error("HasSubscription() = true for unsubscribed topic")
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "system status", got: topics.SystemStatus(), want: "dalilink/system/status"},
		{name: "health", got: topics.Health(), want: "dalilink/health"},
		{name: "device state", got: topics.DeviceState("DALLA1"), want: "dalilink/state/DALLA1"},
		{name: "device command", got: topics.DeviceCommand("DALLA1"), want: "dalilink/command/device/DALLA1"},
		{name: "group command", got: topics.GroupCommand("G1"), want: "dalilink/command/group/G1"},
		{name: "all device states", got: topics.AllDeviceStates(), want: "dalilink/state/+"},
		{name: "all device commands", got: topics.AllDeviceCommands(), want: "dalilink/command/device/+"},
		{name: "all group commands", got: topics.AllGroupCommands(), want: "dalilink/command/group/+"},
		{name: "all topics", got: topics.AllTopics(), want: "dalilink/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestStatusPayloads(t *testing.T) {
	var online struct {
		Status    string `json:"status"`
		ClientID  string `json:"client_id"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(buildOnlinePayload("dalilink-01")), &online); err != nil {
		t.Fatalf("online payload is not valid JSON: %v", err)
	}
	if online.Status != "online" || online.ClientID != "dalilink-01" || online.Timestamp == "" {
		t.Errorf("online payload = %+v", online)
	}

	var offline struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(buildOfflinePayload("dalilink-01")), &offline); err != nil {
		t.Fatalf("offline payload is not valid JSON: %v", err)
	}
	if offline.Status != "offline" || offline.Reason != "graceful_shutdown" {
		t.Errorf("offline payload = %+v", offline)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "controller"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("servers = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q", got)
	}
	if opts.ClientID != "dalilink-test" {
		t.Errorf("client id = %q", opts.ClientID)
	}
	if opts.Username != "controller" {
		t.Errorf("username = %q", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("auto reconnect disabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].String(); !strings.HasPrefix(got, "ssl://") {
		t.Errorf("broker URL = %q, want ssl scheme", got)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config missing or below minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	if !opts.WillEnabled {
		t.Fatal("LWT not enabled")
	}
	if opts.WillTopic != "dalilink/system/status" {
		t.Errorf("will topic = %q", opts.WillTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will qos/retained = %d/%v, want 1/true", opts.WillQos, opts.WillRetained)
	}

	var will struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("will payload is not valid JSON: %v", err)
	}
	if will.Status != "offline" || will.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", will)
	}
}
