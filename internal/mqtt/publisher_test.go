package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/azaman/internal/config"
	"github.com/nugget/azaman/internal/state"
	"github.com/nugget/azaman/internal/tools"
	"github.com/nugget/azaman/internal/usage"
)

type recordingClient struct {
	mu   sync.Mutex
	msgs []*paho.Publish
	err  error
}

func (r *recordingClient) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.msgs = append(r.msgs, p)
	return &paho.PublishResponse{}, nil
}

func (r *recordingClient) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		out = append(out, m.Topic)
	}
	return out
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:             "mqtt://localhost:1883",
		DeviceName:         "kitchen-aza",
		DiscoveryPrefix:    "homeassistant",
		PublishIntervalSec: 60,
	}
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if parts := strings.Split(first, "-"); len(parts) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}

	data, err := os.ReadFile(filepath.Join(dir, instanceFile))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != first {
		t.Errorf("file content = %q, want %q", got, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want stable %q", second, first)
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("instance-1", "kitchen-aza")
	if info.Name != "kitchen-aza" {
		t.Errorf("Name = %q", info.Name)
	}
	if len(info.Identifiers) != 1 || info.Identifiers[0] != "instance-1" {
		t.Errorf("Identifiers = %v", info.Identifiers)
	}
	if info.Model != "Aza Man Budget Assistant" {
		t.Errorf("Model = %q", info.Model)
	}
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := New(testConfig(), "test-id", nil, nil)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"base", p.baseTopic(), "azaman/kitchen-aza"},
		{"availability", p.availabilityTopic(), "azaman/kitchen-aza/availability"},
		{"state", p.stateTopic("version"), "azaman/kitchen-aza/version/state"},
		{"budget", p.budgetTopic("thread_Blaq01"), "azaman/kitchen-aza/threads/thread_Blaq01/budget"},
		{"budget wildcard", p.budgetTopic("a/b+#"), "azaman/kitchen-aza/threads/a_b__/budget"},
		{"discovery", p.discoveryTopic("sensor", "version"), "homeassistant/sensor/kitchen-aza/version/config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublisher_SensorDefinitions(t *testing.T) {
	cfg := testConfig()
	p := New(cfg, "instance-123", nil, nil)

	want := map[string]string{
		"version":      "Version",
		"tokens_today": "Tokens Today",
		"last_turn":    "Last Turn",
	}
	defs := p.sensorDefinitions()
	if len(defs) != len(want) {
		t.Fatalf("got %d sensors, want %d", len(defs), len(want))
	}
	for _, d := range defs {
		if d.config.Name != want[d.entitySuffix] {
			t.Errorf("sensor %s: Name = %q, want %q", d.entitySuffix, d.config.Name, want[d.entitySuffix])
		}
		if strings.Contains(d.config.Name, cfg.DeviceName) {
			t.Errorf("sensor %s: Name repeats the device name", d.entitySuffix)
		}
		if d.config.ObjectID != d.entitySuffix || !d.config.HasEntityName {
			t.Errorf("sensor %s: ObjectID=%q HasEntityName=%v", d.entitySuffix, d.config.ObjectID, d.config.HasEntityName)
		}
		if d.config.UniqueID != "instance-123_"+d.entitySuffix {
			t.Errorf("sensor %s: UniqueID = %q", d.entitySuffix, d.config.UniqueID)
		}
		if d.config.AvailabilityTopic != "azaman/kitchen-aza/availability" {
			t.Errorf("sensor %s: AvailabilityTopic = %q", d.entitySuffix, d.config.AvailabilityTopic)
		}
	}
}

func savedState() *state.ConversationState {
	st := state.New("thread_Blaq01")
	st.Username = "Blaq"
	st.Income = 750000
	st.BudgetForExpenses = 450000
	st.SavingsGoal = 300000
	st.Currency = "NGN"
	st.Expense = 120000
	st.Expenses = []tools.Expense{{Category: "rent", Amount: 100000}, {Category: "data", Amount: 20000}}
	st.Version = 4
	st.UpdatedAt = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return st
}

func TestPublisher_StateSaved(t *testing.T) {
	client := &recordingClient{}
	p := New(testConfig(), "id", nil, nil)
	p.client = client

	p.StateSaved(context.Background(), savedState())

	if len(client.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(client.msgs))
	}
	msg := client.msgs[0]
	if msg.Topic != "azaman/kitchen-aza/threads/thread_Blaq01/budget" || !msg.Retain || msg.QoS != 1 {
		t.Errorf("publish = topic %q retain %v qos %d", msg.Topic, msg.Retain, msg.QoS)
	}

	var snap BudgetSnapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if snap.Remaining != 330000 || snap.ExpenseCount != 2 || snap.Version != 4 || snap.Username != "Blaq" {
		t.Errorf("snapshot = %+v", snap)
	}
	if strings.Contains(string(msg.Payload), "messages") {
		t.Errorf("snapshot leaked history: %s", msg.Payload)
	}

	if p.sensorStates()["last_turn"] == "never" {
		t.Error("last_turn not updated by StateSaved")
	}
}

func TestPublisher_StateSaved_Disconnected(t *testing.T) {
	p := New(testConfig(), "id", nil, nil)
	// Must not panic without a connection.
	p.StateSaved(context.Background(), savedState())
	p.StateSaved(context.Background(), nil)
}

func TestPublisher_StateSaved_PublishError(t *testing.T) {
	client := &recordingClient{err: errors.New("broker gone")}
	p := New(testConfig(), "id", nil, nil)
	p.client = client
	p.StateSaved(context.Background(), savedState())
	if len(client.msgs) != 0 {
		t.Errorf("unexpected messages: %v", client.topics())
	}
}

func TestPublisher_SensorStates(t *testing.T) {
	tokens := NewDailyTokens(time.UTC)
	_ = tokens.Record(context.Background(), usage.Record{InputTokens: 40, OutputTokens: 2})
	p := New(testConfig(), "id", tokens, nil)

	states := p.sensorStates()
	if states["tokens_today"] != "42" {
		t.Errorf("tokens_today = %q, want 42", states["tokens_today"])
	}
	if states["last_turn"] != "never" {
		t.Errorf("last_turn = %q, want never", states["last_turn"])
	}
	if states["version"] == "" {
		t.Error("version empty")
	}
}

func TestPublisher_DiscoveryAndAvailability(t *testing.T) {
	client := &recordingClient{}
	p := New(testConfig(), "id", nil, nil)

	p.publishDiscovery(context.Background(), client)
	p.publishAvailability(context.Background(), client, "online")

	topics := client.topics()
	if len(topics) != 4 {
		t.Fatalf("topics = %v", topics)
	}
	if topics[3] != "azaman/kitchen-aza/availability" || string(client.msgs[3].Payload) != "online" {
		t.Errorf("availability publish = %q %q", topics[3], client.msgs[3].Payload)
	}

	var sc SensorConfig
	if err := json.Unmarshal(client.msgs[0].Payload, &sc); err != nil {
		t.Fatalf("discovery payload: %v", err)
	}
	if sc.Device.Identifiers[0] != "id" {
		t.Errorf("discovery device = %+v", sc.Device)
	}
}

func TestPublisher_PublishStates(t *testing.T) {
	client := &recordingClient{}
	p := New(testConfig(), "id", nil, nil)

	p.publishStates(context.Background()) // no client: no-op
	p.client = client
	p.publishStates(context.Background())

	if len(client.msgs) != 3 {
		t.Errorf("published %d states, want 3: %v", len(client.msgs), client.topics())
	}
}

func TestPublisher_NotStarted(t *testing.T) {
	p := New(testConfig(), "id", nil, nil)
	if err := p.AwaitConnection(context.Background()); err == nil {
		t.Error("AwaitConnection should fail before Start")
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop before Start = %v", err)
	}
}
