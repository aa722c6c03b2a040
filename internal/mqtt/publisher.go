package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/azaman/internal/buildinfo"
	"github.com/nugget/azaman/internal/config"
	"github.com/nugget/azaman/internal/state"
)

// snapshotTimeout bounds a single snapshot publish. StateSaved runs on
// the request path and must not hold a turn hostage to a slow broker.
const snapshotTimeout = 5 * time.Second

// publishClient is the part of the connection manager the publisher
// uses for sending.
type publishClient interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher owns the broker connection. It publishes discovery and
// availability on (re-)connect, refreshes diagnostic sensors on an
// interval, and writes a retained budget snapshot after each saved turn.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	tokens     *DailyTokens
	logger     *slog.Logger

	mu       sync.Mutex
	cm       *autopaho.ConnectionManager
	client   publishClient
	lastTurn time.Time
}

// New creates a Publisher but does not connect. tokens may be nil, in
// which case the tokens sensor reports zero.
func New(cfg config.MQTTConfig, instanceID string, tokens *DailyTokens, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		tokens:     tokens,
		logger:     logger.With("component", "mqtt"),
	}
}

// Start connects to the broker and runs the sensor refresh loop until
// ctx is cancelled. Connection failures after the first attempt are
// retried in the background by autopaho.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	keepAlive := p.cfg.KeepAliveSec
	if keepAlive <= 0 {
		keepAlive = 30
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       uint16(keepAlive),
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "azaman-" + p.cfg.DeviceName,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.client = cm
	p.mu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	cm := p.cm
	p.mu.Unlock()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx ends.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	p.mu.Lock()
	cm := p.cm
	p.mu.Unlock()
	if cm == nil {
		return errors.New("mqtt publisher not started")
	}
	return cm.AwaitConnection(ctx)
}

// StateSaved publishes the retained budget snapshot for st. Failures
// are logged; the turn has already been persisted.
func (p *Publisher) StateSaved(ctx context.Context, st *state.ConversationState) {
	if st == nil {
		return
	}

	p.mu.Lock()
	client := p.client
	p.lastTurn = time.Now()
	p.mu.Unlock()

	if client == nil {
		p.logger.Debug("mqtt not connected, snapshot skipped", "thread_id", st.ThreadID)
		return
	}

	payload, err := json.Marshal(NewBudgetSnapshot(st))
	if err != nil {
		p.logger.Error("mqtt marshal budget snapshot", "thread_id", st.ThreadID, "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	topic := p.budgetTopic(st.ThreadID)
	if _, err := client.Publish(pubCtx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt budget publish failed", "topic", topic, "error", err)
		return
	}
	p.logger.Debug("mqtt budget published", "topic", topic, "version", st.Version)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "azaman/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) budgetTopic(threadID string) string {
	return p.baseTopic() + "/threads/" + topicSegment(threadID) + "/budget"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// topicSegment replaces the MQTT separator and wildcards so an id
// always occupies exactly one topic level.
func topicSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// --- Discovery ---

type sensorDef struct {
	entitySuffix string
	config       SensorConfig
}

func (p *Publisher) sensor(suffix, name, icon string) SensorConfig {
	return SensorConfig{
		Name:              name,
		ObjectID:          suffix,
		HasEntityName:     true,
		UniqueID:          p.instanceID + "_" + suffix,
		StateTopic:        p.stateTopic(suffix),
		AvailabilityTopic: p.availabilityTopic(),
		Device:            p.device,
		Icon:              icon,
	}
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	version := p.sensor("version", "Version", "mdi:tag")
	version.EntityCategory = "diagnostic"

	tokens := p.sensor("tokens_today", "Tokens Today", "mdi:counter")
	tokens.StateClass = "total_increasing"
	tokens.UnitOfMeasurement = "tokens"

	lastTurn := p.sensor("last_turn", "Last Turn", "mdi:clock-check")
	lastTurn.EntityCategory = "diagnostic"

	return []sensorDef{
		{"version", version},
		{"tokens_today", tokens},
		{"last_turn", lastTurn},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, client publishClient) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entitySuffix)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", s.entitySuffix, "error", err)
			continue
		}
		if _, err := client.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", s.entitySuffix, "error", err)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, client publishClient, status string) {
	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}

// --- Periodic sensor loop ---

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// sensorStates returns the current value of every diagnostic sensor.
func (p *Publisher) sensorStates() map[string]string {
	p.mu.Lock()
	last := p.lastTurn
	p.mu.Unlock()

	var total int64
	if p.tokens != nil {
		in, out, _ := p.tokens.Snapshot()
		total = in + out
	}

	states := map[string]string{
		"version":      buildinfo.Version,
		"tokens_today": strconv.FormatInt(total, 10),
		"last_turn":    "never",
	}
	if !last.IsZero() {
		states["last_turn"] = last.Format(time.RFC3339)
	}
	return states
}

func (p *Publisher) publishStates(ctx context.Context) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return
	}

	states := p.sensorStates()
	for entity, value := range states {
		if _, err := client.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}
	p.logger.Debug("mqtt sensor states published", "entities", len(states))
}
