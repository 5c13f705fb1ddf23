package enocean

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-enocean/internal/bridges/enocean/esp3"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) Disconnect(_ uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// GetPublished returns messages published to topic.
func (m *MockMQTTClient) GetPublished(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage delivers a message to the handler whose subscription
// pattern matches topic ("#" wildcards only).
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var handler func(string, []byte)
	for pattern, h := range m.handlers {
		if pattern == topic || (strings.HasSuffix(pattern, "#") && strings.HasPrefix(topic, strings.TrimSuffix(pattern, "#"))) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

// MockConnector implements Connector for testing.
type MockConnector struct {
	mu             sync.Mutex
	stats          GatewayStats
	sent           []*esp3.Frame
	onTelegramFunc func(*esp3.Frame)
	sendError      error
}

func NewMockConnector() *MockConnector {
	return &MockConnector{stats: GatewayStats{Connected: true}}
}

func (m *MockConnector) Send(_ context.Context, f *esp3.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendError != nil {
		return m.sendError
	}
	if err := f.Finalize(); err != nil {
		return err
	}
	m.sent = append(m.sent, f)
	m.stats.FramesTx++
	return nil
}

func (m *MockConnector) SetOnTelegram(callback func(*esp3.Frame)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTelegramFunc = callback
}

func (m *MockConnector) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.Connected
}

func (m *MockConnector) Stats() GatewayStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *MockConnector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Connected = false
	return nil
}

func (m *MockConnector) GetSent() []*esp3.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

func (m *MockConnector) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendError = err
}

// SimulateTelegram delivers a radio telegram as the gateway would.
func (m *MockConnector) SimulateTelegram(f *esp3.Frame) {
	m.mu.Lock()
	fn := m.onTelegramFunc
	m.stats.TelegramsRx++
	m.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

// fakeMetrics implements TelegramMetrics for testing.
type fakeMetrics struct {
	mu        sync.Mutex
	telegrams []string
	values    map[string]float64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{values: make(map[string]float64)}
}

func (m *fakeMetrics) WriteTelegramMetric(sender, rorg string, dBm int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telegrams = append(m.telegrams, fmt.Sprintf("%s/%s/%d", sender, rorg, dBm))
}

func (m *fakeMetrics) WriteDeviceMetric(deviceID, measurement string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[deviceID+"/"+measurement] = value
}

func testConfig() *Config {
	cfg := defaultConfig()
	cfg.Bridge.ID = "test-bridge"
	cfg.Gateway.SenderID = "FF800001"
	cfg.Devices = []DeviceConfig{
		{DeviceID: "rocker-hall", Address: "0086B81A", Profile: "F6-02-01", Name: "Hall rocker"},
		{DeviceID: "window-kitchen", Address: "0089ABCD", Profile: "D5-00-01"},
		{DeviceID: "blind-office", Address: "05123456"},
	}
	return cfg
}

type bridgeFixture struct {
	bridge  *Bridge
	mqtt    *MockMQTTClient
	gateway *MockConnector
}

func setupBridge(t *testing.T, cfg *Config, opts BridgeOptions) bridgeFixture {
	t.Helper()

	fx := bridgeFixture{mqtt: NewMockMQTTClient(), gateway: NewMockConnector()}
	opts.Config = cfg
	opts.MQTTClient = fx.mqtt
	opts.Gateway = fx.gateway

	b, err := NewBridge(opts)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	fx.bridge = b
	return fx
}

func lastState(t *testing.T, m *MockMQTTClient, address string) StateMessage {
	t.Helper()
	msgs := m.GetPublished(StateTopic(address))
	if len(msgs) == 0 {
		t.Fatalf("no state published for %s", address)
	}
	var msg StateMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	return msg
}

func sendCommand(t *testing.T, m *MockMQTTClient, cmd CommandMessage) {
	t.Helper()
	cmd.Timestamp = time.Now()
	payload, err := json.Marshal(&cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	m.SimulateMessage(CommandTopic(cmd.DeviceID), payload)
}

func lastAck(t *testing.T, m *MockMQTTClient, address string) AckMessage {
	t.Helper()
	msgs := m.GetPublished(AckTopic(address))
	if len(msgs) == 0 {
		t.Fatalf("no ack published on %s", AckTopic(address))
	}
	var ack AckMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

func sendRequest(t *testing.T, m *MockMQTTClient, req RequestMessage) ResponseMessage {
	t.Helper()
	req.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	m.SimulateMessage(RequestTopic(req.RequestID), payload)

	msgs := m.GetPublished(ResponseTopic(req.RequestID))
	if len(msgs) == 0 {
		t.Fatalf("no response for %s", req.RequestID)
	}
	var resp ResponseMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestNewBridgeRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		opts BridgeOptions
	}{
		{"missing config", BridgeOptions{MQTTClient: NewMockMQTTClient(), Gateway: NewMockConnector()}},
		{"missing mqtt", BridgeOptions{Config: testConfig(), Gateway: NewMockConnector()}},
		{"missing gateway", BridgeOptions{Config: testConfig(), MQTTClient: NewMockMQTTClient()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); err == nil {
				t.Error("NewBridge() error = nil, want error")
			}
		})
	}
}

func TestBridgeStartSubscribes(t *testing.T) {
	fx := setupBridge(t, testConfig(), BridgeOptions{})

	subs := fx.mqtt.GetSubscriptions()
	if len(subs) != 2 {
		t.Fatalf("subscriptions = %d, want 2", len(subs))
	}
	if subs[0].Topic != CommandSubscribeTopic() || subs[1].Topic != RequestSubscribeTopic() {
		t.Errorf("subscriptions = %+v", subs)
	}
	if len(fx.mqtt.GetPublished(HealthTopic())) == 0 {
		t.Error("no health status published on start")
	}
	if got := fx.bridge.GetMetrics().DevicesManaged; got != 3 {
		t.Errorf("DevicesManaged = %d, want 3", got)
	}
}

func TestBridgeTelegramPublishesState(t *testing.T) {
	fx := setupBridge(t, testConfig(), BridgeOptions{})

	fx.gateway.SimulateTelegram(mustFrame(t, rpsFrame))

	msgs := fx.mqtt.GetPublished(StateTopic("0086B81A"))
	if len(msgs) != 1 {
		t.Fatalf("state messages = %d, want 1", len(msgs))
	}
	if msgs[0].QoS != 1 || !msgs[0].Retained {
		t.Errorf("qos/retained = %d/%v, want 1/true", msgs[0].QoS, msgs[0].Retained)
	}

	msg := lastState(t, fx.mqtt, "0086B81A")
	if msg.DeviceID != "rocker-hall" {
		t.Errorf("DeviceID = %q, want rocker-hall", msg.DeviceID)
	}
	if msg.State["button"] != "A0" || msg.State["pressed"] != true {
		t.Errorf("State = %v, want button A0 pressed", msg.State)
	}
	if msg.Protocol != ProtocolName {
		t.Errorf("Protocol = %q, want %q", msg.Protocol, ProtocolName)
	}
}

func TestBridgeContactState(t *testing.T) {
	fx := setupBridge(t, testConfig(), BridgeOptions{})

	fx.gateway.SimulateTelegram(mustFrame(t, oneBSDataFrame))

	msg := lastState(t, fx.mqtt, "0089ABCD")
	if msg.State["contact"] != "closed" {
		t.Errorf("contact = %v, want closed", msg.State["contact"])
	}
	if msg.DBm != -64 {
		t.Errorf("DBm = %d, want -64", msg.DBm)
	}
}

func TestBridgeStateUnchangedSuppressed(t *testing.T) {
	fx := setupBridge(t, testConfig(), BridgeOptions{})

	fx.gateway.SimulateTelegram(mustFrame(t, rpsFrame))
	fx.gateway.SimulateTelegram(mustFrame(t, rpsFrame))

	if got := len(fx.mqtt.GetPublished(StateTopic("0086B81A"))); got != 1 {
		t.Errorf("state messages = %d, want 1", got)
	}

	fx.bridge.ClearStateCache()
	fx.gateway.SimulateTelegram(mustFrame(t, rpsFrame))

	if got := len(fx.mqtt.GetPublished(StateTopic("0086B81A"))); got != 2 {
		t.Errorf("state messages after clear = %d, want 2", got)
	}
}

func TestBridgeUnknownSender(t *testing.T) {
	t.Run("ignored by default", func(t *testing.T) {
		fx := setupBridge(t, defaultConfig(), BridgeOptions{})
		fx.gateway.SimulateTelegram(mustFrame(t, oneBSDataFrame))

		if got := len(fx.mqtt.GetPublished(StateTopic("0089ABCD"))); got != 0 {
			t.Errorf("state messages = %d, want 0", got)
		}
	})

	t.Run("published with publish_unknown", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Bridge.PublishUnknown = true
		fx := setupBridge(t, cfg, BridgeOptions{})
		fx.gateway.SimulateTelegram(mustFrame(t, oneBSDataFrame))

		msg := lastState(t, fx.mqtt, "0089ABCD")
		if msg.DeviceID != "" {
			t.Errorf("DeviceID = %q, want empty", msg.DeviceID)
		}
		if _, ok := msg.State["contact"]; ok {
			t.Error("unknown sender state decoded, want raw fields only")
		}

		fx.bridge.PruneStateCache()
		fx.gateway.SimulateTelegram(mustFrame(t, oneBSDataFrame))
		if got := len(fx.mqtt.GetPublished(StateTopic("0089ABCD"))); got != 2 {
			t.Errorf("state messages after prune = %d, want 2", got)
		}
	})
}

func TestBridgeTeachInLearnMode(t *testing.T) {
	rec := startRecorder(t)
	fx := setupBridge(t, testConfig(), BridgeOptions{Recorder: rec})

	fx.bridge.StartLearn(time.Minute)
	fx.gateway.SimulateTelegram(mustFrame(t, fourBSTeachInFrame))

	msgs := fx.mqtt.GetPublished(DiscoveryTopic())
	if len(msgs) != 1 {
		t.Fatalf("discovery messages = %d, want 1", len(msgs))
	}

	var disc DiscoveryMessage
	if err := json.Unmarshal(msgs[0].Payload, &disc); err != nil {
		t.Fatalf("unmarshal discovery: %v", err)
	}
	if disc.Bridge != "test-bridge" || len(disc.Devices) != 1 {
		t.Fatalf("discovery = %+v", disc)
	}
	dev := disc.Devices[0]
	if dev.Address != "0181A2B3" || dev.Profile != "A5-02-05" {
		t.Errorf("device = %+v, want 0181A2B3 A5-02-05", dev)
	}
	if dev.ManufacturerID == nil || *dev.ManufacturerID != 0x00D || dev.Manufacturer != "Eltako" {
		t.Errorf("manufacturer = %v %q, want 13 Eltako", dev.ManufacturerID, dev.Manufacturer)
	}
	if dev.DBm != -45 {
		t.Errorf("DBm = %d, want -45", dev.DBm)
	}

	// Teach-ins are not state
	if got := len(fx.mqtt.GetPublished(StateTopic("0181A2B3"))); got != 0 {
		t.Errorf("state messages for teach-in = %d, want 0", got)
	}

	// The learned profile decodes later data telegrams
	fx.gateway.SimulateTelegram(fourBSFrame(t, 0x00008008))
	msg := lastState(t, fx.mqtt, "0181A2B3")
	if msg.State["temperature"] != 19.9 {
		t.Errorf("temperature = %v, want 19.9", msg.State["temperature"])
	}

	teachIns, err := rec.TeachIns(context.Background())
	if err != nil {
		t.Fatalf("TeachIns() error = %v", err)
	}
	if len(teachIns) != 1 || teachIns[0].Manufacturer != 0x00D {
		t.Errorf("teach-ins = %+v, want one from Eltako", teachIns)
	}
}

func TestBridgeTeachInOutsideLearnMode(t *testing.T) {
	rec := startRecorder(t)
	fx := setupBridge(t, testConfig(), BridgeOptions{Recorder: rec})

	fx.gateway.SimulateTelegram(mustFrame(t, fourBSTeachInFrame))
	fx.gateway.SimulateTelegram(mustFrame(t, rpsFrame))

	if got := len(fx.mqtt.GetPublished(DiscoveryTopic())); got != 0 {
		t.Errorf("discovery messages = %d, want 0", got)
	}

	// 4BS teach-in is recorded, the rocker press is not
	teachIns, err := rec.TeachIns(context.Background())
	if err != nil {
		t.Fatalf("TeachIns() error = %v", err)
	}
	if len(teachIns) != 1 || teachIns[0].Address != 0x0181A2B3 {
		t.Errorf("teach-ins = %+v, want only 0181A2B3", teachIns)
	}

	// Unknown sender without learn mode stays undecoded and unpublished
	fx.gateway.SimulateTelegram(fourBSFrame(t, 0x00008008))
	if got := len(fx.mqtt.GetPublished(StateTopic("0181A2B3"))); got != 0 {
		t.Errorf("state messages = %d, want 0", got)
	}
}

func TestBridgeTeachInSignalGate(t *testing.T) {
	cfg := testConfig()
	cfg.TeachIn.MinRSSI = -40
	fx := setupBridge(t, cfg, BridgeOptions{})

	fx.bridge.StartLearn(time.Minute)
	fx.gateway.SimulateTelegram(mustFrame(t, fourBSTeachInFrame)) // -45 dBm

	if got := len(fx.mqtt.GetPublished(DiscoveryTopic())); got != 0 {
		t.Errorf("discovery messages = %d, want 0 below min_rssi", got)
	}
}

func TestBridgeMetrics(t *testing.T) {
	metrics := newFakeMetrics()
	cfg := testConfig()
	cfg.Devices = append(cfg.Devices, DeviceConfig{DeviceID: "temp-living", Address: "0181A2B3", Profile: "A5-02-05"})
	fx := setupBridge(t, cfg, BridgeOptions{Metrics: metrics})

	fx.gateway.SimulateTelegram(mustFrame(t, oneBSDataFrame))
	fx.gateway.SimulateTelegram(fourBSFrame(t, 0x00008008))

	metrics.mu.Lock()
	defer metrics.mu.Unlock()

	if len(metrics.telegrams) != 2 || metrics.telegrams[0] != "0089ABCD/1BS/-64" {
		t.Errorf("telegram metrics = %v", metrics.telegrams)
	}
	if got := metrics.values["temp-living/temperature"]; got != 19.9 {
		t.Errorf("temperature metric = %v, want 19.9", got)
	}
}

func TestBridgeCommands(t *testing.T) {
	tests := []struct {
		name     string
		cmd      CommandMessage
		wantRORG esp3.RORG
		wantData []byte
		wantDest esp3.Address
		check    func(t *testing.T, f *esp3.Frame)
	}{
		{
			name: "send_raw rocker",
			cmd: CommandMessage{
				ID: "cmd-1", DeviceID: "blind-office", Command: CommandSendRaw,
				Parameters: map[string]any{"rorg": "F6", "data": "30", "status": 48},
			},
			wantRORG: esp3.RORGRPS,
			wantData: []byte{0x30},
			wantDest: esp3.AddressBroadcast,
			check: func(t *testing.T, f *esp3.Frame) {
				if f.RadioStatus() != 0x30 {
					t.Errorf("status = %02X, want 30", f.RadioStatus())
				}
			},
		},
		{
			name: "send_4bs number addressed",
			cmd: CommandMessage{
				ID: "cmd-2", DeviceID: "blind-office", Command: CommandSend4BS,
				Parameters: map[string]any{"data": 0x0A0B0C08, "destination": "05123456"},
			},
			wantRORG: esp3.RORG4BS,
			wantData: []byte{0x0A, 0x0B, 0x0C, 0x08},
			wantDest: 0x05123456,
		},
		{
			name: "send_4bs hex",
			cmd: CommandMessage{
				ID: "cmd-3", DeviceID: "blind-office", Command: CommandSend4BS,
				Parameters: map[string]any{"data": "0x64000009"},
			},
			wantRORG: esp3.RORG4BS,
			wantData: []byte{0x64, 0x00, 0x00, 0x09},
			wantDest: esp3.AddressBroadcast,
		},
		{
			name: "teach_in with manufacturer",
			cmd: CommandMessage{
				ID: "cmd-4", DeviceID: "blind-office", Command: CommandTeachIn,
				Parameters: map[string]any{"profile": "A5-02-05", "manufacturer": 13},
			},
			wantRORG: esp3.RORG4BS,
			wantData: []byte{0x08, 0x28, 0x0D, 0x80},
			wantDest: esp3.AddressBroadcast,
			check: func(t *testing.T, f *esp3.Frame) {
				if f.Profile().String() != "A5-02-05" {
					t.Errorf("Profile() = %s, want A5-02-05", f.Profile())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := setupBridge(t, testConfig(), BridgeOptions{})

			sendCommand(t, fx.mqtt, tt.cmd)

			sent := fx.gateway.GetSent()
			if len(sent) != 1 {
				t.Fatalf("sent %d telegrams, want 1", len(sent))
			}
			f := sent[0]
			if f.RadioOrg() != tt.wantRORG {
				t.Errorf("RadioOrg() = %s, want %s", f.RadioOrg(), tt.wantRORG)
			}
			if !bytes.Equal(f.RadioUserData(), tt.wantData) {
				t.Errorf("user data = % X, want % X", f.RadioUserData(), tt.wantData)
			}
			if f.RadioSender() != 0xFF800001 {
				t.Errorf("RadioSender() = %s, want FF800001", f.RadioSender())
			}
			if f.RadioDestination() != tt.wantDest {
				t.Errorf("RadioDestination() = %s, want %s", f.RadioDestination(), tt.wantDest)
			}
			if f.RadioSubtelegrams() != esp3.DefaultSubtelegrams {
				t.Errorf("RadioSubtelegrams() = %d, want %d", f.RadioSubtelegrams(), esp3.DefaultSubtelegrams)
			}
			if tt.check != nil {
				tt.check(t, f)
			}

			ack := lastAck(t, fx.mqtt, "05123456")
			if ack.Status != AckAccepted || ack.CommandID != tt.cmd.ID {
				t.Errorf("ack = %+v, want accepted for %s", ack, tt.cmd.ID)
			}
		})
	}
}

func TestBridgeCommandErrors(t *testing.T) {
	tests := []struct {
		name      string
		cmd       CommandMessage
		sendErr   error
		ackAddr   string
		wantCode  string
		wantState AckStatus
	}{
		{
			name:      "unknown device",
			cmd:       CommandMessage{ID: "e1", DeviceID: "nope", Command: CommandSend4BS},
			ackAddr:   "",
			wantCode:  ErrCodeNotConfigured,
			wantState: AckFailed,
		},
		{
			name:      "unknown command",
			cmd:       CommandMessage{ID: "e2", DeviceID: "blind-office", Command: "dance"},
			ackAddr:   "05123456",
			wantCode:  ErrCodeInvalidCommand,
			wantState: AckFailed,
		},
		{
			name: "wrong data length",
			cmd: CommandMessage{ID: "e3", DeviceID: "blind-office", Command: CommandSendRaw,
				Parameters: map[string]any{"rorg": "RPS", "data": "3031"}},
			ackAddr:   "05123456",
			wantCode:  ErrCodeInvalidParameters,
			wantState: AckFailed,
		},
		{
			name: "send_raw longer than a frame holds",
			cmd: CommandMessage{ID: "e8", DeviceID: "blind-office", Command: CommandSendRaw,
				Parameters: map[string]any{"rorg": "11", "data": strings.Repeat("AB", 300)}},
			ackAddr:   "05123456",
			wantCode:  ErrCodeInvalidParameters,
			wantState: AckFailed,
		},
		{
			name: "teach_in non-4BS profile",
			cmd: CommandMessage{ID: "e4", DeviceID: "blind-office", Command: CommandTeachIn,
				Parameters: map[string]any{"profile": "F6-02-01"}},
			ackAddr:   "05123456",
			wantCode:  ErrCodeInvalidParameters,
			wantState: AckFailed,
		},
		{
			name: "missing data",
			cmd: CommandMessage{ID: "e5", DeviceID: "blind-office", Command: CommandSend4BS,
				Parameters: map[string]any{}},
			ackAddr:   "05123456",
			wantCode:  ErrCodeInvalidParameters,
			wantState: AckFailed,
		},
		{
			name: "gateway not connected",
			cmd: CommandMessage{ID: "e6", DeviceID: "blind-office", Command: CommandSend4BS,
				Parameters: map[string]any{"data": 8}},
			sendErr:   ErrNotConnected,
			ackAddr:   "05123456",
			wantCode:  ErrCodeDeviceUnreachable,
			wantState: AckFailed,
		},
		{
			name: "gateway timeout",
			cmd: CommandMessage{ID: "e7", DeviceID: "blind-office", Command: CommandSend4BS,
				Parameters: map[string]any{"data": 8}},
			sendErr:   fmt.Errorf("%w: %w", ErrSendFailed, context.DeadlineExceeded),
			ackAddr:   "05123456",
			wantCode:  ErrCodeTimeout,
			wantState: AckTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := setupBridge(t, testConfig(), BridgeOptions{})
			fx.gateway.SetSendError(tt.sendErr)

			sendCommand(t, fx.mqtt, tt.cmd)

			ack := lastAck(t, fx.mqtt, tt.ackAddr)
			if ack.Status != tt.wantState {
				t.Errorf("Status = %q, want %q", ack.Status, tt.wantState)
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("Error = %+v, want code %s", ack.Error, tt.wantCode)
			}
			if len(fx.gateway.GetSent()) != 0 {
				t.Error("telegram sent despite error")
			}
		})
	}
}

func TestBridgeLearnRequests(t *testing.T) {
	fx := setupBridge(t, testConfig(), BridgeOptions{})

	resp := sendRequest(t, fx.mqtt, RequestMessage{
		RequestID:  "r1",
		Action:     ActionLearnStart,
		Parameters: map[string]any{"seconds": 120},
	})
	if !resp.Success || resp.Data["learn_mode"] != true {
		t.Fatalf("learn_start = %+v", resp)
	}
	if !fx.bridge.LearnActive() {
		t.Error("LearnActive() = false after learn_start")
	}
	if !fx.bridge.GetMetrics().LearnMode {
		t.Error("GetMetrics().LearnMode = false after learn_start")
	}

	resp = sendRequest(t, fx.mqtt, RequestMessage{RequestID: "r2", Action: ActionLearnStop})
	if !resp.Success {
		t.Fatalf("learn_stop = %+v", resp)
	}
	if fx.bridge.LearnActive() {
		t.Error("LearnActive() = true after learn_stop")
	}

	resp = sendRequest(t, fx.mqtt, RequestMessage{
		RequestID:  "r3",
		Action:     ActionLearnStart,
		Parameters: map[string]any{"seconds": 0},
	})
	if resp.Success || resp.Error == nil || resp.Error.Code != ErrCodeInvalidParameters {
		t.Errorf("learn_start 0s = %+v, want invalid parameters", resp)
	}
}

func TestBridgeLearnModeExpires(t *testing.T) {
	fx := setupBridge(t, testConfig(), BridgeOptions{})

	fx.bridge.StartLearn(20 * time.Millisecond)
	if !fx.bridge.LearnActive() {
		t.Fatal("LearnActive() = false right after StartLearn")
	}
	time.Sleep(40 * time.Millisecond)
	if fx.bridge.LearnActive() {
		t.Error("LearnActive() = true after window elapsed")
	}
}

func TestBridgeStatusRequest(t *testing.T) {
	fx := setupBridge(t, testConfig(), BridgeOptions{})
	fx.gateway.SimulateTelegram(mustFrame(t, rpsFrame))

	resp := sendRequest(t, fx.mqtt, RequestMessage{RequestID: "s1", Action: ActionStatus})
	if !resp.Success {
		t.Fatalf("status = %+v", resp)
	}
	if resp.Data["connected"] != true {
		t.Errorf("connected = %v, want true", resp.Data["connected"])
	}
	if resp.Data["sender_id"] != "FF800001" {
		t.Errorf("sender_id = %v, want FF800001", resp.Data["sender_id"])
	}
	// JSON numbers decode as float64
	if resp.Data["devices"] != 3.0 || resp.Data["telegrams_rx"] != 1.0 {
		t.Errorf("data = %v", resp.Data)
	}
}

func TestBridgeListDevices(t *testing.T) {
	rec := startRecorder(t)
	fx := setupBridge(t, testConfig(), BridgeOptions{Recorder: rec})

	fx.gateway.SimulateTelegram(mustFrame(t, rpsFrame))
	fx.gateway.SimulateTelegram(mustFrame(t, fourBSTeachInFrame))

	resp := sendRequest(t, fx.mqtt, RequestMessage{RequestID: "l1", Action: ActionListDevices})
	if !resp.Success {
		t.Fatalf("list_devices = %+v", resp)
	}

	configured, _ := resp.Data["configured"].([]any)
	if len(configured) != 3 {
		t.Errorf("configured = %d, want 3", len(configured))
	}
	first, _ := configured[0].(map[string]any)
	if first["address"] != "0086B81A" || first["device_id"] != "rocker-hall" {
		t.Errorf("first configured = %v, want rocker-hall sorted first", first)
	}

	senders, _ := resp.Data["senders"].([]any)
	if len(senders) != 2 {
		t.Errorf("senders = %d, want 2", len(senders))
	}
	teachIns, _ := resp.Data["teach_ins"].([]any)
	if len(teachIns) != 1 {
		t.Errorf("teach_ins = %d, want 1", len(teachIns))
	}
}

func TestBridgeListDevicesWithoutRecorder(t *testing.T) {
	fx := setupBridge(t, testConfig(), BridgeOptions{})

	resp := sendRequest(t, fx.mqtt, RequestMessage{RequestID: "l2", Action: ActionListDevices})
	if !resp.Success {
		t.Fatalf("list_devices = %+v", resp)
	}
	if _, ok := resp.Data["senders"]; ok {
		t.Error("senders present without recorder")
	}
}

func TestBridgeUnknownAction(t *testing.T) {
	fx := setupBridge(t, testConfig(), BridgeOptions{})

	resp := sendRequest(t, fx.mqtt, RequestMessage{RequestID: "u1", Action: "reboot"})
	if resp.Success || resp.Error == nil || resp.Error.Code != ErrCodeInvalidCommand {
		t.Errorf("response = %+v, want invalid command", resp)
	}
}

func TestBridgeInvalidMessages(t *testing.T) {
	fx := setupBridge(t, testConfig(), BridgeOptions{})
	fx.mqtt.ClearPublished()

	fx.bridge.handleMQTTMessage("graylogic", []byte("{}"))
	fx.bridge.handleMQTTMessage("graylogic/state/enocean/x", []byte("{}"))
	fx.mqtt.SimulateMessage(CommandTopic("x"), []byte("not json"))
	fx.mqtt.SimulateMessage(RequestTopic("x"), []byte("not json"))

	if got := len(fx.mqtt.GetPublished(AckTopic(""))); got != 0 {
		t.Errorf("acks = %d, want 0", got)
	}
	if got := len(fx.mqtt.GetPublished(ResponseTopic("x"))); got != 0 {
		t.Errorf("responses = %d, want 0", got)
	}
}

func TestBridgeStopIdempotent(t *testing.T) {
	fx := setupBridge(t, testConfig(), BridgeOptions{})

	fx.bridge.Stop()
	fx.bridge.Stop()

	msgs := fx.mqtt.GetPublished(HealthTopic())
	var last HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last health = %q, want stopping", last.Status)
	}
}
