package enocean

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-enocean/internal/bridges/enocean/esp3"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// commandTimeout is the timeout for handing a telegram to the gateway.
	commandTimeout = 5 * time.Second

	// listTimeout bounds the database queries behind list_devices.
	listTimeout = 10 * time.Second

	// maxLearnWindow caps the learn_start seconds parameter.
	maxLearnWindow = 30 * time.Minute

	// teachInLRNType is DB0 of a 4BS teach-in carrying EEP and manufacturer
	// (LRN type bit set, learn bit clear).
	teachInLRNType = 0x80
)

// Bridge orchestrates bidirectional translation between EnOcean radio
// telegrams and MQTT. It handles:
//   - Receiving commands from Core via MQTT and transmitting radio telegrams
//   - Receiving telegrams and publishing state updates to MQTT
//   - Teach-in detection, learn mode and device discovery
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg      *Config
	mqtt     MQTTClient
	gateway  Connector
	health   *HealthReporter
	recorder SenderRecorder  // Optional sender/teach-in survey
	metrics  TelegramMetrics // Optional time-series writer
	senderID esp3.Address    // Source ID for transmitted telegrams

	// Device mappings (built from config, extended by learn mode)
	devices   map[esp3.Address]deviceEntry
	deviceIDs map[string]esp3.Address
	learned   map[esp3.Address]esp3.Profile
	mappingMu sync.RWMutex

	// State cache for change detection
	stateCache   map[esp3.Address]map[string]any
	stateCacheMu sync.RWMutex

	// Learn mode deadline (zero when off)
	learnUntil time.Time
	learnMu    sync.RWMutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// deviceEntry is a configured sender.
type deviceEntry struct {
	DeviceID string
	Name     string
	Profile  esp3.Profile
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// SenderRecorder records senders and teach-ins for site surveys.
// This is optional - if nil, the bridge operates without recording.
// *Recorder satisfies it.
type SenderRecorder interface {
	RecordTelegram(sender esp3.Address, rorg esp3.RORG, dBm int)
	RecordTeachIn(sender esp3.Address, profile esp3.Profile, mfr esp3.Manufacturer, dBm int)
	Senders(ctx context.Context) ([]SenderRecord, error)
	TeachIns(ctx context.Context) ([]TeachInRecord, error)
}

// TelegramMetrics receives per-telegram radio metrics and decoded sensor
// values. This is satisfied by *influxdb.Client.
type TelegramMetrics interface {
	// WriteTelegramMetric records one received telegram.
	WriteTelegramMetric(sender, rorg string, dBm int)

	// WriteDeviceMetric records a numeric decoded value.
	WriteDeviceMetric(deviceID, measurement string, value float64)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded bridge configuration.
	Config *Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Gateway is the ESP3 gateway connection.
	Gateway Connector

	// Logger is optional structured logger.
	Logger Logger

	// Recorder is optional sender recorder for passive discovery.
	Recorder SenderRecorder

	// Metrics is optional time-series writer.
	Metrics TelegramMetrics

	// Version is reported in health messages.
	Version string
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway client is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        opts.Config,
		mqtt:       opts.MQTTClient,
		gateway:    opts.Gateway,
		recorder:   opts.Recorder,
		metrics:    opts.Metrics,
		senderID:   opts.Config.GetSenderID(),
		devices:    make(map[esp3.Address]deviceEntry),
		deviceIDs:  make(map[string]esp3.Address),
		learned:    make(map[esp3.Address]esp3.Profile),
		stateCache: make(map[esp3.Address]map[string]any),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:       opts.Config.Bridge.ID,
		Version:        version,
		Interval:       opts.Config.GetHealthInterval(),
		Publisher:      opts.MQTTClient,
		Gateway:        opts.Gateway,
		GatewayAddress: opts.Config.Gateway.Connection,
		LearnActive:    b.LearnActive,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	b.loadDevices()

	return b, nil
}

// loadDevices builds the address mappings from the configured devices.
func (b *Bridge) loadDevices() {
	b.mappingMu.Lock()
	defer b.mappingMu.Unlock()

	for _, dc := range b.cfg.Devices {
		addr, err := esp3.ParseAddress(dc.Address)
		if err != nil {
			b.logError("skipping device", fmt.Errorf("device=%s: %w", dc.DeviceID, err))
			continue
		}

		profile := esp3.ProfileUnknown
		if dc.Profile != "" {
			if profile, err = esp3.ParseProfile(dc.Profile); err != nil {
				b.logError("skipping device", fmt.Errorf("device=%s: %w", dc.DeviceID, err))
				continue
			}
		}

		b.devices[addr] = deviceEntry{DeviceID: dc.DeviceID, Name: dc.Name, Profile: profile}
		b.deviceIDs[dc.DeviceID] = addr
	}

	b.health.SetDeviceCount(len(b.devices))
}

// Start begins bridge operation.
// This subscribes to MQTT topics, sets up the telegram handler,
// and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.gateway.SetOnTelegram(b.handleTelegram)

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.health.Start(ctx)

	b.mappingMu.RLock()
	deviceCount := len(b.devices)
	b.mappingMu.RUnlock()

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"sender_id", b.senderID.String(),
		"devices", deviceCount)

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight commands
		b.ctxCancel()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// StartLearn enables learn mode for d. Teach-in telegrams received while
// learn mode is active are announced on the discovery topic.
func (b *Bridge) StartLearn(d time.Duration) time.Time {
	until := time.Now().Add(d)

	b.learnMu.Lock()
	b.learnUntil = until
	b.learnMu.Unlock()

	b.logInfo("learn mode started", "until", until.UTC().Format(time.RFC3339))
	return until
}

// StopLearn disables learn mode.
func (b *Bridge) StopLearn() {
	b.learnMu.Lock()
	b.learnUntil = time.Time{}
	b.learnMu.Unlock()

	b.logInfo("learn mode stopped")
}

// LearnActive reports whether learn mode is on.
func (b *Bridge) LearnActive() bool {
	b.learnMu.RLock()
	defer b.learnMu.RUnlock()
	return !b.learnUntil.IsZero() && time.Now().Before(b.learnUntil)
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch messageType := parts[1]; messageType {
	case "command":
		b.handleCommand(payload)
	case "request":
		b.handleRequest(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", messageType))
	}
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	b.mappingMu.RLock()
	addr, ok := b.deviceIDs[cmd.DeviceID]
	b.mappingMu.RUnlock()

	if !ok {
		b.publishAckError(cmd, "", ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", cmd.DeviceID))
		return
	}

	f, err := b.buildTelegram(cmd)
	if err != nil {
		b.publishAckError(cmd, addr.String(), ErrCodeInvalidParameters, err.Error())
		return
	}
	if f == nil {
		b.publishAckError(cmd, addr.String(), ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", cmd.Command))
		return
	}

	// Derive timeout from bridge context so commands are cancelled on shutdown
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.gateway.Send(ctx, f); err != nil {
		b.logError("command execution failed", err)
		b.publishAckError(cmd, addr.String(), sendErrorCode(err), err.Error())
		return
	}

	b.logDebug("telegram sent", "device_id", cmd.DeviceID, "telegram", f.String())
	b.publishAck(cmd, addr.String())
}

// buildTelegram translates a command into an outbound radio telegram.
// A nil frame with nil error means the command is unknown.
func (b *Bridge) buildTelegram(cmd CommandMessage) (*esp3.Frame, error) {
	f := esp3.NewFrame()

	switch cmd.Command {
	case CommandSendRaw:
		if err := buildRaw(f, cmd.Parameters); err != nil {
			return nil, err
		}
	case CommandSend4BS:
		v, err := paramUint32(cmd.Parameters, "data")
		if err != nil {
			return nil, err
		}
		f.InitForKind(esp3.RORG4BS, 0)
		if err := f.Set4BSData(v); err != nil {
			return nil, err
		}
	case CommandTeachIn:
		if err := buildTeachIn(f, cmd.Parameters); err != nil {
			return nil, err
		}
	default:
		return nil, nil //nolint:nilnil // unknown command, reported by caller
	}

	dest := esp3.AddressBroadcast
	if s, ok := cmd.Parameters["destination"].(string); ok && s != "" {
		addr, err := esp3.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		dest = addr
	}

	f.SetRadioSender(b.senderID)
	f.SetRadioDestination(dest)
	return f, nil
}

// buildRaw shapes f from "rorg", "data" (hex user data) and "status".
func buildRaw(f *esp3.Frame, params map[string]any) error {
	rorgStr, ok := params["rorg"].(string)
	if !ok {
		return fmt.Errorf("rorg is required")
	}
	rorg, err := esp3.ParseRORG(rorgStr)
	if err != nil {
		return err
	}

	dataStr, _ := params["data"].(string)
	data, err := hex.DecodeString(strings.ReplaceAll(dataStr, " ", ""))
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}

	f.InitForKind(rorg, len(data))
	ud := f.RadioUserData()
	if len(ud) != len(data) {
		return fmt.Errorf("%s telegram takes %d data bytes, got %d", rorg, len(ud), len(data))
	}
	copy(ud, data)

	if _, ok := params["status"]; ok {
		status, err := paramUint32(params, "status")
		if err != nil || status > math.MaxUint8 {
			return fmt.Errorf("status must be 0-255")
		}
		f.SetRadioStatus(byte(status))
	}
	return nil
}

// buildTeachIn shapes f as a 4BS teach-in announcing "profile" and the
// optional "manufacturer".
func buildTeachIn(f *esp3.Frame, params map[string]any) error {
	profileStr, ok := params["profile"].(string)
	if !ok {
		return fmt.Errorf("profile is required")
	}
	profile, err := esp3.ParseProfile(profileStr)
	if err != nil {
		return err
	}

	f.InitForKind(esp3.RORG4BS, 0)
	if err := f.Set4BSData(teachInLRNType); err != nil {
		return err
	}
	if err := f.Set4BSTeachInEEP(profile); err != nil {
		return err
	}

	if _, ok := params["manufacturer"]; ok {
		mfr, err := paramUint32(params, "manufacturer")
		if err != nil || mfr > 0x7FF {
			return fmt.Errorf("manufacturer must be an 11-bit id")
		}
		if err := f.Set4BSTeachInManufacturer(esp3.Manufacturer(mfr)); err != nil {
			return err
		}
	}
	return nil
}

// paramUint32 reads a non-negative integer parameter. JSON numbers and
// hex strings ("08280D80") are accepted.
func paramUint32(params map[string]any, key string) (uint32, error) {
	switch v := params[key].(type) {
	case float64:
		if v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
			return 0, fmt.Errorf("%s out of range: %v", key, v)
		}
		return uint32(v), nil
	case string:
		n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(v), "0x"), 16, 32)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid hex %q", key, v)
		}
		return uint32(n), nil
	case nil:
		return 0, fmt.Errorf("%s is required", key)
	default:
		return 0, fmt.Errorf("%s has unsupported type %T", key, v)
	}
}

// sendErrorCode maps a gateway send error to an ack error code.
func sendErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotConnected):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, esp3.ErrPayloadTooLarge), errors.Is(err, esp3.ErrWrongKind):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeProtocolError
	}
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, address string) {
	ack := NewAckMessage(cmd, AckAccepted, address)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(address), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string) {
	ack := NewAckError(cmd, address, code, message)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack error", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(address), payload, 1, false); err != nil {
		b.logError("failed to publish ack error", err)
	}

	b.logError("command failed",
		fmt.Errorf("code=%s message=%s", code, message))
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage

	switch req.Action {
	case ActionLearnStart:
		resp = b.handleLearnStart(req)
	case ActionLearnStop:
		b.StopLearn()
		resp = successResponse(req, map[string]any{"learn_mode": false})
	case ActionListDevices:
		resp = b.handleListDevices(req)
	case ActionStatus:
		resp = successResponse(req, b.statusData())
	default:
		resp = errorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}

	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

func successResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// handleLearnStart handles a learn_start request. The optional "seconds"
// parameter overrides the configured learn window.
func (b *Bridge) handleLearnStart(req RequestMessage) ResponseMessage {
	window := b.cfg.GetLearnWindow()
	if _, ok := req.Parameters["seconds"]; ok {
		secs, err := paramUint32(req.Parameters, "seconds")
		if err != nil || secs == 0 || time.Duration(secs)*time.Second > maxLearnWindow {
			return errorResponse(req, ErrCodeInvalidParameters,
				fmt.Sprintf("seconds must be 1-%d", int(maxLearnWindow.Seconds())))
		}
		window = time.Duration(secs) * time.Second
	}

	until := b.StartLearn(window)
	return successResponse(req, map[string]any{
		"learn_mode": true,
		"until":      until.UTC().Format(time.RFC3339),
	})
}

// handleListDevices handles a list_devices request: configured devices
// plus everything the recorder has heard.
func (b *Bridge) handleListDevices(req RequestMessage) ResponseMessage {
	b.mappingMu.RLock()
	configured := make([]map[string]any, 0, len(b.devices))
	for addr, dev := range b.devices {
		configured = append(configured, map[string]any{
			"device_id": dev.DeviceID,
			"name":      dev.Name,
			"address":   addr.String(),
			"profile":   dev.Profile.String(),
		})
	}
	b.mappingMu.RUnlock()

	slices.SortFunc(configured, func(x, y map[string]any) int {
		return strings.Compare(x["address"].(string), y["address"].(string)) //nolint:forcetypeassert // built above
	})

	data := map[string]any{"configured": configured}
	if b.recorder == nil {
		return successResponse(req, data)
	}

	ctx, cancel := context.WithTimeout(b.ctx, listTimeout)
	defer cancel()

	senders, err := b.recorder.Senders(ctx)
	if err != nil {
		return errorResponse(req, ErrCodeBridgeError, err.Error())
	}
	teachIns, err := b.recorder.TeachIns(ctx)
	if err != nil {
		return errorResponse(req, ErrCodeBridgeError, err.Error())
	}

	heard := make([]map[string]any, 0, len(senders))
	for _, s := range senders {
		heard = append(heard, map[string]any{
			"address":       s.Address.String(),
			"rorg":          s.RORG.String(),
			"last_seen":     s.LastSeen.UTC().Format(time.RFC3339),
			"message_count": s.MessageCount,
			"last_dbm":      s.LastDBm,
			"best_dbm":      s.BestDBm,
		})
	}

	learned := make([]DiscoveredDevice, 0, len(teachIns))
	for _, t := range teachIns {
		learned = append(learned, discoveredDevice(t.Address, t.Profile, t.Manufacturer, t.DBm))
	}

	data["senders"] = heard
	data["teach_ins"] = learned
	return successResponse(req, data)
}

// statusData builds the payload of a status response.
func (b *Bridge) statusData() map[string]any {
	stats := b.gateway.Stats()

	b.mappingMu.RLock()
	deviceCount := len(b.devices)
	learnedCount := len(b.learned)
	b.mappingMu.RUnlock()

	return map[string]any{
		"connected":         stats.Connected,
		"reconnecting":      stats.Reconnecting,
		"learn_mode":        b.LearnActive(),
		"sender_id":         b.senderID.String(),
		"devices":           deviceCount,
		"learned":           learnedCount,
		"telegrams_rx":      stats.TelegramsRx,
		"telegrams_tx":      stats.FramesTx,
		"telegrams_dropped": stats.TelegramsDropped,
		"gateway_rejects":   stats.ResponseErrors,
	}
}

// handleTelegram processes a radio telegram from the gateway.
func (b *Bridge) handleTelegram(f *esp3.Frame) {
	sender := f.RadioSender()
	rorg := f.RadioOrg()
	dBm := f.RadioDBm()

	// Record before any early return so the survey sees all traffic
	if b.recorder != nil {
		b.recorder.RecordTelegram(sender, rorg, dBm)
	}
	if b.metrics != nil {
		b.metrics.WriteTelegramMetric(sender.String(), rorg.String(), dBm)
	}

	if f.HasTeachInfo(b.cfg.TeachIn.MinRSSI, b.cfg.TeachIn.RequireRSSIForAll) {
		b.handleTeachIn(f, sender)

		// RPS telegrams are teach-in and data at the same time
		if rorg != esp3.RORGRPS {
			return
		}
	}

	b.publishState(f, sender)
}

// handleTeachIn records a teach-in and, in learn mode, announces it.
// RPS telegrams carry no explicit learn bit, so they only count outside
// learn mode as ordinary traffic.
func (b *Bridge) handleTeachIn(f *esp3.Frame, sender esp3.Address) {
	learning := b.LearnActive()
	if f.RadioOrg() == esp3.RORGRPS && !learning {
		return
	}

	profile := f.Profile()
	mfr := f.Manufacturer()
	dBm := f.RadioDBm()

	if b.recorder != nil {
		b.recorder.RecordTeachIn(sender, profile, mfr, dBm)
	}

	if !learning {
		b.logDebug("teach-in outside learn mode",
			"sender", sender.String(),
			"profile", profile.String())
		return
	}

	b.mappingMu.Lock()
	if _, configured := b.devices[sender]; !configured && !profile.IsUnknown() {
		b.learned[sender] = profile
	}
	b.mappingMu.Unlock()

	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.cfg.Bridge.ID,
		Devices:   []DiscoveredDevice{discoveredDevice(sender, profile, mfr, dBm)},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}
	if err := b.mqtt.Publish(DiscoveryTopic(), payload, 1, false); err != nil {
		b.logError("failed to publish discovery", err)
		return
	}

	b.logInfo("teach-in received",
		"sender", sender.String(),
		"profile", profile.String(),
		"manufacturer", mfr.String(),
		"dbm", dBm)
}

func discoveredDevice(addr esp3.Address, profile esp3.Profile, mfr esp3.Manufacturer, dBm int) DiscoveredDevice {
	d := DiscoveredDevice{
		Protocol: ProtocolName,
		Address:  addr.String(),
		Profile:  profile.String(),
		DBm:      dBm,
	}
	if mfr != esp3.ManufacturerUnknown {
		id := int(mfr)
		d.ManufacturerID = &id
		d.Manufacturer = mfr.Name()
	}
	return d
}

// publishState publishes the decoded state of a configured or learned
// sender. Unconfigured senders are only published with publish_unknown.
func (b *Bridge) publishState(f *esp3.Frame, sender esp3.Address) {
	b.mappingMu.RLock()
	dev, configured := b.devices[sender]
	learnedProfile, learned := b.learned[sender]
	b.mappingMu.RUnlock()

	if !configured && !learned && !b.cfg.Bridge.PublishUnknown {
		return
	}

	profile := esp3.ProfileUnknown
	if configured {
		profile = dev.Profile
	} else if learned {
		profile = learnedProfile
	}

	state := decodeState(profile, f)
	if b.stateUnchanged(sender, state) {
		return
	}

	address := sender.String()
	msg := NewStateMessage(dev.DeviceID, address, f.RadioDBm(), state)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	if err := b.mqtt.Publish(StateTopic(address), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
		return
	}

	if b.metrics != nil {
		metricID := dev.DeviceID
		if metricID == "" {
			metricID = address
		}
		for _, key := range []string{"temperature", "humidity"} {
			if v, ok := state[key].(float64); ok {
				b.metrics.WriteDeviceMetric(metricID, key, v)
			}
		}
	}
}

// stateUnchanged checks if the new state matches the cached state.
// Returns true if unchanged (should skip publish).
func (b *Bridge) stateUnchanged(sender esp3.Address, state map[string]any) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if cached, ok := b.stateCache[sender]; ok && maps.Equal(cached, state) {
		return true
	}

	b.stateCache[sender] = maps.Clone(state)
	return false
}

// ClearStateCache removes all entries from the state cache.
// Call this when configuration is reloaded to prevent unbounded memory growth.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	b.stateCache = make(map[esp3.Address]map[string]any)
}

// PruneStateCache removes cache entries for senders that are neither
// configured nor learned. Unknown senders accumulate with publish_unknown.
func (b *Bridge) PruneStateCache() {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	b.mappingMu.RLock()
	defer b.mappingMu.RUnlock()

	for addr := range b.stateCache {
		_, configured := b.devices[addr]
		_, learned := b.learned[addr]
		if !configured && !learned {
			delete(b.stateCache, addr)
		}
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// BridgeMetrics summarises bridge operation.
type BridgeMetrics struct {
	Connected      bool
	Status         string
	TelegramsTx    uint64
	TelegramsRx    uint64
	DevicesManaged int
	LearnMode      bool
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	b.mappingMu.RLock()
	deviceCount := len(b.devices)
	b.mappingMu.RUnlock()

	stats := b.gateway.Stats()
	status := "disconnected"
	if stats.Connected {
		status = "healthy"
	}

	return BridgeMetrics{
		Connected:      stats.Connected,
		Status:         status,
		TelegramsTx:    stats.FramesTx,
		TelegramsRx:    stats.TelegramsRx,
		DevicesManaged: deviceCount,
		LearnMode:      b.LearnActive(),
	}
}
