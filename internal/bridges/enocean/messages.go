package enocean

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-enocean/internal/infrastructure/mqtt"
)

// Payloads exchanged with Core over the Gray Logic bus. The shapes are
// shared by every protocol bridge; EnOcean adds radio fields (rorg, dbm)
// to the state and discovery payloads.

// ProtocolName is the protocol segment of every topic.
const ProtocolName = "enocean"

// CommandMessage asks the bridge to transmit a telegram.
// Topic: graylogic/command/enocean/{address}
//
// Parameters by command:
//
//	send_raw  {"rorg": "F6", "data": "30", "status": 48}
//	send_4bs  {"data": 168430856} or {"data": "0A0A0A08"}
//	teach_in  {"profile": "A5-02-05", "manufacturer": 11}
type CommandMessage struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	DeviceID   string         `json:"device_id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Source     string         `json:"source"` // api, automation, voice, scene
	UserID     string         `json:"user_id,omitempty"`
}

const (
	CommandSendRaw = "send_raw"
	CommandSend4BS = "send_4bs"
	CommandTeachIn = "teach_in"
)

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted" // gateway answered RET_OK
	AckFailed   AckStatus = "failed"
	AckTimeout  AckStatus = "timeout" // no gateway response in time
)

// AckMessage answers a CommandMessage.
// Topic: graylogic/ack/enocean/{address}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError explains a failed or timed-out command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in AckError and ResponseError.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage reports a received telegram, retained per sender.
// Topic: graylogic/state/enocean/{address}
//
// State always holds rorg and data; decoded fields follow when the
// sender's profile is configured:
//
//	{"rorg": "RPS", "data": "30", "button": "A0", "pressed": true}
//	{"rorg": "1BS", "data": "09", "contact": "closed"}
type StateMessage struct {
	DeviceID  string         `json:"device_id,omitempty"` // empty for unconfigured senders
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`
	DBm       int            `json:"dbm,omitempty"`
}

// HealthStatus is the bridge state published on the health topic.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline" // only ever sent as the LWT
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage is the retained status on graylogic/health/enocean.
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	LearnMode      bool              `json:"learn_mode,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the gateway link: connected, reconnecting or
// disconnected.
type ConnectionStatus struct {
	Status       string     `json:"status"`
	Address      string     `json:"address,omitempty"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics are the gateway counters since start.
type BridgeStatistics struct {
	TelegramsReceived uint64 `json:"telegrams_received"`
	TelegramsSent     uint64 `json:"telegrams_sent"`
	TelegramsDropped  uint64 `json:"telegrams_dropped"`
	GatewayRejects    uint64 `json:"gateway_rejects"`
	Errors            uint64 `json:"errors"`
	Reconnects        uint64 `json:"reconnects"`
}

// RequestMessage carries a request/response operation.
// Topic: graylogic/request/enocean/{request_id}
//
// learn_start takes {"seconds": 120}; the other actions take nothing.
type RequestMessage struct {
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

const (
	ActionLearnStart  = "learn_start"
	ActionLearnStop   = "learn_stop"
	ActionListDevices = "list_devices"
	ActionStatus      = "status"
)

// ResponseMessage answers a RequestMessage on
// graylogic/response/enocean/{request_id}.
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError explains a failed request.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DiscoveryMessage announces senders heard teaching in.
// Topic: graylogic/discovery/enocean
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice is one teach-in. Profile is "00-FF-FF" when the
// telegram announces none; ManufacturerID is the 11-bit code and is
// omitted when absent.
type DiscoveredDevice struct {
	Protocol       string `json:"protocol"`
	Address        string `json:"address"`
	Profile        string `json:"profile"`
	ManufacturerID *int   `json:"manufacturer_id,omitempty"`
	Manufacturer   string `json:"manufacturer,omitempty"`
	DBm            int    `json:"dbm,omitempty"`
}

// MarshalJSON writes the timestamp as RFC 3339 in UTC.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON accepts an RFC 3339 timestamp, or none.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  ProtocolName,
		Address:   address,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed, address)
	if code == ErrCodeTimeout {
		ack.Status = AckTimeout
	}
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for a sender.
func NewStateMessage(deviceID, address string, dBm int, state map[string]any) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  ProtocolName,
		Address:   address,
		DBm:       dBm,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats GatewayStats, deviceCount int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: deviceCount,
	}

	lastActivity := stats.LastActivity
	switch {
	case stats.Connected:
		msg.Connection = &ConnectionStatus{Status: "connected", LastActivity: &lastActivity}
	case stats.Reconnecting:
		msg.Connection = &ConnectionStatus{Status: "reconnecting", LastActivity: &lastActivity}
	default:
		msg.Connection = &ConnectionStatus{Status: "disconnected"}
	}

	msg.Statistics = &BridgeStatistics{
		TelegramsReceived: stats.TelegramsRx,
		TelegramsSent:     stats.FramesTx,
		TelegramsDropped:  stats.TelegramsDropped,
		GatewayRejects:    stats.ResponseErrors,
		Errors:            stats.ErrorsTotal,
		Reconnects:        stats.ReconnectsTotal,
	}

	return msg
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// This message is published by the broker if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

var topics = mqtt.Topics{}

// CommandTopic returns the MQTT topic for commands to a specific address.
// Example: graylogic/command/enocean/0181A2B3
func CommandTopic(address string) string {
	return topics.BridgeCommand(ProtocolName, topicAddress(address))
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: graylogic/ack/enocean/0181A2B3
func AckTopic(address string) string {
	return topics.BridgeAck(ProtocolName, topicAddress(address))
}

// StateTopic returns the MQTT topic for state updates.
// Example: graylogic/state/enocean/0181A2B3
func StateTopic(address string) string {
	return topics.BridgeState(ProtocolName, topicAddress(address))
}

// HealthTopic returns the MQTT topic for health status.
func HealthTopic() string {
	return topics.BridgeHealth(ProtocolName)
}

// RequestTopic returns the MQTT topic for requests.
func RequestTopic(requestID string) string {
	return topics.BridgeRequest(ProtocolName, requestID)
}

// ResponseTopic returns the MQTT topic for responses.
func ResponseTopic(requestID string) string {
	return topics.BridgeResponse(ProtocolName, requestID)
}

// DiscoveryTopic returns the MQTT topic for teach-in announcements.
func DiscoveryTopic() string {
	return topics.BridgeDiscovery(ProtocolName)
}

// CommandSubscribeTopic returns the MQTT subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return topics.BridgeCommands(ProtocolName)
}

// RequestSubscribeTopic returns the MQTT subscription pattern for all requests.
func RequestSubscribeTopic() string {
	return topics.BridgeRequests(ProtocolName)
}

// topicAddress normalises a radio address for use as a topic level.
// EnOcean addresses are hex and never contain topic separators, but
// user input may arrive as "01:81:a2:b3".
func topicAddress(address string) string {
	return strings.ToUpper(strings.NewReplacer(":", "", "-", "").Replace(address))
}
