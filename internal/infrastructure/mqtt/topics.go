package mqtt

import "strings"

// Root segments of the Gray Logic topic tree. Bridge topics are
// graylogic/{category}/{protocol}/{address}.
const (
	TopicPrefixBridge = "graylogic"
	TopicPrefixSystem = "graylogic/system"
)

// Topics builds Gray Logic topic names.
//
//	mqtt.Topics{}.BridgeState("enocean", "0181A2B3")
//	// graylogic/state/enocean/0181A2B3
type Topics struct{}

func bridgeTopic(category string, levels ...string) string {
	return strings.Join(append([]string{TopicPrefixBridge, category}, levels...), "/")
}

// BridgeState is where a bridge publishes retained device state.
func (Topics) BridgeState(protocol, address string) string {
	return bridgeTopic("state", protocol, address)
}

// BridgeCommand is where Core sends commands for one address.
func (Topics) BridgeCommand(protocol, address string) string {
	return bridgeTopic("command", protocol, address)
}

// BridgeAck is where a bridge acknowledges commands for one address.
func (Topics) BridgeAck(protocol, address string) string {
	return bridgeTopic("ack", protocol, address)
}

// BridgeRequest is where Core sends a request identified by requestID.
func (Topics) BridgeRequest(protocol, requestID string) string {
	return bridgeTopic("request", protocol, requestID)
}

// BridgeResponse is where a bridge answers the request requestID.
func (Topics) BridgeResponse(protocol, requestID string) string {
	return bridgeTopic("response", protocol, requestID)
}

// BridgeHealth carries a bridge's retained health status and its LWT.
func (Topics) BridgeHealth(protocol string) string {
	return bridgeTopic("health", protocol)
}

// BridgeDiscovery carries teach-in announcements.
func (Topics) BridgeDiscovery(protocol string) string {
	return bridgeTopic("discovery", protocol)
}

// BridgeCommands matches every command topic of a bridge.
func (Topics) BridgeCommands(protocol string) string {
	return bridgeTopic("command", protocol, "#")
}

// BridgeRequests matches every request topic of a bridge.
func (Topics) BridgeRequests(protocol string) string {
	return bridgeTopic("request", protocol, "#")
}

// SystemStatus carries the retained online/offline status of MQTT clients.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
