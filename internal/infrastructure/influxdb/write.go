package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	measurementTelegrams = "enocean_telegrams"
	measurementDevices   = "device_metrics"
)

// WriteTelegramMetric records one received radio telegram.
//
// Each point carries the sender address and telegram kind as tags so
// link quality can be charted per device. The write is non-blocking;
// data is batched and sent asynchronously.
//
// Parameters:
//   - sender: Radio address, 8 hex digits (e.g., "0181A2B3")
//   - rorg: Telegram kind name (e.g., "4BS", "RPS")
//   - dBm: Received signal strength (negative), 0 when unknown
//
// Example:
//
//	client.WriteTelegramMetric("0181A2B3", "4BS", -62)
func (c *Client) WriteTelegramMetric(sender, rorg string, dBm int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(telegramPoint(sender, rorg, dBm, time.Now()))
}

// WriteDeviceMetric writes a single decoded device measurement to InfluxDB.
//
// Parameters:
//   - deviceID: Configured device ID, or the radio address for unconfigured senders
//   - measurement: The metric name (e.g., "temperature", "humidity")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteDeviceMetric("temp-living", "temperature", 21.5)
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(devicePoint(deviceID, measurement, value, time.Now()))
}

func telegramPoint(sender, rorg string, dBm int, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		"count": 1,
	}
	if dBm != 0 {
		fields["dbm"] = dBm
	}
	return write.NewPoint(
		measurementTelegrams,
		map[string]string{
			"sender": sender,
			"rorg":   rorg,
		},
		fields,
		ts,
	)
}

func devicePoint(deviceID, measurement string, value float64, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementDevices,
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
			"protocol":    "enocean",
		},
		map[string]interface{}{
			"value": value,
		},
		ts,
	)
}
