// Package influxdb writes bridge telemetry to InfluxDB v2.
//
// Two measurements are produced:
//   - enocean_telegrams: one point per radio telegram, tagged with the
//     sender address and RORG, with count=1 and the dBm reading when known
//   - device_metrics: decoded sensor values, tagged with the configured
//     device ID, the measurement name and protocol=enocean
//
// Metrics are optional. Connect returns ErrDisabled when the influxdb
// section is switched off and the bridge runs without a Client:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	switch {
//	case errors.Is(err, influxdb.ErrDisabled):
//	    // no metrics
//	case err != nil:
//	    return err
//	}
//	defer client.Close()
//
// Points go through the batching write API, so writes never block the
// telegram path. batch_size and flush_interval default to 100 points and
// 10 seconds. Failed batches are reported to the SetOnError callback.
package influxdb
