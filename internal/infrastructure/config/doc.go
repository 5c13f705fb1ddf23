// Package config loads the process configuration of the EnOcean bridge.
//
// The process config is the shared part: site identity, database, MQTT,
// InfluxDB and logging. What the bridge does on the radio side (gateway
// URL, device table, teach-in policy) lives in a second file named by
// protocols.enocean.config_file and is read by the enocean package.
//
// Load reads YAML, applies defaults, then GRAYLOGIC_* environment
// variables, then validates:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//
// Keep secrets such as GRAYLOGIC_MQTT_PASSWORD and
// GRAYLOGIC_INFLUXDB_TOKEN in the environment rather than the file.
package config
