// Package logging sets up the bridge's log/slog logger.
//
//	logging:
//	  level: info        # debug, info, warn, error
//	  format: json       # json or text
//	  output: stdout     # stdout, stderr or file
//	  file:
//	    path: /var/log/graylogic/enocean.log
//
// Entries always carry service and version; subsystems add a component:
//
//	log := logging.New(cfg.Logging, version)
//	gw := log.Component("gateway")
//	gw.Info("gateway connected", "url", "serial:///dev/ttyUSB0")
//
// Do not log credentials. MQTTAuthConfig redacts its password when
// formatted, so passing the whole config is fine.
package logging
