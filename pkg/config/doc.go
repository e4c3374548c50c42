// Package config loads the YAML configuration shared by the daqlink
// commands.
//
// Every section is optional; missing keys keep their defaults. Durations
// are written as Go duration strings ("5s", "100ms").
//
//	client:
//	  host: daq01
//	  base_port: 8090
//	  stall_timeout: 5s
//	store:
//	  dsn: /var/lib/daqlink/state.db
//	  role: server
//	metrics:
//	  address: ":9108"
package config
