// Package config handles configuration loading for huddle-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion, HUDDLE_* overrides, defaults and validation.
//
// # File Format
//
// The format is chosen by extension: ".toml" is parsed as TOML, anything
// else as YAML. Both formats use the same keys.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${HUDDLE_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Overrides
//
// After parsing, these variables replace the file's values when set:
//
//	HUDDLE_HTTP_ADDR   server.http_addr
//	HUDDLE_DB_PATH     database.path
//	HUDDLE_JWT_SECRET  auth.jwt_secret
//	HUDDLE_LOG_LEVEL   logging.level
//
// # Durations
//
// Duration values use time.ParseDuration syntax and must be positive:
//
//	websocket:
//	  ping_period: "54s"
//	  pong_wait: "60s"
//	  write_wait: "10s"
//
// # Validation
//
// Load() requires server.http_addr, database.path and a jwt_secret of at
// least 32 bytes. The websocket ping period must be shorter than the pong
// wait, and logging.level must be one of debug, info, warn or error.
//
// # Usage
//
//	cfg, err := config.Load("/etc/huddle/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
