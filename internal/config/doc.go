// Package config handles configuration loading for the conclave engine.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Unset fields get production defaults, then the result is
// validated. The agent roster is a separate TOML file (see package roster).
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CONCLAVE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to "". cmd/conclave loads a
// .env file first, so variables can live there.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	engine:
//	  poll_interval: "2s"
//	  social_cooldown: "62s"
//	scheduler:
//	  backoff: "30s"
//
// Negative durations are rejected.
//
// # Configuration Sections
//
//	server:       http_addr
//	database:     path (SQLite: agent state, outcome ledger, spend events)
//	jobs:         path (jobs.json), max_letters, max_age
//	roster:       path (agents.toml)
//	auth:         jwt_secret (HTTP API disabled when empty)
//	matrix:       homeserver, listen_retry
//	commands:     job_prefix, resource_prefix
//	engine:       poll and cooldown tuning for the executor
//	guard:        send_interval, send_burst, max_failures, open_timeout
//	scheduler:    backoff, retention, cleanup_interval, idle_interval, concurrency, max_attempts
//	maintenance:  cron specs for autosave, sweep, probe
//	logging:      level (debug|info|warn|error), format (text|json)
//	metrics:      enabled, path
package config
