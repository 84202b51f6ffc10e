// Package constants names the environment variables read by pkg/config.
package constants

// Server
const ENV_MODE = "MODE"
const ENV_HOST = "HOST"

// Default Value: 3001
const ENV_PORT = "PORT"
const ENV_READ_TIMEOUT = "READ_TIMEOUT"
const ENV_WRITE_TIMEOUT = "WRITE_TIMEOUT"
const ENV_IDLE_TIMEOUT = "IDLE_TIMEOUT"

// Log
const ENV_LOG_LEVEL = "LOG_LEVEL"
const ENV_LOG_FILENAME = "LOG_FILENAME"
const ENV_LOG_MAX_SIZE = "LOG_MAX_SIZE"
const ENV_LOG_MAX_AGE = "LOG_MAX_AGE"
const ENV_LOG_MAX_BACKUPS = "LOG_MAX_BACKUPS"
const ENV_LOG_DAILY = "LOG_DAILY"

// Relay
// Default Value: 65536
const ENV_RELAY_MAX_MESSAGE_BYTES = "RELAY_MAX_MESSAGE_BYTES"
const ENV_RELAY_SEND_QUEUE = "RELAY_SEND_QUEUE"
const ENV_RELAY_WRITE_WAIT = "RELAY_WRITE_WAIT"
const ENV_RELAY_PONG_WAIT = "RELAY_PONG_WAIT"
const ENV_STATIC_ROOT = "STATIC_ROOT"

// Client
const ENV_SIGNAL_URL = "SIGNAL_URL"
const ENV_CONNECT_TIMEOUT = "CONNECT_TIMEOUT"
const ENV_POLL_INTERVAL = "POLL_INTERVAL"

// Default Value: 30s
const ENV_SIGNAL_MAX_AGE = "SIGNAL_MAX_AGE"
const ENV_INITIAL_OFFER_WAIT = "INITIAL_OFFER_WAIT"
const ENV_JOIN_SCAN_WINDOW = "JOIN_SCAN_WINDOW"
const ENV_RECONNECT_DELAY = "RECONNECT_DELAY"
const ENV_MAX_RECONNECTS = "MAX_RECONNECTS"

// Store: memory | sqlite | redis
const ENV_STORE_KIND = "STORE_KIND"
const ENV_STORE_DSN = "STORE_DSN"
const ENV_REDIS_ADDR = "REDIS_ADDR"

// ICE: comma separated URLs, or a YAML file with credentials
const ENV_ICE_SERVERS = "ICE_SERVERS"
const ENV_ICE_SERVERS_FILE = "ICE_SERVERS_FILE"
