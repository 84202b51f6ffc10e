package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/AmoolyaSuneja/ChatMe/pkg/constants"
	"github.com/AmoolyaSuneja/ChatMe/pkg/errors"
	"github.com/AmoolyaSuneja/ChatMe/pkg/logger"
	"github.com/AmoolyaSuneja/ChatMe/pkg/utils"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RelayConfig tunes the per-connection pumps of the relay.
type RelayConfig struct {
	MaxMessageBytes int64         `json:"max_message_bytes"`
	SendQueueSize   int           `json:"send_queue_size"`
	WriteWait       time.Duration `json:"write_wait"`
	PongWait        time.Duration `json:"pong_wait"`
	StaticRoot      string        `json:"static_root"`
}

// ICEServer mirrors webrtc.ICEServer so the config package stays free of pion.
type ICEServer struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

// ClientConfig holds the negotiation client defaults.
type ClientConfig struct {
	SignalURL        string        `json:"signal_url"`
	ConnectTimeout   time.Duration `json:"connect_timeout"`
	PollInterval     time.Duration `json:"poll_interval"`
	SignalMaxAge     time.Duration `json:"signal_max_age"`
	InitialOfferWait time.Duration `json:"initial_offer_wait"`
	JoinScanWindow   time.Duration `json:"join_scan_window"`
	ReconnectDelay   time.Duration `json:"reconnect_delay"`
	MaxReconnects    int           `json:"max_reconnects"`
	StoreKind        string        `json:"store_kind"` // memory | sqlite | redis
	StoreDSN         string        `json:"store_dsn"`
	RedisAddr        string        `json:"redis_addr"`
	ICEServers       []ICEServer   `json:"ice_servers"`
}

var GlobalConfig *Config

// Config System common config
type Config struct {
	Server ServerConfig     // Server configuration
	Log    logger.LogConfig // Log configuration
	Relay  RelayConfig
	Client ClientConfig
	Mode   string `env:"MODE"`
}

func Load() error {
	// .env is optional; every field has a default
	mode := utils.GetStringOrDefault(constants.ENV_MODE, "development")
	if err := utils.LoadEnv(mode); err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         utils.GetIntOrDefault(constants.ENV_PORT, 3001),
			Host:         utils.GetStringOrDefault(constants.ENV_HOST, "0.0.0.0"),
			ReadTimeout:  utils.GetDurationOrDefault(constants.ENV_READ_TIMEOUT, 15*time.Second),
			WriteTimeout: utils.GetDurationOrDefault(constants.ENV_WRITE_TIMEOUT, 15*time.Second),
			IdleTimeout:  utils.GetDurationOrDefault(constants.ENV_IDLE_TIMEOUT, 60*time.Second),
		},
		Log: logger.LogConfig{
			Level:      utils.GetStringOrDefault(constants.ENV_LOG_LEVEL, "info"),
			Filename:   utils.GetStringOrDefault(constants.ENV_LOG_FILENAME, "./logs/chatme.log"),
			MaxSize:    utils.GetIntOrDefault(constants.ENV_LOG_MAX_SIZE, 100),
			MaxAge:     utils.GetIntOrDefault(constants.ENV_LOG_MAX_AGE, 30),
			MaxBackups: utils.GetIntOrDefault(constants.ENV_LOG_MAX_BACKUPS, 5),
			Daily:      utils.GetBoolOrDefault(constants.ENV_LOG_DAILY, true),
		},
		Relay: RelayConfig{
			MaxMessageBytes: int64(utils.GetIntOrDefault(constants.ENV_RELAY_MAX_MESSAGE_BYTES, 64*1024)),
			SendQueueSize:   utils.GetIntOrDefault(constants.ENV_RELAY_SEND_QUEUE, 64),
			WriteWait:       utils.GetDurationOrDefault(constants.ENV_RELAY_WRITE_WAIT, 10*time.Second),
			PongWait:        utils.GetDurationOrDefault(constants.ENV_RELAY_PONG_WAIT, 60*time.Second),
			StaticRoot:      utils.GetEnv(constants.ENV_STATIC_ROOT),
		},
		Client: ClientConfig{
			SignalURL:        utils.GetStringOrDefault(constants.ENV_SIGNAL_URL, "ws://localhost:3001/ws"),
			ConnectTimeout:   utils.GetDurationOrDefault(constants.ENV_CONNECT_TIMEOUT, 8*time.Second),
			PollInterval:     utils.GetDurationOrDefault(constants.ENV_POLL_INTERVAL, 500*time.Millisecond),
			SignalMaxAge:     utils.GetDurationOrDefault(constants.ENV_SIGNAL_MAX_AGE, 30*time.Second),
			InitialOfferWait: utils.GetDurationOrDefault(constants.ENV_INITIAL_OFFER_WAIT, 2*time.Second),
			JoinScanWindow:   utils.GetDurationOrDefault(constants.ENV_JOIN_SCAN_WINDOW, 15*time.Second),
			ReconnectDelay:   utils.GetDurationOrDefault(constants.ENV_RECONNECT_DELAY, 3*time.Second),
			MaxReconnects:    utils.GetIntOrDefault(constants.ENV_MAX_RECONNECTS, 3),
			StoreKind:        utils.GetStringOrDefault(constants.ENV_STORE_KIND, "sqlite"),
			StoreDSN:         utils.GetStringOrDefault(constants.ENV_STORE_DSN, "./chatme-signals.db"),
			RedisAddr:        utils.GetStringOrDefault(constants.ENV_REDIS_ADDR, "localhost:6379"),
			ICEServers: []ICEServer{
				{URLs: utils.GetListOrDefault(constants.ENV_ICE_SERVERS, []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})},
			},
		},
		Mode: mode,
	}

	if path := utils.GetEnv(constants.ENV_ICE_SERVERS_FILE); path != "" {
		servers, err := LoadICEServers(path)
		if err != nil {
			return err
		}
		cfg.Client.ICEServers = servers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	GlobalConfig = cfg
	return nil
}

// LoadICEServers reads a YAML document of the form
//
//	iceServers:
//	  - urls: ["turn:turn.example.com:3478"]
//	    username: u
//	    credential: p
func LoadICEServers(path string) ([]ICEServer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewAppErrorf(errors.ErrCodeInvalidConfig, "read ice servers file %s", path).WithCause(err)
	}
	var doc struct {
		ICEServers []ICEServer `yaml:"iceServers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewAppErrorf(errors.ErrCodeInvalidConfig, "parse ice servers file %s", path).WithCause(err)
	}
	if len(doc.ICEServers) == 0 {
		return nil, errors.NewAppErrorf(errors.ErrCodeInvalidConfig, "no iceServers in %s", path)
	}
	return doc.ICEServers, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return errors.NewAppErrorf(errors.ErrCodeInvalidConfig, "invalid PORT %d", c.Server.Port)
	case c.Relay.SendQueueSize <= 0:
		return errors.NewAppError(errors.ErrCodeInvalidConfig, "RELAY_SEND_QUEUE must be positive")
	case c.Client.MaxReconnects < 0:
		return errors.NewAppError(errors.ErrCodeInvalidConfig, "MAX_RECONNECTS must not be negative")
	}
	switch c.Client.StoreKind {
	case "memory", "sqlite", "redis":
	default:
		return errors.NewAppErrorf(errors.ErrCodeInvalidConfig, "unknown STORE_KIND %q", c.Client.StoreKind)
	}
	return nil
}
