package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultChatHistoryLimit = 200
	defaultPollInterval     = 30 * time.Second
)

// Config is built once in main and handed to the client, dispatcher
// and session constructors. There is no process-wide singleton.
type Config struct {
	ServerURL        string
	Username         string
	AppPassword      string
	DataDir          string
	DumpFailedReqs   bool
	ChatHistoryLimit int
	PollInterval     time.Duration
	DebugAddr        string
	DefaultRoom      string
}

func NewConfig(serverURL, username, appPassword, dataDir string) (*Config, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("server URL cannot be empty")
	}
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if appPassword == "" {
		return nil, fmt.Errorf("app password cannot be empty")
	}
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("server URL %q has no host", serverURL)
	}

	return &Config{
		ServerURL:        strings.TrimRight(serverURL, "/"),
		Username:         username,
		AppPassword:      appPassword,
		DataDir:          dataDir,
		ChatHistoryLimit: defaultChatHistoryLimit,
		PollInterval:     defaultPollInterval,
	}, nil
}

// ServerDataDir is where the cache index and per-room log files for
// this server live.
func (c *Config) ServerDataDir() string {
	parsed, err := url.Parse(c.ServerURL)
	if err != nil || parsed.Host == "" {
		return filepath.Join(c.DataDir, "default")
	}
	return filepath.Join(c.DataDir, parsed.Host)
}

// DumpDir is the location for raw payloads of undecodable responses.
// Empty when dumping is disabled.
func (c *Config) DumpDir() string {
	if !c.DumpFailedReqs {
		return ""
	}
	return c.ServerDataDir()
}

// Load reads the config file plus GOTALK_* environment overrides and
// returns a validated Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("chat_history_limit", defaultChatHistoryLimit)
	v.SetDefault("poll_interval", defaultPollInterval)
	v.SetEnvPrefix("gotalk")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.config/gotalk")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// a missing file is fine when the environment carries the values
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := NewConfig(
		v.GetString("server_url"),
		v.GetString("username"),
		v.GetString("app_password"),
		v.GetString("data_dir"),
	)
	if err != nil {
		return nil, err
	}

	if limit := v.GetInt("chat_history_limit"); limit > 0 {
		cfg.ChatHistoryLimit = limit
	}
	if interval := v.GetDuration("poll_interval"); interval > 0 {
		cfg.PollInterval = interval
	}
	cfg.DumpFailedReqs = v.GetBool("dump_failed_requests")
	cfg.DebugAddr = v.GetString("debug_addr")
	cfg.DefaultRoom = v.GetString("default_room")

	return cfg, nil
}
