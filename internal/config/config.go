package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	URL            string
	Stream         string
	Addr           string
	Capacity       int
	MaxRetries     int
	ReconnectDelay time.Duration
	LogLevel       string
}

// Valid stream sink kinds.
const (
	StreamPrint     = "print"
	StreamWebSocket = "websocket"
	StreamSSE       = "sse"
)

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLASHSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("url", "wss://sepolia.flashblocks.base.org/ws")
	v.SetDefault("stream", StreamWebSocket)
	v.SetDefault("addr", "localhost:9001")
	v.SetDefault("capacity", 100)
	v.SetDefault("max-retries", 25)
	v.SetDefault("reconnect-delay", time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		URL:            v.GetString("url"),
		Stream:         v.GetString("stream"),
		Addr:           v.GetString("addr"),
		Capacity:       v.GetInt("capacity"),
		MaxRetries:     v.GetInt("max-retries"),
		ReconnectDelay: v.GetDuration("reconnect-delay"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Stream {
	case StreamPrint, StreamWebSocket, StreamSSE:
	default:
		return fmt.Errorf("unknown stream kind %q (want %s, %s, or %s)",
			c.Stream, StreamPrint, StreamWebSocket, StreamSSE)
	}
	if c.URL == "" {
		return fmt.Errorf("upstream url is required")
	}
	return nil
}
