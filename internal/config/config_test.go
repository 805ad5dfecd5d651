package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.URL == "" {
		t.Fatalf("default url missing")
	}
	if cfg.Stream != StreamWebSocket {
		t.Fatalf("default stream mismatch: %s", cfg.Stream)
	}
	if cfg.Addr != "localhost:9001" || cfg.Capacity != 100 {
		t.Fatalf("default addr/capacity mismatch: %+v", cfg)
	}
	if cfg.ReconnectDelay != time.Second || cfg.MaxRetries != 25 {
		t.Fatalf("default retry policy mismatch: %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("default log level mismatch: %s", cfg.LogLevel)
	}
}

func TestLoadFlagOverrides(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("stream", "", "")
	flags.String("addr", "", "")
	flags.Int("capacity", 0, "")
	if err := flags.Parse([]string{"--stream=sse", "--addr=0.0.0.0:8080", "--capacity=500"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stream != StreamSSE || cfg.Addr != "0.0.0.0:8080" || cfg.Capacity != 500 {
		t.Fatalf("override mismatch: %+v", cfg)
	}
}

func TestLoadRejectsUnknownStream(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("stream", "", "")
	if err := flags.Parse([]string{"--stream=carrier-pigeon"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	if _, err := Load("", flags); err == nil {
		t.Fatalf("expected error for unknown stream kind")
	}
}
