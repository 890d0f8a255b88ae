// Package config parses a node's config.toml: a [timeout] table and an
// optional top-level heartbeat_interval, decoded with
// github.com/BurntSushi/toml.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultTimeoutMinMS = 150
	DefaultTimeoutMaxMS = 300
)

// fileConfig mirrors config.toml's on-disk shape.
type fileConfig struct {
	Timeout struct {
		Min int `toml:"min"`
		Max int `toml:"max"`
	} `toml:"timeout"`
	HeartbeatIntervalMS int `toml:"heartbeat_interval"`
}

// Config is the resolved, in-memory configuration RaftNode and ElectionTimer
// are built from.
type Config struct {
	TimeoutMin        time.Duration
	TimeoutMax        time.Duration
	HeartbeatInterval time.Duration
}

func defaults() Config {
	min := DefaultTimeoutMinMS
	return Config{
		TimeoutMin:        time.Duration(min) * time.Millisecond,
		TimeoutMax:        time.Duration(DefaultTimeoutMaxMS) * time.Millisecond,
		HeartbeatInterval: time.Duration(min/2) * time.Millisecond,
	}
}

// Load reads path and returns a resolved Config. A missing file is not an
// error: it yields the documented defaults (150/300ms timeout window,
// heartbeat = timeout.min/2).
func Load(path string) (Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return Config{}, err
	}

	if fc.Timeout.Min > 0 {
		cfg.TimeoutMin = time.Duration(fc.Timeout.Min) * time.Millisecond
	}
	if fc.Timeout.Max > 0 {
		cfg.TimeoutMax = time.Duration(fc.Timeout.Max) * time.Millisecond
	}

	cfg.HeartbeatInterval = cfg.TimeoutMin / 2
	if fc.HeartbeatIntervalMS > 0 {
		cfg.HeartbeatInterval = time.Duration(fc.HeartbeatIntervalMS) * time.Millisecond
	}

	return cfg, nil
}
