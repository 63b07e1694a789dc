// Package config loads the server configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cachemq/cachemq/internal/pubsub"
)

// Config is the server configuration. Durations are plain integers with a
// unit suffix in the field name.
type Config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`

	Store struct {
		JournalPath string `yaml:"journal_path"`
	} `yaml:"store"`

	PubSub struct {
		AssignmentTimeoutS     int `yaml:"assignment_timeout_s"`
		NotificationIntervalMs int `yaml:"notification_interval_ms"`
		InactivityThresholdS   int `yaml:"inactivity_threshold_s"`
		CleanIntervalS         int `yaml:"clean_interval_s"`
		WaitMaxS               int `yaml:"wait_max_s"`
		FairnessCap            int `yaml:"fairness_cap"`
	} `yaml:"pubsub"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	cfg.Server.ListenAddr = "0.0.0.0:3000"
	return cfg
}

// Load reads the config file at path. A missing file returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Engine converts the tunables into an engine config. Unset fields fall
// back to the engine defaults.
func (c Config) Engine() pubsub.Config {
	return pubsub.Config{
		AssignmentTimeout:    time.Duration(c.PubSub.AssignmentTimeoutS) * time.Second,
		NotificationInterval: time.Duration(c.PubSub.NotificationIntervalMs) * time.Millisecond,
		InactivityThreshold:  time.Duration(c.PubSub.InactivityThresholdS) * time.Second,
		CleanInterval:        time.Duration(c.PubSub.CleanIntervalS) * time.Second,
		WaitMax:              time.Duration(c.PubSub.WaitMaxS) * time.Second,
		FairnessCap:          c.PubSub.FairnessCap,
	}
}
