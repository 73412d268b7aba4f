// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bct8925/sftools-sub004/internal/payload"
	"github.com/bct8925/sftools-sub004/internal/relay"
	"github.com/bct8925/sftools-sub004/pkg/plugins/cometd"
	"github.com/bct8925/sftools-sub004/pkg/plugins/pubsub"
)

// EnvPath names the environment variable consulted when no --config flag is
// given.
const EnvPath = "SFTOOLS_PROXY_CONFIG"

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Payload  PayloadConfig  `yaml:"payload"`
	Transfer TransferConfig `yaml:"transfer"`
	Relay    RelayConfig    `yaml:"relay"`
	PubSub   PubSubConfig   `yaml:"pubsub"`
	CometD   CometDConfig   `yaml:"cometd"`
	Bulk     BulkConfig     `yaml:"bulk"`
	Events   EventsConfig   `yaml:"events"`
	Native   NativeConfig   `yaml:"native"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type PayloadConfig struct {
	Threshold int           `yaml:"threshold"`
	Retention time.Duration `yaml:"retention"`
}

type TransferConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RelayConfig struct {
	AllowedHosts []string      `yaml:"allowed_hosts"`
	Timeout      time.Duration `yaml:"timeout"`
}

type PubSubConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Insecure   bool   `yaml:"insecure"`
	BatchSize  int32  `yaml:"batch_size"`
	ProbeTopic string `yaml:"probe_topic"`
}

type CometDConfig struct {
	APIVersion    string        `yaml:"api_version"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

type BulkConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxWait         time.Duration `yaml:"max_wait"`
}

type EventsConfig struct {
	LogEnabled bool `yaml:"log_enabled"`
}

type NativeConfig struct {
	MaxInFlight int `yaml:"max_in_flight"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Payload: PayloadConfig{
			Threshold: payload.DefaultThreshold,
			Retention: payload.DefaultRetention,
		},
		Relay: RelayConfig{
			AllowedHosts: append([]string(nil), relay.DefaultAllowedHosts...),
			Timeout:      2 * time.Minute,
		},
		PubSub: PubSubConfig{
			Endpoint:   pubsub.DefaultEndpoint,
			BatchSize:  pubsub.DefaultBatchSize,
			ProbeTopic: pubsub.DefaultProbeTopic,
		},
		CometD: CometDConfig{
			APIVersion:    cometd.DefaultAPIVersion,
			Timeout:       cometd.DefaultTimeout,
			RetryInterval: cometd.DefaultRetryInterval,
		},
		Bulk: BulkConfig{
			Timeout:         time.Minute,
			InitialInterval: time.Second,
			MaxInterval:     10 * time.Second,
			MaxWait:         30 * time.Minute,
		},
		Native: NativeConfig{
			MaxInFlight: 16,
		},
	}
}

// ResolvePath prefers an explicit flag value over the environment.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(EnvPath)
}

// Load reads a YAML file over the defaults. An empty path or a missing file
// yields the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Payload.Threshold <= 0 {
		return fmt.Errorf("invalid config: payload.threshold must be positive")
	}
	if c.Payload.Retention <= 0 {
		return fmt.Errorf("invalid config: payload.retention must be positive")
	}
	if c.PubSub.BatchSize < 0 {
		return fmt.Errorf("invalid config: pubsub.batch_size must not be negative")
	}
	if c.Native.MaxInFlight < 0 {
		return fmt.Errorf("invalid config: native.max_in_flight must not be negative")
	}
	return nil
}
