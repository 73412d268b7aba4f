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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  file: /tmp/proxy.log
payload:
  threshold: 1024
  retention: 90s
transfer:
  allowed_origins:
    - chrome-extension://abc/
relay:
  allowed_hosts:
    - "*.example.com"
pubsub:
  endpoint: localhost:7443
  insecure: true
  batch_size: 10
bulk:
  max_wait: 1m
events:
  log_enabled: true
native:
  max_in_flight: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/proxy.log", cfg.Log.File)
	assert.Equal(t, 1024, cfg.Payload.Threshold)
	assert.Equal(t, 90*time.Second, cfg.Payload.Retention)
	assert.Equal(t, []string{"chrome-extension://abc/"}, cfg.Transfer.AllowedOrigins)
	assert.Equal(t, []string{"*.example.com"}, cfg.Relay.AllowedHosts)
	assert.Equal(t, "localhost:7443", cfg.PubSub.Endpoint)
	assert.True(t, cfg.PubSub.Insecure)
	assert.Equal(t, int32(10), cfg.PubSub.BatchSize)
	assert.Equal(t, time.Minute, cfg.Bulk.MaxWait)
	assert.True(t, cfg.Events.LogEnabled)
	assert.Equal(t, 4, cfg.Native.MaxInFlight)
}

func TestLoadKeepsDefaultsForOmittedKeys(t *testing.T) {
	path := writeConfig(t, "log:\n  level: warn\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, def.Payload, cfg.Payload)
	assert.Equal(t, def.Relay, cfg.Relay)
	assert.Equal(t, def.PubSub, cfg.PubSub)
	assert.Equal(t, def.CometD, cfg.CometD)
	assert.Equal(t, 5*time.Minute, cfg.Payload.Retention)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "payload: [unterminated")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "payload:\n  threshold: 0\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload.threshold")
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvPath, "/etc/from-env.yaml")

	assert.Equal(t, "/etc/flag.yaml", ResolvePath("/etc/flag.yaml"))
	assert.Equal(t, "/etc/from-env.yaml", ResolvePath(""))
}
