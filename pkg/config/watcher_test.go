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
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type applyRecorder struct {
	mu      sync.Mutex
	applied []*Config
}

func (r *applyRecorder) apply(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, cfg)
}

func (r *applyRecorder) last() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.applied) == 0 {
		return nil
	}
	return r.applied[len(r.applied)-1]
}

func (r *applyRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

func startWatcher(t *testing.T, path string) *applyRecorder {
	t.Helper()
	rec := &applyRecorder{}
	w := NewWatcher(path, rec.apply, slog.New(slog.DiscardHandler))
	w.SetInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return rec
}

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))
}

func TestWatcherAppliesChangedFile(t *testing.T) {
	path := writeConfig(t, "relay:\n  allowed_hosts: [\"a.example.com\"]\n")
	rec := startWatcher(t, path)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count(), "unchanged file must not be reapplied")

	touch(t, path, "relay:\n  allowed_hosts: [\"b.example.com\"]\nevents:\n  log_enabled: true\n")

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
	cfg := rec.last()
	assert.Equal(t, []string{"b.example.com"}, cfg.Relay.AllowedHosts)
	assert.True(t, cfg.Events.LogEnabled)
}

func TestWatcherSkipsInvalidRevision(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	rec := startWatcher(t, path)

	touch(t, path, "payload: [broken")

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestWatcherToleratesMissingFile(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	require.NoError(t, os.Remove(path))
	rec := startWatcher(t, path)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())

	touch(t, path, "log:\n  level: debug\n")
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "debug", rec.last().Log.Level)
}
