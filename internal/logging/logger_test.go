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

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.log")
	var level slog.LevelVar
	logger, closer := New(Options{Level: "debug", File: path}, &level)

	logger.Debug("hello", "k", "v")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestEventLoggerToggle(t *testing.T) {
	var buf bytes.Buffer
	l := NewEventLogger(slog.New(slog.NewJSONHandler(&buf, nil)), false)
	evt := core.Event{
		SubscriptionID: "sub-1",
		Channel:        "/event/Order__e",
		Protocol:       core.ProtocolGRPC,
		Payload:        json.RawMessage(`{"a":1}`),
		Timestamp:      time.Now(),
	}

	l.Log(evt, "inline")
	assert.Zero(t, buf.Len())

	l.SetEnabled(true)
	l.Log(evt, "inline")
	assert.Contains(t, buf.String(), `"subscription_id":"sub-1"`)
	assert.Contains(t, buf.String(), `"protocol":"grpc"`)

	var nilLogger *EventLogger
	nilLogger.Log(evt, "inline")
}
