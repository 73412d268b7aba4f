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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bct8925/sftools-sub004/pkg/core"
	"github.com/bct8925/sftools-sub004/pkg/plugins/native"
)

type proxyHarness struct {
	in   *io.PipeWriter
	out  *io.PipeReader
	done chan error
}

func startProxy(t *testing.T) *proxyHarness {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "proxy.yaml")
	cfg := fmt.Sprintf("log:\n  file: %s\n", filepath.Join(dir, "proxy.log"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	h := &proxyHarness{in: inW, out: outR, done: make(chan error, 1)}

	go func() {
		h.done <- serve(context.Background(), serveOptions{
			ConfigPath: cfgPath,
			Origins:    []string{"chrome-extension://abc"},
			In:         inR,
			Out:        outW,
		})
	}()
	return h
}

func (h *proxyHarness) call(t *testing.T, req string) core.Response {
	t.Helper()
	require.NoError(t, native.WriteFrame(h.in, []byte(req)))
	frame, err := native.ReadFrame(h.out, native.MaxInboundFrame)
	require.NoError(t, err)

	var resp core.Response
	require.NoError(t, json.Unmarshal(frame, &resp))
	return resp
}

func TestServeAnswersUntilStdinCloses(t *testing.T) {
	h := startProxy(t)

	resp := h.call(t, `{"id":"1","type":"ping"}`)
	assert.True(t, resp.Success)
	assert.Equal(t, "1", resp.ID)
	assert.JSONEq(t, `{"pong":true,"version":"dev"}`, string(resp.Data))

	resp = h.call(t, `{"id":"2","type":"transferInfo"}`)
	require.True(t, resp.Success)
	require.NotZero(t, resp.Port)

	health, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", resp.Port), nil)
	require.NoError(t, err)
	health.Header.Set("Authorization", "Bearer "+resp.Secret)
	res, err := http.DefaultClient.Do(health)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	resp = h.call(t, `{"id":"3","type":"subscribe","channel":"/event/Foo__e"}`)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	require.NoError(t, h.in.Close())
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("proxy did not exit after stdin closed")
	}

	_, err = http.DefaultClient.Do(health)
	assert.Error(t, err, "transfer server must stop with the proxy")
}

func TestServeRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("payload: [broken"), 0o644))

	err := serve(context.Background(), serveOptions{ConfigPath: path, In: strings.NewReader(""), Out: io.Discard})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}
