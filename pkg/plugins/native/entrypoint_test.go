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

package native

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"type":"ping"}`)))
	require.NoError(t, WriteFrame(&buf, []byte{}))

	raw := buf.Bytes()
	assert.Equal(t, uint32(15), binary.LittleEndian.Uint32(raw[:4]))

	first, err := ReadFrame(&buf, MaxInboundFrame)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"ping"}`, string(first))

	second, err := ReadFrame(&buf, MaxInboundFrame)
	require.NoError(t, err)
	assert.Empty(t, second)

	_, err = ReadFrame(&buf, MaxInboundFrame)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_OversizedIsDrained(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, bytes.Repeat([]byte("x"), 32)))
	require.NoError(t, WriteFrame(&buf, []byte("ok")))

	_, err := ReadFrame(&buf, 16)
	require.ErrorIs(t, err, core.ErrFrameTooLarge)

	next, err := ReadFrame(&buf, 16)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(next))
}

func TestReadFrame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	truncated := bytes.NewReader(buf.Bytes()[:6])

	_, err := ReadFrame(truncated, MaxInboundFrame)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

type stubHandler struct {
	mu   sync.Mutex
	push core.PushFunc
}

func (h *stubHandler) Attach(push core.PushFunc) {
	h.mu.Lock()
	h.push = push
	h.mu.Unlock()
}

func (h *stubHandler) Handle(_ context.Context, req core.Request) core.Response {
	switch req.Type {
	case "slow":
		time.Sleep(200 * time.Millisecond)
	case "huge":
		resp := core.Success(req.ID)
		resp.Data = json.RawMessage(`"` + strings.Repeat("a", MaxOutboundFrame) + `"`)
		return resp
	case "notify":
		h.mu.Lock()
		push := h.push
		h.mu.Unlock()
		_ = push(core.EventMessage{Type: core.MessageEvent, SubscriptionID: "s1", Channel: "/topic/A"})
	}
	return core.Success(req.ID)
}

type harness struct {
	stdin  *io.PipeWriter
	stdout *io.PipeReader
	done   chan error
}

func startHarness(t *testing.T) *harness {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	e := New("native", inR, outW, 4, nil)
	h := &harness{stdin: inW, stdout: outR, done: make(chan error, 1)}
	go func() {
		h.done <- e.Start(context.Background(), &stubHandler{})
		outW.Close()
	}()
	t.Cleanup(func() {
		inW.Close()
		go io.Copy(io.Discard, outR)
	})
	return h
}

func (h *harness) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, WriteFrame(h.stdin, data))
}

func (h *harness) recv(t *testing.T) map[string]any {
	t.Helper()
	data, err := ReadFrame(h.stdout, MaxOutboundFrame)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestEntrypoint_RequestResponse(t *testing.T) {
	h := startHarness(t)

	h.send(t, core.Request{ID: "1", Type: core.OpPing})
	resp := h.recv(t)
	assert.Equal(t, "response", resp["type"])
	assert.Equal(t, "1", resp["id"])
	assert.Equal(t, true, resp["success"])
}

func TestEntrypoint_SlowRequestDoesNotBlockOthers(t *testing.T) {
	h := startHarness(t)

	h.send(t, core.Request{ID: "slow", Type: "slow"})
	h.send(t, core.Request{ID: "fast", Type: core.OpPing})

	assert.Equal(t, "fast", h.recv(t)["id"])
	assert.Equal(t, "slow", h.recv(t)["id"])
}

func TestEntrypoint_PushedMessages(t *testing.T) {
	h := startHarness(t)

	h.send(t, core.Request{ID: "n", Type: "notify"})
	first := h.recv(t)
	second := h.recv(t)

	assert.Equal(t, "event", first["type"])
	assert.Equal(t, "s1", first["subscriptionId"])
	assert.Equal(t, "response", second["type"])
}

func TestEntrypoint_MalformedAndOversized(t *testing.T) {
	h := startHarness(t)

	require.NoError(t, WriteFrame(h.stdin, []byte("{not json")))
	resp := h.recv(t)
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "invalid request")

	h.send(t, core.Request{ID: "big", Type: "huge"})
	resp = h.recv(t)
	assert.Equal(t, "big", resp["id"])
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "frame exceeds size limit")
}

func TestEntrypoint_EOFIsCleanExit(t *testing.T) {
	h := startHarness(t)

	h.send(t, core.Request{ID: "1", Type: core.OpPing})
	h.recv(t)
	require.NoError(t, h.stdin.Close())

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("entrypoint did not exit on EOF")
	}
}

func TestEntrypoint_StopAndCancel(t *testing.T) {
	inR, _ := io.Pipe()
	e := New("native", inR, io.Discard, 0, nil)

	done := make(chan error, 1)
	go func() { done <- e.Start(context.Background(), &stubHandler{}) }()

	require.NoError(t, e.Stop(context.Background()))
	require.NoError(t, e.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("entrypoint did not stop")
	}

	ctx, cancel := context.WithCancel(context.Background())
	e2 := New("native", inR, io.Discard, 0, nil)
	go func() { done <- e2.Start(ctx, &stubHandler{}) }()
	cancel()
	select {
	case err := <-done:
		assert.False(t, errors.Is(err, io.EOF))
	case <-time.After(2 * time.Second):
		t.Fatal("entrypoint did not exit on cancel")
	}
}
