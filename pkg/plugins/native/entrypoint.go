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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

const defaultMaxInFlight = 64

type frameResult struct {
	data []byte
	err  error
}

// Entrypoint carries requests from the browser over the native messaging
// channel (stdin/stdout) and writes responses and pushed messages back.
type Entrypoint struct {
	name        string
	in          io.Reader
	out         io.Writer
	maxInFlight int
	logger      *slog.Logger

	writeMu  sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
}

func New(name string, in io.Reader, out io.Writer, maxInFlight int, logger *slog.Logger) *Entrypoint {
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Entrypoint{
		name:        name,
		in:          in,
		out:         out,
		maxInFlight: maxInFlight,
		logger:      logger,
		stop:        make(chan struct{}),
	}
}

func (e *Entrypoint) Name() string { return e.name }
func (e *Entrypoint) Type() string { return "native-messaging" }

// Start serves requests until the input reaches EOF, ctx is cancelled or
// Stop is called. Each request runs on its own goroutine; in-flight requests
// are waited for before Start returns. EOF is a clean exit.
func (e *Entrypoint) Start(ctx context.Context, handler core.Handler) error {
	handler.Attach(e.write)

	frames := make(chan frameResult)
	go e.readLoop(frames)

	g := new(errgroup.Group)
	g.SetLimit(e.maxInFlight)

	e.logger.Info("native messaging entrypoint started", "name", e.name)

	var exitErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-e.stop:
			break loop
		case f, ok := <-frames:
			if !ok {
				e.logger.Info("native messaging input closed", "name", e.name)
				break loop
			}
			if f.err != nil {
				if errors.Is(f.err, core.ErrFrameTooLarge) {
					e.logger.Warn("inbound frame rejected", "error", f.err)
					e.reply(core.Failure("", f.err))
					continue
				}
				exitErr = fmt.Errorf("read native frame: %w", f.err)
				break loop
			}

			data := f.data
			g.Go(func() error {
				e.serve(ctx, handler, data)
				return nil
			})
		}
	}

	_ = g.Wait()
	return exitErr
}

func (e *Entrypoint) readLoop(frames chan<- frameResult) {
	defer close(frames)
	for {
		data, err := ReadFrame(e.in, MaxInboundFrame)
		if errors.Is(err, io.EOF) {
			return
		}

		select {
		case frames <- frameResult{data: data, err: err}:
		case <-e.stop:
			return
		}
		if err != nil && !errors.Is(err, core.ErrFrameTooLarge) {
			return
		}
	}
}

func (e *Entrypoint) serve(ctx context.Context, handler core.Handler, data []byte) {
	var req core.Request
	if err := json.Unmarshal(data, &req); err != nil {
		e.reply(core.Failure(req.ID, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)))
		return
	}
	e.reply(handler.Handle(ctx, req))
}

func (e *Entrypoint) reply(resp core.Response) {
	err := e.write(resp)
	if errors.Is(err, core.ErrFrameTooLarge) {
		e.logger.Error("response exceeds native message limit", "request_id", resp.ID, "error", err)
		err = e.write(core.Failure(resp.ID, err))
	}
	if err != nil {
		e.logger.Error("native write failed", "request_id", resp.ID, "error", err)
	}
}

// write encodes msg as one frame. Writes from concurrent requests and
// pushed events are serialized.
func (e *Entrypoint) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode native message: %w", err)
	}
	if len(data) > MaxOutboundFrame {
		return fmt.Errorf("%w: %d bytes", core.ErrFrameTooLarge, len(data))
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return WriteFrame(e.out, data)
}

func (e *Entrypoint) Stop(_ context.Context) error {
	e.stopOnce.Do(func() { close(e.stop) })
	return nil
}
