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

package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

// Registry holds one adapter per protocol variant and the entrypoints that
// feed requests into the dispatcher.
type Registry struct {
	entrypoints map[string]core.Entrypoint
	adapters    map[core.Protocol]core.Adapter
	logger      *slog.Logger
	mu          sync.RWMutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entrypoints: make(map[string]core.Entrypoint),
		adapters:    make(map[core.Protocol]core.Adapter),
		logger:      logger,
	}
}

func (r *Registry) RegisterEntrypoint(e core.Entrypoint) {
	r.mu.Lock()
	r.entrypoints[e.Name()] = e
	r.mu.Unlock()
	r.logger.Info("registered entrypoint", "name", e.Name(), "type", e.Type())
}

// RegisterAdapter installs a for its protocol, replacing any previous one.
func (r *Registry) RegisterAdapter(a core.Adapter) {
	r.mu.Lock()
	r.adapters[a.Protocol()] = a
	r.mu.Unlock()
	r.logger.Info("registered adapter", "protocol", a.Protocol().String())
}

func (r *Registry) Adapter(p core.Protocol) (core.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: protocol=%s", core.ErrNoAdapter, p)
	}
	return a, nil
}

func (r *Registry) Entrypoints() map[string]core.Entrypoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(map[string]core.Entrypoint, len(r.entrypoints))
	for k, v := range r.entrypoints {
		cp[k] = v
	}
	return cp
}

// StartEntrypoints runs every entrypoint on its own goroutine. The returned
// channel receives each entrypoint's exit error (nil on clean exit) and is
// closed once all of them have returned.
func (r *Registry) StartEntrypoints(ctx context.Context, handler core.Handler) <-chan error {
	eps := r.Entrypoints()
	done := make(chan error, len(eps))

	var wg sync.WaitGroup
	for name, ep := range eps {
		wg.Add(1)
		go func(n string, e core.Entrypoint) {
			defer wg.Done()
			err := e.Start(ctx, handler)
			if err != nil {
				r.logger.Error("entrypoint failed", "name", n, "error", err)
			}
			done <- err
		}(name, ep)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// CloseAdapters closes every adapter and returns the combined error.
func (r *Registry) CloseAdapters(ctx context.Context) error {
	r.mu.RLock()
	adapters := make([]core.Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	var errs error
	for _, a := range adapters {
		r.logger.Info("closing adapter", "protocol", a.Protocol().String())
		errs = multierr.Append(errs, a.Close(ctx))
	}
	return errs
}

func (r *Registry) StopEntrypoints(ctx context.Context) error {
	var errs error
	for name, ep := range r.Entrypoints() {
		r.logger.Info("stopping entrypoint", "name", name)
		errs = multierr.Append(errs, ep.Stop(ctx))
	}
	return errs
}
