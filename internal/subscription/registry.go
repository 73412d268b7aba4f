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

package subscription

import (
	"container/list"
	"sync"
	"time"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

// Info describes one live subscription. Its cleanup runs at most once no
// matter how many times Cleanup is called.
type Info struct {
	Protocol     core.Protocol
	Channel      string
	ConnectionID string
	CreatedAt    time.Time
	cleanup      func() error
}

func NewInfo(protocol core.Protocol, channel, connectionID string, cleanup core.CleanupFunc) Info {
	info := Info{
		Protocol:     protocol,
		Channel:      channel,
		ConnectionID: connectionID,
		CreatedAt:    time.Now().UTC(),
	}
	if cleanup != nil {
		info.cleanup = sync.OnceValue(func() error { return cleanup() })
	}
	return info
}

func (i Info) Cleanup() error {
	if i.cleanup == nil {
		return nil
	}
	return i.cleanup()
}

type Entry struct {
	ID   string
	Info Info
}

// Registry is bookkeeping only: it never runs cleanups itself.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*list.Element
	order   *list.List
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Add inserts or replaces the entry for id. A replaced entry keeps its
// insertion position and its cleanup is not invoked.
func (r *Registry) Add(id string, info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.entries[id]; ok {
		el.Value.(*Entry).Info = info
		return
	}
	r.entries[id] = r.order.PushBack(&Entry{ID: id, Info: info})
}

func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	el, ok := r.entries[id]
	if !ok {
		return Info{}, false
	}
	return el.Value.(*Entry).Info, true
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.entries[id]
	if !ok {
		return false
	}
	r.order.Remove(el)
	delete(r.entries, id)
	return true
}

func (r *Registry) ByChannel(channel string) []Entry {
	return r.filter(func(e *Entry) bool { return e.Info.Channel == channel })
}

func (r *Registry) ByConnection(connectionID string) []Entry {
	return r.filter(func(e *Entry) bool { return e.Info.ConnectionID == connectionID })
}

// Entries returns a snapshot of every entry in insertion order.
func (r *Registry) Entries() []Entry {
	return r.filter(func(*Entry) bool { return true })
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*list.Element)
	r.order.Init()
}

// All returns a live view over the registry. Mutations through the view
// are the same as calling Add and Remove directly.
func (r *Registry) All() *View {
	return &View{r: r}
}

func (r *Registry) filter(match func(*Entry) bool) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for el := r.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if match(e) {
			out = append(out, *e)
		}
	}
	return out
}

type View struct {
	r *Registry
}

func (v *View) Get(id string) (Info, bool) { return v.r.Get(id) }
func (v *View) Set(id string, info Info)   { v.r.Add(id, info) }
func (v *View) Delete(id string) bool      { return v.r.Remove(id) }
func (v *View) Len() int                   { return v.r.Count() }

// Range calls fn for each entry present when Range starts, in insertion
// order, skipping entries removed in the meantime. fn may mutate the view.
func (v *View) Range(fn func(id string, info Info) bool) {
	for _, e := range v.r.Entries() {
		info, ok := v.r.Get(e.ID)
		if !ok {
			continue
		}
		if !fn(e.ID, info) {
			return
		}
	}
}
