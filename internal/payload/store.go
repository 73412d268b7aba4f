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

package payload

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	// DefaultThreshold keeps native messaging frames under the 1 MiB limit
	// browsers enforce on host-to-extension messages, leaving room for the
	// JSON envelope.
	DefaultThreshold = 800 * 1024
	DefaultRetention = 5 * time.Minute
)

type entry struct {
	data      []byte
	createdAt time.Time
	expiresAt time.Time
	timer     *clock.Timer
}

// Store holds results too large for the primary channel until the client
// fetches them or the retention window elapses.
type Store struct {
	entries   map[string]*entry
	clock     clock.Clock
	retention time.Duration
	threshold int
	logger    *slog.Logger
	mu        sync.Mutex
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithThreshold(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.threshold = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:   make(map[string]*entry),
		clock:     clock.New(),
		retention: DefaultRetention,
		threshold: DefaultThreshold,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store records data under a fresh id and schedules its expiry.
func (s *Store) Store(data []byte) string {
	id := uuid.New().String()
	now := s.clock.Now()

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{
		data:      buf,
		createdAt: now,
		expiresAt: now.Add(s.retention),
	}
	e.timer = s.clock.AfterFunc(s.retention, func() { s.expire(id, e) })
	s.entries[id] = e

	s.logger.Debug("payload stored", "payload_id", id, "size", len(buf), "expires_at", e.expiresAt)
	return id
}

// Get returns the data for id. An expired entry is purged and reported as
// a miss, exactly like an id that was never stored.
func (s *Store) Get(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if !s.clock.Now().Before(e.expiresAt) {
		e.timer.Stop()
		delete(s.entries, id)
		s.logger.Debug("payload expired on read", "payload_id", id)
		return nil, false
	}
	return e.data, true
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		e.timer.Stop()
		delete(s.entries, id)
	}
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ShouldUseLargePayload reports whether data is too large to travel inline
// on the primary channel. The comparison is on encoded byte length.
func (s *Store) ShouldUseLargePayload(data []byte) bool {
	return len(data) >= s.threshold
}

func (s *Store) Threshold() int {
	return s.threshold
}

func (s *Store) Retention() time.Duration {
	return s.retention
}

// Close cancels every pending expiry and drops all entries.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
}

func (s *Store) expire(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A timer that lost the race with Delete or Get must not touch a newer
	// entry stored under the same id.
	if cur, ok := s.entries[id]; ok && cur == e {
		delete(s.entries, id)
		s.logger.Debug("payload expired", "payload_id", id)
	}
}
