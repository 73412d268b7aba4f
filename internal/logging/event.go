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
	"log/slog"
	"sync/atomic"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

// EventLogger records one line per event delivered to the browser. It can
// be toggled at runtime by config reloads.
type EventLogger struct {
	logger  *slog.Logger
	enabled atomic.Bool
}

func NewEventLogger(logger *slog.Logger, enabled bool) *EventLogger {
	l := &EventLogger{logger: logger}
	l.enabled.Store(enabled)
	return l
}

func (p *EventLogger) SetEnabled(enabled bool) {
	p.enabled.Store(enabled)
}

func (p *EventLogger) Enabled() bool {
	return p.enabled.Load()
}

func (p *EventLogger) Log(evt core.Event, mode string) {
	if p == nil || !p.enabled.Load() {
		return
	}
	p.logger.Info("event",
		"subscription_id", evt.SubscriptionID,
		"channel", evt.Channel,
		"protocol", evt.Protocol.String(),
		"event_id", evt.EventID,
		"replay_id", evt.ReplayID,
		"mode", mode,
		"payload_size", len(evt.Payload),
		"timestamp", evt.Timestamp,
	)
}
