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

package cometd

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

const (
	metaHandshake   = "/meta/handshake"
	metaConnect     = "/meta/connect"
	metaSubscribe   = "/meta/subscribe"
	metaUnsubscribe = "/meta/unsubscribe"
	metaDisconnect  = "/meta/disconnect"

	reconnectRetry     = "retry"
	reconnectHandshake = "handshake"
	reconnectNone      = "none"

	replayNewEvents int64 = -1
	replayAllEvents int64 = -2
)

// message is a Bayeux message in either direction.
type message struct {
	Channel                  string          `json:"channel"`
	ID                       string          `json:"id,omitempty"`
	ClientID                 string          `json:"clientId,omitempty"`
	Version                  string          `json:"version,omitempty"`
	MinimumVersion           string          `json:"minimumVersion,omitempty"`
	SupportedConnectionTypes []string        `json:"supportedConnectionTypes,omitempty"`
	ConnectionType           string          `json:"connectionType,omitempty"`
	Subscription             string          `json:"subscription,omitempty"`
	Successful               bool            `json:"successful,omitempty"`
	Error                    string          `json:"error,omitempty"`
	Advice                   *advice         `json:"advice,omitempty"`
	Data                     json.RawMessage `json:"data,omitempty"`
	Ext                      map[string]any  `json:"ext,omitempty"`
}

type advice struct {
	Reconnect string `json:"reconnect,omitempty"`
	Interval  int    `json:"interval,omitempty"`
	Timeout   int    `json:"timeout,omitempty"`
}

// eventEnvelope is the part of a Salesforce streaming payload that
// identifies the event.
type eventEnvelope struct {
	Event struct {
		ReplayID  json.Number `json:"replayId"`
		EventUUID string      `json:"EventUuid"`
	} `json:"event"`
}

func replayValue(r core.Replay) (int64, error) {
	switch r.NormalizedPreset() {
	case core.ReplayEarliest:
		return replayAllEvents, nil
	case core.ReplayCustom:
		id, err := strconv.ParseInt(strings.TrimSpace(r.ID), 10, 64)
		if err != nil {
			return 0, err
		}
		return id, nil
	default:
		return replayNewEvents, nil
	}
}

func findReply(msgs []message, channel string) (message, bool) {
	for _, m := range msgs {
		if m.Channel == channel {
			return m, true
		}
	}
	return message{}, false
}

func isMeta(channel string) bool {
	return strings.HasPrefix(channel, "/meta/")
}

func encodeReply(m message) json.RawMessage {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}
