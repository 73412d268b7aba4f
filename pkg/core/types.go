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

package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Protocol is the upstream wire protocol responsible for a channel. The zero
// value is CometD, which is also the routing fallback.
type Protocol int

const (
	ProtocolCometD Protocol = iota
	ProtocolGRPC
)

func (p Protocol) String() string {
	if p == ProtocolGRPC {
		return "grpc"
	}
	return "cometd"
}

func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Protocol) UnmarshalText(b []byte) error {
	parsed, ok := ParseProtocol(string(b))
	if !ok {
		return fmt.Errorf("%w: protocol=%s", ErrInvalidRequest, b)
	}
	*p = parsed
	return nil
}

func ParseProtocol(s string) (Protocol, bool) {
	switch strings.ToLower(s) {
	case "grpc":
		return ProtocolGRPC, true
	case "cometd":
		return ProtocolCometD, true
	default:
		return ProtocolCometD, false
	}
}

const (
	ReplayLatest   = "LATEST"
	ReplayEarliest = "EARLIEST"
	ReplayCustom   = "CUSTOM"
)

// Replay selects where a new subscription starts reading. ID is a base64
// replay id for gRPC channels and a decimal replay id for CometD channels.
type Replay struct {
	Preset string `json:"preset,omitempty"`
	ID     string `json:"id,omitempty"`
}

func (r Replay) NormalizedPreset() string {
	switch strings.ToUpper(r.Preset) {
	case ReplayEarliest:
		return ReplayEarliest
	case ReplayCustom:
		return ReplayCustom
	default:
		if r.ID != "" {
			return ReplayCustom
		}
		return ReplayLatest
	}
}

type Credentials struct {
	InstanceURL string `json:"instanceUrl"`
	AccessToken string `json:"accessToken"`
	TenantID    string `json:"tenantId,omitempty"`
	APIVersion  string `json:"apiVersion,omitempty"`
}

func (c Credentials) Validate() error {
	if c.InstanceURL == "" {
		return fmt.Errorf("%w: instanceUrl is required", ErrInvalidRequest)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("%w: accessToken is required", ErrInvalidRequest)
	}
	return nil
}

// Event is a single upstream event delivered for a subscription.
type Event struct {
	SubscriptionID string          `json:"subscriptionId"`
	Channel        string          `json:"channel"`
	Protocol       Protocol        `json:"protocol"`
	EventID        string          `json:"eventId,omitempty"`
	ReplayID       string          `json:"replayId,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
}

type SubscribeRequest struct {
	SubscriptionID string
	ConnectionID   string
	Channel        string
	Replay         Replay
	Credentials    Credentials
}

type PublishRequest struct {
	ConnectionID string
	Channel      string
	Payload      json.RawMessage
	Credentials  Credentials
}

type PublishResult struct {
	Channel  string          `json:"channel"`
	EventID  string          `json:"eventId,omitempty"`
	ReplayID string          `json:"replayId,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

type CheckRequest struct {
	ConnectionID string
	Channel      string
	Credentials  Credentials
}

type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

type HTTPResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}
