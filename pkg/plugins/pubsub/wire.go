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

package pubsub

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire forms of the eventbus.v1 messages used by the adapter. Field
// numbers follow the published pubsub_api.proto.

type message interface {
	marshal(b []byte) []byte
	unmarshal(b []byte) error
}

// ReplayPreset values of eventbus.v1.ReplayPreset.
const (
	replayPresetLatest   int32 = 0
	replayPresetEarliest int32 = 1
	replayPresetCustom   int32 = 2
)

type FetchRequest struct {
	TopicName    string
	ReplayPreset int32
	ReplayID     []byte
	NumRequested int32
	AuthRefresh  string
}

func (m *FetchRequest) marshal(b []byte) []byte {
	b = appendString(b, 1, m.TopicName)
	b = appendVarint(b, 2, uint64(m.ReplayPreset))
	b = appendBytes(b, 3, m.ReplayID)
	b = appendVarint(b, 4, uint64(m.NumRequested))
	b = appendString(b, 5, m.AuthRefresh)
	return b
}

func (m *FetchRequest) unmarshal(b []byte) error {
	*m = FetchRequest{}
	return parseFields(b, func(f field) {
		switch f.num {
		case 1:
			m.TopicName = f.str()
		case 2:
			m.ReplayPreset = int32(f.varint)
		case 3:
			m.ReplayID = f.copyBytes()
		case 4:
			m.NumRequested = int32(f.varint)
		case 5:
			m.AuthRefresh = f.str()
		}
	})
}

type FetchResponse struct {
	Events              []ConsumerEvent
	LatestReplayID      []byte
	RPCID               string
	PendingNumRequested int32
}

func (m *FetchResponse) marshal(b []byte) []byte {
	for i := range m.Events {
		b = appendMessage(b, 1, &m.Events[i])
	}
	b = appendBytes(b, 2, m.LatestReplayID)
	b = appendString(b, 3, m.RPCID)
	b = appendVarint(b, 4, uint64(m.PendingNumRequested))
	return b
}

func (m *FetchResponse) unmarshal(b []byte) error {
	*m = FetchResponse{}
	var nested error
	err := parseFields(b, func(f field) {
		switch f.num {
		case 1:
			var evt ConsumerEvent
			if err := evt.unmarshal(f.bytes); err != nil && nested == nil {
				nested = err
			}
			m.Events = append(m.Events, evt)
		case 2:
			m.LatestReplayID = f.copyBytes()
		case 3:
			m.RPCID = f.str()
		case 4:
			m.PendingNumRequested = int32(f.varint)
		}
	})
	if err != nil {
		return err
	}
	return nested
}

type ConsumerEvent struct {
	Event    ProducerEvent
	ReplayID []byte
}

func (m *ConsumerEvent) marshal(b []byte) []byte {
	b = appendMessage(b, 1, &m.Event)
	b = appendBytes(b, 2, m.ReplayID)
	return b
}

func (m *ConsumerEvent) unmarshal(b []byte) error {
	*m = ConsumerEvent{}
	var nested error
	err := parseFields(b, func(f field) {
		switch f.num {
		case 1:
			nested = m.Event.unmarshal(f.bytes)
		case 2:
			m.ReplayID = f.copyBytes()
		}
	})
	if err != nil {
		return err
	}
	return nested
}

type EventHeader struct {
	Key   string
	Value []byte
}

func (m *EventHeader) marshal(b []byte) []byte {
	b = appendString(b, 1, m.Key)
	b = appendBytes(b, 2, m.Value)
	return b
}

func (m *EventHeader) unmarshal(b []byte) error {
	*m = EventHeader{}
	return parseFields(b, func(f field) {
		switch f.num {
		case 1:
			m.Key = f.str()
		case 2:
			m.Value = f.copyBytes()
		}
	})
}

type ProducerEvent struct {
	ID       string
	SchemaID string
	Payload  []byte
	Headers  []EventHeader
}

func (m *ProducerEvent) marshal(b []byte) []byte {
	b = appendString(b, 1, m.ID)
	b = appendString(b, 2, m.SchemaID)
	b = appendBytes(b, 3, m.Payload)
	for i := range m.Headers {
		b = appendMessage(b, 4, &m.Headers[i])
	}
	return b
}

func (m *ProducerEvent) unmarshal(b []byte) error {
	*m = ProducerEvent{}
	var nested error
	err := parseFields(b, func(f field) {
		switch f.num {
		case 1:
			m.ID = f.str()
		case 2:
			m.SchemaID = f.str()
		case 3:
			m.Payload = f.copyBytes()
		case 4:
			var h EventHeader
			if err := h.unmarshal(f.bytes); err != nil && nested == nil {
				nested = err
			}
			m.Headers = append(m.Headers, h)
		}
	})
	if err != nil {
		return err
	}
	return nested
}

type SchemaRequest struct {
	SchemaID string
}

func (m *SchemaRequest) marshal(b []byte) []byte {
	return appendString(b, 1, m.SchemaID)
}

func (m *SchemaRequest) unmarshal(b []byte) error {
	*m = SchemaRequest{}
	return parseFields(b, func(f field) {
		if f.num == 1 {
			m.SchemaID = f.str()
		}
	})
}

type SchemaInfo struct {
	SchemaJSON string
	SchemaID   string
	RPCID      string
}

func (m *SchemaInfo) marshal(b []byte) []byte {
	b = appendString(b, 1, m.SchemaJSON)
	b = appendString(b, 2, m.SchemaID)
	b = appendString(b, 3, m.RPCID)
	return b
}

func (m *SchemaInfo) unmarshal(b []byte) error {
	*m = SchemaInfo{}
	return parseFields(b, func(f field) {
		switch f.num {
		case 1:
			m.SchemaJSON = f.str()
		case 2:
			m.SchemaID = f.str()
		case 3:
			m.RPCID = f.str()
		}
	})
}

type TopicRequest struct {
	TopicName string
}

func (m *TopicRequest) marshal(b []byte) []byte {
	return appendString(b, 1, m.TopicName)
}

func (m *TopicRequest) unmarshal(b []byte) error {
	*m = TopicRequest{}
	return parseFields(b, func(f field) {
		if f.num == 1 {
			m.TopicName = f.str()
		}
	})
}

type TopicInfo struct {
	TopicName    string
	TenantGUID   string
	CanPublish   bool
	CanSubscribe bool
	SchemaID     string
	RPCID        string
}

func (m *TopicInfo) marshal(b []byte) []byte {
	b = appendString(b, 1, m.TopicName)
	b = appendString(b, 2, m.TenantGUID)
	b = appendBool(b, 3, m.CanPublish)
	b = appendBool(b, 4, m.CanSubscribe)
	b = appendString(b, 5, m.SchemaID)
	b = appendString(b, 6, m.RPCID)
	return b
}

func (m *TopicInfo) unmarshal(b []byte) error {
	*m = TopicInfo{}
	return parseFields(b, func(f field) {
		switch f.num {
		case 1:
			m.TopicName = f.str()
		case 2:
			m.TenantGUID = f.str()
		case 3:
			m.CanPublish = f.varint != 0
		case 4:
			m.CanSubscribe = f.varint != 0
		case 5:
			m.SchemaID = f.str()
		case 6:
			m.RPCID = f.str()
		}
	})
}

type PublishRequest struct {
	TopicName   string
	Events      []ProducerEvent
	AuthRefresh string
}

func (m *PublishRequest) marshal(b []byte) []byte {
	b = appendString(b, 1, m.TopicName)
	for i := range m.Events {
		b = appendMessage(b, 2, &m.Events[i])
	}
	b = appendString(b, 3, m.AuthRefresh)
	return b
}

func (m *PublishRequest) unmarshal(b []byte) error {
	*m = PublishRequest{}
	var nested error
	err := parseFields(b, func(f field) {
		switch f.num {
		case 1:
			m.TopicName = f.str()
		case 2:
			var evt ProducerEvent
			if err := evt.unmarshal(f.bytes); err != nil && nested == nil {
				nested = err
			}
			m.Events = append(m.Events, evt)
		case 3:
			m.AuthRefresh = f.str()
		}
	})
	if err != nil {
		return err
	}
	return nested
}

type PublishResponse struct {
	Results  []PublishResult
	SchemaID string
	RPCID    string
}

func (m *PublishResponse) marshal(b []byte) []byte {
	for i := range m.Results {
		b = appendMessage(b, 1, &m.Results[i])
	}
	b = appendString(b, 2, m.SchemaID)
	b = appendString(b, 3, m.RPCID)
	return b
}

func (m *PublishResponse) unmarshal(b []byte) error {
	*m = PublishResponse{}
	var nested error
	err := parseFields(b, func(f field) {
		switch f.num {
		case 1:
			var r PublishResult
			if err := r.unmarshal(f.bytes); err != nil && nested == nil {
				nested = err
			}
			m.Results = append(m.Results, r)
		case 2:
			m.SchemaID = f.str()
		case 3:
			m.RPCID = f.str()
		}
	})
	if err != nil {
		return err
	}
	return nested
}

type PublishResult struct {
	ReplayID       []byte
	Error          *Error
	CorrelationKey string
}

func (m *PublishResult) marshal(b []byte) []byte {
	b = appendBytes(b, 1, m.ReplayID)
	if m.Error != nil {
		b = appendMessage(b, 2, m.Error)
	}
	b = appendString(b, 3, m.CorrelationKey)
	return b
}

func (m *PublishResult) unmarshal(b []byte) error {
	*m = PublishResult{}
	var nested error
	err := parseFields(b, func(f field) {
		switch f.num {
		case 1:
			m.ReplayID = f.copyBytes()
		case 2:
			m.Error = &Error{}
			nested = m.Error.unmarshal(f.bytes)
		case 3:
			m.CorrelationKey = f.str()
		}
	})
	if err != nil {
		return err
	}
	return nested
}

// Error codes of eventbus.v1.ErrorCode.
const (
	errorCodeUnknown int32 = 0
	errorCodePublish int32 = 1
	errorCodeCommit  int32 = 2
)

type Error struct {
	Code int32
	Msg  string
}

func (m *Error) marshal(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.Code))
	b = appendString(b, 2, m.Msg)
	return b
}

func (m *Error) unmarshal(b []byte) error {
	*m = Error{}
	return parseFields(b, func(f field) {
		switch f.num {
		case 1:
			m.Code = int32(f.varint)
		case 2:
			m.Msg = f.str()
		}
	})
}

func (m *Error) codeName() string {
	switch m.Code {
	case errorCodePublish:
		return "PUBLISH"
	case errorCodeCommit:
		return "COMMIT"
	default:
		return "UNKNOWN"
	}
}

type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func (f field) str() string {
	return string(f.bytes)
}

func (f field) copyBytes() []byte {
	if len(f.bytes) == 0 {
		return nil
	}
	return append([]byte(nil), f.bytes...)
}

// parseFields walks the top-level fields of b. Unknown fields and wire
// types are skipped.
func parseFields(b []byte, fn func(f field)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if typ == protowire.VarintType || typ == protowire.BytesType {
			fn(f)
		}
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendMessage(b []byte, num protowire.Number, m message) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.marshal(nil))
}
