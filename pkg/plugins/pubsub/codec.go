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
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	serviceName = "eventbus.v1.PubSub"

	methodGetTopic  = "/" + serviceName + "/GetTopic"
	methodGetSchema = "/" + serviceName + "/GetSchema"
	methodPublish   = "/" + serviceName + "/Publish"
	methodSubscribe = "/" + serviceName + "/Subscribe"
)

var subscribeDesc = grpc.StreamDesc{
	StreamName:    "Subscribe",
	ServerStreams: true,
	ClientStreams: true,
}

// wireCodec frames the hand-encoded eventbus messages on the gRPC
// transport. It registers under the standard "proto" content subtype.
type wireCodec struct{}

var _ encoding.Codec = wireCodec{}

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(message)
	if !ok {
		return nil, fmt.Errorf("pubsub codec: cannot marshal %T", v)
	}
	return m.marshal(nil), nil
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(message)
	if !ok {
		return fmt.Errorf("pubsub codec: cannot unmarshal into %T", v)
	}
	return m.unmarshal(data)
}

func (wireCodec) Name() string {
	return "proto"
}
