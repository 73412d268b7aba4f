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

import "context"

// CleanupFunc releases the upstream resource behind a subscription.
type CleanupFunc func() error

// EventSink receives what an adapter produces for its subscriptions after
// Subscribe has returned. Fail is reported at most once per subscription and
// must not call back into the adapter on the caller's goroutine.
type EventSink interface {
	Deliver(evt Event)
	Fail(subscriptionID string, err error)
}

// Adapter is the capability every upstream protocol implementation offers.
type Adapter interface {
	Protocol() Protocol
	Subscribe(ctx context.Context, req SubscribeRequest, sink EventSink) (CleanupFunc, error)
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
	Check(ctx context.Context, req CheckRequest) error
	Close(ctx context.Context) error
}

// Entrypoint is a browser-facing transport that feeds requests to a Handler.
type Entrypoint interface {
	Name() string
	Type() string
	Start(ctx context.Context, handler Handler) error
	Stop(ctx context.Context) error
}

// Handler serves requests arriving on the primary message channel. Push is
// used for unsolicited messages such as stream events.
type Handler interface {
	Handle(ctx context.Context, req Request) Response
	Attach(push PushFunc)
}

type PushFunc func(msg any) error
