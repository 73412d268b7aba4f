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

package session

import (
	"sync/atomic"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

// subscriptionSink is the EventSink handed to an adapter for one
// subscription. Events wait until the subscription is registered and are
// dropped once it has been torn down.
type subscriptionSink struct {
	d        *Dispatcher
	id       string
	channel  string
	protocol core.Protocol

	ready  chan struct{}
	active atomic.Bool
	closed atomic.Bool
	failed atomic.Bool
}

func newSubscriptionSink(d *Dispatcher, id, channel string, protocol core.Protocol) *subscriptionSink {
	return &subscriptionSink{
		d:        d,
		id:       id,
		channel:  channel,
		protocol: protocol,
		ready:    make(chan struct{}),
	}
}

func (s *subscriptionSink) activate(ok bool) {
	s.active.Store(ok)
	close(s.ready)
}

func (s *subscriptionSink) close() {
	s.closed.Store(true)
}

// wait blocks until Subscribe has finished and reports whether the
// subscription is still live.
func (s *subscriptionSink) wait() bool {
	<-s.ready
	return s.active.Load() && !s.closed.Load()
}

func (s *subscriptionSink) Deliver(evt core.Event) {
	if !s.wait() {
		return
	}
	if _, ok := s.d.subs.Get(s.id); !ok {
		return
	}

	evt.SubscriptionID = s.id
	evt.Protocol = s.protocol
	if evt.Channel == "" {
		evt.Channel = s.channel
	}
	s.d.deliver(evt)
}

func (s *subscriptionSink) Fail(_ string, err error) {
	if !s.failed.CompareAndSwap(false, true) {
		return
	}
	go s.d.fail(s, err)
}
