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

package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

func TestResolveProtocol(t *testing.T) {
	tests := []struct {
		channel string
		want    core.Protocol
	}{
		{"/event/OrderEvent__e", core.ProtocolGRPC},
		{"/event/LoginEventStream", core.ProtocolGRPC},
		{"/event/", core.ProtocolGRPC},
		{"/topic/AccountUpdates", core.ProtocolCometD},
		{"/data/ChangeEvents", core.ProtocolCometD},
		{"/data/AccountChangeEvent", core.ProtocolCometD},
		{"/systemTopic/Logging", core.ProtocolCometD},
		{"/u/notifications", core.ProtocolCometD},
		{"", core.ProtocolCometD},
		{"event/OrderEvent__e", core.ProtocolCometD},
		{"/Event/OrderEvent__e", core.ProtocolCometD},
		{"/EVENT/OrderEvent__e", core.ProtocolCometD},
		{" /event/OrderEvent__e", core.ProtocolCometD},
		{"/event", core.ProtocolCometD},
		{"/topic/event/Foo", core.ProtocolCometD},
		{"/data/event/", core.ProtocolCometD},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveProtocol(tt.channel), "channel %q", tt.channel)
	}
}

func TestPredicatesAreExclusive(t *testing.T) {
	channels := []string{
		"/event/OrderEvent__e", "/topic/AccountUpdates", "/data/ChangeEvents",
		"/systemTopic/Logging", "", "x", "/event", "/Event/Foo", "\t/event/Foo",
	}
	for _, c := range channels {
		assert.NotEqual(t, IsGRPC(c), IsCometD(c), "channel %q", c)
		assert.Equal(t, ResolveProtocol(c) == core.ProtocolGRPC, IsGRPC(c), "channel %q", c)
	}
}
