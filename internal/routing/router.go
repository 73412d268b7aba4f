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
	"strings"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

// Platform event channels are the only ones served over gRPC. Every other
// channel family falls back to CometD.
const grpcPrefix = "/event/"

func ResolveProtocol(channel string) core.Protocol {
	if strings.HasPrefix(channel, grpcPrefix) {
		return core.ProtocolGRPC
	}
	return core.ProtocolCometD
}

func IsGRPC(channel string) bool {
	return ResolveProtocol(channel) == core.ProtocolGRPC
}

func IsCometD(channel string) bool {
	return ResolveProtocol(channel) == core.ProtocolCometD
}
