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
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// ConnectionKey identifies the upstream connection a request belongs to.
// Callers normally supply a connection id; without one the key is derived
// from the org instance and token so requests for the same org share
// upstream clients.
func ConnectionKey(connectionID string, creds Credentials) string {
	if connectionID != "" {
		return connectionID
	}

	instance := strings.TrimRight(strings.ToLower(creds.InstanceURL), "/")
	if instance == "" && creds.AccessToken == "" {
		return uuid.New().String()
	}

	hash := sha256.Sum256([]byte(instance + "|" + creds.AccessToken))
	return hex.EncodeToString(hash[:])[:12]
}

func NewSubscriptionID() string {
	return uuid.New().String()
}
