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

package relay

import (
	"strings"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultAllowedHosts covers the Salesforce domains an org can be served from.
var DefaultAllowedHosts = []string{
	"*.salesforce.com",
	"*.force.com",
	"*.salesforce-setup.com",
	"*.cloudforce.com",
	"*.visualforce.com",
	"*.site.com",
	"localhost",
	"127.0.0.1",
}

// HostPolicy decides which hosts the relay may reach. An empty pattern list
// allows every host. Patterns can be swapped at runtime.
type HostPolicy struct {
	patterns atomic.Pointer[[]string]
}

func NewHostPolicy(patterns []string) *HostPolicy {
	p := &HostPolicy{}
	p.Set(patterns)
	return p
}

func (p *HostPolicy) Set(patterns []string) {
	normalized := make([]string, 0, len(patterns))
	for _, pat := range patterns {
		if pat = strings.ToLower(strings.TrimSpace(pat)); pat != "" {
			normalized = append(normalized, pat)
		}
	}
	p.patterns.Store(&normalized)
}

func (p *HostPolicy) Patterns() []string {
	return append([]string(nil), *p.patterns.Load()...)
}

func (p *HostPolicy) Allowed(host string) bool {
	patterns := *p.patterns.Load()
	if len(patterns) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, host); err == nil && ok {
			return true
		}
	}
	return false
}
