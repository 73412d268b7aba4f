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

package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtensionOrigins(t *testing.T) {
	args := []string{
		"chrome-extension://abcdef/",
		"--parent-window=0",
		"/home/user/.mozilla/native-messaging-hosts/com.sftools.proxy.json",
		"moz-extension://1234",
	}

	assert.Equal(t, []string{"chrome-extension://abcdef", "moz-extension://1234"}, extensionOrigins(args))
	assert.Empty(t, extensionOrigins(nil))
}

func TestBuildManifest(t *testing.T) {
	m, err := buildManifest("com.sftools.proxy", "/opt/sftools/proxy", []string{"abc", "def"})
	require.NoError(t, err)

	assert.Equal(t, "stdio", m.Type)
	assert.Equal(t, "/opt/sftools/proxy", m.Path)
	assert.Equal(t, []string{"chrome-extension://abc/", "chrome-extension://def/"}, m.AllowedOrigins)

	_, err = buildManifest("com.sftools.proxy", "/opt/sftools/proxy", nil)
	assert.Error(t, err)

	_, err = buildManifest("com.sftools.proxy", "/opt/sftools/proxy", []string{""})
	assert.Error(t, err)
}

func TestManifestCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"manifest", "--extension-id", "abc", "--path", "/opt/sftools/proxy"})

	require.NoError(t, root.Execute())

	var m hostManifest
	require.NoError(t, json.Unmarshal(out.Bytes(), &m))
	assert.Equal(t, defaultHostName, m.Name)
	assert.Equal(t, "/opt/sftools/proxy", m.Path)
	assert.Equal(t, []string{"chrome-extension://abc/"}, m.AllowedOrigins)
}

func TestManifestCommandRequiresExtensionID(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"manifest"})

	assert.Error(t, root.Execute())
}
