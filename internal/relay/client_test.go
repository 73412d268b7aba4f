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
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestHostPolicy(t *testing.T) {
	p := NewHostPolicy(DefaultAllowedHosts)

	assert.True(t, p.Allowed("na1.salesforce.com"))
	assert.True(t, p.Allowed("acme.my.salesforce.com"))
	assert.True(t, p.Allowed("ACME.lightning.force.com"))
	assert.True(t, p.Allowed("localhost"))
	assert.False(t, p.Allowed("salesforce.com.evil.io"))
	assert.False(t, p.Allowed("example.com"))

	p.Set(nil)
	assert.True(t, p.Allowed("example.com"))

	p.Set([]string{" Example.COM "})
	assert.Equal(t, []string{"example.com"}, p.Patterns())
	assert.True(t, p.Allowed("example.com"))
	assert.False(t, p.Allowed("na1.salesforce.com"))
}

func TestRelayForwardsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/services/data/v62.0/sobjects/Account", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, `{"Name":"Acme"}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Sforce-Limit-Info", "api-usage=1/15000")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"001","success":true}`))
	}))
	defer srv.Close()

	c := New(5*time.Second, NewHostPolicy([]string{"127.0.0.1"}), testLogger())
	resp, err := c.Do(context.Background(), core.HTTPRequest{
		Method: "post",
		URL:    srv.URL + "/services/data/v62.0/sobjects/Account",
		Headers: map[string]string{
			"Authorization": "Bearer token",
			"Content-Type":  "application/json",
			"Connection":    "close",
		},
		Body: `{"Name":"Acme"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "Created", resp.StatusText)
	assert.Equal(t, "application/json", resp.Headers["content-type"])
	assert.Equal(t, "api-usage=1/15000", resp.Headers["sforce-limit-info"])
	assert.JSONEq(t, `{"id":"001","success":true}`, resp.Body)
}

func TestRelayPassesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(5*time.Second, NewHostPolicy(nil), testLogger())
	resp, err := c.Do(context.Background(), core.HTTPRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Contains(t, resp.Body, "nope")
}

func TestRelayRejectsRequests(t *testing.T) {
	c := New(time.Second, NewHostPolicy(DefaultAllowedHosts), testLogger())

	_, err := c.Do(context.Background(), core.HTTPRequest{URL: "https://example.com/"})
	assert.ErrorIs(t, err, core.ErrHostNotAllowed)

	_, err = c.Do(context.Background(), core.HTTPRequest{URL: "file:///etc/passwd"})
	assert.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = c.Do(context.Background(), core.HTTPRequest{URL: "https://"})
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestRelayRejectsRedirectToDisallowedHost(t *testing.T) {
	var hitInternal bool
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hitInternal = true
		_, _ = w.Write([]byte("internal secret"))
	}))
	defer internal.Close()

	// Same listener, reached through a hostname the policy does not allow.
	internalURL := strings.Replace(internal.URL, "127.0.0.1", "localhost", 1)
	allowed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, internalURL+"/secret", http.StatusFound)
	}))
	defer allowed.Close()

	c := New(5*time.Second, NewHostPolicy([]string{"127.0.0.1"}), testLogger())

	_, err := c.Do(context.Background(), core.HTTPRequest{URL: internalURL})
	require.ErrorIs(t, err, core.ErrHostNotAllowed)

	resp, err := c.Do(context.Background(), core.HTTPRequest{URL: allowed.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrHostNotAllowed)
	assert.Nil(t, resp)
	assert.False(t, hitInternal)
}

func TestRelayFollowsAllowedRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved" {
			http.Redirect(w, r, "/final", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("landed"))
	}))
	defer srv.Close()

	c := New(5*time.Second, NewHostPolicy([]string{"127.0.0.1"}), testLogger())
	resp, err := c.Do(context.Background(), core.HTTPRequest{URL: srv.URL + "/moved"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "landed", resp.Body)
}

func TestRelayRejectsRedirectToOtherScheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "ftp://127.0.0.1/file", http.StatusFound)
	}))
	defer srv.Close()

	c := New(5*time.Second, NewHostPolicy(nil), testLogger())
	_, err := c.Do(context.Background(), core.HTTPRequest{URL: srv.URL})
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestRelayUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(time.Second, NewHostPolicy(nil), testLogger())
	_, err := c.Do(context.Background(), core.HTTPRequest{URL: url})
	assert.ErrorIs(t, err, core.ErrUpstream)
}
