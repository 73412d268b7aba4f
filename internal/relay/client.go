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
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

const maxRedirects = 10

var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
	"content-length":      true,
}

func isHopByHopHeader(name string) bool {
	return hopByHopHeaders[strings.ToLower(name)]
}

// Client issues HTTP requests on the browser's behalf so they are not
// subject to the extension's cross-origin restrictions.
type Client struct {
	http   *resty.Client
	policy *HostPolicy
	logger *slog.Logger
}

func New(timeout time.Duration, policy *HostPolicy, logger *slog.Logger) *Client {
	if policy == nil {
		policy = NewHostPolicy(DefaultAllowedHosts)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		policy: policy,
		logger: logger,
	}
	c.http = resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.RedirectPolicyFunc(c.checkRedirect))
	return c
}

// checkRedirect applies the same scheme and host rules to every hop.
func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return c.checkTarget(req.URL)
}

func (c *Client) Policy() *HostPolicy {
	return c.policy
}

func (c *Client) Do(ctx context.Context, req core.HTTPRequest) (*core.HTTPResponse, error) {
	target, err := c.validate(req.URL)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	r := c.http.R().SetContext(ctx)
	for k, v := range req.Headers {
		if !isHopByHopHeader(k) {
			r.SetHeader(k, v)
		}
	}
	if req.Body != "" {
		r.SetBody(req.Body)
	}

	start := time.Now()
	resp, err := r.Execute(method, target.String())
	if err != nil {
		c.logger.Warn("relay request failed", "method", method, "host", target.Host, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %w", core.ErrUpstream, method, target.Host, err)
	}

	headers := make(map[string]string, len(resp.Header()))
	for k, vals := range resp.Header() {
		if isHopByHopHeader(k) || len(vals) == 0 {
			continue
		}
		headers[strings.ToLower(k)] = strings.Join(vals, ", ")
	}

	c.logger.Debug("relay request completed",
		"method", method,
		"host", target.Host,
		"status", resp.StatusCode(),
		"size", len(resp.Body()),
		"duration", time.Since(start),
	)

	return &core.HTTPResponse{
		Status:     resp.StatusCode(),
		StatusText: http.StatusText(resp.StatusCode()),
		Headers:    headers,
		Body:       string(resp.Body()),
	}, nil
}

func (c *Client) validate(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: url: %v", core.ErrInvalidRequest, err)
	}
	if err := c.checkTarget(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) checkTarget(u *url.URL) error {
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: unsupported scheme %q", core.ErrInvalidRequest, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: url has no host", core.ErrInvalidRequest)
	}
	if !c.policy.Allowed(u.Hostname()) {
		return fmt.Errorf("%w: %s", core.ErrHostNotAllowed, u.Hostname())
	}
	return nil
}
