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

package cometd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

const (
	DefaultAPIVersion = "62.0"
	// DefaultTimeout covers the server's 110 second long-poll hold.
	DefaultTimeout = 2 * time.Minute
	// DefaultRetryInterval is the first pause after an unsuccessful connect
	// when the server advises retrying without an interval.
	DefaultRetryInterval = time.Second
)

type Config struct {
	APIVersion    string
	Timeout       time.Duration
	RetryInterval time.Duration
}

// Adapter speaks the Salesforce Streaming API over CometD long polling.
type Adapter struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]*client),
	}
}

func (a *Adapter) Protocol() core.Protocol {
	return core.ProtocolCometD
}

func (a *Adapter) endpoint(creds core.Credentials) string {
	version := creds.APIVersion
	if version == "" {
		version = a.cfg.APIVersion
	}
	return strings.TrimRight(creds.InstanceURL, "/") + "/cometd/" + strings.TrimPrefix(version, "v")
}

func (a *Adapter) client(key string, creds core.Credentials) (*client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, core.ErrAdapterClosed
	}
	if c, ok := a.clients[key]; ok {
		return c, nil
	}
	c := newClient(key, a.endpoint(creds), creds, a.cfg, a.logger, a.forget)
	a.clients[key] = c
	return c, nil
}

// forget drops c from the client table if it is still the registered one.
func (a *Adapter) forget(c *client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.clients[c.key] == c {
		delete(a.clients, c.key)
	}
}

func (a *Adapter) clientCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.clients)
}

func (a *Adapter) Subscribe(ctx context.Context, req core.SubscribeRequest, sink core.EventSink) (core.CleanupFunc, error) {
	if err := req.Credentials.Validate(); err != nil {
		return nil, err
	}
	replay, err := replayValue(req.Replay)
	if err != nil {
		return nil, fmt.Errorf("%w: replay id must be an integer", core.ErrInvalidRequest)
	}

	var c *client
	for attempt := 0; attempt < 2; attempt++ {
		c, err = a.client(req.ConnectionID, req.Credentials)
		if err != nil {
			return nil, err
		}
		err = c.subscribe(ctx, req.Channel, req.SubscriptionID, replay, sink)
		if !errors.Is(err, errClientClosed) {
			break
		}
		a.forget(c)
	}
	if err != nil {
		if c != nil && c.channelCount() == 0 {
			a.forget(c)
			_ = c.close(context.WithoutCancel(ctx))
		}
		return nil, err
	}

	a.logger.Info("cometd subscription started",
		"subscription_id", req.SubscriptionID,
		"channel", req.Channel,
		"connection_id", req.ConnectionID,
		"replay", replay,
	)

	return func() error {
		return a.release(c, req.Channel, req.SubscriptionID)
	}, nil
}

// release detaches one subscription and disconnects the client once it has
// no channels left.
func (a *Adapter) release(c *client, channel, id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()

	empty, err := c.unsubscribe(ctx, channel, id)
	if !empty {
		return err
	}

	a.forget(c)
	return multierr.Append(err, c.close(ctx))
}

// session runs fn against a short-lived Bayeux session.
func (a *Adapter) session(ctx context.Context, creds core.Credentials, fn func(c *client) error) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return core.ErrAdapterClosed
	}

	c := newClient("", a.endpoint(creds), creds, a.cfg, a.logger, nil)
	if err := c.handshake(ctx); err != nil {
		return err
	}
	err := fn(c)
	return multierr.Append(err, c.close(context.WithoutCancel(ctx)))
}

func (a *Adapter) Publish(ctx context.Context, req core.PublishRequest) (*core.PublishResult, error) {
	var result *core.PublishResult
	err := a.session(ctx, req.Credentials, func(c *client) error {
		id := c.nextID()
		replies, err := c.post(ctx, message{
			Channel:  req.Channel,
			ID:       id,
			ClientID: c.currentID(),
			Data:     req.Payload,
		})
		if err != nil {
			return fmt.Errorf("%w: cometd publish %s: %v", core.ErrUpstream, req.Channel, err)
		}
		reply, ok := findReply(replies, req.Channel)
		if !ok || !reply.Successful {
			return fmt.Errorf("%w: cometd publish %s rejected: %s", core.ErrUpstream, req.Channel, reply.Error)
		}
		result = &core.PublishResult{Channel: req.Channel, EventID: id, Response: encodeReply(reply)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Check performs a handshake and disconnects.
func (a *Adapter) Check(ctx context.Context, req core.CheckRequest) error {
	return a.session(ctx, req.Credentials, func(*client) error { return nil })
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	clients := make([]*client, 0, len(a.clients))
	for _, c := range a.clients {
		clients = append(clients, c)
	}
	a.clients = make(map[string]*client)
	a.mu.Unlock()

	var errs error
	for _, c := range clients {
		errs = multierr.Append(errs, c.close(ctx))
	}
	return errs
}
