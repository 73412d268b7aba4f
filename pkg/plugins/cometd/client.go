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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

var errClientClosed = errors.New("cometd client closed")

type subscriber struct {
	id   string
	sink core.EventSink
}

type channelState struct {
	subscribers []subscriber
	lastReplay  int64
}

// client is one Bayeux session against an org. Subscriptions to the same
// channel share a single upstream subscription.
type client struct {
	key    string
	url    string
	creds  core.Credentials
	http   *resty.Client
	logger *slog.Logger
	// retry paces reconnects after unsuccessful connects.
	retry *backoff.ExponentialBackOff

	// opMu serializes handshake, subscribe and unsubscribe exchanges.
	opMu sync.Mutex

	mu       sync.Mutex
	clientID string
	channels map[string]*channelState
	closed   bool
	failed   bool
	started  bool

	msgID     atomic.Uint64
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*client)
}

func newClient(key, endpoint string, creds core.Credentials, cfg Config, logger *slog.Logger, onClose func(*client)) *client {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = cfg.RetryInterval
	retry.MaxInterval = 30 * time.Second
	retry.MaxElapsedTime = 0
	retry.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		key:      key,
		url:      endpoint,
		creds:    creds,
		http:     resty.New().SetTimeout(cfg.Timeout),
		logger:   logger,
		retry:    retry,
		channels: make(map[string]*channelState),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		onClose:  onClose,
	}
}

func (c *client) nextID() string {
	return strconv.FormatUint(c.msgID.Add(1), 10)
}

func (c *client) currentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *client) post(ctx context.Context, msgs ...message) ([]message, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.creds.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(msgs).
		Post(c.url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}

	var out []message
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode bayeux response: %w", err)
	}
	return out, nil
}

// handshake obtains a new client id. The caller holds opMu.
func (c *client) handshake(ctx context.Context) error {
	replies, err := c.post(ctx, message{
		Channel:                  metaHandshake,
		ID:                       c.nextID(),
		Version:                  "1.0",
		MinimumVersion:           "1.0",
		SupportedConnectionTypes: []string{"long-polling"},
		Ext:                      map[string]any{"replay": true},
	})
	if err != nil {
		return fmt.Errorf("%w: cometd handshake: %v", core.ErrUpstream, err)
	}
	reply, ok := findReply(replies, metaHandshake)
	if !ok || !reply.Successful || reply.ClientID == "" {
		return fmt.Errorf("%w: cometd handshake rejected: %s", core.ErrUpstream, reply.Error)
	}

	c.mu.Lock()
	c.clientID = reply.ClientID
	c.mu.Unlock()
	c.logger.Debug("cometd handshake complete", "connection_id", c.key)
	return nil
}

func (c *client) subscribeUpstream(ctx context.Context, channel string, replay int64) error {
	replies, err := c.post(ctx, message{
		Channel:      metaSubscribe,
		ID:           c.nextID(),
		ClientID:     c.currentID(),
		Subscription: channel,
		Ext:          map[string]any{"replay": map[string]int64{channel: replay}},
	})
	if err != nil {
		return fmt.Errorf("%w: cometd subscribe %s: %v", core.ErrUpstream, channel, err)
	}
	reply, ok := findReply(replies, metaSubscribe)
	if !ok || !reply.Successful {
		return fmt.Errorf("%w: cometd subscribe %s rejected: %s", core.ErrUpstream, channel, reply.Error)
	}
	return nil
}

func (c *client) unsubscribeUpstream(ctx context.Context, channel string) error {
	replies, err := c.post(ctx, message{
		Channel:      metaUnsubscribe,
		ID:           c.nextID(),
		ClientID:     c.currentID(),
		Subscription: channel,
	})
	if err != nil {
		return fmt.Errorf("%w: cometd unsubscribe %s: %v", core.ErrUpstream, channel, err)
	}
	if reply, ok := findReply(replies, metaUnsubscribe); ok && !reply.Successful {
		return fmt.Errorf("%w: cometd unsubscribe %s rejected: %s", core.ErrUpstream, channel, reply.Error)
	}
	return nil
}

// subscribe attaches a subscriber to channel, subscribing upstream when it
// is the channel's first subscriber, and starts the connect loop.
func (c *client) subscribe(ctx context.Context, channel, id string, replay int64, sink core.EventSink) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	handshaken := c.clientID != ""
	st, exists := c.channels[channel]
	c.mu.Unlock()
	if closed {
		return errClientClosed
	}

	if !handshaken {
		if err := c.handshake(ctx); err != nil {
			return err
		}
	}

	if !exists {
		if err := c.subscribeUpstream(ctx, channel, replay); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	if !exists {
		st = &channelState{lastReplay: replay}
		c.channels[channel] = st
	}
	st.subscribers = append(st.subscribers, subscriber{id: id, sink: sink})
	if !c.started {
		c.started = true
		go c.run()
	}
	return nil
}

// unsubscribe detaches a subscriber. The upstream subscription is dropped
// with its last subscriber. It reports whether the client has no channels
// left.
func (c *client) unsubscribe(ctx context.Context, channel, id string) (bool, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	st, ok := c.channels[channel]
	last := false
	if ok {
		for i, s := range st.subscribers {
			if s.id == id {
				st.subscribers = append(st.subscribers[:i], st.subscribers[i+1:]...)
				break
			}
		}
		if len(st.subscribers) == 0 {
			delete(c.channels, channel)
			last = true
		}
	}
	empty := len(c.channels) == 0
	closed := c.closed
	c.mu.Unlock()

	if !last || closed {
		return empty, nil
	}
	return empty, c.unsubscribeUpstream(ctx, channel)
}

func (c *client) channelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

func (c *client) subscriberCount(channel string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.channels[channel]; ok {
		return len(st.subscribers)
	}
	return 0
}

// run is the long-poll loop. It exits when the client is closed or the
// session cannot continue, in which case every subscriber is failed.
func (c *client) run() {
	defer close(c.done)

	for {
		replies, err := c.post(c.ctx, message{
			Channel:        metaConnect,
			ID:             c.nextID(),
			ClientID:       c.currentID(),
			ConnectionType: "long-polling",
		})
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.failAll(fmt.Errorf("%w: cometd connect: %v", core.ErrStreamClosed, err))
			return
		}

		var connect *message
		for i := range replies {
			m := replies[i]
			if m.Channel == metaConnect {
				connect = &replies[i]
				continue
			}
			if isMeta(m.Channel) {
				continue
			}
			c.dispatch(m)
		}

		reconnect, interval := reconnectRetry, 0
		if connect != nil && connect.Advice != nil {
			if connect.Advice.Reconnect != "" {
				reconnect = connect.Advice.Reconnect
			}
			interval = connect.Advice.Interval
		}
		if connect != nil && !connect.Successful && (connect.Advice == nil || connect.Advice.Reconnect == "") {
			c.failAll(fmt.Errorf("%w: cometd connect rejected: %s", core.ErrStreamClosed, connect.Error))
			return
		}

		switch reconnect {
		case reconnectNone:
			c.failAll(fmt.Errorf("%w: server advised no reconnect", core.ErrStreamClosed))
			return
		case reconnectHandshake:
			if err := c.rehandshake(); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.failAll(fmt.Errorf("%w: %v", core.ErrStreamClosed, err))
				return
			}
		}

		delay := time.Duration(interval) * time.Millisecond
		if connect != nil && connect.Successful {
			c.retry.Reset()
		} else if reconnect == reconnectRetry {
			delay = max(delay, c.retry.NextBackOff())
			c.logger.Debug("cometd connect unsuccessful, retrying", "connection_id", c.key, "delay", delay)
		}

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-c.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}

// rehandshake starts a new Bayeux session and resubscribes every channel
// from the last replay id it delivered.
func (c *client) rehandshake() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.logger.Info("cometd server requested handshake", "connection_id", c.key)
	if err := c.handshake(c.ctx); err != nil {
		return err
	}

	c.mu.Lock()
	replays := make(map[string]int64, len(c.channels))
	for ch, st := range c.channels {
		replays[ch] = st.lastReplay
	}
	c.mu.Unlock()

	for ch, replay := range replays {
		if err := c.subscribeUpstream(c.ctx, ch, replay); err != nil {
			return err
		}
	}
	return nil
}

func (c *client) dispatch(m message) {
	var env eventEnvelope
	_ = json.Unmarshal(m.Data, &env)

	evt := core.Event{
		Channel:   m.Channel,
		Protocol:  core.ProtocolCometD,
		EventID:   env.Event.EventUUID,
		ReplayID:  env.Event.ReplayID.String(),
		Payload:   m.Data,
		Timestamp: time.Now().UTC(),
	}

	c.mu.Lock()
	st, ok := c.channels[m.Channel]
	var subs []subscriber
	if ok {
		if replay, err := env.Event.ReplayID.Int64(); err == nil {
			st.lastReplay = replay
		}
		subs = append(subs, st.subscribers...)
	}
	c.mu.Unlock()

	for _, s := range subs {
		e := evt
		e.SubscriptionID = s.id
		s.sink.Deliver(e)
	}
}

// failAll ends the session and reports err to every subscriber.
func (c *client) failAll(err error) {
	c.mu.Lock()
	c.closed = true
	c.failed = true
	var subs []subscriber
	for _, st := range c.channels {
		subs = append(subs, st.subscribers...)
	}
	c.channels = make(map[string]*channelState)
	c.mu.Unlock()

	c.logger.Warn("cometd session ended", "connection_id", c.key, "subscribers", len(subs), "error", err)
	if c.onClose != nil {
		c.onClose(c)
	}
	for _, s := range subs {
		s.sink.Fail(s.id, err)
	}
}

// close stops the connect loop and disconnects the Bayeux session.
func (c *client) close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		started := c.started
		failed := c.failed
		clientID := c.clientID
		c.mu.Unlock()

		c.cancel()
		if started {
			<-c.done
		}
		if clientID == "" || failed {
			return
		}

		_, perr := c.post(ctx, message{Channel: metaDisconnect, ID: c.nextID(), ClientID: clientID})
		if perr != nil {
			err = fmt.Errorf("%w: cometd disconnect: %v", core.ErrUpstream, perr)
		}
		c.logger.Info("cometd client disconnected", "connection_id", c.key)
	})
	return err
}
