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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/bct8925/sftools-sub004/internal/bulk"
	"github.com/bct8925/sftools-sub004/internal/logging"
	"github.com/bct8925/sftools-sub004/internal/metrics"
	"github.com/bct8925/sftools-sub004/internal/payload"
	"github.com/bct8925/sftools-sub004/internal/relay"
	"github.com/bct8925/sftools-sub004/internal/routing"
	"github.com/bct8925/sftools-sub004/internal/subscription"
	"github.com/bct8925/sftools-sub004/internal/transfer"
	"github.com/bct8925/sftools-sub004/pkg/core"
	"github.com/bct8925/sftools-sub004/pkg/plugins"
)

const (
	modeInline  = "inline"
	modePayload = "payload"
)

type Options struct {
	Adapters      *plugins.Registry
	Subscriptions *subscription.Registry
	Payloads      *payload.Store
	Transfer      *transfer.Server
	Relay         *relay.Client
	Bulk          *bulk.Client
	Metrics       *metrics.Metrics
	EventLog      *logging.EventLogger
	Logger        *slog.Logger
	Version       string
}

// Dispatcher is the single entry point for requests arriving on the primary
// message channel. Every request yields exactly one Response; failures are
// reported in the response, never as panics across the channel.
type Dispatcher struct {
	adapters *plugins.Registry
	subs     *subscription.Registry
	payloads *payload.Store
	transfer *transfer.Server
	relay    *relay.Client
	bulk     *bulk.Client
	metrics  *metrics.Metrics
	eventLog *logging.EventLogger
	logger   *slog.Logger
	version  string

	locks *keyedMutex
	push  atomic.Pointer[core.PushFunc]
}

func NewDispatcher(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		adapters: opts.Adapters,
		subs:     opts.Subscriptions,
		payloads: opts.Payloads,
		transfer: opts.Transfer,
		relay:    opts.Relay,
		bulk:     opts.Bulk,
		metrics:  opts.Metrics,
		eventLog: opts.EventLog,
		logger:   logger,
		version:  opts.Version,
		locks:    newKeyedMutex(),
	}
}

// Attach sets the function used for unsolicited messages: stream events and
// subscription errors.
func (d *Dispatcher) Attach(push core.PushFunc) {
	d.push.Store(&push)
}

func (d *Dispatcher) ActiveCount() int {
	return d.subs.Count()
}

func (d *Dispatcher) Handle(ctx context.Context, req core.Request) (resp core.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("request panic recovered", "request_id", req.ID, "type", req.Type, "error", r)
			resp = core.Failure(req.ID, fmt.Errorf("internal error: %v", r))
		}
		if d.metrics != nil {
			d.metrics.Requests.WithLabelValues(opLabel(req.Type), metrics.Outcome(resp.Success)).Inc()
		}
		d.logger.Debug("request handled",
			"request_id", req.ID,
			"type", req.Type,
			"success", resp.Success,
			"duration", time.Since(start),
		)
	}()

	switch req.Type {
	case core.OpSubscribe:
		return d.subscribe(ctx, req)
	case core.OpUnsubscribe:
		return d.unsubscribe(req)
	case core.OpPublish:
		return d.publish(ctx, req)
	case core.OpFetch:
		return d.fetch(ctx, req)
	case core.OpCheckConnection:
		return d.checkConnection(ctx, req)
	case core.OpTransferInfo:
		return d.transferInfo(req)
	case core.OpDisconnect:
		return d.disconnect(req)
	case core.OpBulkWait:
		return d.bulkWait(ctx, req)
	case core.OpBulkResults:
		return d.bulkResults(ctx, req)
	case core.OpPing:
		resp := core.Success(req.ID)
		resp.Data = encode(map[string]any{"pong": true, "version": d.version})
		return resp
	default:
		return core.Failure(req.ID, fmt.Errorf("%w: %q", core.ErrUnknownOperation, req.Type))
	}
}

func opLabel(op string) string {
	switch op {
	case core.OpSubscribe, core.OpUnsubscribe, core.OpPublish, core.OpFetch,
		core.OpCheckConnection, core.OpTransferInfo, core.OpDisconnect,
		core.OpBulkWait, core.OpBulkResults, core.OpPing:
		return op
	default:
		return "unknown"
	}
}

func (d *Dispatcher) subscribe(ctx context.Context, req core.Request) core.Response {
	if req.Channel == "" {
		return core.Failure(req.ID, fmt.Errorf("%w: channel is required", core.ErrInvalidRequest))
	}
	if err := req.Credentials.Validate(); err != nil {
		return core.Failure(req.ID, err)
	}

	protocol := routing.ResolveProtocol(req.Channel)
	adapter, err := d.adapters.Adapter(protocol)
	if err != nil {
		return core.Failure(req.ID, err)
	}

	id := req.SubscriptionID
	if id == "" {
		id = core.NewSubscriptionID()
	}
	connKey := core.ConnectionKey(req.ConnectionID, req.Credentials)

	unlock := d.locks.Lock(id)
	defer unlock()

	if _, ok := d.subs.Get(id); ok {
		d.logger.Info("replacing subscription", "subscription_id", id)
		if _, err := d.teardown(id); err != nil {
			d.logger.Warn("cleanup of replaced subscription failed", "subscription_id", id, "error", err)
		}
	}

	sink := newSubscriptionSink(d, id, req.Channel, protocol)
	cleanup, err := adapter.Subscribe(ctx, core.SubscribeRequest{
		SubscriptionID: id,
		ConnectionID:   connKey,
		Channel:        req.Channel,
		Replay:         req.Replay,
		Credentials:    req.Credentials,
	}, sink)
	if err != nil {
		sink.activate(false)
		d.logger.Warn("subscribe failed",
			"subscription_id", id,
			"channel", req.Channel,
			"protocol", protocol.String(),
			"error", err,
		)
		return core.Failure(req.ID, err)
	}

	d.subs.Add(id, subscription.NewInfo(protocol, req.Channel, connKey, func() error {
		sink.close()
		if cleanup == nil {
			return nil
		}
		return cleanup()
	}))
	sink.activate(true)

	d.logger.Info("subscription created",
		"subscription_id", id,
		"channel", req.Channel,
		"protocol", protocol.String(),
		"connection_id", connKey,
	)

	resp := core.Success(req.ID)
	resp.SubscriptionID = id
	resp.Data = encode(map[string]string{
		"subscriptionId": id,
		"channel":        req.Channel,
		"protocol":       protocol.String(),
	})
	return resp
}

func (d *Dispatcher) unsubscribe(req core.Request) core.Response {
	if req.SubscriptionID == "" {
		return core.Failure(req.ID, fmt.Errorf("%w: subscriptionId is required", core.ErrInvalidRequest))
	}

	unlock := d.locks.Lock(req.SubscriptionID)
	removed, err := d.teardown(req.SubscriptionID)
	unlock()

	if err != nil {
		d.logger.Warn("subscription cleanup failed", "subscription_id", req.SubscriptionID, "error", err)
	}
	if removed {
		d.logger.Info("subscription removed", "subscription_id", req.SubscriptionID)
	}

	resp := core.Success(req.ID)
	resp.SubscriptionID = req.SubscriptionID
	resp.Removed = &removed
	return resp
}

// teardown runs the subscription's cleanup and then drops it from the
// registry. The caller holds the id's lock.
func (d *Dispatcher) teardown(id string) (bool, error) {
	info, ok := d.subs.Get(id)
	if !ok {
		return false, nil
	}
	err := runCleanup(id, info)
	d.subs.Remove(id)
	return true, err
}

func runCleanup(id string, info subscription.Info) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panic: subscription_id=%s: %v", id, r)
		}
	}()
	if cerr := info.Cleanup(); cerr != nil {
		return fmt.Errorf("cleanup: subscription_id=%s: %w", id, cerr)
	}
	return nil
}

func (d *Dispatcher) disconnect(req core.Request) core.Response {
	if req.ConnectionID == "" && req.Credentials.InstanceURL == "" && req.Credentials.AccessToken == "" {
		return core.Failure(req.ID, fmt.Errorf("%w: connectionId or credentials required", core.ErrInvalidRequest))
	}
	connKey := core.ConnectionKey(req.ConnectionID, req.Credentials)

	removed := 0
	for _, e := range d.subs.ByConnection(connKey) {
		unlock := d.locks.Lock(e.ID)
		ok, err := d.teardown(e.ID)
		unlock()
		if err != nil {
			d.logger.Warn("subscription cleanup failed", "subscription_id", e.ID, "error", err)
		}
		if ok {
			removed++
		}
	}

	d.logger.Info("connection disconnected", "connection_id", connKey, "removed", removed)
	resp := core.Success(req.ID)
	resp.Data = encode(map[string]int{"removed": removed})
	return resp
}

func (d *Dispatcher) publish(ctx context.Context, req core.Request) core.Response {
	if req.Channel == "" {
		return core.Failure(req.ID, fmt.Errorf("%w: channel is required", core.ErrInvalidRequest))
	}
	if err := req.Credentials.Validate(); err != nil {
		return core.Failure(req.ID, err)
	}

	body := req.Payload
	if req.PayloadID != "" {
		data, err := d.takePayload(req.PayloadID)
		if err != nil {
			return core.Failure(req.ID, err)
		}
		body = data
	}
	if len(body) == 0 {
		return core.Failure(req.ID, fmt.Errorf("%w: payload is required", core.ErrInvalidRequest))
	}

	protocol := routing.ResolveProtocol(req.Channel)
	adapter, err := d.adapters.Adapter(protocol)
	if err != nil {
		return core.Failure(req.ID, err)
	}

	result, err := adapter.Publish(ctx, core.PublishRequest{
		ConnectionID: core.ConnectionKey(req.ConnectionID, req.Credentials),
		Channel:      req.Channel,
		Payload:      body,
		Credentials:  req.Credentials,
	})
	if err != nil {
		d.logger.Warn("publish failed", "channel", req.Channel, "protocol", protocol.String(), "error", err)
		return core.Failure(req.ID, err)
	}
	return d.withData(req.ID, encode(result))
}

func (d *Dispatcher) fetch(ctx context.Context, req core.Request) core.Response {
	if req.HTTP == nil {
		return core.Failure(req.ID, fmt.Errorf("%w: request is required", core.ErrInvalidRequest))
	}
	httpReq := *req.HTTP
	if req.PayloadID != "" {
		data, err := d.takePayload(req.PayloadID)
		if err != nil {
			return core.Failure(req.ID, err)
		}
		httpReq.Body = string(data)
	}

	resp, err := d.relay.Do(ctx, httpReq)
	if d.metrics != nil {
		d.metrics.RelayRequests.WithLabelValues(metrics.Outcome(err == nil)).Inc()
	}
	if err != nil {
		return core.Failure(req.ID, err)
	}
	return d.withData(req.ID, encode(resp))
}

func (d *Dispatcher) checkConnection(ctx context.Context, req core.Request) core.Response {
	if err := req.Credentials.Validate(); err != nil {
		return core.Failure(req.ID, err)
	}

	protocol := core.ProtocolCometD
	switch {
	case req.Protocol != "":
		p, ok := core.ParseProtocol(req.Protocol)
		if !ok {
			return core.Failure(req.ID, fmt.Errorf("%w: protocol %q", core.ErrInvalidRequest, req.Protocol))
		}
		protocol = p
	case req.Channel != "":
		protocol = routing.ResolveProtocol(req.Channel)
	}

	adapter, err := d.adapters.Adapter(protocol)
	if err != nil {
		return core.Failure(req.ID, err)
	}
	if err := adapter.Check(ctx, core.CheckRequest{
		ConnectionID: core.ConnectionKey(req.ConnectionID, req.Credentials),
		Channel:      req.Channel,
		Credentials:  req.Credentials,
	}); err != nil {
		return core.Failure(req.ID, err)
	}

	resp := core.Success(req.ID)
	resp.Data = encode(map[string]any{"connected": true, "protocol": protocol.String()})
	return resp
}

func (d *Dispatcher) transferInfo(req core.Request) core.Response {
	info, err := d.transfer.Start()
	if err != nil {
		return core.Failure(req.ID, err)
	}
	resp := core.Success(req.ID)
	resp.Port = info.Port
	resp.Secret = info.Secret
	resp.Data = encode(info)
	return resp
}

func (d *Dispatcher) bulkWait(ctx context.Context, req core.Request) core.Response {
	job, err := d.bulk.WaitForJob(ctx, req.Credentials, req.JobID)
	if err != nil {
		return core.Failure(req.ID, err)
	}
	return d.withData(req.ID, encode(job))
}

func (d *Dispatcher) bulkResults(ctx context.Context, req core.Request) core.Response {
	chunk, err := d.bulk.Results(ctx, req.Credentials, req.JobID, req.Locator, req.MaxRecords)
	if err != nil {
		return core.Failure(req.ID, err)
	}

	if encoded := encode(chunk); !d.payloads.ShouldUseLargePayload(encoded) {
		resp := core.Success(req.ID)
		resp.Data = encoded
		return resp
	}

	info, err := d.transfer.Start()
	if err != nil {
		return core.Failure(req.ID, err)
	}
	resp := core.Success(req.ID)
	resp.PayloadID = d.payloads.Store(chunk.Data)
	resp.Port = info.Port
	resp.Secret = info.Secret
	resp.Data = encode(map[string]any{
		"locator":         chunk.Locator,
		"numberOfRecords": chunk.NumberOfRecords,
	})
	return resp
}

// withData returns data inline when it fits the message channel, otherwise
// stores it and returns a handle plus the transfer server coordinates.
func (d *Dispatcher) withData(id string, data []byte) core.Response {
	resp := core.Success(id)
	if !d.payloads.ShouldUseLargePayload(data) {
		resp.Data = data
		return resp
	}

	info, err := d.transfer.Start()
	if err != nil {
		return core.Failure(id, err)
	}
	resp.PayloadID = d.payloads.Store(data)
	resp.Port = info.Port
	resp.Secret = info.Secret
	d.logger.Debug("response routed through payload store", "request_id", id, "payload_id", resp.PayloadID, "size", len(data))
	return resp
}

func (d *Dispatcher) takePayload(id string) ([]byte, error) {
	data, ok := d.payloads.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: payload not found: payload_id=%s", core.ErrInvalidRequest, id)
	}
	d.payloads.Delete(id)
	return data, nil
}

func (d *Dispatcher) send(msg any) {
	p := d.push.Load()
	if p == nil {
		d.logger.Debug("no push target attached, dropping message")
		return
	}
	if err := (*p)(msg); err != nil {
		d.logger.Warn("push failed", "error", err)
	}
}

func (d *Dispatcher) deliver(evt core.Event) {
	msg := core.EventMessage{
		Type:           core.MessageEvent,
		SubscriptionID: evt.SubscriptionID,
		Channel:        evt.Channel,
		Protocol:       evt.Protocol,
		EventID:        evt.EventID,
		ReplayID:       evt.ReplayID,
	}

	// The size that matters is the frame the browser receives, which can be
	// larger than the raw payload once JSON escaping is applied.
	msg.Data = evt.Payload
	mode := modeInline
	if encoded, err := json.Marshal(msg); err != nil || d.payloads.ShouldUseLargePayload(encoded) {
		msg.Data = nil
		info, err := d.transfer.Start()
		if err != nil {
			d.logger.Error("cannot deliver large event", "subscription_id", evt.SubscriptionID, "error", err)
			d.send(core.SubscriptionErrorMessage{
				Type:           core.MessageSubscriptionError,
				SubscriptionID: evt.SubscriptionID,
				Channel:        evt.Channel,
				Error:          err.Error(),
			})
			return
		}
		msg.PayloadID = d.payloads.Store(evt.Payload)
		msg.Port = info.Port
		msg.Secret = info.Secret
		mode = modePayload
	}

	d.eventLog.Log(evt, mode)
	if d.metrics != nil {
		d.metrics.EventsDelivered.WithLabelValues(evt.Protocol.String(), mode).Inc()
	}
	d.send(msg)

	if d.transfer != nil && d.transfer.Clients() > 0 {
		if data, err := json.Marshal(evt); err == nil {
			d.transfer.Broadcast(data)
		}
	}
}

func (d *Dispatcher) fail(s *subscriptionSink, err error) {
	if !s.wait() {
		return
	}

	unlock := d.locks.Lock(s.id)
	if s.closed.Load() {
		unlock()
		return
	}
	info, ok := d.subs.Get(s.id)
	if ok {
		d.subs.Remove(s.id)
	}
	unlock()

	if ok {
		if cerr := runCleanup(s.id, info); cerr != nil {
			d.logger.Warn("subscription cleanup failed", "subscription_id", s.id, "error", cerr)
		}
	}

	d.logger.Error("subscription failed",
		"subscription_id", s.id,
		"channel", s.channel,
		"protocol", s.protocol.String(),
		"error", err,
	)
	if d.metrics != nil {
		d.metrics.SubscriptionFailures.WithLabelValues(s.protocol.String()).Inc()
	}
	d.send(core.SubscriptionErrorMessage{
		Type:           core.MessageSubscriptionError,
		SubscriptionID: s.id,
		Channel:        s.channel,
		Error:          err.Error(),
	})
}

// Shutdown runs every registered cleanup, clears the registry, stops the
// transfer server and closes the adapters. A failing or panicking cleanup
// does not prevent the rest from running.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	entries := d.subs.Entries()
	d.logger.Info("shutting down dispatcher", "subscriptions", len(entries))

	var errs error
	for _, e := range entries {
		errs = multierr.Append(errs, runCleanup(e.ID, e.Info))
	}
	d.subs.Clear()

	if d.transfer != nil {
		errs = multierr.Append(errs, d.transfer.Stop(ctx))
	}
	if d.adapters != nil {
		errs = multierr.Append(errs, d.adapters.CloseAdapters(ctx))
	}
	return errs
}

func encode(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return data
}
