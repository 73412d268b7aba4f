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

package pubsub

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/bct8925/sftools-sub004/internal/routing"
	"github.com/bct8925/sftools-sub004/pkg/core"
)

const (
	DefaultEndpoint   = "api.pubsub.salesforce.com:7443"
	DefaultBatchSize  = 100
	DefaultProbeTopic = "/event/LoginEventStream"
)

type Config struct {
	Endpoint   string
	Insecure   bool
	BatchSize  int32
	ProbeTopic string
	// DialOptions are appended to the adapter's own options.
	DialOptions []grpc.DialOption
}

// Adapter speaks the Salesforce Pub/Sub API. It keeps one client
// connection per connection key; credentials travel as per-call metadata.
type Adapter struct {
	cfg     Config
	logger  *slog.Logger
	schemas *schemaCache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	closed bool
}

func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ProbeTopic == "" {
		cfg.ProbeTopic = DefaultProbeTopic
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		cfg:     cfg,
		logger:  logger,
		schemas: newSchemaCache(),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[string]*grpc.ClientConn),
	}
}

func (a *Adapter) Protocol() core.Protocol {
	return core.ProtocolGRPC
}

func (a *Adapter) conn(key string) (*grpc.ClientConn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, core.ErrAdapterClosed
	}
	if c, ok := a.conns[key]; ok {
		return c, nil
	}

	var opts []grpc.DialOption
	if a.cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.ForceCodec(wireCodec{})))
	opts = append(opts, a.cfg.DialOptions...)

	c, err := grpc.NewClient(a.cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create pubsub client: %v", core.ErrUpstream, err)
	}
	a.conns[key] = c
	a.logger.Info("pubsub client created", "connection_id", key, "endpoint", a.cfg.Endpoint)
	return c, nil
}

func validate(creds core.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	if creds.TenantID == "" {
		return fmt.Errorf("%w: tenantId is required for the Pub/Sub API", core.ErrInvalidRequest)
	}
	return nil
}

func withAuth(ctx context.Context, creds core.Credentials) context.Context {
	return metadata.AppendToOutgoingContext(ctx,
		"accesstoken", creds.AccessToken,
		"instanceurl", strings.TrimRight(creds.InstanceURL, "/"),
		"tenantid", creds.TenantID,
	)
}

func (a *Adapter) topic(ctx context.Context, conn *grpc.ClientConn, creds core.Credentials, name string) (*TopicInfo, error) {
	info := &TopicInfo{}
	if err := conn.Invoke(withAuth(ctx, creds), methodGetTopic, &TopicRequest{TopicName: name}, info); err != nil {
		return nil, fmt.Errorf("%w: get topic %s: %v", core.ErrUpstream, name, err)
	}
	return info, nil
}

func (a *Adapter) schemaFetcher(conn *grpc.ClientConn, creds core.Credentials) schemaFetcher {
	return func(ctx context.Context, schemaID string) (string, error) {
		info := &SchemaInfo{}
		if err := conn.Invoke(withAuth(ctx, creds), methodGetSchema, &SchemaRequest{SchemaID: schemaID}, info); err != nil {
			return "", fmt.Errorf("%w: get schema %s: %v", core.ErrUpstream, schemaID, err)
		}
		return info.SchemaJSON, nil
	}
}

func fetchRequest(topic string, replay core.Replay, batch int32) (*FetchRequest, error) {
	req := &FetchRequest{TopicName: topic, NumRequested: batch}
	switch replay.NormalizedPreset() {
	case core.ReplayEarliest:
		req.ReplayPreset = replayPresetEarliest
	case core.ReplayCustom:
		id, err := base64.StdEncoding.DecodeString(replay.ID)
		if err != nil || len(id) == 0 {
			return nil, fmt.Errorf("%w: replay id must be base64", core.ErrInvalidRequest)
		}
		req.ReplayPreset = replayPresetCustom
		req.ReplayID = id
	default:
		req.ReplayPreset = replayPresetLatest
	}
	return req, nil
}

// Subscribe checks the topic, opens the bidirectional Subscribe stream and
// starts a receive loop. ctx bounds the setup only; the stream lives until
// cleanup or Close.
func (a *Adapter) Subscribe(ctx context.Context, req core.SubscribeRequest, sink core.EventSink) (core.CleanupFunc, error) {
	if err := validate(req.Credentials); err != nil {
		return nil, err
	}
	first, err := fetchRequest(req.Channel, req.Replay, a.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	conn, err := a.conn(req.ConnectionID)
	if err != nil {
		return nil, err
	}

	topic, err := a.topic(ctx, conn, req.Credentials, req.Channel)
	if err != nil {
		return nil, err
	}
	if !topic.CanSubscribe {
		return nil, fmt.Errorf("%w: not allowed to subscribe to %s", core.ErrUpstream, req.Channel)
	}

	streamCtx, cancel := context.WithCancel(a.ctx)
	stream, err := conn.NewStream(withAuth(streamCtx, req.Credentials), &subscribeDesc, methodSubscribe)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: open subscribe stream: %v", core.ErrUpstream, err)
	}
	if err := stream.SendMsg(first); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: send fetch request: %v", core.ErrUpstream, err)
	}

	done := make(chan struct{})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(done)
		a.receive(streamCtx, stream, conn, req, sink)
	}()

	a.logger.Info("pubsub subscription started",
		"subscription_id", req.SubscriptionID,
		"channel", req.Channel,
		"replay", first.ReplayPreset,
	)

	return func() error {
		cancel()
		<-done
		a.logger.Info("pubsub subscription stopped", "subscription_id", req.SubscriptionID)
		return nil
	}, nil
}

func (a *Adapter) receive(ctx context.Context, stream grpc.ClientStream, conn *grpc.ClientConn, req core.SubscribeRequest, sink core.EventSink) {
	fetch := a.schemaFetcher(conn, req.Credentials)
	for {
		resp := &FetchResponse{}
		if err := stream.RecvMsg(resp); err != nil {
			if ctx.Err() == nil {
				sink.Fail(req.SubscriptionID, fmt.Errorf("%w: %s: %v", core.ErrStreamClosed, req.Channel, err))
			}
			return
		}

		for i := range resp.Events {
			evt, err := a.decode(ctx, fetch, req.Channel, &resp.Events[i])
			if err != nil {
				if ctx.Err() == nil {
					sink.Fail(req.SubscriptionID, err)
				}
				return
			}
			sink.Deliver(evt)
		}

		if resp.PendingNumRequested <= 0 {
			more := &FetchRequest{TopicName: req.Channel, NumRequested: a.cfg.BatchSize}
			if err := stream.SendMsg(more); err != nil {
				if ctx.Err() == nil {
					sink.Fail(req.SubscriptionID, fmt.Errorf("%w: request more events: %v", core.ErrStreamClosed, err))
				}
				return
			}
		}
	}
}

func (a *Adapter) decode(ctx context.Context, fetch schemaFetcher, channel string, ce *ConsumerEvent) (core.Event, error) {
	codec, err := a.schemas.codec(ctx, ce.Event.SchemaID, fetch)
	if err != nil {
		return core.Event{}, err
	}
	payload, err := decodeAvro(codec, ce.Event.Payload)
	if err != nil {
		return core.Event{}, fmt.Errorf("%w: decode event %s: %v", core.ErrUpstream, ce.Event.ID, err)
	}
	return core.Event{
		Channel:   channel,
		Protocol:  core.ProtocolGRPC,
		EventID:   ce.Event.ID,
		ReplayID:  base64.StdEncoding.EncodeToString(ce.ReplayID),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Publish encodes the JSON payload with the topic's current schema and
// publishes it as a single event.
func (a *Adapter) Publish(ctx context.Context, req core.PublishRequest) (*core.PublishResult, error) {
	if err := validate(req.Credentials); err != nil {
		return nil, err
	}
	conn, err := a.conn(req.ConnectionID)
	if err != nil {
		return nil, err
	}

	topic, err := a.topic(ctx, conn, req.Credentials, req.Channel)
	if err != nil {
		return nil, err
	}
	if !topic.CanPublish {
		return nil, fmt.Errorf("%w: not allowed to publish to %s", core.ErrUpstream, req.Channel)
	}

	codec, err := a.schemas.codec(ctx, topic.SchemaID, a.schemaFetcher(conn, req.Credentials))
	if err != nil {
		return nil, err
	}
	body, err := encodeAvro(codec, req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload does not match schema %s: %v", core.ErrInvalidRequest, topic.SchemaID, err)
	}

	eventID := uuid.New().String()
	resp := &PublishResponse{}
	err = conn.Invoke(withAuth(ctx, req.Credentials), methodPublish, &PublishRequest{
		TopicName: req.Channel,
		Events:    []ProducerEvent{{ID: eventID, SchemaID: topic.SchemaID, Payload: body}},
	}, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: publish %s: %v", core.ErrUpstream, req.Channel, err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: publish %s: empty response", core.ErrUpstream, req.Channel)
	}

	result := resp.Results[0]
	if result.Error != nil {
		return nil, fmt.Errorf("%w: publish %s: %s: %s", core.ErrUpstream, req.Channel, result.Error.codeName(), result.Error.Msg)
	}

	raw, _ := json.Marshal(map[string]string{
		"rpcId":          resp.RPCID,
		"schemaId":       topic.SchemaID,
		"correlationKey": result.CorrelationKey,
	})
	return &core.PublishResult{
		Channel:  req.Channel,
		EventID:  eventID,
		ReplayID: base64.StdEncoding.EncodeToString(result.ReplayID),
		Response: raw,
	}, nil
}

// Check resolves a topic: the requested channel when it is a Pub/Sub
// channel, otherwise the configured probe topic.
func (a *Adapter) Check(ctx context.Context, req core.CheckRequest) error {
	if err := validate(req.Credentials); err != nil {
		return err
	}
	conn, err := a.conn(req.ConnectionID)
	if err != nil {
		return err
	}

	name := req.Channel
	if !routing.IsGRPC(name) {
		name = a.cfg.ProbeTopic
	}
	_, err = a.topic(ctx, conn, req.Credentials, name)
	return err
}

// Close cancels every stream, waits for the receive loops and closes all
// client connections.
func (a *Adapter) Close(_ context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conns := a.conns
	a.conns = make(map[string]*grpc.ClientConn)
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()

	var errs error
	for key, c := range conns {
		errs = multierr.Append(errs, c.Close())
		a.logger.Info("pubsub client closed", "connection_id", key)
	}
	return errs
}
