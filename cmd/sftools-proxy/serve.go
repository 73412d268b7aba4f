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
	"context"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/bct8925/sftools-sub004/internal/bulk"
	"github.com/bct8925/sftools-sub004/internal/logging"
	"github.com/bct8925/sftools-sub004/internal/metrics"
	"github.com/bct8925/sftools-sub004/internal/payload"
	"github.com/bct8925/sftools-sub004/internal/relay"
	"github.com/bct8925/sftools-sub004/internal/session"
	"github.com/bct8925/sftools-sub004/internal/subscription"
	"github.com/bct8925/sftools-sub004/internal/transfer"
	"github.com/bct8925/sftools-sub004/pkg/config"
	"github.com/bct8925/sftools-sub004/pkg/plugins"
	"github.com/bct8925/sftools-sub004/pkg/plugins/cometd"
	"github.com/bct8925/sftools-sub004/pkg/plugins/native"
	"github.com/bct8925/sftools-sub004/pkg/plugins/pubsub"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	ConfigPath string
	Origins    []string
	In         io.Reader
	Out        io.Writer
}

func serve(ctx context.Context, opts serveOptions) error {
	configPath := config.ResolvePath(opts.ConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	logger, closer := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}, level)
	defer closer.Close()

	m := metrics.New()

	store := payload.NewStore(
		payload.WithThreshold(cfg.Payload.Threshold),
		payload.WithRetention(cfg.Payload.Retention),
		payload.WithLogger(logger.With("component", "payload")),
	)
	defer store.Close()

	subs := subscription.NewRegistry()
	m.TrackGauges(subs.Count, store.Count)

	policy := relay.NewHostPolicy(cfg.Relay.AllowedHosts)
	relayClient := relay.New(cfg.Relay.Timeout, policy, logger.With("component", "relay"))

	origins := append(append([]string(nil), cfg.Transfer.AllowedOrigins...), opts.Origins...)
	transferServer := transfer.NewServer(transfer.Options{
		Payloads:       store,
		Relay:          relayClient,
		Metrics:        m,
		AllowedOrigins: origins,
		Logger:         logger.With("component", "transfer"),
	})

	bulkClient := bulk.New(bulk.Options{
		Timeout:         cfg.Bulk.Timeout,
		InitialInterval: cfg.Bulk.InitialInterval,
		MaxInterval:     cfg.Bulk.MaxInterval,
		MaxWait:         cfg.Bulk.MaxWait,
		Logger:          logger.With("component", "bulk"),
	})

	registry := plugins.NewRegistry(logger)
	registry.RegisterAdapter(pubsub.New(pubsub.Config{
		Endpoint:   cfg.PubSub.Endpoint,
		Insecure:   cfg.PubSub.Insecure,
		BatchSize:  cfg.PubSub.BatchSize,
		ProbeTopic: cfg.PubSub.ProbeTopic,
	}, logger.With("component", "pubsub")))
	registry.RegisterAdapter(cometd.New(cometd.Config{
		APIVersion:    cfg.CometD.APIVersion,
		Timeout:       cfg.CometD.Timeout,
		RetryInterval: cfg.CometD.RetryInterval,
	}, logger.With("component", "cometd")))

	eventLog := logging.NewEventLogger(logger.With("component", "events"), cfg.Events.LogEnabled)

	dispatcher := session.NewDispatcher(session.Options{
		Adapters:      registry,
		Subscriptions: subs,
		Payloads:      store,
		Transfer:      transferServer,
		Relay:         relayClient,
		Bulk:          bulkClient,
		Metrics:       m,
		EventLog:      eventLog,
		Logger:        logger.With("component", "dispatcher"),
		Version:       version,
	})

	registry.RegisterEntrypoint(native.New("browser", opts.In, opts.Out, cfg.Native.MaxInFlight, logger.With("component", "native")))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if configPath != "" {
		watcher := config.NewWatcher(configPath, func(next *config.Config) {
			level.Set(logging.ParseLevel(next.Log.Level))
			policy.Set(next.Relay.AllowedHosts)
			eventLog.SetEnabled(next.Events.LogEnabled)
		}, logger)
		go watcher.Watch(ctx)
	}

	logger.Info("proxy started", "version", version, "config", configPath)

	exited := registry.StartEntrypoints(ctx, dispatcher)
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-exited:
		// The browser closes stdin when the extension disconnects.
		logger.Info("native channel closed")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := registry.StopEntrypoints(shutdownCtx); err != nil {
		logger.Warn("stopping entrypoints", "error", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dispatcher shutdown reported errors", "error", err)
	}

	logger.Info("proxy stopped")
	return nil
}
