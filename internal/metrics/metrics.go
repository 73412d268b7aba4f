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

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sftools_proxy"

type Metrics struct {
	registry *prometheus.Registry

	Requests             *prometheus.CounterVec
	EventsDelivered      *prometheus.CounterVec
	SubscriptionFailures *prometheus.CounterVec
	RelayRequests        *prometheus.CounterVec
	TransferRejected     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "requests_total",
				Help:      "Requests received on the primary message channel",
			},
			[]string{"op", "outcome"},
		),
		EventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "delivered_total",
				Help:      "Upstream events delivered to the browser",
			},
			[]string{"protocol", "mode"},
		),
		SubscriptionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "subscriptions",
				Name:      "failures_total",
				Help:      "Subscriptions ended by an upstream failure",
			},
			[]string{"protocol"},
		),
		RelayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "requests_total",
				Help:      "HTTP requests relayed on behalf of the browser",
			},
			[]string{"outcome"},
		),
		TransferRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "unauthorized_total",
				Help:      "Transfer server requests rejected for a missing or stale secret",
			},
		),
	}

	m.registry.MustRegister(
		m.Requests,
		m.EventsDelivered,
		m.SubscriptionFailures,
		m.RelayRequests,
		m.TransferRejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// TrackGauges exposes live counts read from the owning components at
// scrape time.
func (m *Metrics) TrackGauges(activeSubscriptions, storedPayloads func() int) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "active",
			Help:      "Subscriptions currently registered",
		}, func() float64 { return float64(activeSubscriptions()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "payloads",
			Name:      "stored",
			Help:      "Large payloads waiting to be fetched",
		}, func() float64 { return float64(storedPayloads()) }),
	)
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func Outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
