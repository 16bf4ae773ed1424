/* SPDX-License-Identifier: Apache-2.0
 *
 * Copyright 2023 Damian Peckett <damian@pecke.tt>.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ldap_gateway"

// PrometheusRecorder records gateway events as Prometheus metrics.
type PrometheusRecorder struct {
	gatherer      prometheus.Gatherer
	bindsTotal    *prometheus.CounterVec
	searchesTotal *prometheus.CounterVec
	searchEntries prometheus.Histogram
	cacheLookups  *prometheus.CounterVec
	backendFetch  *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the gateway metrics with a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return NewPrometheusRecorderWithRegistry(prometheus.NewRegistry())
}

// NewPrometheusRecorderWithRegistry registers the gateway metrics with reg.
func NewPrometheusRecorderWithRegistry(reg *prometheus.Registry) *PrometheusRecorder {
	r := &PrometheusRecorder{
		gatherer: reg,
		bindsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "binds_total",
			Help:      "Total bind requests by principal kind and result.",
		}, []string{"kind", "result"}),
		searchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total search requests by result.",
		}, []string{"result"}),
		searchEntries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_entries",
			Help:      "Number of entries returned per successful search.",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Snapshot cache lookups by outcome.",
		}, []string{"outcome"}),
		backendFetch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_fetch_seconds",
			Help:      "Duration of backend snapshot fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
	}

	reg.MustRegister(
		r.bindsTotal,
		r.searchesTotal,
		r.searchEntries,
		r.cacheLookups,
		r.backendFetch,
	)

	return r
}

func (r *PrometheusRecorder) RecordBind(kind, result string) {
	r.bindsTotal.WithLabelValues(kind, result).Inc()
}

func (r *PrometheusRecorder) RecordSearch(result string, entries int) {
	r.searchesTotal.WithLabelValues(result).Inc()
	if result == "success" {
		r.searchEntries.Observe(float64(entries))
	}
}

func (r *PrometheusRecorder) RecordCacheLookup(outcome string) {
	r.cacheLookups.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) RecordBackendFetch(d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.backendFetch.WithLabelValues(result).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

var _ Recorder = (*PrometheusRecorder)(nil)
