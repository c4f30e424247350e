// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the HTTP surface and
// the change feed.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	feedEvents      *prometheus.CounterVec
	feedSubscribers prometheus.Gauge
	feedDropped     prometheus.Counter
}

// NewMetrics registers dinesync instruments on the given registry.
// Pass nil to use the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dinesync_http_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		feedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dinesync_feed_events_total",
			Help: "Change events published to the realtime feed, by table and op.",
		}, []string{"table", "op"}),
		feedSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dinesync_feed_subscribers",
			Help: "Currently connected feed subscribers.",
		}),
		feedDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "dinesync_feed_dropped_subscribers_total",
			Help: "Subscribers disconnected for falling behind the feed.",
		}),
	}
}

// GinMiddleware records request latency per route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestDuration.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the metrics endpoint.
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
