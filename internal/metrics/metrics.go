// Package metrics holds the Prometheus instruments for the workflow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	TransitionsTotal *prometheus.CounterVec
	UploadBytes      prometheus.Histogram

	PackBuildsTotal    *prometheus.CounterVec
	PackBuildDuration  prometheus.Histogram
	PackFilesTotal     *prometheus.CounterVec
	PackArchiveBytes   prometheus.Histogram
	ShareLinksTotal    *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
}

// New registers every instrument with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prearrival_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prearrival_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prearrival_document_transitions_total",
			Help: "Document record transitions by kind and resulting status.",
		}, []string{"kind", "status"}),
		UploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "prearrival_upload_bytes",
			Help:    "Size of accepted document uploads.",
			Buckets: []float64{1 << 10, 16 << 10, 64 << 10, 128 << 10, 256 << 10, 512000},
		}),
		PackBuildsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prearrival_pack_builds_total",
			Help: "Package assembly attempts by outcome.",
		}, []string{"outcome"}),
		PackBuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "prearrival_pack_build_duration_seconds",
			Help:    "Time to fetch and serialize a package.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		PackFilesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prearrival_pack_files_total",
			Help: "Files considered for packages by result (included, skipped).",
		}, []string{"result"}),
		PackArchiveBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "prearrival_pack_archive_bytes",
			Help:    "Size of assembled archives.",
			Buckets: prometheus.ExponentialBuckets(64<<10, 2, 10),
		}),
		ShareLinksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prearrival_share_links_total",
			Help: "Share links produced, by source (uploaded, cached).",
		}, []string{"source"}),
		NotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prearrival_notifications_total",
			Help: "Emails sent by kind and status.",
		}, []string{"kind", "status"}),
	}
}

// The Record helpers are nil-safe so components can run without metrics.

func (m *Metrics) RecordHTTPRequest(route, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) RecordTransition(kind, status string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordUpload(size int64) {
	if m == nil {
		return
	}
	m.UploadBytes.Observe(float64(size))
}

func (m *Metrics) RecordPackBuild(outcome string, included, skipped, archiveBytes int, duration time.Duration) {
	if m == nil {
		return
	}
	m.PackBuildsTotal.WithLabelValues(outcome).Inc()
	m.PackBuildDuration.Observe(duration.Seconds())
	m.PackFilesTotal.WithLabelValues("included").Add(float64(included))
	m.PackFilesTotal.WithLabelValues("skipped").Add(float64(skipped))
	if archiveBytes > 0 {
		m.PackArchiveBytes.Observe(float64(archiveBytes))
	}
}

func (m *Metrics) RecordShareLink(source string) {
	if m == nil {
		return
	}
	m.ShareLinksTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.NotificationsTotal.WithLabelValues(kind, status).Inc()
}
