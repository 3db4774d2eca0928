package obs

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	appInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "recon",
			Subsystem: "app",
			Name:      "info",
			Help:      "Static app info for deployment verification.",
		},
		[]string{"service", "version"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recon",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	schedulerPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon",
			Subsystem: "scheduler",
			Name:      "polls_total",
			Help:      "Scheduler poll cycles by result.",
		},
		[]string{"result"},
	)
	schedulerJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon",
			Subsystem: "scheduler",
			Name:      "jobs_total",
			Help:      "Stage jobs executed by stage and result.",
		},
		[]string{"stage", "result"},
	)
	schedulerJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recon",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Stage job duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"stage"},
	)
	schedulerRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon",
			Subsystem: "scheduler",
			Name:      "retries_total",
			Help:      "Failed jobs put back to pending.",
		},
		[]string{"stage", "reason"},
	)
	schedulerInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "recon",
			Subsystem: "scheduler",
			Name:      "inflight_jobs",
			Help:      "Jobs currently holding a concurrency slot.",
		},
	)

	validationFieldsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon",
			Subsystem: "validation",
			Name:      "fields_total",
			Help:      "Validated fields by status and severity.",
		},
		[]string{"status", "severity"},
	)
	goldenRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon",
			Subsystem: "golden",
			Name:      "records_total",
			Help:      "Golden records written by data source.",
		},
		[]string{"source"},
	)
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon",
			Subsystem: "ingestion",
			Name:      "uploads_total",
			Help:      "Uploaded files by result.",
		},
		[]string{"result"},
	)
	ocrRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon",
			Subsystem: "ocr",
			Name:      "requests_total",
			Help:      "OCR service calls by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)
	ocrRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recon",
			Subsystem: "ocr",
			Name:      "request_duration_seconds",
			Help:      "OCR service call latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(
		appInfo, httpRequestsTotal, httpRequestDuration,
		schedulerPollsTotal, schedulerJobsTotal, schedulerJobDuration, schedulerRetriesTotal, schedulerInflight,
		validationFieldsTotal, goldenRecordsTotal, uploadsTotal, ocrRequestsTotal, ocrRequestDuration,
	)
}

func SetAppInfo(service, version string) {
	svc := strings.TrimSpace(service)
	if svc == "" {
		svc = "mortgage-recon"
	}
	ver := strings.TrimSpace(version)
	if ver == "" {
		ver = "dev"
	}
	appInfo.WithLabelValues(svc, ver).Set(1)
}

// GinMetrics records request count and latency labelled by the matched route pattern.
func GinMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, code).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func RecordPoll(err error) {
	schedulerPollsTotal.WithLabelValues(result(err)).Inc()
}

func RecordJob(stage string, start time.Time, err error) {
	schedulerJobsTotal.WithLabelValues(stage, result(err)).Inc()
	schedulerJobDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func RecordRetry(stage, reason string) {
	schedulerRetriesTotal.WithLabelValues(stage, reason).Inc()
}

func IncInflight() { schedulerInflight.Inc() }
func DecInflight() { schedulerInflight.Dec() }

func RecordValidationField(status, severity string) {
	if severity == "" {
		severity = "none"
	}
	validationFieldsTotal.WithLabelValues(status, severity).Inc()
}

func RecordGoldenRecord(source string) {
	goldenRecordsTotal.WithLabelValues(source).Inc()
}

func RecordUpload(err error) {
	uploadsTotal.WithLabelValues(result(err)).Inc()
}

func RecordOCRRequest(endpoint string, start time.Time, err error) {
	ocrRequestsTotal.WithLabelValues(endpoint, result(err)).Inc()
	ocrRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
