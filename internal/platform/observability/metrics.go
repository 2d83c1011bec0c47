package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/ogurasousui/codex-userstore/internal/core/user"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 操作結果のラベル値です。
const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation"
	OutcomeNotFound   = "not_found"
	OutcomeStorage    = "storage"
)

// Metrics はユーザーストア操作の Prometheus メトリクスをまとめます。
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewMetrics は独立した registry とメトリクスを初期化します。
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "userstore_operations_total",
		Help: "操作種別と結果ごとのユーザーストア操作数。",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "userstore_operation_duration_seconds",
		Help:    "操作種別ごとのユーザーストア操作の所要時間。",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	registry.MustRegister(operations, duration)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		operationsTotal:   operations,
		operationDuration: duration,
	}
}

// Handler は /metrics 用の http.Handler を返します。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Observe は操作 1 回分の結果と所要時間を記録します。
func (m *Metrics) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, Outcome(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Outcome はエラーを結果ラベルに分類します。
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, user.ErrValidation):
		return OutcomeValidation
	case errors.Is(err, user.ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeStorage
	}
}
