// Package metrics 定义采集与推送流程的 Prometheus 指标。
// 所有方法对 nil 接收者安全，测试中可直接传 nil。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "newsrelay"

type Metrics struct {
	SourceFetchTotal *prometheus.CounterVec
	SourceItemsTotal *prometheus.CounterVec
	RecordsInserted  prometheus.Counter
	RecordsSkipped   *prometheus.CounterVec

	DeliveriesTotal  *prometheus.CounterVec
	DeliveryAttempts prometheus.Counter

	CyclesTotal    *prometheus.CounterVec
	PhaseDuration  *prometheus.HistogramVec
	LastCycleEnded prometheus.Gauge
}

// New 创建并注册指标；reg 为 nil 时注册到默认 Registerer
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SourceFetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "source_fetch_total",
			Help:      "Source fetch attempts by result (ok, fetch_error, extract_error)",
		}, []string{"source", "result"}),
		SourceItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "source_items_total",
			Help:      "Raw items extracted per source",
		}, []string{"source"}),
		RecordsInserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "records_inserted_total",
			Help:      "Records newly inserted into the store",
		}),
		RecordsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "records_skipped_total",
			Help:      "Records dropped before insert by reason",
		}, []string{"reason"}),

		DeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "records_total",
			Help:      "Delivery outcomes by result (delivered, failed, fatal, retired)",
		}, []string{"result"}),
		DeliveryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Notifier send attempts including retries",
		}),

		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Completed cycles by mode and result",
		}, []string{"mode", "result"}),
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "phase_duration_seconds",
			Help:      "Duration of the fetch and drain phases",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s ~ 17min
		}, []string{"phase"}),
		LastCycleEnded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last cycle finished",
		}),
	}
}

func (m *Metrics) SourceFetched(source, result string, items int) {
	if m == nil {
		return
	}
	m.SourceFetchTotal.WithLabelValues(source, result).Inc()
	if items > 0 {
		m.SourceItemsTotal.WithLabelValues(source).Add(float64(items))
	}
}

func (m *Metrics) Inserted() {
	if m == nil {
		return
	}
	m.RecordsInserted.Inc()
}

func (m *Metrics) Skipped(reason string) {
	if m == nil {
		return
	}
	m.RecordsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Attempt() {
	if m == nil {
		return
	}
	m.DeliveryAttempts.Inc()
}

func (m *Metrics) Delivery(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DeliveriesTotal.WithLabelValues(result).Add(float64(n))
}

// Cycle 记录一次周期结束
func (m *Metrics) Cycle(mode, result string) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(mode, result).Inc()
	m.LastCycleEnded.SetToCurrentTime()
}

// ObservePhase 用法：defer m.ObservePhase("fetch", time.Now())
func (m *Metrics) ObservePhase(phase string, start time.Time) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}
