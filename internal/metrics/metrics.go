package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 秒杀链路与缓存的指标集合，显式构造并注入，不使用全局注册。
type Metrics struct {
	admission   *prometheus.CounterVec
	fulfillment *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	cacheLookup *prometheus.CounterVec
	rebuild     *prometheus.CounterVec
}

// New 创建并注册全部指标。
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		admission: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_admission_total",
				Help: "Seckill admission outcomes",
			},
			[]string{"result"},
		),
		fulfillment: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_fulfillment_total",
				Help: "Asynchronous voucher order fulfillment outcomes",
			},
			[]string{"result"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "seckill_queue_depth",
				Help: "Pending order tasks waiting for the fulfillment worker",
			},
		),
		cacheLookup: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_lookup_total",
				Help: "Cache-aside lookups by strategy and result",
			},
			[]string{"strategy", "result"},
		),
		rebuild: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_rebuild_total",
				Help: "Background logical-expire cache rebuilds",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(m.admission, m.fulfillment, m.queueDepth, m.cacheLookup, m.rebuild)
	return m
}

// NewNop 返回注册到一次性 Registry 的指标，测试与不关心指标的调用方使用。
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) Admission(result string) {
	m.admission.WithLabelValues(result).Inc()
}

func (m *Metrics) Fulfillment(result string) {
	m.fulfillment.WithLabelValues(result).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) CacheLookup(strategy, result string) {
	m.cacheLookup.WithLabelValues(strategy, result).Inc()
}

func (m *Metrics) Rebuild(result string) {
	m.rebuild.WithLabelValues(result).Inc()
}
