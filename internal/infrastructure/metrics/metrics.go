package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics 账本指标
type Metrics struct {
	Entries       *prometheus.CounterVec
	Amount        *prometheus.CounterVec
	Burned        prometheus.Counter
	Expired       prometheus.Counter
	Errors        *prometheus.CounterVec
	Retries       *prometheus.CounterVec
	SweepDuration prometheus.Histogram
	OutboxSent    *prometheus.CounterVec
}

// New 在给定的 Registerer 上注册指标
// 测试中每个用例传入独立的 prometheus.NewRegistry()，避免重复注册
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Entries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladocoin",
			Name:      "ledger_entries_total",
			Help:      "Ledger entries posted, by direction and type.",
		}, []string{"direction", "type"}),
		Amount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladocoin",
			Name:      "ledger_amount_total",
			Help:      "Absolute LadoCoin amount posted, by direction.",
		}, []string{"direction"}),
		Burned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ladocoin",
			Name:      "burned_on_spend_total",
			Help:      "LadoCoin burned at spend time.",
		}),
		Expired: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ladocoin",
			Name:      "expired_total",
			Help:      "LadoCoin removed by credit expiration.",
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladocoin",
			Name:      "ledger_errors_total",
			Help:      "Rejected ledger operations, by operation and reason.",
		}, []string{"op", "reason"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladocoin",
			Name:      "ledger_retries_total",
			Help:      "Transparent retries after an expiration race or version conflict.",
		}, []string{"op"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ladocoin",
			Name:      "expiration_sweep_seconds",
			Help:      "Duration of expiration sweep runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		OutboxSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladocoin",
			Name:      "outbox_messages_total",
			Help:      "Outbox deliveries, by topic and result.",
		}, []string{"topic", "result"}),
	}
}

// AddDecimal 把 decimal 金额累加到计数器
func AddDecimal(c prometheus.Counter, d decimal.Decimal) {
	f, _ := d.Abs().Float64()
	c.Add(f)
}
