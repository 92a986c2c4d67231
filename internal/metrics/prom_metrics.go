package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects ledger activity for Prometheus.
type Recorder struct {
	ops      *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	uploads  *prometheus.CounterVec
	accrued  prometheus.Counter
	claimed  prometheus.Counter
	machines prometheus.Gauge
}

// NewRecorder registers the ledger collectors with reg, or with the default
// registerer when reg is nil.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agrox_operations_total",
			Help: "Ledger operations by name and result.",
		}, []string{"operation", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agrox_operation_duration_seconds",
			Help:    "Time from request to committed transaction.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"operation"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agrox_data_uploads_total",
			Help: "Readings accepted, split by whether an image was attached.",
		}, []string{"image"}),
		accrued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agrox_rewards_accrued_total",
			Help: "Reward tokens credited to machine balances.",
		}),
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agrox_rewards_claimed_total",
			Help: "Reward tokens paid out by successful claims.",
		}),
		machines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agrox_registered_machines",
			Help: "Machines present in the registry.",
		}),
	}
	reg.MustRegister(r.ops, r.latency, r.uploads, r.accrued, r.claimed, r.machines)
	return r
}

// ObserveOperation records the outcome and duration of one operation.
func (r *Recorder) ObserveOperation(op string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ops.WithLabelValues(op, result).Inc()
	r.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (r *Recorder) Upload(withImage bool, reward uint64) {
	if r == nil {
		return
	}
	label := "false"
	if withImage {
		label = "true"
	}
	r.uploads.WithLabelValues(label).Inc()
	r.accrued.Add(float64(reward))
}

func (r *Recorder) Accrued(reward uint64) {
	if r == nil {
		return
	}
	r.accrued.Add(float64(reward))
}

func (r *Recorder) Claimed(amount uint64) {
	if r == nil {
		return
	}
	r.claimed.Add(float64(amount))
}

func (r *Recorder) SetMachines(n uint64) {
	if r == nil {
		return
	}
	r.machines.Set(float64(n))
}
