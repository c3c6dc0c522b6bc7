package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// Orchestration metrics
	PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "testnet_deploy_phase_duration_seconds",
			Help:    "Provisioning phase duration in seconds by phase and result",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"phase", "result"},
	)

	PlaybookRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testnet_deploy_playbook_runs_total",
			Help: "Total number of playbook runs by playbook and result",
		},
		[]string{"playbook", "result"},
	)

	SSHChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testnet_deploy_ssh_checks_total",
			Help: "Total number of SSH availability probes by result",
		},
		[]string{"result"},
	)

	// Network operation metrics
	NodeRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testnet_deploy_node_restarts_total",
			Help: "Total number of node service restarts issued by result",
		},
		[]string{"result"},
	)

	RegistryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testnet_deploy_registry_failures_total",
			Help: "Total number of VMs whose node registry could not be retrieved",
		},
		[]string{"inventory_type"},
	)

	// Inventory metrics
	InventoryVMs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "testnet_deploy_inventory_vms",
			Help: "Number of VMs in the last generated inventory by role",
		},
		[]string{"role"},
	)
)

func init() {
	prometheus.MustRegister(PhaseDuration)
	prometheus.MustRegister(PlaybookRunsTotal)
	prometheus.MustRegister(SSHChecksTotal)
	prometheus.MustRegister(NodeRestartsTotal)
	prometheus.MustRegister(RegistryFailuresTotal)
	prometheus.MustRegister(InventoryVMs)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result maps an error onto the result label
func Result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// Timer measures an operation for a histogram
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on a histogram vector
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
