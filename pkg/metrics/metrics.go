// pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the client-side counters. A nil *Metrics is valid
// and records nothing, so library users can opt out.
type Metrics struct {
	Logins      *prometheus.CounterVec
	Refreshes   *prometheus.CounterVec
	Submissions *prometheus.CounterVec
	AuthRetries prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qjob_logins_total",
			Help: "Login attempts against the remote API by outcome.",
		}, []string{"outcome"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qjob_token_refreshes_total",
			Help: "Access token refresh attempts by outcome.",
		}, []string{"outcome"}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qjob_job_submissions_total",
			Help: "Job submissions by outcome.",
		}, []string{"outcome"}),
		AuthRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "qjob_auth_retries_total",
			Help: "Submissions that needed the single 401 re-auth retry.",
		}),
	}
}

func (m *Metrics) Login(outcome string) {
	if m != nil {
		m.Logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Refresh(outcome string) {
	if m != nil {
		m.Refreshes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Submission(outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AuthRetry() {
	if m != nil {
		m.AuthRetries.Inc()
	}
}
