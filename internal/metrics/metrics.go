// Package metrics exposes Prometheus collectors for the security core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "warden"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	loginAttempts     *prometheus.CounterVec
	lockouts          *prometheus.CounterVec
	lockoutReleases   *prometheus.CounterVec
	mfaVerifications  *prometheus.CounterVec
	sessionsCreated   prometheus.Counter
	sessionEvictions  prometheus.Counter
	sessionsEnded     *prometheus.CounterVec
	tokenValidations  *prometheus.CounterVec
	riskScores        prometheus.Histogram
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	cleanupRows       *prometheus.CounterVec
	emailOTPThrottled prometheus.Counter
}

// New registers all collectors on a fresh registry along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		loginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		lockouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockouts_total",
			Help:      "Lockouts created, by reason.",
		}, []string{"reason"}),
		lockoutReleases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockout_releases_total",
			Help:      "Lockouts released before expiry, by reason.",
		}, []string{"reason"}),
		mfaVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mfa_verifications_total",
			Help:      "Second factor verifications by method and result.",
		}, []string{"method", "result"}),
		sessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions admitted.",
		}),
		sessionEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_evictions_total",
			Help:      "Sessions terminated to stay under the concurrent session cap.",
		}),
		sessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_terminated_total",
			Help:      "Sessions terminated, by reason.",
		}, []string{"reason"}),
		tokenValidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Access token validations by result.",
		}, []string{"result"}),
		riskScores: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "login_risk_score",
			Help:      "Distribution of computed login risk scores.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		cleanupRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_rows_total",
			Help:      "Rows removed or expired by the cleanup job, by table.",
		}, []string{"table"}),
		emailOTPThrottled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_otp_throttled_total",
			Help:      "Email OTP sends rejected by the per-user rate limit.",
		}),
	}
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LoginAttempt(outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Lockout(reason string) {
	if m == nil {
		return
	}
	m.lockouts.WithLabelValues(reason).Inc()
}

func (m *Metrics) LockoutReleased(reason string) {
	if m == nil {
		return
	}
	m.lockoutReleases.WithLabelValues(reason).Inc()
}

func (m *Metrics) MFAVerification(method string, success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.mfaVerifications.WithLabelValues(method, result).Inc()
}

func (m *Metrics) SessionCreated(evicted int) {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.sessionEvictions.Add(float64(evicted))
}

func (m *Metrics) SessionsTerminated(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sessionsEnded.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) TokenValidation(result string) {
	if m == nil {
		return
	}
	m.tokenValidations.WithLabelValues(result).Inc()
}

func (m *Metrics) RiskScore(score float64) {
	if m == nil {
		return
	}
	m.riskScores.Observe(score)
}

func (m *Metrics) HTTPRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (m *Metrics) CleanupRows(table string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.cleanupRows.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) EmailOTPThrottled() {
	if m == nil {
		return
	}
	m.emailOTPThrottled.Inc()
}
