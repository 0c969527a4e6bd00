package tenantctx

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records resolution outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	resolutions *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	duration    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_tenant_context_resolutions_total",
				Help: "Tenant context resolutions by outcome",
			},
			[]string{"outcome"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_tenant_context_config_fallbacks_total",
				Help: "Override sections ignored because they were malformed",
			},
			[]string{"level", "section"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clinic_tenant_context_resolve_duration_seconds",
			Help:    "Duration of tenant context resolution in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.resolutions, m.fallbacks, m.duration)
	return m
}

func (m *Metrics) observeResolve(err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case IsNotFound(err):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	m.resolutions.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

// observeFallback labels by section kind only; entity names are dropped to
// keep label cardinality bounded.
func (m *Metrics) observeFallback(ce *ConfigurationError) {
	if m == nil {
		return
	}
	section, _, _ := strings.Cut(ce.Section, ":")
	m.fallbacks.WithLabelValues(string(ce.Level), section).Inc()
}
