package metrics

import "github.com/prometheus/client_golang/prometheus"

// Lookup sources reported by GateMetrics.
const (
	GateSourceCache  = "cache"
	GateSourceStore  = "store"
	GateSourceFailed = "failed"
)

// GateMetrics records entitlement lookups by where the answer came from.
type GateMetrics struct {
	lookups *prometheus.CounterVec
	denials prometheus.Counter
}

// NewGateMetrics registers the gate metrics on the provided registerer.
func NewGateMetrics(reg prometheus.Registerer) *GateMetrics {
	if reg == nil {
		return &GateMetrics{}
	}
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "entitlement_gate_lookups_total",
		Help: "Entitlement checks, by answer source.",
	}, []string{"source"})
	denials := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entitlement_gate_denials_total",
		Help: "Entitlement checks that denied access.",
	})
	reg.MustRegister(lookups, denials)
	return &GateMetrics{lookups: lookups, denials: denials}
}

// IncLookup counts one lookup answered from source.
func (g *GateMetrics) IncLookup(source string) {
	if g == nil || g.lookups == nil {
		return
	}
	g.lookups.WithLabelValues(normalizeLabel(source)).Inc()
}

// IncDenial counts one denied check.
func (g *GateMetrics) IncDenial() {
	if g == nil || g.denials == nil {
		return
	}
	g.denials.Inc()
}
