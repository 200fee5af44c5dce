package deskgate

import (
	"time"

	"github.com/MrEthical07/deskgate/internal/metrics"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	MetricSignInSuccess MetricID = iota
	MetricSignInFailure
	MetricSignInBanned
	MetricCaptchaPassed
	MetricCaptchaFailed
	MetricOTPIssued
	MetricOTPVerified
	MetricOTPFailed
	MetricOTPBanned
	MetricOTPBypass
	MetricOTPDeliveryFailed
	MetricPasswordRotated
	MetricResetRequested
	MetricResetBanned
	MetricResetTokenVerified
	MetricResetTokenFailed
	MetricResetCompleted
	MetricResetDeliveryFailed
	MetricSessionCreated
	MetricSessionRefreshed
	MetricSessionInvalid
	MetricSignOut
	MetricSignOutAll
	MetricInternalError
	// MetricExchangeLatency is the latency histogram of SignIn and
	// ResetPassword, enumeration floor included.
	MetricExchangeLatency
	// MetricValidateLatency is the latency histogram of ValidateSession.
	MetricValidateLatency
	metricIDCount
)

// Metrics is the engine's lock-free counter set.
type Metrics struct {
	set *metrics.Set
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics allocates counters per cfg. Latency histograms exist only
// when both Enabled and EnableLatencyHistograms are set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		set: metrics.New(
			int(metricIDCount),
			[]int{int(MetricExchangeLatency), int(MetricValidateLatency)},
			cfg.Enabled,
			cfg.EnableLatencyHistograms,
		),
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.set.Enabled()
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.set.LatencyEnabled()
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricIDCount {
		return
	}
	m.set.Inc(int(id))
}

// Observe records d for a histogram metric; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || id >= metricIDCount {
		return
	}
	m.set.Observe(int(id), d)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.set.Value(int(id))
}

// Snapshot copies the current values. A disabled Metrics yields empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if m == nil {
		return s
	}
	counters, hists := m.set.Snapshot()
	for id, v := range counters {
		s.Counters[MetricID(id)] = v
	}
	for id, b := range hists {
		s.Histograms[MetricID(id)] = b
	}
	return s
}
