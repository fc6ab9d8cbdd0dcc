package goAuthCore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
//
// IDs are dense and stable within a release; exporters iterate them through
// metrics/export/internaldefs.
type MetricID uint16

const (
	// MetricLoginSuccess counts completed logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts logins rejected by the provider or directory.
	MetricLoginFailure
	// MetricLogout counts logouts, forced or explicit.
	MetricLogout
	// MetricRefreshSuccess counts token refreshes that replaced the session.
	MetricRefreshSuccess
	// MetricRefreshFailure counts refreshes that failed or were superseded.
	MetricRefreshFailure
	// MetricSessionExpired counts forced logouts after a failed background refresh.
	MetricSessionExpired
	// MetricSessionRestored counts sessions resumed from the session store.
	MetricSessionRestored
	// MetricRoleSwitch counts successful role switches.
	MetricRoleSwitch
	// MetricRoleSwitchFailure counts rejected role switches.
	MetricRoleSwitchFailure
	// MetricTenantSwitch counts successful tenant switches.
	MetricTenantSwitch
	// MetricTenantSwitchFailure counts rejected tenant switches.
	MetricTenantSwitchFailure
	// MetricImpersonationStart counts impersonation sessions started.
	MetricImpersonationStart
	// MetricImpersonationStop counts impersonation sessions ended.
	MetricImpersonationStop
	// MetricImpersonationDenied counts impersonation attempts refused.
	MetricImpersonationDenied
	// MetricProfileUpdate counts profile updates accepted by the directory.
	MetricProfileUpdate
	// MetricPasswordResetRequest counts password reset emails requested.
	MetricPasswordResetRequest
	// MetricSecurityPrefsUpdate counts persisted security preference changes.
	MetricSecurityPrefsUpdate
	// MetricSecurityPrefsRollback counts optimistic preference changes rolled back.
	MetricSecurityPrefsRollback
	// MetricMFAEnrollStarted counts new TOTP enrollments.
	MetricMFAEnrollStarted
	// MetricMFAVerifySuccess counts verified enrollments.
	MetricMFAVerifySuccess
	// MetricMFAVerifyFailure counts rejected verification codes.
	MetricMFAVerifyFailure
	// MetricMFADisabled counts MFA disables.
	MetricMFADisabled
	// MetricMFAReauthFailure counts disables refused by password re-authentication.
	MetricMFAReauthFailure
	// MetricMFAMetadataHealed counts status reads that rewrote stale metadata flags.
	MetricMFAMetadataHealed
	// MetricMFAReconciliationAmbiguity counts metadata flags that could not be interpreted.
	MetricMFAReconciliationAmbiguity
	// MetricMFAOrphansSwept counts unverified factors removed by a sweep.
	MetricMFAOrphansSwept
	// MetricPermissionDenied counts negative permission checks.
	MetricPermissionDenied
	// MetricPermissionInvalidFormat counts checks against malformed permission strings.
	MetricPermissionInvalidFormat
	// MetricSuperadminBypass counts permission checks granted by the superadmin role.
	MetricSuperadminBypass
	// MetricLoginLatency is the login round-trip histogram.
	MetricLoginLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. A nil or disabled Metrics
// accepts every call and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a Metrics configured from cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram for id. Only histogram IDs are accepted.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || !isHistogram(id) {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters. Histograms are included only when latency
// recording is enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for id := MetricID(0); id < metricIDCount; id++ {
			if !isHistogram(id) {
				continue
			}
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func isHistogram(id MetricID) bool {
	return id == MetricLoginLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
