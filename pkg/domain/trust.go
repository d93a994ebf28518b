package domain

import "time"

// Trust score bounds and milestones. Workers start at TrustInitial and are
// considered graduated once the incremental score reaches TrustGraduated.
const (
	TrustInitial   = 0.4
	TrustGraduated = 0.6
)

// TrustRecord is the learned reliability record for one worker. The Score
// field is the persisted incremental score, distinct from the composite
// diagnostic computed from Factors.
type TrustRecord struct {
	WorkerID   string
	Score      float64
	Executions int64
	Successes  int64
	Failures   int64
	Violations int64
	Factors    TrustFactors
	LastActive time.Time
}

// TrustFactors is the per-factor diagnostic breakdown backing the composite
// score. All factors are normalized to [0,1].
type TrustFactors struct {
	SuccessRate            float64
	PerformanceConsistency float64
	UserFeedback           float64
	SafetyScore            float64
}

// Graduated reports whether the worker has crossed the graduation threshold.
func (r TrustRecord) Graduated() bool {
	return r.Score >= TrustGraduated
}

// TrustEvent classifies one observed execution or feedback signal.
type TrustEvent string

const (
	TrustEventSuccess   TrustEvent = "success"
	TrustEventFailure   TrustEvent = "failure"
	TrustEventError     TrustEvent = "error"
	TrustEventTimeout   TrustEvent = "timeout"
	TrustEventViolation TrustEvent = "violation"
)
