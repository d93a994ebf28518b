// Package trust maintains one learned reliability record per worker. The
// persisted incremental score moves in small bounded steps per observed
// event; a separate composite diagnostic is derived from per-factor
// breakdowns. Mutation is single-writer; reads return snapshot copies.
package trust

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/stewardai/steward-oss/pkg/domain"
)

// latencyWindow bounds the per-worker latency history used for the
// performance-consistency factor.
const latencyWindow = 50

// Deltas holds the tunable per-event score adjustments.
type Deltas struct {
	Success   float64 `yaml:"success"`
	Failure   float64 `yaml:"failure"`
	Error     float64 `yaml:"error"`
	Timeout   float64 `yaml:"timeout"`
	Violation float64 `yaml:"violation"`
	Feedback  float64 `yaml:"feedback"`
}

// DefaultDeltas returns the shipped per-event adjustments.
func DefaultDeltas() Deltas {
	return Deltas{
		Success:   0.02,
		Failure:   -0.02,
		Error:     -0.03,
		Timeout:   -0.01,
		Violation: -0.05,
		Feedback:  0.005,
	}
}

type record struct {
	rec         domain.TrustRecord
	latencies   []time.Duration
	feedbackSum int64
	feedbackN   int64
	// decayedWeeks counts the idle weeks already charged for the current
	// inactivity stretch, so repeated Decay calls never double-charge.
	decayedWeeks int
}

// Store owns all trust records. Pass it by handle into the router and gate;
// it is never an ambient singleton.
type Store struct {
	mu      sync.Mutex
	records map[string]*record
	deltas  Deltas
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates an empty trust store.
func NewStore(deltas Deltas, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		records: make(map[string]*record),
		deltas:  deltas,
		logger:  logger,
		now:     time.Now,
	}
}

// Ensure creates the record for a worker at the initial score if it does not
// exist yet. Called at registration time.
func (s *Store) Ensure(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(workerID)
}

func (s *Store) ensureLocked(workerID string) *record {
	if r, ok := s.records[workerID]; ok {
		return r
	}
	r := &record{
		rec: domain.TrustRecord{
			WorkerID:   workerID,
			Score:      domain.TrustInitial,
			LastActive: s.now(),
		},
	}
	s.records[workerID] = r
	return r
}

// RecordExecution applies one execution report: the status-derived event
// delta, an extra violation delta when governance recorded one, and the
// latency sample for the consistency factor.
func (s *Store) RecordExecution(report domain.ExecutionReport) domain.TrustRecord {
	event := eventForReport(report)

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.ensureLocked(report.WorkerID)
	r.rec.Executions++
	r.rec.LastActive = s.now()
	r.decayedWeeks = 0

	switch event {
	case domain.TrustEventSuccess:
		r.rec.Successes++
		s.applyLocked(r, s.deltas.Success)
	case domain.TrustEventFailure:
		r.rec.Failures++
		s.applyLocked(r, s.deltas.Failure)
	case domain.TrustEventError:
		r.rec.Failures++
		s.applyLocked(r, s.deltas.Error)
	case domain.TrustEventTimeout:
		r.rec.Failures++
		s.applyLocked(r, s.deltas.Timeout)
	}

	if report.Violation {
		r.rec.Violations++
		s.applyLocked(r, s.deltas.Violation)
	}

	if report.WorkerDuration > 0 {
		r.latencies = append(r.latencies, report.WorkerDuration)
		if len(r.latencies) > latencyWindow {
			r.latencies = r.latencies[len(r.latencies)-latencyWindow:]
		}
	}

	s.refreshFactorsLocked(r)
	return r.rec
}

// RecordFeedback applies one user feedback signal. Ratings of 4 and above
// nudge the score up, 2 and below nudge it down, 3 is neutral. Returns the
// updated score.
func (s *Store) RecordFeedback(fb domain.Feedback) (float64, error) {
	if fb.Rating < 1 || fb.Rating > 5 {
		return 0, fmt.Errorf("%w: rating %d outside [1,5]", domain.ErrConfigInvalid, fb.Rating)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.ensureLocked(fb.WorkerID)
	r.feedbackSum += int64(fb.Rating)
	r.feedbackN++

	switch {
	case fb.Rating >= 4:
		s.applyLocked(r, s.deltas.Feedback)
	case fb.Rating <= 2:
		s.applyLocked(r, -s.deltas.Feedback)
	}

	s.refreshFactorsLocked(r)
	return r.rec.Score, nil
}

// Get returns a snapshot copy of one worker's record.
func (s *Store) Get(workerID string) (domain.TrustRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[workerID]
	if !ok {
		return domain.TrustRecord{}, fmt.Errorf("%w: no trust record for %s", domain.ErrWorkerNotFound, workerID)
	}
	return r.rec, nil
}

// Snapshot returns copies of every record.
func (s *Store) Snapshot() []domain.TrustRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.TrustRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.rec)
	}
	return out
}

// Composite computes the diagnostic factor score:
// 0.4·successRate + 0.2·performanceConsistency + 0.2·userFeedback +
// 0.2·(1 − violationRate).
func (s *Store) Composite(workerID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[workerID]
	if !ok {
		return 0, fmt.Errorf("%w: no trust record for %s", domain.ErrWorkerNotFound, workerID)
	}
	f := r.rec.Factors
	return 0.4*f.SuccessRate + 0.2*f.PerformanceConsistency + 0.2*f.UserFeedback + 0.2*f.SafetyScore, nil
}

// Decay applies inactivity decay: -1% of the current score per full week of
// inactivity beyond the first 7 idle days, floored at 0.
func (s *Store) Decay(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		idle := now.Sub(r.rec.LastActive)
		if idle <= 7*24*time.Hour {
			continue
		}
		weeks := int((idle - 7*24*time.Hour) / (7 * 24 * time.Hour))
		newWeeks := weeks - r.decayedWeeks
		if newWeeks <= 0 {
			continue
		}
		r.decayedWeeks = weeks
		decayed := r.rec.Score * math.Pow(0.99, float64(newWeeks))
		if decayed < 0 {
			decayed = 0
		}
		if decayed != r.rec.Score {
			s.logger.Debug("trust decay applied",
				"worker_id", r.rec.WorkerID,
				"idle_weeks", weeks,
				"new_weeks", newWeeks,
				"score", decayed,
			)
		}
		r.rec.Score = roundScore(decayed)
	}
}

func (s *Store) applyLocked(r *record, delta float64) {
	next := r.rec.Score + delta
	if next > 1 {
		next = 1
	}
	if next < 0 {
		next = 0
	}
	// Rounded so repeated small deltas land exactly on milestone values such
	// as the graduation boundary.
	r.rec.Score = roundScore(next)
}

func (s *Store) refreshFactorsLocked(r *record) {
	if r.rec.Executions > 0 {
		r.rec.Factors.SuccessRate = float64(r.rec.Successes) / float64(r.rec.Executions)
		r.rec.Factors.SafetyScore = 1 - float64(r.rec.Violations)/float64(r.rec.Executions)
	}
	r.rec.Factors.PerformanceConsistency = consistency(r.latencies)
	if r.feedbackN > 0 {
		avg := float64(r.feedbackSum) / float64(r.feedbackN)
		r.rec.Factors.UserFeedback = (avg - 1) / 4
	}
}

// consistency is 1 − min(1, stdDev/mean) over the recent latency window.
func consistency(latencies []time.Duration) float64 {
	if len(latencies) < 2 {
		return 1
	}
	var sum float64
	for _, l := range latencies {
		sum += float64(l)
	}
	mean := sum / float64(len(latencies))
	if mean == 0 {
		return 1
	}
	var variance float64
	for _, l := range latencies {
		d := float64(l) - mean
		variance += d * d
	}
	variance /= float64(len(latencies))
	ratio := math.Sqrt(variance) / mean
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

func eventForReport(report domain.ExecutionReport) domain.TrustEvent {
	switch report.Status {
	case domain.TaskSucceeded:
		return domain.TrustEventSuccess
	case domain.TaskTimedOut:
		return domain.TrustEventTimeout
	default:
		if report.WorkerErrored {
			return domain.TrustEventError
		}
		return domain.TrustEventFailure
	}
}

func roundScore(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
