// Package router ranks candidate workers for a request using a deterministic
// scoring function over descriptor metadata. The router never fails on a weak
// match; it substitutes the designated fallback worker and flags the decision
// as low-confidence instead.
package router

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/stewardai/steward-oss/pkg/domain"
	"github.com/stewardai/steward-oss/pkg/registry"
)

// Weights holds the tunable scoring constants. The defaults mirror the
// shipped configuration; operators can override them per deployment.
type Weights struct {
	TriggerPhrase   float64 `yaml:"trigger_phrase"`
	Keyword         float64 `yaml:"keyword"`
	ResourceMatch   float64 `yaml:"resource_match"`
	ResourceMissing float64 `yaml:"resource_missing"`
	ValidatorAccept float64 `yaml:"validator_accept"`
	ConfidenceScale float64 `yaml:"confidence_scale"`
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	PriorityCeiling float64 `yaml:"priority_ceiling"`
}

// DefaultWeights returns the shipped scoring constants.
func DefaultWeights() Weights {
	return Weights{
		TriggerPhrase:   20,
		Keyword:         2,
		ResourceMatch:   5,
		ResourceMissing: -10,
		ValidatorAccept: 3,
		ConfidenceScale: 30,
		ConfidenceFloor: 0.3,
		PriorityCeiling: 10,
	}
}

// Validate checks the weights are usable.
func (w Weights) Validate() error {
	if w.ConfidenceScale <= 0 {
		return fmt.Errorf("confidence_scale must be positive, got %v", w.ConfidenceScale)
	}
	if w.PriorityCeiling <= 0 {
		return fmt.Errorf("priority_ceiling must be positive, got %v", w.PriorityCeiling)
	}
	if w.ConfidenceFloor < 0 || w.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be in [0, 1], got %v", w.ConfidenceFloor)
	}
	return nil
}

// Validator is an optional per-worker hook that can veto a candidate for a
// specific request. The default behavior is to accept every request.
type Validator func(desc domain.WorkerDescriptor, req domain.RoutingRequest) bool

// Router scores and ranks workers from the registry.
type Router struct {
	registry   *registry.Registry
	weights    Weights
	validators map[string]Validator
	logger     *slog.Logger
}

// New creates a router over the given registry.
func New(reg *registry.Registry, weights Weights, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if weights.ConfidenceScale <= 0 {
		weights.ConfidenceScale = DefaultWeights().ConfidenceScale
	}
	if weights.PriorityCeiling <= 0 {
		weights.PriorityCeiling = DefaultWeights().PriorityCeiling
	}
	return &Router{
		registry:   reg,
		weights:    weights,
		validators: make(map[string]Validator),
		logger:     logger,
	}
}

// SetValidator installs a custom validation hook for one worker.
func (r *Router) SetValidator(workerID string, v Validator) {
	r.validators[workerID] = v
}

// Route scores every registered worker and returns a routable decision.
// The only error case is an empty registry, which is a configuration fault
// rather than a weak match.
func (r *Router) Route(req domain.RoutingRequest) (domain.RoutingDecision, error) {
	candidates := r.registry.List()
	if len(candidates) == 0 {
		return domain.RoutingDecision{}, fmt.Errorf("%w: registry is empty", domain.ErrWorkerNotFound)
	}

	scored := make([]domain.RoutingScore, 0, len(candidates))
	order := make(map[string]int, len(candidates))
	priority := make(map[string]int, len(candidates))
	for idx, desc := range candidates {
		order[desc.ID] = idx
		priority[desc.ID] = desc.Priority
		scored = append(scored, r.scoreCandidate(desc, req))
	}

	// Total order: score desc, priority desc, registration order asc.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if priority[scored[i].WorkerID] != priority[scored[j].WorkerID] {
			return priority[scored[i].WorkerID] > priority[scored[j].WorkerID]
		}
		return order[scored[i].WorkerID] < order[scored[j].WorkerID]
	})
	for i := range scored {
		scored[i].Rank = i
	}

	decision := domain.RoutingDecision{
		Selected:   scored[0],
		Candidates: scored,
	}

	if decision.Selected.Confidence < r.weights.ConfidenceFloor {
		decision.LowConfidence = true
		if fb, ok := r.registry.Fallback(); ok && fb.ID != decision.Selected.WorkerID {
			for _, cand := range scored {
				if cand.WorkerID == fb.ID {
					decision.Selected = cand
					decision.FallbackUsed = true
					break
				}
			}
		} else if ok {
			decision.FallbackUsed = true
		}
		r.logger.Debug("routing below confidence floor",
			"selected", decision.Selected.WorkerID,
			"confidence", decision.Selected.Confidence,
			"fallback_used", decision.FallbackUsed,
		)
	}

	return decision, nil
}

// scoreCandidate computes one worker's score. Pure: identical inputs always
// produce identical output.
func (r *Router) scoreCandidate(desc domain.WorkerDescriptor, req domain.RoutingRequest) domain.RoutingScore {
	text := strings.ToLower(req.Text)
	var score float64
	var reasons []string

	for _, phrase := range desc.TriggerPhrases {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" {
			continue
		}
		if strings.Contains(text, p) {
			score += r.weights.TriggerPhrase
			reasons = append(reasons, fmt.Sprintf("trigger phrase %q", phrase))
		}
	}

	for _, keyword := range desc.Keywords {
		k := strings.ToLower(strings.TrimSpace(keyword))
		if k == "" {
			continue
		}
		if n := strings.Count(text, k); n > 0 {
			score += r.weights.Keyword * float64(n)
			reasons = append(reasons, fmt.Sprintf("keyword %q x%d", keyword, n))
		}
	}

	if desc.Resources.RequiresResource {
		if hasResourceOfType(req.Resources, desc.Resources.AllowedTypes) {
			score += r.weights.ResourceMatch
			reasons = append(reasons, "required resource supplied")
		} else {
			score += r.weights.ResourceMissing
			reasons = append(reasons, "required resource missing")
		}
	}

	if r.validatorAccepts(desc, req) {
		score += r.weights.ValidatorAccept
		reasons = append(reasons, "validator accepted")
	} else {
		reasons = append(reasons, "validator declined")
	}

	score *= float64(desc.Priority) / r.weights.PriorityCeiling

	confidence := score / r.weights.ConfidenceScale
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	return domain.RoutingScore{
		WorkerID:   desc.ID,
		Score:      score,
		Reasons:    reasons,
		Confidence: confidence,
	}
}

func (r *Router) validatorAccepts(desc domain.WorkerDescriptor, req domain.RoutingRequest) bool {
	v, ok := r.validators[desc.ID]
	if !ok {
		return true
	}
	return v(desc, req)
}

func hasResourceOfType(resources []domain.ResourceRef, allowed []string) bool {
	if len(resources) == 0 {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, res := range resources {
		for _, t := range allowed {
			if strings.EqualFold(res.Type, t) {
				return true
			}
		}
	}
	return false
}
