package domain

// RoutingScore holds one candidate's computed score together with the reasons
// that contributed to it. Confidence is derived from the score and bounded to
// [0,1].
type RoutingScore struct {
	WorkerID   string
	Score      float64
	Reasons    []string
	Confidence float64
	// Rank is the candidate's position after total ordering (0 = best).
	Rank int
}

// RoutingDecision is the router's answer for one request. The router always
// returns a routable decision; when no candidate clears the confidence floor
// it substitutes the fallback worker and sets LowConfidence.
type RoutingDecision struct {
	Selected      RoutingScore
	Candidates    []RoutingScore
	LowConfidence bool
	FallbackUsed  bool
}

// RoutingRequest is the router's input: free-form request text plus any
// requester-supplied resources.
type RoutingRequest struct {
	Text      string
	Resources []ResourceRef
	Context   map[string]any
}
