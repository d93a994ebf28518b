package router

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/stewardai/steward-oss/pkg/domain"
	"github.com/stewardai/steward-oss/pkg/registry"
)

func newRouter(t *testing.T, descs ...domain.WorkerDescriptor) *Router {
	t.Helper()
	reg := registry.New(nil)
	for _, d := range descs {
		require.NoError(t, reg.Register(d))
	}
	return New(reg, DefaultWeights(), nil)
}

func TestRoute_ChartScenario(t *testing.T) {
	r := newRouter(t, domain.WorkerDescriptor{
		ID:             "chart",
		Name:           "Chart Generator",
		Keywords:       []string{"chart"},
		TriggerPhrases: []string{"create a chart"},
		Priority:       8,
	})

	decision, err := r.Route(domain.RoutingRequest{Text: "please create a chart of sales"})
	require.NoError(t, err)

	assert.Equal(t, "chart", decision.Selected.WorkerID)
	assert.GreaterOrEqual(t, decision.Selected.Score, 20.0)
	assert.Greater(t, decision.Selected.Confidence, 0.3)
	assert.False(t, decision.LowConfidence)
}

func TestRoute_FallbackOnlyRegistry(t *testing.T) {
	r := newRouter(t, domain.WorkerDescriptor{
		ID:       "general",
		Name:     "General Assistant",
		Priority: 1,
		Fallback: true,
	})

	decision, err := r.Route(domain.RoutingRequest{Text: "do something unusual"})
	require.NoError(t, err)

	assert.Equal(t, "general", decision.Selected.WorkerID)
	assert.Less(t, decision.Selected.Confidence, 0.3)
	assert.True(t, decision.LowConfidence)
	assert.True(t, decision.FallbackUsed)
}

func TestRoute_FallbackSubstitution(t *testing.T) {
	r := newRouter(t,
		domain.WorkerDescriptor{
			ID:       "anomaly",
			Keywords: []string{"anomaly"},
			Priority: 9,
		},
		domain.WorkerDescriptor{
			ID:       "general",
			Priority: 1,
			Fallback: true,
		},
	)

	// Nothing matches "anomaly"; the top candidate scores below the floor,
	// so the decision routes to the designated fallback.
	decision, err := r.Route(domain.RoutingRequest{Text: "hello there"})
	require.NoError(t, err)

	assert.True(t, decision.LowConfidence)
	assert.True(t, decision.FallbackUsed)
	assert.Equal(t, "general", decision.Selected.WorkerID)
}

func TestRoute_EmptyRegistry(t *testing.T) {
	r := New(registry.New(nil), DefaultWeights(), nil)

	_, err := r.Route(domain.RoutingRequest{Text: "anything"})
	require.ErrorIs(t, err, domain.ErrWorkerNotFound)
}

func TestRoute_ResourceScoring(t *testing.T) {
	desc := domain.WorkerDescriptor{
		ID:       "analysis",
		Keywords: []string{"analyze"},
		Priority: 10,
		Resources: domain.ResourceRequirements{
			RequiresResource: true,
			AllowedTypes:     []string{"csv"},
		},
	}

	r := newRouter(t, desc)

	withResource, err := r.Route(domain.RoutingRequest{
		Text:      "analyze this",
		Resources: []domain.ResourceRef{{Type: "csv", Name: "sales.csv"}},
	})
	require.NoError(t, err)

	withoutResource, err := r.Route(domain.RoutingRequest{Text: "analyze this"})
	require.NoError(t, err)

	// +5 for supplied vs -10 for missing, at priority 10 the gap is 15.
	assert.InDelta(t, 15.0, withResource.Selected.Score-withoutResource.Selected.Score, 1e-9)
}

func TestRoute_ValidatorVeto(t *testing.T) {
	r := newRouter(t, domain.WorkerDescriptor{
		ID:       "picky",
		Priority: 10,
	})
	r.SetValidator("picky", func(_ domain.WorkerDescriptor, req domain.RoutingRequest) bool {
		return len(req.Text) > 100
	})

	decision, err := r.Route(domain.RoutingRequest{Text: "short"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, decision.Selected.Score)
	assert.Contains(t, decision.Selected.Reasons, "validator declined")
}

func TestRoute_KeywordCountNotBoolean(t *testing.T) {
	r := newRouter(t, domain.WorkerDescriptor{
		ID:       "chart",
		Keywords: []string{"chart"},
		Priority: 10,
	})

	single, err := r.Route(domain.RoutingRequest{Text: "one chart"})
	require.NoError(t, err)
	double, err := r.Route(domain.RoutingRequest{Text: "chart and another chart"})
	require.NoError(t, err)

	assert.InDelta(t, 2.0, double.Selected.Score-single.Selected.Score, 1e-9)
}

func TestRoute_Deterministic(t *testing.T) {
	r := newRouter(t,
		domain.WorkerDescriptor{ID: "a", Keywords: []string{"data"}, Priority: 5},
		domain.WorkerDescriptor{ID: "b", Keywords: []string{"data"}, Priority: 5},
	)

	req := domain.RoutingRequest{Text: "crunch the data"}
	first, err := r.Route(req)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := r.Route(req)
		require.NoError(t, err)
		assert.Equal(t, first.Selected.WorkerID, again.Selected.WorkerID)
		for j := range first.Candidates {
			assert.Equal(t, first.Candidates[j].WorkerID, again.Candidates[j].WorkerID)
		}
	}
}

// Candidates are totally ordered by (score desc, priority desc, registration
// order asc) for arbitrary registries and requests.
func TestRoute_TotalOrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		numWorkers := rapid.IntRange(1, 12).Draw(rt, "num_workers")

		reg := registry.New(nil)
		regOrder := make(map[string]int, numWorkers)
		priorities := make(map[string]int, numWorkers)
		for i := 0; i < numWorkers; i++ {
			id := fmt.Sprintf("w%d", i)
			desc := domain.WorkerDescriptor{
				ID:       id,
				Priority: rapid.IntRange(1, 10).Draw(rt, fmt.Sprintf("priority_%d", i)),
				Keywords: rapid.SliceOfN(
					rapid.SampledFrom([]string{"chart", "anomaly", "data", "report", "trend"}),
					0, 3,
				).Draw(rt, fmt.Sprintf("keywords_%d", i)),
			}
			regOrder[id] = i
			priorities[id] = desc.Priority
			if err := reg.Register(desc); err != nil {
				rt.Fatalf("register: %v", err)
			}
		}

		r := New(reg, DefaultWeights(), nil)
		text := rapid.SampledFrom([]string{
			"please create a chart",
			"find the anomaly in this data",
			"summarize the report",
			"hello",
		}).Draw(rt, "text")

		decision, err := r.Route(domain.RoutingRequest{Text: text})
		if err != nil {
			rt.Fatalf("route: %v", err)
		}

		cands := decision.Candidates
		if len(cands) != numWorkers {
			rt.Fatalf("expected %d candidates, got %d", numWorkers, len(cands))
		}
		for i := 1; i < len(cands); i++ {
			prev, cur := cands[i-1], cands[i]
			switch {
			case prev.Score > cur.Score:
				// ordered by score
			case prev.Score == cur.Score && priorities[prev.WorkerID] > priorities[cur.WorkerID]:
				// tie broken by priority
			case prev.Score == cur.Score &&
				priorities[prev.WorkerID] == priorities[cur.WorkerID] &&
				regOrder[prev.WorkerID] < regOrder[cur.WorkerID]:
				// tie broken by registration order
			default:
				rt.Fatalf("ordering violated at %d: %+v then %+v", i, prev, cur)
			}
			if cur.Rank != i {
				rt.Fatalf("rank mismatch at %d: %d", i, cur.Rank)
			}
		}
	})
}
