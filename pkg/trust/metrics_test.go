package trust

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/stewardai/steward-oss/pkg/domain"
)

func TestCollectorExportsScores(t *testing.T) {
	store := NewStore(DefaultDeltas(), nil)
	store.RecordExecution(domain.ExecutionReport{
		WorkerID:       "chart-worker",
		Status:         domain.TaskSucceeded,
		WorkerDuration: 40 * time.Millisecond,
	})

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(store)))

	expected := `
# HELP steward_trust_score Current incremental trust score per worker.
# TYPE steward_trust_score gauge
steward_trust_score{worker_id="chart-worker"} 0.42
`
	require.NoError(t, testutil.CollectAndCompare(reg, strings.NewReader(expected), "steward_trust_score"))
	require.Equal(t, 4, testutil.CollectAndCount(reg))
}
