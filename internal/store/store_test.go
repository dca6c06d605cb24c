package store_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/pipeline/domain"
	"github.com/forgeline/pipeline/internal/store"
)

func run(repo string, seq uint64, stages ...domain.Stage) domain.PipelineRun {
	return domain.PipelineRun{
		ID:         "run-" + repo,
		Repository: repo,
		Seq:        seq,
		Stages:     stages,
	}
}

func TestGetBeforeAnyPutReportsAbsence(t *testing.T) {
	s := store.New()

	_, ok := s.Get("octocat/hello-world")
	assert.False(t, ok)
	assert.Empty(t, s.LastTriggered())
}

func TestPutThenGetReturnsLatest(t *testing.T) {
	s := store.New()

	require.True(t, s.Put(run("octocat/hello-world", 1, domain.Stage{ID: domain.StageIDCheckout, Status: domain.StageInProgress})))
	require.True(t, s.Put(run("octocat/hello-world", 1, domain.Stage{ID: domain.StageIDCheckout, Status: domain.StageSuccess})))

	got, ok := s.Get("octocat/hello-world")
	require.True(t, ok)
	assert.Equal(t, domain.StageSuccess, got.Stages[0].Status)
	assert.Equal(t, "octocat/hello-world", s.LastTriggered())
}

func TestPutRejectsStaleSequence(t *testing.T) {
	s := store.New()

	require.True(t, s.Put(run("octocat/hello-world", 2, domain.Stage{ID: domain.StageIDCheckout, Status: domain.StageSuccess})))

	accepted := s.Put(run("octocat/hello-world", 1, domain.Stage{ID: domain.StageIDCheckout, Status: domain.StageFailed}))
	assert.False(t, accepted)

	got, ok := s.Get("octocat/hello-world")
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.Seq)
	assert.Equal(t, domain.StageSuccess, got.Stages[0].Status)
}

func TestPutIsolatesCallerMutation(t *testing.T) {
	s := store.New()

	original := run("octocat/hello-world", 1, domain.Stage{ID: domain.StageIDCheckout, Status: domain.StageInProgress})
	require.True(t, s.Put(original))

	// Mutating the caller's copy after the put must not leak into the store.
	original.Stages[0].Status = domain.StageFailed

	got, _ := s.Get("octocat/hello-world")
	assert.Equal(t, domain.StageInProgress, got.Stages[0].Status)
}

func TestKeysAreIndependent(t *testing.T) {
	s := store.New()

	require.True(t, s.Put(run("a/one", 1)))
	require.True(t, s.Put(run("b/two", 1)))

	_, ok := s.Get("a/one")
	assert.True(t, ok)
	_, ok = s.Get("b/two")
	assert.True(t, ok)
	assert.Equal(t, "b/two", s.LastTriggered())
}

// Interleaved puts from an old and a new run for the same key: whatever the
// scheduling, the store must end up holding the newest run's snapshot.
func TestConcurrentPutsNeverRegress(t *testing.T) {
	s := store.New()

	var wg sync.WaitGroup
	for seq := uint64(1); seq <= 20; seq++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Put(run("octocat/hello-world", seq))
			}
		}(seq)
	}
	wg.Wait()

	got, ok := s.Get("octocat/hello-world")
	require.True(t, ok)
	assert.Equal(t, uint64(20), got.Seq)
}

func TestMetricsLifecycleIsIndependent(t *testing.T) {
	s := store.New()

	// Metrics with no run, and a run with no metrics, are both valid.
	rps := 4.2
	s.PutMetrics("octocat/hello-world", domain.MetricsSnapshot{RequestsPerSecond: &rps})

	m := s.GetMetrics("octocat/hello-world")
	require.NotNil(t, m.RequestsPerSecond)
	assert.InDelta(t, 4.2, *m.RequestsPerSecond, 1e-9)

	empty := s.GetMetrics("nobody/nothing")
	assert.False(t, empty.Connected())
}
