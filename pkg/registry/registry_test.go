package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardai/steward-oss/pkg/domain"
)

func descriptor(id string, priority int) domain.WorkerDescriptor {
	return domain.WorkerDescriptor{
		ID:       id,
		Name:     id,
		Priority: priority,
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New(nil)

	require.NoError(t, r.Register(descriptor("chart", 8)))

	desc, err := r.Get("chart")
	require.NoError(t, err)
	assert.Equal(t, "chart", desc.ID)
	assert.Equal(t, 8, desc.Priority)
}

func TestRegistry_DuplicateWorker(t *testing.T) {
	r := New(nil)

	require.NoError(t, r.Register(descriptor("chart", 8)))

	err := r.Register(descriptor("chart", 5))
	require.ErrorIs(t, err, domain.ErrDuplicateWorker)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := New(nil)

	_, err := r.Get("missing")
	require.ErrorIs(t, err, domain.ErrWorkerNotFound)
}

func TestRegistry_PriorityBounds(t *testing.T) {
	r := New(nil)

	require.ErrorIs(t, r.Register(descriptor("low", 0)), domain.ErrConfigInvalid)
	require.ErrorIs(t, r.Register(descriptor("high", 11)), domain.ErrConfigInvalid)
}

func TestRegistry_UpdateReplacesDescriptor(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(descriptor("chart", 8)))
	require.NoError(t, r.Bind("chart", domain.WorkerFunc(func(context.Context, domain.WorkInput) (domain.WorkOutput, error) {
		return domain.WorkOutput{Status: "ok"}, nil
	})))

	updated := descriptor("chart", 3)
	updated.Keywords = []string{"plot"}
	require.NoError(t, r.Update(updated))

	desc, err := r.Get("chart")
	require.NoError(t, err)
	assert.Equal(t, 3, desc.Priority)
	assert.Equal(t, []string{"plot"}, desc.Keywords)

	// The binding survives a descriptor update.
	_, err = r.Worker("chart")
	require.NoError(t, err)
}

func TestRegistry_UpdateUnknown(t *testing.T) {
	r := New(nil)

	require.ErrorIs(t, r.Update(descriptor("ghost", 5)), domain.ErrWorkerNotFound)
}

func TestRegistry_ListSnapshotIsImmutable(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(descriptor("a", 1)))

	before := r.List()
	require.Len(t, before, 1)

	require.NoError(t, r.Register(descriptor("b", 2)))

	// The earlier snapshot must not observe the later registration.
	assert.Len(t, before, 1)
	assert.Len(t, r.List(), 2)
}

func TestRegistry_ListPreservesRegistrationOrder(t *testing.T) {
	r := New(nil)
	ids := []string{"c", "a", "b"}
	for i, id := range ids {
		require.NoError(t, r.Register(descriptor(id, i+1)))
	}

	listed := r.List()
	require.Len(t, listed, len(ids))
	for i, id := range ids {
		assert.Equal(t, id, listed[i].ID)
	}
}

func TestRegistry_BindAndInvoke(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(descriptor("echo", 5)))

	require.NoError(t, r.Bind("echo", domain.WorkerFunc(func(_ context.Context, input domain.WorkInput) (domain.WorkOutput, error) {
		return domain.WorkOutput{Status: domain.WorkStatusOK, Body: map[string]any{"echo": input.Request}}, nil
	})))

	w, err := r.Worker("echo")
	require.NoError(t, err)

	out, err := w.Invoke(context.Background(), domain.WorkInput{Request: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Body["echo"])
}

func TestRegistry_BindUnregistered(t *testing.T) {
	r := New(nil)

	err := r.Bind("ghost", domain.WorkerFunc(func(context.Context, domain.WorkInput) (domain.WorkOutput, error) {
		return domain.WorkOutput{}, nil
	}))
	require.ErrorIs(t, err, domain.ErrWorkerNotFound)
}

func TestRegistry_Fallback(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(descriptor("chart", 8)))

	_, ok := r.Fallback()
	assert.False(t, ok)

	fb := descriptor("general", 1)
	fb.Fallback = true
	require.NoError(t, r.Register(fb))

	got, ok := r.Fallback()
	require.True(t, ok)
	assert.Equal(t, "general", got.ID)
}

func TestRegistry_ConcurrentReadsDuringWrites(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(descriptor("seed", 1)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				for _, desc := range r.List() {
					_ = desc.ID
				}
				_, _ = r.Get("seed")
			}
		}()
	}

	for i := 0; i < 50; i++ {
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		_ = r.Register(descriptor(id, 1+i%10))
	}

	wg.Wait()
	assert.GreaterOrEqual(t, r.Len(), 1)
}
