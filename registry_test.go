package structex

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name    string
	result  Result
	err     error
	healthy bool
}

func (f *fakeProvider) Process(ctx context.Context, req *Request) (Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return cloneResult(f.result), nil
}

func (f *fakeProvider) HealthCheck() bool { return f.healthy }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	built := 0
	err := r.Register(KindProvider, "alpha", func() (any, error) {
		built++
		return &fakeProvider{name: "alpha", healthy: true}, nil
	}, DefaultPluginConfig())
	require.NoError(t, err)

	// Registration alone must not instantiate.
	desc, err := r.Describe(KindProvider, "alpha")
	require.NoError(t, err)
	assert.False(t, desc.Loaded)
	assert.Equal(t, 0, built)

	inst, err := r.Get(KindProvider, "alpha")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, 1, built)

	// Second Get returns the cached instance.
	again, err := r.Get(KindProvider, "alpha")
	require.NoError(t, err)
	assert.Same(t, inst, again)
	assert.Equal(t, 1, built)

	desc, err = r.Describe(KindProvider, "alpha")
	require.NoError(t, err)
	assert.True(t, desc.Loaded)
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	factory := func() (any, error) { return &fakeProvider{}, nil }

	require.NoError(t, r.Register(KindProvider, "alpha", factory, DefaultPluginConfig()))

	err := r.Register(KindProvider, "alpha", factory, DefaultPluginConfig())
	var dup *DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, KindProvider, dup.Kind)
	assert.Equal(t, "alpha", dup.Name)

	// Same name under a different kind is a distinct identity.
	require.NoError(t, r.Register(KindExtractor, "alpha", factory, DefaultPluginConfig()))

	// Explicit overwrite replaces the binding.
	require.NoError(t, r.RegisterOverwrite(KindProvider, "alpha", factory, PluginConfig{Priority: 10, Cost: 2}))
	desc, err := r.Describe(KindProvider, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 10, desc.Priority)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(KindProvider, "ghost")
	var nf *PluginNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.Name)
}

func TestRegistry_FactoryError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, r.Register(KindProvider, "bad", func() (any, error) { return nil, boom }, DefaultPluginConfig()))

	_, err := r.Get(KindProvider, "bad")
	require.ErrorIs(t, err, boom)

	// A failed load leaves the descriptor unloaded.
	desc, err := r.Describe(KindProvider, "bad")
	require.NoError(t, err)
	assert.False(t, desc.Loaded)
}

func TestRegistry_ExplicitZeroPriorityAndCost(t *testing.T) {
	r := NewRegistry()
	factory := func() (any, error) { return &fakeProvider{}, nil }

	// Priority 0 and cost 0 are in the legal range and must survive
	// registration as given; only an empty version is defaulted.
	require.NoError(t, r.Register(KindProvider, "free", factory, PluginConfig{Priority: 0, Cost: 0}))

	desc, err := r.Describe(KindProvider, "free")
	require.NoError(t, err)
	assert.Equal(t, 0, desc.Priority)
	assert.Equal(t, 0.0, desc.Cost)
	assert.Equal(t, PluginAPIVersion, desc.Version)
}

func TestRegistry_ListNamesWaterfallOrder(t *testing.T) {
	r := NewRegistry()
	factory := func() (any, error) { return &fakeProvider{}, nil }

	require.NoError(t, r.Register(KindProvider, "cheap-low", factory, PluginConfig{Priority: 30, Cost: 1}))
	require.NoError(t, r.Register(KindProvider, "pricey-high", factory, PluginConfig{Priority: 90, Cost: 5}))
	require.NoError(t, r.Register(KindProvider, "tie-b", factory, PluginConfig{Priority: 50, Cost: 2}))
	require.NoError(t, r.Register(KindProvider, "tie-a", factory, PluginConfig{Priority: 50, Cost: 1}))
	require.NoError(t, r.Register(KindProvider, "tie-a2", factory, PluginConfig{Priority: 50, Cost: 1}))

	// Priority descending, then cost ascending, then registration order.
	assert.Equal(t,
		[]string{"pricey-high", "tie-a", "tie-a2", "tie-b", "cheap-low"},
		r.ListNames(KindProvider))
}

func TestRegistry_ListKinds(t *testing.T) {
	r := NewRegistry()
	factory := func() (any, error) { return &fakeProvider{}, nil }
	require.NoError(t, r.Register(KindValidator, "v", factory, DefaultPluginConfig()))
	require.NoError(t, r.Register(KindProvider, "p", factory, DefaultPluginConfig()))

	assert.Equal(t, []Kind{KindProvider, KindValidator}, r.ListKinds())
}

func TestRegistry_TypedGetters(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(KindProvider, "p", func() (any, error) {
		return &fakeProvider{healthy: true}, nil
	}, DefaultPluginConfig()))
	require.NoError(t, r.Register(KindProvider, "not-a-provider", func() (any, error) {
		return struct{}{}, nil
	}, DefaultPluginConfig()))

	p, err := r.GetProvider("p")
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = r.GetProvider("not-a-provider")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not implement Provider")
}

func TestRegistry_HealthCheck(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(KindProvider, "up", func() (any, error) {
		return &fakeProvider{healthy: true}, nil
	}, DefaultPluginConfig()))
	require.NoError(t, r.Register(KindProvider, "down", func() (any, error) {
		return &fakeProvider{healthy: false}, nil
	}, DefaultPluginConfig()))

	assert.Equal(t, HealthHealthy, r.HealthCheck(KindProvider, "up"))
	assert.Equal(t, HealthUnhealthy, r.HealthCheck(KindProvider, "down"))
	// Probing never returns an error, even for unknown plugins.
	assert.Equal(t, HealthUnhealthy, r.HealthCheck(KindProvider, "ghost"))

	desc, err := r.Describe(KindProvider, "up")
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, desc.Health)
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	r := NewRegistry()
	built := 0
	require.NoError(t, r.Register(KindProvider, "shared", func() (any, error) {
		built++
		return &fakeProvider{}, nil
	}, DefaultPluginConfig()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Get(KindProvider, "shared")
		}()
	}
	wg.Wait()

	// The load-and-cache critical section admits exactly one instantiation.
	assert.Equal(t, 1, built)
}

func TestRegistry_UnregisterAndClear(t *testing.T) {
	r := NewRegistry()
	factory := func() (any, error) { return &fakeProvider{}, nil }
	require.NoError(t, r.Register(KindProvider, "a", factory, DefaultPluginConfig()))
	require.NoError(t, r.Register(KindProvider, "b", factory, DefaultPluginConfig()))

	r.Unregister(KindProvider, "a")
	assert.Equal(t, []string{"b"}, r.ListNames(KindProvider))

	r.Clear()
	assert.Empty(t, r.ListNames(KindProvider))
}

func TestDefaultPluginConfig(t *testing.T) {
	cfg := DefaultPluginConfig()
	assert.Equal(t, 50, cfg.Priority)
	assert.Equal(t, 1.0, cfg.Cost)
	assert.Equal(t, PluginAPIVersion, cfg.Version)
}
