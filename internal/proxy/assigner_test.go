package proxy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/customeros/customeros-sub005/internal/automation"
	"github.com/customeros/customeros-sub005/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestAssigner(t *testing.T) (*Assigner, *memory.ProxyStore) {
	t.Helper()
	store := memory.NewProxyStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	return NewAssigner(store, clock, zap.NewNop()), store
}

func TestAssigner_GetOrAssignReusesStickyBinding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assigner, store := newTestAssigner(t)

	require.NoError(t, store.AddProxy(ctx, automation.Proxy{ID: "p1", URL: "http://p1:3128", Enabled: true}))
	require.NoError(t, store.AddProxy(ctx, automation.Proxy{ID: "p2", URL: "http://p2:3128", Enabled: true}))

	first, err := assigner.GetOrAssign(ctx, "acme", "u1")
	require.NoError(t, err)

	// Same user keeps the same egress proxy on every subsequent call.
	for i := 0; i < 3; i++ {
		again, err := assigner.GetOrAssign(ctx, "acme", "u1")
		require.NoError(t, err)
		require.Equal(t, first.ID, again.ID)
	}
}

func TestAssigner_SpreadsLoadLeastRecentlyAssigned(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assigner, store := newTestAssigner(t)

	require.NoError(t, store.AddProxy(ctx, automation.Proxy{ID: "p1", Enabled: true}))
	require.NoError(t, store.AddProxy(ctx, automation.Proxy{ID: "p2", Enabled: true}))

	a, err := assigner.GetOrAssign(ctx, "acme", "u1")
	require.NoError(t, err)
	b, err := assigner.GetOrAssign(ctx, "acme", "u2")
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
}

func TestAssigner_ReassignsWhenBoundProxyDisabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assigner, store := newTestAssigner(t)

	require.NoError(t, store.AddProxy(ctx, automation.Proxy{ID: "p1", Enabled: true}))
	require.NoError(t, store.AddProxy(ctx, automation.Proxy{ID: "p2", Enabled: true}))

	first, err := assigner.GetOrAssign(ctx, "acme", "u1")
	require.NoError(t, err)

	require.NoError(t, store.SetProxyEnabled(ctx, first.ID, false))

	second, err := assigner.GetOrAssign(ctx, "acme", "u1")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// The replacement binding is persisted.
	assignment, err := store.GetAssignment(ctx, "acme", "u1")
	require.NoError(t, err)
	require.Equal(t, second.ID, assignment.ProxyID)
}

func TestAssigner_RebindExcludesFailingProxyForUserOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assigner, store := newTestAssigner(t)

	require.NoError(t, store.AddProxy(ctx, automation.Proxy{ID: "p1", Enabled: true}))
	require.NoError(t, store.AddProxy(ctx, automation.Proxy{ID: "p2", Enabled: true}))

	first, err := assigner.GetOrAssign(ctx, "acme", "u1")
	require.NoError(t, err)

	rebound, err := assigner.Rebind(ctx, "acme", "u1", first.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, rebound.ID)

	// The failing proxy stays out of this user's rotation permanently.
	again, err := assigner.GetOrAssign(ctx, "acme", "u1")
	require.NoError(t, err)
	require.Equal(t, rebound.ID, again.ID)

	// But other users can still receive it.
	other, err := assigner.GetOrAssign(ctx, "acme", "u2")
	require.NoError(t, err)
	require.Equal(t, first.ID, other.ID)
}

func TestAssigner_NoProxyAvailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assigner, store := newTestAssigner(t)

	_, err := assigner.GetOrAssign(ctx, "acme", "u1")
	require.ErrorIs(t, err, automation.ErrNoProxyAvailable)

	// One enabled proxy, excluded after failure: nothing left.
	require.NoError(t, store.AddProxy(ctx, automation.Proxy{ID: "p1", Enabled: true}))
	got, err := assigner.GetOrAssign(ctx, "acme", "u1")
	require.NoError(t, err)
	_, err = assigner.Rebind(ctx, "acme", "u1", got.ID)
	require.ErrorIs(t, err, automation.ErrNoProxyAvailable)
}

func TestAssigner_ConcurrentCallsConvergeOnOneBinding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assigner, store := newTestAssigner(t)

	require.NoError(t, store.AddProxy(ctx, automation.Proxy{ID: "p1", Enabled: true}))
	require.NoError(t, store.AddProxy(ctx, automation.Proxy{ID: "p2", Enabled: true}))
	require.NoError(t, store.AddProxy(ctx, automation.Proxy{ID: "p3", Enabled: true}))

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := 0; i < len(ids); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := assigner.GetOrAssign(ctx, "acme", "u1")
			require.NoError(t, err)
			ids[i] = p.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		require.Equal(t, ids[0], id)
	}
}
