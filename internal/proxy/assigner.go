// Package proxy maintains the 1:1 user to egress-proxy binding.
package proxy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/customeros/customeros-sub005/internal/automation"
)

// Assigner supplies a working proxy for a user, reusing the persisted binding
// so repeated runs keep the same egress IP. Selection over the pool is
// least-recently-assigned to spread load. The per-user read-modify-write is
// serialized internally; the scheduler's per-user concurrency cap makes races
// unlikely, but the assigner does not assume it is the only caller.
type Assigner struct {
	store  automation.ProxyStore
	clock  automation.Clock
	logger *zap.Logger

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewAssigner constructs an Assigner.
func NewAssigner(store automation.ProxyStore, clock automation.Clock, logger *zap.Logger) *Assigner {
	return &Assigner{
		store:  store,
		clock:  clock,
		logger: logger,
		users:  make(map[string]*sync.Mutex),
	}
}

func (a *Assigner) userLock(tenant, userID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := tenant + "/" + userID
	lock, ok := a.users[key]
	if !ok {
		lock = &sync.Mutex{}
		a.users[key] = lock
	}
	return lock
}

// GetOrAssign returns the user's bound proxy if it is still enabled, otherwise
// selects and persists a new binding. Fails with ErrNoProxyAvailable when the
// pool has no enabled proxy left for this user.
func (a *Assigner) GetOrAssign(ctx context.Context, tenant, userID string) (automation.Proxy, error) {
	lock := a.userLock(tenant, userID)
	lock.Lock()
	defer lock.Unlock()

	assignment, err := a.store.GetAssignment(ctx, tenant, userID)
	switch {
	case err == nil:
		proxy, found := a.enabledProxy(ctx, assignment.ProxyID)
		if found {
			return proxy, nil
		}
		// Bound proxy was disabled; fall through to reselection keeping the
		// user's exclusion history.
	case err == automation.ErrNotFound:
		assignment = automation.ProxyAssignment{Tenant: tenant, UserID: userID}
	default:
		return automation.Proxy{}, fmt.Errorf("get assignment: %w", err)
	}

	return a.assign(ctx, assignment, "")
}

// Rebind forces reassignment away from a known-bad proxy. The excluded proxy
// is recorded on the assignment, never selected for this user again, and left
// enabled for everyone else.
func (a *Assigner) Rebind(ctx context.Context, tenant, userID, excludeProxyID string) (automation.Proxy, error) {
	lock := a.userLock(tenant, userID)
	lock.Lock()
	defer lock.Unlock()

	assignment, err := a.store.GetAssignment(ctx, tenant, userID)
	if err != nil {
		if err != automation.ErrNotFound {
			return automation.Proxy{}, fmt.Errorf("get assignment: %w", err)
		}
		assignment = automation.ProxyAssignment{Tenant: tenant, UserID: userID}
	}
	return a.assign(ctx, assignment, excludeProxyID)
}

func (a *Assigner) enabledProxy(ctx context.Context, proxyID string) (automation.Proxy, bool) {
	proxies, err := a.store.ListEnabledProxies(ctx)
	if err != nil {
		a.logger.Warn("list enabled proxies failed", zap.Error(err))
		return automation.Proxy{}, false
	}
	for _, p := range proxies {
		if p.ID == proxyID {
			return p, true
		}
	}
	return automation.Proxy{}, false
}

func (a *Assigner) assign(
	ctx context.Context,
	assignment automation.ProxyAssignment,
	excludeProxyID string,
) (automation.Proxy, error) {
	if excludeProxyID != "" && !contains(assignment.ExcludedProxyIDs, excludeProxyID) {
		assignment.ExcludedProxyIDs = append(assignment.ExcludedProxyIDs, excludeProxyID)
	}

	proxies, err := a.store.ListEnabledProxies(ctx)
	if err != nil {
		return automation.Proxy{}, fmt.Errorf("list enabled proxies: %w", err)
	}

	var candidates []automation.Proxy
	for _, p := range proxies {
		if contains(assignment.ExcludedProxyIDs, p.ID) {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return automation.Proxy{}, automation.ErrNoProxyAvailable
	}

	// Least-recently-assigned first; never-assigned proxies win outright.
	sort.Slice(candidates, func(i, j int) bool {
		li, lj := candidates[i].LastAssignedAt, candidates[j].LastAssignedAt
		switch {
		case li == nil && lj == nil:
			return candidates[i].ID < candidates[j].ID
		case li == nil:
			return true
		case lj == nil:
			return false
		case !li.Equal(*lj):
			return li.Before(*lj)
		default:
			return candidates[i].ID < candidates[j].ID
		}
	})

	selected := candidates[0]
	assignment.ProxyID = selected.ID
	assignment.AssignedAt = a.clock.Now()
	if err := a.store.SaveAssignment(ctx, assignment); err != nil {
		return automation.Proxy{}, fmt.Errorf("save assignment: %w", err)
	}

	a.logger.Info("proxy assigned",
		zap.String("tenant", assignment.Tenant),
		zap.String("user_id", assignment.UserID),
		zap.String("proxy_id", selected.ID),
	)
	return selected, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
