package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/customeros/customeros-sub005/internal/automation"
)

// ResultStore is an in-memory append-only automation.ResultStore.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string][]automation.RunResult
	errors  map[string][]automation.RunError
}

// NewResultStore constructs a ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[string][]automation.RunResult),
		errors:  make(map[string][]automation.RunError),
	}
}

// AddResult appends a result row for a run.
func (s *ResultStore) AddResult(_ context.Context, result automation.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.RunID] = append(s.results[result.RunID], result)
	return nil
}

// AddError appends an error row for a run.
func (s *ResultStore) AddError(_ context.Context, runErr automation.RunError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[runErr.RunID] = append(s.errors[runErr.RunID], runErr)
	return nil
}

// ListResults returns all result rows for a run.
func (s *ResultStore) ListResults(_ context.Context, runID string) ([]automation.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]automation.RunResult, len(s.results[runID]))
	copy(out, s.results[runID])
	return out, nil
}

// ListErrors returns all error rows for a run.
func (s *ResultStore) ListErrors(_ context.Context, runID string) ([]automation.RunError, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]automation.RunError, len(s.errors[runID]))
	copy(out, s.errors[runID])
	return out, nil
}

// MarkProcessed flips the is_processed flag on one result row.
func (s *ResultStore) MarkProcessed(_ context.Context, resultID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for runID, results := range s.results {
		for i := range results {
			if results[i].ID == resultID {
				results[i].IsProcessed = true
				s.results[runID] = results
				return nil
			}
		}
	}
	return automation.ErrNotFound
}

// SessionStore is an in-memory automation.SessionStore keyed by tenant/user.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]automation.BrowserSession
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]automation.BrowserSession),
	}
}

func sessionKey(tenant, userID string) string {
	return tenant + "/" + userID
}

// CreateSession registers a session; one per user.
func (s *SessionStore) CreateSession(_ context.Context, session automation.BrowserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(session.Tenant, session.UserID)
	if _, exists := s.sessions[key]; exists {
		return automation.ErrSessionExists
	}
	s.sessions[key] = session
	return nil
}

// GetValidSession returns the session only when VALID; EXPIRED and INVALID
// behave like absent.
func (s *SessionStore) GetValidSession(_ context.Context, tenant, userID string) (automation.BrowserSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionKey(tenant, userID)]
	if !ok || session.Status != automation.SessionStatusValid {
		return automation.BrowserSession{}, automation.ErrNoValidSession
	}
	return session, nil
}

// Invalidate sets the session INVALID. Missing sessions are a no-op.
func (s *SessionStore) Invalidate(_ context.Context, tenant, userID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(tenant, userID)
	session, ok := s.sessions[key]
	if !ok {
		return nil
	}
	session.Status = automation.SessionStatusInvalid
	session.UpdatedAt = time.Now().UTC()
	s.sessions[key] = session
	return nil
}

// Expire marks a session EXPIRED. Used by external provisioning and tests.
func (s *SessionStore) Expire(tenant, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(tenant, userID)
	if session, ok := s.sessions[key]; ok {
		session.Status = automation.SessionStatusExpired
		s.sessions[key] = session
	}
}

// ProxyStore is an in-memory automation.ProxyStore.
type ProxyStore struct {
	mu          sync.RWMutex
	proxies     map[string]automation.Proxy
	assignments map[string]automation.ProxyAssignment
}

// NewProxyStore constructs a ProxyStore.
func NewProxyStore() *ProxyStore {
	return &ProxyStore{
		proxies:     make(map[string]automation.Proxy),
		assignments: make(map[string]automation.ProxyAssignment),
	}
}

// AddProxy registers a proxy in the pool.
func (s *ProxyStore) AddProxy(_ context.Context, proxy automation.Proxy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proxies[proxy.ID]; exists {
		return errors.New("proxy already exists")
	}
	s.proxies[proxy.ID] = proxy
	return nil
}

// SetProxyEnabled toggles a proxy's enabled flag.
func (s *ProxyStore) SetProxyEnabled(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proxy, ok := s.proxies[id]
	if !ok {
		return automation.ErrNotFound
	}
	proxy.Enabled = enabled
	s.proxies[id] = proxy
	return nil
}

// ListEnabledProxies returns all enabled proxies.
func (s *ProxyStore) ListEnabledProxies(_ context.Context) ([]automation.Proxy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []automation.Proxy
	for _, proxy := range s.proxies {
		if proxy.Enabled {
			out = append(out, proxy)
		}
	}
	return out, nil
}

// GetAssignment fetches the user's binding.
func (s *ProxyStore) GetAssignment(_ context.Context, tenant, userID string) (automation.ProxyAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assignment, ok := s.assignments[sessionKey(tenant, userID)]
	if !ok {
		return automation.ProxyAssignment{}, automation.ErrNotFound
	}
	return assignment, nil
}

// SaveAssignment upserts the user's binding and stamps the proxy's
// last_assigned_at.
func (s *ProxyStore) SaveAssignment(_ context.Context, assignment automation.ProxyAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[sessionKey(assignment.Tenant, assignment.UserID)] = assignment
	if proxy, ok := s.proxies[assignment.ProxyID]; ok {
		at := assignment.AssignedAt
		proxy.LastAssignedAt = &at
		s.proxies[assignment.ProxyID] = proxy
	}
	return nil
}
