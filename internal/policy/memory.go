package policy

import "sync"

// MemoryStore is an in-process Store for tests and ephemeral runs where no
// database path is configured. Flags do not survive a restart.
type MemoryStore struct {
	mu sync.RWMutex
	p  Policy
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load() (Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p, nil
}

func (s *MemoryStore) SetBypassChecks(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.BypassChecks = v
	return nil
}

func (s *MemoryStore) SetForceDirectAPI(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.ForceDirectAPI = v
	return nil
}

func (s *MemoryStore) SetOfflineMode(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.OfflineMode = v
	return nil
}

func (s *MemoryStore) Close() error { return nil }
