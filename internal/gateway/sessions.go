package gateway

import (
	"sort"
	"sync"

	"toolgate/internal/domain"
)

// Sessions is the active-connections view.
type Sessions struct {
	mu    sync.RWMutex
	items map[string]domain.SessionInfo
}

func NewSessions() *Sessions {
	return &Sessions{items: map[string]domain.SessionInfo{}}
}

func (s *Sessions) Add(info domain.SessionInfo) {
	s.mu.Lock()
	s.items[info.SessionID] = info
	s.mu.Unlock()
}

// Remove deletes id. Removing an unknown id is a no-op.
func (s *Sessions) Remove(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

func (s *Sessions) Get(id string) (domain.SessionInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.items[id]
	return info, ok
}

// List returns sessions ordered by connection time.
func (s *Sessions) List() []domain.SessionInfo {
	s.mu.RLock()
	out := make([]domain.SessionInfo, 0, len(s.items))
	for _, info := range s.items {
		out = append(out, info)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt == out[j].ConnectedAt {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].ConnectedAt < out[j].ConnectedAt
	})
	return out
}

// ForProfile returns the sessions bound to profileID.
func (s *Sessions) ForProfile(profileID string) []domain.SessionInfo {
	var out []domain.SessionInfo
	for _, info := range s.List() {
		if info.ProfileID == profileID {
			out = append(out, info)
		}
	}
	return out
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
