package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"toolgate/internal/auth"
	"toolgate/internal/domain"
	"toolgate/internal/repo"
)

var (
	ErrDefaultProfile  = errors.New("the default profile cannot be deleted")
	ErrProfileNotFound = errors.New("profile not found")
)

// Persister loads and saves the whole profile collection.
type Persister interface {
	LoadProfiles(ctx context.Context) ([]domain.Profile, error)
	SaveProfiles(ctx context.Context, profiles []domain.Profile) error
}

// ProfileStore keeps the profile collection in memory. Every mutation is
// applied to a copy, persisted whole, and only then made visible.
type ProfileStore struct {
	mu            sync.RWMutex
	persister     Persister
	profiles      []domain.Profile
	newCredential func() (string, error)
}

func NewProfileStore(p Persister) *ProfileStore {
	return &ProfileStore{persister: p, newCredential: auth.NewCredential}
}

// Load reads the collection, seeds the default profile on first boot, and
// fills flags for tools the stored profiles have not seen yet.
func (s *ProfileStore) Load(ctx context.Context, toolNames []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles, err := s.persister.LoadProfiles(ctx)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("load profiles: %w", err)
	}
	changed := errors.Is(err, repo.ErrNotFound)
	if findIndex(profiles, domain.DefaultProfileID) < 0 {
		cred, err := s.newCredential()
		if err != nil {
			return err
		}
		profiles = append([]domain.Profile{{
			ID:         domain.DefaultProfileID,
			Name:       domain.DefaultProfileName,
			Credential: cred,
		}}, profiles...)
		changed = true
	}
	for i := range profiles {
		if syncToolFlags(&profiles[i], toolNames) {
			changed = true
		}
	}
	if changed {
		if err := s.persister.SaveProfiles(ctx, profiles); err != nil {
			return fmt.Errorf("save profiles: %w", err)
		}
	}
	s.profiles = profiles
	return nil
}

func syncToolFlags(p *domain.Profile, toolNames []string) bool {
	changed := false
	if p.EnabledTools == nil {
		p.EnabledTools = map[string]bool{}
		changed = true
	}
	if p.RequiresApproval == nil {
		p.RequiresApproval = map[string]bool{}
		changed = true
	}
	for _, name := range toolNames {
		if _, ok := p.EnabledTools[name]; !ok {
			p.EnabledTools[name] = true
			changed = true
		}
		if _, ok := p.RequiresApproval[name]; !ok {
			p.RequiresApproval[name] = false
			changed = true
		}
	}
	return changed
}

func findIndex(profiles []domain.Profile, id string) int {
	for i, p := range profiles {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *ProfileStore) List() []domain.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	return out
}

func (s *ProfileStore) Get(id string) (domain.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := findIndex(s.profiles, id); i >= 0 {
		return s.profiles[i].Clone(), true
	}
	return domain.Profile{}, false
}

// ByCredential finds the profile holding credential.
func (s *ProfileStore) ByCredential(credential string) (domain.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if auth.CredentialEqual(p.Credential, credential) {
			return p.Clone(), true
		}
	}
	return domain.Profile{}, false
}

// commit persists next and swaps it in. Callers hold s.mu.
func (s *ProfileStore) commit(ctx context.Context, next []domain.Profile) error {
	if err := s.persister.SaveProfiles(ctx, next); err != nil {
		return fmt.Errorf("save profiles: %w", err)
	}
	s.profiles = next
	return nil
}

func (s *ProfileStore) cloneAll() []domain.Profile {
	next := make([]domain.Profile, len(s.profiles))
	for i, p := range s.profiles {
		next[i] = p.Clone()
	}
	return next
}

// Update applies fn to profile id and persists the collection. fn reports
// whether its target existed; when it returns false nothing is written.
func (s *ProfileStore) Update(ctx context.Context, id string, fn func(p *domain.Profile) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := findIndex(s.profiles, id)
	if i < 0 {
		return false, nil
	}
	next := s.cloneAll()
	if !fn(&next[i]) {
		return false, nil
	}
	if err := s.commit(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ProfileStore) Create(ctx context.Context, name string, toolNames []string) (domain.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Profile{}, errors.New("profile name is required")
	}
	cred, err := s.newCredential()
	if err != nil {
		return domain.Profile{}, err
	}
	p := domain.Profile{ID: uuid.New().String(), Name: name, Credential: cred}
	syncToolFlags(&p, toolNames)
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append(s.cloneAll(), p)
	if err := s.commit(ctx, next); err != nil {
		return domain.Profile{}, err
	}
	return p.Clone(), nil
}

func (s *ProfileStore) Delete(ctx context.Context, id string) error {
	if id == domain.DefaultProfileID {
		return ErrDefaultProfile
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := findIndex(s.profiles, id)
	if i < 0 {
		return ErrProfileNotFound
	}
	next := s.cloneAll()
	next = append(next[:i], next[i+1:]...)
	return s.commit(ctx, next)
}

// RegenerateCredential replaces the credential of id in place.
func (s *ProfileStore) RegenerateCredential(ctx context.Context, id string) (domain.Profile, error) {
	cred, err := s.newCredential()
	if err != nil {
		return domain.Profile{}, err
	}
	var out domain.Profile
	ok, err := s.Update(ctx, id, func(p *domain.Profile) bool {
		p.Credential = cred
		out = p.Clone()
		return true
	})
	if err != nil {
		return domain.Profile{}, err
	}
	if !ok {
		return domain.Profile{}, ErrProfileNotFound
	}
	return out, nil
}
