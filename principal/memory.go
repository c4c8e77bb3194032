package principal

import (
	"context"
	"errors"
	"sync"
	"time"

	goSession "github.com/MrEthical07/goSession"
)

// MemoryRepository keeps principals in a map. Counter updates happen under
// one mutex, which gives the same atomicity as the SQL implementation.
type MemoryRepository struct {
	mu           sync.Mutex
	byID         map[string]*goSession.Principal
	byIdentifier map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:         make(map[string]*goSession.Principal),
		byIdentifier: make(map[string]string),
	}
}

// Put inserts or replaces p. The identifier is stored normalized.
func (r *MemoryRepository) Put(p goSession.Principal) error {
	if p.ID == "" || p.Identifier == "" {
		return errors.New("principal id and identifier are required")
	}
	p.Identifier = goSession.NormalizeIdentifier(p.Identifier)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byID[p.ID]; ok {
		delete(r.byIdentifier, prev.Identifier)
	}
	if owner, ok := r.byIdentifier[p.Identifier]; ok && owner != p.ID {
		return errors.New("identifier already taken")
	}
	cp := p
	r.byID[p.ID] = &cp
	r.byIdentifier[p.Identifier] = p.ID
	return nil
}

// SetStatus changes an account's status. Used to disable accounts.
func (r *MemoryRepository) SetStatus(id string, status goSession.AccountStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return goSession.ErrPrincipalNotFound
	}
	p.Status = status
	return nil
}

func (r *MemoryRepository) FindByIdentifier(_ context.Context, identifier string) (goSession.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byIdentifier[goSession.NormalizeIdentifier(identifier)]
	if !ok {
		return goSession.Principal{}, goSession.ErrPrincipalNotFound
	}
	return *r.byID[id], nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (goSession.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return goSession.Principal{}, goSession.ErrPrincipalNotFound
	}
	return *p, nil
}

func (r *MemoryRepository) IncrementFailedAttempts(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return 0, goSession.ErrPrincipalNotFound
	}
	p.FailedAttempts++
	return p.FailedAttempts, nil
}

func (r *MemoryRepository) LockAccount(_ context.Context, id string, until time.Time, threshold, priorLocks int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return false, goSession.ErrPrincipalNotFound
	}
	if p.Status == goSession.AccountDisabled || p.FailedAttempts < threshold || p.LockCount != priorLocks {
		return false, nil
	}
	p.Status = goSession.AccountLocked
	p.LockedUntil = until
	p.LockCount++
	p.FailedAttempts = 0
	return true, nil
}

func (r *MemoryRepository) ResetFailedAttempts(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return goSession.ErrPrincipalNotFound
	}
	p.FailedAttempts = 0
	p.LockCount = 0
	p.LockedUntil = time.Time{}
	if p.Status == goSession.AccountLocked {
		p.Status = goSession.AccountActive
	}
	return nil
}

var _ goSession.PrincipalRepository = (*MemoryRepository)(nil)
