package goSession

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// AccountStatus is the durable lifecycle state of a principal.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountLocked
	AccountDisabled
)

func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "active"
	case AccountLocked:
		return "locked"
	case AccountDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Principal is the durable account record the Engine authenticates against.
//
// FailedAttempts, LockedUntil and LockCount belong to the lockout policy and
// are only changed through [PrincipalRepository] methods.
type Principal struct {
	ID             string
	Identifier     string
	CredentialHash string
	Status         AccountStatus
	FailedAttempts int
	LockedUntil    time.Time
	LockCount      int
}

// PrincipalRepository is the durable store for principals and their lockout
// counters. Implementations must make IncrementFailedAttempts and
// LockAccount atomic with respect to concurrent callers.
//
//	Implementations: principal.MemoryRepository, principal.PostgresRepository
type PrincipalRepository interface {
	// FindByIdentifier returns ErrPrincipalNotFound when nothing matches.
	FindByIdentifier(ctx context.Context, identifier string) (Principal, error)
	// FindByID returns ErrPrincipalNotFound when nothing matches.
	FindByID(ctx context.Context, id string) (Principal, error)
	// IncrementFailedAttempts adds one to the failure counter and returns the new value.
	IncrementFailedAttempts(ctx context.Context, id string) (int, error)
	// LockAccount marks the account locked until the given time, increments
	// its lock count and zeroes its failure counter. It writes only while the
	// failure counter is at or above threshold and the lock count still
	// equals priorLocks, and reports whether the lock was written.
	LockAccount(ctx context.Context, id string, until time.Time, threshold, priorLocks int) (bool, error)
	// ResetFailedAttempts zeroes the failure and lock counters and clears an
	// expired or manual lock. Disabled accounts stay disabled.
	ResetFailedAttempts(ctx context.Context, id string) error
}

// PasswordHasher hashes and verifies credentials. Implemented by
// password.Argon2.
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) (bool, error)
}

// OAuth2IdentityResolver maps a provider token to a local principal ID.
// It returns ErrPrincipalNotFound when the external identity has no local
// account.
type OAuth2IdentityResolver interface {
	ResolvePrincipal(ctx context.Context, tok *oauth2.Token) (string, error)
}

// OAuth2Result is returned by a completed OAuth2 login.
type OAuth2Result struct {
	Token       string
	PrincipalID string
	ReturnTo    string
}
