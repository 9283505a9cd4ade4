package storage

import (
	"context"

	"github.com/youtoss/ledger/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
//
// Reads return copies: mutating a returned record never changes stored state.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// Users
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserBySubject(ctx context.Context, subject string) (*domain.User, error)
	SetHomeGroup(ctx context.Context, userID, groupName string) error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, userID, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error

	// Groups. Names are unique; CreateGroup returns domain.ErrAlreadyExists
	// on a duplicate name.
	CreateGroup(ctx context.Context, group *domain.Group) error
	GetGroup(ctx context.Context, id string) (*domain.Group, error)
	GetGroupByName(ctx context.Context, name string) (*domain.Group, error)

	// Memberships. Unique on (user, group) and on (group, username).
	CreateMembership(ctx context.Context, m *domain.Membership) error
	GetMembership(ctx context.Context, userID, groupID string) (*domain.Membership, error)
	GetMembershipByUsername(ctx context.Context, groupID, username string) (*domain.Membership, error)
	ListMembers(ctx context.Context, groupID string) ([]*domain.Membership, error)
	ListMembershipsForUser(ctx context.Context, userID string) ([]*domain.Membership, error)

	// UpdateMembershipScore writes m.Score if the stored version still equals
	// m.Version, and records rec in the same atomic step. It returns
	// domain.ErrAlreadyApplied if a reconciliation for (rec.SessionID,
	// rec.Username) exists, or domain.ErrVersionMismatch if the membership
	// changed since it was read. On success m.Version is advanced.
	UpdateMembershipScore(ctx context.Context, m *domain.Membership, rec *domain.Reconciliation) error
	GetReconciliation(ctx context.Context, sessionID, username string) (*domain.Reconciliation, error)
	ListReconciliations(ctx context.Context, sessionID string) ([]*domain.Reconciliation, error)

	// Sessions. CreateSession returns domain.ErrAlreadyExists if the group
	// already has an active session. UpdateSession writes only if the stored
	// version equals s.Version, returning domain.ErrVersionMismatch otherwise;
	// on success s.Version is advanced.
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	GetActiveSession(ctx context.Context, groupName string) (*domain.Session, error)
	ListSessions(ctx context.Context, groupName string) ([]*domain.Session, error)
	ListSessionsForPlayer(ctx context.Context, username string) ([]*domain.Session, error)
	UpdateSession(ctx context.Context, s *domain.Session) error

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}
