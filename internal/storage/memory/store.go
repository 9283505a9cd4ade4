package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/storage"
)

// Store is an in-memory implementation of the storage interface for testing.
type Store struct {
	mu sync.RWMutex

	users           map[string]*domain.User           // key: id
	apiKeys         map[string]*domain.APIKey         // key: id
	groups          map[string]*domain.Group          // key: id
	memberships     map[string]*domain.Membership     // key: userID:groupID
	reconciliations map[string]*domain.Reconciliation // key: sessionID:username
	sessions        map[string]*domain.Session        // key: id
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		users:           make(map[string]*domain.User),
		apiKeys:         make(map[string]*domain.APIKey),
		groups:          make(map[string]*domain.Group),
		memberships:     make(map[string]*domain.Membership),
		reconciliations: make(map[string]*domain.Reconciliation),
		sessions:        make(map[string]*domain.Session),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return &Tx{Store: s}, nil
}

// Tx is a no-op transaction for the in-memory store. Every write is applied
// immediately and Rollback does not undo it.
type Tx struct {
	*Store
}

func (t *Tx) Commit() error   { return nil }
func (t *Tx) Rollback() error { return nil }
func (t *Tx) Close() error    { return nil }
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, domain.ErrInvalidInput
}

func key(a, b string) string { return a + ":" + b }

// ============================================
// Users
// ============================================

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.ID]; exists {
		return domain.ErrAlreadyExists
	}
	for _, u := range s.users {
		if u.Username == user.Username {
			return domain.ErrAlreadyExists
		}
		if user.OIDCSubject != "" && u.OIDCSubject == user.OIDCSubject {
			return domain.ErrAlreadyExists
		}
	}
	u := *user
	s.users[user.ID] = &u
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) GetUserBySubject(ctx context.Context, subject string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if subject != "" && u.OIDCSubject == subject {
			c := *u
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) SetHomeGroup(ctx context.Context, userID, groupName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.HomeGroup = groupName
	return nil
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[key.ID]; exists {
		return domain.ErrAlreadyExists
	}
	k := *key
	s.apiKeys[key.ID] = &k
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			k := *key
			return &k, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.APIKey, 0)
	for _, key := range s.apiKeys {
		if key.UserID == userID {
			k := *key
			keys = append(keys, &k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.apiKeys[id]
	if !exists || key.UserID != userID {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, exists := s.apiKeys[id]; exists {
		now := time.Now()
		key.LastUsedAt = &now
	}
	return nil
}

// ============================================
// Groups
// ============================================

func (s *Store) CreateGroup(ctx context.Context, group *domain.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.groups[group.ID]; exists {
		return domain.ErrAlreadyExists
	}
	for _, g := range s.groups {
		if g.Name == group.Name {
			return domain.ErrAlreadyExists
		}
	}
	g := *group
	s.groups[group.ID] = &g
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *g
	return &c, nil
}

func (s *Store) GetGroupByName(ctx context.Context, name string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		if g.Name == name {
			c := *g
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

// ============================================
// Memberships
// ============================================

func (s *Store) CreateMembership(ctx context.Context, m *domain.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.memberships[key(m.UserID, m.GroupID)]; exists {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.memberships {
		if existing.GroupID == m.GroupID && existing.Username == m.Username {
			return domain.ErrAlreadyExists
		}
	}
	c := *m
	if c.Version == 0 {
		c.Version = 1
	}
	m.Version = c.Version
	s.memberships[key(m.UserID, m.GroupID)] = &c
	return nil
}

func (s *Store) GetMembership(ctx context.Context, userID, groupID string) (*domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[key(userID, groupID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *m
	return &c, nil
}

func (s *Store) GetMembershipByUsername(ctx context.Context, groupID, username string) (*domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.memberships {
		if m.GroupID == groupID && m.Username == username {
			c := *m
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListMembers(ctx context.Context, groupID string) ([]*domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]*domain.Membership, 0)
	for _, m := range s.memberships {
		if m.GroupID == groupID {
			c := *m
			members = append(members, &c)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Username < members[j].Username })
	return members, nil
}

func (s *Store) ListMembershipsForUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	memberships := make([]*domain.Membership, 0)
	for _, m := range s.memberships {
		if m.UserID == userID {
			c := *m
			memberships = append(memberships, &c)
		}
	}
	sort.Slice(memberships, func(i, j int) bool { return memberships[i].GroupName < memberships[j].GroupName })
	return memberships, nil
}

func (s *Store) UpdateMembershipScore(ctx context.Context, m *domain.Membership, rec *domain.Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, applied := s.reconciliations[key(rec.SessionID, rec.Username)]; applied {
		return domain.ErrAlreadyApplied
	}
	stored, ok := s.memberships[key(m.UserID, m.GroupID)]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != m.Version {
		return domain.ErrVersionMismatch
	}
	stored.Score = m.Score
	stored.Version++
	m.Version = stored.Version
	r := *rec
	s.reconciliations[key(rec.SessionID, rec.Username)] = &r
	return nil
}

func (s *Store) GetReconciliation(ctx context.Context, sessionID, username string) (*domain.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reconciliations[key(sessionID, username)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *Store) ListReconciliations(ctx context.Context, sessionID string) ([]*domain.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]*domain.Reconciliation, 0)
	for _, r := range s.reconciliations {
		if r.SessionID == sessionID {
			c := *r
			recs = append(recs, &c)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Username < recs[j].Username })
	return recs, nil
}

// ============================================
// Sessions
// ============================================

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if sess.IsActive {
		for _, existing := range s.sessions {
			if existing.IsActive && existing.GroupName == sess.GroupName {
				return domain.ErrAlreadyExists
			}
		}
	}
	if sess.Version == 0 {
		sess.Version = 1
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) GetActiveSession(ctx context.Context, groupName string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.IsActive && sess.GroupName == groupName {
			return sess.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListSessions(ctx context.Context, groupName string) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*domain.Session, 0)
	for _, sess := range s.sessions {
		if sess.GroupName == groupName {
			sessions = append(sessions, sess.Clone())
		}
	}
	sortNewestFirst(sessions)
	return sessions, nil
}

func (s *Store) ListSessionsForPlayer(ctx context.Context, username string) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*domain.Session, 0)
	for _, sess := range s.sessions {
		if sess.PlayerIndex(username) >= 0 {
			sessions = append(sessions, sess.Clone())
		}
	}
	sortNewestFirst(sessions)
	return sessions, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[sess.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != sess.Version {
		return domain.ErrVersionMismatch
	}
	sess.Version++
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func sortNewestFirst(sessions []*domain.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}
