package sql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/storage"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Supported driver names.
const (
	DriverPostgres   = "postgres"
	DriverSQLite3    = "sqlite3" // github.com/mattn/go-sqlite3, needs cgo
	DriverSQLitePure = "sqlite"  // modernc.org/sqlite
)

// SessionChangesChannel is the Postgres NOTIFY channel carrying the id of
// every created or updated session.
const SessionChangesChannel = "session_changes"

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func isSQLite(driver string) bool {
	return driver == DriverSQLite3 || driver == DriverSQLitePure
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New creates a new SQL store and runs pending migrations.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	dialect := driver
	if isSQLite(driver) {
		// A single connection serialises writers and keeps the pragmas below
		// in effect for every statement.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
		if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting busy timeout: %w", err)
		}
		dialect = DriverSQLite3
	}

	// Run migrations
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Driver returns the database driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, driver: s.driver}, nil
}

// inTx runs fn in its own transaction, for writes that touch several rows.
func (s *Store) inTx(ctx context.Context, fn func(db dbInterface) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Tx wraps a database transaction.
type Tx struct {
	tx     *sqlx.Tx
	driver string
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Close is a no-op for transactions (they should be committed or rolled back).
func (t *Tx) Close() error {
	return nil
}

// BeginTx is not supported within a transaction.
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

// helper to get the correct database interface
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// ============================================
// Users
// ============================================

const userColumns = `id, username, email, oidc_subject, home_group, created_at`

func createUser(ctx context.Context, db dbInterface, user *domain.User) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Username, user.Email, user.OIDCSubject, user.HomeGroup, user.CreatedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	return createUser(ctx, s.db, user)
}

func (t *Tx) CreateUser(ctx context.Context, user *domain.User) error {
	return createUser(ctx, t.tx, user)
}

func getUserBy(ctx context.Context, db dbInterface, column, value string) (*domain.User, error) {
	var user domain.User
	err := db.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, value)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return getUserBy(ctx, s.db, "id", id)
}

func (t *Tx) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return getUserBy(ctx, t.tx, "id", id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return getUserBy(ctx, s.db, "username", username)
}

func (t *Tx) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return getUserBy(ctx, t.tx, "username", username)
}

func (s *Store) GetUserBySubject(ctx context.Context, subject string) (*domain.User, error) {
	if subject == "" {
		return nil, domain.ErrNotFound
	}
	return getUserBy(ctx, s.db, "oidc_subject", subject)
}

func (t *Tx) GetUserBySubject(ctx context.Context, subject string) (*domain.User, error) {
	if subject == "" {
		return nil, domain.ErrNotFound
	}
	return getUserBy(ctx, t.tx, "oidc_subject", subject)
}

func setHomeGroup(ctx context.Context, db dbInterface, userID, groupName string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE users SET home_group = $1 WHERE id = $2`, groupName, userID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) SetHomeGroup(ctx context.Context, userID, groupName string) error {
	return setHomeGroup(ctx, s.db, userID, groupName)
}

func (t *Tx) SetHomeGroup(ctx context.Context, userID, groupName string) error {
	return setHomeGroup(ctx, t.tx, userID, groupName)
}

// ============================================
// API Keys
// ============================================

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, created_at, last_used_at`

func createAPIKey(ctx context.Context, db dbInterface, key *domain.APIKey) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.LastUsedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, s.db, key)
}

func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, t.tx, key)
}

func getAPIKeyByHash(ctx context.Context, db dbInterface, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := db.GetContext(ctx, &key,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash)
	if err != nil {
		return nil, notFound(err)
	}
	return &key, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, s.db, keyHash)
}

func (t *Tx) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, t.tx, keyHash)
}

func listAPIKeys(ctx context.Context, db dbInterface, userID string) ([]*domain.APIKey, error) {
	keys := []*domain.APIKey{}
	err := db.SelectContext(ctx, &keys,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, s.db, userID)
}

func (t *Tx) ListAPIKeys(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, t.tx, userID)
}

func deleteAPIKey(ctx context.Context, db dbInterface, userID, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, userID, id string) error {
	return deleteAPIKey(ctx, s.db, userID, id)
}

func (t *Tx) DeleteAPIKey(ctx context.Context, userID, id string) error {
	return deleteAPIKey(ctx, t.tx, userID, id)
}

func updateAPIKeyLastUsed(ctx context.Context, db dbInterface, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, s.db, id)
}

func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, t.tx, id)
}

// ============================================
// Groups
// ============================================

const groupColumns = `id, name, passcode_hash, host_user_id, created_at`

func createGroup(ctx context.Context, db dbInterface, group *domain.Group) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO groups (`+groupColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		group.ID, group.Name, group.PasscodeHash, group.HostUserID, group.CreatedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateGroup(ctx context.Context, group *domain.Group) error {
	return createGroup(ctx, s.db, group)
}

func (t *Tx) CreateGroup(ctx context.Context, group *domain.Group) error {
	return createGroup(ctx, t.tx, group)
}

func getGroupBy(ctx context.Context, db dbInterface, column, value string) (*domain.Group, error) {
	var group domain.Group
	err := db.GetContext(ctx, &group,
		`SELECT `+groupColumns+` FROM groups WHERE `+column+` = $1`, value)
	if err != nil {
		return nil, notFound(err)
	}
	return &group, nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	return getGroupBy(ctx, s.db, "id", id)
}

func (t *Tx) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	return getGroupBy(ctx, t.tx, "id", id)
}

func (s *Store) GetGroupByName(ctx context.Context, name string) (*domain.Group, error) {
	return getGroupBy(ctx, s.db, "name", name)
}

func (t *Tx) GetGroupByName(ctx context.Context, name string) (*domain.Group, error) {
	return getGroupBy(ctx, t.tx, "name", name)
}
