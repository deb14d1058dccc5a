// Package account stores users and their API keys. It runs on SQLite for a
// single hub and on Postgres when several hubs share one directory.
package account

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	// KeyPrefix starts every API key.
	KeyPrefix = "klipy_"
	keyLength = 32
)

var base62Chars = []byte("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")

var (
	// ErrInvalidKey is returned by Verify for unknown, malformed or expired keys.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrUserNotFound is returned when a user id or email does not exist.
	ErrUserNotFound = errors.New("user not found")
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// User is an account holder. The user id names the account's shared room.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKey is a stored key without its secret.
type APIKey struct {
	ID         string
	UserID     string
	KeyPrefix  string
	Name       string
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Directory is the account database.
type Directory struct {
	conn    *sql.DB
	dialect dialect
}

// Open connects to dsn. A postgres:// or postgresql:// URL selects Postgres
// through pgx; anything else is a SQLite path, ":memory:" included.
func Open(dsn string) (*Directory, error) {
	if isPostgres(dsn) {
		conn, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		d := &Directory{conn: conn, dialect: dialectPostgres}
		if err := d.migrate(postgresSchema); err != nil {
			conn.Close()
			return nil, err
		}
		return d, nil
	}

	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA foreign_keys=ON")

	d := &Directory{conn: conn, dialect: dialectSQLite}
	if err := d.migrate(sqliteSchema); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func (d *Directory) migrate(statements []string) error {
	for _, stmt := range statements {
		if _, err := d.conn.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Ping checks the database connection is alive.
func (d *Directory) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

// Close closes the database connection.
func (d *Directory) Close() error {
	return d.conn.Close()
}

// rebind rewrites ? placeholders for Postgres.
func (d *Directory) rebind(query string) string {
	if d.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateUser inserts a new user with the given email (lowercased).
func (d *Directory) CreateUser(ctx context.Context, email, name string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	id, err := generateID("u_")
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	_, err = d.conn.ExecContext(ctx, d.rebind(
		`INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)`),
		id, email, strings.TrimSpace(name), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &User{ID: id, Email: email, Name: strings.TrimSpace(name), CreatedAt: now}, nil
}

// GetUserByEmail returns the user with the given email (case-insensitive).
func (d *Directory) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u := &User{}
	err := d.conn.QueryRowContext(ctx, d.rebind(
		`SELECT id, email, name, created_at FROM users WHERE email = ?`), email,
	).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// GenerateAPIKey creates a new API key for the given user.
// Returns the plaintext key (shown once) and the stored APIKey record.
func (d *Directory) GenerateAPIKey(ctx context.Context, userID, name string) (string, *APIKey, error) {
	var exists int
	err := d.conn.QueryRowContext(ctx, d.rebind(`SELECT 1 FROM users WHERE id = ?`), userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return "", nil, fmt.Errorf("check user: %w", err)
	}

	id, err := generateID("ak_")
	if err != nil {
		return "", nil, fmt.Errorf("generate api key id: %w", err)
	}

	secret := make([]byte, keyLength)
	for i := range secret {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base62Chars))))
		if err != nil {
			return "", nil, fmt.Errorf("generate random key: %w", err)
		}
		secret[i] = base62Chars[n.Int64()]
	}

	plaintext := KeyPrefix + string(secret)
	prefix := string(secret[:8])

	now := time.Now().UTC()
	_, err = d.conn.ExecContext(ctx, d.rebind(
		`INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		id, userID, hashKey(plaintext), prefix, name, now,
	)
	if err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}

	return plaintext, &APIKey{
		ID:        id,
		UserID:    userID,
		KeyPrefix: prefix,
		Name:      name,
		CreatedAt: now,
	}, nil
}

// Verify resolves a plaintext key to its user.
func (d *Directory) Verify(ctx context.Context, key string) (*User, error) {
	if !WellFormed(key) {
		return nil, ErrInvalidKey
	}
	keyHash := hashKey(key)

	var keyID string
	u := &User{}
	err := d.conn.QueryRowContext(ctx, d.rebind(`
		SELECT ak.id, u.id, u.email, u.name, u.created_at
		FROM api_keys ak
		JOIN users u ON u.id = ak.user_id
		WHERE ak.key_hash = ?`), keyHash,
	).Scan(&keyID, &u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("api key not found", "key_hash_prefix", keyHash[:8])
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("verify api key: %w", err)
	}

	now := time.Now().UTC()
	if _, err := d.conn.ExecContext(ctx, d.rebind(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`), now, keyID); err != nil {
		slog.Warn("update last_used_at", "key_id", keyID, "err", err)
	}
	return u, nil
}

// RevokeAPIKey deletes an API key.
func (d *Directory) RevokeAPIKey(ctx context.Context, keyID string) error {
	res, err := d.conn.ExecContext(ctx, d.rebind(`DELETE FROM api_keys WHERE id = ?`), keyID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key not found: %s", keyID)
	}
	return nil
}

// ListAPIKeys returns all API keys for a user (without secrets).
func (d *Directory) ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error) {
	rows, err := d.conn.QueryContext(ctx, d.rebind(
		`SELECT id, user_id, key_prefix, name, last_used_at, created_at FROM api_keys WHERE user_id = ? ORDER BY created_at`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		ak := &APIKey{}
		if err := rows.Scan(&ak.ID, &ak.UserID, &ak.KeyPrefix, &ak.Name, &ak.LastUsedAt, &ak.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, ak)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys: iterate: %w", err)
	}
	return keys, nil
}

// WellFormed reports whether key has the klipy key shape.
func WellFormed(key string) bool {
	if !strings.HasPrefix(key, KeyPrefix) || len(key) != len(KeyPrefix)+keyLength {
		return false
	}
	for _, c := range []byte(key[len(KeyPrefix):]) {
		if !strings.ContainsRune(string(base62Chars), rune(c)) {
			return false
		}
	}
	return true
}

func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// generateID creates a prefixed ID with 16 random hex chars.
func generateID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(b), nil
}
