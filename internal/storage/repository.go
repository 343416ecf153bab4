package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MSWS/TSTats/internal/notify"

	_ "modernc.org/sqlite"
)

// Repository stores the same documents as FileStore in SQLite, one row per
// document.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository with SQLite
func NewRepository(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate creates the database schema
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS client_profiles (
			id VARCHAR(32) PRIMARY KEY,
			document TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS guild_profiles (
			id VARCHAR(32) PRIMARY KEY,
			document TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func (r *Repository) upsert(ctx context.Context, table, id string, v any) error {
	if err := validID(id); err != nil {
		return err
	}
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", table, id, err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		id, string(doc), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save %s %s: %w", table, id, err)
	}
	return nil
}

func (r *Repository) get(ctx context.Context, table, id string, v any) error {
	var doc string
	err := r.db.QueryRowContext(ctx, `SELECT document FROM `+table+` WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", table, id, err)
	}
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", table, id, err)
	}
	return nil
}

func (r *Repository) ids(ctx context.Context, table string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Subscription operations

// LoadSubscriptions returns an owner's saved subscriptions
func (r *Repository) LoadSubscriptions(ctx context.Context, owner string) ([]notify.Subscription, error) {
	var p ClientProfile
	if err := r.get(ctx, "client_profiles", owner, &p); err != nil {
		return nil, err
	}
	p.ID = owner
	return p.subscriptions(), nil
}

// SaveSubscriptions replaces an owner's saved subscriptions
func (r *Repository) SaveSubscriptions(ctx context.Context, owner string, subs []notify.Subscription) error {
	return r.upsert(ctx, "client_profiles", owner, toProfile(owner, subs))
}

// Owners returns every owner with a saved profile
func (r *Repository) Owners(ctx context.Context) ([]string, error) {
	return r.ids(ctx, "client_profiles")
}

// Server list operations

// LoadServerScope returns a scope's saved servers
func (r *Repository) LoadServerScope(ctx context.Context, scope string) (*Scope, error) {
	var g GuildProfile
	if err := r.get(ctx, "guild_profiles", scope, &g); err != nil {
		return nil, err
	}
	g.ID = scope
	return g.scope(), nil
}

// SaveServerScope replaces a scope's saved servers
func (r *Repository) SaveServerScope(ctx context.Context, scope string, s Scope) error {
	return r.upsert(ctx, "guild_profiles", scope, toGuildProfile(scope, s))
}

// Scopes returns every scope with a saved server list
func (r *Repository) Scopes(ctx context.Context) ([]string, error) {
	return r.ids(ctx, "guild_profiles")
}
