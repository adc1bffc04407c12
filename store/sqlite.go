// Package store persists card configs and plugin permissions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/machinefabric/cardbridge-go/host"
)

// SQLite keeps card configs as JSON blobs and permission grants as rows in a
// single database file.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "cardbridge.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps :memory: databases shared across calls
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS card_config (
			card_id TEXT PRIMARY KEY,
			base_card_id TEXT NOT NULL,
			card_type TEXT NOT NULL,
			payload BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plugin_permission (
			plugin_id TEXT NOT NULL,
			permission TEXT NOT NULL,
			PRIMARY KEY (plugin_id, permission)
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database path.
func (s *SQLite) Path() string { return s.path }

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) location(cardID string) string {
	return fmt.Sprintf("%s#card_config/%s", s.path, cardID)
}

// LoadConfig returns the stored config for card, or nil when none is stored.
func (s *SQLite) LoadConfig(ctx context.Context, card host.Card) (map[string]any, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM card_config WHERE card_id = ?`, card.ID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select config %s: %w", card.ID, err)
	}
	var config map[string]any
	if err := json.Unmarshal(payload, &config); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", card.ID, err)
	}
	return config, nil
}

// SaveConfig upserts the config for card.
func (s *SQLite) SaveConfig(ctx context.Context, card host.Card, config map[string]any) (string, error) {
	loc := s.location(card.ID)
	if card.ID == "" {
		return loc, errors.New("card id is required")
	}
	payload, err := json.Marshal(config)
	if err != nil {
		return loc, fmt.Errorf("encode config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO card_config(card_id, base_card_id, card_type, payload, updated_at)
		VALUES(?,?,?,?,?)
		ON CONFLICT(card_id) DO UPDATE SET
			base_card_id=excluded.base_card_id,
			card_type=excluded.card_type,
			payload=excluded.payload,
			updated_at=excluded.updated_at`,
		card.ID, card.BaseCardID, card.Type, payload, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return loc, fmt.Errorf("upsert config: %w", err)
	}
	return loc, nil
}

// Permissions returns the grants for pluginID in sorted order.
func (s *SQLite) Permissions(ctx context.Context, pluginID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT permission FROM plugin_permission WHERE plugin_id = ? ORDER BY permission`, pluginID)
	if err != nil {
		return nil, fmt.Errorf("select permissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var perms []string
	for rows.Next() {
		var perm string
		if err := rows.Scan(&perm); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// ReplacePermissions sets the grants for pluginID to exactly perms.
func (s *SQLite) ReplacePermissions(ctx context.Context, pluginID string, perms []string) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM plugin_permission WHERE plugin_id = ?`, pluginID); err != nil {
		return fmt.Errorf("clear permissions: %w", err)
	}
	for _, perm := range normalizePermissions(perms) {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO plugin_permission(plugin_id, permission) VALUES(?,?)`, pluginID, perm); err != nil {
			return fmt.Errorf("insert permission %s: %w", perm, err)
		}
	}
	return tx.Commit()
}

func normalizePermissions(perms []string) []string {
	out := make([]string, 0, len(perms))
	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
