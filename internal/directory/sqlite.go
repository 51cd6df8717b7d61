package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a Directory stored in a SQLite database. Endpoints are kept as
// a comma separated column.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory database dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open directory database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize directory schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS servers (
		name TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		endpoints TEXT NOT NULL DEFAULT ''
	);`)
	return err
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Lookup implements Directory.
func (s *SQLite) Lookup(ctx context.Context, name string) (*Peer, error) {
	var token, endpoints string
	err := s.db.QueryRowContext(ctx,
		`SELECT token, endpoints FROM servers WHERE name = ?`, name,
	).Scan(&token, &endpoints)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", name, err)
	}
	return NewPeer(name, token, splitEndpoints(endpoints)...), nil
}

// Put inserts or replaces a peer.
func (s *SQLite) Put(ctx context.Context, peer *Peer) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO servers (name, token, endpoints) VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET token = excluded.token, endpoints = excluded.endpoints`,
		peer.Name, peer.Token, strings.Join(peer.EndpointList(), ","))
	if err != nil {
		return fmt.Errorf("store %q: %w", peer.Name, err)
	}
	return nil
}

// Delete removes a peer. Deleting an unknown peer returns ErrNotFound.
func (s *SQLite) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}

// List returns every peer ordered by name.
func (s *SQLite) List(ctx context.Context) ([]*Peer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, token, endpoints FROM servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	var peers []*Peer
	for rows.Next() {
		var name, token, endpoints string
		if err := rows.Scan(&name, &token, &endpoints); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		peers = append(peers, NewPeer(name, token, splitEndpoints(endpoints)...))
	}
	return peers, rows.Err()
}

func splitEndpoints(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}
