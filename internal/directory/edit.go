package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func isSQLitePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	default:
		return false
	}
}

// ListPath returns every peer stored at path, sorted by name.
func ListPath(ctx context.Context, path string) ([]*Peer, error) {
	dir, closeFn, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeFn() }()

	lister, ok := dir.(Lister)
	if !ok {
		return nil, fmt.Errorf("directory %q cannot be listed", path)
	}
	return lister.List(ctx)
}

// Upsert stores peer at path, replacing a peer of the same name. A missing
// JSON file is created.
func Upsert(ctx context.Context, path string, peer *Peer) error {
	if isSQLitePath(path) {
		db, err := OpenSQLite(path)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		return db.Put(ctx, peer)
	}

	peers, err := readJSONPeers(ctx, path)
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range peers {
		if existing.Name == peer.Name {
			peers[i] = peer
			replaced = true
		}
	}
	if !replaced {
		peers = append(peers, peer)
	}
	return WriteFile(path, peers...)
}

// Remove deletes the peer called name from path.
func Remove(ctx context.Context, path, name string) error {
	if isSQLitePath(path) {
		db, err := OpenSQLite(path)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		return db.Delete(ctx, name)
	}

	peers, err := readJSONPeers(ctx, path)
	if err != nil {
		return err
	}
	kept := peers[:0]
	for _, peer := range peers {
		if peer.Name != name {
			kept = append(kept, peer)
		}
	}
	if len(kept) == len(peers) {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return WriteFile(path, kept...)
}

func readJSONPeers(ctx context.Context, path string) ([]*Peer, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return ListPath(ctx, path)
}
