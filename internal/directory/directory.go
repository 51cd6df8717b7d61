// Package directory resolves peer identities to their registered token and
// endpoint subscriptions. The relay hub only reads from it.
package directory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when no peer is registered under a name.
var ErrNotFound = errors.New("peer not found")

// Peer is a registered server. It is treated as immutable once returned by
// a Directory.
type Peer struct {
	Name      string
	Token     string
	Endpoints map[string]struct{}
}

// NewPeer builds a Peer from an endpoint list, ignoring blank entries.
func NewPeer(name, token string, endpoints ...string) *Peer {
	set := make(map[string]struct{}, len(endpoints))
	for _, endpoint := range endpoints {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint != "" {
			set[endpoint] = struct{}{}
		}
	}
	return &Peer{Name: name, Token: token, Endpoints: set}
}

// Subscribes reports whether the peer receives messages for endpoint.
func (p *Peer) Subscribes(endpoint string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Endpoints[endpoint]
	return ok
}

// EndpointList returns the subscribed endpoints sorted by name.
func (p *Peer) EndpointList() []string {
	endpoints := make([]string, 0, len(p.Endpoints))
	for endpoint := range p.Endpoints {
		endpoints = append(endpoints, endpoint)
	}
	sort.Strings(endpoints)
	return endpoints
}

// Directory looks peers up by name. Implementations must be safe for
// concurrent use.
type Directory interface {
	Lookup(ctx context.Context, name string) (*Peer, error)
}

// Lister is implemented by directories that can enumerate their peers.
type Lister interface {
	List(ctx context.Context) ([]*Peer, error)
}

// Memory is an in-process Directory.
type Memory struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewMemory creates a Memory directory holding peers.
func NewMemory(peers ...*Peer) *Memory {
	m := &Memory{peers: make(map[string]*Peer, len(peers))}
	for _, peer := range peers {
		m.peers[peer.Name] = peer
	}
	return m
}

// Lookup implements Directory.
func (m *Memory) Lookup(_ context.Context, name string) (*Peer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	peer, ok := m.peers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return peer, nil
}

// List returns every peer ordered by name.
func (m *Memory) List(_ context.Context) ([]*Peer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedPeers(m.peers), nil
}

func sortedPeers(peers map[string]*Peer) []*Peer {
	out := make([]*Peer, 0, len(peers))
	for _, peer := range peers {
		out = append(out, peer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Put registers or replaces a peer.
func (m *Memory) Put(peer *Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[peer.Name] = peer
}

// Delete removes a peer.
func (m *Memory) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, name)
}

// Open picks a Directory implementation from the file extension: JSON files
// are watched for changes, .db and .sqlite files use SQLite.
func Open(path string) (Directory, func() error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		file, err := OpenFile(path)
		if err != nil {
			return nil, nil, err
		}
		return file, file.Close, nil
	case ".db", ".sqlite", ".sqlite3":
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported directory file %q (want .json or .db)", path)
	}
}
