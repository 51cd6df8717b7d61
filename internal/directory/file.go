package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type fileEntry struct {
	Name      string   `json:"name"`
	Token     string   `json:"token"`
	Endpoints []string `json:"endpoints"`
}

type fileDocument struct {
	Servers []fileEntry `json:"servers"`
}

// File is a Directory backed by a JSON document. The file is reloaded when
// it changes on disk; a document that fails to parse leaves the previous
// snapshot in place.
type File struct {
	path    string
	log     *slog.Logger
	mu      sync.RWMutex
	peers   map[string]*Peer
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// FileOption configures a File directory.
type FileOption func(*File)

// WithFileLogger sets the logger used for reload events.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(f *File) { f.log = l }
}

// OpenFile loads path and starts watching it.
func OpenFile(path string, opts ...FileOption) (*File, error) {
	f := &File{
		path: path,
		log:  slog.Default(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With("component", "directory", "path", path)

	if err := f.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	f.watcher = watcher

	f.wg.Add(1)
	go f.watch()

	return f, nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read directory file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse directory file: %w", err)
	}

	peers := make(map[string]*Peer, len(doc.Servers))
	for _, entry := range doc.Servers {
		if entry.Name == "" {
			return fmt.Errorf("parse directory file: server without name")
		}
		if _, dup := peers[entry.Name]; dup {
			return fmt.Errorf("parse directory file: duplicate server %q", entry.Name)
		}
		peers[entry.Name] = NewPeer(entry.Name, entry.Token, entry.Endpoints...)
	}

	f.mu.Lock()
	f.peers = peers
	f.mu.Unlock()
	return nil
}

func (f *File) watch() {
	defer f.wg.Done()

	target := filepath.Clean(f.path)
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := f.load(); err != nil {
				f.log.Warn("directory reload failed, keeping previous peers", "error", err)
			} else {
				f.log.Info("directory reloaded", "peers", f.Len())
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn("directory watcher error", "error", err)
		}
	}
}

// Lookup implements Directory.
func (f *File) Lookup(_ context.Context, name string) (*Peer, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	peer, ok := f.peers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return peer, nil
}

// List returns every loaded peer ordered by name.
func (f *File) List(_ context.Context) ([]*Peer, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedPeers(f.peers), nil
}

// Len returns the number of loaded peers.
func (f *File) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.peers)
}

// Close stops watching the file.
func (f *File) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		err = f.watcher.Close()
		f.wg.Wait()
	})
	return err
}

// WriteFile stores peers as a JSON directory document at path.
func WriteFile(path string, peers ...*Peer) error {
	doc := fileDocument{Servers: make([]fileEntry, 0, len(peers))}
	for _, peer := range peers {
		doc.Servers = append(doc.Servers, fileEntry{
			Name:      peer.Name,
			Token:     peer.Token,
			Endpoints: peer.EndpointList(),
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode directory file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write directory file: %w", err)
	}
	return nil
}
