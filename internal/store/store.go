// Package store provides keyed access to a corpus of incident files.
package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Read when the key does not exist.
var ErrNotFound = errors.New("not found")

// Collection is a flat or nested set of files addressed by forward-slash
// keys relative to the collection root.
type Collection interface {
	// Name identifies the collection in reports.
	Name() string
	// List returns the keys ending in ext in ascending order. Keys whose
	// base name or any parent directory starts with "." are skipped.
	List(ctx context.Context, ext string) ([]string, error)
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Exists(key string) bool
}

// Dir is a Collection backed by a directory on disk.
type Dir struct {
	Root string
	// Recursive makes List descend into subdirectories.
	Recursive bool
}

// NewDir returns a directory collection rooted at root.
func NewDir(root string, recursive bool) *Dir {
	return &Dir{Root: root, Recursive: recursive}
}

func (d *Dir) Name() string { return d.Root }

// List walks the root. A missing or unreadable root is an error.
func (d *Dir) List(ctx context.Context, ext string) ([]string, error) {
	info, err := os.Stat(d.Root)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", d.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("reading directory %s: not a directory", d.Root)
	}

	var keys []string
	err = filepath.WalkDir(d.Root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == d.Root {
			return nil
		}
		if strings.HasPrefix(e.Name(), ".") {
			if e.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if e.IsDir() {
			if !d.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(e.Name(), ext) {
			return nil
		}
		rel, err := filepath.Rel(d.Root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", d.Root, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *Dir) path(key string) (string, error) {
	clean := path.Clean(key)
	if clean == "." || strings.HasPrefix(clean, "../") || clean == ".." || path.IsAbs(clean) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(d.Root, filepath.FromSlash(clean)), nil
}

func (d *Dir) Read(key string) ([]byte, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

// Write creates parent directories as needed and replaces any existing file.
func (d *Dir) Write(key string, data []byte) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (d *Dir) Exists(key string) bool {
	p, err := d.path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Memory is an in-memory Collection, safe for concurrent use.
type Memory struct {
	name  string
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemory returns an empty in-memory collection.
func NewMemory(name string) *Memory {
	return &Memory{name: name, files: map[string][]byte{}}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) List(ctx context.Context, ext string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.files {
		if hidden(k) || !strings.HasSuffix(k, ext) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Read(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Write(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Exists(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[key]
	return ok
}

func hidden(key string) bool {
	for _, part := range strings.Split(key, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// corpusNamespace roots the name-based UUIDs of corpus fingerprints.
var corpusNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("bowtie:corpus"))

// Fingerprint accumulates the keys and content hashes of a corpus and
// derives a stable identifier from them. Add must be called in key order.
type Fingerprint struct {
	h []byte
}

// Add records one file.
func (f *Fingerprint) Add(key string, data []byte) {
	sum := sha256.Sum256(data)
	f.h = append(f.h, key...)
	f.h = append(f.h, 0)
	f.h = append(f.h, fmt.Sprintf("%x", sum)...)
	f.h = append(f.h, '\n')
}

// ID returns the UUIDv5 of everything added so far.
func (f *Fingerprint) ID() string {
	return uuid.NewSHA1(corpusNamespace, f.h).String()
}

// Entry is one file read from a collection. Err is set when the file could
// not be read; the run continues with the other entries.
type Entry struct {
	Key  string
	Data []byte
	Err  error
}

// Snapshot lists and reads every file ending in ext. Listing errors are
// fatal; per-file read errors are recorded on the entry. The returned ID
// fingerprints the readable files.
func Snapshot(ctx context.Context, c Collection, ext string) ([]Entry, string, error) {
	keys, err := c.List(ctx, ext)
	if err != nil {
		return nil, "", err
	}
	var fp Fingerprint
	entries := make([]Entry, len(keys))
	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		data, err := c.Read(k)
		entries[i] = Entry{Key: k, Data: data, Err: err}
		if err == nil {
			fp.Add(k, data)
		}
	}
	return entries, fp.ID(), nil
}
