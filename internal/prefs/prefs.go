// Package prefs persists the user's source preferences as TOML.
// Writes are atomic (temp+rename) to prevent data corruption.
package prefs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"

	"cinefetch/internal/media"
)

// Store is the preference port the resolver reads and writes back to.
type Store interface {
	Load() (media.SourcePreferences, error)
	SetLastSuccessful(id string) error
}

// FileStore keeps preferences in a TOML file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store at path. The file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (f *FileStore) Path() string { return f.path }

// Load reads the preferences. A missing file yields the zero preferences.
func (f *FileStore) Load() (media.SourcePreferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *FileStore) load() (media.SourcePreferences, error) {
	var p media.SourcePreferences

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("reading preferences: %w", err)
	}

	if err := toml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parsing preferences %s: %w", f.path, err)
	}
	return p, nil
}

// Save replaces the stored preferences.
func (f *FileStore) Save(p media.SourcePreferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(p)
}

// Update applies fn to the stored preferences and saves the result.
func (f *FileStore) Update(fn func(*media.SourcePreferences)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.load()
	if err != nil {
		return err
	}
	fn(&p)
	return f.save(p)
}

// SetLastSuccessful records the provider that last produced a stream.
func (f *FileStore) SetLastSuccessful(id string) error {
	return f.Update(func(p *media.SourcePreferences) {
		p.LastSuccessfulID = id
	})
}

// SetOrder stores a custom order and enables it.
func (f *FileStore) SetOrder(ids []string) error {
	return f.Update(func(p *media.SourcePreferences) {
		p.Order = lo.Uniq(ids)
		p.OrderEnabled = len(p.Order) > 0
	})
}

// SetOrderEnabled toggles whether the custom order is honored.
func (f *FileStore) SetOrderEnabled(enabled bool) error {
	return f.Update(func(p *media.SourcePreferences) {
		p.OrderEnabled = enabled
	})
}

// Disable excludes a provider from every resolution.
func (f *FileStore) Disable(id string) error {
	return f.Update(func(p *media.SourcePreferences) {
		if !lo.Contains(p.DisabledIDs, id) {
			p.DisabledIDs = append(p.DisabledIDs, id)
		}
	})
}

// Enable removes a provider from the disabled set.
func (f *FileStore) Enable(id string) error {
	return f.Update(func(p *media.SourcePreferences) {
		p.DisabledIDs = lo.Without(p.DisabledIDs, id)
	})
}

// SetPin toggles last-successful pinning.
func (f *FileStore) SetPin(pin bool) error {
	return f.Update(func(p *media.SourcePreferences) {
		p.PinLastSuccessful = pin
	})
}

func (f *FileStore) save(p media.SourcePreferences) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating preferences dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}

	// Atomic write: temp file + rename
	tmpFile, err := os.CreateTemp(dir, "prefs-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(buf.Bytes()); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing preferences: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming preferences file: %w", err)
	}

	return nil
}

// Memory is an in-process Store, used by the server when no file is
// configured and by tests.
type Memory struct {
	mu    sync.Mutex
	prefs media.SourcePreferences
	err   error
}

// NewMemory creates a store holding p.
func NewMemory(p media.SourcePreferences) *Memory {
	return &Memory{prefs: p}
}

func (m *Memory) Load() (media.SourcePreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs, nil
}

func (m *Memory) SetLastSuccessful(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.prefs.LastSuccessfulID = id
	return nil
}

// FailWrites makes every later write return err.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
