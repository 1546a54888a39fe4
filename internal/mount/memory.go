package mount

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"

	"github.com/spf13/afero"

	"devcat/internal/devcat"
	"devcat/internal/syncutil"
)

// ErrNoMedium is returned when mounting a devnode with no inserted media.
var ErrNoMedium = errors.New("no medium found")

// MemoryMounter simulates block devices on an afero filesystem. Inserted
// media are plain file maps; mounting copies a medium's files under the
// target and unmounting removes them.
type MemoryMounter struct {
	fs afero.Fs

	mu      syncutil.Mutex
	media   map[string]map[string][]byte // devnode -> relative path -> content
	mounts  map[string]string            // devnode -> target
	failing map[string]error
	holds   map[string]chan struct{}
	calls   int
}

// NewMemoryMounter creates a MemoryMounter that materializes mounts on fs.
func NewMemoryMounter(fs afero.Fs) *MemoryMounter {
	return &MemoryMounter{
		fs:      fs,
		media:   make(map[string]map[string][]byte),
		mounts:  make(map[string]string),
		failing: make(map[string]error),
		holds:   make(map[string]chan struct{}),
	}
}

// Fs returns the filesystem mounts are materialized on.
func (m *MemoryMounter) Fs() afero.Fs {
	return m.fs
}

// Insert puts a medium with the given files in devnode.
func (m *MemoryMounter) Insert(devnode string, files map[string][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	media := make(map[string][]byte, len(files))
	maps.Copy(media, files)
	m.media[devnode] = media
}

// Pull removes the medium from devnode. Like a real yanked drive, the
// mount table entry stays until someone unmounts it.
func (m *MemoryMounter) Pull(devnode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.media, devnode)
}

// WriteFile changes a file on the medium in devnode, and on its mount if
// it is mounted.
func (m *MemoryMounter) WriteFile(devnode, rel string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, ok := m.media[devnode]
	if !ok {
		return fmt.Errorf("%s: %w", devnode, ErrNoMedium)
	}
	files[rel] = data
	if target, ok := m.mounts[devnode]; ok {
		return m.write(filepath.Join(target, rel), data)
	}
	return nil
}

// RemoveFile deletes a file from the medium in devnode and its mount.
func (m *MemoryMounter) RemoveFile(devnode, rel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, ok := m.media[devnode]
	if !ok {
		return fmt.Errorf("%s: %w", devnode, ErrNoMedium)
	}
	delete(files, rel)
	if target, ok := m.mounts[devnode]; ok {
		return m.fs.Remove(filepath.Join(target, rel))
	}
	return nil
}

// Fail makes mounts of devnode fail with err until cleared with a nil err.
func (m *MemoryMounter) Fail(devnode string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, devnode)
		return
	}
	m.failing[devnode] = err
}

// Hold makes mounts of devnode block until the returned func is called or
// the mount's context is done.
func (m *MemoryMounter) Hold(devnode string) (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.holds[devnode] = ch
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.holds[devnode] == ch {
			delete(m.holds, devnode)
			close(ch)
		}
	}
}

// MountCalls returns how many times Mount has been called.
func (m *MemoryMounter) MountCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MemoryMounter) Mount(ctx context.Context, devnode, target string) error {
	m.mu.Lock()
	m.calls++
	hold := m.holds[devnode]
	m.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failing[devnode]; err != nil {
		return err
	}
	files, ok := m.media[devnode]
	if !ok {
		return fmt.Errorf("%s: %w", devnode, ErrNoMedium)
	}
	if existing, ok := m.mounts[devnode]; ok {
		return fmt.Errorf("%s is already mounted at %s", devnode, existing)
	}
	for _, t := range m.mounts {
		if t == target {
			return fmt.Errorf("%s is busy", target)
		}
	}

	if err := m.fs.MkdirAll(target, 0o755); err != nil {
		return err
	}
	for rel, data := range files {
		if err := m.write(filepath.Join(target, rel), data); err != nil {
			return err
		}
	}
	m.mounts[devnode] = target
	return nil
}

func (m *MemoryMounter) Unmount(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for devnode, t := range m.mounts {
		if t == target {
			delete(m.mounts, devnode)
			return m.fs.RemoveAll(target)
		}
	}
	return fmt.Errorf("%s is not mounted", target)
}

func (m *MemoryMounter) LiveMounts(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.mounts), nil
}

// write creates parent directories as needed. Caller holds m.mu.
func (m *MemoryMounter) write(path string, data []byte) error {
	if err := m.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(m.fs, path, data, 0o644)
}

var _ devcat.Mounter = (*MemoryMounter)(nil)
