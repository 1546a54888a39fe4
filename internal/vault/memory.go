package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"devcat/internal/devcat"
	"devcat/internal/syncutil"
)

type snapshot struct {
	data    []byte
	version int64
}

// MemoryVault keeps snapshots in memory. Used for `type = "memory"` and in
// tests.
type MemoryVault struct {
	name  string
	mu    syncutil.RWMutex
	items map[string]snapshot // "hostID/name"
}

func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{name: name, items: make(map[string]snapshot)}
}

func itemKey(hostID, name string) string {
	return hostID + "/" + name
}

func (m *MemoryVault) PutMetadata(ctx context.Context, hostID string, name string, r io.Reader, size int64, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := itemKey(hostID, name)
	if cur, ok := m.items[key]; ok && cur.version > version {
		return fmt.Errorf("%w: %s at version %d, refusing %d", devcat.ErrSnapshotOutdated, key, cur.version, version)
	}
	m.items[key] = snapshot{data: data, version: version}
	return nil
}

func (m *MemoryVault) GetMetadataVersion(ctx context.Context, hostID string, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[itemKey(hostID, name)].version, nil
}

func (m *MemoryVault) GetMetadata(ctx context.Context, hostID string, name string, w io.Writer) error {
	m.mu.RLock()
	item, ok := m.items[itemKey(hostID, name)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", devcat.ErrSnapshotNotFound, hostID, name)
	}
	if _, err := io.Copy(w, bytes.NewReader(item.data)); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

var _ devcat.Vault = (*MemoryVault)(nil)
