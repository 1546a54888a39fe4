package vault

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"devcat/internal/devcat"
)

// FileSystemVault stores metadata as files in a directory tree:
//
//	<root>/
//	  <hostID>/
//	    <name>           (snapshot bytes)
//	    <name>.version   (decimal version)
type FileSystemVault struct {
	name string
	root string
	fs   afero.Fs
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	return newFileSystemVault(afero.NewOsFs(), name, root)
}

func newFileSystemVault(fsys afero.Fs, name, root string) (*FileSystemVault, error) {
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}
	return &FileSystemVault{name: name, root: root, fs: fsys}, nil
}

func (v *FileSystemVault) hostDir(hostID string) string {
	return filepath.Join(v.root, hostID)
}

// PutMetadata stores a metadata item and its version. The item is replaced
// atomically; the version file is written after it.
func (v *FileSystemVault) PutMetadata(ctx context.Context, hostID string, name string, r io.Reader, size int64, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := v.GetMetadataVersion(ctx, hostID, name)
	if err != nil {
		return err
	}
	if current > version {
		return fmt.Errorf("%w: %s/%s at version %d, refusing %d", devcat.ErrSnapshotOutdated, hostID, name, current, version)
	}

	dir := v.hostDir(hostID)
	if err := v.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create host directory: %w", err)
	}

	if err := v.writeFile(filepath.Join(dir, name), r, size); err != nil {
		return err
	}

	versionPath := filepath.Join(dir, name+".version")
	return afero.WriteFile(v.fs, versionPath, []byte(strconv.FormatInt(version, 10)), 0o644)
}

// GetMetadataVersion returns 0 if no version file exists.
func (v *FileSystemVault) GetMetadataVersion(ctx context.Context, hostID string, name string) (int64, error) {
	data, err := afero.ReadFile(v.fs, filepath.Join(v.hostDir(hostID), name+".version"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

func (v *FileSystemVault) GetMetadata(ctx context.Context, hostID string, name string, w io.Writer) error {
	f, err := v.fs.Open(filepath.Join(v.hostDir(hostID), name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s/%s", devcat.ErrSnapshotNotFound, hostID, name)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the vault root exists and is writable.
func (v *FileSystemVault) ValidateSetup(ctx context.Context) error {
	info, err := v.fs.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}

	scratch, err := afero.TempFile(v.fs, v.root, ".check-*")
	if err != nil {
		return fmt.Errorf("vault root not writable: %w", err)
	}
	name := scratch.Name()
	_ = scratch.Close()
	return v.fs.Remove(name)
}

// writeFile writes data from r to destPath using a temp file and rename.
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := afero.TempFile(v.fs, filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = v.fs.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := v.fs.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ devcat.Vault = (*FileSystemVault)(nil)
