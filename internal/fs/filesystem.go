// Package fs walks mounted volumes.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"path/filepath"

	"github.com/spf13/afero"

	"devcat/internal/devcat"
)

// errStopWalk ends a walk early when the consumer stops iterating.
var errStopWalk = errors.New("stop walk")

// Walker yields the regular files under a volume root in lexical order.
// Symlinks, devices, pipes and sockets are skipped and symlinks are never
// followed. Ignored directories are not descended into.
type Walker struct {
	fs     afero.Fs
	ignore []string
	sniff  bool
	logger devcat.Logger
}

// NewWalker creates a Walker over fsys. ignore holds extra patterns on top of
// DefaultIgnorePatterns and each volume's ignore file.
func NewWalker(fsys afero.Fs, ignore []string, sniffContentType bool, logger devcat.Logger) *Walker {
	return &Walker{fs: fsys, ignore: ignore, sniff: sniffContentType, logger: logger}
}

// NewOSWalker creates a Walker over the real filesystem.
func NewOSWalker(ignore []string, sniffContentType bool, logger devcat.Logger) *Walker {
	return NewWalker(afero.NewOsFs(), ignore, sniffContentType, logger)
}

func (w *Walker) Walk(ctx context.Context, root string) iter.Seq2[devcat.FileObservation, error] {
	return func(yield func(devcat.FileObservation, error) bool) {
		root = filepath.Clean(root)

		volumePatterns, err := ParseIgnoreFile(w.fs, filepath.Join(root, IgnoreFileName))
		if err != nil {
			yield(devcat.FileObservation{}, err)
			return
		}
		rules := NewIgnoreRules(DefaultIgnorePatterns, w.ignore, volumePatterns)

		err = afero.Walk(w.fs, root, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if path == root {
				if !info.IsDir() {
					return fmt.Errorf("%s is not a directory", root)
				}
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if rules.Ignored(rel, info.IsDir()) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if info.IsDir() {
				return nil
			}
			if !info.Mode().IsRegular() {
				w.logger.Debug("skipping non-regular file", "path", path, "mode", info.Mode().String())
				return nil
			}

			obs := devcat.FileObservation{
				Filename:    info.Name(),
				Size:        info.Size(),
				ContentType: ContentType(w.fs, path, w.sniff),
				Path:        path,
			}
			if !yield(obs, nil) {
				return errStopWalk
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopWalk) {
			yield(devcat.FileObservation{}, fmt.Errorf("walking %s: %w", root, err))
		}
	}
}

var _ devcat.Walker = (*Walker)(nil)
