//go:build !unix

package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Without flock the lock is the file's existence. A crashed process leaves
// it behind and it has to be removed by hand.
type fileLock struct {
	path string
}

func acquireLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s exists", ErrLocked, path)
		}
		return nil, fmt.Errorf("creating lock file: %w", err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("creating lock file: %w", err)
	}
	return &fileLock{path: path}, nil
}

func (l *fileLock) release() error {
	return os.Remove(l.path)
}
