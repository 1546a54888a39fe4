package mount

import (
	"fmt"

	"github.com/spf13/afero"

	"devcat/internal/config"
	"devcat/internal/devcat"
)

// NewMounterFromConfig creates a Mounter based on the mount config type.
// fs backs the memory mounter and is ignored otherwise.
func NewMounterFromConfig(cfg config.MountConfig, fs afero.Fs, logger devcat.Logger) (devcat.Mounter, error) {
	switch cfg.Type {
	case "system":
		return NewSystemMounter(cfg.Options, cfg.Timeout.Std(), logger), nil
	case "memory":
		return NewMemoryMounter(fs), nil
	default:
		return nil, fmt.Errorf("unknown mount type: %s", cfg.Type)
	}
}
