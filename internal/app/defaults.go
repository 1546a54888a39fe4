package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// EnvFileName is an optional dotenv file in the base directory. Variables
// already set in the environment win over the file.
const EnvFileName = "devcat.env"

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DEVCAT_HOME: base directory for devcat data (default: ~/.local/share/devcat)
//   - DEVCAT_CONFIG_PATH: config file location (default: ~/.config/devcat.toml)
//
// DEVCAT_CONFIG_PATH may also come from devcat.env in the base directory.
func GetDefaults() (map[string]string, error) {
	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	if err := loadEnvFile(filepath.Join(baseDir, EnvFileName)); err != nil {
		return nil, err
	}

	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// getConfigPath returns the config file path, checking DEVCAT_CONFIG_PATH env var first,
// then falling back to the default ~/.config/devcat.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("DEVCAT_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "devcat.toml"), nil
}

// getBaseDir returns the base directory for devcat data, checking DEVCAT_HOME env var first,
// then falling back to the XDG default ~/.local/share/devcat.
func getBaseDir() (string, error) {
	if path := os.Getenv("DEVCAT_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "devcat"), nil
}
