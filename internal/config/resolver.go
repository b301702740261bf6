package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the configuration file name searched for by ResolvePath.
const FileName = "clarity.yaml"

// ResolvePath returns explicit when set, otherwise the first existing file
// of: $XDG_CONFIG_HOME/clarity/clarity.yaml (or ~/.config/clarity/...),
// then ./clarity.yaml.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	candidates := []string{DefaultPath()}
	candidates = append(candidates, FileName)

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("config: no configuration file found (searched: %v)", candidates)
}

// DefaultPath is where `clarity init` writes the configuration.
func DefaultPath() string {
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		return filepath.Join(xdg, "clarity", FileName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "clarity", FileName)
}

// DefaultDataDir is the data directory used when data_dir is unset.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "clarity")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "clarity")
}
