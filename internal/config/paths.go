package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultConfigPath returns the resolved config file path using a fallback
// chain:
//
//  1. $IMRPCD_CONFIG environment variable (if set and non-empty)
//  2. $XDG_CONFIG_HOME/imrpcd/config.yaml (if XDG_CONFIG_HOME is set)
//  3. ~/.config/imrpcd/config.yaml
func DefaultConfigPath() string {
	if envPath := strings.TrimSpace(os.Getenv("IMRPCD_CONFIG")); envPath != "" {
		return envPath
	}

	return filepath.Join(xdgConfigHome(), "imrpcd", "config.yaml")
}

// DefaultDBPath returns the resolved chat.db path:
//
//  1. $HOME/Library/Messages/chat.db
func DefaultDBPath() string {
	return filepath.Join(homeDir(), "Library", "Messages", "chat.db")
}

func xdgConfigHome() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); dir != "" {
		return dir
	}
	return filepath.Join(homeDir(), ".config")
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}

	// fallback for unusual environments
	return "/tmp/imrpcd-" + strconv.Itoa(os.Getuid())
}
