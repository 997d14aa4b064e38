package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// appName is the directory name used under the XDG base directories.
const appName = "wcbatch"

// configFileName is the config file name inside the app config directory.
const configFileName = "config.toml"

// credentialsFileName is the persisted credential file name. It lives under
// the XDG state directory, not config, since it is machine-written data.
const credentialsFileName = "credentials.json"

// DefaultConfigPath returns the default config file location,
// e.g. ~/.config/wcbatch/config.toml on Linux.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, configFileName)
}

// DefaultCredentialsPath returns the default credential store location,
// e.g. ~/.local/state/wcbatch/credentials.json on Linux.
func DefaultCredentialsPath() string {
	return filepath.Join(xdg.StateHome, appName, credentialsFileName)
}
