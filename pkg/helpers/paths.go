package helpers

import (
	"path/filepath"

	"github.com/acepanel/acepanel-core/pkg/config"
	"github.com/adrg/xdg"
)

// ConfigDir returns the directory holding config.toml and the text element
// store, creating nothing.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, config.AppName)
}

// DataDir returns the directory for runtime data such as logs.
func DataDir() string {
	return filepath.Join(xdg.DataHome, config.AppName)
}
