// AcePanel Core
// Copyright (c) 2026 The AcePanel Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of AcePanel Core.
//
// AcePanel Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// AcePanel Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with AcePanel Core.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/acepanel/acepanel-core/pkg/helpers/syncutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	SchemaVersion = 1
	CfgEnv        = "ACEPANEL_CFG"

	DefaultSerialPort = "/dev/ttyUSB0"
	DefaultAPIPort    = 8686
)

type Values struct {
	Device       Device  `toml:"device,omitempty"`
	Display      Display `toml:"display,omitempty"`
	Service      Service `toml:"service,omitempty"`
	ConfigSchema int     `toml:"config_schema"`
	DebugLogging bool    `toml:"debug_logging"`
}

type Device struct {
	SerialPort string `toml:"serial_port,omitempty"`
	// USBVendorID and USBProductID override the built-in hardware IDs,
	// given as hex strings like "04d9".
	USBVendorID  string `toml:"usb_vendor_id,omitempty"`
	USBProductID string `toml:"usb_product_id,omitempty"`
}

type Display struct {
	IconFont string `toml:"icon_font,omitempty"`
}

type Service struct {
	APIPort        *int     `toml:"api_port,omitempty"`
	APIListen      string   `toml:"api_listen,omitempty"`
	AllowedOrigins []string `toml:"allowed_origins,omitempty"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Device: Device{
		SerialPort: DefaultSerialPort,
	},
}

type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msg("saving new default config to disk")

		err := os.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err := cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	if _, err := os.Stat(c.cfgPath); err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then unmarshal file values on top.
	// This ensures fields not present in the file retain their default values.
	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return errors.New("schema version mismatch")
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	// set current schema version
	c.vals.ConfigSchema = SchemaVersion

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) SerialPort() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Device.SerialPort == "" {
		return DefaultSerialPort
	}
	return c.vals.Device.SerialPort
}

func (c *Instance) SetSerialPort(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Device.SerialPort = path
}

// USBIDs returns the configured USB vendor and product ID overrides, or
// (0, 0) when unset or unparsable so the built-in IDs apply.
func (c *Instance) USBIDs() (vendor, product uint16) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.vals.Device.USBVendorID == "" || c.vals.Device.USBProductID == "" {
		return 0, 0
	}

	v, err := strconv.ParseUint(c.vals.Device.USBVendorID, 16, 16)
	if err != nil {
		log.Warn().Msgf("invalid usb vendor id: %s", c.vals.Device.USBVendorID)
		return 0, 0
	}
	p, err := strconv.ParseUint(c.vals.Device.USBProductID, 16, 16)
	if err != nil {
		log.Warn().Msgf("invalid usb product id: %s", c.vals.Device.USBProductID)
		return 0, 0
	}

	return uint16(v), uint16(p)
}

func (c *Instance) IconFont() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Display.IconFont
}

func (c *Instance) APIPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Service.APIPort == nil {
		return DefaultAPIPort
	}
	return *c.vals.Service.APIPort
}

// SetAPIPort overrides the configured API port for this process only;
// callers persist with Save if they want it to stick.
func (c *Instance) SetAPIPort(port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Service.APIPort = &port
}

// ListenAddr returns the host:port the API server binds to.
func (c *Instance) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	port := DefaultAPIPort
	if c.vals.Service.APIPort != nil {
		port = *c.vals.Service.APIPort
	}

	return net.JoinHostPort(c.vals.Service.APIListen, strconv.Itoa(port))
}

func (c *Instance) AllowedOrigins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.vals.Service.AllowedOrigins))
	copy(out, c.vals.Service.AllowedOrigins)
	return out
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
