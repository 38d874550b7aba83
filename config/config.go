// Package config describes the SPI device nodes the host binds drivers to.
//
// Example file:
//
//	devices:
//	  - name: dpm0
//	    compatible: ["hilscher,netx52"]
//	    transport: periph
//	    port: SPI0.0
//	    speed_hz: 1000000
//	    mode: 3
//	  - name: usb-bridge
//	    compatible: ["hilscher,netx52"]
//	    transport: mcp2210
//	    chip_select: 1
//	  - name: bench
//	    compatible: ["hilscher,netx52"]
//	    transport: sim
//	    port: netx51
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

type Transport string

const (
	TransportPeriph  Transport = "periph"
	TransportGobot   Transport = "gobot"
	TransportMCP2210 Transport = "mcp2210"
	// TransportSim is an emulated controller; Port names its family.
	TransportSim Transport = "sim"
)

const DefaultSpeed = 1_000_000

// DefaultMode is the SPI mode used when a node does not set one.
const DefaultMode = 3

var ErrInvalid = errors.New("invalid device configuration")

type Device struct {
	Name       string    `yaml:"name"`
	Compatible []string  `yaml:"compatible"`
	Transport  Transport `yaml:"transport"`
	// Port is the periph port name ("SPI0.0"), the gobot bus number, the
	// MCP2210 enumeration index or the emulated family, depending on
	// Transport.
	Port       string `yaml:"port,omitempty"`
	SpeedHz    int64  `yaml:"speed_hz,omitempty"`
	Mode       *int   `yaml:"mode,omitempty"`
	ChipSelect int    `yaml:"chip_select,omitempty"`
}

type File struct {
	Devices []Device `yaml:"devices"`
}

// Matches reports whether the node shares a compatible tag with the driver.
func (d Device) Matches(compatible []string) bool {
	for _, c := range d.Compatible {
		if slices.Contains(compatible, c) {
			return true
		}
	}
	return false
}

// Speed returns the configured clock or DefaultSpeed.
func (d Device) Speed() int64 {
	if d.SpeedHz <= 0 {
		return DefaultSpeed
	}
	return d.SpeedHz
}

// SPIMode returns the configured mode or DefaultMode.
func (d Device) SPIMode() int {
	if d.Mode == nil {
		return DefaultMode
	}
	return *d.Mode
}

func (d Device) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalid)
	}
	switch d.Transport {
	case TransportPeriph, TransportGobot, TransportMCP2210, TransportSim:
	default:
		return fmt.Errorf("%w: %s: unknown transport %q", ErrInvalid, d.Name, d.Transport)
	}
	if m := d.SPIMode(); m < 0 || m > 3 {
		return fmt.Errorf("%w: %s: spi mode %d out of range 0..3", ErrInvalid, d.Name, m)
	}
	if d.ChipSelect < 0 || d.ChipSelect > 8 {
		return fmt.Errorf("%w: %s: chip select %d out of range 0..8", ErrInvalid, d.Name, d.ChipSelect)
	}
	if d.SpeedHz < 0 {
		return fmt.Errorf("%w: %s: negative speed", ErrInvalid, d.Name)
	}
	return nil
}

func (f *File) Validate() error {
	seen := make(map[string]struct{}, len(f.Devices))
	for _, d := range f.Devices {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, ok := seen[d.Name]; ok {
			return fmt.Errorf("%w: duplicate device name %q", ErrInvalid, d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config %s: %w", path, err)
	}
	return Parse(data)
}
