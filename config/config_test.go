package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
devices:
  - name: dpm0
    compatible: ["hilscher,netx52"]
    transport: periph
    port: SPI0.0
    speed_hz: 2000000
    mode: 3
  - name: bridge
    compatible: ["vendor,other", "hilscher,netx52"]
    transport: mcp2210
    chip_select: 1
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, f.Devices, 2)

	dpm := f.Devices[0]
	assert.Equal(t, "dpm0", dpm.Name)
	assert.Equal(t, TransportPeriph, dpm.Transport)
	assert.Equal(t, "SPI0.0", dpm.Port)
	assert.Equal(t, int64(2_000_000), dpm.Speed())
	assert.Equal(t, 3, dpm.SPIMode())
	assert.True(t, dpm.Matches([]string{"hilscher,netx52"}))

	bridge := f.Devices[1]
	assert.Equal(t, TransportMCP2210, bridge.Transport)
	assert.Equal(t, 1, bridge.ChipSelect)
	assert.Equal(t, int64(DefaultSpeed), bridge.Speed())
	assert.Nil(t, bridge.Mode)
	assert.Equal(t, DefaultMode, bridge.SPIMode())
	assert.True(t, bridge.Matches([]string{"hilscher,netx52"}))
	assert.False(t, bridge.Matches([]string{"hilscher,netx100"}))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		given string
	}{
		{"missing name", "devices:\n  - transport: periph\n"},
		{"unknown transport", "devices:\n  - name: a\n    transport: uart\n"},
		{"negative speed", "devices:\n  - name: a\n    transport: sim\n    speed_hz: -1\n"},
		{"mode", "devices:\n  - name: a\n    transport: periph\n    mode: 4\n"},
		{"chip select", "devices:\n  - name: a\n    transport: mcp2210\n    chip_select: 9\n"},
		{"duplicate", "devices:\n  - name: a\n    transport: periph\n  - name: a\n    transport: gobot\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.given))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
	_, err := Parse([]byte("devices: [\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Devices, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_ExplicitModeZero(t *testing.T) {
	f, err := Parse([]byte("devices:\n  - name: a\n    transport: periph\n    mode: 0\n  - name: b\n    transport: mcp2210\n"))
	require.NoError(t, err)
	require.NotNil(t, f.Devices[0].Mode)
	assert.Equal(t, 0, f.Devices[0].SPIMode())
	assert.Equal(t, 3, f.Devices[1].SPIMode())
}
