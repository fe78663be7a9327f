package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/davi-nfc-tagd/nfc"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverSim, cfg.Driver)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.True(t, cfg.MDNS)
}

func TestParse(t *testing.T) {
	data := []byte(`
driver: pcsc
device: "ACS ACR122U"
port: 9000
mdns: false
poll_interval: 500ms
isodep_max_transceive_length: 65546
extended_length_apdus: true
timeouts:
  isodep: 1200
  MifareClassic: 300
read_only_types: [1, 2, 4]
debug: true
simulate:
  - kind: ultralight
    uid: "04A1B2C3D4E5F6"
    pages: 45
    ndef:
      forum_type: 2
      capacity: 137
      text: hello
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, DriverPCSC, cfg.Driver)
	assert.Equal(t, "ACS ACR122U", cfg.Device)
	assert.Equal(t, 9000, cfg.Port)
	assert.False(t, cfg.MDNS)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.True(t, cfg.ExtendedLengthApdus)
	assert.Equal(t, []int{1, 2, 4}, cfg.ReadOnlyTypes)
	assert.True(t, cfg.Debug)

	timeouts, err := cfg.TechnologyTimeouts()
	require.NoError(t, err)
	assert.Equal(t, map[nfc.Technology]int{nfc.TechIsoDep: 1200, nfc.TechMifareClassic: 300}, timeouts)

	require.Len(t, cfg.Simulate, 1)
	require.NotNil(t, cfg.Simulate[0].Ndef)
	assert.Equal(t, "hello", cfg.Simulate[0].Ndef.Text)
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("device: usb:001\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, nfc.IsoDepShortMaxTransceiveLength, cfg.IsoDepMaxTransceiveLength)
	assert.Equal(t, []int{1, 2}, cfg.ReadOnlyTypes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"driver", func(c *Config) { c.Driver = "serial" }, "unknown driver"},
		{"port", func(c *Config) { c.Port = 70000 }, "port 70000"},
		{"poll interval", func(c *Config) { c.PollInterval = 0 }, "poll_interval"},
		{"isodep length", func(c *Config) { c.IsoDepMaxTransceiveLength = 100 }, "isodep_max_transceive_length"},
		{"timeout technology", func(c *Config) { c.Timeouts = map[string]int{"bluetooth": 5} }, "unknown technology"},
		{"negative timeout", func(c *Config) { c.Timeouts = map[string]int{"NfcA": -1} }, "negative timeout"},
		{"sim uid", func(c *Config) { c.Simulate = []SimTag{{Kind: "classic", UID: "XYZ"}} }, "invalid uid"},
		{"sim kind", func(c *Config) { c.Simulate = []SimTag{{Kind: "felica", UID: "0102"}} }, "unknown kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("driver: libnfc\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverLibnfc, cfg.Driver)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("driver: [\n"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}
