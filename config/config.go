// Package config loads the tagd configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dotside-studios/davi-nfc-tagd/nfc"
)

// Drivers.
const (
	DriverSim    = "sim"
	DriverLibnfc = "libnfc"
	DriverPCSC   = "pcsc"
)

const (
	DefaultPort         = 18080
	DefaultPollInterval = 250 * time.Millisecond
)

// Config is the tagd configuration.
type Config struct {
	Driver       string        `yaml:"driver"`
	Device       string        `yaml:"device"`
	Port         int           `yaml:"port"`
	MDNS         bool          `yaml:"mdns"`
	PollInterval time.Duration `yaml:"poll_interval"`

	IsoDepMaxTransceiveLength int  `yaml:"isodep_max_transceive_length"`
	ExtendedLengthApdus       bool `yaml:"extended_length_apdus"`

	// Timeouts maps technology names to send-command timeouts in ms.
	Timeouts map[string]int `yaml:"timeouts"`

	// ReadOnlyTypes lists the NDEF forum types the controller can lock.
	ReadOnlyTypes []int `yaml:"read_only_types"`

	SentryDSN string `yaml:"sentry_dsn"`
	Systray   bool   `yaml:"systray"`
	Debug     bool   `yaml:"debug"`

	// Simulate seeds the sim driver.
	Simulate []SimTag `yaml:"simulate"`
}

// SimTag describes a simulated tag placed in the field at startup.
type SimTag struct {
	Kind       string   `yaml:"kind"` // classic, ultralight, iso15693 or isodep
	UID        string   `yaml:"uid"`
	Sak        int      `yaml:"sak"`
	Size       int      `yaml:"size"`
	Pages      int      `yaml:"pages"`
	Blocks     int      `yaml:"blocks"`
	BlockSize  int      `yaml:"block_size"`
	Historical string   `yaml:"historical"`
	Formatable bool     `yaml:"formatable"`
	Ndef       *SimNdef `yaml:"ndef"`
}

// SimNdef is the NDEF container of a simulated tag.
type SimNdef struct {
	ForumType int    `yaml:"forum_type"`
	Capacity  int    `yaml:"capacity"`
	Text      string `yaml:"text"`
	URI       string `yaml:"uri"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Driver:                    DriverSim,
		Port:                      DefaultPort,
		MDNS:                      true,
		PollInterval:              DefaultPollInterval,
		IsoDepMaxTransceiveLength: nfc.IsoDepShortMaxTransceiveLength,
		ReadOnlyTypes:             []int{1, 2},
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges and names.
func (c *Config) Validate() error {
	var errs []error
	switch c.Driver {
	case DriverSim, DriverLibnfc, DriverPCSC:
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q", c.Driver))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive"))
	}
	if c.IsoDepMaxTransceiveLength < nfc.IsoDepShortMaxTransceiveLength ||
		c.IsoDepMaxTransceiveLength > nfc.IsoDepExtendedMaxTransceiveLength {
		errs = append(errs, fmt.Errorf("isodep_max_transceive_length %d out of range [%d, %d]",
			c.IsoDepMaxTransceiveLength, nfc.IsoDepShortMaxTransceiveLength, nfc.IsoDepExtendedMaxTransceiveLength))
	}
	if _, err := c.TechnologyTimeouts(); err != nil {
		errs = append(errs, err)
	}
	for i, t := range c.Simulate {
		if err := t.validate(); err != nil {
			errs = append(errs, fmt.Errorf("simulate[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// TechnologyTimeouts returns Timeouts keyed by technology.
func (c *Config) TechnologyTimeouts() (map[nfc.Technology]int, error) {
	out := make(map[nfc.Technology]int, len(c.Timeouts))
	for name, ms := range c.Timeouts {
		tech, err := nfc.ParseTechnology(name)
		if err != nil {
			return nil, fmt.Errorf("timeouts: %w", err)
		}
		if ms < 0 {
			return nil, fmt.Errorf("timeouts: negative timeout for %s", name)
		}
		out[tech] = ms
	}
	return out, nil
}

func (t SimTag) validate() error {
	if _, err := nfc.HexToBytes(t.UID); err != nil || t.UID == "" {
		return fmt.Errorf("invalid uid %q", t.UID)
	}
	switch t.Kind {
	case "classic", "ultralight", "iso15693", "isodep":
	default:
		return fmt.Errorf("unknown kind %q", t.Kind)
	}
	if t.Ndef != nil && t.Formatable {
		return fmt.Errorf("a tag cannot be both formatted and formatable")
	}
	return nil
}
