// Package config loads and validates the YAML configuration document that
// drives a blockvault process: storage backends, transforms, IO sources,
// the metadata engine connection, and process-wide defaults.
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
)

// currentMajorVersion is the only configurationVersion major we accept.
const currentMajorVersion = "1"

// Config is the parsed, defaulted configuration document.
type Config struct {
	ConfigurationVersion string           `yaml:"configurationVersion"`
	ProcessName          string           `yaml:"processName"`
	LogFile              string           `yaml:"logFile"`
	BlockSize            int              `yaml:"blockSize"`
	HashFunction         string           `yaml:"hashFunction"`
	DefaultStorage       string           `yaml:"defaultStorage"`
	MetadataEngine       string           `yaml:"metadataEngine"`
	Storages             []StorageConfig  `yaml:"storages"`
	Transforms           []ModuleConfig   `yaml:"transforms"`
	IOs                  []ModuleConfig   `yaml:"ios"`
	NBD                  NBDConfig        `yaml:"nbd"`
}

// NBDConfig holds nbd-server related settings.
type NBDConfig struct {
	CacheDirectory string `yaml:"cacheDirectory"`
}

// StorageConfig names and configures one storage backend instance.
type StorageConfig struct {
	Name          string         `yaml:"name"`
	Module        string         `yaml:"module"`
	StorageID     int            `yaml:"storageId"`
	Configuration map[string]any `yaml:"configuration"`
}

// ModuleConfig names and configures one transform or IO source instance.
type ModuleConfig struct {
	Name          string         `yaml:"name"`
	Module        string         `yaml:"module"`
	Configuration map[string]any `yaml:"configuration"`
}

var recognizedTopLevelKeys = map[string]bool{
	"configurationVersion": true,
	"processName":          true,
	"logFile":              true,
	"blockSize":            true,
	"hashFunction":         true,
	"defaultStorage":       true,
	"metadataEngine":       true,
	"storages":             true,
	"transforms":           true,
	"ios":                  true,
	"nbd":                  true,
}

// Load reads and validates configuration from a YAML file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindConfiguration, err, "reading configuration file %s", path)
	}
	return Parse(data)
}

// Parse validates and decodes a YAML configuration document, applying
// defaults for any field the document omits.
func Parse(data []byte) (*Config, error) {
	if err := rejectUnknownKeys(data); err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindConfiguration, err, "parsing configuration")
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ProcessName:  "blockvault",
		HashFunction: "blake2b-256",
		BlockSize:    4 * 1024 * 1024,
	}
}

func validate(cfg *Config) error {
	if cfg.ConfigurationVersion == "" {
		return blockvaulterrors.Configurationf("configurationVersion is required")
	}
	major, _, _ := strings.Cut(cfg.ConfigurationVersion, ".")
	if major != currentMajorVersion {
		return blockvaulterrors.Configurationf("unsupported configurationVersion %q, expected %s.x", cfg.ConfigurationVersion, currentMajorVersion)
	}
	if cfg.BlockSize <= 0 {
		return blockvaulterrors.Configurationf("blockSize must be positive, got %d", cfg.BlockSize)
	}
	if cfg.MetadataEngine == "" {
		return blockvaulterrors.Configurationf("metadataEngine is required")
	}

	seenStorages := make(map[string]bool)
	for _, s := range cfg.Storages {
		if s.Name == "" {
			return blockvaulterrors.Configurationf("storages entries require a name")
		}
		if s.Module == "" {
			return blockvaulterrors.Configurationf("storage %q requires a module", s.Name)
		}
		if seenStorages[s.Name] {
			return blockvaulterrors.Configurationf("duplicate storage name %q", s.Name)
		}
		seenStorages[s.Name] = true
	}
	if cfg.DefaultStorage != "" && !seenStorages[cfg.DefaultStorage] {
		return blockvaulterrors.Configurationf("defaultStorage %q does not match any configured storage", cfg.DefaultStorage)
	}

	return nil
}

// rejectUnknownKeys walks the top-level mapping and returns a
// ConfigurationError naming any key not recognized by the schema.
func rejectUnknownKeys(data []byte) error {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindConfiguration, err, "parsing configuration")
	}
	for key := range raw {
		if !recognizedTopLevelKeys[key] {
			return blockvaulterrors.Configurationf("unrecognized configuration key %q", key)
		}
	}
	return nil
}

// StorageByName returns the configuration entry for a named storage.
func (c *Config) StorageByName(name string) (StorageConfig, bool) {
	for _, s := range c.Storages {
		if s.Name == name {
			return s, true
		}
	}
	return StorageConfig{}, false
}
