// Package config loads the plain YAML configuration documents shared by all
// three roles, the way this codebase's cmd/bee loads its own plain config
// file before wiring its agent: open, unmarshal, fill defaults.
package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// DefaultPort is the port sweepserver binds to (on 0.0.0.0) when its config
// has no bind address. An address given without a port, and a scanner's
// server address, are used as written and not completed with this port.
const DefaultPort = 5555

// ServerConfig is the server role's configuration document.
type ServerConfig struct {
	Dirs   []string `yaml:"sweep_dirs"`
	ID     string   `yaml:"id"`
	Bind   string   `yaml:"bind"`
	HashDB string   `yaml:"hash_db"`
	Debug  bool     `yaml:"-"`
}

// ScannerConfig is the scanner role's configuration document.
type ScannerConfig struct {
	Dirs   []string `yaml:"sweep_dirs"`
	ID     string   `yaml:"id"`
	Server string   `yaml:"server"`
	HashDB string   `yaml:"hash_db"`
}

// ShrinkerConfig is the shrinker role's configuration document: it also
// consumes the scan report keys, loaded separately via pkg/report.
type ShrinkerConfig struct {
	Dirs      []string `yaml:"sweep_dirs"`
	ID        string   `yaml:"id"`
	Server    string   `yaml:"server"`
	LocalMode bool     `yaml:"local_mode"`
}

// Load reads path and unmarshals its YAML content into into.
func Load(path string, into interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// WithDefaults fills a missing id with a random uuid and returns it; callers
// persist nothing back to disk, the generated id is simply held in memory
// for the lifetime of the process.
func WithDefaults(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// NewLogger builds the timestamped text logger every role's CLI entry point
// uses, raising the level to Debug when --debug is set.
func NewLogger(debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
