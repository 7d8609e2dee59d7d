// Package config handles the agent's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	telemetry "github.com/rychale/telemetry-influxdb"
)

// Config is the root configuration structure for the agent.
type Config struct {
	Server  ServerConfig      `yaml:"server"`
	Batch   BatchConfig       `yaml:"batch,omitempty"`
	Tags    map[string]string `yaml:"tags,omitempty"`
	Runtime RuntimeConfig     `yaml:"runtime,omitempty"`
	Admin   AdminConfig       `yaml:"admin,omitempty"`
}

// ServerConfig locates the InfluxDB server and carries its credentials.
type ServerConfig struct {
	Transport   string        `yaml:"transport"` // http (default) or udp
	Version     int           `yaml:"version"`   // 1 (default) or 2
	URL         string        `yaml:"url"`
	Database    string        `yaml:"database"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Org         string        `yaml:"org"`
	Bucket      string        `yaml:"bucket"`
	Token       string        `yaml:"token"`
	Addr        string        `yaml:"addr"`
	PayloadSize int           `yaml:"payloadSize"`
	Timeout     time.Duration `yaml:"timeout"`
}

// BatchConfig shapes batching and write pacing.
type BatchConfig struct {
	Time         time.Duration `yaml:"time"`
	QueueSize    int           `yaml:"queueSize"`
	WritesPerSec float64       `yaml:"writesPerSec"`
}

// RuntimeConfig controls the runtime stats sampler.
type RuntimeConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// AdminConfig is the agent's own HTTP surface for health and metrics. An
// empty addr disables it.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// LoadConfig reads and parses a YAML configuration file. ${VAR} references
// are expanded from the environment before parsing, so credentials can stay
// out of the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// ClientConfig maps the server, batch and tag sections onto a client
// configuration. The caller attaches the logger.
func (c *Config) ClientConfig() telemetry.Config {
	return telemetry.Config{
		Transport:    c.Server.Transport,
		Version:      c.Server.Version,
		URL:          c.Server.URL,
		Database:     c.Server.Database,
		Username:     c.Server.Username,
		Password:     c.Server.Password,
		Org:          c.Server.Org,
		Bucket:       c.Server.Bucket,
		Token:        c.Server.Token,
		Addr:         c.Server.Addr,
		PayloadSize:  c.Server.PayloadSize,
		Timeout:      c.Server.Timeout,
		BatchTime:    c.Batch.Time,
		QueueSize:    c.Batch.QueueSize,
		WritesPerSec: c.Batch.WritesPerSec,
		Tags:         c.Tags,
	}
}
