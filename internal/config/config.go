package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/nuka-mind/internal/embedding"
	"github.com/nidhogg/nuka-mind/internal/notify"
)

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Persona     PersonaConfig     `json:"persona"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Database    DatabaseConfig    `json:"database"`
	Embedding   embedding.Config  `json:"embedding"`
	Notify      NotifyConfig      `json:"notify"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type PersonaConfig struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Traits         map[string]float64 `json:"traits"`
	Targets        map[string]float64 `json:"targets,omitempty"`
	AdjustmentRate float64            `json:"adjustment_rate"`
}

// MaintenanceConfig drives the world clock and the periodic sweeps.
// Intervals are in world time and keyed by operation name.
type MaintenanceConfig struct {
	ClockInterval Duration            `json:"clock_interval"`
	ClockSpeed    float64             `json:"clock_speed"`
	Intervals     map[string]Duration `json:"intervals"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

type NotifyConfig struct {
	MinConfidence float64              `json:"min_confidence"`
	Slack         *notify.SlackConfig   `json:"slack,omitempty"`
	Discord       *notify.DiscordConfig `json:"discord,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("90m").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config JSON after environment substitution.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration for a local, store-less mind.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// DefaultIntervals are the world-time maintenance intervals.
func DefaultIntervals() map[string]Duration {
	return map[string]Duration{
		"consolidate":  Duration(time.Hour),
		"tick":         Duration(time.Hour),
		"analyze":      Duration(6 * time.Hour),
		"influence":    Duration(6 * time.Hour),
		"reflect":      Duration(12 * time.Hour),
		"long_reflect": Duration(7 * 24 * time.Hour),
		"prune":        Duration(24 * time.Hour),
		"drift":        Duration(24 * time.Hour),
		"save":         Duration(15 * time.Minute),
		"graph_decay":  Duration(24 * time.Hour),
	}
}

// ApplyDefaults fills zero values. Intervals given in the file override
// the defaults one by one; "0s" disables an operation.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Persona.ID == "" {
		c.Persona.ID = "default"
	}
	if c.Persona.Name == "" {
		c.Persona.Name = "Nuka"
	}
	if c.Maintenance.ClockInterval == 0 {
		c.Maintenance.ClockInterval = Duration(time.Minute)
	}
	if c.Maintenance.ClockSpeed <= 0 {
		c.Maintenance.ClockSpeed = 1
	}
	intervals := DefaultIntervals()
	for op, d := range c.Maintenance.Intervals {
		intervals[op] = d
	}
	c.Maintenance.Intervals = intervals
	if c.Database.Postgres.Migrations == "" {
		c.Database.Postgres.Migrations = "migrations"
	}
	if c.Database.Qdrant.Port == 0 {
		c.Database.Qdrant.Port = 6334
	}
	if c.Notify.MinConfidence == 0 {
		c.Notify.MinConfidence = 0.7
	}
}

// StdIntervals converts the maintenance intervals for the scheduler.
func (m MaintenanceConfig) StdIntervals() map[string]time.Duration {
	out := make(map[string]time.Duration, len(m.Intervals))
	for op, d := range m.Intervals {
		out[op] = d.Std()
	}
	return out
}
