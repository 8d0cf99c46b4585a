/*
Package config loads and validates the ledger configuration.

PURPOSE:
  One YAML file drives the whole subsystem: which store backs the ledger,
  the declared tag schema, cache TTL and capacity, the flush interval,
  and the aggregation tunables. Validation happens here, once, at load -
  operations never type-sniff at runtime.

EXAMPLE (config.yml):

  storage:
    type: elasticsearch
    elasticsearch:
      addresses: ["http://localhost:9200"]
      prefix: "bank-"
      replicas: 0
    sqlite:
      path: "./data/tagledger.db"
  tags:
    player-uuid: string
    player-name: string
    team-rank: int
  cache:
    ttl: 5s
    capacity: 1024
  flush_interval: 1s
  aggregation:
    sync_delay: 3s
    frequency: 2s
  allow_empty_tags: false

SEE ALSO:
  - bank/tags.go: Schema the tag declarations map onto
  - cmd/server:   Consumes this at startup
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/tagledger/bank"
)

// =============================================================================
// DURATION - yaml-friendly time.Duration
// =============================================================================

// Duration wraps time.Duration so YAML values like "5s" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// =============================================================================
// CONFIG
// =============================================================================

type Config struct {
	Storage        Storage           `yaml:"storage"`
	Tags           map[string]string `yaml:"tags"`
	Cache          Cache             `yaml:"cache"`
	FlushInterval  Duration          `yaml:"flush_interval"`
	Aggregation    Aggregation       `yaml:"aggregation"`
	AllowEmptyTags bool              `yaml:"allow_empty_tags"`
}

type Storage struct {
	Type          string        `yaml:"type"` // "elasticsearch" or "sqlite"
	Elasticsearch Elasticsearch `yaml:"elasticsearch"`
	SQLite        SQLite        `yaml:"sqlite"`
}

type Elasticsearch struct {
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Prefix    string   `yaml:"prefix"`
	Replicas  int      `yaml:"replicas"`
}

type SQLite struct {
	Path string `yaml:"path"`
}

type Cache struct {
	TTL      Duration `yaml:"ttl"`
	Capacity int      `yaml:"capacity"`
}

type Aggregation struct {
	// SyncDelay is how far behind the latest ledger timestamp the
	// aggregation may lag, to tolerate flush-batch latency.
	SyncDelay Duration `yaml:"sync_delay"`
	// Frequency is how often the aggregation job re-runs.
	Frequency Duration `yaml:"frequency"`
}

// Load reads, parses and validates a configuration file. Validation
// failures are fatal: a subsystem with a broken schema must not start.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when fields are omitted.
func Default() *Config {
	return &Config{
		Storage: Storage{
			Type: "sqlite",
			Elasticsearch: Elasticsearch{
				Addresses: []string{"http://localhost:9200"},
				Prefix:    "bank-",
			},
			SQLite: SQLite{Path: "tagledger.db"},
		},
		Cache: Cache{
			TTL:      Duration(bank.DefaultCacheTTL),
			Capacity: bank.DefaultCacheCapacity,
		},
		FlushInterval: Duration(bank.DefaultFlushInterval),
		Aggregation: Aggregation{
			SyncDelay: Duration(3 * time.Second),
			Frequency: Duration(2 * time.Second),
		},
	}
}

// Schema converts the declared tag kinds into a bank.Schema.
func (c *Config) Schema() (bank.Schema, error) {
	schema := make(bank.Schema, len(c.Tags))
	for name, kind := range c.Tags {
		switch bank.TagKind(kind) {
		case bank.KindString, bank.KindInt, bank.KindFloat, bank.KindBool:
			schema[name] = bank.TagKind(kind)
		default:
			return nil, &bank.SchemaError{
				Field:  name,
				Reason: fmt.Sprintf("unknown tag kind %q (want string, int, float or bool)", kind),
			}
		}
	}
	return schema, nil
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "elasticsearch", "sqlite":
	default:
		return &bank.SchemaError{Field: "storage.type", Reason: fmt.Sprintf("unsupported storage type %q", c.Storage.Type)}
	}
	if _, err := c.Schema(); err != nil {
		return err
	}
	if c.Cache.TTL < 0 {
		return &bank.SchemaError{Field: "cache.ttl", Reason: "must not be negative"}
	}
	if c.Cache.Capacity < 0 {
		return &bank.SchemaError{Field: "cache.capacity", Reason: "must not be negative"}
	}
	return nil
}
