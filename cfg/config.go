package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"

	"github.com/opencatalyst/catalyst/alert"
)

// BusConfiguration controls the in-memory event bus
type BusConfiguration struct {
	Capacity int `toml:"capacity"` // Ring size, must be a power of two
}

// AuditConfiguration controls the durable audit log
type AuditConfiguration struct {
	Enabled      bool     `toml:"enabled"`
	MaskedFields []string `toml:"masked_fields"` // Field names redacted before persisting
}

// SearchConfiguration controls index sync and the bulk sink
type SearchConfiguration struct {
	Enabled         bool   `toml:"enabled"`
	Endpoint        string `toml:"endpoint"`
	Index           string `toml:"index"`
	MaxPayloadBytes int    `toml:"max_payload_bytes"` // Bulk call ceiling, 0 = default
}

// SubjectsConfiguration controls the user/team directory behind rule
// evaluation
type SubjectsConfiguration struct {
	Driver          string `toml:"driver"` // "sqlite3" or "mysql"
	DSN             string `toml:"dsn"`
	CacheSize       int    `toml:"cache_size"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
}

// NotifyConfiguration controls the UI notification hub
type NotifyConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfiguration controls the admin HTTP API
type AdminConfiguration struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID string `toml:"instance_id"`
	DataDir    string `toml:"data_dir"`

	Bus        BusConfiguration        `toml:"bus"`
	Audit      AuditConfiguration      `toml:"audit"`
	Search     SearchConfiguration     `toml:"search"`
	Subjects   SubjectsConfiguration   `toml:"subjects"`
	Notify     NotifyConfiguration     `toml:"notify"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`

	// Subscriptions seeded from the config file; the admin API can add
	// more at runtime
	Subscriptions []alert.Subscription `toml:"subscription"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin API port (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Verbose logging (overrides config)")
)

// Default configuration
var Config = &Configuration{
	DataDir: "./catalyst-data",

	Bus: BusConfiguration{
		Capacity: 1024,
	},

	Audit: AuditConfiguration{
		Enabled:      true,
		MaskedFields: []string{},
	},

	Search: SearchConfiguration{
		Enabled:  false,
		Endpoint: "http://localhost:9200",
		Index:    "catalyst-entities",
	},

	Subjects: SubjectsConfiguration{
		Driver:          "sqlite3",
		DSN:             "",
		CacheSize:       1024,
		CacheTTLSeconds: 300,
	},

	Notify: NotifyConfiguration{
		Enabled: true,
	},

	Admin: AdminConfiguration{
		Address: "0.0.0.0",
		Port:    8585,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	if Config.InstanceID == "" {
		id, err := generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance id: %w", err)
		}
		Config.InstanceID = id
		log.Info().Str("instance_id", Config.InstanceID).Msg("Auto-generated instance id")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateInstanceID derives a stable instance id from the machine id
func generateInstanceID() (string, error) {
	id, err := machineid.ProtectedID("catalyst")
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Bus.Capacity < 2 || Config.Bus.Capacity&(Config.Bus.Capacity-1) != 0 {
		return fmt.Errorf("bus capacity must be a power of two, got %d", Config.Bus.Capacity)
	}

	if Config.Admin.Port < 1 || Config.Admin.Port > 65535 {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Search.Enabled {
		if Config.Search.Endpoint == "" {
			return fmt.Errorf("search endpoint is required when search is enabled")
		}
		if Config.Search.Index == "" {
			return fmt.Errorf("search index is required when search is enabled")
		}
		if Config.Search.MaxPayloadBytes < 0 {
			return fmt.Errorf("search max payload bytes must be >= 0")
		}
	}

	switch Config.Subjects.Driver {
	case "", "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported subject directory driver: %s", Config.Subjects.Driver)
	}

	if Config.Subjects.CacheSize < 1 {
		return fmt.Errorf("subject cache size must be >= 1")
	}

	if Config.Subjects.CacheTTLSeconds < 1 {
		return fmt.Errorf("subject cache TTL must be >= 1 second")
	}

	switch Config.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	for i := range Config.Subscriptions {
		if err := Config.Subscriptions[i].Validate(); err != nil {
			return fmt.Errorf("invalid seed subscription: %w", err)
		}
	}

	return nil
}
