package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxZoom is the deepest slippy-map zoom level accepted for tile downloads.
const MaxZoom = 22

// Config is the root configuration structure.
// It is read-only after Load() returns and safe for concurrent reads.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Monitor MonitorConfig `yaml:"monitor"`
	Queue   QueueConfig   `yaml:"queue"`
	Tiles   TilesConfig   `yaml:"tiles"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains the local agent's HTTP settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	AuthToken       string   `yaml:"-"` // env-only; empty disables auth
}

// APIConfig describes the backend the agent syncs with.
type APIConfig struct {
	BaseURL      string   `yaml:"base_url"`
	LivenessPath string   `yaml:"liveness_path"`
	Timeout      Duration `yaml:"timeout"`
	Token        string   `yaml:"-"` // env-only, never in YAML
}

// StorageConfig contains local persistence settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// MonitorConfig controls reachability probing.
type MonitorConfig struct {
	Interval     Duration `yaml:"interval"`
	ProbeTimeout Duration `yaml:"probe_timeout"`
}

// QueueConfig controls queue replay.
type QueueConfig struct {
	DrainDelay       Duration `yaml:"drain_delay"`
	AutoSyncInterval Duration `yaml:"auto_sync_interval"`
}

// TilesConfig controls offline map tile downloads.
type TilesConfig struct {
	Dir           string       `yaml:"dir"`
	URLTemplate   string       `yaml:"url_template"`
	ZoomLevels    []int        `yaml:"zoom_levels"`
	BatchSize     int          `yaml:"batch_size"`
	BatchPause    Duration     `yaml:"batch_pause"`
	RetryAttempts int          `yaml:"retry_attempts"`
	RetryBackoff  Duration     `yaml:"retry_backoff"`
	MaxTiles      int          `yaml:"max_tiles"`
	S3            TileS3Config `yaml:"s3"`
}

// TileS3Config points at a bucket of pre-rendered tiles. An empty bucket
// means tiles come from URLTemplate instead.
type TileS3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	UseSSL    *bool  `yaml:"use_ssl"`
	AccessKey string `yaml:"-"` // env-only
	SecretKey string `yaml:"-"` // env-only
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("FIELDSYNC_CONFIG_PATH", "config/fieldsync.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDefaults() *Config {
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Port:            8765,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(5 * time.Minute), // tile batches can be long
			ShutdownTimeout: Duration(15 * time.Second),
		},
		API: APIConfig{
			BaseURL:      "http://localhost:8080",
			LivenessPath: "/api/v1/health",
			Timeout:      Duration(30 * time.Second),
		},
		Storage: StorageConfig{
			Path: "data/fieldsync.db",
		},
		Monitor: MonitorConfig{
			Interval:     Duration(10 * time.Second),
			ProbeTimeout: Duration(3 * time.Second),
		},
		Queue: QueueConfig{
			DrainDelay:       Duration(500 * time.Millisecond),
			AutoSyncInterval: Duration(5 * time.Minute),
		},
		Tiles: TilesConfig{
			Dir:           "data/tiles",
			URLTemplate:   "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			ZoomLevels:    []int{13, 14, 15, 16},
			BatchSize:     50,
			BatchPause:    Duration(200 * time.Millisecond),
			RetryAttempts: 2,
			RetryBackoff:  Duration(time.Second),
			MaxTiles:      20000,
			S3: TileS3Config{
				Region: "us-east-1",
				UseSSL: &useSSL,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies FIELDSYNC_* environment variables. Only
// non-empty values override; malformed numbers and durations are errors.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Server
	setInt("FIELDSYNC_PORT", &cfg.Server.Port)
	setDuration("FIELDSYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("FIELDSYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("FIELDSYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	setString("FIELDSYNC_AGENT_TOKEN", &cfg.Server.AuthToken)

	// Backend API
	setString("FIELDSYNC_API_URL", &cfg.API.BaseURL)
	setString("FIELDSYNC_API_LIVENESS_PATH", &cfg.API.LivenessPath)
	setDuration("FIELDSYNC_API_TIMEOUT", &cfg.API.Timeout)
	setString("FIELDSYNC_API_TOKEN", &cfg.API.Token)

	// Storage
	setString("FIELDSYNC_DB_PATH", &cfg.Storage.Path)

	// Monitor
	setDuration("FIELDSYNC_MONITOR_INTERVAL", &cfg.Monitor.Interval)
	setDuration("FIELDSYNC_PROBE_TIMEOUT", &cfg.Monitor.ProbeTimeout)

	// Queue
	setDuration("FIELDSYNC_DRAIN_DELAY", &cfg.Queue.DrainDelay)
	setDuration("FIELDSYNC_AUTO_SYNC_INTERVAL", &cfg.Queue.AutoSyncInterval)

	// Tiles
	setString("FIELDSYNC_TILES_DIR", &cfg.Tiles.Dir)
	setString("FIELDSYNC_TILE_URL", &cfg.Tiles.URLTemplate)
	if v := os.Getenv("FIELDSYNC_TILE_ZOOMS"); v != "" {
		zooms, err := parseZooms(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("FIELDSYNC_TILE_ZOOMS: %w", err))
		} else {
			cfg.Tiles.ZoomLevels = zooms
		}
	}
	setInt("FIELDSYNC_TILE_BATCH_SIZE", &cfg.Tiles.BatchSize)
	setInt("FIELDSYNC_TILE_MAX_TILES", &cfg.Tiles.MaxTiles)
	setString("FIELDSYNC_TILE_BUCKET", &cfg.Tiles.S3.Bucket)
	setString("FIELDSYNC_TILE_PREFIX", &cfg.Tiles.S3.Prefix)
	setString("FIELDSYNC_S3_ENDPOINT", &cfg.Tiles.S3.Endpoint)
	setString("FIELDSYNC_S3_REGION", &cfg.Tiles.S3.Region)
	setString("FIELDSYNC_S3_ACCESS_KEY", &cfg.Tiles.S3.AccessKey)
	setString("FIELDSYNC_S3_SECRET_KEY", &cfg.Tiles.S3.SecretKey)
	if v := os.Getenv("FIELDSYNC_S3_USE_SSL"); v != "" {
		b := v == "true" || v == "1"
		cfg.Tiles.S3.UseSSL = &b
	}

	// Log
	setString("FIELDSYNC_LOG_LEVEL", &cfg.Log.Level)
	setString("FIELDSYNC_LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(errs...)
}

// parseZooms parses a comma-separated list such as "12,13,14".
func parseZooms(s string) ([]int, error) {
	var zooms []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		z, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		zooms = append(zooms, z)
	}
	return zooms, nil
}

// validate checks that the configuration is usable.
func (c *Config) validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if c.API.BaseURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if !strings.HasPrefix(c.API.LivenessPath, "/") {
		return errors.New("api.liveness_path must start with /")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if c.Monitor.Interval <= 0 || c.Monitor.ProbeTimeout <= 0 {
		return errors.New("monitor.interval and monitor.probe_timeout must be positive")
	}
	if c.Queue.DrainDelay < 0 {
		return errors.New("queue.drain_delay must not be negative")
	}
	if c.Tiles.BatchSize <= 0 {
		return errors.New("tiles.batch_size must be positive")
	}
	if c.Tiles.MaxTiles <= 0 {
		return errors.New("tiles.max_tiles must be positive")
	}
	if c.Tiles.RetryAttempts < 0 {
		return errors.New("tiles.retry_attempts must not be negative")
	}
	for _, z := range c.Tiles.ZoomLevels {
		if z < 0 || z > MaxZoom {
			return fmt.Errorf("tiles.zoom_levels: %d outside 0..%d", z, MaxZoom)
		}
	}
	if c.Tiles.S3.Bucket == "" && c.Tiles.URLTemplate == "" {
		return errors.New("tiles.url_template or tiles.s3.bucket is required")
	}
	if c.Tiles.S3.Bucket != "" && c.Tiles.S3.Endpoint == "" {
		return errors.New("tiles.s3.endpoint is required when a bucket is set")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
