package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Remote backends selectable with --remote.
const (
	RemoteMemory   = "memory"
	RemotePostgres = "postgres"
	RemoteDynamoDB = "dynamodb"
)

// Config holds runtime settings for the estisync client.
//
// Units: SyncInterval is a time.Duration; zero disables the periodic
// trigger and leaves only explicit sync requests.
type Config struct {
	DatabasePath string
	CacheDir     string

	Remote            string
	PostgresDSN       string
	DynamoRegion      string
	DynamoEndpoint    string
	DynamoTablePrefix string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	SessionToken     string
	SessionTokenFile string

	SyncInterval    time.Duration
	MaxPushAttempts int

	LogLevel  string
	LogFormat string
	LogFile   string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "estisync.db"
	c.CacheDir = "photos"
	c.Remote = RemoteMemory
	c.DynamoTablePrefix = "estisync_"
	c.S3Region = "us-east-1"
	c.SyncInterval = 30 * time.Second
	c.MaxPushAttempts = 5
	c.LogLevel = "info"
	c.LogFormat = "text"
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Remote {
	case RemoteMemory:
	case RemotePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("remote %q requires a postgres dsn", c.Remote)
		}
	case RemoteDynamoDB:
		if c.DynamoRegion == "" && c.DynamoEndpoint == "" {
			return fmt.Errorf("remote %q requires a region or endpoint", c.Remote)
		}
	default:
		return fmt.Errorf("unknown remote %q", c.Remote)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is empty")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache dir is empty")
	}
	if c.MaxPushAttempts < 1 {
		return fmt.Errorf("max push attempts must be positive, got %d", c.MaxPushAttempts)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("sync interval must not be negative")
	}
	return nil
}

// Load constructs a Config, applies defaults, then overlays values from
// JSON (if -c is set), the environment and finally the flags the user set on
// fs. Later sources take precedence over earlier ones. fs must already be
// parsed; a nil fs skips the JSON and flag stages.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if fs != nil {
		path, err := fs.GetString(FlagConfig)
		if err != nil {
			return nil, err
		}
		if err := parseJSON(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := parseEnv(cfg, dotenvFile); err != nil {
		return nil, err
	}
	if fs != nil {
		if err := parseFlags(cfg, fs); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
