package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/estisync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Empty fields
// leave the corresponding Config value untouched.
type JsonConfig struct {
	DatabasePath string `json:"database_path"`
	CacheDir     string `json:"cache_dir"`

	Remote            string `json:"remote"`
	PostgresDSN       string `json:"postgres_dsn"`
	DynamoRegion      string `json:"dynamo_region"`
	DynamoEndpoint    string `json:"dynamo_endpoint"`
	DynamoTablePrefix string `json:"dynamo_table_prefix"`

	S3Bucket    string `json:"s3_bucket"`
	S3Region    string `json:"s3_region"`
	S3Endpoint  string `json:"s3_endpoint"`
	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`

	SessionToken     string `json:"session_token"`
	SessionTokenFile string `json:"session_token_file"`

	SyncInterval    *timex.Duration `json:"sync_interval"`
	MaxPushAttempts int             `json:"max_push_attempts"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	LogFile   string `json:"log_file"`
}

// parseJSON overlays cfg with values loaded from the JSON file at path.
// An empty path is a no-op.
func parseJSON(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.CacheDir, jc.CacheDir)
	setString(&cfg.Remote, jc.Remote)
	setString(&cfg.PostgresDSN, jc.PostgresDSN)
	setString(&cfg.DynamoRegion, jc.DynamoRegion)
	setString(&cfg.DynamoEndpoint, jc.DynamoEndpoint)
	setString(&cfg.DynamoTablePrefix, jc.DynamoTablePrefix)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.SessionToken, jc.SessionToken)
	setString(&cfg.SessionTokenFile, jc.SessionTokenFile)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
	setString(&cfg.LogFile, jc.LogFile)

	if jc.SyncInterval != nil {
		cfg.SyncInterval = jc.SyncInterval.Duration
	}
	if jc.MaxPushAttempts != 0 {
		cfg.MaxPushAttempts = jc.MaxPushAttempts
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
