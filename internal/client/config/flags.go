package config

import (
	"github.com/spf13/pflag"
)

// Flag names registered by RegisterFlags.
const (
	FlagConfig          = "config"
	FlagDatabase        = "db"
	FlagCacheDir        = "cache-dir"
	FlagRemote          = "remote"
	FlagPostgresDSN     = "postgres-dsn"
	FlagDynamoRegion    = "dynamo-region"
	FlagDynamoEndpoint  = "dynamo-endpoint"
	FlagS3Bucket        = "s3-bucket"
	FlagS3Endpoint      = "s3-endpoint"
	FlagSessionToken    = "session-token"
	FlagSyncInterval    = "sync-interval"
	FlagMaxPushAttempts = "max-push-attempts"
	FlagLogLevel        = "log-level"
	FlagLogFormat       = "log-format"
	FlagLogFile         = "log-file"
)

// RegisterFlags declares the configuration flags on fs. Defaults shown in
// help come from LoadDefaults; only flags the user sets override the
// lower-precedence sources.
func RegisterFlags(fs *pflag.FlagSet) {
	var d Config
	d.LoadDefaults()

	fs.StringP(FlagConfig, "c", "", "path to JSON config file")
	fs.String(FlagDatabase, d.DatabasePath, "path to the local SQLite database")
	fs.String(FlagCacheDir, d.CacheDir, "directory for cached photo files")
	fs.String(FlagRemote, d.Remote, "remote backend: memory, postgres or dynamodb")
	fs.String(FlagPostgresDSN, "", "postgres connection string")
	fs.String(FlagDynamoRegion, "", "dynamodb region")
	fs.String(FlagDynamoEndpoint, "", "dynamodb endpoint override")
	fs.String(FlagS3Bucket, "", "bucket holding photo objects")
	fs.String(FlagS3Endpoint, "", "s3 endpoint override")
	fs.String(FlagSessionToken, "", "session token used to authorize downloads")
	fs.Duration(FlagSyncInterval, d.SyncInterval, "periodic sync interval, 0 disables")
	fs.Int(FlagMaxPushAttempts, d.MaxPushAttempts, "attempts before a rejected change is dropped")
	fs.String(FlagLogLevel, d.LogLevel, "log level: debug, info, warn, error")
	fs.String(FlagLogFormat, d.LogFormat, "log format: text or json")
	fs.String(FlagLogFile, "", "write logs to this file with rotation")
}

// parseFlags copies the flags the user set on fs into cfg.
func parseFlags(cfg *Config, fs *pflag.FlagSet) error {
	strs := map[string]*string{
		FlagDatabase:       &cfg.DatabasePath,
		FlagCacheDir:       &cfg.CacheDir,
		FlagRemote:         &cfg.Remote,
		FlagPostgresDSN:    &cfg.PostgresDSN,
		FlagDynamoRegion:   &cfg.DynamoRegion,
		FlagDynamoEndpoint: &cfg.DynamoEndpoint,
		FlagS3Bucket:       &cfg.S3Bucket,
		FlagS3Endpoint:     &cfg.S3Endpoint,
		FlagSessionToken:   &cfg.SessionToken,
		FlagLogLevel:       &cfg.LogLevel,
		FlagLogFormat:      &cfg.LogFormat,
		FlagLogFile:        &cfg.LogFile,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	if fs.Changed(FlagSyncInterval) {
		v, err := fs.GetDuration(FlagSyncInterval)
		if err != nil {
			return err
		}
		cfg.SyncInterval = v
	}
	if fs.Changed(FlagMaxPushAttempts) {
		v, err := fs.GetInt(FlagMaxPushAttempts)
		if err != nil {
			return err
		}
		cfg.MaxPushAttempts = v
	}
	return nil
}
