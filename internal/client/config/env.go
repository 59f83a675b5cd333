package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "ESTISYNC_"

// dotenvFile is read, when present, before the process environment.
var dotenvFile = ".env"

// parseEnv overlays cfg with ESTISYNC_* variables. Values from the process
// environment win over the ones found in dotenv.
func parseEnv(cfg *Config, dotenv string) error {
	fileVars := map[string]string{}
	if dotenv != "" {
		m, err := godotenv.Read(dotenv)
		switch {
		case err == nil:
			fileVars = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return fmt.Errorf("read %s: %w", dotenv, err)
		}
	}

	lookup := func(name string) string {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			return v
		}
		return fileVars[envPrefix+name]
	}

	setString(&cfg.DatabasePath, lookup("DATABASE_PATH"))
	setString(&cfg.CacheDir, lookup("CACHE_DIR"))
	setString(&cfg.Remote, lookup("REMOTE"))
	setString(&cfg.PostgresDSN, lookup("POSTGRES_DSN"))
	setString(&cfg.DynamoRegion, lookup("DYNAMO_REGION"))
	setString(&cfg.DynamoEndpoint, lookup("DYNAMO_ENDPOINT"))
	setString(&cfg.DynamoTablePrefix, lookup("DYNAMO_TABLE_PREFIX"))
	setString(&cfg.S3Bucket, lookup("S3_BUCKET"))
	setString(&cfg.S3Region, lookup("S3_REGION"))
	setString(&cfg.S3Endpoint, lookup("S3_ENDPOINT"))
	setString(&cfg.S3AccessKey, lookup("S3_ACCESS_KEY"))
	setString(&cfg.S3SecretKey, lookup("S3_SECRET_KEY"))
	setString(&cfg.SessionToken, lookup("SESSION_TOKEN"))
	setString(&cfg.SessionTokenFile, lookup("SESSION_TOKEN_FILE"))
	setString(&cfg.LogLevel, lookup("LOG_LEVEL"))
	setString(&cfg.LogFormat, lookup("LOG_FORMAT"))
	setString(&cfg.LogFile, lookup("LOG_FILE"))

	if v := lookup("SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSYNC_INTERVAL: %w", envPrefix, err)
		}
		cfg.SyncInterval = d
	}
	if v := lookup("MAX_PUSH_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_PUSH_ATTEMPTS: %w", envPrefix, err)
		}
		cfg.MaxPushAttempts = n
	}
	return nil
}
