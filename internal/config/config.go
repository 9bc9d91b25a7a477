package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "GYMROUTES"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = DriverSQLite
	defaultDatabasePath    = "gymroutes.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultTokenTTLMinutes = 60 * 24
	defaultTokenIssuer     = "gymroutes-auth"
	defaultTokenAudience   = "gymroutes-api"
	defaultS3Region        = "auto"
	defaultMaxPhotoBytes   = 10 << 20
	defaultAdminCacheSecs  = 30

	// DriverSQLite selects the embedded SQLite store.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a PostgreSQL server.
	DriverPostgres = "postgres"
)

var defaultWalls = []string{"wall1", "wall2", "wall3", "wall4", "wall5", "wall6", "wall7", "wall8"}

// StorageConfig configures the S3-compatible bucket used for wall photos.
// An empty bucket disables photo upload.
type StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	MaxPhotoBytes   int64
}

// Enabled reports whether a bucket is configured.
func (s StorageConfig) Enabled() bool {
	return strings.TrimSpace(s.Bucket) != ""
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabaseDriver     string
	DatabasePath       string
	DatabaseDSN        string
	LogLevel           string
	LogFormat          string
	SigningSecret      string
	TokenIssuer        string
	TokenAudience      string
	TokenTTL           time.Duration
	AdminEmails        []string
	AdminCacheTTL      time.Duration
	Walls              []string
	CORSAllowedOrigins []string
	Storage            StorageConfig
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.admin_emails", []string{})
	configViper.SetDefault("auth.admin_cache_seconds", defaultAdminCacheSecs)
	configViper.SetDefault("token.issuer", defaultTokenIssuer)
	configViper.SetDefault("token.audience", defaultTokenAudience)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("gym.walls", defaultWalls)
	configViper.SetDefault("cors.allowed_origins", []string{})
	configViper.SetDefault("storage.s3.bucket", "")
	configViper.SetDefault("storage.s3.region", defaultS3Region)
	configViper.SetDefault("storage.s3.endpoint", "")
	configViper.SetDefault("storage.s3.access_key_id", "")
	configViper.SetDefault("storage.s3.secret_access_key", "")
	configViper.SetDefault("storage.s3.public_base_url", "")
	configViper.SetDefault("storage.max_photo_bytes", defaultMaxPhotoBytes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:       configViper.GetString("database.path"),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		LogLevel:           configViper.GetString("log.level"),
		LogFormat:          configViper.GetString("log.format"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenIssuer:        configViper.GetString("token.issuer"),
		TokenAudience:      configViper.GetString("token.audience"),
		TokenTTL:           time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		AdminEmails:        splitList(configViper.GetStringSlice("auth.admin_emails")),
		AdminCacheTTL:      time.Duration(configViper.GetInt("auth.admin_cache_seconds")) * time.Second,
		Walls:              splitList(configViper.GetStringSlice("gym.walls")),
		CORSAllowedOrigins: splitList(configViper.GetStringSlice("cors.allowed_origins")),
		Storage: StorageConfig{
			Bucket:          configViper.GetString("storage.s3.bucket"),
			Region:          configViper.GetString("storage.s3.region"),
			Endpoint:        configViper.GetString("storage.s3.endpoint"),
			AccessKeyID:     configViper.GetString("storage.s3.access_key_id"),
			SecretAccessKey: configViper.GetString("storage.s3.secret_access_key"),
			PublicBaseURL:   configViper.GetString("storage.s3.public_base_url"),
			MaxPhotoBytes:   configViper.GetInt64("storage.max_photo_bytes"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if len(c.Walls) == 0 {
		return fmt.Errorf("gym.walls must list at least one wall")
	}
	if c.Storage.Enabled() && c.Storage.MaxPhotoBytes <= 0 {
		return fmt.Errorf("storage.max_photo_bytes must be positive")
	}
	return nil
}

// splitList flattens values that arrive either as lists or as comma separated env strings.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
