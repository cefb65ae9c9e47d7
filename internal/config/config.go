package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// Supported values for Database.Driver and Session.Engine.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	EngineDB            = "db"
	EngineCache         = "cache"
	EngineSignedCookies = "signed_cookies"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr           string
		SecureCookies  bool   `mapstructure:"secure_cookies"`
		TrustedOrigins string `mapstructure:"trusted_origins"`
	}
	Database struct {
		Driver string
		Path   string
		DSN    string
	}
	Session struct {
		Engine                 string
		CookieName             string `mapstructure:"cookie_name"`
		TTLMinutes             int    `mapstructure:"ttl_minutes"`
		CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	Auth struct {
		SecretKey         string `mapstructure:"secret_key"`
		PasswordMinLength int    `mapstructure:"password_min_length"`
		BcryptCost        int    `mapstructure:"bcrypt_cost"`
	}
	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv(".env")

	v := viper.New()
	v.SetEnvPrefix("YETTI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.secure_cookies", false)
	v.SetDefault("server.trusted_origins", "")
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "data/yetti.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("session.engine", EngineDB)
	v.SetDefault("session.cookie_name", "sessionid")
	v.SetDefault("session.ttl_minutes", 14*24*60)
	v.SetDefault("session.cleanup_interval_minutes", 60)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.password_min_length", 8)
	v.SetDefault("auth.bcrypt_cost", bcrypt.DefaultCost)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.SecretKey) == "" {
		return errors.New("auth secret key is required")
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Session.Engine {
	case EngineDB, EngineSignedCookies:
	case EngineCache:
		if c.Redis.Addr == "" {
			return errors.New("redis addr is required for the cache session engine")
		}
	default:
		return fmt.Errorf("unsupported session engine %q", c.Session.Engine)
	}
	if c.Session.TTLMinutes <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.Auth.PasswordMinLength < 0 {
		return errors.New("password min length must not be negative")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.Session.CleanupIntervalMinutes) * time.Minute
}

// TrustedOrigins splits the comma separated server.trusted_origins value.
func (c Config) TrustedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.Server.TrustedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
