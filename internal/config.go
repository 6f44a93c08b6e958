package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var bcryptHash = regexp.MustCompile(`^\$2[aby]?\$\d{2}\$[./A-Za-z0-9]{53}$`)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Store  StoreConfig       `yaml:"store"`
	Search SearchConfig      `yaml:"search"`
	Auth   AuthConfig        `yaml:"auth"`
	Redis  RedisConfig       `yaml:"redis"`
	Media  MediaConfig       `yaml:"media"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{&c.App, &c.Store, &c.Search, &c.Auth, &c.Redis, &c.Media} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig locates the record store database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// SearchConfig locates the search index database and bounds queries.
type SearchConfig struct {
	Path           string        `yaml:"path"`
	Timeout        time.Duration `yaml:"timeout"`
	RebuildOnStart bool          `yaml:"rebuild_on_start"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	return nil
}

// AuthConfig holds the single admin credential and session settings.
//
// PasswordHash is a bcrypt hash (see the hash-password command). With no hash
// every login is rejected. JWTSecret signs session tokens.
type AuthConfig struct {
	PasswordHash string        `yaml:"password_hash"`
	JWTSecret    string        `yaml:"jwt_secret"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.PasswordHash, validation.Match(bcryptHash).Error("must be a bcrypt hash")),
		validation.Field(&c.JWTSecret, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.SessionTTL, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

// RedisConfig configures the optional Redis used for session revocation.
// An empty Addr disables it.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Enabled reports whether Redis is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Validate validates the Redis configuration.
func (c *RedisConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.DB, validation.Min(0), validation.Max(15)),
		validation.Field(&c.ConnectTimeout, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// MediaConfig holds the upload directory for icons and banners.
type MediaConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the media configuration.
func (c *MediaConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	); err != nil {
		return fmt.Errorf("media: %w", err)
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Path: "./data/hyservers.db",
		},
		Search: SearchConfig{
			Path:    "./data/search.db",
			Timeout: 2 * time.Second,
		},
		Auth: AuthConfig{
			SessionTTL: 7 * 24 * time.Hour,
		},
		Redis: RedisConfig{
			ConnectTimeout: 10 * time.Second,
		},
		Media: MediaConfig{
			Path: "./data/media",
		},
	}
}
