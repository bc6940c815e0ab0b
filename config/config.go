// Package config loads CLI configuration with the precedence
// flags > STOCKER_* environment > ~/.stocker/config.yaml > defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

var ErrInvalid = errors.New("config: invalid configuration")

type Config struct {
	BaseURL string
	Timeout time.Duration

	Store StoreConfig

	CallbackAddr string
	CallbackPath string

	LoginPath string
	ServeAddr string
	QRColor   string
	Verbose   bool

	ConfigFile string
}

type StoreConfig struct {
	Backend string
	Path    string
	// SealKey is a base64 secretbox key; empty stores the token in the clear.
	SealKey string
	Profile string
	// Timeout bounds each write or clear of the token slot.
	Timeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI      string
	MongoDatabase string
}

// New returns a viper instance with defaults, env binding and the optional
// config file search paths. An explicit file wins over discovery.
func New(explicitFile string) (*viper.Viper, error) {
	v := viper.New()
	ApplyDefaults(v)

	v.SetEnvPrefix("STOCKER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if explicitFile != "" {
		v.SetConfigFile(explicitFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		return v, nil
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".stocker"))
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// Load is New followed by FromViper.
func Load(explicitFile string) (*Config, error) {
	v, err := New(explicitFile)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		BaseURL: strings.TrimRight(v.GetString("api.base-url"), "/"),
		Timeout: v.GetDuration("api.timeout"),
		Store: StoreConfig{
			Backend:       strings.ToLower(v.GetString("store.backend")),
			Path:          ExpandHome(v.GetString("store.path")),
			SealKey:       v.GetString("store.seal-key"),
			Profile:       v.GetString("store.profile"),
			Timeout:       v.GetDuration("store.timeout"),
			RedisAddr:     v.GetString("store.redis.addr"),
			RedisPassword: v.GetString("store.redis.password"),
			RedisDB:       v.GetInt("store.redis.db"),
			MongoURI:      v.GetString("store.mongo.uri"),
			MongoDatabase: v.GetString("store.mongo.database"),
		},
		CallbackAddr: v.GetString("callback.addr"),
		CallbackPath: v.GetString("callback.path"),
		LoginPath:    v.GetString("guard.login-path"),
		ServeAddr:    v.GetString("serve.addr"),
		QRColor:      v.GetString("qr.color"),
		Verbose:      v.GetBool("log.verbose"),
		ConfigFile:   v.ConfigFileUsed(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: api.base-url %q must be an absolute http(s) url", ErrInvalid, c.BaseURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: api.timeout must be positive", ErrInvalid)
	}
	switch c.Store.Backend {
	case BackendFile:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for the file backend", ErrInvalid)
		}
	case BackendMemory, BackendRedis, BackendMongo:
	default:
		return fmt.Errorf("%w: unknown store.backend %q", ErrInvalid, c.Store.Backend)
	}
	if c.Store.Timeout < 0 {
		return fmt.Errorf("%w: store.timeout must not be negative", ErrInvalid)
	}
	if !strings.HasPrefix(c.CallbackPath, "/") {
		return fmt.Errorf("%w: callback.path must start with /", ErrInvalid)
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("%w: guard.login-path must start with /", ErrInvalid)
	}
	return nil
}

// CallbackURL is the loopback address the provider redirects back to.
func (c *Config) CallbackURL() string {
	return "http://" + c.CallbackAddr + c.CallbackPath
}

// ExpandHome resolves a leading ~/ against the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
