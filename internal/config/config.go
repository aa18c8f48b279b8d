package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type DaemonConfig struct {
	Expiration time.Duration `mapstructure:"expiration"`
}

type ActivationConfig struct {
	// OnStart activates the index as soon as the daemon starts, so every
	// fragment is merged live instead of being buffered.
	OnStart bool `mapstructure:"on_start"`
}

type IndexConfig struct {
	Restore  bool `mapstructure:"restore"`
	Autosave bool `mapstructure:"autosave"`
}

// Concurrency accepts an integer or "auto" (one worker per CPU).
type Concurrency int

type LoaderConfig struct {
	Concurrency Concurrency `mapstructure:"concurrency"`
	Strict      bool        `mapstructure:"strict"`
}

type Config struct {
	Daemon     DaemonConfig     `mapstructure:"daemon"`
	Activation ActivationConfig `mapstructure:"activation"`
	Index      IndexConfig      `mapstructure:"index"`
	Loader     LoaderConfig     `mapstructure:"loader"`
}

// cacheBase returns the base cache directory for rsindex.
// Checks XDG_CACHE_HOME, then ~/.cache, then /tmp/rsindex as fallback.
func cacheBase() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "rsindex")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "rsindex")
	}
	return filepath.Join(os.TempDir(), "rsindex")
}

// DBPath returns the path to the DuckDB database file.
func DBPath() string {
	return filepath.Join(cacheBase(), "index.db")
}

// CASDir returns the path to the content-addressable storage directory.
func CASDir() string {
	return filepath.Join(cacheBase(), "cas")
}

// LogPath returns the path to the daemon's log file.
func LogPath() string {
	return filepath.Join(cacheBase(), "daemon.log")
}

// SocketPath returns the path to the daemon's unix socket.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "rsindex", "daemon.sock")
	}
	return filepath.Join(fmt.Sprintf("/run/user/%d", os.Getuid()), "rsindex", "daemon.sock")
}

func InitializeViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")

	viper.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		viper.AddConfigPath(filepath.Join(xdg, "rsindex"))
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "rsindex"))
	}

	setDefaults(viper.GetViper())

	viper.SetEnvPrefix("RSINDEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("daemon.expiration", "10m")
	v.SetDefault("activation.on_start", false)
	v.SetDefault("index.restore", false)
	v.SetDefault("index.autosave", true)
	v.SetDefault("loader.concurrency", 8)
	v.SetDefault("loader.strict", false)
}

func stringToConcurrencyHookFunc() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(Concurrency(0)) || f.Kind() != reflect.String {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if strings.EqualFold(s, "auto") {
			return Concurrency(runtime.NumCPU()), nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid loader concurrency %q", s)
		}
		return Concurrency(n), nil
	}
}

func Load() (*Config, error) {
	if err := InitializeViper(); err != nil {
		return nil, err
	}
	return decode(viper.AllSettings())
}

func decode(settings map[string]interface{}) (*Config, error) {
	var config Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToConcurrencyHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           &config,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Daemon.Expiration <= 0 {
		config.Daemon.Expiration = 10 * time.Minute
	}
	if config.Loader.Concurrency <= 0 {
		config.Loader.Concurrency = 8
	}
	return &config, nil
}
