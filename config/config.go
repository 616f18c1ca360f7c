package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           int    `mapstructure:"port"`
	HTTPAddress    string `mapstructure:"http_address"`
	DBPath         string `mapstructure:"db_path"`
	StorageDir     string `mapstructure:"storage_dir"`
	LogLevel       string `mapstructure:"log_level"`
	MaxPacketSize  int    `mapstructure:"max_packet_size"`
	StorageWorkers int    `mapstructure:"storage_workers"`
	SendQueueSize  int    `mapstructure:"send_queue_size"`

	ReadTimeout  time.Duration `mapstructure:"-"`
	WriteTimeout time.Duration `mapstructure:"-"`
}

const (
	defaultPort           = 8080
	defaultDBPath         = "wizz.db"
	defaultStorageDir     = "storage"
	defaultLogLevel       = "info"
	defaultMaxPacketSize  = 10 * 1024 * 1024
	defaultStorageWorkers = 1
	defaultSendQueueSize  = 256
	defaultReadTimeout    = time.Duration(0) // no idle limit
	defaultWriteTimeout   = 30 * time.Second
)

// Load reads the optional config file at path and applies WIZZ_ environment
// overrides, e.g. WIZZ_PORT or WIZZ_DB_PATH.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WIZZ")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("port", defaultPort)
	v.SetDefault("http_address", "")
	v.SetDefault("db_path", defaultDBPath)
	v.SetDefault("storage_dir", defaultStorageDir)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("max_packet_size", defaultMaxPacketSize)
	v.SetDefault("storage_workers", defaultStorageWorkers)
	v.SetDefault("send_queue_size", defaultSendQueueSize)
	v.SetDefault("read_timeout", defaultReadTimeout.String())
	v.SetDefault("write_timeout", defaultWriteTimeout.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	var err error
	if cfg.ReadTimeout, err = duration(v, "read_timeout"); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = duration(v, "write_timeout"); err != nil {
		return nil, err
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = defaultMaxPacketSize
	}
	if cfg.StorageWorkers < 1 {
		cfg.StorageWorkers = defaultStorageWorkers
	}
	if cfg.SendQueueSize < 1 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	return cfg, nil
}

// Accepts Go duration strings or plain seconds. Zero disables the timeout.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return d, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid %s: %q", key, raw)
}
