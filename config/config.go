// Package config loads shopctl settings from YAML, a .env file and SHOP_*
// environment variables, in increasing order of precedence.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/pipacs/shop/internal/safeio"
)

const (
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	DataDir        string   `yaml:"data_dir" json:"data_dir"`
	Backend        string   `yaml:"backend" json:"backend"`
	RedisAddr      string   `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword  string   `yaml:"redis_password" json:"-"`
	RedisDB        int      `yaml:"redis_db" json:"redis_db"`
	KeyPrefix      string   `yaml:"key_prefix" json:"key_prefix"`
	BundleID       string   `yaml:"bundle_id" json:"bundle_id"`
	DeviceIDHex    string   `yaml:"device_id_hex" json:"device_id_hex"`
	ReceiptPath    string   `yaml:"receipt_path" json:"receipt_path"`
	RootCertPath   string   `yaml:"root_cert_path" json:"root_cert_path"`
	Consumables    []string `yaml:"consumables" json:"consumables"`
	NonConsumables []string `yaml:"non_consumables" json:"non_consumables"`
	LogLevel       string   `yaml:"log_level" json:"log_level"`
	LogFormat      string   `yaml:"log_format" json:"log_format"`
}

var allowedLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

var allowedBackends = map[string]struct{}{
	BackendBolt:   {},
	BackendRedis:  {},
	BackendMemory: {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".shop"
	}
	return filepath.Join(home, ".shop")
}

func DefaultConfig() Config {
	return Config{
		DataDir:   DefaultDataDir(),
		Backend:   BackendBolt,
		RedisAddr: "127.0.0.1:6379",
		KeyPrefix: "com.pipacs.Shop",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load starts from DefaultConfig, overlays the YAML file at path (if path is
// non-empty) and then the environment.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := safeio.ReadFileByPath(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := ApplyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays SHOP_* variables onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v := getenv(name); strings.TrimSpace(v) != "" {
			*dst = NormalizeProductIDs(v)
		}
	}
	str("SHOP_DATA_DIR", &cfg.DataDir)
	str("SHOP_BACKEND", &cfg.Backend)
	str("SHOP_REDIS_ADDR", &cfg.RedisAddr)
	str("SHOP_REDIS_PASSWORD", &cfg.RedisPassword)
	str("SHOP_KEY_PREFIX", &cfg.KeyPrefix)
	str("SHOP_BUNDLE_ID", &cfg.BundleID)
	str("SHOP_DEVICE_ID_HEX", &cfg.DeviceIDHex)
	str("SHOP_RECEIPT_PATH", &cfg.ReceiptPath)
	str("SHOP_ROOT_CERT_PATH", &cfg.RootCertPath)
	str("SHOP_LOG_LEVEL", &cfg.LogLevel)
	str("SHOP_LOG_FORMAT", &cfg.LogFormat)
	list("SHOP_CONSUMABLES", &cfg.Consumables)
	list("SHOP_NON_CONSUMABLES", &cfg.NonConsumables)
	if v := strings.TrimSpace(getenv("SHOP_REDIS_DB")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SHOP_REDIS_DB: %w", err)
		}
		cfg.RedisDB = n
	}
	return nil
}

// NormalizeProductIDs splits comma separated tokens, trims them and drops
// blanks and duplicates.
func NormalizeProductIDs(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func ValidateConfig(cfg Config) error {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if _, ok := allowedBackends[backend]; !ok {
		return fmt.Errorf("invalid backend %q", cfg.Backend)
	}
	if backend == BackendBolt && strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required for the bolt backend")
	}
	if backend == BackendRedis && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("redis_addr is required for the redis backend")
	}
	if cfg.RedisDB < 0 {
		return errors.New("redis_db must be >= 0")
	}
	if cfg.DeviceIDHex != "" {
		if _, err := cfg.DeviceID(); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(cfg.Consumables))
	for _, id := range cfg.Consumables {
		seen[id] = struct{}{}
	}
	for _, id := range cfg.NonConsumables {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("product %q listed as consumable and non-consumable", id)
		}
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q", cfg.LogFormat)
	}
	return nil
}

// DeviceID decodes device_id_hex, which must hold exactly 16 bytes.
func (c Config) DeviceID() ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(c.DeviceIDHex))
	if err != nil {
		return nil, fmt.Errorf("invalid device_id_hex: %w", err)
	}
	if len(b) != 16 {
		return nil, fmt.Errorf("invalid device_id_hex: got %d bytes, want 16", len(b))
	}
	return b, nil
}

func ParseLevel(s string) (slog.Level, error) {
	lvl, ok := allowedLogLevels[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return lvl, nil
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(strings.TrimSpace(cfg.LogFormat), "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
