package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/stores/cache"

	"predex-api/pkg/confkit"
)

// CacheTTL bundles read-cache durations in seconds, used to derive a
// cache.TTLSet at wiring time.
type CacheTTL struct {
	Short  int `json:",default=10"` // seconds; market listings and portfolio snapshots
	Medium int `json:",default=60"`
	Long   int `json:",default=300"`
}

// PostgresConf mirrors goctl style database settings while allowing pool
// tuning: max open/idle connections, connection lifetime, and a pre-ping
// health check at startup.
type PostgresConf struct {
	DataSource  string        `json:",optional"`
	MaxOpen     int           `json:",default=15"` // pool_size + max_overflow
	MaxIdle     int           `json:",default=5"`
	MaxLifetime time.Duration `json:",default=30m"` // pool_recycle
	PrePing     bool          `json:",default=true"`
}

// MarketDefaults controls the economic parameters new users/markets are
// provisioned with and the ledger audit mode.
type MarketDefaults struct {
	InitialUserPoints float64 `json:",default=1000"`
	InitialAMMPoints  float64 `json:",default=10000"`
	DefaultB          float64 `json:",default=20"`
	// LedgerMode is one of off|light|full; see pkg/ledger.
	LedgerMode string `json:",default=off,options=off|light|full"`
}

type Config struct {
	// Env indicates the running environment: test | dev | prod.
	Env      string          `json:",default=test"`
	Postgres PostgresConf    `json:",optional"`
	Cache    cache.CacheConf `json:",optional"`
	TTL      CacheTTL        `json:",optional"`
	Market   MarketDefaults  `json:",optional"`

	mainPath string
	baseDir  string
}

const defaultConfigRelativePath = "etc/predex.yaml"

var configFileFlag = flag.String("f", defaultConfigRelativePath, "the config file")

func init() {
	confkit.LoadDotenvOnce()
}

// ConfigFile resolves the -f flag (or its default) against a cwd/executable
// upward search.
func ConfigFile() string {
	candidate := defaultConfigRelativePath
	if configFileFlag != nil {
		if trimmed := strings.TrimSpace(*configFileFlag); trimmed != "" {
			candidate = trimmed
		}
	}
	if resolved, ok := resolveConfigPath(candidate); ok {
		return resolved
	}
	return candidate
}

func resolveConfigPath(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	if filepath.IsAbs(path) {
		if fileExists(path) {
			return path, true
		}
		return "", false
	}

	startDirs := make([]string, 0, 2)
	if cwd, err := os.Getwd(); err == nil {
		startDirs = append(startDirs, cwd)
	}
	if exePath, err := os.Executable(); err == nil {
		startDirs = append(startDirs, filepath.Dir(exePath))
	}

	seen := make(map[string]struct{}, len(startDirs))
	for _, dir := range startDirs {
		dir = filepath.Clean(dir)
		if dir == "" {
			continue
		}
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		if resolved, ok := searchUpwards(dir, path); ok {
			return resolved, true
		}
	}
	return "", false
}

func searchUpwards(start, rel string) (string, bool) {
	dir := filepath.Clean(start)
	for {
		candidate := filepath.Join(dir, rel)
		if fileExists(candidate) {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// MustLoad loads the config at ConfigFile() or panics.
func MustLoad() *Config {
	cfg, err := Load(ConfigFile())
	if err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	confkit.LoadDotenvOnce()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}

	var cfg Config
	if err := conf.Load(absPath, &cfg, conf.UseEnv()); err != nil {
		return nil, fmt.Errorf("load config %s: %w", absPath, err)
	}

	cfg.mainPath = absPath
	cfg.baseDir = filepath.Dir(absPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "", "test", "dev", "prod":
		if strings.TrimSpace(c.Env) == "" {
			c.Env = "test"
		}
	default:
		return errors.New("config: env must be one of test|dev|prod")
	}
	switch c.Market.LedgerMode {
	case "off", "light", "full":
	default:
		return errors.New("config: market.ledgerMode must be one of off|light|full")
	}
	if c.Market.DefaultB <= 0 {
		return errors.New("config: market.defaultB must be positive")
	}
	if c.Market.InitialAMMPoints <= 0 {
		return errors.New("config: market.initialAMMPoints must be positive")
	}
	return c.validateTTL()
}

func (c *Config) validateTTL() error {
	if c.TTL.Short <= 0 {
		return errors.New("config: ttl.short must be positive")
	}
	if c.TTL.Medium <= 0 {
		return errors.New("config: ttl.medium must be positive")
	}
	if c.TTL.Long <= 0 {
		return errors.New("config: ttl.long must be positive")
	}
	return nil
}

func (c *Config) IsTestEnv() bool {
	return c.Env == "test" || c.Env == ""
}

func (c *Config) MainPath() string { return c.mainPath }
func (c *Config) BaseDir() string  { return c.baseDir }
