package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/flashvault/flashloan"
	"github.com/michaelpento.lv/flashvault/store"
	"github.com/michaelpento.lv/flashvault/types"
	bpsmath "github.com/michaelpento.lv/flashvault/utils/math"
)

const DefaultConfigFile = "flashvault.yaml"

type Config struct {
	Pool              PoolConfig    `yaml:"pool"`
	Admins            []string      `yaml:"admins"`
	AuthorizedCallers []string      `yaml:"authorized_callers"`
	Assets            []AssetConfig `yaml:"assets"`
	Store             StoreConfig   `yaml:"store"`
	Audit             AuditConfig   `yaml:"audit"`
	Log               LogConfig     `yaml:"log"`
	API               APIConfig     `yaml:"api"`
	Metrics           MetricsConfig `yaml:"metrics"`
}

type PoolConfig struct {
	Address        string `yaml:"address"`
	FeeBeneficiary string `yaml:"fee_beneficiary"` // Empty pays fees to the withdrawing admin
}

// AssetConfig lists one asset at startup. Amounts are base-10 strings so
// 18-decimal tokens fit.
type AssetConfig struct {
	Address               string        `yaml:"address"`
	MinAmount             string        `yaml:"min_amount"`
	MaxAmount             string        `yaml:"max_amount"`
	BasePremiumRateBps    uint64        `yaml:"base_premium_rate_bps"`
	DynamicPremiumRateBps uint64        `yaml:"dynamic_premium_rate_bps"`
	MaxDuration           time.Duration `yaml:"max_duration"`
}

type StoreConfig struct {
	Backend   string `yaml:"backend"` // memory, pebble or leveldb
	Path      string `yaml:"path"`
	CacheSize int    `yaml:"cache_size"` // Zero disables the read cache
}

type AuditConfig struct {
	LogEvents        bool   `yaml:"log_events"`
	Journal          bool   `yaml:"journal"`
	JournalDir       string `yaml:"journal_dir"`
	SegmentThreshold int    `yaml:"segment_threshold"`
	MaxSegments      int    `yaml:"max_segments"`
	Sync             bool   `yaml:"sync"`
}

type LogConfig struct {
	Debug      bool   `yaml:"debug"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type APIConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Listen            string        `yaml:"listen"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Namespace      string        `yaml:"namespace"`
	SampleInterval time.Duration `yaml:"sample_interval"` // Pool state gauges; zero disables sampling
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if !common.IsHexAddress(c.Pool.Address) || common.HexToAddress(c.Pool.Address) == (common.Address{}) {
		errors = append(errors, "pool.address must be a non-zero hex address")
	}
	if c.Pool.FeeBeneficiary != "" && !common.IsHexAddress(c.Pool.FeeBeneficiary) {
		errors = append(errors, "pool.fee_beneficiary must be a hex address")
	}
	for i, a := range c.Admins {
		if !common.IsHexAddress(a) {
			errors = append(errors, fmt.Sprintf("admins[%d] is not a hex address", i))
		}
	}
	for i, a := range c.AuthorizedCallers {
		if !common.IsHexAddress(a) {
			errors = append(errors, fmt.Sprintf("authorized_callers[%d] is not a hex address", i))
		}
	}
	if (len(c.Assets) > 0 || len(c.AuthorizedCallers) > 0) && len(c.Admins) == 0 {
		errors = append(errors, "at least one admin is required to bootstrap assets and callers")
	}

	seen := make(map[common.Address]bool)
	for i, a := range c.Assets {
		if err := a.Validate(); err != nil {
			errors = append(errors, fmt.Sprintf("assets[%d]: %v", i, err))
			continue
		}
		addr := common.HexToAddress(a.Address)
		if seen[addr] {
			errors = append(errors, fmt.Sprintf("assets[%d]: duplicate asset %s", i, addr.Hex()))
		}
		seen[addr] = true
	}

	if err := c.Store.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("store config error: %v", err))
	}
	if c.Audit.Journal && c.Audit.JournalDir == "" {
		errors = append(errors, "audit.journal_dir must be set when the journal is enabled")
	}
	if err := c.API.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("api config error: %v", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (a *AssetConfig) Validate() error {
	if !common.IsHexAddress(a.Address) || common.HexToAddress(a.Address) == (common.Address{}) {
		return fmt.Errorf("address must be a non-zero hex address")
	}
	params, err := a.Parameters()
	if err != nil {
		return err
	}
	return flashloan.ValidateParameters(params)
}

// Parameters converts the asset entry into loan parameters.
func (a *AssetConfig) Parameters() (types.LoanParameters, error) {
	minAmount, ok := bpsmath.ParseAmount(a.MinAmount)
	if !ok {
		return types.LoanParameters{}, fmt.Errorf("invalid min_amount %q", a.MinAmount)
	}
	maxAmount, ok := bpsmath.ParseAmount(a.MaxAmount)
	if !ok {
		return types.LoanParameters{}, fmt.Errorf("invalid max_amount %q", a.MaxAmount)
	}
	return types.LoanParameters{
		MinAmount:             minAmount,
		MaxAmount:             maxAmount,
		BasePremiumRateBps:    a.BasePremiumRateBps,
		DynamicPremiumRateBps: a.DynamicPremiumRateBps,
		MaxDuration:           a.MaxDuration,
	}, nil
}

func (s *StoreConfig) Validate() error {
	switch strings.ToLower(s.Backend) {
	case "", store.KindMemory:
	case store.KindPebble, store.KindLevelDB:
		if s.Path == "" {
			return fmt.Errorf("path must be set for the %s backend", s.Backend)
		}
	default:
		return fmt.Errorf("unsupported backend %q", s.Backend)
	}
	if s.CacheSize < 0 {
		return fmt.Errorf("cache size must not be negative")
	}
	return nil
}

func (a *APIConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.Listen == "" {
		return fmt.Errorf("listen address must be specified")
	}
	if a.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if a.Burst <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	return nil
}

// PoolAddress returns the custodian address.
func (c *Config) PoolAddress() common.Address {
	return common.HexToAddress(c.Pool.Address)
}

// FeeBeneficiary returns the configured beneficiary, or the zero address.
func (c *Config) FeeBeneficiary() common.Address {
	if c.Pool.FeeBeneficiary == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Pool.FeeBeneficiary)
}

func (c *Config) AdminAddresses() []common.Address {
	return toAddresses(c.Admins)
}

func (c *Config) CallerAddresses() []common.Address {
	return toAddresses(c.AuthorizedCallers)
}

// Listings returns the configured assets ready for Manager.Bootstrap.
func (c *Config) Listings() ([]flashloan.AssetListing, error) {
	listings := make([]flashloan.AssetListing, 0, len(c.Assets))
	for i := range c.Assets {
		params, err := c.Assets[i].Parameters()
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", c.Assets[i].Address, err)
		}
		listings = append(listings, flashloan.AssetListing{
			Asset:  common.HexToAddress(c.Assets[i].Address),
			Params: params,
		})
	}
	return listings, nil
}

func toAddresses(hex []string) []common.Address {
	out := make([]common.Address, 0, len(hex))
	for _, h := range hex {
		out = append(out, common.HexToAddress(h))
	}
	return out
}

// LoadConfig reads a YAML config file, applies environment overrides and
// validates the result.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		cfgFile = GetEnvWithDefault(EnvConfig, DefaultConfigFile)
	}

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	// Admins never fall back to the placeholder
	config.Admins = nil
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	ApplyEnv(config)

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return config, nil
}

func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		cfgFile = DefaultConfigFile
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(cfgFile, data, 0o644)
}

// DefaultConfig is an in-memory pool with one demo asset and the API on
// :8080. The pool and admin addresses are placeholders.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			Address: "0x000000000000000000000000000000000000f001",
		},
		Admins: []string{"0x000000000000000000000000000000000000ad01"},
		Store: StoreConfig{
			Backend:   store.KindMemory,
			CacheSize: 4096,
		},
		Audit: AuditConfig{
			LogEvents:        true,
			JournalDir:       "./wal/audit",
			SegmentThreshold: 100,
			MaxSegments:      10,
			Sync:             true,
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		API: APIConfig{
			Enabled:           true,
			Listen:            ":8080",
			RequestsPerSecond: 10,
			Burst:             100,
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Namespace:      "flashvault",
			SampleInterval: 15 * time.Second,
		},
	}
}

// ExampleAsset is the asset entry written by the init command.
func ExampleAsset() AssetConfig {
	return AssetConfig{
		Address:               "0x00000000000000000000000000000000000000a1",
		MinAmount:             "100",
		MaxAmount:             new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil).String(),
		BasePremiumRateBps:    9,
		DynamicPremiumRateBps: 0,
		MaxDuration:           time.Minute,
	}
}
