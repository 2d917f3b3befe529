package authkit

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the tunable settings of the library. Zero values mean
// "keep the default".
type Config struct {
	Signature SignatureConfig `json:"signature" yaml:"signature"`
	Enforce   EnforceConfig   `json:"enforce" yaml:"enforce"`
}

// SignatureConfig tunes the signed-request verification service.
type SignatureConfig struct {
	// DisparityWindowMS bounds timestamp drift and doubles as the nonce
	// TTL. Defaults to five minutes.
	DisparityWindowMS int64 `json:"disparity_window_ms" yaml:"disparity_window_ms"`

	// SecretCacheCounters and SecretCacheMaxCost size the ristretto
	// mirror of the secret store.
	SecretCacheCounters int64 `json:"secret_cache_counters" yaml:"secret_cache_counters"`
	SecretCacheMaxCost  int64 `json:"secret_cache_max_cost" yaml:"secret_cache_max_cost"`
}

// EnforceConfig tunes the enforcement facade.
type EnforceConfig struct {
	// DecisionCacheTTLMS is how long enforcement decisions are cached.
	DecisionCacheTTLMS int64 `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
}

// ConfigLoader loads configuration from various formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML exports config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// KeyServiceOptions converts the signature settings into constructor
// options for NewKeyService.
func (c *Config) KeyServiceOptions() []KeyServiceOption {
	var opts []KeyServiceOption
	if c.Signature.DisparityWindowMS > 0 {
		opts = append(opts, WithDisparityWindow(time.Duration(c.Signature.DisparityWindowMS)*time.Millisecond))
	}
	if c.Signature.SecretCacheCounters > 0 && c.Signature.SecretCacheMaxCost > 0 {
		opts = append(opts, WithSecretCacheSize(c.Signature.SecretCacheCounters, c.Signature.SecretCacheMaxCost))
	}
	return opts
}

// ServiceOptions converts the enforcement settings into constructor
// options for NewService.
func (c *Config) ServiceOptions() []ServiceOption {
	var opts []ServiceOption
	if c.Enforce.DecisionCacheTTLMS > 0 {
		opts = append(opts, WithDecisionCacheTTL(time.Duration(c.Enforce.DecisionCacheTTLMS)*time.Millisecond))
	}
	return opts
}
