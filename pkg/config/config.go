package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"booru-archiver/pkg/utils"
)

// ProviderConfig holds configuration specific to a single image board
type ProviderConfig struct {
	BaseURL     string `yaml:"base_url,omitempty"`   // Override the provider's default endpoint
	UserAgent   string `yaml:"user_agent,omitempty"` // Override the global user agent
	Disabled    bool   `yaml:"disabled,omitempty"`
	RequireAuth bool   `yaml:"require_auth,omitempty"` // Fail fast when credentials are absent
}

// LimiterConfig holds rate limiting for one traffic class (downloads, metadata)
type LimiterConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent,omitempty"`
	MinInterval   time.Duration `yaml:"min_interval,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent string                    `yaml:"default_user_agent"`
	OutputBaseDir    string                    `yaml:"output_base_dir"`
	HistoryDir       string                    `yaml:"history_dir"`
	PageSize         int                       `yaml:"page_size,omitempty"`
	RespectRobots    *bool                     `yaml:"respect_robots,omitempty"` // Pointer for tri-state: nil = default (true)
	DownloadLimits   LimiterConfig             `yaml:"download_limits,omitempty"`
	MetadataLimits   LimiterConfig             `yaml:"metadata_limits,omitempty"`
	HTTPClient       HTTPClientConfig          `yaml:"http_client_settings,omitempty"`
	Providers        map[string]ProviderConfig `yaml:"providers"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// Credentials are never read from YAML; they come from the environment only.
// For provider "gelbooru" the variables are GELBOORU_USERNAME and
// GELBOORU_API_KEY (for Moebooru boards the key slot carries the password
// hash).
type Credentials struct {
	Username string `envconfig:"USERNAME"`
	APIKey   string `envconfig:"API_KEY"`
}

// Load reads and unmarshals an AppConfig from path. Validation is the
// caller's responsibility.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %q: %v", utils.ErrConfigValidation, path, err)
	}
	return &cfg, nil
}

// LoadCredentials pulls the named provider's credentials from the
// environment. Absent variables yield an empty (anonymous) credential set,
// which every provider accepts.
func LoadCredentials(provider string) (Credentials, error) {
	var c Credentials
	prefix := strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
	if err := envconfig.Process(prefix, &c); err != nil {
		return Credentials{}, fmt.Errorf("reading %s credentials from environment: %w", provider, err)
	}
	return c, nil
}

// GetEffectiveUserAgent determines the user agent for one provider
// Provider config (if non-empty) overrides global
func GetEffectiveUserAgent(provCfg ProviderConfig, appCfg *AppConfig) string {
	if provCfg.UserAgent != "" {
		return provCfg.UserAgent
	}
	if appCfg.DefaultUserAgent != "" {
		return appCfg.DefaultUserAgent
	}
	return "booru-archiver"
}

// GetEffectiveRespectRobots resolves the tri-state robots flag.
func GetEffectiveRespectRobots(appCfg *AppConfig) bool {
	if appCfg.RespectRobots != nil {
		return *appCfg.RespectRobots
	}
	return true
}
