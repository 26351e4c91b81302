package config

import (
	"fmt"
	"strings"
	"time"

	"booru-archiver/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './downloads'")
		c.OutputBaseDir = "./downloads"
	}

	// HistoryDir
	if c.HistoryDir == "" {
		warnings = append(warnings, "history_dir is empty, defaulting to './archiver_state'")
		c.HistoryDir = "./archiver_state"
	}

	// PageSize: API families cap page size at 100
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.PageSize > 100 {
		warnings = append(warnings, fmt.Sprintf(
			"page_size %d exceeds the API maximum, clamping to 100", c.PageSize))
		c.PageSize = 100
	}

	// Limiters
	c.DownloadLimits.applyDefaults(4, 100*time.Millisecond)
	c.MetadataLimits.applyDefaults(4, 125*time.Millisecond)

	// HTTPClient defaults
	c.validateHTTPClientSettings()

	// Providers
	for name, p := range c.Providers {
		if pw, perr := p.Validate(); perr != nil {
			return warnings, fmt.Errorf("provider %q: %w", name, perr)
		} else {
			for _, w := range pw {
				warnings = append(warnings, fmt.Sprintf("provider %q: %s", name, w))
			}
		}
		c.Providers[name] = p
	}

	return warnings, nil // AppConfig validation never fails fatally for global fields
}

func (l *LimiterConfig) applyDefaults(maxConcurrent int, minInterval time.Duration) {
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = maxConcurrent
	}
	if l.MinInterval <= 0 {
		l.MinInterval = minInterval
	}
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClient
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks ProviderConfig fields and applies defaults.
// Modifies receiver in place (base URL normalization).
func (p *ProviderConfig) Validate() (warnings []string, err error) {
	if p.BaseURL != "" {
		p.BaseURL = strings.TrimSuffix(p.BaseURL, "/")
		if !strings.HasPrefix(p.BaseURL, "http://") && !strings.HasPrefix(p.BaseURL, "https://") {
			return nil, fmt.Errorf("%w: base_url must be an absolute http(s) URL", utils.ErrConfigValidation)
		}
	}
	return warnings, nil
}
