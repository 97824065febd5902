package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/yegors/aemet-connector/internal/aemet"
)

// Environment variables that override the file
const (
	EnvAPIKey   = "AEMET_API_KEY"
	EnvPort     = "PORT"
	EnvRelayURL = "AEMET_RELAY_URL"
	EnvPostgres = "AEMET_POSTGRES_DSN"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server    ServerConfig    `toml:"server"`    // HTTP server settings
	AEMET     AEMETConfig     `toml:"aemet"`     // AEMET open-data API settings
	Transport TransportConfig `toml:"transport"` // How requests reach AEMET (direct or relay)
	Retry     RetryConfig     `toml:"retry"`     // Retry policy applied to each hop
	Cache     CacheConfig     `toml:"cache"`     // In-memory result cache settings
	Storage   StorageConfig   `toml:"storage"`   // Run history persistence settings
	Refresh   RefreshConfig   `toml:"refresh"`   // Background refresh settings
	Logging   LoggingConfig   `toml:"logging"`   // Application logging settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (must exceed both hops with retries, 0 disables)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"` // Dataset requests allowed per client IP and minute (0 disables the limit)
	RateLimitBurst     int      `toml:"rate_limit_burst"`      // Requests a client may issue at once before being limited
	TrustedProxies     []string `toml:"trusted_proxies"`       // Reverse proxies (addresses or CIDRs) whose X-Forwarded-For/X-Real-IP headers identify the client
	MetricsEnabled     bool     `toml:"metrics_enabled"`       // Expose Prometheus metrics on /metrics
}

// AEMETConfig contains AEMET open-data API configuration
type AEMETConfig struct {
	APIKey               string `toml:"api_key"`                    // Default API key, used when a request carries none (prefer the AEMET_API_KEY env var)
	BaseURL              string `toml:"base_url"`                   // API root, defaults to https://opendata.aemet.es/opendata/api
	FirstHopTimeoutSecs  int    `toml:"first_hop_timeout_seconds"`  // Timeout of the indirection request
	SecondHopTimeoutSecs int    `toml:"second_hop_timeout_seconds"` // Timeout of the payload download
	MaxPayloadMB         int    `toml:"max_payload_mb"`             // Largest accepted payload
	DefaultMunicipality  string `toml:"default_municipality"`       // INE code used for forecasts when none is given
}

// TransportConfig selects how requests reach AEMET
type TransportConfig struct {
	Mode       string `toml:"mode"`        // "direct" or "relay"
	RelayURL   string `toml:"relay_url"`   // Relay endpoint, required in relay mode
	RelayParam string `toml:"relay_param"` // Query parameter carrying the target URL (default "url")
}

// RetryConfig contains the retry policy of each hop
type RetryConfig struct {
	MaxRetries int  `toml:"max_retries"` // Extra attempts after the first one (0 disables retries)
	DelayMs    int  `toml:"delay_ms"`    // Wait between attempts
	Backoff    bool `toml:"backoff"`     // Double the wait after each attempt
}

// CacheConfig contains result cache configuration
type CacheConfig struct {
	TTLMinutes int `toml:"ttl_minutes"` // How long a result is served from memory (0 disables the cache)
}

// StorageConfig contains run history configuration
type StorageConfig struct {
	Enabled     bool   `toml:"enabled"`      // Record every pipeline run
	Type        string `toml:"type"`         // Storage backend: "sqlite" or "postgres"
	SQLitePath  string `toml:"sqlite_path"`  // Path of the SQLite database file
	PostgresDSN string `toml:"postgres_dsn"` // Connection string when type is postgres (prefer the AEMET_POSTGRES_DSN env var)
}

// RefreshConfig contains background refresh configuration
type RefreshConfig struct {
	Enabled         bool     `toml:"enabled"`          // Periodically refresh datasets with the configured API key
	IntervalMinutes int      `toml:"interval_minutes"` // Time between refreshes
	Datasets        []string `toml:"datasets"`         // Datasets to refresh (stations, forecast, observation)
	Municipalities  []string `toml:"municipalities"`   // Municipalities refreshed for the forecast dataset
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// Default returns the configuration used when no file overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			Host:               "0.0.0.0",
			CORSAllowedOrigins: []string{"*"},
			ReadTimeoutSecs:    15,
			WriteTimeoutSecs:   240,
			IdleTimeoutSecs:    60,
			RateLimitPerMinute: 60,
			RateLimitBurst:     10,
			MetricsEnabled:     true,
		},
		AEMET: AEMETConfig{
			BaseURL:              aemet.DefaultBaseURL,
			FirstHopTimeoutSecs:  10,
			SecondHopTimeoutSecs: 60,
			MaxPayloadMB:         64,
			DefaultMunicipality:  aemet.DefaultMunicipalityCode,
		},
		Transport: TransportConfig{
			Mode:       string(aemet.TransportDirect),
			RelayParam: aemet.DefaultRelayParam,
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			DelayMs:    3000,
		},
		Cache: CacheConfig{
			TTLMinutes: 10,
		},
		Storage: StorageConfig{
			Enabled:    true,
			Type:       "sqlite",
			SQLitePath: "data/aemet-runs.db",
		},
		Refresh: RefreshConfig{
			IntervalMinutes: 30,
			Datasets:        []string{string(aemet.KindObservation)},
			Municipalities:  []string{aemet.DefaultMunicipalityCode},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads the configuration from the specified file path.
// Keys absent from the file keep their default value.
func Load(path string) (*Config, error) {
	config := Default()

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference.
// A .env file in the working directory is loaded first and the environment overrides the file.
func LoadWithFallback(preferredPath string) (*Config, error) {
	_ = godotenv.Load() // ignore missing file

	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			if err := config.ApplyEnv(); err != nil {
				return nil, err
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// ApplyEnv overrides file values with the environment
func (c *Config) ApplyEnv() error {
	if key := strings.TrimSpace(os.Getenv(EnvAPIKey)); key != "" {
		c.AEMET.APIKey = key
	}
	if relay := strings.TrimSpace(os.Getenv(EnvRelayURL)); relay != "" {
		c.Transport.RelayURL = relay
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvPostgres)); dsn != "" {
		c.Storage.PostgresDSN = dsn
	}
	if port := strings.TrimSpace(os.Getenv(EnvPort)); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvPort, port, err)
		}
		c.Server.Port = p
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if len(c.Server.CORSAllowedOrigins) == 0 {
		c.Server.CORSAllowedOrigins = []string{"*"}
	}

	// Validate AEMET config
	if c.AEMET.BaseURL == "" {
		c.AEMET.BaseURL = aemet.DefaultBaseURL
	}
	if c.AEMET.FirstHopTimeoutSecs <= 0 {
		return fmt.Errorf("invalid first_hop_timeout_seconds: %d (must be > 0)", c.AEMET.FirstHopTimeoutSecs)
	}
	if c.AEMET.SecondHopTimeoutSecs < c.AEMET.FirstHopTimeoutSecs {
		return fmt.Errorf("second_hop_timeout_seconds (%d) must not be shorter than first_hop_timeout_seconds (%d)",
			c.AEMET.SecondHopTimeoutSecs, c.AEMET.FirstHopTimeoutSecs)
	}
	if c.AEMET.MaxPayloadMB <= 0 {
		return fmt.Errorf("invalid max_payload_mb: %d (must be > 0)", c.AEMET.MaxPayloadMB)
	}
	if c.AEMET.DefaultMunicipality == "" {
		c.AEMET.DefaultMunicipality = aemet.DefaultMunicipalityCode
	}

	// Validate transport config
	switch aemet.TransportMode(c.Transport.Mode) {
	case "":
		c.Transport.Mode = string(aemet.TransportDirect)
	case aemet.TransportDirect:
	case aemet.TransportRelay:
		if c.Transport.RelayURL == "" {
			return fmt.Errorf("relay_url is required when transport mode is relay")
		}
	default:
		return fmt.Errorf("invalid transport mode: %s (must be 'direct' or 'relay')", c.Transport.Mode)
	}

	// Validate retry config
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("invalid max_retries: %d (must be >= 0)", c.Retry.MaxRetries)
	}
	if c.Retry.DelayMs < 0 {
		return fmt.Errorf("invalid delay_ms: %d (must be >= 0)", c.Retry.DelayMs)
	}

	if c.Server.WriteTimeoutSecs < 0 {
		return fmt.Errorf("invalid write_timeout_seconds: %d (must be >= 0)", c.Server.WriteTimeoutSecs)
	}
	if write := time.Duration(c.Server.WriteTimeoutSecs) * time.Second; write > 0 && write <= c.PipelineBudget() {
		return fmt.Errorf("write_timeout_seconds (%d) must exceed the longest pipeline run (%s with the current timeouts and retries)",
			c.Server.WriteTimeoutSecs, c.PipelineBudget())
	}

	if c.Cache.TTLMinutes < 0 {
		return fmt.Errorf("invalid cache ttl_minutes: %d (must be >= 0)", c.Cache.TTLMinutes)
	}

	if c.Server.RateLimitPerMinute < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("invalid rate limit: %d/min burst %d (must be >= 0)", c.Server.RateLimitPerMinute, c.Server.RateLimitBurst)
	}
	if c.Server.RateLimitPerMinute > 0 && c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 1
	}
	for _, proxy := range c.Server.TrustedProxies {
		if _, err := parseProxy(proxy); err != nil {
			return fmt.Errorf("invalid trusted_proxies entry: %w", err)
		}
	}

	// Validate storage config
	if c.Storage.Type == "" {
		c.Storage.Type = "sqlite"
	}
	if c.Storage.Enabled {
		switch c.Storage.Type {
		case "sqlite":
			if c.Storage.SQLitePath == "" {
				return fmt.Errorf("sqlite_path is required when storage type is sqlite")
			}
		case "postgres":
			if c.Storage.PostgresDSN == "" {
				return fmt.Errorf("postgres_dsn is required when storage type is postgres (or set %s)", EnvPostgres)
			}
		default:
			return fmt.Errorf("invalid storage type: %s (must be 'sqlite' or 'postgres')", c.Storage.Type)
		}
	}

	// Validate refresh config
	if c.Refresh.Enabled {
		if c.Refresh.IntervalMinutes <= 0 {
			return fmt.Errorf("invalid refresh interval_minutes: %d (must be > 0)", c.Refresh.IntervalMinutes)
		}
		if len(c.Refresh.Datasets) == 0 {
			return fmt.Errorf("refresh is enabled but no datasets are configured")
		}
		for _, d := range c.Refresh.Datasets {
			if _, err := aemet.ParseDatasetKind(d); err != nil {
				return fmt.Errorf("invalid refresh dataset: %w", err)
			}
		}
		if c.AEMET.APIKey == "" {
			return fmt.Errorf("refresh requires an API key (set [aemet] api_key or %s)", EnvAPIKey)
		}
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid log level
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
		// Valid log format
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// ClientConfig returns the AEMET client settings
func (c *Config) ClientConfig() aemet.ClientConfig {
	return aemet.ClientConfig{
		BaseURL:          c.AEMET.BaseURL,
		FirstHopTimeout:  time.Duration(c.AEMET.FirstHopTimeoutSecs) * time.Second,
		SecondHopTimeout: time.Duration(c.AEMET.SecondHopTimeoutSecs) * time.Second,
		MaxPayloadBytes:  int64(c.AEMET.MaxPayloadMB) << 20,
	}
}

// TransportSettings returns the transport selection
func (c *Config) TransportSettings() aemet.TransportConfig {
	return aemet.TransportConfig{
		Mode:       aemet.TransportMode(c.Transport.Mode),
		RelayURL:   c.Transport.RelayURL,
		RelayParam: c.Transport.RelayParam,
	}
}

// RetryPolicy returns the hop retry policy
func (c *Config) RetryPolicy() aemet.RetryPolicy {
	return aemet.RetryPolicy{
		MaxRetries: c.Retry.MaxRetries,
		Delay:      time.Duration(c.Retry.DelayMs) * time.Millisecond,
		Backoff:    c.Retry.Backoff,
	}
}

// TrustedProxyPrefixes returns the trusted proxies as prefixes. Entries
// rejected by Validate are skipped.
func (c *Config) TrustedProxyPrefixes() []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(c.Server.TrustedProxies))
	for _, proxy := range c.Server.TrustedProxies {
		if p, err := parseProxy(proxy); err == nil {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

// parseProxy accepts a CIDR or a single address
func parseProxy(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%q: %w", s, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%q: %w", s, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// PipelineBudget returns the longest a pipeline run can take: both hops with
// every retry timing out
func (c *Config) PipelineBudget() time.Duration {
	client := c.ClientConfig()
	retry := c.RetryPolicy()
	return retry.Budget(client.FirstHopTimeout) + retry.Budget(client.SecondHopTimeout)
}

// CacheTTL returns the result cache lifetime
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// RefreshInterval returns the time between background refreshes
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalMinutes) * time.Minute
}
