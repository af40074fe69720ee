package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// FailPolicy declares how a component behaves when a dependency it needs is
// unreachable. Security-critical stages must be FailClosed.
type FailPolicy string

const (
	// FailClosed rejects the request when the dependency is unavailable.
	FailClosed FailPolicy = "closed"
	// FailOpen lets the request proceed when the dependency is unavailable.
	FailOpen FailPolicy = "open"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Identity provider configuration
	Provider ProviderConfig

	// CSRF double-submit configuration
	CSRF CSRFConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Tenant resolution configuration
	Tenant TenantConfig

	// Backing stores
	PostgresURL string
	RedisURL    string

	// Environment namespaces shared counters (staging vs production)
	Environment string

	// AllowedOrigins is the CORS allow-list
	AllowedOrigins []string

	// TrustedProxies are CIDR ranges whose X-Forwarded-For headers are honored
	TrustedProxies []string

	// LogLevel controls log verbosity
	LogLevel string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// ProviderConfig holds identity provider settings
type ProviderConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	// Audience is the API identifier sent with every token request. Omitting
	// it makes the provider return an opaque token that cannot be verified
	// locally, so it is required.
	Audience    string
	RedirectURL string
	// UserinfoCheck enables the live userinfo freshness call after signature
	// verification. UserinfoPolicy decides what happens when the call fails.
	UserinfoCheck  bool
	UserinfoPolicy FailPolicy
	RequestTimeout time.Duration
}

// CSRFConfig holds double-submit cookie settings
type CSRFConfig struct {
	Enabled     bool
	CookieName  string
	HeaderName  string
	MinLength   int
	ExemptPaths []string
	Secure      bool
}

// RateLimitConfig holds the per-tier limits
type RateLimitConfig struct {
	Login    Limit // per-IP, unauthenticated
	Refresh  Limit // per-user, authenticated
	TokenURL Limit // per-IP, unauthenticated
}

// Limit is a request budget over a fixed window, e.g. 10 requests / 5 minutes.
type Limit struct {
	Requests int
	Window   time.Duration
}

// ParseLimit parses a "<requests>/<window>" string such as "10/5m".
func ParseLimit(s string) (Limit, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return Limit{}, fmt.Errorf("invalid limit %q: want <requests>/<window>", s)
	}
	requests, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || requests <= 0 {
		return Limit{}, fmt.Errorf("invalid request count in limit %q", s)
	}
	window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil || window <= 0 {
		return Limit{}, fmt.Errorf("invalid window in limit %q", s)
	}
	return Limit{Requests: requests, Window: window}, nil
}

// String renders the limit in the form echoed to clients, e.g. "10/5minutes".
func (l Limit) String() string {
	return fmt.Sprintf("%d/%s", l.Requests, formatWindow(l.Window))
}

func formatWindow(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1" + unit
	}
	return fmt.Sprintf("%d%ss", n, unit)
}

// TenantConfig holds tenant-mapping cache settings
type TenantConfig struct {
	CacheTTL time.Duration
	// NegativeCacheTTL caches "not found" results to blunt enumeration.
	// Zero disables negative caching so a freshly provisioned organization
	// resolves on the next request.
	NegativeCacheTTL time.Duration
	CacheSize        int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	loginLimit, err := ParseLimit(getEnv("GATEHOUSE_RATE_LIMIT_LOGIN", "10/5m"))
	if err != nil {
		return nil, err
	}
	refreshLimit, err := ParseLimit(getEnv("GATEHOUSE_RATE_LIMIT_REFRESH", "50/5m"))
	if err != nil {
		return nil, err
	}
	tokenURLLimit, err := ParseLimit(getEnv("GATEHOUSE_RATE_LIMIT_TOKEN_URL", "30/5m"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
			Port:            getEnv("GATEHOUSE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Provider: ProviderConfig{
			IssuerURL:      getEnv("GATEHOUSE_PROVIDER_ISSUER", ""),
			ClientID:       getEnv("GATEHOUSE_PROVIDER_CLIENT_ID", ""),
			ClientSecret:   getEnv("GATEHOUSE_PROVIDER_CLIENT_SECRET", ""),
			Audience:       getEnv("GATEHOUSE_PROVIDER_AUDIENCE", ""),
			RedirectURL:    getEnv("GATEHOUSE_PROVIDER_REDIRECT_URL", ""),
			UserinfoCheck:  getEnvBool("GATEHOUSE_PROVIDER_USERINFO_CHECK", false),
			UserinfoPolicy: parseFailPolicy(getEnv("GATEHOUSE_PROVIDER_USERINFO_POLICY", "open")),
			RequestTimeout: getEnvDuration("GATEHOUSE_PROVIDER_TIMEOUT", 5*time.Second),
		},
		CSRF: CSRFConfig{
			Enabled:     getEnvBool("GATEHOUSE_CSRF_ENABLED", true),
			CookieName:  getEnv("GATEHOUSE_CSRF_COOKIE", "csrf_token"),
			HeaderName:  getEnv("GATEHOUSE_CSRF_HEADER", "X-CSRF-Token"),
			MinLength:   getEnvInt("GATEHOUSE_CSRF_MIN_LENGTH", 32),
			ExemptPaths: getEnvList("GATEHOUSE_CSRF_EXEMPT_PATHS", []string{"/auth/login", "/auth/callback", "/healthz", "/readyz"}),
			Secure:      getEnvBool("GATEHOUSE_CSRF_SECURE_COOKIE", true),
		},
		RateLimit: RateLimitConfig{
			Login:    loginLimit,
			Refresh:  refreshLimit,
			TokenURL: tokenURLLimit,
		},
		Tenant: TenantConfig{
			CacheTTL:         getEnvDuration("GATEHOUSE_TENANT_CACHE_TTL", 5*time.Minute),
			NegativeCacheTTL: getEnvDuration("GATEHOUSE_TENANT_NEGATIVE_CACHE_TTL", 0),
			CacheSize:        getEnvInt("GATEHOUSE_TENANT_CACHE_SIZE", 1024),
		},
		PostgresURL:    getEnv("GATEHOUSE_POSTGRES_URL", ""),
		RedisURL:       getEnv("GATEHOUSE_REDIS_URL", "redis://localhost:6379/0"),
		Environment:    getEnv("GATEHOUSE_ENVIRONMENT", "development"),
		AllowedOrigins: getEnvList("GATEHOUSE_ALLOWED_ORIGINS", nil),
		TrustedProxies: getEnvList("GATEHOUSE_TRUSTED_PROXIES", nil),
		LogLevel:       getEnv("GATEHOUSE_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Provider.IssuerURL == "" {
		return fmt.Errorf("provider issuer URL is required")
	}
	if c.Provider.ClientID == "" {
		return fmt.Errorf("provider client ID is required")
	}
	if c.Provider.Audience == "" {
		// Without an audience the provider issues opaque tokens that cannot
		// be verified locally. Refuse to start rather than fail per-request.
		return fmt.Errorf("provider audience is required")
	}
	if c.CSRF.Enabled {
		if c.CSRF.CookieName == "" || c.CSRF.HeaderName == "" {
			return fmt.Errorf("CSRF cookie and header names are required when CSRF is enabled")
		}
		if c.CSRF.MinLength < 16 {
			return fmt.Errorf("CSRF minimum token length must be at least 16")
		}
	}
	if c.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Environment == "" {
		return fmt.Errorf("environment name is required")
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid trusted proxy CIDR %q: %w", cidr, err)
		}
	}
	return nil
}

func parseFailPolicy(s string) FailPolicy {
	if strings.EqualFold(s, string(FailClosed)) {
		return FailClosed
	}
	return FailOpen
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a slice
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
