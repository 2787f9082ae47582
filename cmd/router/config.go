// =============================================================================
// 📦 Router configuration
// =============================================================================
// All configuration is read from the environment, per spec.md §6. Every
// variable has an LLM_ROUTER_* canonical name; LLM_PROXY_API_* is accepted
// as a deprecated alias and logged once at startup (spec.md §9's Open
// Question: LLM_ROUTER_* wins when both are set).
// =============================================================================
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/modelgateway/llmrouter/duration"
)

// Config is the gateway's complete runtime configuration.
type Config struct {
	ListenAddr string

	CatalogPath string

	DefaultStrategy string
	DefaultLanguage string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RequestTimeout time.Duration

	// RequestDeadline bounds the whole request lifecycle — envelope
	// prep, provider selection, the upstream call, and response
	// hooks — not just the upstream HTTP round trip RequestTimeout
	// bounds. Exceeding it cancels the in-flight upstream call, releases
	// the provider lock, and returns 504 (spec.md §5).
	RequestDeadline time.Duration

	KeepAliveInterval time.Duration

	MetricsEnabled   bool
	MetricsNamespace string

	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel  string
	LogFormat string

	APIPrefixPath string
}

// APIPrefix returns the path prefix the built-in utility endpoints
// (conversation_with_model, translate, batch_file_summaries, ...) register
// under, trimmed of any trailing slash. The listing and passthrough
// endpoints use fixed paths and ignore it.
func (c Config) APIPrefix() string {
	return strings.TrimRight(c.APIPrefixPath, "/")
}

// DefaultConfig returns the gateway's built-in defaults, applied before any
// environment variable is consulted.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8080",
		CatalogPath:       "./models.json",
		DefaultStrategy:   "balanced",
		DefaultLanguage:   "en",
		RedisAddr:         "localhost:6379",
		RequestTimeout:    60 * time.Second,
		RequestDeadline:   300 * time.Second,
		KeepAliveInterval: 1 * time.Second,
		MetricsEnabled:    true,
		MetricsNamespace:  "llmrouter",
		RateLimitRPS:      20,
		RateLimitBurst:    40,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// LoadConfig builds a Config from DefaultConfig, overridden by environment
// variables. aliasWarnings collects every LLM_PROXY_API_* alias that was
// consulted, for the caller to log once the logger exists.
func LoadConfig() (Config, []string) {
	cfg := DefaultConfig()
	var aliasWarnings []string

	str := func(name string, dst *string) {
		if v, alias, ok := lookupEnv(name); ok {
			*dst = v
			if alias {
				aliasWarnings = append(aliasWarnings, name)
			}
		}
	}
	duration_ := func(name string, dst *time.Duration) {
		if v, alias, ok := lookupEnv(name); ok {
			if d, err := duration.Parse(v); err == nil {
				*dst = d
				if alias {
					aliasWarnings = append(aliasWarnings, name)
				}
			}
		}
	}
	integer := func(name string, dst *int) {
		if v, alias, ok := lookupEnv(name); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				if alias {
					aliasWarnings = append(aliasWarnings, name)
				}
			}
		}
	}
	float := func(name string, dst *float64) {
		if v, alias, ok := lookupEnv(name); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
				if alias {
					aliasWarnings = append(aliasWarnings, name)
				}
			}
		}
	}
	boolean := func(name string, dst *bool) {
		if v, alias, ok := lookupEnv(name); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
				if alias {
					aliasWarnings = append(aliasWarnings, name)
				}
			}
		}
	}

	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("CATALOG_PATH", &cfg.CatalogPath)
	str("DEFAULT_STRATEGY", &cfg.DefaultStrategy)
	str("DEFAULT_LANGUAGE", &cfg.DefaultLanguage)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)
	integer("REDIS_DB", &cfg.RedisDB)
	duration_("REQUEST_TIMEOUT", &cfg.RequestTimeout)
	duration_("REQUEST_DEADLINE", &cfg.RequestDeadline)
	duration_("KEEPALIVE_INTERVAL", &cfg.KeepAliveInterval)
	boolean("METRICS_ENABLED", &cfg.MetricsEnabled)
	str("METRICS_NAMESPACE", &cfg.MetricsNamespace)
	float("RATE_LIMIT_RPS", &cfg.RateLimitRPS)
	integer("RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("API_PREFIX", &cfg.APIPrefixPath)

	return cfg, aliasWarnings
}

// lookupEnv reads LLM_ROUTER_<name>, falling back to the deprecated
// LLM_PROXY_API_<name> alias. The bool return reports whether the value
// came from the alias, so the caller can warn about it exactly once.
func lookupEnv(name string) (value string, fromAlias bool, ok bool) {
	if v := os.Getenv("LLM_ROUTER_" + name); v != "" {
		return v, false, true
	}
	if v := os.Getenv("LLM_PROXY_API_" + name); v != "" {
		return v, true, true
	}
	return "", false, false
}

// validate performs the startup sanity checks from spec.md §6: a catalog
// path is mandatory, and the default strategy must be one of the five
// known names.
func (c Config) validate() error {
	if strings.TrimSpace(c.CatalogPath) == "" {
		return fmt.Errorf("CATALOG_PATH must not be empty")
	}
	switch c.DefaultStrategy {
	case "balanced", "weighted", "dynamic_weighted", "first_available", "first_available_optim":
	default:
		return fmt.Errorf("unknown DEFAULT_STRATEGY %q", c.DefaultStrategy)
	}
	return nil
}
