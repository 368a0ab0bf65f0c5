package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/example/messaging-gateway/internal/util"
)

// Provider identifiers for the two supported upstream transports.
const (
	ProviderOfficial = "p1"
	ProviderQRSocket  = "p2"
)

// Config captures all runtime configuration for the messaging gateway.
type Config struct {
	App       AppConfig
	Providers ProvidersConfig
	Fallback  FallbackConfig
	Polling   PollingConfig
	Webhook   WebhookConfig
	Backend   BackendConfig
	Queue     QueueConfig
	Janitor   JanitorConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
	AuthRoot string
}

// ProvidersConfig controls which upstream providers are enabled and how they
// are prioritised for a tenant session.
type ProvidersConfig struct {
	Primary       string
	P1Enabled     bool
	P2Enabled     bool
	P1Credentials string
	P1BaseURL     string
	P1VerifyToken string
	P2SocketURL   string
}

// FallbackConfig controls the Send Router's retry and failover behaviour.
type FallbackConfig struct {
	Enabled      bool
	MaxRetries   int
	RetryDelayMs int
	Triggers     FallbackTriggers
}

// FallbackTriggers enumerates which normalized error classes cause a
// fallback to the next provider in priority order.
type FallbackTriggers struct {
	Timeout        bool
	RateLimit      bool
	TemplateError  bool
	ServerError    bool
}

// PollingConfig controls the Outbound Poller's tick interval.
type PollingConfig struct {
	IntervalMs int
}

// WebhookConfig holds the Webhook Forwarder's destination. TimeoutMs is
// loaded from the environment but is not passed to the forwarder, which
// always applies webhookfwd.Timeout (15 s).
type WebhookConfig struct {
	URL        string
	TimeoutMs  int
}

// BackendConfig controls how the gateway talks to the application backend.
type BackendConfig struct {
	URL string
	Key string
}

// QueueConfig controls the Inbound Delivery Queue's persistence file.
type QueueConfig struct {
	FilePath string
}

// JanitorConfig controls the periodic sweep of stuck/failed sessions.
type JanitorConfig struct {
	IntervalMinutes       int
	InitializingTimeoutMinutes int
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)
	cfg.App.AuthRoot = ldr.getString("AUTH_ROOT", "./data/auth", false)

	cfg.Providers.Primary = strings.ToLower(ldr.getString("PRIMARY_PROVIDER", ProviderOfficial, false))
	cfg.Providers.P1Enabled = ldr.getBool("P1_ENABLED", true, false)
	cfg.Providers.P2Enabled = ldr.getBool("P2_ENABLED", true, false)
	cfg.Providers.P1Credentials = ldr.getString("P1_CREDENTIALS", "", false)
	cfg.Providers.P1BaseURL = ldr.getString("P1_BASE_URL", "", false)
	cfg.Providers.P1VerifyToken = ldr.getString("P1_VERIFY_TOKEN", "", false)
	cfg.Providers.P2SocketURL = ldr.getString("P2_SOCKET_URL", "", false)

	cfg.Fallback.Enabled = ldr.getBool("FALLBACK_ENABLED", true, false)
	cfg.Fallback.MaxRetries = ldr.getInt("FALLBACK_MAX_RETRIES", 3, false)
	cfg.Fallback.RetryDelayMs = ldr.getInt("FALLBACK_RETRY_DELAY_MS", 1000, false)
	cfg.Fallback.Triggers.Timeout = ldr.getBool("FALLBACK_TRIGGER_TIMEOUT", true, false)
	cfg.Fallback.Triggers.RateLimit = ldr.getBool("FALLBACK_TRIGGER_RATE_LIMIT", true, false)
	cfg.Fallback.Triggers.TemplateError = ldr.getBool("FALLBACK_TRIGGER_TEMPLATE_ERROR", true, false)
	cfg.Fallback.Triggers.ServerError = ldr.getBool("FALLBACK_TRIGGER_SERVER_ERROR", true, false)

	cfg.Polling.IntervalMs = ldr.getInt("POLLING_INTERVAL_MS", 5000, false)

	cfg.Webhook.URL = ldr.getString("WEBHOOK_URL", "", false)
	cfg.Webhook.TimeoutMs = ldr.getInt("WEBHOOK_TIMEOUT_MS", 15000, false)
	if cfg.Webhook.URL != "" {
		if normalized, err := util.ValidateHTTPURL(cfg.Webhook.URL); err != nil {
			ldr.addError(fmt.Sprintf("WEBHOOK_URL: %v", err))
		} else {
			cfg.Webhook.URL = normalized
		}
	}

	cfg.Backend.URL = ldr.getString("BACKEND_URL", "", true)
	cfg.Backend.Key = ldr.getString("BACKEND_KEY", "", true)
	if cfg.Backend.URL != "" {
		if normalized, err := util.ValidateHTTPURL(cfg.Backend.URL); err != nil {
			ldr.addError(fmt.Sprintf("BACKEND_URL: %v", err))
		} else {
			cfg.Backend.URL = normalized
		}
	}

	cfg.Queue.FilePath = ldr.getString("QUEUE_FILE_PATH", "./data/inbound-queue.json", false)

	cfg.Janitor.IntervalMinutes = ldr.getInt("JANITOR_INTERVAL_MINUTES", 10, false)
	cfg.Janitor.InitializingTimeoutMinutes = ldr.getInt("JANITOR_INITIALIZING_TIMEOUT_MINUTES", 30, false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid integer", key))
			return def
		}
		return i
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid boolean", key))
			return def
		}
		return parsed
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
