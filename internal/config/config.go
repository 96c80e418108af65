package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Proxy    ProxyConfig
	Browser  BrowserConfig
	Scrape   ScrapeConfig
	Output   OutputConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

type ProxyConfig struct {
	Host           string
	Port           int
	BinaryPath     string
	External       bool
	WarmupMin      time.Duration
	WarmupTimeout  time.Duration
	VerifyURL      string
	VerifyTimeout  time.Duration
	VerifyAttempts int
}

type BrowserConfig struct {
	Engine         string
	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	TimezoneID     string
}

type ScrapeConfig struct {
	BaseURL           string
	Locales           []string
	SessionsPerRun    int
	NavigationTimeout time.Duration
	ListingTimeout    time.Duration
	SettleTimeout     time.Duration
	SelectSettle      time.Duration
	LocaleDelayMin    time.Duration
	LocaleDelayMax    time.Duration
	OfferDelay        time.Duration
	StrictLocale      bool
	LocaleTableFile   string
}

type OutputConfig struct {
	ResultsDir  string
	WriteLatest bool
	LatestName  string
}

// DatabaseConfig is optional: an empty Host disables the run archive.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

// RedisConfig is optional: an empty Addr disables the outbox relay.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Proxy: ProxyConfig{
			Host:           getEnvOrDefault("PROXY_HOST", "127.0.0.1"),
			Port:           getIntOrDefault("PROXY_PORT", 9150),
			BinaryPath:     getEnvOrDefault("PROXY_BINARY", ""),
			External:       getBoolOrDefault("PROXY_EXTERNAL", false),
			WarmupMin:      getDurationOrDefault("PROXY_WARMUP_MIN", 0),
			WarmupTimeout:  getDurationOrDefault("PROXY_WARMUP_TIMEOUT", 60*time.Second),
			VerifyURL:      getEnvOrDefault("PROXY_VERIFY_URL", "https://check.torproject.org/api/ip"),
			VerifyTimeout:  getDurationOrDefault("PROXY_VERIFY_TIMEOUT", 10*time.Second),
			VerifyAttempts: getIntOrDefault("PROXY_VERIFY_ATTEMPTS", 3),
		},
		Browser: BrowserConfig{
			Engine:         getEnvOrDefault("BROWSER_ENGINE", "chromium"),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", false),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", defaultUserAgent),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Moscow"),
		},
		Scrape: ScrapeConfig{
			BaseURL:           getEnvOrDefault("SCRAPE_BASE_URL", "https://funpay.com"),
			Locales:           getStringSliceOrDefault("SCRAPE_LOCALES", []string{"ru", "en"}),
			SessionsPerRun:    getIntOrDefault("SCRAPE_SESSIONS_PER_RUN", 2),
			NavigationTimeout: getDurationOrDefault("SCRAPE_NAVIGATION_TIMEOUT", 30*time.Second),
			ListingTimeout:    getDurationOrDefault("SCRAPE_LISTING_TIMEOUT", 60*time.Second),
			SettleTimeout:     getDurationOrDefault("SCRAPE_SETTLE_TIMEOUT", 2*time.Second),
			SelectSettle:      getDurationOrDefault("SCRAPE_SELECT_SETTLE", 1*time.Second),
			LocaleDelayMin:    getDurationOrDefault("SCRAPE_LOCALE_DELAY_MIN", 500*time.Millisecond),
			LocaleDelayMax:    getDurationOrDefault("SCRAPE_LOCALE_DELAY_MAX", 1*time.Second),
			OfferDelay:        getDurationOrDefault("SCRAPE_OFFER_DELAY", 1*time.Second),
			StrictLocale:      getBoolOrDefault("SCRAPE_STRICT_LOCALE", false),
			LocaleTableFile:   getEnvOrDefault("LOCALE_TABLE_FILE", ""),
		},
		Output: OutputConfig{
			ResultsDir:  getEnvOrDefault("OUTPUT_RESULTS_DIR", "results"),
			WriteLatest: getBoolOrDefault("OUTPUT_WRITE_LATEST", true),
			LatestName:  getEnvOrDefault("OUTPUT_LATEST_NAME", "latest.json"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", ""),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "offer_scraper"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 4)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:scrape_runs"),
		},
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8084),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("invalid PROXY_PORT: %d", c.Proxy.Port)
	}

	if c.Proxy.VerifyAttempts < 1 {
		return fmt.Errorf("PROXY_VERIFY_ATTEMPTS must be at least 1")
	}

	if c.Scrape.SessionsPerRun != 1 && c.Scrape.SessionsPerRun != 2 {
		return fmt.Errorf("SCRAPE_SESSIONS_PER_RUN must be 1 or 2, got %d", c.Scrape.SessionsPerRun)
	}

	if len(c.Scrape.Locales) == 0 {
		return fmt.Errorf("SCRAPE_LOCALES must name at least one locale")
	}

	if c.Scrape.SessionsPerRun == 2 && len(c.Scrape.Locales) > 2 {
		return fmt.Errorf("dual-session mode supports at most 2 locales, got %d", len(c.Scrape.Locales))
	}

	if c.Scrape.LocaleDelayMin > c.Scrape.LocaleDelayMax {
		return fmt.Errorf("SCRAPE_LOCALE_DELAY_MIN cannot be greater than SCRAPE_LOCALE_DELAY_MAX")
	}

	if c.Browser.Engine != "chromium" && c.Browser.Engine != "firefox" {
		return fmt.Errorf("BROWSER_ENGINE must be chromium or firefox, got %q", c.Browser.Engine)
	}

	if c.Output.ResultsDir == "" {
		return fmt.Errorf("OUTPUT_RESULTS_DIR is required")
	}

	return nil
}

// ArchiveEnabled reports whether the Postgres run archive is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.Database.Host != ""
}

// RelayEnabled reports whether archived runs should be relayed to Redis.
func (c *Config) RelayEnabled() bool {
	return c.ArchiveEnabled() && c.Redis.Addr != ""
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
