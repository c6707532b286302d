package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
)

// Mail providers accepted by MAIL_PROVIDER.
const (
	MailProviderSES      = "ses"
	MailProviderPostmark = "postmark"
	MailProviderSMTP     = "smtp"
	MailProviderLog      = "log"
)

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Cookie    CookieConfig
	Login     LoginConfig
	Blocklist BlocklistConfig
	AutoBlock AutoBlockConfig
	Logs      LogsConfig
	Mail      MailConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret        string
	AdminTokenExpiry time.Duration
	RegistryPath     string
	// Single admin used when no registry file is configured.
	AdminUsername   string
	AdminPassword   string
	AdminEmail      string
	TimingBase      time.Duration
	TimingJitter    time.Duration
	TimingOnSuccess bool
}

type CookieConfig struct {
	Domain   string
	Secure   bool
	SameSite string
}

type LoginConfig struct {
	MaxFailures       int
	FailureWindow     time.Duration
	AlertThreshold    int
	SessionTTL        time.Duration
	MaxSessions       int
	MailWindow        time.Duration
	MailMax           int
	MailCooldown      time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

type BlocklistConfig struct {
	Path     string
	RedisURL string
	RedisKey string
	Watch    bool
}

type AutoBlockConfig struct {
	Interval  time.Duration
	Lookback  time.Duration
	Threshold int
	BlockTTL  time.Duration
}

type LogsConfig struct {
	Root         string
	SettingsFile string
	S3Bucket     string
	S3Prefix     string
	S3Endpoint   string
	AWSRegion    string
}

type MailConfig struct {
	Provider             string
	FromAddress          string
	AWSRegion            string
	PostmarkServerToken  string
	PostmarkAccountToken string
	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string
	SMTPTLSMode          string
	SMTPTimeout          time.Duration
	VerifyOnStart        bool
	AlertRecipients      []string
	AlertInterval        time.Duration
	AlertBurst           int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")
	region := getEnv("AWS_REGION", "us-east-1")

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout: getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:        jwtSecret,
			AdminTokenExpiry: getEnvAsDuration("ADMIN_TOKEN_EXPIRY", 8*time.Hour),
			RegistryPath:     getEnv("ADMIN_REGISTRY_PATH", ""),
			AdminUsername:    getEnv("ADMIN_USERNAME", ""),
			AdminPassword:    getEnv("ADMIN_PASSWORD", ""),
			AdminEmail:       getEnv("ADMIN_EMAIL", ""),
			TimingBase:       getEnvAsDuration("AUTH_TIMING_BASE", 300*time.Millisecond),
			TimingJitter:     getEnvAsDuration("AUTH_TIMING_JITTER", 200*time.Millisecond),
			TimingOnSuccess:  getEnvAsBool("AUTH_TIMING_ON_SUCCESS", false),
		},
		Cookie: CookieConfig{
			Domain:   getEnv("COOKIE_DOMAIN", ""),
			Secure:   getEnvAsBool("COOKIE_SECURE", env == "production"),
			SameSite: getEnv("COOKIE_SAMESITE", "strict"),
		},
		Login: LoginConfig{
			MaxFailures:       getEnvAsInt("LOGIN_MAX_FAILURES", 5),
			FailureWindow:     getEnvAsDuration("LOGIN_FAILURE_WINDOW", 15*time.Minute),
			AlertThreshold:    getEnvAsInt("LOGIN_ALERT_THRESHOLD", 2),
			SessionTTL:        getEnvAsDuration("LOGIN_SESSION_TTL", 30*time.Minute),
			MaxSessions:       getEnvAsInt("LOGIN_MAX_SESSIONS", 1000),
			MailWindow:        getEnvAsDuration("CODE_MAIL_WINDOW", 10*time.Minute),
			MailMax:           getEnvAsInt("CODE_MAIL_MAX", 5),
			MailCooldown:      getEnvAsDuration("CODE_MAIL_COOLDOWN", 30*time.Minute),
			RateLimitRequests: getEnvAsInt("LOGIN_RATE_LIMIT", 20),
			RateLimitWindow:   getEnvAsDuration("LOGIN_RATE_LIMIT_WINDOW", time.Minute),
		},
		Blocklist: BlocklistConfig{
			Path:     getEnv("BLOCKLIST_PATH", "data/blocked_ips.json"),
			RedisURL: getEnv("REDIS_URL", ""),
			RedisKey: getEnv("BLOCKLIST_REDIS_KEY", "kazay:blocklist"),
			Watch:    getEnvAsBool("BLOCKLIST_WATCH", true),
		},
		AutoBlock: AutoBlockConfig{
			Interval:  getEnvAsDuration("AUTOBLOCK_INTERVAL", time.Hour),
			Lookback:  getEnvAsDuration("AUTOBLOCK_LOOKBACK", time.Hour),
			Threshold: getEnvAsInt("AUTOBLOCK_THRESHOLD", 10),
			BlockTTL:  getEnvAsDuration("AUTOBLOCK_TTL", 24*time.Hour),
		},
		Logs: LogsConfig{
			Root:         getEnv("LOG_ROOT", "logs"),
			SettingsFile: getEnv("LOG_SETTINGS_FILE", "data/settings.json"),
			S3Bucket:     getEnv("LOG_ARCHIVE_BUCKET", ""),
			S3Prefix:     getEnv("LOG_ARCHIVE_PREFIX", "kazay/logs"),
			S3Endpoint:   getEnv("LOG_ARCHIVE_ENDPOINT", ""),
			AWSRegion:    region,
		},
		Mail: MailConfig{
			Provider:             strings.ToLower(getEnv("MAIL_PROVIDER", defaultMailProvider(env))),
			FromAddress:          getEnv("MAIL_FROM", ""),
			AWSRegion:            region,
			PostmarkServerToken:  getEnv("POSTMARK_SERVER_TOKEN", ""),
			PostmarkAccountToken: getEnv("POSTMARK_ACCOUNT_TOKEN", ""),
			SMTPHost:             getEnv("SMTP_HOST", ""),
			SMTPPort:             getEnvAsInt("SMTP_PORT", 465),
			SMTPUsername:         getEnv("SMTP_USERNAME", ""),
			SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
			SMTPTLSMode:          getEnv("SMTP_TLS_MODE", "tls"),
			SMTPTimeout:          getEnvAsDuration("SMTP_TIMEOUT", 15*time.Second),
			VerifyOnStart:        getEnvAsBool("MAIL_VERIFY_ON_START", false),
			AlertRecipients:      getEnvAsList("ALERT_RECIPIENTS"),
			AlertInterval:        getEnvAsDuration("ALERT_INTERVAL", time.Minute),
			AlertBurst:           getEnvAsInt("ALERT_BURST", 5),
		},
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.RegistryPath == "" && (c.Auth.AdminUsername == "" || c.Auth.AdminPassword == "" || c.Auth.AdminEmail == "") {
		return fmt.Errorf("ADMIN_REGISTRY_PATH or ADMIN_USERNAME, ADMIN_PASSWORD and ADMIN_EMAIL are required")
	}
	if c.Login.MaxFailures < 1 {
		return fmt.Errorf("LOGIN_MAX_FAILURES must be at least 1")
	}
	if c.AutoBlock.Threshold < 1 {
		return fmt.Errorf("AUTOBLOCK_THRESHOLD must be at least 1")
	}

	ipConfig := pkghttp.IPConfig{TrustedProxies: c.Server.TrustedProxies}
	if err := ipConfig.Validate(); err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	switch c.Mail.Provider {
	case MailProviderLog:
		if c.Server.Env == "production" {
			return fmt.Errorf("MAIL_PROVIDER=log is not allowed in production")
		}
		return nil
	case MailProviderSES:
	case MailProviderPostmark:
		if c.Mail.PostmarkServerToken == "" {
			return fmt.Errorf("POSTMARK_SERVER_TOKEN is required for the postmark provider")
		}
	case MailProviderSMTP:
		if c.Mail.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required for the smtp provider")
		}
	default:
		return fmt.Errorf("unknown MAIL_PROVIDER %q", c.Mail.Provider)
	}
	if c.Mail.FromAddress == "" {
		return fmt.Errorf("MAIL_FROM is required")
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func defaultMailProvider(env string) string {
	if env == "production" {
		return MailProviderSES
	}
	return MailProviderLog
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma-separated value, dropping empty items.
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if origins := getEnvAsList("ALLOWED_ORIGINS"); len(origins) > 0 || env == "production" {
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
