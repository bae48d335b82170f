package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration required by the API process.
// All values come from env; defaults live in the env-default tags.
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	Store   StoreConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Mail    MailConfig
	SMTP    SMTPConfig
	Storage StorageConfig
	HTTP    HTTPConfig
}

type AppConfig struct {
	Env      string `env:"APP_ENV" env-default:"local"`
	Port     int    `env:"APP_PORT" env-default:"8080"`
	LogLevel string `env:"LOG_LEVEL"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "postgres" or "memory". Memory is for local runs only.
	Driver string `env:"STORE_DRIVER" env-default:"postgres"`
}

type DBConfig struct {
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" env-default:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `env:"DB_SSLMODE"`

	Migrate      bool `env:"DB_MIGRATE" env-default:"true"`
	MaxOpenConns int  `env:"DB_MAX_OPEN_CONNS" env-default:"10"`
}

// RedisConfig is optional. Without a host the poller only guards against
// overlapping runs inside one process.
type RedisConfig struct {
	Host       string        `env:"REDIS_HOST"`
	Port       int           `env:"REDIS_PORT" env-default:"6379"`
	RunLockKey string        `env:"REDIS_RUN_LOCK_KEY" env-default:"invoice-engine:ingest:run"`
	RunLockTTL time.Duration `env:"REDIS_RUN_LOCK_TTL" env-default:"10m"`
}

type AuthConfig struct {
	JWTSecret       string        `env:"JWT_SECRET"`
	JWTIssuer       string        `env:"JWT_ISSUER"`
	JWTAudience     string        `env:"JWT_AUDIENCE"`
	AccessTokenTTL  time.Duration `env:"JWT_ACCESS_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `env:"JWT_REFRESH_TTL" env-default:"720h"`
}

// MailConfig is the inbound mailbox and its polling schedule.
type MailConfig struct {
	IMAPHost     string `env:"MAIL_IMAP_HOST"`
	IMAPPort     int    `env:"MAIL_IMAP_PORT" env-default:"993"`
	IMAPUsername string `env:"MAIL_IMAP_USERNAME"`
	IMAPPassword string `env:"MAIL_IMAP_PASSWORD"`
	IMAPFolder   string `env:"MAIL_IMAP_FOLDER" env-default:"INBOX"`

	PollEnabled  bool          `env:"MAIL_POLL_ENABLED" env-default:"false"`
	PollInterval time.Duration `env:"MAIL_POLL_INTERVAL" env-default:"60s"`

	ExpectedSender  string `env:"MAIL_EXPECTED_SENDER" env-default:"aperez@amiun.com.ar"`
	ExpectedSubject string `env:"MAIL_EXPECTED_SUBJECT" env-default:"Has recibido un nuevo comprobante"`
}

type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" env-default:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`
	StartTLS bool   `env:"SMTP_STARTTLS" env-default:"true"`

	// TestMode sends every invoice to TestAddress instead of the insurer.
	TestMode    bool   `env:"SMTP_TEST_MODE" env-default:"false"`
	TestAddress string `env:"SMTP_TEST_ADDRESS"`
}

type StorageConfig struct {
	Dir string `env:"INVOICE_STORAGE_DIR" env-default:"./data/invoices"`
}

type HTTPConfig struct {
	RatePerSecond float64 `env:"HTTP_RATE_PER_SECOND" env-default:"10"`
	RateBurst     int     `env:"HTTP_RATE_BURST" env-default:"20"`
}

// Load reads the environment, applies defaults and validates.
func Load() (Config, error) {
	var c Config
	if err := cleanenv.ReadEnv(&c); err != nil {
		return Config{}, fmt.Errorf("config: read env: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) normalize() {
	c.App.Env = strings.TrimSpace(c.App.Env)
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.DB.Host = strings.TrimSpace(c.DB.Host)
	c.DB.SSLMode = strings.TrimSpace(c.DB.SSLMode)
	if c.DB.SSLMode == "" && !c.IsProduction() {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}
	c.Redis.Host = strings.TrimSpace(c.Redis.Host)
	c.Mail.IMAPHost = strings.TrimSpace(c.Mail.IMAPHost)
	c.SMTP.Host = strings.TrimSpace(c.SMTP.Host)
	c.SMTP.TestAddress = strings.TrimSpace(c.SMTP.TestAddress)
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if !validPort(c.App.Port) {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.LogLevel != "" && !isValidLogLevel(c.App.LogLevel) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.App.LogLevel))
	}

	switch c.Store.Driver {
	case "postgres":
		errs = append(errs, c.validateDB()...)
	case "memory":
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.Store.Driver))
	}

	if c.Redis.Host != "" {
		if !validPort(c.Redis.Port) {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
		if c.Redis.RunLockTTL <= 0 {
			errs = append(errs, errors.New("REDIS_RUN_LOCK_TTL must be positive"))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("JWT_ACCESS_TTL must be positive"))
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Mail.PollEnabled {
		if c.Mail.IMAPHost == "" {
			errs = append(errs, errors.New("MAIL_IMAP_HOST is required when MAIL_POLL_ENABLED"))
		}
		if c.Mail.IMAPUsername == "" {
			errs = append(errs, errors.New("MAIL_IMAP_USERNAME is required when MAIL_POLL_ENABLED"))
		}
		if !validPort(c.Mail.IMAPPort) {
			errs = append(errs, fmt.Errorf("MAIL_IMAP_PORT must be a valid port, got %d", c.Mail.IMAPPort))
		}
		if c.Mail.PollInterval <= 0 {
			errs = append(errs, errors.New("MAIL_POLL_INTERVAL must be positive"))
		}
	}

	if c.SMTP.Host == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("SMTP_HOST is required in production"))
		}
	} else {
		if !validPort(c.SMTP.Port) {
			errs = append(errs, fmt.Errorf("SMTP_PORT must be a valid port, got %d", c.SMTP.Port))
		}
		if c.SMTP.From == "" {
			errs = append(errs, errors.New("SMTP_FROM is required when SMTP_HOST is set"))
		}
	}
	if c.SMTP.TestMode && c.SMTP.TestAddress == "" {
		errs = append(errs, errors.New("SMTP_TEST_ADDRESS is required when SMTP_TEST_MODE"))
	}

	if strings.TrimSpace(c.Storage.Dir) == "" {
		errs = append(errs, errors.New("INVOICE_STORAGE_DIR is required"))
	}
	if c.HTTP.RatePerSecond <= 0 || c.HTTP.RateBurst <= 0 {
		errs = append(errs, errors.New("HTTP_RATE_PER_SECOND and HTTP_RATE_BURST must be positive"))
	}

	return joinErrors(errs)
}

func (c Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if !validPort(c.DB.Port) {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	if c.DB.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("DB_MAX_OPEN_CONNS must be positive"))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
