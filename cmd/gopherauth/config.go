package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/service/notify"
	"github.com/nkiryanov/gopherauth/internal/service/password"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
)

// OTP storage backends
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Email transports
const (
	TransportLog   = "log"
	TransportBrevo = "brevo"
	TransportSMTP  = "smtp"
)

// Minimal secret length accepted in production
const minProductionSecretLen = 32

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key used to sign tokens
	SecretKey string

	// Environment
	Environment string

	// Base url for links in emails
	FrontendURL string

	// Where one-time codes are stored: postgres or redis
	OTPStore string
	RedisURL string

	// Redis keeps unused codes this long after expiry, zero keeps records
	CodeRetention time.Duration

	// Email transport: log, brevo or smtp
	EmailTransport string
	BrevoAPIKey    string
	BrevoAPIURL    string
	MailFrom       string
	MailFromName   string
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	OTPTTL     time.Duration
	OTPLength  int

	// Argon2id parameters for new hashes
	HashTime        uint32
	HashMemory      uint32
	HashParallelism uint8

	// Replace legacy password hashes on successful login
	RehashLegacy bool

	StoreTimeout  time.Duration
	NotifyTimeout time.Duration
	SweepInterval time.Duration
}

func NewConfig() *Config {
	return &Config{
		LogLevel:        defaultLoggingLevel,
		ListenAddr:      defaultListenAddr,
		Environment:     defaultEnvironment,
		OTPStore:        StorePostgres,
		EmailTransport:  TransportLog,
		BrevoAPIURL:     notify.DefaultBrevoURL,
		MailFromName:    "Gopherauth",
		SMTPPort:        587,
		AccessTTL:       15 * time.Minute,
		RefreshTTL:      14 * 24 * time.Hour,
		OTPTTL:          5 * time.Minute,
		OTPLength:       6,
		HashTime:        password.DefaultParams.Time,
		HashMemory:      password.DefaultParams.Memory,
		HashParallelism: password.DefaultParams.Parallelism,
		StoreTimeout:    5 * time.Second,
		NotifyTimeout:   10 * time.Second,
		SweepInterval:   time.Hour,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}
	setUint32 := func(o *uint32) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return err
			}
			*o = uint32(n)
			return nil
		}
	}
	setUint8 := func(o *uint8) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return err
			}
			*o = uint8(n)
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = b
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":               setString(&c.ListenAddr),
		"DATABASE_URI":              setString(&c.DatabaseDSN),
		"SECRET_KEY":                setString(&c.SecretKey),
		"LOG_LEVEL":                 setString(&c.LogLevel),
		"ENVIRONMENT":               setString(&c.Environment),
		"FRONTEND_URL":              setString(&c.FrontendURL),
		"OTP_STORE":                 setString(&c.OTPStore),
		"REDIS_URL":                 setString(&c.RedisURL),
		"CODE_RETENTION":            setDuration(&c.CodeRetention),
		"EMAIL_TRANSPORT":           setString(&c.EmailTransport),
		"BREVO_API_KEY":             setString(&c.BrevoAPIKey),
		"BREVO_API_URL":             setString(&c.BrevoAPIURL),
		"MAIL_FROM":                 setString(&c.MailFrom),
		"MAIL_FROM_NAME":            setString(&c.MailFromName),
		"SMTP_HOST":                 setString(&c.SMTPHost),
		"SMTP_PORT":                 setInt(&c.SMTPPort),
		"SMTP_USERNAME":             setString(&c.SMTPUsername),
		"SMTP_PASSWORD":             setString(&c.SMTPPassword),
		"ACCESS_TOKEN_TTL":          setDuration(&c.AccessTTL),
		"REFRESH_TOKEN_TTL":         setDuration(&c.RefreshTTL),
		"OTP_TTL":                   setDuration(&c.OTPTTL),
		"OTP_LENGTH":                setInt(&c.OTPLength),
		"PASSWORD_HASH_TIME_COST":   setUint32(&c.HashTime),
		"PASSWORD_HASH_MEMORY_COST": setUint32(&c.HashMemory),
		"PASSWORD_HASH_PARALLELISM": setUint8(&c.HashParallelism),
		"REHASH_LEGACY_PASSWORDS":   setBool(&c.RehashLegacy),
		"STORE_TIMEOUT":             setDuration(&c.StoreTimeout),
		"NOTIFY_TIMEOUT":            setDuration(&c.NotifyTimeout),
		"SWEEP_INTERVAL":            setDuration(&c.SweepInterval),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("gopherauth", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to sign tokens")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (development, production)")
	fs.StringVar(&c.FrontendURL, "frontend-url", c.FrontendURL, "Base url for links in emails")

	fs.StringVar(&c.OTPStore, "otp-store", c.OTPStore, "One-time codes storage (postgres, redis)")
	fs.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "Redis url, required for redis otp store")
	fs.DurationVar(&c.CodeRetention, "code-retention", c.CodeRetention, "How long redis keeps unused codes after expiry, 0 keeps forever")

	fs.StringVar(&c.EmailTransport, "email-transport", c.EmailTransport, "Email transport (log, brevo, smtp)")
	fs.StringVar(&c.BrevoAPIKey, "brevo-api-key", c.BrevoAPIKey, "Brevo API key")
	fs.StringVar(&c.BrevoAPIURL, "brevo-api-url", c.BrevoAPIURL, "Brevo transactional email endpoint")
	fs.StringVar(&c.MailFrom, "mail-from", c.MailFrom, "Sender email address")
	fs.StringVar(&c.MailFromName, "mail-from-name", c.MailFromName, "Sender display name")
	fs.StringVar(&c.SMTPHost, "smtp-host", c.SMTPHost, "SMTP host")
	fs.IntVar(&c.SMTPPort, "smtp-port", c.SMTPPort, "SMTP port")
	fs.StringVar(&c.SMTPUsername, "smtp-username", c.SMTPUsername, "SMTP username")
	fs.StringVar(&c.SMTPPassword, "smtp-password", c.SMTPPassword, "SMTP password")

	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.DurationVar(&c.OTPTTL, "otp-ttl", c.OTPTTL, "One-time code lifetime")
	fs.IntVar(&c.OTPLength, "otp-length", c.OTPLength, "One-time code digits")

	fs.Uint32Var(&c.HashTime, "hash-time", c.HashTime, "Argon2id time cost")
	fs.Uint32Var(&c.HashMemory, "hash-memory", c.HashMemory, "Argon2id memory cost, KiB")
	fs.Uint8Var(&c.HashParallelism, "hash-parallelism", c.HashParallelism, "Argon2id parallelism")
	fs.BoolVar(&c.RehashLegacy, "rehash-legacy", c.RehashLegacy, "Replace legacy password hashes on login")

	fs.DurationVar(&c.StoreTimeout, "store-timeout", c.StoreTimeout, "Bound of every store call")
	fs.DurationVar(&c.NotifyTimeout, "notify-timeout", c.NotifyTimeout, "Bound of every email delivery")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "How often expired refresh tokens are removed")

	return fs.Parse(args)
}

// Validate checks required options and backend specific settings
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database connection string is required"))
	}

	switch {
	case c.SecretKey == "":
		errs = append(errs, errors.New("secret key is required"))
	case c.Environment == logger.EnvProduction && len(c.SecretKey) < minProductionSecretLen:
		errs = append(errs, fmt.Errorf("secret key must be at least %d chars in production", minProductionSecretLen))
	}

	switch c.OTPStore {
	case StorePostgres:
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis url is required for redis otp store"))
		}
		if c.CodeRetention < 0 {
			errs = append(errs, errors.New("code retention must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown otp store %q", c.OTPStore))
	}

	switch c.EmailTransport {
	case TransportLog:
	case TransportBrevo:
		if c.BrevoAPIKey == "" {
			errs = append(errs, errors.New("brevo api key is required for brevo transport"))
		}
		if c.MailFrom == "" {
			errs = append(errs, errors.New("mail from is required for brevo transport"))
		}
	case TransportSMTP:
		if c.SMTPHost == "" {
			errs = append(errs, errors.New("smtp host is required for smtp transport"))
		}
		if c.MailFrom == "" {
			errs = append(errs, errors.New("mail from is required for smtp transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown email transport %q", c.EmailTransport))
	}

	if c.OTPLength < 4 || c.OTPLength > 10 {
		errs = append(errs, fmt.Errorf("otp length must be between 4 and 10, got %d", c.OTPLength))
	}

	return errors.Join(errs...)
}
