package main

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/pkosilov/accounts/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultAuditDBName  = "login-logs"
	defaultMailQueue    = "account-emails"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the accounts service will be run
	ListenAddr string

	// Credential database to connect to
	DatabaseDSN string

	// Audit store (couchdb) to record logins into
	AuditDSN    string
	AuditDBName string

	// Mail queue broker; when empty outgoing mail is only logged
	AMQPURL   string
	MailQueue string

	// Secret key
	// Some internal parts (like signing JWT tokens) uses symmetric encryption, so this key is used for that purpose
	SecretKey string

	// Token lifetimes, zero means service defaults
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		ListenAddr:  defaultListenAddr,
		AuditDBName: defaultAuditDBName,
		MailQueue:   defaultMailQueue,
		Environment: defaultEnvironment,
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
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setDuration := func(o *time.Duration) func(value string) {
		return func(value string) {
			if d, err := time.ParseDuration(value); err == nil {
				*o = d
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":        setString(&c.ListenAddr),
		"DATABASE_URI":       setString(&c.DatabaseDSN),
		"AUDIT_DATABASE_URI": setString(&c.AuditDSN),
		"AUDIT_DATABASE":     setString(&c.AuditDBName),
		"AMQP_URI":           setString(&c.AMQPURL),
		"MAIL_QUEUE":         setString(&c.MailQueue),
		"SECRET_KEY":         setString(&c.SecretKey),
		"LOG_LEVEL":          setString(&c.LogLevel),
		"ENVIRONMENT":        setString(&c.Environment),
		"ACCESS_TOKEN_TTL":   setDuration(&c.AccessTokenTTL),
		"REFRESH_TOKEN_TTL":  setDuration(&c.RefreshTokenTTL),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("accounts", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Credential database connection string")
	fs.StringVar(&c.AuditDSN, "audit-database", c.AuditDSN, "Audit store (couchdb) connection string")
	fs.StringVar(&c.AuditDBName, "audit-database-name", c.AuditDBName, "Audit store database name")
	fs.StringVar(&c.AMQPURL, "amqp", c.AMQPURL, "Mail queue broker connection string")
	fs.StringVar(&c.MailQueue, "mail-queue", c.MailQueue, "Mail queue name")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.DurationVar(&c.AccessTokenTTL, "access-ttl", c.AccessTokenTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTokenTTL, "refresh-ttl", c.RefreshTokenTTL, "Refresh token lifetime")

	return fs.Parse(args)
}
