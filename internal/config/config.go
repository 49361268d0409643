package config

import (
	"errors"
	"io/fs"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultDBPath    = "./dev.db"
	defaultPort      = "8080"
	defaultEnv       = "development"
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
	defaultPriceHint = 100.0
)

// Config holds application configuration sourced from environment variables,
// an optional .env file and an optional YAML file named by CONFIG_FILE.
type Config struct {
	Env           string
	AdminEmail    string
	AdminPassword string
	SessionSecret string
	DBPath        string
	Port          string
	LogLevel      string
	LogFormat     string
	AutoMigrate   bool
	// PriceHint seeds the target-price search when a request has none.
	PriceHint float64
}

// IsDev reports whether the app runs in a development environment.
func (c Config) IsDev() bool {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	return env == "" || env == "dev" || env == "development" || env == "local"
}

// ErrMissingSessionSecret is returned by Validate outside development,
// where an empty secret would let anyone forge a session cookie.
var ErrMissingSessionSecret = errors.New("config: SESSION_SECRET is required outside development")

// Validate reports settings the server must not start with.
func (c Config) Validate() error {
	if !c.IsDev() && strings.TrimSpace(c.SessionSecret) == "" {
		return ErrMissingSessionSecret
	}
	return nil
}

// Load reads environment variables and returns a populated Config.
func Load() Config {
	// Best-effort: production injects real environment variables.
	_ = loadDotEnv(".env")

	v := newViper()
	if path := strings.TrimSpace(v.GetString("config_file")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("warning: read config file %s: %v", path, err)
		}
	}

	cfg := Config{
		Env:           v.GetString("app_env"),
		AdminEmail:    v.GetString("admin_email"),
		AdminPassword: v.GetString("admin_password"),
		SessionSecret: v.GetString("session_secret"),
		DBPath:        v.GetString("db_path"),
		Port:          v.GetString("port"),
		LogLevel:      v.GetString("log_level"),
		LogFormat:     v.GetString("log_format"),
		PriceHint:     v.GetFloat64("price_hint"),
	}
	cfg.AutoMigrate = v.GetBool("auto_migrate") || cfg.IsDev()

	if cfg.PriceHint <= 0 {
		cfg.PriceHint = defaultPriceHint
	}
	if cfg.AdminEmail == "" {
		log.Print("warning: ADMIN_EMAIL is not set")
	}
	if cfg.AdminPassword == "" {
		log.Print("warning: ADMIN_PASSWORD is not set")
	}
	if cfg.SessionSecret == "" {
		log.Print("warning: SESSION_SECRET is not set")
	}

	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("app_env", defaultEnv)
	v.SetDefault("db_path", defaultDBPath)
	v.SetDefault("port", defaultPort)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_format", defaultLogFormat)
	v.SetDefault("price_hint", defaultPriceHint)
	v.SetDefault("auto_migrate", false)

	for _, key := range []string{"config_file", "admin_email", "admin_password", "session_secret"} {
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()
	return v
}

// loadDotEnv loads KEY=VALUE pairs from a dotenv file into the process
// environment without overwriting variables that are already set.
// A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
