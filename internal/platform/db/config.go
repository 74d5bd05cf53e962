package db

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "config/config.yaml"

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	Migrate      bool   `yaml:"migrate"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	AllowOrigins []string `yaml:"allow_origins"`
	// StaticDir holds the built frontend. Empty disables the SPA fallback.
	StaticDir string `yaml:"static_dir"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
}

// LibraryConfig holds the circulation rules.
type LibraryConfig struct {
	LoanPeriodDays         int    `yaml:"loan_period_days"`
	FinePerDay             int64  `yaml:"fine_per_day"`
	Currency               string `yaml:"currency"`
	ReservationExpiryHours int    `yaml:"reservation_expiry_hours"`
	PageSize               int    `yaml:"page_size"`
}

type MediaConfig struct {
	Root string `yaml:"root"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Config struct {
	Version     string         `yaml:"version"`
	Mode        string         `yaml:"mode"`
	Server      ServerConfig   `yaml:"server"`
	DB          DatabaseConfig `yaml:"database"`
	Certificate Certs          `yaml:"certificate"`
	Auth        AuthConfig     `yaml:"auth"`
	Library     LibraryConfig  `yaml:"library"`
	Media       MediaConfig    `yaml:"media"`
	Kafka       KafkaConfig    `yaml:"kafka"`
}

func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.MaxOpenConns == 0 {
		c.DB.MaxOpenConns = 80
	}
	if c.DB.MaxIdleConns == 0 {
		c.DB.MaxIdleConns = 20
	}
	if c.Auth.TokenTTLHours == 0 {
		c.Auth.TokenTTLHours = 24
	}
	if c.Library.LoanPeriodDays == 0 {
		c.Library.LoanPeriodDays = 14
	}
	if c.Library.FinePerDay == 0 {
		c.Library.FinePerDay = 500
	}
	if c.Library.Currency == "" {
		c.Library.Currency = "KZT"
	}
	if c.Library.ReservationExpiryHours == 0 {
		c.Library.ReservationExpiryHours = 48
	}
	if c.Library.PageSize == 0 {
		c.Library.PageSize = 12
	}
	if c.Media.Root == "" {
		c.Media.Root = "media"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "library-events"
	}
}

func (c *Config) Validate() error {
	if c.Mode != "dev" && c.Mode != "release" {
		return fmt.Errorf("mode must be dev or release, got %q", c.Mode)
	}
	if c.DB.Host == "" || c.DB.DBName == "" {
		return errors.New("database.host and database.dbname are required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Library.LoanPeriodDays < 0 || c.Library.FinePerDay < 0 || c.Library.ReservationExpiryHours < 0 {
		return errors.New("library settings must not be negative")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	return nil
}

// TLSFiles returns cert/key paths for the current mode, or empty strings
// when no certificate is configured.
func (c *Config) TLSFiles() (certFile, keyFile string) {
	if c.Certificate.Cert == "" || c.Certificate.Key == "" {
		return "", ""
	}
	dir := "config/tls/dev"
	if c.Mode == "release" {
		dir = "config/tls/release"
	}
	return fmt.Sprintf("%s/%s", dir, c.Certificate.Cert), fmt.Sprintf("%s/%s", dir, c.Certificate.Key)
}
