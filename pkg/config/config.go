package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the resolved configuration for one scraper deployment.
// Precedence: built-in defaults, then environment variables (optionally via
// .env), then an optional YAML file, then CLI flags applied by the caller.
type Config struct {
	Scraper  ScraperConfig  `yaml:"scraper"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Export   ExportConfig   `yaml:"export"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Upload   UploadConfig   `yaml:"upload"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	API      APIConfig      `yaml:"api"`
}

type ScraperConfig struct {
	// StartDate/EndDate bound the scrape window (inclusive). When both are
	// empty the window defaults to the month two months ago.
	StartDate string `yaml:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `yaml:"end_date" validate:"omitempty,datetime=2006-01-02"`

	TestRun bool `yaml:"test_run"`

	// Workers overrides the derived worker count when > 0.
	Workers     int  `yaml:"workers" validate:"gte=0"`
	ReserveCore bool `yaml:"reserve_core"`

	// Schedule is an optional cron expression for recurring runs.
	Schedule string `yaml:"schedule"`

	// RefreshCatalogue drops the cached site catalogue before the run.
	RefreshCatalogue bool `yaml:"refresh_catalogue"`
}

type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url" validate:"url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type ExportConfig struct {
	OutputDir string `yaml:"output_dir" validate:"required"`
	Compress  bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	TopicReadings string   `yaml:"topic_readings"`
	TopicReports  string   `yaml:"topic_reports"`
	NumPartitions int      `yaml:"num_partitions"`
	BatchRows     int      `yaml:"batch_rows" validate:"gte=0"`
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	CatalogueTTL time.Duration `yaml:"catalogue_ttl"`
}

type UploadConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ConnectionString string `yaml:"connection_string"`
	Container        string `yaml:"container"`
	Prefix           string `yaml:"prefix"`
}

type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

type APIConfig struct {
	Port int `yaml:"port" validate:"gt=0"`
}

// Load builds the configuration from the environment and, when path is
// non-empty (or SCRAPER_CONFIG is set), a YAML file layered on top.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Scraper: ScraperConfig{
			StartDate:   getEnv("SCRAPER_START_DATE", ""),
			EndDate:     getEnv("SCRAPER_END_DATE", ""),
			TestRun:     getEnvAsBool("SCRAPER_TEST_RUN", false),
			Workers:     getEnvAsInt("SCRAPER_WORKERS", 0),
			ReserveCore: getEnvAsBool("SCRAPER_RESERVE_CORE", false),
			Schedule:    getEnv("SCRAPER_SCHEDULE", ""),

			RefreshCatalogue: getEnvAsBool("SCRAPER_REFRESH_CATALOGUE", false),
		},
		Upstream: UpstreamConfig{
			BaseURL: getEnv("WEBTRIS_BASE_URL", "https://webtris.highwaysengland.co.uk/api/v1"),
			Timeout: getEnvAsDuration("WEBTRIS_TIMEOUT", 120*time.Second),
		},
		Export: ExportConfig{
			OutputDir: getEnv("EXPORT_OUTPUT_DIR", "output_data"),
			Compress:  getEnvAsBool("EXPORT_COMPRESS", false),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "roaddata_user"),
			Password: getEnv("DB_PASSWORD", "roaddata_pass"),
			DBName:   getEnv("DB_NAME", "roaddata_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Enabled:       getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicReadings: getEnv("KAFKA_TOPIC_READINGS", "roaddata.readings"),
			TopicReports:  getEnv("KAFKA_TOPIC_REPORTS", "roaddata.reports"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
			BatchRows:     getEnvAsInt("KAFKA_BATCH_ROWS", 500),
		},
		Redis: RedisConfig{
			Enabled:      getEnvAsBool("REDIS_ENABLED", false),
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			CatalogueTTL: getEnvAsDuration("REDIS_CATALOGUE_TTL", 12*time.Hour),
		},
		Upload: UploadConfig{
			Enabled:          getEnvAsBool("UPLOAD_ENABLED", false),
			ConnectionString: getEnv("UPLOAD_CONNECTION_STRING", ""),
			Container:        getEnv("UPLOAD_CONTAINER", ""),
			Prefix:           getEnv("UPLOAD_PREFIX", ""),
		},
		SMTP: SMTPConfig{
			Enabled:  getEnvAsBool("SMTP_ENABLED", false),
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "webtris-scraper@example.com"),
			To:       getEnv("SMTP_TO", "admin@example.com"),
		},
		API: APIConfig{
			Port: getEnvAsInt("API_PORT", 8080),
		},
	}

	if path == "" {
		path = os.Getenv("SCRAPER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints plus the window pairing rule.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if (c.Scraper.StartDate == "") != (c.Scraper.EndDate == "") {
		return fmt.Errorf("invalid configuration: start_date and end_date must be set together")
	}
	return nil
}

// Redacted returns a copy safe to write into run artifacts: passwords and
// connection strings are blanked.
func (c Config) Redacted() Config {
	c.Database.Password = ""
	c.Redis.Password = ""
	c.Upload.ConnectionString = ""
	c.SMTP.Password = ""
	return c
}

// Window parses the configured date window. ok is false when no window is
// configured and the caller should use the default.
func (c *Config) Window() (start, end time.Time, ok bool, err error) {
	if c.Scraper.StartDate == "" && c.Scraper.EndDate == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	start, err = time.ParseInLocation("2006-01-02", c.Scraper.StartDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("invalid start_date: %w", err)
	}
	end, err = time.ParseInLocation("2006-01-02", c.Scraper.EndDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("invalid end_date: %w", err)
	}
	return start, end, true, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
