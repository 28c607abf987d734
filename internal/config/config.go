package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageModeRelational = "relational"
	StorageModeFile       = "file"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	IMAP        IMAPConfig      `mapstructure:"imap"`
	SMTP        SMTPConfig      `mapstructure:"smtp"`
	Sync        SyncConfig      `mapstructure:"sync"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	// EntitiesFile is the JSON file backing the entity directory.
	EntitiesFile string `mapstructure:"entities_file"`
}

type ServerConfig struct {
	Port       string `mapstructure:"port"`
	AdminToken string `mapstructure:"admin_token"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type IMAPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	UseTLS   bool   `mapstructure:"tls"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// Root is the namespace all thread folders live under, usually INBOX.
	Root          string `mapstructure:"root"`
	Delimiter     string `mapstructure:"delimiter"`
	ArchiveFolder string `mapstructure:"archive_folder"`
	SentFolder    string `mapstructure:"sent_folder"`

	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RetryIncrement time.Duration `mapstructure:"retry_increment"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
}

// Address returns host:port.
func (c IMAPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type SMTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// TLSMode is one of none, starttls or tls.
	TLSMode  string `mapstructure:"tls_mode"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

func (c SMTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type SyncConfig struct {
	BatchSize     int    `mapstructure:"batch_size"`
	MaxErrors     int    `mapstructure:"max_errors"`
	MaxFolderName int    `mapstructure:"max_folder_name"`
	DMARCAddress  string `mapstructure:"dmarc_address"`
	StorageMode   string `mapstructure:"storage_mode"`
	StorageDir    string `mapstructure:"storage_dir"`
}

type SchedulerConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	FolderSpec  string `mapstructure:"folder_spec"`
	RouteSpec   string `mapstructure:"route_spec"`
	ReceiveSpec string `mapstructure:"receive_spec"`
	SendSpec    string `mapstructure:"send_spec"`
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILSYNC_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	v := viper.New()
	setDefaults(v)
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	v.Set("environment", env)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("entities_file", "entities.json")

	v.SetDefault("server.port", "8080")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "mailsync")
	v.SetDefault("database.name", "mailsync")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.root", "INBOX")
	v.SetDefault("imap.delimiter", ".")
	v.SetDefault("imap.archive_folder", "Archive")
	v.SetDefault("imap.sent_folder", "INBOX.Sent")
	v.SetDefault("imap.retry_attempts", 3)
	v.SetDefault("imap.retry_delay", "1s")
	v.SetDefault("imap.retry_increment", "1s")
	v.SetDefault("imap.dial_timeout", "30s")

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.tls_mode", "starttls")

	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.max_errors", 5)
	v.SetDefault("sync.max_folder_name", 120)
	v.SetDefault("sync.storage_mode", StorageModeRelational)
	v.SetDefault("sync.storage_dir", "data/threads")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.folder_spec", "*/15 * * * *")
	v.SetDefault("scheduler.route_spec", "* * * * *")
	v.SetDefault("scheduler.receive_spec", "* * * * *")
	v.SetDefault("scheduler.send_spec", "* * * * *")
}

var envBindings = map[string]string{
	"log_level":     "MAILSYNC_LOG_LEVEL",
	"entities_file": "MAILSYNC_ENTITIES_FILE",

	"server.port":        "PORT",
	"server.admin_token": "MAILSYNC_ADMIN_TOKEN",

	"database.host":     "MAILSYNC_DB_HOST",
	"database.port":     "MAILSYNC_DB_PORT",
	"database.user":     "MAILSYNC_DB_USER",
	"database.password": "MAILSYNC_DB_PASSWORD",
	"database.name":     "MAILSYNC_DB_NAME",
	"database.sslmode":  "MAILSYNC_DB_SSLMODE",

	"imap.host":            "IMAP_HOST",
	"imap.port":            "IMAP_PORT",
	"imap.tls":             "IMAP_TLS",
	"imap.username":        "IMAP_USERNAME",
	"imap.password":        "IMAP_PASSWORD",
	"imap.root":            "IMAP_ROOT",
	"imap.delimiter":       "IMAP_DELIMITER",
	"imap.archive_folder":  "IMAP_ARCHIVE_FOLDER",
	"imap.sent_folder":     "IMAP_SENT_FOLDER",
	"imap.retry_attempts":  "IMAP_RETRY_ATTEMPTS",
	"imap.retry_delay":     "IMAP_RETRY_DELAY",
	"imap.retry_increment": "IMAP_RETRY_INCREMENT",
	"imap.dial_timeout":    "IMAP_DIAL_TIMEOUT",

	"smtp.host":     "SMTP_HOST",
	"smtp.port":     "SMTP_PORT",
	"smtp.tls_mode": "SMTP_TLS_MODE",
	"smtp.username": "SMTP_USERNAME",
	"smtp.password": "SMTP_PASSWORD",

	"sync.batch_size":      "SYNC_BATCH_SIZE",
	"sync.max_errors":      "SYNC_MAX_ERRORS",
	"sync.max_folder_name": "SYNC_MAX_FOLDER_NAME",
	"sync.dmarc_address":   "SYNC_DMARC_ADDRESS",
	"sync.storage_mode":    "SYNC_STORAGE_MODE",
	"sync.storage_dir":     "SYNC_STORAGE_DIR",

	"scheduler.enabled":      "SCHEDULER_ENABLED",
	"scheduler.folder_spec":  "SCHEDULER_FOLDER_SPEC",
	"scheduler.route_spec":   "SCHEDULER_ROUTE_SPEC",
	"scheduler.receive_spec": "SCHEDULER_RECEIVE_SPEC",
	"scheduler.send_spec":    "SCHEDULER_SEND_SPEC",
}

func bindEnvVars(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("MAILSYNC_DB_PASSWORD is required")
	}

	if c.IMAP.Host == "" {
		return fmt.Errorf("IMAP_HOST is required")
	}

	if c.IMAP.Username == "" || c.IMAP.Password == "" {
		return fmt.Errorf("IMAP_USERNAME and IMAP_PASSWORD are required")
	}

	if c.SMTP.Host == "" {
		return fmt.Errorf("SMTP_HOST is required")
	}

	switch c.SMTP.TLSMode {
	case "none", "starttls", "tls":
	default:
		return fmt.Errorf("SMTP_TLS_MODE must be none, starttls or tls, got %q", c.SMTP.TLSMode)
	}

	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive")
	}

	if c.Sync.MaxErrors <= 0 {
		return fmt.Errorf("SYNC_MAX_ERRORS must be positive")
	}

	if c.Sync.StorageMode != StorageModeRelational && c.Sync.StorageMode != StorageModeFile {
		return fmt.Errorf("SYNC_STORAGE_MODE must be %q or %q", StorageModeRelational, StorageModeFile)
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     c.Database.Host + ":" + c.Database.Port,
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}
