package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"taskbridge/internal/models"
)

type Config struct {
	App           AppConfig             `yaml:"app"`
	Database      DatabaseConfig        `yaml:"database"`
	Redis         RedisConfig           `yaml:"redis"`
	Logging       LoggingConfig         `yaml:"logging"`
	Motion        PlatformConfig        `yaml:"motion"`
	Trello        PlatformConfig        `yaml:"trello"`
	Webhook       WebhookConfig         `yaml:"webhook"`
	Queue         QueueConfig           `yaml:"queue"`
	Monitoring    MonitoringConfig      `yaml:"monitoring"`
	Notify        NotifyConfig          `yaml:"notify"`
	Exports       ExportConfig          `yaml:"exports"`
	FieldMappings []models.FieldMapping `yaml:"field_mappings"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// PlatformConfig holds one platform's API access and rate-limit settings.
// BackoffStrategy selects how retries of actions targeting this platform are
// spaced: "exponential" (30s, 1m, 2m, ...) or "linear" (1m, 2m, 3m, ...).
type PlatformConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	APIToken          string `yaml:"api_token"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	BatchSize         int    `yaml:"batch_size"`
	BackoffStrategy   string `yaml:"backoff_strategy"`
	RequestTimeout    int    `yaml:"request_timeout_seconds"`
}

// Timeout bounds an individual platform API call.
func (p PlatformConfig) Timeout() time.Duration {
	return time.Duration(p.RequestTimeout) * time.Second
}

type WebhookConfig struct {
	Port         int    `yaml:"port"`
	MotionSecret string `yaml:"motion_secret"`
	TrelloSecret string `yaml:"trello_secret"`
}

type QueueConfig struct {
	BatchSize       int    `yaml:"batch_size"`
	ProcessInterval int    `yaml:"process_interval_seconds"`
	RetentionDays   int    `yaml:"retention_days"`
	CleanupInterval int    `yaml:"cleanup_interval_seconds"`
	DefaultStrategy string `yaml:"default_strategy"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
	HealthCheckPort   int  `yaml:"health_check_port"`
}

type NotifyConfig struct {
	TelegramEnabled bool   `yaml:"telegram_enabled"`
	BotToken        string `yaml:"bot_token"`
	ChatID          int64  `yaml:"chat_id"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment may be provided by the runtime.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Substitute environment variables before parsing the YAML.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	for name, p := range map[string]PlatformConfig{"motion": c.Motion, "trello": c.Trello} {
		switch p.BackoffStrategy {
		case "exponential", "linear":
		default:
			return fmt.Errorf("%s backoff_strategy must be exponential or linear, got %q", name, p.BackoffStrategy)
		}
	}

	switch c.Queue.DefaultStrategy {
	case models.StrategyMotionWins, models.StrategyTrelloWins, models.StrategyLatestWins, models.StrategySkip:
	default:
		return fmt.Errorf("queue default_strategy %q is not usable without operator input", c.Queue.DefaultStrategy)
	}

	if c.Notify.TelegramEnabled && c.Notify.BotToken == "" {
		return errors.New("notify.bot_token is required when telegram notifications are enabled")
	}

	return nil
}

// ValidateProjects checks the project pairs file for usable entries.
func ValidateProjects(projects []*models.SyncProject) error {
	ids := make(map[int64]bool)
	motionIDs := make(map[string]bool)
	boardIDs := make(map[string]bool)
	for _, p := range projects {
		if p.ID == 0 {
			return fmt.Errorf("project '%s' has invalid ID 0", p.Name)
		}
		if ids[p.ID] {
			return fmt.Errorf("duplicate project ID found: %d", p.ID)
		}
		ids[p.ID] = true

		if p.MotionProjectID == "" || p.TrelloBoardID == "" {
			return fmt.Errorf("project %d must pair a motion project with a trello board", p.ID)
		}
		if motionIDs[p.MotionProjectID] {
			return fmt.Errorf("motion project %s is paired twice", p.MotionProjectID)
		}
		if boardIDs[p.TrelloBoardID] {
			return fmt.Errorf("trello board %s is paired twice", p.TrelloBoardID)
		}
		motionIDs[p.MotionProjectID] = true
		boardIDs[p.TrelloBoardID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Motion.RequestsPerMinute == 0 {
		c.Motion.RequestsPerMinute = 100
	}
	if c.Trello.RequestsPerMinute == 0 {
		c.Trello.RequestsPerMinute = 100
	}
	if c.Motion.BatchSize == 0 {
		c.Motion.BatchSize = 50
	}
	if c.Trello.BatchSize == 0 {
		c.Trello.BatchSize = 50
	}
	if c.Motion.BackoffStrategy == "" {
		c.Motion.BackoffStrategy = "exponential"
	}
	if c.Trello.BackoffStrategy == "" {
		c.Trello.BackoffStrategy = "linear"
	}
	if c.Motion.RequestTimeout == 0 {
		c.Motion.RequestTimeout = 15
	}
	if c.Trello.RequestTimeout == 0 {
		c.Trello.RequestTimeout = 15
	}

	if c.Webhook.Port == 0 {
		c.Webhook.Port = 8080
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 10
	}
	if c.Queue.ProcessInterval == 0 {
		c.Queue.ProcessInterval = 5
	}
	if c.Queue.RetentionDays == 0 {
		c.Queue.RetentionDays = 7
	}
	if c.Queue.CleanupInterval == 0 {
		c.Queue.CleanupInterval = 3600
	}
	if c.Queue.DefaultStrategy == "" {
		c.Queue.DefaultStrategy = models.StrategyLatestWins
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
