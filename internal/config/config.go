package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ReviewHarvester/internal/retry"
)

const (
	configPathEnv     = "REVIEW_HARVESTER_CONFIG"
	serpAPIKeyEnv     = "SERPAPI_KEY"
	serpAPIDataIDEnv  = "SERPAPI_DATA_ID"
	openAIAPIKeyEnv   = "OPENAI_API_KEY"
	openAIModelEnv    = "OPENAI_MODEL"
	storePathEnv      = "STORE_PATH"
	storeDSNEnv       = "STORE_DSN"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	logLevelEnv       = "LOG_LEVEL"
	maxNewRecordsEnv  = "MAX_NEW_RECORDS"
)

// Store backends.
const (
	BackendCSV      = "csv"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Classifier providers.
const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderInference = "inference"
)

// Config holds high-level settings required across the application.
type Config struct {
	Source        SourceConfig       `yaml:"source"`
	Ingest        IngestConfig       `yaml:"ingest"`
	Store         StoreConfig        `yaml:"store"`
	Classifier    ClassifierConfig   `yaml:"classifier"`
	Archive       ArchiveConfig      `yaml:"archive"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
}

// SourceConfig describes the paginated review API.
type SourceConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Engine   string        `yaml:"engine"`
	DataID   string        `yaml:"dataId"`
	Language string        `yaml:"language"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
	Retry    retry.Policy  `yaml:"retry"`
}

// IngestConfig bounds a single newest-first walk.
type IngestConfig struct {
	MaxNewRecords   int           `yaml:"maxNewRecords"`
	KnownStreakStop int           `yaml:"knownStreakStop"`
	InterPageDelay  time.Duration `yaml:"interPageDelay"`
	MaxPages        int           `yaml:"maxPages"`
}

// StoreConfig selects and locates the durable dataset.
type StoreConfig struct {
	Backend         string   `yaml:"backend"`
	Path            string   `yaml:"path"`
	DSN             string   `yaml:"dsn"`
	Table           string   `yaml:"table"`
	BackupDir       string   `yaml:"backupDir"`
	KnownKeySources []string `yaml:"knownKeySources"`
}

// ClassifierConfig defines how records are labelled.
type ClassifierConfig struct {
	Provider        string        `yaml:"provider"`
	Endpoint        string        `yaml:"endpoint"`
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"apiKey"`
	Categories      []string      `yaml:"categories"`
	Timeout         time.Duration `yaml:"timeout"`
	MinInterval     time.Duration `yaml:"minInterval"`
	CheckpointEvery int           `yaml:"checkpointEvery"`
	Retry           retry.Policy  `yaml:"retry"`
}

// ArchiveConfig points at the optional JSONL dump of raw payloads.
type ArchiveConfig struct {
	Path string `yaml:"path"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// LoggingConfig selects slog level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SchedulerConfig enables daemon mode when Every is positive.
type SchedulerConfig struct {
	Every time.Duration `yaml:"every"`
}

// Load reads YAML configuration (if present), the .env file and environment overrides.
// An explicit path takes precedence over REVIEW_HARVESTER_CONFIG.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: cannot read .env: %v", err)
	}

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Validate reports settings that would make a run fail before any network call.
func (c Config) Validate() error {
	problems := c.sourceProblems()
	problems = append(problems, c.storeProblems()...)
	problems = append(problems, c.classifierProblems()...)
	return joinProblems(problems)
}

// ValidateClassify checks only what labelling stored records needs: the store
// and a configured classifier. Source credentials are not required.
func (c Config) ValidateClassify() error {
	problems := c.storeProblems()
	if c.Classifier.Provider == ProviderNone {
		problems = append(problems, "classifier.provider must be openai or inference to classify")
	}
	problems = append(problems, c.classifierProblems()...)
	return joinProblems(problems)
}

func (c Config) sourceProblems() []string {
	var problems []string
	if strings.TrimSpace(c.Source.APIKey) == "" {
		problems = append(problems, "source.apiKey ("+serpAPIKeyEnv+") is required")
	}
	if strings.TrimSpace(c.Source.DataID) == "" {
		problems = append(problems, "source.dataId is required")
	}
	if c.Ingest.KnownStreakStop < 1 {
		problems = append(problems, "ingest.knownStreakStop must be at least 1")
	}
	return problems
}

func (c Config) storeProblems() []string {
	switch c.Store.Backend {
	case BackendCSV, BackendSQLite:
		if c.Store.Path == "" {
			return []string{"store.path is required for " + c.Store.Backend}
		}
	case BackendPostgres:
		if c.Store.DSN == "" {
			return []string{"store.dsn is required for postgres"}
		}
	default:
		return []string{fmt.Sprintf("unknown store backend %q", c.Store.Backend)}
	}
	return nil
}

func (c Config) classifierProblems() []string {
	switch c.Classifier.Provider {
	case ProviderNone:
	case ProviderOpenAI:
		if c.Classifier.APIKey == "" {
			return []string{"classifier.apiKey (" + openAIAPIKeyEnv + ") is required for openai"}
		}
	case ProviderInference:
		if c.Classifier.Endpoint == "" {
			return []string{"classifier.endpoint is required for inference"}
		}
	default:
		return []string{fmt.Sprintf("unknown classifier provider %q", c.Classifier.Provider)}
	}
	return nil
}

func joinProblems(problems []string) error {
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(serpAPIKeyEnv); v != "" {
		c.Source.APIKey = v
	}
	if v := os.Getenv(serpAPIDataIDEnv); v != "" {
		c.Source.DataID = v
	}
	if v := os.Getenv(openAIAPIKeyEnv); v != "" && c.Classifier.Provider == ProviderOpenAI {
		c.Classifier.APIKey = v
	}
	if v := os.Getenv(openAIModelEnv); v != "" {
		c.Classifier.Model = v
	}
	if v := os.Getenv(storePathEnv); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(storeDSNEnv); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(maxNewRecordsEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Ingest.MaxNewRecords = n
		} else {
			log.Printf("config: ignoring %s=%q", maxNewRecordsEnv, v)
		}
	}
}

func mergeConfig(base, override Config) Config {
	if override.Source.Endpoint != "" {
		base.Source.Endpoint = override.Source.Endpoint
	}
	if override.Source.Engine != "" {
		base.Source.Engine = override.Source.Engine
	}
	if override.Source.DataID != "" {
		base.Source.DataID = override.Source.DataID
	}
	if override.Source.Language != "" {
		base.Source.Language = override.Source.Language
	}
	if override.Source.APIKey != "" {
		base.Source.APIKey = override.Source.APIKey
	}
	if override.Source.Timeout > 0 {
		base.Source.Timeout = override.Source.Timeout
	}
	base.Source.Retry = mergePolicy(base.Source.Retry, override.Source.Retry)

	if override.Ingest.MaxNewRecords > 0 {
		base.Ingest.MaxNewRecords = override.Ingest.MaxNewRecords
	}
	if override.Ingest.KnownStreakStop > 0 {
		base.Ingest.KnownStreakStop = override.Ingest.KnownStreakStop
	}
	if override.Ingest.InterPageDelay > 0 {
		base.Ingest.InterPageDelay = override.Ingest.InterPageDelay
	}
	if override.Ingest.MaxPages > 0 {
		base.Ingest.MaxPages = override.Ingest.MaxPages
	}

	if override.Store.Backend != "" {
		base.Store.Backend = strings.ToLower(override.Store.Backend)
	}
	if override.Store.Path != "" {
		base.Store.Path = override.Store.Path
	}
	if override.Store.DSN != "" {
		base.Store.DSN = override.Store.DSN
	}
	if override.Store.Table != "" {
		base.Store.Table = override.Store.Table
	}
	if override.Store.BackupDir != "" {
		base.Store.BackupDir = override.Store.BackupDir
	}
	if len(override.Store.KnownKeySources) > 0 {
		base.Store.KnownKeySources = override.Store.KnownKeySources
	}

	if override.Classifier.Provider != "" {
		base.Classifier.Provider = strings.ToLower(override.Classifier.Provider)
	}
	if override.Classifier.Endpoint != "" {
		base.Classifier.Endpoint = override.Classifier.Endpoint
	}
	if override.Classifier.Model != "" {
		base.Classifier.Model = override.Classifier.Model
	}
	if override.Classifier.APIKey != "" {
		base.Classifier.APIKey = override.Classifier.APIKey
	}
	if len(override.Classifier.Categories) > 0 {
		base.Classifier.Categories = override.Classifier.Categories
	}
	if override.Classifier.Timeout > 0 {
		base.Classifier.Timeout = override.Classifier.Timeout
	}
	if override.Classifier.MinInterval > 0 {
		base.Classifier.MinInterval = override.Classifier.MinInterval
	}
	if override.Classifier.CheckpointEvery > 0 {
		base.Classifier.CheckpointEvery = override.Classifier.CheckpointEvery
	}
	base.Classifier.Retry = mergePolicy(base.Classifier.Retry, override.Classifier.Retry)

	if override.Archive.Path != "" {
		base.Archive.Path = override.Archive.Path
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Scheduler.Every > 0 {
		base.Scheduler.Every = override.Scheduler.Every
	}

	return base
}

func mergePolicy(base, override retry.Policy) retry.Policy {
	if override.MaxAttempts > 0 {
		base.MaxAttempts = override.MaxAttempts
	}
	if override.BaseDelay > 0 {
		base.BaseDelay = override.BaseDelay
	}
	if override.Multiplier > 0 {
		base.Multiplier = override.Multiplier
	}
	if override.MaxDelay > 0 {
		base.MaxDelay = override.MaxDelay
	}
	return base
}

func defaultConfig() Config {
	return Config{
		Source: SourceConfig{
			Endpoint: "https://serpapi.com/search.json",
			Engine:   "google_maps_reviews",
			Language: "pt-BR",
			Timeout:  60 * time.Second,
			Retry:    retry.DefaultPolicy(),
		},
		Ingest: IngestConfig{
			KnownStreakStop: 8,
			InterPageDelay:  time.Second,
			MaxPages:        2000,
		},
		Store: StoreConfig{
			Backend:   BackendCSV,
			Path:      "reviews.csv",
			Table:     "reviews",
			BackupDir: "_backups",
		},
		Classifier: ClassifierConfig{
			Provider:        ProviderNone,
			Endpoint:        "https://api.openai.com/v1/chat/completions",
			Model:           "gpt-4o-mini",
			Timeout:         30 * time.Second,
			MinInterval:     50 * time.Millisecond,
			CheckpointEvery: 50,
			Retry: retry.Policy{
				MaxAttempts: 4,
				BaseDelay:   time.Second,
				Multiplier:  2,
				MaxDelay:    15 * time.Second,
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}
