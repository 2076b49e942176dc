package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultSpreadsheetURL is the workbook published by the Baden-Württemberg social ministry.
const DefaultSpreadsheetURL = "https://sozialministerium.baden-wuerttemberg.de/fileadmin/redaktion/m-sm/intern/downloads/Downloads_Gesundheitsschutz/Tabelle_Coronavirus-Faelle-BW.xlsx"

// Config holds all service settings, populated from environment variables.
type Config struct {
	SpreadsheetURL string
	FetchTimeout   time.Duration
	PollInterval   time.Duration
	CycleTimeout   time.Duration
	RunOnStart     bool

	// Telegram delivery.
	TelegramToken   string
	TelegramAPIURL  string
	AdminChatID     int64 // 0 disables admin notifications and /crawl
	SendTimeout     time.Duration
	SendConcurrency int
	SendRate        float64 // messages per second across all chats
	ReportRegions   []string

	DBPath string

	// Optional Kafka report stream.
	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaReportTopic string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	pollInterval, err := parseDuration("POLL_INTERVAL", "15m")
	if err != nil {
		return nil, err
	}
	cycleTimeout, err := parseDuration("CYCLE_TIMEOUT", "5m")
	if err != nil {
		return nil, err
	}
	sendTimeout, err := parseDuration("SEND_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	runOnStart, err := parseBool("RUN_ON_START", true)
	if err != nil {
		return nil, err
	}

	sendConcurrency, err := strconv.Atoi(sharedcfg.EnvOrDefault("SEND_CONCURRENCY", "8"))
	if err != nil || sendConcurrency < 1 || sendConcurrency > 100 {
		return nil, errors.New("invalid SEND_CONCURRENCY: must be between 1 and 100")
	}

	sendRate, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("SEND_RATE", "25"), 64)
	if err != nil || sendRate <= 0 {
		return nil, errors.New("invalid SEND_RATE: must be a positive number")
	}

	var adminChatID int64
	if v := os.Getenv("ADMIN_CHAT_ID"); v != "" {
		adminChatID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_CHAT_ID: %w", err)
		}
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", len(brokers) > 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		SpreadsheetURL: sharedcfg.EnvOrDefault("SPREADSHEET_URL", DefaultSpreadsheetURL),
		FetchTimeout:   fetchTimeout,
		PollInterval:   pollInterval,
		CycleTimeout:   cycleTimeout,
		RunOnStart:     runOnStart,

		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		TelegramAPIURL:  sharedcfg.EnvOrDefault("TELEGRAM_API_URL", "https://api.telegram.org"),
		AdminChatID:     adminChatID,
		SendTimeout:     sendTimeout,
		SendConcurrency: sendConcurrency,
		SendRate:        sendRate,
		ReportRegions:   parseList(sharedcfg.EnvOrDefault("REPORT_REGIONS", "freiburg,breisgau-hochschwarzwald")),

		DBPath: sharedcfg.EnvOrDefault("DB_PATH", "corona-report.db"),

		KafkaEnabled:     kafkaEnabled,
		KafkaBrokers:     brokers,
		KafkaReportTopic: sharedcfg.EnvOrDefault("KAFKA_REPORT_TOPIC", "corona-delta-reports"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.SpreadsheetURL == "" {
		return nil, errors.New("SPREADSHEET_URL is required")
	}
	if cfg.CycleTimeout <= cfg.FetchTimeout {
		return nil, errors.New("CYCLE_TIMEOUT must be longer than FETCH_TIMEOUT")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaReportTopic == "" {
		return nil, errors.New("KAFKA_REPORT_TOPIC is required")
	}

	return cfg, nil
}

// RequireTelegram reports whether the Telegram token needed by the bot is set.
func (c *Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_TOKEN is required")
	}
	return nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
