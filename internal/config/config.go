/**
 * @description
 * This package handles configuration management for the renewal-service. Settings
 * are read from environment variables through Viper, with defaults for the daily
 * check time and the notification thresholds.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading and env binding.
 */
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the renewal service.
type Config struct {
	ServerPort     string `mapstructure:"SERVER_PORT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`
	AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
	SeedRates      bool   `mapstructure:"SEED_CURRENCY_RATES"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogFile  string `mapstructure:"LOG_FILE"`

	SchedulerEnabled         bool   `mapstructure:"SCHEDULER_ENABLED"`
	NotificationCheckTime    string `mapstructure:"NOTIFICATION_CHECK_TIME"`
	StartupCheckDelaySeconds int    `mapstructure:"STARTUP_CHECK_DELAY_SECONDS"`
	PassTimeoutSeconds       int    `mapstructure:"PASS_TIMEOUT_SECONDS"`

	TrialWarningDays    int `mapstructure:"TRIAL_WARNING_DAYS"`
	CardWarningDays     int `mapstructure:"CARD_WARNING_DAYS"`
	ExpiredRenotifyDays int `mapstructure:"EXPIRED_RENOTIFY_DAYS"`

	EmailSendTimeoutSeconds int    `mapstructure:"EMAIL_SEND_TIMEOUT_SECONDS"`
	SMTPHost                string `mapstructure:"SMTP_HOST"`
	SMTPPort                int    `mapstructure:"SMTP_PORT"`
	SMTPUsername            string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword            string `mapstructure:"SMTP_PASSWORD"`
	SMTPSender              string `mapstructure:"SMTP_SENDER"`
	SMTPSSL                 bool   `mapstructure:"SMTP_SSL"`

	RedisURL      string `mapstructure:"REDIS_URL"`
	RunLockPrefix string `mapstructure:"RUN_LOCK_PREFIX"`

	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	EventsExchange   string `mapstructure:"EVENTS_EXCHANGE"`
	PriceChangeQueue string `mapstructure:"PRICE_CHANGE_QUEUE"`

	// Parsed from NotificationCheckTime.
	CheckHour   int `mapstructure:"-"`
	CheckMinute int `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables and validates it.
func LoadConfig() (*Config, error) {
	viper.SetDefault("SERVER_PORT", "8090")
	viper.SetDefault("AUTO_MIGRATE", true)
	viper.SetDefault("SEED_CURRENCY_RATES", true)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("SCHEDULER_ENABLED", true)
	viper.SetDefault("NOTIFICATION_CHECK_TIME", "08:00") // Daily at 08:00 local time.
	viper.SetDefault("STARTUP_CHECK_DELAY_SECONDS", 5)
	viper.SetDefault("PASS_TIMEOUT_SECONDS", 600)
	viper.SetDefault("TRIAL_WARNING_DAYS", 7)
	viper.SetDefault("CARD_WARNING_DAYS", 30)
	viper.SetDefault("EXPIRED_RENOTIFY_DAYS", 1)
	viper.SetDefault("EMAIL_SEND_TIMEOUT_SECONDS", 15)
	viper.SetDefault("SMTP_PORT", 587)
	viper.SetDefault("RUN_LOCK_PREFIX", "renewal:run_lock")
	viper.SetDefault("EVENTS_EXCHANGE", "subscription_events")
	viper.SetDefault("PRICE_CHANGE_QUEUE", "renewal_service.price_changes")
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "RENEWAL_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("AUTO_MIGRATE")
	_ = viper.BindEnv("SEED_CURRENCY_RATES")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FILE")
	_ = viper.BindEnv("SCHEDULER_ENABLED")
	_ = viper.BindEnv("NOTIFICATION_CHECK_TIME")
	_ = viper.BindEnv("STARTUP_CHECK_DELAY_SECONDS")
	_ = viper.BindEnv("PASS_TIMEOUT_SECONDS")
	_ = viper.BindEnv("TRIAL_WARNING_DAYS")
	_ = viper.BindEnv("CARD_WARNING_DAYS")
	_ = viper.BindEnv("EXPIRED_RENOTIFY_DAYS")
	_ = viper.BindEnv("EMAIL_SEND_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SMTP_HOST")
	_ = viper.BindEnv("SMTP_PORT")
	_ = viper.BindEnv("SMTP_USERNAME")
	_ = viper.BindEnv("SMTP_PASSWORD")
	_ = viper.BindEnv("SMTP_SENDER")
	_ = viper.BindEnv("SMTP_SSL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RUN_LOCK_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("PRICE_CHANGE_QUEUE")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.SMTPHost = strings.TrimSpace(config.SMTPHost)
	if config.SMTPSender == "" {
		config.SMTPSender = config.SMTPUsername
	}

	hour, minute, err := ParseCheckTime(config.NotificationCheckTime)
	if err != nil {
		return nil, err
	}
	config.CheckHour, config.CheckMinute = hour, minute

	if config.TrialWarningDays < 0 || config.CardWarningDays < 0 {
		return nil, fmt.Errorf("TRIAL_WARNING_DAYS and CARD_WARNING_DAYS must not be negative")
	}
	if config.ExpiredRenotifyDays < 1 {
		config.ExpiredRenotifyDays = 1
	}
	if config.PassTimeoutSeconds <= 0 {
		config.PassTimeoutSeconds = 600
	}
	if config.EmailSendTimeoutSeconds <= 0 {
		config.EmailSendTimeoutSeconds = 15
	}
	if config.StartupCheckDelaySeconds < 0 {
		config.StartupCheckDelaySeconds = 0
	}

	return &config, nil
}

// ParseCheckTime parses an "HH:MM" wall-clock time.
func ParseCheckTime(raw string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("NOTIFICATION_CHECK_TIME must be HH:MM, got %q", raw)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("NOTIFICATION_CHECK_TIME has invalid hour in %q", raw)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("NOTIFICATION_CHECK_TIME has invalid minute in %q", raw)
	}
	return hour, minute, nil
}

// CronSpec returns the five-field cron expression for the daily check.
func (c *Config) CronSpec() string {
	return fmt.Sprintf("%d %d * * *", c.CheckMinute, c.CheckHour)
}

// PassTimeout bounds a single scheduled pass.
func (c *Config) PassTimeout() time.Duration {
	return time.Duration(c.PassTimeoutSeconds) * time.Second
}

// StartupDelay is the wait before the startup pass.
func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.StartupCheckDelaySeconds) * time.Second
}

// EmailSendTimeout bounds a single SMTP delivery.
func (c *Config) EmailSendTimeout() time.Duration {
	return time.Duration(c.EmailSendTimeoutSeconds) * time.Second
}
