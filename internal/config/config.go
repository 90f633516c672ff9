/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the investment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	EventExchange           string `mapstructure:"EVENT_EXCHANGE"`
	StripeAPIBaseURL        string `mapstructure:"STRIPE_API_BASE_URL"`
	StripeSecretKey         string `mapstructure:"STRIPE_SECRET_KEY"`
	SessionJWTSecret        string `mapstructure:"SESSION_JWT_SECRET"`
	SessionTTLMinutes       int    `mapstructure:"SESSION_TTL_MINUTES"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`
	ReportTimeZone          string `mapstructure:"REPORT_TIME_ZONE"`
	OrderRateLimitPerMinute int    `mapstructure:"ORDER_RATE_LIMIT_PER_MINUTE"`
	OrderStaleAfterMinutes  int    `mapstructure:"ORDER_STALE_AFTER_MINUTES"`
	StaleSweepSchedule      string `mapstructure:"STALE_SWEEP_SCHEDULE"`
	CORSAllowedOrigins      string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// SessionTTL returns the configured session lifetime as a duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// OrderStaleAfter returns the age beyond which a requested order counts as stuck.
func (c Config) OrderStaleAfter() time.Duration {
	return time.Duration(c.OrderStaleAfterMinutes) * time.Minute
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENT_EXCHANGE", "ideainvest.events")
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ideainvest:rate_limit")
	viper.SetDefault("REPORT_TIME_ZONE", "UTC")
	viper.SetDefault("SESSION_TTL_MINUTES", 1440)
	viper.SetDefault("ORDER_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("ORDER_STALE_AFTER_MINUTES", 60)
	viper.SetDefault("STALE_SWEEP_SCHEDULE", "@every 5m")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY", "STRIPE_SECRET_KEY", "LIVE_STRIPE_SECRET_KEY", "TEST_STRIPE_SECRET_KEY")
	_ = viper.BindEnv("SESSION_JWT_SECRET")
	_ = viper.BindEnv("SESSION_TTL_MINUTES")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "INVESTMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("REPORT_TIME_ZONE")
	_ = viper.BindEnv("ORDER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("ORDER_STALE_AFTER_MINUTES")
	_ = viper.BindEnv("STALE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.StripeSecretKey = strings.TrimSpace(config.StripeSecretKey)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "ideainvest:rate_limit"
	}

	config.ReportTimeZone = strings.TrimSpace(config.ReportTimeZone)
	if config.ReportTimeZone == "" {
		config.ReportTimeZone = "UTC"
	}
	if _, tzErr := time.LoadLocation(config.ReportTimeZone); tzErr != nil {
		log.Printf("level=warn component=config msg=\"invalid REPORT_TIME_ZONE; falling back to UTC\" value=%q err=%v", config.ReportTimeZone, tzErr)
		config.ReportTimeZone = "UTC"
	}

	if config.SessionTTLMinutes <= 0 {
		config.SessionTTLMinutes = 1440
	}
	if config.OrderRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative order rate limit configured; coercing to zero\" limit=%d", config.OrderRateLimitPerMinute)
		config.OrderRateLimitPerMinute = 0
	}
	if config.OrderStaleAfterMinutes <= 0 {
		config.OrderStaleAfterMinutes = 60
	}
	if strings.TrimSpace(config.StaleSweepSchedule) == "" {
		config.StaleSweepSchedule = "@every 5m"
	}

	return
}
