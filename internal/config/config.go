package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Port        string
	LogLevel    string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// OpenAITemperature is nil unless OPENAI_TEMPERATURE is set.
	OpenAITemperature *float32
	LLMTimeout        time.Duration

	SendGridAPIKey   string
	DefaultFromEmail string
	SMTPAddr         string
	SMTPUsername     string
	DeliveryTimeout  time.Duration

	IMAPServer       string
	IMAPUsername     string
	IMAPPassword     string
	IMAPFolder       string
	IMAPPollInterval time.Duration
	IMAPUseTLS       bool

	WSMaxClients int
}

func NewConfig() (*Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:      env,
		Port:             getEnvOrDefault("PORT", "8080"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      getEnvOrDefault("OPENAI_MODEL", "gpt-3.5-turbo"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		SendGridAPIKey:   os.Getenv("SENDGRID_API_KEY"),
		DefaultFromEmail: getEnvOrDefault("DEFAULT_FROM_EMAIL", "no-reply@example.com"),
		SMTPAddr:         getEnvOrDefault("SMTP_ADDR", "smtp.sendgrid.net:587"),
		SMTPUsername:     getEnvOrDefault("SMTP_USERNAME", "apikey"),
		IMAPServer:       os.Getenv("IMAP_SERVER"),
		IMAPUsername:     os.Getenv("IMAP_USERNAME"),
		IMAPPassword:     os.Getenv("IMAP_PASSWORD"),
		IMAPFolder:       getEnvOrDefault("IMAP_FOLDER", "INBOX"),
	}

	var err error
	if config.LLMTimeout, err = getDurationOrDefault("LLM_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if config.OpenAITemperature, err = getFloat32Ptr("OPENAI_TEMPERATURE"); err != nil {
		return nil, err
	}
	if config.DeliveryTimeout, err = getDurationOrDefault("DELIVERY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if config.IMAPPollInterval, err = getDurationOrDefault("IMAP_POLL_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if config.IMAPUseTLS, err = getBoolOrDefault("IMAP_USE_TLS", true); err != nil {
		return nil, err
	}
	if config.WSMaxClients, err = getIntOrDefault("WS_MAX_CLIENTS", 50); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" && c.Environment != "test" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}

	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive")
	}

	if t := c.OpenAITemperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("OPENAI_TEMPERATURE must be between 0 and 2")
	}

	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("DELIVERY_TIMEOUT must be positive")
	}

	if c.IMAPServer != "" {
		if c.IMAPUsername == "" || c.IMAPPassword == "" {
			return fmt.Errorf("IMAP_USERNAME and IMAP_PASSWORD are required when IMAP_SERVER is set")
		}
		if c.IMAPPollInterval <= 0 {
			return fmt.Errorf("IMAP_POLL_INTERVAL must be positive")
		}
	}

	if c.WSMaxClients <= 0 {
		return fmt.Errorf("WS_MAX_CLIENTS must be positive")
	}

	return nil
}

// PollerEnabled reports whether a mailbox is configured for polling.
func (c *Config) PollerEnabled() bool {
	return c.IMAPServer != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid duration: %w", key, err)
	}
	return d, nil
}

func getBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s is not a valid boolean: %w", key, err)
	}
	return b, nil
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid integer: %w", key, err)
	}
	return n, nil
}

func getFloat32Ptr(key string) (*float32, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("%s is not a valid number: %w", key, err)
	}
	v := float32(f)
	return &v, nil
}
