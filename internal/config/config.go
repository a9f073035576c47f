package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

const (
	TransportSMTP = "smtp"
	TransportHTTP = "http"
	TransportSES  = "ses"
)

type Config struct {
	APIPort     int    `env:"API_PORT,default=8080" validate:"min=1,max=65535"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	DatabaseDSN string `env:"DATABASE_DSN,required=true" validate:"required"`
	RedisURL    string `env:"REDIS_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	MailTransport string `env:"MAIL_TRANSPORT,default=smtp" validate:"oneof=smtp http ses"`
	MailFrom      string `env:"MAIL_FROM,required=true" validate:"required,email"`
	MailFromName  string `env:"MAIL_FROM_NAME"`

	SMTPHost        string `env:"SMTP_HOST" validate:"required_if=MailTransport smtp"`
	SMTPPort        int    `env:"SMTP_PORT,default=587" validate:"min=1,max=65535"`
	SMTPUsername    string `env:"SMTP_USERNAME"`
	SMTPPassword    string `env:"SMTP_PASSWORD"`
	SMTPImplicitTLS bool   `env:"SMTP_IMPLICIT_TLS,default=false"`
	SMTPTimeoutSec  int    `env:"SMTP_TIMEOUT_SEC,default=10" validate:"min=1"`

	MailAPIURL          string `env:"MAIL_API_URL" validate:"required_if=MailTransport http"`
	MailAPIKey          string `env:"MAIL_API_KEY"`
	SESConfigurationSet string `env:"SES_CONFIGURATION_SET"`

	MaxPerHour          int `env:"MAX_PER_HOUR,default=100" validate:"min=1"`
	MaxPerDay           int `env:"MAX_PER_DAY,default=500" validate:"min=1,gtefield=MaxPerHour"`
	InterMessageDelayMS int `env:"INTER_MESSAGE_DELAY_MS,default=1000" validate:"min=0"`
	MaxBatchSize        int `env:"MAX_BATCH_SIZE,default=1000" validate:"min=1"`
	WorkerConcurrency   int `env:"WORKER_CONCURRENCY,default=1" validate:"min=1"`

	DisposableDomains   string `env:"DISPOSABLE_DOMAINS"`
	TemplateDir         string `env:"TEMPLATE_DIR"`
	TemplateCacheTTLSec int    `env:"TEMPLATE_CACHE_TTL_SEC,default=0" validate:"min=0"`
	CurrencySymbol      string `env:"CURRENCY_SYMBOL,default=$"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.MailTransport = strings.ToLower(strings.TrimSpace(cfg.MailTransport))
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// DisposableDomainList splits DISPOSABLE_DOMAINS. Nil means the built-in list.
func (c *Config) DisposableDomainList() []string {
	if strings.TrimSpace(c.DisposableDomains) == "" {
		return nil
	}

	parts := strings.Split(c.DisposableDomains, ",")
	domains := make([]string, 0, len(parts))
	for _, part := range parts {
		if d := strings.TrimSpace(part); d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

func (c *Config) InterMessageDelay() time.Duration {
	return time.Duration(c.InterMessageDelayMS) * time.Millisecond
}

func (c *Config) SMTPTimeout() time.Duration {
	return time.Duration(c.SMTPTimeoutSec) * time.Second
}

func (c *Config) TemplateCacheTTL() time.Duration {
	return time.Duration(c.TemplateCacheTTLSec) * time.Second
}
