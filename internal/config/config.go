package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/infra/postgresql"
	"github.com/kursadbilgin/courier-notify/internal/provider"
	"github.com/kursadbilgin/courier-notify/internal/service"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=1h"`

	SMSGatewayURL       string `env:"SMS_GATEWAY_URL"`
	MessagingGatewayURL string `env:"MESSAGING_GATEWAY_URL"`
	PushGatewayURL      string `env:"PUSH_GATEWAY_URL"`
	VoiceGatewayURL     string `env:"VOICE_GATEWAY_URL"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM,default=noreply@courier.local"`

	RateLimitPerSec           int    `env:"RATE_LIMIT_PER_SEC,default=50"`
	RateLimitChannelOverrides string `env:"RATE_LIMIT_CHANNEL_OVERRIDES"`

	SchedulerInterval    time.Duration `env:"SCHEDULER_INTERVAL,default=1m"`
	SchedulerBatchSize   int           `env:"SCHEDULER_BATCH_SIZE,default=100"`
	SchedulerConcurrency int           `env:"SCHEDULER_CONCURRENCY,default=8"`
	ClaimLease           time.Duration `env:"CLAIM_LEASE,default=2m"`

	DefaultMaxAttempts int    `env:"DEFAULT_MAX_ATTEMPTS,default=3"`
	CooldownMinutes    int    `env:"COOLDOWN_MINUTES,default=30"`
	EnabledChannels    string `env:"ENABLED_CHANNELS"`

	EventsQueue string `env:"EVENTS_QUEUE,default=shipment.events"`

	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD,default=5"`
	BreakerOpenTimeout      time.Duration `env:"BREAKER_OPEN_TIMEOUT,default=30s"`

	APIPort   int    `env:"API_PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := cfg.DefaultPolicy(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := cfg.ChannelRateLimits(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.SchedulerBatchSize < 1 {
		return nil, fmt.Errorf("failed to load config: SCHEDULER_BATCH_SIZE must be positive")
	}
	if minLease := MinClaimLease(); cfg.ClaimLease <= minLease {
		return nil, fmt.Errorf("failed to load config: CLAIM_LEASE %s must exceed %s (gateway timeout plus outcome write window)", cfg.ClaimLease, minLease)
	}
	return &cfg, nil
}

// MinClaimLease is the shortest lease that still fits one gateway call and
// the outcome write that follows it.
func MinClaimLease() time.Duration {
	return provider.DefaultGatewayTimeout + service.PersistTimeout
}

// DefaultPolicy builds the baseline retry policy. ENABLED_CHANNELS is a comma
// separated channel list; channels missing from it start disabled. An empty
// list enables every channel.
func (c *Config) DefaultPolicy() (domain.RetryPolicy, error) {
	allEnabled := strings.TrimSpace(c.EnabledChannels) == ""
	enabled := make(map[domain.Channel]bool, len(domain.Channels))
	for _, ch := range domain.Channels {
		enabled[ch] = allEnabled
	}
	for _, raw := range strings.Split(c.EnabledChannels, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		ch, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return domain.RetryPolicy{}, fmt.Errorf("ENABLED_CHANNELS: %w", err)
		}
		enabled[ch] = true
	}

	policy := domain.RetryPolicy{
		ChannelEnabled:  enabled,
		MaxAttempts:     c.DefaultMaxAttempts,
		CooldownMinutes: c.CooldownMinutes,
	}
	if err := policy.Validate(); err != nil {
		return domain.RetryPolicy{}, err
	}
	return policy, nil
}

// ChannelRateLimits parses RATE_LIMIT_CHANNEL_OVERRIDES, a comma separated
// list of channel=limit pairs such as "voice_call=5,sms=20".
func (c *Config) ChannelRateLimits() (map[string]int, error) {
	limits := make(map[string]int)
	for _, pair := range strings.Split(c.RateLimitChannelOverrides, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, rawLimit, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("RATE_LIMIT_CHANNEL_OVERRIDES: malformed entry %q", pair)
		}
		ch, err := domain.ParseChannelFromString(name)
		if err != nil {
			return nil, fmt.Errorf("RATE_LIMIT_CHANNEL_OVERRIDES: %w", err)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(rawLimit))
		if err != nil || limit < 1 {
			return nil, fmt.Errorf("RATE_LIMIT_CHANNEL_OVERRIDES: invalid limit %q for %s", rawLimit, ch)
		}
		limits[strings.ToLower(ch.String())] = limit
	}
	return limits, nil
}

// DBPool returns the postgres pool sizing.
func (c *Config) DBPool() postgresql.PoolConfig {
	return postgresql.PoolConfig{
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: c.DBConnMaxLifetime,
	}
}

// GatewayURLs maps each HTTP gateway channel to its configured endpoint.
func (c *Config) GatewayURLs() map[domain.Channel]string {
	return map[domain.Channel]string{
		domain.ChannelSMS:          c.SMSGatewayURL,
		domain.ChannelMessagingApp: c.MessagingGatewayURL,
		domain.ChannelPush:         c.PushGatewayURL,
		domain.ChannelVoiceCall:    c.VoiceGatewayURL,
	}
}
