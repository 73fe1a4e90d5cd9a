package main

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/courier-notify/internal/config"
	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/observability"
	"github.com/kursadbilgin/courier-notify/internal/provider"
	"github.com/kursadbilgin/courier-notify/internal/ratelimit"
	"go.uber.org/zap"
)

// buildProviders registers one provider per configured channel, each behind
// the shared rate limiter and its own circuit breaker. Channels without a
// configured endpoint get no provider; dispatching to them fails the attempt.
func buildProviders(cfg *config.Config, limiter ratelimit.RateLimiter, metrics *observability.Metrics, logger *zap.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	breaker := provider.BreakerSettings{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		OpenTimeout:      cfg.BreakerOpenTimeout,
		OnStateChange: func(channel domain.Channel, from, to string) {
			metrics.SetBreakerState(channel.String(), to)
			logger.Warn("provider circuit breaker changed state",
				zap.String("channel", channel.String()),
				zap.String("from", from),
				zap.String("to", to),
			)
		},
	}

	register := func(channel domain.Channel, p provider.Provider) error {
		wrapped := provider.WithBreaker(channel, provider.WithRateLimit(channel, p, limiter), breaker)
		if err := registry.Register(channel, wrapped); err != nil {
			return err
		}
		logger.Info("channel provider registered", zap.String("channel", channel.String()))
		return nil
	}

	for channel, endpoint := range cfg.GatewayURLs() {
		if strings.TrimSpace(endpoint) == "" {
			continue
		}
		gateway, err := provider.NewGatewayProvider(channel, endpoint)
		if err != nil {
			return nil, fmt.Errorf("%s gateway: %w", channel, err)
		}
		if err := register(channel, gateway); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(cfg.SMTPHost) != "" {
		smtp, err := provider.NewSMTPProvider(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		if err != nil {
			return nil, fmt.Errorf("smtp provider: %w", err)
		}
		if err := register(domain.ChannelEmail, smtp); err != nil {
			return nil, err
		}
	}

	if len(registry.Channels()) == 0 {
		logger.Warn("no channel providers configured, every delivery attempt will fail")
	}
	return registry, nil
}
