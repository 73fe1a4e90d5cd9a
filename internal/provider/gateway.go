package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/courier-notify/internal/domain"
)

// DefaultGatewayTimeout bounds one HTTP gateway call.
const DefaultGatewayTimeout = 10 * time.Second

type gatewayRequest struct {
	To      string  `json:"to"`
	Channel string  `json:"channel"`
	Subject *string `json:"subject,omitempty"`
	Body    string  `json:"body"`
}

type gatewayResponse struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
}

// GatewayProvider delivers SMS, messaging-app, push and voice messages through
// an HTTP gateway that accepts a JSON envelope.
type GatewayProvider struct {
	client   *resty.Client
	endpoint string
	channel  domain.Channel
}

func NewGatewayProvider(channel domain.Channel, endpoint string) (*GatewayProvider, error) {
	client := resty.New()
	client.SetTimeout(DefaultGatewayTimeout)
	client.SetRetryCount(0)

	return NewGatewayProviderWithClient(channel, endpoint, client)
}

func NewGatewayProviderWithClient(channel domain.Channel, endpoint string, client *resty.Client) (*GatewayProvider, error) {
	if !channel.IsValid() {
		return nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
	}
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("gateway endpoint for %s is required", channel)
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid gateway endpoint for %s: %w", channel, err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(DefaultGatewayTimeout)
	}
	// Retries belong to the scheduler; a provider call is exactly one attempt.
	client.SetRetryCount(0)

	return &GatewayProvider{
		client:   client,
		endpoint: trimmedEndpoint,
		channel:  channel,
	}, nil
}

func (p *GatewayProvider) Send(ctx context.Context, msg Message) (*Result, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("gateway provider is not initialized")
	}

	reqBody := gatewayRequest{
		To:      msg.Recipient,
		Channel: strings.ToLower(p.channel.String()),
		Subject: msg.Subject,
		Body:    msg.Body,
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Channel: p.channel.String(),
			Message: "gateway request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Channel: p.channel.String(),
			Message: "gateway returned empty response",
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Result{
			Success:    true,
			ProviderID: gatewayMessageID(response),
		}, nil
	}

	return nil, &ProviderError{
		Channel:    p.channel.String(),
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, responseBody),
	}
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func gatewayMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	var payload gatewayResponse
	if err := json.Unmarshal(response.Body(), &payload); err == nil {
		if id := strings.TrimSpace(payload.MessageID); id != "" {
			return id
		}
		if id := strings.TrimSpace(payload.ID); id != "" {
			return id
		}
	}

	for _, key := range []string{"X-Message-ID", "X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
