package provider

import (
	"context"
)

// Message is what a channel capability delivers.
type Message struct {
	Recipient string
	Subject   *string
	Body      string
}

// Result is the outcome reported by a provider. ProviderID is the
// provider-assigned message identifier on success.
type Result struct {
	Success      bool
	ProviderID   string
	ErrorMessage string
}

// Provider is the outbound delivery port implemented once per channel.
// Returning an error is equivalent to an unsuccessful Result.
type Provider interface {
	Send(ctx context.Context, msg Message) (*Result, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, msg Message) (*Result, error)

func (f ProviderFunc) Send(ctx context.Context, msg Message) (*Result, error) {
	return f(ctx, msg)
}

// FailureReason returns a description of why a send did not succeed, or ""
// when it did.
func FailureReason(res *Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if res == nil {
		return "provider returned no result"
	}
	if res.Success {
		return ""
	}
	if res.ErrorMessage != "" {
		return res.ErrorMessage
	}
	return "provider reported failure"
}
