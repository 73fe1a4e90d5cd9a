package provider

import (
	"fmt"
	"sync"

	"github.com/kursadbilgin/courier-notify/internal/domain"
)

// Registry maps each delivery channel to its provider. Adding a channel means
// registering one more implementation.
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.Channel]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[domain.Channel]Provider)}
}

func (r *Registry) Register(channel domain.Channel, p Provider) error {
	if !channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
	}
	if p == nil {
		return fmt.Errorf("provider for %s is required", channel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[channel]; exists {
		return fmt.Errorf("%w: provider for %s already registered", domain.ErrConflict, channel)
	}
	r.providers[channel] = p
	return nil
}

func (r *Registry) Resolve(channel domain.Channel) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[channel]
	return p, ok
}

// Channels returns the registered channels in domain order.
func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]domain.Channel, 0, len(r.providers))
	for _, ch := range domain.Channels {
		if _, ok := r.providers[ch]; ok {
			channels = append(channels, ch)
		}
	}
	return channels
}
