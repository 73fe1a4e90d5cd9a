package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/observability"
	"github.com/kursadbilgin/courier-notify/internal/provider"
	"github.com/kursadbilgin/courier-notify/internal/repository"
	"github.com/kursadbilgin/courier-notify/internal/template"
	"go.uber.org/zap"
)

const (
	defaultClaimLease = 2 * time.Minute
	// PersistTimeout bounds each outcome, release and audit write. The send
	// stops at least this long before the claim lease ends so the outcome can
	// still be written under the claim.
	PersistTimeout = 10 * time.Second
)

// Dispatcher performs one delivery step for one notification: claim it,
// either cancel it or spend one attempt on its channel provider, and persist
// the outcome while still holding the claim.
type Dispatcher struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	providers     *provider.Registry
	resolver      repository.VariableResolver
	logger        *zap.Logger
	metrics       *observability.Metrics
	claimLease    time.Duration
	now           func() time.Time
	newToken      func() string
}

func NewDispatcher(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	providers *provider.Registry,
	resolver repository.VariableResolver,
	claimLease time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if claimLease <= 0 {
		claimLease = defaultClaimLease
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		notifications: notifications,
		attempts:      attempts,
		providers:     providers,
		resolver:      resolver,
		logger:        logger,
		claimLease:    claimLease,
		now:           time.Now,
		newToken:      uuid.NewString,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch moves n one step through its lifecycle under policy and returns the
// persisted record. It fails with domain.ErrNotPending when n is not PENDING,
// domain.ErrConflict when another worker holds or changed the record, and an
// error wrapping domain.ErrStore when persistence fails. Delivery failures are
// not errors; they show up in the returned record.
func (d *Dispatcher) Dispatch(ctx context.Context, n domain.Notification, policy domain.RetryPolicy) (*domain.Notification, error) {
	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.String("notificationId", n.ID),
		zap.String("channel", n.Channel.String()),
	)

	if n.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: notification %s is %s", domain.ErrNotPending, n.ID, n.Status)
	}
	if n.Attempts >= n.MaxAttempts {
		return nil, fmt.Errorf("%w: notification %s has no attempts left", domain.ErrNotPending, n.ID)
	}

	token := d.newToken()
	// Wall clock, not d.now: the send deadline is a real context deadline.
	sendDeadline := time.Now().Add(d.sendWindow())
	claimedAt := d.now()
	if err := d.notifications.Claim(ctx, n.ID, n.Attempts, token, claimedAt, claimedAt.Add(d.claimLease)); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			d.metrics.IncClaimConflict(n.Channel.String())
			logger.Debug("notification claimed elsewhere, skipping")
		}
		return nil, err
	}

	if !policy.IsChannelEnabled(n.Channel) {
		if err := n.Cancel(domain.LastErrorChannelDisabled, d.now()); err != nil {
			d.release(ctx, n.ID, token, logger)
			return nil, err
		}
		if err := d.persist(ctx, &n, token); err != nil {
			return nil, err
		}
		d.metrics.IncNotificationCancelled(n.Channel.String(), domain.LastErrorChannelDisabled)
		logger.Info("notification cancelled, channel disabled")
		return &n, nil
	}

	vars, err := d.resolveVariables(ctx, n.EntityRef, logger)
	if err != nil {
		d.release(ctx, n.ID, token, logger)
		return nil, err
	}

	if err := n.StartAttempt(); err != nil {
		d.release(ctx, n.ID, token, logger)
		return nil, err
	}

	msg := provider.Message{
		Recipient: n.Recipient,
		Body:      template.Render(n.BodyTemplate, vars),
	}
	if n.Channel == domain.ChannelEmail && n.Subject != nil {
		subject := template.Render(*n.Subject, vars)
		msg.Subject = &subject
	}
	if unresolved := template.Placeholders(msg.Body); len(unresolved) > 0 {
		logger.Debug("body has unresolved placeholders", zap.Strings("placeholders", unresolved))
	}

	sendCtx, cancelSend := context.WithDeadline(ctx, sendDeadline)
	started := d.now()
	res, sendErr := d.send(sendCtx, n.Channel, msg)
	elapsed := d.now().Sub(started)
	cancelSend()
	d.metrics.ObserveNotificationSendDuration(n.Channel.String(), elapsed)

	if errors.Is(sendErr, provider.ErrCircuitOpen) {
		// The provider was never called; the attempt is handed back.
		d.release(ctx, n.ID, token, logger)
		logger.Warn("channel circuit open, dispatch deferred")
		return nil, fmt.Errorf("%w: %s channel circuit open", domain.ErrUnavailable, n.Channel)
	}

	reason := provider.FailureReason(res, sendErr)
	if reason == "" {
		n.MarkSent(res.ProviderID, d.now())
	} else {
		n.MarkAttemptFailed(reason, d.now())
	}

	if err := d.persist(ctx, &n, token); err != nil {
		logger.Error("failed to persist dispatch outcome",
			zap.Int("attempt", n.Attempts),
			zap.Bool("delivered", reason == ""),
			zap.Error(err),
		)
		return nil, err
	}

	d.recordAttempt(ctx, n, res, reason, elapsed, logger)

	switch n.Status {
	case domain.StatusSent:
		d.metrics.IncNotificationSent(n.Channel.String())
		logger.Info("notification sent", zap.Int("attempt", n.Attempts))
	case domain.StatusFailed:
		d.metrics.IncAttemptFailed(n.Channel.String(), true)
		logger.Warn("notification failed, attempts exhausted",
			zap.Int("attempt", n.Attempts),
			zap.String("reason", reason),
		)
	default:
		d.metrics.IncAttemptFailed(n.Channel.String(), false)
		logger.Info("delivery attempt failed, will retry",
			zap.Int("attempt", n.Attempts),
			zap.Int("maxAttempts", n.MaxAttempts),
			zap.String("reason", reason),
		)
	}

	return &n, nil
}

func (d *Dispatcher) resolveVariables(ctx context.Context, entityRef string, logger *zap.Logger) (map[string]string, error) {
	if d.resolver == nil || strings.TrimSpace(entityRef) == "" {
		return nil, nil
	}

	vars, err := d.resolver.Resolve(ctx, entityRef)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("related entity not found, rendering without variables", zap.String("entityRef", entityRef))
		return nil, nil
	}
	if err != nil {
		if !errors.Is(err, domain.ErrStore) {
			err = fmt.Errorf("%w: %w", domain.ErrStore, err)
		}
		return nil, fmt.Errorf("resolve variables for %s: %w", entityRef, err)
	}
	return vars, nil
}

// sendWindow is how long a send may run after the claim is taken. It leaves
// PersistTimeout of the lease for the outcome write, or half the lease when
// the lease is shorter than that.
func (d *Dispatcher) sendWindow() time.Duration {
	margin := min(PersistTimeout, d.claimLease/2)
	return d.claimLease - margin
}

// send invokes the channel provider once. A missing provider or a panicking
// provider counts as a failed attempt.
func (d *Dispatcher) send(ctx context.Context, channel domain.Channel, msg provider.Message) (res *provider.Result, err error) {
	p, ok := d.providers.Resolve(channel)
	if !ok {
		return nil, fmt.Errorf("no provider registered for channel %s", channel)
	}

	d.metrics.IncDispatchInFlight(channel.String())
	defer d.metrics.DecDispatchInFlight(channel.String())

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()

	return p.Send(ctx, msg)
}

// persist writes the outcome even if ctx was cancelled mid-send, so a spent
// attempt is not lost to a shutdown.
func (d *Dispatcher) persist(ctx context.Context, n *domain.Notification, token string) error {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PersistTimeout)
	defer cancel()

	if err := d.notifications.SaveOutcome(persistCtx, n, token); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			d.metrics.IncClaimConflict(n.Channel.String())
		}
		return err
	}
	return nil
}

func (d *Dispatcher) release(ctx context.Context, id, token string, logger *zap.Logger) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PersistTimeout)
	defer cancel()

	if err := d.notifications.Release(releaseCtx, id, token); err != nil {
		logger.Warn("failed to release claim, lease will expire", zap.Error(err))
	}
}

func (d *Dispatcher) recordAttempt(ctx context.Context, n domain.Notification, res *provider.Result, reason string, elapsed time.Duration, logger *zap.Logger) {
	if d.attempts == nil {
		return
	}

	attempt := &domain.NotificationAttempt{
		ID:             uuid.NewString(),
		NotificationID: n.ID,
		AttemptNumber:  n.Attempts,
		Success:        reason == "",
		DurationMillis: elapsed.Milliseconds(),
		CreatedAt:      n.UpdatedAt,
	}
	if reason != "" {
		attempt.Error = &reason
	} else if res != nil && res.ProviderID != "" {
		receipt := res.ProviderID
		attempt.ProviderReceipt = &receipt
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PersistTimeout)
	defer cancel()

	if err := d.attempts.Create(auditCtx, attempt); err != nil {
		logger.Warn("failed to record delivery attempt", zap.Int("attempt", n.Attempts), zap.Error(err))
	}
}
