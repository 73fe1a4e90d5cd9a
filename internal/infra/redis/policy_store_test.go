package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/courier-notify/internal/domain"
)

func TestPolicyStoreSnapshotDefaults(t *testing.T) {
	t.Parallel()

	store, err := NewPolicyStore(newTestRedisClient(t), domain.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("NewPolicyStore() error = %v", err)
	}

	policy, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if policy.MaxAttempts != domain.DefaultMaxAttempts {
		t.Fatalf("MaxAttempts = %d, want %d", policy.MaxAttempts, domain.DefaultMaxAttempts)
	}
	if policy.CooldownMinutes != domain.DefaultCooldownMinutes {
		t.Fatalf("CooldownMinutes = %d, want %d", policy.CooldownMinutes, domain.DefaultCooldownMinutes)
	}
	for _, ch := range domain.Channels {
		if !policy.IsChannelEnabled(ch) {
			t.Fatalf("IsChannelEnabled(%s) = false, want true", ch)
		}
	}
}

func TestPolicyStoreUpdateRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewPolicyStore(newTestRedisClient(t), domain.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("NewPolicyStore() error = %v", err)
	}

	updated := domain.DefaultRetryPolicy()
	updated.MaxAttempts = 5
	updated.CooldownMinutes = 10
	updated.ChannelEnabled[domain.ChannelVoiceCall] = false

	if err := store.Update(context.Background(), updated); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got.MaxAttempts != 5 || got.CooldownMinutes != 10 {
		t.Fatalf("Snapshot() = %+v, want max=5 cooldown=10", got)
	}
	if got.IsChannelEnabled(domain.ChannelVoiceCall) {
		t.Fatalf("IsChannelEnabled(VOICE_CALL) = true, want false")
	}
	if !got.IsChannelEnabled(domain.ChannelSMS) {
		t.Fatalf("IsChannelEnabled(SMS) = false, want true")
	}
}

func TestPolicyStoreSnapshotIsIndependent(t *testing.T) {
	t.Parallel()

	store, err := NewPolicyStore(newTestRedisClient(t), domain.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("NewPolicyStore() error = %v", err)
	}

	first, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	first.ChannelEnabled[domain.ChannelEmail] = false

	second, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if !second.IsChannelEnabled(domain.ChannelEmail) {
		t.Fatalf("mutating one snapshot changed the next one")
	}
}

func TestPolicyStoreUpdateRejectsInvalid(t *testing.T) {
	t.Parallel()

	store, err := NewPolicyStore(newTestRedisClient(t), domain.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("NewPolicyStore() error = %v", err)
	}

	bad := domain.DefaultRetryPolicy()
	bad.MaxAttempts = 0
	if err := store.Update(context.Background(), bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Update() error = %v, want ErrValidation", err)
	}
}

func TestPolicyStoreSnapshotCorruptField(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	store, err := NewPolicyStore(rdb, domain.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("NewPolicyStore() error = %v", err)
	}

	if err := rdb.HSet(context.Background(), policyKey, fieldMaxAttempts, "many").Err(); err != nil {
		t.Fatalf("HSet() error = %v", err)
	}

	if _, err := store.Snapshot(context.Background()); !errors.Is(err, domain.ErrStore) {
		t.Fatalf("Snapshot() error = %v, want ErrStore", err)
	}
}
