package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-assistant/internal/mailbox"
	"github.com/nhle/mail-assistant/internal/tools"
)

type stubMailbox struct {
	tools.Mailbox
	address   string
	verifyErr error
}

func (s *stubMailbox) Address() string                { return s.address }
func (s *stubMailbox) Verify(_ context.Context) error { return s.verifyErr }

func dialer(verifyErr error) Dialer {
	return func(address, _ string) Mailbox {
		return &stubMailbox{address: address, verifyErr: verifyErr}
	}
}

func TestLoginCreatesSession(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewManager(dialer(nil), WithClock(func() time.Time { return now }), WithHistoryCap(4))

	s, err := m.Login(context.Background(), " me@example.com ", "pw")
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "me@example.com", s.Address)
	assert.Equal(t, now, s.CreatedAt)
	assert.Equal(t, "me@example.com", s.Mailbox().Address())
	assert.Equal(t, 0, s.History().Len())

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, m.Len())
}

func TestLoginRejected(t *testing.T) {
	authErr := &mailbox.AuthError{Username: "me@example.com", Err: errors.New("bad password")}
	m := NewManager(dialer(authErr))

	_, err := m.Login(context.Background(), "me@example.com", "pw")
	assert.True(t, mailbox.IsAuthError(err))
	assert.Zero(t, m.Len())

	_, err = m.Login(context.Background(), "me@example.com", "")
	assert.True(t, mailbox.IsAuthError(err))
}

func TestGetUnknownAndRemove(t *testing.T) {
	m := NewManager(dialer(nil))

	_, err := m.Get("missing")
	assert.ErrorIs(t, err, ErrAuthenticationRequired)

	s, err := m.Login(context.Background(), "me@example.com", "pw")
	require.NoError(t, err)

	assert.True(t, m.Remove(s.ID))
	assert.False(t, m.Remove(s.ID))
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrAuthenticationRequired)
}

func TestSettings(t *testing.T) {
	s, err := NewManager(dialer(nil)).Login(context.Background(), "me@example.com", "pw")
	require.NoError(t, err)

	s.SetAPIKey("  key  ")
	assert.Equal(t, "key", s.APIKey())

	s.SetModelChoice("openai", "gpt-4o")
	provider, model := s.ModelChoice()
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "gpt-4o", model)
}

func TestExclusiveSerializesRuns(t *testing.T) {
	s, err := NewManager(dialer(nil)).Login(context.Background(), "me@example.com", "pw")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Exclusive(context.Background(), func(context.Context) error {
				mu.Lock()
				active++
				maxSeen = max(maxSeen, active)
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestExclusiveHonorsCanceledContext(t *testing.T) {
	s, err := NewManager(dialer(nil)).Login(context.Background(), "me@example.com", "pw")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err = s.Exclusive(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
