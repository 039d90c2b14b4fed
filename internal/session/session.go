// Package session keeps the authenticated mailbox sessions of the running
// process.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mail-assistant/internal/conversation"
	"github.com/nhle/mail-assistant/internal/mailbox"
	"github.com/nhle/mail-assistant/internal/tools"
)

// ErrAuthenticationRequired is returned for an unknown or expired session.
var ErrAuthenticationRequired = errors.New("authentication required")

// Mailbox is an account the session operates on.
type Mailbox interface {
	tools.Mailbox
	Address() string
	Verify(ctx context.Context) error
}

var _ Mailbox = (*mailbox.Adapter)(nil)

// Dialer builds the mailbox for an account. It must not perform I/O; the
// manager calls Verify.
type Dialer func(address, password string) Mailbox

// Session is one logged-in mailbox with its conversation.
type Session struct {
	ID        string
	Address   string
	CreatedAt time.Time

	mailbox Mailbox
	history *conversation.Buffer

	// run serializes agent runs.
	run sync.Mutex

	mu       sync.Mutex
	apiKey   string
	provider string
	model    string
	lastUsed time.Time
}

// Mailbox returns the session's mailbox.
func (s *Session) Mailbox() Mailbox {
	return s.mailbox
}

// History returns the session's conversation history.
func (s *Session) History() conversation.History {
	return s.history
}

// APIKey returns the model API key, if one is set.
func (s *Session) APIKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKey
}

// SetAPIKey replaces the model API key.
func (s *Session) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = strings.TrimSpace(key)
}

// ModelChoice returns the provider and model selected for the session.
// Empty values mean the configured defaults.
func (s *Session) ModelChoice() (provider, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider, s.model
}

// SetModelChoice selects the provider and model.
func (s *Session) SetModelChoice(provider, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = strings.TrimSpace(provider)
	s.model = strings.TrimSpace(model)
}

// LastUsed returns when the session last served a request.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

// Exclusive runs fn while holding the session's run lock, so that at most
// one agent run touches the history at a time.
func (s *Session) Exclusive(ctx context.Context, fn func(context.Context) error) error {
	s.run.Lock()
	defer s.run.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithHistoryCap sets the history capacity of new sessions.
func WithHistoryCap(n int) Option {
	return func(m *Manager) { m.historyCap = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	dial       Dialer
	historyCap int
	now        func() time.Time
}

// NewManager creates a manager that builds mailboxes with dial.
func NewManager(dial Dialer, opts ...Option) *Manager {
	m := &Manager{
		sessions:   make(map[string]*Session),
		dial:       dial,
		historyCap: conversation.DefaultCapacity,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login verifies the credentials against the mailbox and opens a session.
func (m *Manager) Login(ctx context.Context, address, password string) (*Session, error) {
	address = strings.TrimSpace(address)
	if address == "" || password == "" {
		return nil, &mailbox.AuthError{
			Username: address,
			Err:      errors.New("email and password are required"),
		}
	}

	mb := m.dial(address, password)
	if err := mb.Verify(ctx); err != nil {
		return nil, fmt.Errorf("verifying mailbox %s: %w", address, err)
	}

	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Address:   address,
		CreatedAt: now,
		mailbox:   mb,
		history:   conversation.NewBuffer(m.historyCap),
		lastUsed:  now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s, nil
}

// Get returns the session with id and marks it used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrAuthenticationRequired
	}
	s.touch(m.now())
	return s, nil
}

// Remove discards the session with id. It reports whether it existed.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
