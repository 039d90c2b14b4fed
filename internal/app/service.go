// Package app implements the assistant's use cases on top of sessions, the
// model drivers and the tool registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nhle/mail-assistant/internal/agent"
	"github.com/nhle/mail-assistant/internal/credential"
	"github.com/nhle/mail-assistant/internal/llm"
	"github.com/nhle/mail-assistant/internal/model"
	"github.com/nhle/mail-assistant/internal/observability"
	"github.com/nhle/mail-assistant/internal/session"
	"github.com/nhle/mail-assistant/internal/store"
	"github.com/nhle/mail-assistant/internal/tools"
)

// EmailListLimit is the number of messages returned by Emails.
const EmailListLimit = 15

// Reply types returned by RunAgent.
const (
	ReplyResponse = "response"
	ReplyError    = "error"
)

var (
	// ErrEmptyCommand is returned when an agent command is blank.
	ErrEmptyCommand = errors.New("command is required")

	// ErrAPIKeyRequired is returned when no API key was given or stored.
	ErrAPIKeyRequired = errors.New("api key is required")
)

// ModelFactory builds a model driver.
type ModelFactory func(ctx context.Context, cfg llm.Config) (llm.Model, error)

// Option customizes a Service.
type Option func(*Service)

// WithCredentials enables the keyring for passwords and API keys.
func WithCredentials(c credential.Store) Option {
	return func(s *Service) { s.creds = c }
}

// WithModelFactory replaces llm.New.
func WithModelFactory(f ModelFactory) Option {
	return func(s *Service) { s.newModel = f }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service runs the assistant's use cases.
type Service struct {
	cfg      *model.AppConfig
	sessions *session.Manager
	store    store.Store
	creds    credential.Store
	newModel ModelFactory
	logger   *slog.Logger
}

// NewService creates a service. st may be nil to disable activity
// recording.
func NewService(cfg *model.AppConfig, sessions *session.Manager, st store.Store, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		sessions: sessions,
		store:    st,
		newModel: llm.New,
		logger:   observability.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoginInput carries mailbox credentials. An empty password is looked up
// in the keyring.
type LoginInput struct {
	Email    string
	Password string
	Remember bool
}

// Login verifies the account and opens a session.
func (s *Service) Login(ctx context.Context, in LoginInput) (*session.Session, error) {
	password := in.Password
	if password == "" {
		password = s.lookup(credential.MailboxKey(in.Email))
	}

	sess, err := s.sessions.Login(ctx, in.Email, password)
	if err != nil {
		return nil, err
	}

	if in.Remember && in.Password != "" {
		s.remember(ctx, credential.MailboxKey(sess.Address), in.Password)
	}

	key := s.cfg.AI.APIKey
	if key == "" {
		key = s.lookup(credential.APIKeyName)
	}
	sess.SetAPIKey(key)

	observability.LoggerFromContext(ctx).InfoContext(ctx, "session opened",
		"session_id", sess.ID, "email", sess.Address)
	return sess, nil
}

// Logout closes the session. It reports whether the session existed.
func (s *Service) Logout(ctx context.Context, sessionID string) bool {
	ok := s.sessions.Remove(sessionID)
	if ok {
		observability.LoggerFromContext(ctx).InfoContext(ctx, "session closed",
			"session_id", sessionID)
	}
	return ok
}

// SetAPIKeyInput changes the model settings of a session.
type SetAPIKeyInput struct {
	SessionID string
	Key       string
	Provider  string
	Model     string
	Remember  bool
}

// SetAPIKey stores the model API key (and optionally provider and model)
// on the session. An empty key falls back to the keyring.
func (s *Service) SetAPIKey(ctx context.Context, in SetAPIKeyInput) error {
	sess, err := s.sessions.Get(in.SessionID)
	if err != nil {
		return err
	}

	key := strings.TrimSpace(in.Key)
	if key == "" {
		key = s.lookup(credential.APIKeyName)
	}
	if key == "" {
		return ErrAPIKeyRequired
	}

	sess.SetAPIKey(key)
	if in.Provider != "" || in.Model != "" {
		sess.SetModelChoice(in.Provider, in.Model)
	}
	if in.Remember && in.Key != "" {
		s.remember(ctx, credential.APIKeyName, key)
	}
	return nil
}

// ClearHistory empties the session's conversation.
func (s *Service) ClearHistory(sessionID string) error {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	sess.History().Clear()
	return nil
}

// Status describes a session as seen by a client.
type Status struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email,omitempty"`
	HasAPIKey     bool   `json:"has_api_key"`
	HasGeminiKey  bool   `json:"has_gemini_key"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	HistoryTurns  int    `json:"history_turns"`
}

// Status reports the session state. An unknown session is reported as
// unauthenticated.
func (s *Service) Status(sessionID string) Status {
	provider, modelName := s.modelChoice(nil, "", "")

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return Status{Provider: provider, Model: modelName}
	}

	provider, modelName = s.modelChoice(sess, "", "")
	hasKey := sess.APIKey() != ""
	return Status{
		Authenticated: true,
		Email:         sess.Address,
		HasAPIKey:     hasKey,
		HasGeminiKey:  hasKey && provider == llm.ProviderGemini,
		Provider:      provider,
		Model:         modelName,
		HistoryTurns:  sess.History().Len(),
	}
}

// Emails lists the most recent messages of the session's mailbox.
func (s *Service) Emails(ctx context.Context, sessionID string) ([]model.Message, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	msgs, err := sess.Mailbox().Fetch(ctx, EmailListLimit, "ALL")
	if err != nil {
		return nil, fmt.Errorf("listing emails: %w", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

// AgentInput is one natural-language command. APIKey, Provider and Model
// override the session settings for this command only.
type AgentInput struct {
	SessionID string
	Command   string
	APIKey    string
	Provider  string
	Model     string
}

// AgentReply is the client-facing outcome of a command.
type AgentReply struct {
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Result  agent.Result `json:"result"`
}

// RunAgent resolves a command through the agent loop. Model and tool
// failures are reported in the reply; the error is reserved for a missing
// session or an empty command.
func (s *Service) RunAgent(ctx context.Context, in AgentInput) (AgentReply, error) {
	sess, err := s.sessions.Get(in.SessionID)
	if err != nil {
		return AgentReply{}, err
	}
	if strings.TrimSpace(in.Command) == "" {
		return AgentReply{}, ErrEmptyCommand
	}

	ctx = observability.WithSessionID(ctx, sess.ID)
	logger := observability.LoggerFromContext(ctx)

	provider, modelName := s.modelChoice(sess, in.Provider, in.Model)
	key := strings.TrimSpace(in.APIKey)
	if key == "" {
		key = sess.APIKey()
	}
	if key == "" {
		return AgentReply{
			Type:    ReplyError,
			Message: fmt.Sprintf("%s API Key is missing. Please add it in settings.", providerLabel(provider)),
		}, nil
	}

	m, err := s.newModel(ctx, llm.Config{
		Provider:  provider,
		Model:     modelName,
		APIKey:    key,
		BaseURL:   s.cfg.AI.BaseURL,
		MaxTokens: s.cfg.AI.MaxTokens,
	})
	if err != nil {
		return AgentReply{
			Type:    ReplyError,
			Message: fmt.Sprintf("AI Error (%s): %v", modelName, err),
		}, nil
	}

	regOpts := []tools.Option{tools.WithLogger(logger)}
	if s.store != nil {
		regOpts = append(regOpts, tools.WithRecorder(s.store, sess.ID))
	}
	registry := tools.NewRegistry(sess.Mailbox(), regOpts...)

	a := agent.New(m, registry, sess.History(),
		agent.WithMaxRounds(s.cfg.Agent.MaxRounds),
		agent.WithHistoryWindow(s.cfg.Agent.HistoryWindow),
		agent.WithRoundTimeout(s.cfg.AI.Timeout()),
		agent.WithAccount(sess.Address),
		agent.WithLogger(logger),
	)

	var res agent.Result
	err = sess.Exclusive(ctx, func(ctx context.Context) error {
		res = a.Run(ctx, in.Command)
		return nil
	})
	if err != nil {
		return AgentReply{}, err
	}

	reply := AgentReply{Type: ReplyResponse, Message: res.Text, Result: res}
	if res.State == agent.StateFailed {
		reply.Type = ReplyError
		logger.WarnContext(ctx, "agent run failed",
			"error_kind", res.ErrorKind, "error", res.Err)
	}
	return reply, nil
}

// Activity lists the session's recent tool invocations.
func (s *Service) Activity(ctx context.Context, sessionID string, limit int) ([]store.Activity, error) {
	if _, err := s.sessions.Get(sessionID); err != nil {
		return nil, err
	}
	if s.store == nil {
		return []store.Activity{}, nil
	}

	out, err := s.store.ListActivity(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.Activity{}
	}
	return out, nil
}

// ScheduledDrafts lists the session's scheduled-send drafts.
func (s *Service) ScheduledDrafts(ctx context.Context, sessionID string) ([]store.ScheduledDraft, error) {
	if _, err := s.sessions.Get(sessionID); err != nil {
		return nil, err
	}
	if s.store == nil {
		return []store.ScheduledDraft{}, nil
	}

	out, err := s.store.ListScheduledDrafts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.ScheduledDraft{}
	}
	return out, nil
}

// modelChoice resolves provider and model: the override, then the
// session's choice, then the configuration, then the driver default.
func (s *Service) modelChoice(sess *session.Session, provider, modelName string) (string, string) {
	if provider == "" && modelName == "" && sess != nil {
		provider, modelName = sess.ModelChoice()
	}
	if provider == "" {
		provider = s.cfg.AI.Provider
	}
	provider = strings.ToLower(provider)
	if provider == "" {
		provider = llm.ProviderGemini
	}

	if modelName == "" && provider == strings.ToLower(s.cfg.AI.Provider) {
		modelName = s.cfg.AI.Model
	}
	if modelName == "" {
		modelName = llm.DefaultModel(provider)
	}
	return provider, modelName
}

func providerLabel(provider string) string {
	switch provider {
	case llm.ProviderOpenAI:
		return "OpenAI"
	case llm.ProviderAnthropic:
		return "Anthropic"
	default:
		return "Gemini"
	}
}

func (s *Service) lookup(key string) string {
	if s.creds == nil {
		return ""
	}
	v, err := s.creds.Get(key)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			s.logger.Warn("reading credential", "key", key, "error", err)
		}
		return ""
	}
	return v
}

func (s *Service) remember(ctx context.Context, key, value string) {
	if s.creds == nil {
		return
	}
	if err := s.creds.Set(key, value); err != nil {
		observability.LoggerFromContext(ctx).WarnContext(ctx, "storing credential",
			"key", key, "error", err)
	}
}
