// Package tools binds the declared mailbox tools to adapter operations.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/mail-assistant/internal/llm"
	"github.com/nhle/mail-assistant/internal/mailbox"
	"github.com/nhle/mail-assistant/internal/model"
	"github.com/nhle/mail-assistant/internal/store"
)

// Mailbox is the set of adapter operations the tools call.
type Mailbox interface {
	Fetch(ctx context.Context, limit int, query string) ([]model.Message, error)
	Search(ctx context.Context, c mailbox.SearchCriteria) ([]model.Message, error)
	GetDetails(ctx context.Context, id string) (model.Message, error)
	Send(ctx context.Context, to, subject, body string) (mailbox.SendResult, error)
	Reply(ctx context.Context, id, body string) (mailbox.SendResult, error)
	Forward(ctx context.Context, id, to, note string) (mailbox.SendResult, error)
	CreateDraft(ctx context.Context, to, subject, body string) (mailbox.DraftResult, error)
	MarkRead(ctx context.Context, id string) error
	MarkUnread(ctx context.Context, id string) error
	Star(ctx context.Context, id string) error
	Unstar(ctx context.Context, id string) error
	Archive(ctx context.Context, id string) (mailbox.ArchiveResult, error)
	Delete(ctx context.Context, id string) error
	ExtractContacts(ctx context.Context, limit int) ([]model.Contact, error)
	ScheduleSend(ctx context.Context, to, subject, body, when string) (mailbox.ScheduleResult, error)
	CountUnread(ctx context.Context) (int, error)
}

var _ Mailbox = (*mailbox.Adapter)(nil)

// Recorder persists tool activity.
type Recorder interface {
	RecordActivity(ctx context.Context, a store.Activity) error
	CreateScheduledDraft(ctx context.Context, d store.ScheduledDraft) error
}

// Option customizes a Registry.
type Option func(*Registry)

// WithRecorder records every invocation under sessionID.
func WithRecorder(r Recorder, sessionID string) Option {
	return func(reg *Registry) {
		reg.recorder = r
		reg.sessionID = sessionID
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(reg *Registry) { reg.logger = l }
}

// Registry executes tool calls against one mailbox.
type Registry struct {
	mb        Mailbox
	recorder  Recorder
	sessionID string
	logger    *slog.Logger
}

// NewRegistry creates a registry bound to mb.
func NewRegistry(mb Mailbox, opts ...Option) *Registry {
	r := &Registry{mb: mb, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Declarations returns every tool declaration.
func (r *Registry) Declarations() []llm.ToolDeclaration {
	return Declarations()
}

// Known reports whether name is a declared tool.
func (r *Registry) Known(name string) bool {
	return Known(name)
}

// Execute runs call and always returns a result: failures, including
// panics, become error results.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (res llm.ToolResult) {
	start := time.Now()
	res = llm.ToolResult{CallID: call.ID, Name: call.Name}

	defer func() {
		if p := recover(); p != nil {
			res.Payload = nil
			res.Err = fmt.Sprintf("tool %s failed unexpectedly: %v", call.Name, p)
			r.logger.ErrorContext(ctx, "tool panicked",
				"tool", call.Name, "panic", p)
		}
		r.record(ctx, call, res, time.Since(start))
	}()

	typed, err := Decode(call.Name, call.Args)
	if err != nil {
		res.Err = err.Error()
		return res
	}

	payload, err := r.run(ctx, typed)
	if err != nil {
		res.Err = err.Error()
		return res
	}

	data, err := json.Marshal(payload)
	if err != nil {
		res.Err = fmt.Sprintf("encoding %s result: %v", call.Name, err)
		return res
	}
	res.Payload = data
	return res
}

// run dispatches a typed call to the mailbox.
func (r *Registry) run(ctx context.Context, call Call) (any, error) {
	switch c := call.(type) {
	case FetchArgs:
		msgs, err := r.mb.Fetch(ctx, c.limit(), c.query())
		if err != nil {
			return nil, err
		}
		return messageList(msgs), nil

	case SearchArgs:
		msgs, err := r.mb.Search(ctx, mailbox.SearchCriteria{
			From:    c.Sender,
			Subject: c.Subject,
			Since:   c.Since,
			Until:   c.Until,
		})
		if err != nil {
			return nil, err
		}
		return messageList(msgs), nil

	case MessageArgs:
		return r.runMessage(ctx, c)

	case ComposeArgs:
		if c.Name == CreateDraft {
			draft, err := r.mb.CreateDraft(ctx, c.To, c.Subject, c.Body)
			if err != nil {
				return nil, err
			}
			return statusPayload{Status: "draft_saved", Result: draft}, nil
		}
		sent, err := r.mb.Send(ctx, c.To, c.Subject, c.Body)
		if err != nil {
			return nil, err
		}
		return statusPayload{Status: "sent", Result: sent}, nil

	case ReplyArgs:
		sent, err := r.mb.Reply(ctx, c.EmailID, c.Body)
		if err != nil {
			return nil, err
		}
		return statusPayload{Status: "sent", EmailID: c.EmailID, Result: sent}, nil

	case ForwardArgs:
		sent, err := r.mb.Forward(ctx, c.EmailID, c.To, c.Note)
		if err != nil {
			return nil, err
		}
		return statusPayload{Status: "sent", EmailID: c.EmailID, Result: sent}, nil

	case ContactsArgs:
		contacts, err := r.mb.ExtractContacts(ctx, c.limit())
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": len(contacts), "contacts": contacts}, nil

	case ScheduleArgs:
		res, err := r.mb.ScheduleSend(ctx, c.To, c.Subject, c.Body, c.SendTime)
		if err != nil {
			return nil, err
		}
		r.recordScheduled(ctx, c, res)
		return res, nil

	case CountArgs:
		n, err := r.mb.CountUnread(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"unread": n}, nil

	default:
		return nil, &UnknownToolError{Name: string(call.Tool())}
	}
}

func (r *Registry) runMessage(ctx context.Context, c MessageArgs) (any, error) {
	id := c.EmailID

	var err error
	switch c.Name {
	case GetEmailDetails:
		msg, err := r.mb.GetDetails(ctx, id)
		if err != nil {
			return nil, err
		}
		return msg, nil
	case ArchiveEmail:
		res, err := r.mb.Archive(ctx, id)
		if err != nil {
			return nil, err
		}
		status := "archived"
		if res.Deleted {
			status = "deleted"
		}
		return statusPayload{Status: status, EmailID: id, Result: res}, nil
	case MarkAsRead:
		err = r.mb.MarkRead(ctx, id)
	case MarkAsUnread:
		err = r.mb.MarkUnread(ctx, id)
	case StarEmail:
		err = r.mb.Star(ctx, id)
	case UnstarEmail:
		err = r.mb.Unstar(ctx, id)
	case DeleteEmail:
		err = r.mb.Delete(ctx, id)
	default:
		return nil, &UnknownToolError{Name: string(c.Name)}
	}
	if err != nil {
		return nil, err
	}

	return statusPayload{Status: "ok", EmailID: id, Action: string(c.Name)}, nil
}

type statusPayload struct {
	Status  string `json:"status"`
	EmailID string `json:"email_id,omitempty"`
	Action  string `json:"action,omitempty"`
	Result  any    `json:"result,omitempty"`
}

func messageList(msgs []model.Message) map[string]any {
	if msgs == nil {
		msgs = []model.Message{}
	}
	return map[string]any{"count": len(msgs), "emails": msgs}
}

func (r *Registry) record(
	ctx context.Context, call llm.ToolCall, res llm.ToolResult, elapsed time.Duration,
) {
	outcome := store.OutcomeOK
	if res.IsError() {
		outcome = store.OutcomeError
		r.logger.WarnContext(ctx, "tool failed",
			"tool", call.Name, "error", res.Err)
	} else {
		r.logger.DebugContext(ctx, "tool executed",
			"tool", call.Name, "duration", elapsed)
	}

	if r.recorder == nil {
		return
	}

	args, err := json.Marshal(call.Args)
	if err != nil || call.Args == nil {
		args = []byte("{}")
	}

	if err := r.recorder.RecordActivity(ctx, store.Activity{
		SessionID:  r.sessionID,
		Tool:       call.Name,
		Args:       string(args),
		Outcome:    outcome,
		Error:      res.Err,
		DurationMS: elapsed.Milliseconds(),
	}); err != nil {
		r.logger.WarnContext(ctx, "recording activity", "error", err)
	}
}

func (r *Registry) recordScheduled(
	ctx context.Context, c ScheduleArgs, res mailbox.ScheduleResult,
) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.CreateScheduledDraft(ctx, store.ScheduledDraft{
		SessionID: r.sessionID,
		To:        c.To,
		Subject:   c.Subject,
		SendAt:    c.SendTime,
		Mailbox:   res.Draft.Mailbox,
		DraftUID:  res.Draft.UID,
	}); err != nil {
		r.logger.WarnContext(ctx, "recording scheduled draft", "error", err)
	}
}
