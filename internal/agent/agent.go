// Package agent drives one user command through the model, executing the
// tool calls it requests until it answers in text or a bound is reached.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nhle/mail-assistant/internal/conversation"
	"github.com/nhle/mail-assistant/internal/llm"
	"github.com/nhle/mail-assistant/internal/model"
)

// State is a position of the loop.
type State string

const (
	StateAwaitingModel State = "awaiting_model"
	StateExecutingTool State = "executing_tool"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// ErrorKind classifies a failed run.
type ErrorKind string

const (
	KindNone           ErrorKind = ""
	KindModel          ErrorKind = "model_error"
	KindUnknownTool    ErrorKind = "unknown_tool"
	KindDegenerate     ErrorKind = "degenerate_response"
	KindIterationLimit ErrorKind = "iteration_limit"
)

// User-visible fallback replies.
const (
	FallbackIterationLimit = "I'm sorry, I couldn't complete that request within the allowed number of steps. " +
		"Please try rephrasing or breaking it into smaller requests."
	FallbackNoCandidate = "The assistant returned no response. Please try again."
	FallbackNoContent   = "The assistant returned an empty response. Please try again."
	FallbackEmptyParts  = "The assistant's response contained no usable content. Please try again."
)

const (
	DefaultMaxRounds    = 5
	DefaultRoundTimeout = 60 * time.Second
)

// ErrIterationLimit is reported when the model keeps calling tools past the
// round bound.
var ErrIterationLimit = errors.New("tool round limit reached")

// DegenerateResponseError reports a model reply without usable content.
type DegenerateResponseError struct {
	Reason string
}

func (e *DegenerateResponseError) Error() string {
	return "degenerate model response: " + e.Reason
}

// Tools executes the model's tool calls.
type Tools interface {
	Declarations() []llm.ToolDeclaration
	Known(name string) bool
	Execute(ctx context.Context, call llm.ToolCall) llm.ToolResult
}

// Result is the outcome of one Run.
type Result struct {
	Text      string    `json:"text"`
	State     State     `json:"state"`
	Rounds    int       `json:"rounds"`
	ToolCalls int       `json:"tool_calls"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Err       error     `json:"-"`
}

// Option customizes an Agent.
type Option func(*Agent)

// WithMaxRounds bounds the number of model rounds per command.
func WithMaxRounds(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxRounds = n
		}
	}
}

// WithHistoryWindow sets how many recent turns are sent to the model.
func WithHistoryWindow(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.window = n
		}
	}
}

// WithRoundTimeout bounds each model round trip.
func WithRoundTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.roundTimeout = d
		}
	}
}

// WithAccount names the mailbox owner in the system prompt.
func WithAccount(address string) Option {
	return func(a *Agent) { a.account = address }
}

// WithLogger sets the agent logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// Agent runs commands for one conversation. Callers serialize Run calls
// that share a history.
type Agent struct {
	model   llm.Model
	tools   Tools
	history conversation.History

	maxRounds    int
	window       int
	roundTimeout time.Duration
	account      string
	logger       *slog.Logger
	now          func() time.Time
}

// New creates an agent.
func New(m llm.Model, t Tools, h conversation.History, opts ...Option) *Agent {
	a := &Agent{
		model:        m,
		tools:        t,
		history:      h,
		maxRounds:    DefaultMaxRounds,
		window:       conversation.DefaultWindow,
		roundTimeout: DefaultRoundTimeout,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run drives command to a terminal state. The command and the produced
// text are always appended to the history.
func (a *Agent) Run(ctx context.Context, command string) Result {
	res := a.loop(ctx, command)
	conversation.AppendExchange(a.history, command, res.Text, a.now())

	a.logger.InfoContext(ctx, "agent run finished",
		"state", res.State,
		"rounds", res.Rounds,
		"tool_calls", res.ToolCalls,
		"error_kind", res.ErrorKind,
	)
	return res
}

func (a *Agent) loop(ctx context.Context, command string) Result {
	req := &llm.Request{
		System:   systemPrompt(a.account, a.now()),
		Contents: a.initialContents(command),
		Tools:    a.tools.Declarations(),
	}

	var res Result
	for res.Rounds < a.maxRounds {
		res.Rounds++
		res.State = StateAwaitingModel

		resp, err := a.generate(ctx, req)
		if err != nil {
			return a.fail(res, KindModel,
				fmt.Sprintf("AI Error (%s): %v", a.model.Name(), err), err)
		}

		content, err := usableContent(resp)
		if err != nil {
			var d *DegenerateResponseError
			errors.As(err, &d)
			return a.fail(res, KindDegenerate, d.Reason, err)
		}

		calls := content.ToolCalls()
		if len(calls) == 0 {
			res.State = StateDone
			res.Text = content.Text()
			return res
		}

		for _, call := range calls {
			if !a.tools.Known(call.Name) {
				return a.fail(res, KindUnknownTool,
					fmt.Sprintf("I tried to use an unknown tool (%s). Please try rephrasing your request.", call.Name),
					fmt.Errorf("model requested undeclared tool %q", call.Name))
			}
		}

		res.State = StateExecutingTool
		results := make([]llm.ToolResult, 0, len(calls))
		for _, call := range calls {
			results = append(results, a.tools.Execute(ctx, call))
			res.ToolCalls++
		}

		req.Contents = append(req.Contents, *content, llm.NewResultContent(results))
	}

	return a.fail(res, KindIterationLimit, FallbackIterationLimit, ErrIterationLimit)
}

func (a *Agent) generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, a.roundTimeout)
	defer cancel()
	return a.model.Generate(ctx, req)
}

func (a *Agent) fail(res Result, kind ErrorKind, text string, err error) Result {
	res.State = StateFailed
	res.ErrorKind = kind
	res.Text = text
	res.Err = err
	return res
}

// initialContents is the history window followed by the new command.
func (a *Agent) initialContents(command string) []llm.Content {
	turns := a.history.Window(a.window)
	contents := make([]llm.Content, 0, len(turns)+1)
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == model.RoleAssistant {
			role = llm.RoleModel
		}
		contents = append(contents, llm.NewTextContent(role, t.Text))
	}
	return append(contents, llm.NewTextContent(llm.RoleUser, command))
}

// usableContent returns the first candidate's content, classifying the
// three degenerate shapes.
func usableContent(resp *llm.Response) (*llm.Content, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &DegenerateResponseError{Reason: FallbackNoCandidate}
	}

	content := resp.Candidates[0].Content
	if content == nil {
		return nil, &DegenerateResponseError{Reason: FallbackNoContent}
	}

	if len(content.ToolCalls()) == 0 && strings.TrimSpace(content.Text()) == "" {
		return nil, &DegenerateResponseError{Reason: FallbackEmptyParts}
	}

	return content, nil
}
