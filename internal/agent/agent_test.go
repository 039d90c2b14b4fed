package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-assistant/internal/conversation"
	"github.com/nhle/mail-assistant/internal/llm"
	"github.com/nhle/mail-assistant/internal/model"
)

// scriptedModel replays canned responses, one per round.
type scriptedModel struct {
	steps    []step
	requests []llm.Request
}

type step struct {
	resp *llm.Response
	err  error
}

func (m *scriptedModel) Name() string { return "scripted-1" }

func (m *scriptedModel) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	snapshot := *req
	snapshot.Contents = append([]llm.Content(nil), req.Contents...)
	m.requests = append(m.requests, snapshot)

	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("round without deadline")
	}

	i := len(m.requests) - 1
	if i >= len(m.steps) {
		i = len(m.steps) - 1
	}
	return m.steps[i].resp, m.steps[i].err
}

func textReply(text string) step {
	c := llm.NewTextContent(llm.RoleModel, text)
	return step{resp: &llm.Response{Candidates: []llm.Candidate{{Content: &c}}}}
}

func callReply(calls ...llm.ToolCall) step {
	c := llm.Content{Role: llm.RoleModel}
	for i := range calls {
		c.Parts = append(c.Parts, llm.Part{Call: &calls[i]})
	}
	return step{resp: &llm.Response{Candidates: []llm.Candidate{{Content: &c}}}}
}

type fakeTools struct {
	executed []string
}

func (f *fakeTools) Declarations() []llm.ToolDeclaration {
	return []llm.ToolDeclaration{{Name: "count_unread"}, {Name: "fetch_emails"}}
}

func (f *fakeTools) Known(name string) bool {
	return name == "count_unread" || name == "fetch_emails"
}

func (f *fakeTools) Execute(_ context.Context, call llm.ToolCall) llm.ToolResult {
	f.executed = append(f.executed, call.Name)
	return llm.ToolResult{CallID: call.ID, Name: call.Name, Payload: []byte(`{"unread":3}`)}
}

var fixedNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newAgent(m llm.Model, t Tools, h conversation.History, opts ...Option) *Agent {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(m, t, h, opts...)
}

func TestDirectAnswer(t *testing.T) {
	m := &scriptedModel{steps: []step{textReply("Hello!")}}
	h := conversation.NewBuffer(0)

	res := newAgent(m, &fakeTools{}, h).Run(context.Background(), "hi")

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, "Hello!", res.Text)
	assert.Equal(t, 1, res.Rounds)
	assert.Zero(t, res.ToolCalls)
	assert.Equal(t, KindNone, res.ErrorKind)

	turns := h.All()
	require.Len(t, turns, 2)
	assert.Equal(t, model.Turn{Role: model.RoleUser, Text: "hi", At: fixedNow}, turns[0])
	assert.Equal(t, model.Turn{Role: model.RoleAssistant, Text: "Hello!", At: fixedNow}, turns[1])
}

func TestToolRoundTrip(t *testing.T) {
	m := &scriptedModel{steps: []step{
		callReply(llm.ToolCall{ID: "a", Name: "count_unread"}, llm.ToolCall{ID: "b", Name: "fetch_emails"}),
		textReply("You have 3 unread emails."),
	}}
	tools := &fakeTools{}

	res := newAgent(m, tools, conversation.NewBuffer(0)).Run(context.Background(), "how many unread?")

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 2, res.ToolCalls)
	assert.Equal(t, []string{"count_unread", "fetch_emails"}, tools.executed)

	require.Len(t, m.requests, 2)
	second := m.requests[1].Contents
	require.Len(t, second, 3)
	assert.Equal(t, llm.RoleModel, second[1].Role)
	results := second[2].Parts
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Result.CallID)
	assert.Equal(t, "b", results[1].Result.CallID)
}

func TestHistoryWindowIsSent(t *testing.T) {
	h := conversation.NewBuffer(0)
	for range 15 {
		conversation.AppendExchange(h, "q", "a", fixedNow)
	}
	m := &scriptedModel{steps: []step{textReply("ok")}}

	newAgent(m, &fakeTools{}, h).Run(context.Background(), "next")

	contents := m.requests[0].Contents
	require.Len(t, contents, conversation.DefaultWindow+1)
	assert.Equal(t, llm.RoleUser, contents[0].Role)
	assert.Equal(t, llm.RoleModel, contents[1].Role)
	assert.Equal(t, "next", contents[len(contents)-1].Text())
	assert.Contains(t, m.requests[0].System, "2025-03-14")
	assert.Len(t, m.requests[0].Tools, 2)
}

func TestIterationLimit(t *testing.T) {
	m := &scriptedModel{steps: []step{callReply(llm.ToolCall{Name: "count_unread"})}}
	h := conversation.NewBuffer(0)

	res := newAgent(m, &fakeTools{}, h, WithMaxRounds(3)).Run(context.Background(), "loop")

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, KindIterationLimit, res.ErrorKind)
	assert.Equal(t, FallbackIterationLimit, res.Text)
	assert.ErrorIs(t, res.Err, ErrIterationLimit)
	assert.Equal(t, 3, res.Rounds)
	assert.Len(t, m.requests, 3)
	assert.Equal(t, FallbackIterationLimit, h.All()[1].Text)
}

func TestUnknownToolStopsBeforeExecuting(t *testing.T) {
	m := &scriptedModel{steps: []step{callReply(
		llm.ToolCall{Name: "count_unread"},
		llm.ToolCall{Name: "launch_rockets"},
	)}}
	tools := &fakeTools{}

	res := newAgent(m, tools, conversation.NewBuffer(0)).Run(context.Background(), "go")

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, KindUnknownTool, res.ErrorKind)
	assert.Contains(t, res.Text, "unknown tool (launch_rockets)")
	assert.Empty(t, tools.executed)
}

func TestDegenerateResponses(t *testing.T) {
	empty := llm.Content{Role: llm.RoleModel}
	blank := llm.NewTextContent(llm.RoleModel, "  ")

	cases := []struct {
		name string
		resp *llm.Response
		want string
	}{
		{"nil response", nil, FallbackNoCandidate},
		{"no candidates", &llm.Response{}, FallbackNoCandidate},
		{"nil content", &llm.Response{Candidates: []llm.Candidate{{}}}, FallbackNoContent},
		{"no parts", &llm.Response{Candidates: []llm.Candidate{{Content: &empty}}}, FallbackEmptyParts},
		{"blank text", &llm.Response{Candidates: []llm.Candidate{{Content: &blank}}}, FallbackEmptyParts},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &scriptedModel{steps: []step{{resp: tc.resp}}}
			h := conversation.NewBuffer(0)

			res := newAgent(m, &fakeTools{}, h).Run(context.Background(), "x")

			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, KindDegenerate, res.ErrorKind)
			assert.Equal(t, tc.want, res.Text)

			var d *DegenerateResponseError
			assert.ErrorAs(t, res.Err, &d)
			assert.Equal(t, 2, h.Len())
		})
	}
}

func TestModelError(t *testing.T) {
	m := &scriptedModel{steps: []step{{err: errors.New("quota exceeded")}}}

	res := newAgent(m, &fakeTools{}, conversation.NewBuffer(0)).Run(context.Background(), "x")

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, KindModel, res.ErrorKind)
	assert.Equal(t, "AI Error (scripted-1): quota exceeded", res.Text)
}

func TestSystemPromptNamesAccount(t *testing.T) {
	p := systemPrompt("me@example.com", fixedNow)
	assert.Contains(t, p, "me@example.com")
	assert.Contains(t, p, "Friday, 2025-03-14")
}
