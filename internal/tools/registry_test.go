package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-assistant/internal/llm"
	"github.com/nhle/mail-assistant/internal/mailbox"
	"github.com/nhle/mail-assistant/internal/model"
	"github.com/nhle/mail-assistant/internal/store"
)

type fakeMailbox struct {
	calls []string

	fetchLimit int
	fetchQuery string
	criteria   mailbox.SearchCriteria
	flagged    []string
	archive    mailbox.ArchiveResult
	err        error
	panicOn    string
}

var _ Mailbox = (*fakeMailbox)(nil)

func (f *fakeMailbox) hit(op string) error {
	f.calls = append(f.calls, op)
	if f.panicOn == op {
		panic("boom")
	}
	return f.err
}

func (f *fakeMailbox) Fetch(_ context.Context, limit int, query string) ([]model.Message, error) {
	f.fetchLimit, f.fetchQuery = limit, query
	if err := f.hit("fetch"); err != nil {
		return nil, err
	}
	return []model.Message{{ID: "2", Subject: "b"}, {ID: "1", Subject: "a"}}, nil
}

func (f *fakeMailbox) Search(_ context.Context, c mailbox.SearchCriteria) ([]model.Message, error) {
	f.criteria = c
	return nil, f.hit("search")
}

func (f *fakeMailbox) GetDetails(_ context.Context, id string) (model.Message, error) {
	if err := f.hit("details"); err != nil {
		return model.Message{}, err
	}
	return model.Message{ID: id, Subject: "hello", Body: "full body"}, nil
}

func (f *fakeMailbox) Send(_ context.Context, to, subject, _ string) (mailbox.SendResult, error) {
	return mailbox.SendResult{To: []string{to}, Subject: subject}, f.hit("send")
}

func (f *fakeMailbox) Reply(_ context.Context, id, _ string) (mailbox.SendResult, error) {
	return mailbox.SendResult{Subject: "Re: " + id}, f.hit("reply")
}

func (f *fakeMailbox) Forward(_ context.Context, id, to, _ string) (mailbox.SendResult, error) {
	return mailbox.SendResult{To: []string{to}}, f.hit("forward")
}

func (f *fakeMailbox) CreateDraft(_ context.Context, _, subject, _ string) (mailbox.DraftResult, error) {
	return mailbox.DraftResult{Mailbox: "Drafts", UID: "3", Subject: subject}, f.hit("draft")
}

func (f *fakeMailbox) MarkRead(_ context.Context, id string) error {
	f.flagged = append(f.flagged, "read:"+id)
	return f.hit("read")
}

func (f *fakeMailbox) MarkUnread(_ context.Context, id string) error {
	f.flagged = append(f.flagged, "unread:"+id)
	return f.hit("unread")
}

func (f *fakeMailbox) Star(_ context.Context, id string) error {
	f.flagged = append(f.flagged, "star:"+id)
	return f.hit("star")
}

func (f *fakeMailbox) Unstar(_ context.Context, id string) error {
	f.flagged = append(f.flagged, "unstar:"+id)
	return f.hit("unstar")
}

func (f *fakeMailbox) Archive(_ context.Context, _ string) (mailbox.ArchiveResult, error) {
	return f.archive, f.hit("archive")
}

func (f *fakeMailbox) Delete(_ context.Context, _ string) error {
	return f.hit("delete")
}

func (f *fakeMailbox) ExtractContacts(_ context.Context, limit int) ([]model.Contact, error) {
	f.fetchLimit = limit
	return []model.Contact{{Name: "Ann", Address: "ann@example.com"}}, f.hit("contacts")
}

func (f *fakeMailbox) ScheduleSend(_ context.Context, _, _, _, when string) (mailbox.ScheduleResult, error) {
	return mailbox.ScheduleResult{
		SendAt: when,
		Note:   "note",
		Draft:  mailbox.DraftResult{Mailbox: "Drafts", UID: "9"},
	}, f.hit("schedule")
}

func (f *fakeMailbox) CountUnread(_ context.Context) (int, error) {
	return 4, f.hit("count")
}

type memRecorder struct {
	activity []store.Activity
	drafts   []store.ScheduledDraft
}

func (m *memRecorder) RecordActivity(_ context.Context, a store.Activity) error {
	m.activity = append(m.activity, a)
	return nil
}

func (m *memRecorder) CreateScheduledDraft(_ context.Context, d store.ScheduledDraft) error {
	m.drafts = append(m.drafts, d)
	return nil
}

func execute(t *testing.T, r *Registry, name string, args map[string]any) map[string]any {
	t.Helper()
	res := r.Execute(context.Background(), llm.ToolCall{ID: "c1", Name: name, Args: args})
	require.False(t, res.IsError(), res.Err)
	assert.Equal(t, "c1", res.CallID)
	assert.Equal(t, name, res.Name)

	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Payload, &out))
	return out
}

func TestEveryDeclaredToolDecodes(t *testing.T) {
	args := map[string]any{
		"email_id":  "5",
		"to_email":  "a@example.com",
		"body":      "b",
		"send_time": "tomorrow",
	}
	for _, d := range Declarations() {
		call, err := Decode(d.Name, args)
		require.NoError(t, err, d.Name)
		assert.Equal(t, Name(d.Name), call.Tool())
	}
	assert.Len(t, Declarations(), 16)
}

func TestDecodeUnknownTool(t *testing.T) {
	_, err := Decode("launch_rockets", nil)

	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "launch_rockets", unknown.Name)
	assert.False(t, Known("launch_rockets"))
}

func TestDecodeNormalizesIDs(t *testing.T) {
	call, err := Decode(string(GetEmailDetails), map[string]any{"email_id": float64(42)})
	require.NoError(t, err)
	assert.Equal(t, "42", call.(MessageArgs).EmailID)

	call, err = Decode(string(FetchEmails), map[string]any{"limit": "3"})
	require.NoError(t, err)
	assert.Equal(t, 3, call.(FetchArgs).limit())
}

func TestDecodeMissingRequired(t *testing.T) {
	_, err := Decode(string(ReplyToEmail), map[string]any{"body": "hi"})

	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Contains(t, err.Error(), "email_id is required")
}

func TestFetchDefaults(t *testing.T) {
	mb := &fakeMailbox{}
	out := execute(t, NewRegistry(mb), string(FetchEmails), nil)

	assert.Equal(t, defaultFetchLimit, mb.fetchLimit)
	assert.Equal(t, "ALL", mb.fetchQuery)
	assert.Equal(t, float64(2), out["count"])
}

func TestSearchMapsCriteria(t *testing.T) {
	mb := &fakeMailbox{}
	out := execute(t, NewRegistry(mb), string(SearchEmails), map[string]any{
		"sender": "alice", "since": "2025-01-01",
	})

	assert.Equal(t, mailbox.SearchCriteria{From: "alice", Since: "2025-01-01"}, mb.criteria)
	assert.Equal(t, float64(0), out["count"])
	assert.Equal(t, []any{}, out["emails"])
}

func TestFlagTools(t *testing.T) {
	mb := &fakeMailbox{}
	r := NewRegistry(mb)

	for _, name := range []Name{MarkAsRead, MarkAsUnread, StarEmail, UnstarEmail} {
		out := execute(t, r, string(name), map[string]any{"email_id": 7})
		assert.Equal(t, "ok", out["status"])
		assert.Equal(t, "7", out["email_id"])
	}
	assert.Equal(t, []string{"read:7", "unread:7", "star:7", "unstar:7"}, mb.flagged)
}

func TestArchiveReportsFallbackDeletion(t *testing.T) {
	mb := &fakeMailbox{archive: mailbox.ArchiveResult{Deleted: true}}
	out := execute(t, NewRegistry(mb), string(ArchiveEmail), map[string]any{"email_id": "7"})

	assert.Equal(t, "deleted", out["status"])
	result := out["result"].(map[string]any)
	assert.Equal(t, false, result["archived"])
	assert.Equal(t, true, result["deleted"])
}

func TestMailboxErrorBecomesResult(t *testing.T) {
	mb := &fakeMailbox{err: &mailbox.NotFoundError{ID: "9"}}
	res := NewRegistry(mb).Execute(context.Background(), llm.ToolCall{
		Name: string(GetEmailDetails), Args: map[string]any{"email_id": "9"},
	})

	assert.True(t, res.IsError())
	assert.Equal(t, "message 9 not found", res.Err)
	assert.Nil(t, res.Payload)
}

func TestPanicBecomesResult(t *testing.T) {
	mb := &fakeMailbox{panicOn: "count"}
	rec := &memRecorder{}
	res := NewRegistry(mb, WithRecorder(rec, "s1")).Execute(
		context.Background(), llm.ToolCall{Name: string(CountUnread)},
	)

	assert.True(t, res.IsError())
	assert.Contains(t, res.Err, "failed unexpectedly")
	require.Len(t, rec.activity, 1)
	assert.Equal(t, store.OutcomeError, rec.activity[0].Outcome)
}

func TestRecorderReceivesActivityAndDrafts(t *testing.T) {
	mb := &fakeMailbox{}
	rec := &memRecorder{}
	r := NewRegistry(mb, WithRecorder(rec, "s1"))

	out := execute(t, r, string(ScheduleSend), map[string]any{
		"to_email": "bob@example.com", "subject": "s", "body": "b", "send_time": "Friday 9am",
	})
	assert.Equal(t, false, out["scheduled"])

	require.Len(t, rec.activity, 1)
	assert.Equal(t, "s1", rec.activity[0].SessionID)
	assert.Equal(t, string(ScheduleSend), rec.activity[0].Tool)
	assert.Equal(t, store.OutcomeOK, rec.activity[0].Outcome)
	assert.Contains(t, rec.activity[0].Args, "bob@example.com")

	require.Len(t, rec.drafts, 1)
	assert.Equal(t, "Friday 9am", rec.drafts[0].SendAt)
	assert.Equal(t, "9", rec.drafts[0].DraftUID)
}

func TestCountUnread(t *testing.T) {
	out := execute(t, NewRegistry(&fakeMailbox{}), string(CountUnread), nil)
	assert.Equal(t, float64(4), out["unread"])
}

func TestUnknownToolExecute(t *testing.T) {
	res := NewRegistry(&fakeMailbox{}).Execute(context.Background(), llm.ToolCall{Name: "nope"})
	assert.True(t, res.IsError())
	assert.Contains(t, res.Err, `unknown tool "nope"`)
}
