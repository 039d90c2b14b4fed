package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mail-assistant/internal/model"
)

// Config describes one mailbox account.
type Config struct {
	IMAP     Endpoint
	SMTP     Endpoint
	Username string
	Password string
	Timeout  time.Duration

	Mailbox               string
	DraftsMailbox         string
	ArchiveMailboxes      []string
	ArchiveFallbackDelete bool
}

// ConfigFromModel builds a Config from application settings and account
// credentials.
func ConfigFromModel(mc model.MailConfig, username, password string) Config {
	return Config{
		IMAP: Endpoint{
			Host:     mc.IMAPHost,
			Port:     mc.IMAPPort,
			Security: ParseSecurity(mc.IMAPSecurity),
		},
		SMTP: Endpoint{
			Host:     mc.SMTPHost,
			Port:     mc.SMTPPort,
			Security: ParseSecurity(mc.SMTPSecurity),
		},
		Username:              username,
		Password:              password,
		Timeout:               mc.Timeout(),
		Mailbox:               mc.Mailbox,
		DraftsMailbox:         mc.DraftsMailbox,
		ArchiveMailboxes:      mc.ArchiveMailboxes,
		ArchiveFallbackDelete: mc.ArchiveFallbackDelete,
	}
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithSender replaces the SMTP sender.
func WithSender(s Sender) Option {
	return func(a *Adapter) { a.sender = s }
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithClock overrides the time source used for Date headers.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// Adapter performs mailbox operations for one account. It is safe for
// concurrent use; every call opens its own connection.
type Adapter struct {
	cfg    Config
	imap   *IMAPClient
	sender Sender
	logger *slog.Logger
	now    func() time.Time
}

// NewAdapter creates an adapter for cfg.
func NewAdapter(cfg Config, opts ...Option) *Adapter {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.DraftsMailbox == "" {
		cfg.DraftsMailbox = "Drafts"
	}

	a := &Adapter{
		cfg:  cfg,
		imap: NewIMAPClient(cfg.IMAP, cfg.Username, cfg.Password, cfg.Timeout),
		sender: NewSMTPSender(SMTPConfig{
			Endpoint: cfg.SMTP,
			Username: cfg.Username,
			Password: cfg.Password,
			Timeout:  cfg.Timeout,
		}),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Address is the account address used as the From of outgoing mail.
func (a *Adapter) Address() string {
	return a.cfg.Username
}

// Verify checks the credentials by logging in and selecting the mailbox.
func (a *Adapter) Verify(ctx context.Context) error {
	return a.imap.withMailbox(ctx, a.cfg.Mailbox, true,
		func(*imapclient.Client) error { return nil },
	)
}

// Fetch returns the most recent limit messages, newest first. A query other
// than "ALL" filters by subject; when the filtered search fails or matches
// nothing the unfiltered set is used.
func (a *Adapter) Fetch(
	ctx context.Context, limit int, query string,
) ([]model.Message, error) {
	if limit <= 0 {
		return []model.Message{}, nil
	}

	var raws []rawMessage
	err := a.imap.withMailbox(ctx, a.cfg.Mailbox, true,
		func(client *imapclient.Client) error {
			var uids []imap.UID
			if criteria := subjectCriteria(query); criteria != nil {
				filtered, err := searchUIDs(client, criteria)
				if err == nil {
					uids = filtered
				}
			}
			if len(uids) == 0 {
				all, err := searchUIDs(client, nil)
				if err != nil {
					return err
				}
				uids = all
			}

			var err error
			raws, err = fetchRaw(client, newestFirst(uids, limit))
			return err
		},
	)
	if err != nil {
		return nil, transportErr("fetching messages", err)
	}

	return decodeAll(raws, PreviewLength), nil
}

// Search returns up to SearchLimit messages matching every set filter,
// newest first.
func (a *Adapter) Search(
	ctx context.Context, c SearchCriteria,
) ([]model.Message, error) {
	criteria, err := c.Build()
	if err != nil {
		return nil, err
	}

	var raws []rawMessage
	err = a.imap.withMailbox(ctx, a.cfg.Mailbox, true,
		func(client *imapclient.Client) error {
			uids, err := searchUIDs(client, criteria)
			if err != nil {
				return err
			}
			raws, err = fetchRaw(client, newestFirst(uids, SearchLimit))
			return err
		},
	)
	if err != nil {
		return nil, transportErr("searching messages", err)
	}

	return decodeAll(raws, PreviewLength), nil
}

// GetDetails returns one message with its body bounded by DetailLength.
func (a *Adapter) GetDetails(
	ctx context.Context, id string,
) (model.Message, error) {
	uid, err := ParseID(id)
	if err != nil {
		return model.Message{}, err
	}

	var raws []rawMessage
	err = a.imap.withMailbox(ctx, a.cfg.Mailbox, true,
		func(client *imapclient.Client) error {
			var err error
			raws, err = fetchRaw(client, []imap.UID{uid})
			return err
		},
	)
	if err != nil {
		return model.Message{}, transportErr("fetching message "+id, err)
	}
	if len(raws) == 0 {
		return model.Message{}, &NotFoundError{ID: id}
	}

	return decodeAll(raws, DetailLength)[0], nil
}

// SendResult describes a delivered message.
type SendResult struct {
	MessageID string   `json:"message_id"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
}

// Send composes a plain-text message and submits it over SMTP.
func (a *Adapter) Send(
	ctx context.Context, to, subject, body string,
) (SendResult, error) {
	rcpts, err := parseRecipients(to)
	if err != nil {
		return SendResult{}, err
	}
	return a.deliver(ctx, outgoing{
		From:    a.cfg.Username,
		To:      rcpts,
		Subject: subject,
		Body:    body,
	})
}

func (a *Adapter) deliver(ctx context.Context, o outgoing) (SendResult, error) {
	r, err := o.render(a.now())
	if err != nil {
		return SendResult{}, err
	}
	if err := a.sender.Send(ctx, o.From, r.Recipients, r.Data); err != nil {
		return SendResult{}, transportErr("sending message", err)
	}
	return SendResult{
		MessageID: r.MessageID,
		To:        r.Recipients,
		Subject:   o.Subject,
	}, nil
}

// Reply answers message id, threading it under the original. \Answered is
// set on the original once the reply is accepted; failure to set it is
// logged and does not fail the reply.
func (a *Adapter) Reply(
	ctx context.Context, id, body string,
) (SendResult, error) {
	orig, err := a.GetDetails(ctx, id)
	if err != nil {
		return SendResult{}, err
	}

	rcpts, err := replyRecipients(orig)
	if err != nil {
		return SendResult{}, fmt.Errorf("replying to %s: %w", id, err)
	}

	o := outgoing{
		From:       a.cfg.Username,
		To:         rcpts,
		Subject:    ReplySubject(orig.Subject),
		Body:       body,
		References: threadReferences(orig),
	}
	if orig.MessageID != "" {
		o.InReplyTo = []string{orig.MessageID}
	}

	res, err := a.deliver(ctx, o)
	if err != nil {
		return SendResult{}, err
	}

	uid, _ := ParseID(id)
	if err := a.imap.withMailbox(ctx, a.cfg.Mailbox, false,
		func(client *imapclient.Client) error {
			return storeFlags(client, uid, []imap.Flag{imap.FlagAnswered}, true)
		},
	); err != nil {
		a.logger.WarnContext(ctx, "setting answered flag",
			"id", id, "error", err)
	}

	return res, nil
}

// Forward sends message id to new recipients with note above the quoted
// original.
func (a *Adapter) Forward(
	ctx context.Context, id, to, note string,
) (SendResult, error) {
	rcpts, err := parseRecipients(to)
	if err != nil {
		return SendResult{}, err
	}

	orig, err := a.GetDetails(ctx, id)
	if err != nil {
		return SendResult{}, err
	}

	o := outgoing{
		From:       a.cfg.Username,
		To:         rcpts,
		Subject:    ForwardSubject(orig.Subject),
		Body:       forwardBody(note, orig),
		References: threadReferences(orig),
	}
	return a.deliver(ctx, o)
}

// DraftResult locates a stored draft.
type DraftResult struct {
	Mailbox   string `json:"mailbox"`
	UID       string `json:"uid,omitempty"`
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
}

// CreateDraft stores a composed message in the drafts mailbox with the
// \Draft flag.
func (a *Adapter) CreateDraft(
	ctx context.Context, to, subject, body string,
) (DraftResult, error) {
	rcpts, err := parseRecipients(to)
	if err != nil {
		return DraftResult{}, err
	}

	now := a.now()
	r, err := outgoing{
		From:    a.cfg.Username,
		To:      rcpts,
		Subject: subject,
		Body:    body,
	}.render(now)
	if err != nil {
		return DraftResult{}, err
	}

	uid, err := a.imap.Append(
		ctx, a.cfg.DraftsMailbox, r.Data,
		[]imap.Flag{imap.FlagDraft, imap.FlagSeen}, now,
	)
	if err != nil {
		return DraftResult{}, transportErr("saving draft", err)
	}

	res := DraftResult{
		Mailbox:   a.cfg.DraftsMailbox,
		MessageID: r.MessageID,
		Subject:   subject,
	}
	if uid != 0 {
		res.UID = FormatID(uid)
	}
	return res, nil
}

// setFlag verifies id exists and adds or removes flag.
func (a *Adapter) setFlag(
	ctx context.Context, id string, flag imap.Flag, add bool,
) error {
	uid, err := ParseID(id)
	if err != nil {
		return err
	}

	err = a.imap.withMailbox(ctx, a.cfg.Mailbox, false,
		func(client *imapclient.Client) error {
			if err := requireUID(client, uid); err != nil {
				return err
			}
			return storeFlags(client, uid, []imap.Flag{flag}, add)
		},
	)
	return transportErr("updating flags on "+id, err)
}

// MarkRead sets \Seen.
func (a *Adapter) MarkRead(ctx context.Context, id string) error {
	return a.setFlag(ctx, id, imap.FlagSeen, true)
}

// MarkUnread clears \Seen.
func (a *Adapter) MarkUnread(ctx context.Context, id string) error {
	return a.setFlag(ctx, id, imap.FlagSeen, false)
}

// Star sets \Flagged.
func (a *Adapter) Star(ctx context.Context, id string) error {
	return a.setFlag(ctx, id, imap.FlagFlagged, true)
}

// Unstar clears \Flagged.
func (a *Adapter) Unstar(ctx context.Context, id string) error {
	return a.setFlag(ctx, id, imap.FlagFlagged, false)
}

// ArchiveResult reports how a message left the inbox.
type ArchiveResult struct {
	Archived bool   `json:"archived"`
	Deleted  bool   `json:"deleted"`
	Mailbox  string `json:"mailbox,omitempty"`
}

// Archive moves id to the first archive mailbox that accepts it. When none
// does and fallback deletion is enabled, the message is deleted instead.
func (a *Adapter) Archive(
	ctx context.Context, id string,
) (ArchiveResult, error) {
	uid, err := ParseID(id)
	if err != nil {
		return ArchiveResult{}, err
	}

	var res ArchiveResult
	err = a.imap.withMailbox(ctx, a.cfg.Mailbox, false,
		func(client *imapclient.Client) error {
			if err := requireUID(client, uid); err != nil {
				return err
			}

			uidSet := imap.UIDSetNum(uid)
			var lastErr error
			for _, folder := range a.cfg.ArchiveMailboxes {
				if folder == "" || strings.EqualFold(folder, a.cfg.Mailbox) {
					continue
				}
				if _, err := client.Move(uidSet, folder).Wait(); err != nil {
					lastErr = err
					continue
				}
				res = ArchiveResult{Archived: true, Mailbox: folder}
				return nil
			}

			if !a.cfg.ArchiveFallbackDelete {
				if lastErr == nil {
					lastErr = fmt.Errorf("no archive mailbox configured")
				}
				return &TransportError{Op: "archiving message " + id, Err: lastErr}
			}

			a.logger.WarnContext(ctx, "no archive mailbox accepted message, deleting",
				"id", id, "error", lastErr)
			if err := purge(client, uid); err != nil {
				return err
			}
			res = ArchiveResult{Deleted: true}
			return nil
		},
	)
	if err != nil {
		return ArchiveResult{}, transportErr("archiving message "+id, err)
	}
	return res, nil
}

// Delete permanently removes id.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	uid, err := ParseID(id)
	if err != nil {
		return err
	}

	err = a.imap.withMailbox(ctx, a.cfg.Mailbox, false,
		func(client *imapclient.Client) error {
			if err := requireUID(client, uid); err != nil {
				return err
			}
			return purge(client, uid)
		},
	)
	return transportErr("deleting message "+id, err)
}

// ExtractContacts collects distinct senders of the limit most recent
// messages.
func (a *Adapter) ExtractContacts(
	ctx context.Context, limit int,
) ([]model.Contact, error) {
	if limit <= 0 {
		return []model.Contact{}, nil
	}

	var froms []string
	err := a.imap.withMailbox(ctx, a.cfg.Mailbox, true,
		func(client *imapclient.Client) error {
			uids, err := searchUIDs(client, nil)
			if err != nil {
				return err
			}
			uids = newestFirst(uids, limit)

			fields, err := fetchHeaderField(client, uids, "From")
			if err != nil {
				return err
			}
			for _, uid := range uids {
				if block, ok := fields[uid]; ok {
					froms = append(froms, fromHeaderValue(block))
				}
			}
			return nil
		},
	)
	if err != nil {
		return nil, transportErr("extracting contacts", err)
	}

	return collectContacts(froms), nil
}

// ScheduleResult reports a scheduled-send request. Scheduled is always
// false: the message is saved as a draft carrying Note.
type ScheduleResult struct {
	Scheduled bool        `json:"scheduled"`
	SendAt    string      `json:"send_at"`
	Note      string      `json:"note"`
	Draft     DraftResult `json:"draft"`
}

// ScheduleSend saves the message as a draft annotated with the requested
// send time.
func (a *Adapter) ScheduleSend(
	ctx context.Context, to, subject, body, when string,
) (ScheduleResult, error) {
	note := scheduleNote(when)
	withNote := strings.TrimRight(body, "\n") + "\n\n" + note

	draft, err := a.CreateDraft(ctx, to, subject, withNote)
	if err != nil {
		return ScheduleResult{}, err
	}

	return ScheduleResult{
		Scheduled: false,
		SendAt:    when,
		Note:      note,
		Draft:     draft,
	}, nil
}

// CountUnread returns the number of messages without \Seen.
func (a *Adapter) CountUnread(ctx context.Context) (int, error) {
	var n int
	err := a.imap.withMailbox(ctx, a.cfg.Mailbox, true,
		func(client *imapclient.Client) error {
			uids, err := searchUIDs(client, &imap.SearchCriteria{
				NotFlag: []imap.Flag{imap.FlagSeen},
			})
			n = len(uids)
			return err
		},
	)
	if err != nil {
		return 0, transportErr("counting unread messages", err)
	}
	return n, nil
}
