package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mail-assistant/internal/model"
)

// outgoing is a plain-text message ready to be rendered.
type outgoing struct {
	From       string
	To         []*mail.Address
	Subject    string
	Body       string
	InReplyTo  []string
	References []string
}

// rendered is the wire form of an outgoing message.
type rendered struct {
	Data       []byte
	MessageID  string
	Recipients []string
}

// parseRecipients parses a comma-separated address list.
func parseRecipients(to string) ([]*mail.Address, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, fmt.Errorf("no recipient given")
	}
	addrs, err := mail.ParseAddressList(to)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no recipient given")
	}
	return addrs, nil
}

// render builds the RFC 5322 form of o, generating a Message-ID.
func (o outgoing) render(now time.Time) (*rendered, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: o.From}})
	h.SetAddressList("To", o.To)
	h.SetSubject(o.Subject)

	if err := h.GenerateMessageIDWithHostname(hostOf(o.From)); err != nil {
		return nil, fmt.Errorf("generating Message-ID: %w", err)
	}
	if len(o.InReplyTo) > 0 {
		h.SetMsgIDList("In-Reply-To", o.InReplyTo)
	}
	if len(o.References) > 0 {
		h.SetMsgIDList("References", o.References)
	}

	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, o.Body); err != nil {
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message body: %w", err)
	}

	messageID, _ := h.MessageID()

	rcpts := make([]string, 0, len(o.To))
	for _, a := range o.To {
		rcpts = append(rcpts, a.Address)
	}

	return &rendered{
		Data:       buf.Bytes(),
		MessageID:  messageID,
		Recipients: rcpts,
	}, nil
}

func hostOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

// ReplySubject prefixes subject with "Re: " unless it already carries a
// reply prefix.
func ReplySubject(subject string) string {
	if hasPrefixFold(strings.TrimSpace(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// ForwardSubject prefixes subject with "Fwd: " unless it already carries a
// forward prefix ("Fwd:" or "Fw:").
func ForwardSubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if hasPrefixFold(trimmed, "fwd:") || hasPrefixFold(trimmed, "fw:") {
		return subject
	}
	return "Fwd: " + subject
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// threadReferences returns the References chain for a response to orig.
func threadReferences(orig model.Message) []string {
	refs := append([]string(nil), orig.References...)
	if orig.MessageID != "" {
		refs = append(refs, orig.MessageID)
	}
	return refs
}

// replyRecipient picks Reply-To over From.
func replyRecipient(orig model.Message) string {
	if orig.ReplyTo != "" {
		return orig.ReplyTo
	}
	return orig.Sender
}

// replyRecipients returns the addresses a reply goes to. Addresses parsed
// from the raw headers are used as is; the decoded display strings are
// parsed only when none were found.
func replyRecipients(orig model.Message) ([]*mail.Address, error) {
	if len(orig.ReplyAddresses) == 0 {
		return parseRecipients(replyRecipient(orig))
	}
	out := make([]*mail.Address, 0, len(orig.ReplyAddresses))
	for _, c := range orig.ReplyAddresses {
		out = append(out, &mail.Address{Name: c.Name, Address: c.Address})
	}
	return out, nil
}

// forwardBody quotes orig below note.
func forwardBody(note string, orig model.Message) string {
	var sb strings.Builder
	if note = strings.TrimSpace(note); note != "" {
		sb.WriteString(note)
		sb.WriteString("\n\n")
	}
	sb.WriteString("---------- Forwarded message ---------\n")
	fmt.Fprintf(&sb, "From: %s\n", orig.Sender)
	if orig.Date != "" {
		fmt.Fprintf(&sb, "Date: %s\n", orig.Date)
	}
	fmt.Fprintf(&sb, "Subject: %s\n", orig.Subject)
	if orig.To != "" {
		fmt.Fprintf(&sb, "To: %s\n", orig.To)
	}
	if len(orig.Attachments) > 0 {
		fmt.Fprintf(
			&sb, "Attachments (not forwarded): %s\n",
			strings.Join(orig.Attachments, ", "),
		)
	}
	sb.WriteString("\n")
	sb.WriteString(orig.Body)
	return sb.String()
}

// scheduleNote is appended to scheduled-send drafts. The mailbox has no
// deferred-send primitive, so the draft must be sent by hand.
func scheduleNote(when string) string {
	return fmt.Sprintf(
		"[Scheduled send requested for %s] Automatic scheduled sending is "+
			"not supported by this mailbox; send this draft manually at the "+
			"requested time.",
		when,
	)
}
