package mailbox

import (
	"bytes"
	"io"
	"mime"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mail-assistant/internal/model"
)

const (
	// PreviewLength bounds bodies in list views.
	PreviewLength = 200

	// DetailLength bounds bodies in detail views.
	DetailLength = 5000

	noSubject        = "No Subject"
	unknownSender    = "Unknown Sender"
	undecodableBody  = "(message body could not be decoded)"
	replacementRune  = "�"
	attachmentMarker = "attachment"
)

// wordDecoder decodes RFC 2047 encoded words using every charset
// go-message knows about. Importing charset also enables charset
// conversion of part bodies in message.Read.
var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// ParseMessage decodes raw into a Message. It never fails: every header or
// part that cannot be decoded is replaced by its raw value or a
// placeholder. bodyLimit bounds the body in runes.
func ParseMessage(id string, raw []byte, bodyLimit int) model.Message {
	msg := model.Message{
		ID:      id,
		Sender:  unknownSender,
		Subject: noSubject,
	}

	entity, _ := message.Read(bytes.NewReader(raw))
	if entity == nil {
		msg.Body = undecodableBody
		return msg
	}

	header := mail.Header{Header: entity.Header}

	msg.Subject = DecodeSubject(header.Get("Subject"))
	if from := decodeHeaderValue(header.Get("From")); from != "" {
		msg.Sender = from
	}
	msg.To = decodeHeaderValue(header.Get("To"))
	msg.ReplyTo = decodeHeaderValue(header.Get("Reply-To"))
	msg.ReplyAddresses = replyAddresses(header)
	msg.Date = formatDate(header)

	if id, err := header.MessageID(); err == nil {
		msg.MessageID = id
	}
	if refs, err := header.MsgIDList("References"); err == nil {
		msg.References = refs
	}

	body, attachments := extractContent(entity)
	msg.Body = truncateRunes(strings.TrimSpace(body), bodyLimit)
	msg.Attachments = attachments

	return msg
}

// withFlags annotates msg with IMAP flags.
func withFlags(msg model.Message, flags []imap.Flag) model.Message {
	for _, f := range flags {
		msg.Flags = append(msg.Flags, string(f))
	}
	msg.Unread = !slices.Contains(flags, imap.FlagSeen)
	return msg
}

// DecodeSubject decodes a possibly multi-segment RFC 2047 subject. Each
// segment is decoded with its declared charset and invalid bytes are
// replaced; any decoding fault yields the raw value, and a missing or blank
// subject yields "No Subject".
func DecodeSubject(raw string) string {
	raw = unfold(raw)
	if strings.TrimSpace(raw) == "" {
		return noSubject
	}

	decoded := decodeHeaderValue(raw)
	if strings.TrimSpace(decoded) == "" {
		return noSubject
	}
	return decoded
}

// decodeHeaderValue decodes encoded words in raw, falling back to the raw
// value when any segment cannot be decoded.
func decodeHeaderValue(raw string) string {
	raw = strings.TrimSpace(unfold(raw))
	if raw == "" {
		return ""
	}

	decoded, err := safeDecode(raw)
	if err != nil {
		return strings.ToValidUTF8(raw, replacementRune)
	}
	return strings.TrimSpace(strings.ToValidUTF8(decoded, replacementRune))
}

// safeDecode runs the word decoder, converting a panic from a broken
// charset implementation into an error.
func safeDecode(raw string) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = "", errDecodePanic
		}
	}()
	return wordDecoder.DecodeHeader(raw)
}

type decodeError string

func (e decodeError) Error() string { return string(e) }

const errDecodePanic = decodeError("header decoder panicked")

// unfold removes RFC 5322 line folding.
func unfold(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "")
	return strings.ReplaceAll(s, "\n", "")
}

// replyAddresses parses Reply-To, falling back to From. Encoded display
// names are decoded by the address parser, so they may contain any
// punctuation.
func replyAddresses(h mail.Header) []model.Contact {
	for _, field := range []string{"Reply-To", "From"} {
		addrs, err := h.AddressList(field)
		if err != nil || len(addrs) == 0 {
			continue
		}
		out := make([]model.Contact, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, model.Contact{Name: a.Name, Address: a.Address})
		}
		return out
	}
	return nil
}

func formatDate(h mail.Header) string {
	if t, err := h.Date(); err == nil && !t.IsZero() {
		return t.Format(time.RFC1123Z)
	}
	return strings.TrimSpace(h.Get("Date"))
}

// extractContent walks entity depth-first and returns the first text/plain
// body (falling back to stripped HTML) and attachment filenames in
// encounter order.
func extractContent(entity *message.Entity) (string, []string) {
	var (
		plain, html         string
		havePlain, haveHTML bool
		attachments         []string
	)

	walkErr := entity.Walk(func(path []int, part *message.Entity, err error) error {
		// Unknown charsets and transfer encodings still yield a part whose
		// body reads as raw bytes.
		if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
			return err
		}
		if part == nil {
			return nil
		}

		mediaType := contentType(part)
		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}

		if name, ok := attachmentName(part); ok {
			attachments = append(attachments, name)
			return nil
		}

		switch {
		case mediaType == "text/plain" && !havePlain:
			plain, havePlain = readBody(part), true
		case mediaType == "text/html" && !haveHTML:
			html, haveHTML = readBody(part), true
		case len(path) == 0 && !havePlain:
			// Single-part message of another type: decode the payload.
			plain, havePlain = readBody(part), true
		}
		return nil
	})

	switch {
	case havePlain:
		return plain, attachments
	case haveHTML:
		if html == undecodableBody {
			return html, attachments
		}
		return stripHTML(html), attachments
	case walkErr != nil:
		return undecodableBody, attachments
	default:
		return "", attachments
	}
}

// contentType returns the lower-cased media type, treating a missing or
// malformed header as text/plain.
func contentType(part *message.Entity) string {
	if strings.TrimSpace(part.Header.Get("Content-Type")) == "" {
		return "text/plain"
	}
	t, _, err := part.Header.ContentType()
	if err != nil || t == "" {
		return "text/plain"
	}
	return strings.ToLower(t)
}

// attachmentName reports whether part is an attachment: its disposition
// contains the attachment marker and it carries a filename.
func attachmentName(part *message.Entity) (string, bool) {
	disposition := strings.ToLower(part.Header.Get("Content-Disposition"))
	if !strings.Contains(disposition, attachmentMarker) {
		return "", false
	}

	name := ""
	if _, params, err := part.Header.ContentDisposition(); err == nil {
		name = params["filename"]
	}
	if name == "" {
		if _, params, err := part.Header.ContentType(); err == nil {
			name = params["name"]
		}
	}
	if name == "" {
		name = rawParam(part.Header.Get("Content-Disposition"), "filename")
	}

	name = decodeHeaderValue(name)
	if name == "" {
		return "", false
	}
	return name, true
}

var paramPattern = regexp.MustCompile(`(?i)\b([a-z*0-9]+)\s*=\s*"?([^";]*)"?`)

// rawParam scans a header value for param when strict parsing fails.
func rawParam(value, param string) string {
	for _, m := range paramPattern.FindAllStringSubmatch(value, -1) {
		if strings.EqualFold(m[1], param) {
			return strings.TrimSpace(m[2])
		}
	}
	return ""
}

// readBody reads a decoded part body, returning a placeholder on any
// transfer-encoding or charset fault.
func readBody(part *message.Entity) string {
	body, err := io.ReadAll(part.Body)
	if err != nil {
		return undecodableBody
	}
	if !utf8.Valid(body) {
		return strings.ToValidUTF8(string(body), replacementRune)
	}
	return string(body)
}

// truncateRunes bounds s to limit runes; limit <= 0 disables the bound.
func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}

// decodeAll parses every fetched message with the given body bound.
func decodeAll(raws []rawMessage, bodyLimit int) []model.Message {
	out := make([]model.Message, 0, len(raws))
	for _, r := range raws {
		msg := ParseMessage(FormatID(r.UID), r.Body, bodyLimit)
		out = append(out, withFlags(msg, r.Flags))
	}
	return out
}
