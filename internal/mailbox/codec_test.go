package mailbox

import (
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParsePlainMessage(t *testing.T) {
	raw := crlf(`From: "Ann Lee" <ann@example.com>
To: me@example.com
Reply-To: help@example.com
Subject: Lunch tomorrow
Date: Mon, 02 Jan 2006 15:04:05 -0700
Message-ID: <abc@example.com>
References: <root@example.com>
Content-Type: text/plain; charset=utf-8

  Are you free at noon?
`)

	msg := ParseMessage("42", raw, PreviewLength)

	assert.Equal(t, "42", msg.ID)
	assert.Equal(t, `"Ann Lee" <ann@example.com>`, msg.Sender)
	assert.Equal(t, "me@example.com", msg.To)
	assert.Equal(t, "help@example.com", msg.ReplyTo)
	require.Len(t, msg.ReplyAddresses, 1)
	assert.Equal(t, "help@example.com", msg.ReplyAddresses[0].Address)
	assert.Equal(t, "Lunch tomorrow", msg.Subject)
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 -0700", msg.Date)
	assert.Equal(t, "abc@example.com", msg.MessageID)
	assert.Equal(t, []string{"root@example.com"}, msg.References)
	assert.Equal(t, "Are you free at noon?", msg.Body)
	assert.Empty(t, msg.Attachments)
}

func TestParseMissingHeaders(t *testing.T) {
	msg := ParseMessage("1", crlf("Date: sometime last week\n\nbody\n"), PreviewLength)

	assert.Equal(t, noSubject, msg.Subject)
	assert.Equal(t, unknownSender, msg.Sender)
	assert.Equal(t, "sometime last week", msg.Date)
	assert.Equal(t, "body", msg.Body)
}

func TestParseGarbageNeverFails(t *testing.T) {
	msg := ParseMessage("1", []byte{0xff, 0xfe, 0x00, ':', '\n'}, PreviewLength)

	assert.Equal(t, "1", msg.ID)
	assert.Equal(t, noSubject, msg.Subject)
	assert.Equal(t, unknownSender, msg.Sender)
}

func TestDecodeSubject(t *testing.T) {
	cases := []struct {
		name, raw, want string
	}{
		{"plain", "Hello", "Hello"},
		{"blank", "   ", noSubject},
		{"empty", "", noSubject},
		{"multi segment", "=?UTF-8?B?SGVsbG8g?= =?ISO-8859-1?Q?W=F6rld?=", "Hello Wörld"},
		{"mixed with literal", "Re: =?UTF-8?Q?caf=C3=A9?= plans", "Re: café plans"},
		{"folded", "=?UTF-8?Q?one?=\r\n =?UTF-8?Q?_two?=", "one two"},
		{"unknown charset", "=?X-NOT-A-CHARSET?Q?abc?=", "=?X-NOT-A-CHARSET?Q?abc?="},
		{"invalid bytes", "bad \xff byte", "bad � byte"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DecodeSubject(tc.raw))
		})
	}
}

func TestPlainPreferredOverHTML(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: alt
Content-Type: multipart/alternative; boundary=XX

--XX
Content-Type: text/html

<p>html body</p>
--XX
Content-Type: text/plain

plain body
--XX--
`)

	assert.Equal(t, "plain body", ParseMessage("1", raw, DetailLength).Body)
}

func TestHTMLOnlyIsStripped(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: html
Content-Type: text/html; charset=utf-8

<div>Hello&nbsp;<b>there</b></div><p>Tom &amp; Jerry</p>
`)

	assert.Equal(t, "Hello there\nTom & Jerry", ParseMessage("1", raw, DetailLength).Body)
}

func TestAttachmentsInOrder(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: files
Content-Type: multipart/mixed; boundary=B

--B
Content-Type: text/plain

see attached
--B
Content-Type: application/pdf
Content-Disposition: attachment; filename="report.pdf"

%PDF
--B
Content-Type: image/png; name="chart.png"
Content-Disposition: attachment

PNG
--B
Content-Type: image/png
Content-Disposition: inline

inline image without a name
--B--
`)

	msg := ParseMessage("1", raw, DetailLength)
	assert.Equal(t, "see attached", msg.Body)
	assert.Equal(t, []string{"report.pdf", "chart.png"}, msg.Attachments)
}

func TestUndecodableBodyPlaceholder(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: broken
Content-Type: text/plain
Content-Transfer-Encoding: base64

!!!! not base64 !!!!
`)

	assert.Equal(t, undecodableBody, ParseMessage("1", raw, DetailLength).Body)
}

func TestBodyTruncatedByRunes(t *testing.T) {
	body := strings.Repeat("é", PreviewLength+50)
	raw := crlf("From: a@example.com\nSubject: long\nContent-Type: text/plain; charset=utf-8\n\n" + body + "\n")

	got := ParseMessage("1", raw, PreviewLength).Body
	assert.Equal(t, strings.Repeat("é", PreviewLength), got)
}

func TestWithFlags(t *testing.T) {
	msg := withFlags(ParseMessage("1", crlf("Subject: x\n\ny\n"), 10), []imap.Flag{imap.FlagFlagged})
	assert.True(t, msg.Unread)
	assert.Equal(t, []string{string(imap.FlagFlagged)}, msg.Flags)

	msg = withFlags(msg, []imap.Flag{imap.FlagSeen})
	assert.False(t, msg.Unread)
}

func TestIDs(t *testing.T) {
	uid, err := ParseID(" 17 ")
	assert.NoError(t, err)
	assert.Equal(t, imap.UID(17), uid)
	assert.Equal(t, "17", FormatID(uid))

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := ParseID(bad)
		var invalid *InvalidIDError
		assert.ErrorAs(t, err, &invalid, bad)
	}
}

func TestUnknownCharsetPartKeepsWalking(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: odd charset
Content-Type: multipart/mixed; boundary=B

--B
Content-Type: text/plain; charset=x-bogus

hello anyway
--B
Content-Type: application/pdf
Content-Disposition: attachment; filename="report.pdf"

%PDF
--B--
`)

	msg := ParseMessage("1", raw, DetailLength)
	assert.Equal(t, "hello anyway", msg.Body)
	assert.Equal(t, []string{"report.pdf"}, msg.Attachments)
}

func TestUnknownEncodingPartKeepsWalking(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: uuencoded
Content-Type: multipart/mixed; boundary=B

--B
Content-Type: application/octet-stream
Content-Transfer-Encoding: x-uuencode
Content-Disposition: attachment; filename="a.bin"

begin 644 a.bin
end
--B
Content-Type: text/plain; charset=utf-8

the real body
--B
Content-Type: application/pdf
Content-Disposition: attachment; filename="b.pdf"

%PDF
--B--
`)

	msg := ParseMessage("1", raw, DetailLength)
	assert.Equal(t, "the real body", msg.Body)
	assert.Equal(t, []string{"a.bin", "b.pdf"}, msg.Attachments)
}

func TestReplyAddressesFromEncodedSender(t *testing.T) {
	raw := crlf(`From: =?utf-8?q?M=C3=BCller=2C_Hans?= <hans@example.com>
Subject: Q3

numbers attached
`)

	msg := ParseMessage("1", raw, DetailLength)
	assert.Equal(t, "Müller, Hans <hans@example.com>", msg.Sender)
	require.Len(t, msg.ReplyAddresses, 1)
	assert.Equal(t, "Müller, Hans", msg.ReplyAddresses[0].Name)
	assert.Equal(t, "hans@example.com", msg.ReplyAddresses[0].Address)
}
