package mailbox

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/emersion/go-message/textproto"

	"github.com/nhle/mail-assistant/internal/model"
)

// MaxContacts caps the result of ExtractContacts.
const MaxContacts = 50

var addressPattern = regexp.MustCompile(
	`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
)

// parseContact splits a decoded From value such as
// `"Jane Doe" <jane@example.com>` into a Contact.
func parseContact(from string) (model.Contact, bool) {
	addr := addressPattern.FindString(from)
	if addr == "" {
		return model.Contact{}, false
	}

	name := from
	if i := strings.Index(name, "<"); i >= 0 {
		name = name[:i]
	} else {
		name = strings.Replace(name, addr, "", 1)
	}
	name = strings.Trim(strings.TrimSpace(name), `"'`)

	return model.Contact{Name: strings.TrimSpace(name), Address: addr}, true
}

// collectContacts dedupes addresses case-insensitively, keeping the first
// display name seen for each, capped at MaxContacts.
func collectContacts(froms []string) []model.Contact {
	seen := make(map[string]int)
	out := make([]model.Contact, 0)

	for _, from := range froms {
		c, ok := parseContact(from)
		if !ok {
			continue
		}
		key := strings.ToLower(c.Address)
		if i, dup := seen[key]; dup {
			if out[i].Name == "" && c.Name != "" {
				out[i].Name = c.Name
			}
			continue
		}
		if len(out) >= MaxContacts {
			break
		}
		seen[key] = len(out)
		out = append(out, c)
	}

	return out
}

// fromHeaderValue reads the From field of a fetched HEADER.FIELDS block
// and decodes it.
func fromHeaderValue(block string) string {
	block = strings.TrimRight(block, "\r\n") + "\r\n\r\n"
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(block)))
	if err != nil {
		return ""
	}
	return decodeHeaderValue(h.Get("From"))
}
