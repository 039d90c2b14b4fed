package mailbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
)

// SearchLimit caps the results of Search.
const SearchLimit = 10

// SearchCriteria are conjunctive filters; empty fields are not applied.
type SearchCriteria struct {
	From    string
	Subject string
	Since   string
	Until   string
}

// IsEmpty reports whether no filter is set.
func (c SearchCriteria) IsEmpty() bool {
	return strings.TrimSpace(c.From) == "" &&
		strings.TrimSpace(c.Subject) == "" &&
		strings.TrimSpace(c.Since) == "" &&
		strings.TrimSpace(c.Until) == ""
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02-Jan-2006",
	"2-Jan-2006",
}

// ParseDate accepts YYYY-MM-DD, RFC 3339 or IMAP's DD-Mon-YYYY.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
}

// Build translates c into IMAP search keys. Until is inclusive of the named
// day, so it becomes BEFORE the following day.
func (c SearchCriteria) Build() (*imap.SearchCriteria, error) {
	criteria := &imap.SearchCriteria{}

	if from := strings.TrimSpace(c.From); from != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key: "From", Value: from,
		})
	}
	if subject := strings.TrimSpace(c.Subject); subject != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key: "Subject", Value: subject,
		})
	}
	if since := strings.TrimSpace(c.Since); since != "" {
		t, err := ParseDate(since)
		if err != nil {
			return nil, fmt.Errorf("since: %w", err)
		}
		criteria.Since = t
	}
	if until := strings.TrimSpace(c.Until); until != "" {
		t, err := ParseDate(until)
		if err != nil {
			return nil, fmt.Errorf("until: %w", err)
		}
		criteria.Before = t.AddDate(0, 0, 1)
	}

	return criteria, nil
}

// subjectCriteria builds the Fetch filter: "ALL" or empty matches
// everything, anything else is a subject substring.
func subjectCriteria(query string) *imap.SearchCriteria {
	query = strings.TrimSpace(query)
	if query == "" || strings.EqualFold(query, "ALL") {
		return nil
	}
	return &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: query}},
	}
}
