package tools

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

const (
	defaultFetchLimit    = 10
	defaultContactsLimit = 50
)

// Call is a decoded tool invocation. The concrete type names the tool.
type Call interface {
	Tool() Name
	validate() error
}

// FetchArgs are the arguments of fetch_emails.
type FetchArgs struct {
	Limit *int   `mapstructure:"limit"`
	Query string `mapstructure:"query"`
}

// SearchArgs are the arguments of search_emails.
type SearchArgs struct {
	Sender  string `mapstructure:"sender"`
	Subject string `mapstructure:"subject"`
	Since   string `mapstructure:"since"`
	Until   string `mapstructure:"until"`
}

// MessageArgs address a single message. They serve get_email_details and
// the flag, archive and delete tools.
type MessageArgs struct {
	Name    Name   `mapstructure:"-"`
	EmailID string `mapstructure:"email_id"`
}

// ComposeArgs are the arguments of send_email and create_draft.
type ComposeArgs struct {
	Name    Name   `mapstructure:"-"`
	To      string `mapstructure:"to_email"`
	Subject string `mapstructure:"subject"`
	Body    string `mapstructure:"body"`
}

// ReplyArgs are the arguments of reply_to_email.
type ReplyArgs struct {
	EmailID string `mapstructure:"email_id"`
	Body    string `mapstructure:"body"`
}

// ForwardArgs are the arguments of forward_email.
type ForwardArgs struct {
	EmailID string `mapstructure:"email_id"`
	To      string `mapstructure:"to_email"`
	Note    string `mapstructure:"note"`
}

// ContactsArgs are the arguments of extract_contacts.
type ContactsArgs struct {
	Limit *int `mapstructure:"limit"`
}

// ScheduleArgs are the arguments of schedule_send.
type ScheduleArgs struct {
	To       string `mapstructure:"to_email"`
	Subject  string `mapstructure:"subject"`
	Body     string `mapstructure:"body"`
	SendTime string `mapstructure:"send_time"`
}

// CountArgs are the (empty) arguments of count_unread.
type CountArgs struct{}

func (FetchArgs) Tool() Name     { return FetchEmails }
func (SearchArgs) Tool() Name    { return SearchEmails }
func (a MessageArgs) Tool() Name { return a.Name }
func (a ComposeArgs) Tool() Name { return a.Name }
func (ReplyArgs) Tool() Name     { return ReplyToEmail }
func (ForwardArgs) Tool() Name   { return ForwardEmail }
func (ContactsArgs) Tool() Name  { return ExtractContacts }
func (ScheduleArgs) Tool() Name  { return ScheduleSend }
func (CountArgs) Tool() Name     { return CountUnread }

func (FetchArgs) validate() error    { return nil }
func (SearchArgs) validate() error   { return nil }
func (ContactsArgs) validate() error { return nil }
func (CountArgs) validate() error    { return nil }

func (a MessageArgs) validate() error {
	return required("email_id", a.EmailID)
}

func (a ComposeArgs) validate() error {
	return required("to_email", a.To)
}

func (a ReplyArgs) validate() error {
	if err := required("email_id", a.EmailID); err != nil {
		return err
	}
	return required("body", a.Body)
}

func (a ForwardArgs) validate() error {
	if err := required("email_id", a.EmailID); err != nil {
		return err
	}
	return required("to_email", a.To)
}

func (a ScheduleArgs) validate() error {
	if err := required("to_email", a.To); err != nil {
		return err
	}
	return required("send_time", a.SendTime)
}

// limit returns the requested limit or the default when absent.
func (a FetchArgs) limit() int {
	if a.Limit == nil {
		return defaultFetchLimit
	}
	return *a.Limit
}

func (a FetchArgs) query() string {
	if strings.TrimSpace(a.Query) == "" {
		return "ALL"
	}
	return a.Query
}

func (a ContactsArgs) limit() int {
	if a.Limit == nil {
		return defaultContactsLimit
	}
	return *a.Limit
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// Decode turns a model tool call into its typed variant. Numbers and
// strings are converted into each other as the field requires, so an id of
// 42 and "42" decode alike.
func Decode(name string, args map[string]any) (Call, error) {
	var (
		call Call
		err  error
	)

	switch n := Name(name); n {
	case FetchEmails:
		call, err = decodeInto(args, FetchArgs{})
	case SearchEmails:
		call, err = decodeInto(args, SearchArgs{})
	case GetEmailDetails, MarkAsRead, MarkAsUnread, StarEmail, UnstarEmail,
		ArchiveEmail, DeleteEmail:
		call, err = decodeInto(args, MessageArgs{Name: n})
	case SendEmail, CreateDraft:
		call, err = decodeInto(args, ComposeArgs{Name: n})
	case ReplyToEmail:
		call, err = decodeInto(args, ReplyArgs{})
	case ForwardEmail:
		call, err = decodeInto(args, ForwardArgs{})
	case ExtractContacts:
		call, err = decodeInto(args, ContactsArgs{})
	case ScheduleSend:
		call, err = decodeInto(args, ScheduleArgs{})
	case CountUnread:
		call = CountArgs{}
	default:
		return nil, &UnknownToolError{Name: name}
	}

	if err == nil {
		err = call.validate()
	}
	if err != nil {
		return nil, &ArgumentError{Tool: name, Err: err}
	}
	return call, nil
}

func decodeInto[T Call](args map[string]any, a T) (Call, error) {
	if len(args) == 0 {
		return a, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &a,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(args); err != nil {
		return nil, err
	}
	return a, nil
}
