package tools

import "github.com/nhle/mail-assistant/internal/llm"

// Name identifies a tool.
type Name string

const (
	FetchEmails     Name = "fetch_emails"
	SearchEmails    Name = "search_emails"
	GetEmailDetails Name = "get_email_details"
	SendEmail       Name = "send_email"
	ReplyToEmail    Name = "reply_to_email"
	ForwardEmail    Name = "forward_email"
	CreateDraft     Name = "create_draft"
	MarkAsRead      Name = "mark_as_read"
	MarkAsUnread    Name = "mark_as_unread"
	StarEmail       Name = "star_email"
	UnstarEmail     Name = "unstar_email"
	ArchiveEmail    Name = "archive_email"
	DeleteEmail     Name = "delete_email"
	ExtractContacts Name = "extract_contacts"
	ScheduleSend    Name = "schedule_send"
	CountUnread     Name = "count_unread"
)

var idParam = llm.Param{
	Name:        "email_id",
	Type:        llm.TypeString,
	Required:    true,
	Description: "The email id as returned by fetch_emails or search_emails.",
}

var declarations = []llm.ToolDeclaration{
	{
		Name:        string(FetchEmails),
		Description: "Get the most recent emails, newest first. Query can be a subject keyword or 'ALL'.",
		Params: []llm.Param{
			{Name: "limit", Type: llm.TypeInteger, Description: "Maximum number of emails (default 10)."},
			{Name: "query", Type: llm.TypeString, Description: "Subject keyword, or 'ALL' for every email."},
		},
	},
	{
		Name:        string(SearchEmails),
		Description: "Search emails by sender, subject and date range. Every given filter must match. Returns at most 10 emails.",
		Params: []llm.Param{
			{Name: "sender", Type: llm.TypeString, Description: "Sender name or address substring."},
			{Name: "subject", Type: llm.TypeString, Description: "Subject substring."},
			{Name: "since", Type: llm.TypeString, Description: "Earliest date, YYYY-MM-DD."},
			{Name: "until", Type: llm.TypeString, Description: "Latest date (inclusive), YYYY-MM-DD."},
		},
	},
	{
		Name:        string(GetEmailDetails),
		Description: "Get the full body and attachment names of one email.",
		Params:      []llm.Param{idParam},
	},
	{
		Name:        string(SendEmail),
		Description: "Send a new plain-text email.",
		Params: []llm.Param{
			{Name: "to_email", Type: llm.TypeString, Required: true, Description: "Recipient address; separate several with commas."},
			{Name: "subject", Type: llm.TypeString, Required: true, Description: "Subject line."},
			{Name: "body", Type: llm.TypeString, Required: true, Description: "Plain-text body."},
		},
	},
	{
		Name:        string(ReplyToEmail),
		Description: "Reply to the sender of an email, keeping it in the same thread.",
		Params: []llm.Param{
			idParam,
			{Name: "body", Type: llm.TypeString, Required: true, Description: "Plain-text reply."},
		},
	},
	{
		Name:        string(ForwardEmail),
		Description: "Forward an email to new recipients with an optional note.",
		Params: []llm.Param{
			idParam,
			{Name: "to_email", Type: llm.TypeString, Required: true, Description: "Recipient address; separate several with commas."},
			{Name: "note", Type: llm.TypeString, Description: "Text placed above the forwarded message."},
		},
	},
	{
		Name:        string(CreateDraft),
		Description: "Save an email as a draft without sending it.",
		Params: []llm.Param{
			{Name: "to_email", Type: llm.TypeString, Required: true, Description: "Recipient address."},
			{Name: "subject", Type: llm.TypeString, Required: true, Description: "Subject line."},
			{Name: "body", Type: llm.TypeString, Required: true, Description: "Plain-text body."},
		},
	},
	{
		Name:        string(MarkAsRead),
		Description: "Mark an email as read.",
		Params:      []llm.Param{idParam},
	},
	{
		Name:        string(MarkAsUnread),
		Description: "Mark an email as unread.",
		Params:      []llm.Param{idParam},
	},
	{
		Name:        string(StarEmail),
		Description: "Star (flag) an email.",
		Params:      []llm.Param{idParam},
	},
	{
		Name:        string(UnstarEmail),
		Description: "Remove the star (flag) from an email.",
		Params:      []llm.Param{idParam},
	},
	{
		Name: string(ArchiveEmail),
		Description: "Archive an email, removing it from the inbox. If the mailbox has no archive folder " +
			"the email may be deleted instead; the result says which happened.",
		Params: []llm.Param{idParam},
	},
	{
		Name:        string(DeleteEmail),
		Description: "Permanently delete an email.",
		Params:      []llm.Param{idParam},
	},
	{
		Name:        string(ExtractContacts),
		Description: "List distinct sender addresses from recent emails (at most 50).",
		Params: []llm.Param{
			{Name: "limit", Type: llm.TypeInteger, Description: "How many recent emails to scan (default 50)."},
		},
	},
	{
		Name: string(ScheduleSend),
		Description: "Request that an email be sent later. Automatic scheduled sending is not supported: " +
			"the email is saved as a draft noting the requested time.",
		Params: []llm.Param{
			{Name: "to_email", Type: llm.TypeString, Required: true, Description: "Recipient address."},
			{Name: "subject", Type: llm.TypeString, Required: true, Description: "Subject line."},
			{Name: "body", Type: llm.TypeString, Required: true, Description: "Plain-text body."},
			{Name: "send_time", Type: llm.TypeString, Required: true, Description: "Requested send time, e.g. 2025-04-01 09:00."},
		},
	},
	{
		Name:        string(CountUnread),
		Description: "Get the number of unread emails.",
	},
}

// Declarations returns the declaration of every tool.
func Declarations() []llm.ToolDeclaration {
	out := make([]llm.ToolDeclaration, len(declarations))
	copy(out, declarations)
	return out
}

// Known reports whether name is a declared tool.
func Known(name string) bool {
	for _, d := range declarations {
		if d.Name == name {
			return true
		}
	}
	return false
}
