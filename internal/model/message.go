package model

// Message is a read-only view of one remote mailbox message. It is built
// per request and never persisted.
type Message struct {
	// ID is the mailbox-assigned UID, stable within a session, always
	// carried as a decimal string.
	ID string `json:"id"`

	Sender  string `json:"sender"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject"`
	Date    string `json:"date,omitempty"`

	// Body is a short preview in list views and the (bounded) full text
	// in detail views.
	Body string `json:"body"`

	// Attachments lists attachment filenames in encounter order.
	Attachments []string `json:"attachments,omitempty"`

	Flags  []string `json:"flags,omitempty"`
	Unread bool     `json:"unread"`

	// MessageID is the Message-ID header without angle brackets.
	MessageID string `json:"message_id,omitempty"`

	// Threading data used to compose replies and forwards.
	ReplyTo    string   `json:"-"`
	References []string `json:"-"`

	// ReplyAddresses are the Reply-To addresses, or the From addresses
	// when Reply-To is absent, parsed from the raw headers.
	ReplyAddresses []Contact `json:"-"`
}

// Contact is a sender address harvested from message headers.
type Contact struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}
