package mailbox

import (
	"context"
	"crypto/tls"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Security selects how a connection to a mail server is secured.
type Security string

const (
	SecurityTLS      Security = "tls"
	SecurityStartTLS Security = "starttls"
	SecurityNone     Security = "none"
)

// ParseSecurity maps a configuration value to a Security mode,
// defaulting to implicit TLS.
func ParseSecurity(s string) Security {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "starttls":
		return SecurityStartTLS
	case "none", "plain", "insecure":
		return SecurityNone
	default:
		return SecurityTLS
	}
}

// Endpoint addresses one mail server.
type Endpoint struct {
	Host     string
	Port     string
	Security Security
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// dial opens a TCP connection to e bounded by timeout and by the context
// deadline, returning the connection with its I/O deadline already set.
func (e Endpoint) dial(
	ctx context.Context, timeout time.Duration,
) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", e.Addr())
	if err != nil {
		return nil, err
	}

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if !deadline.IsZero() {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return conn, nil
}

// IMAPClient opens one authenticated IMAP connection per operation. It
// holds configuration only; no connection outlives the call that opened it.
type IMAPClient struct {
	endpoint Endpoint
	username string
	password string
	timeout  time.Duration
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(
	endpoint Endpoint, username, password string, timeout time.Duration,
) *IMAPClient {
	return &IMAPClient{
		endpoint: endpoint,
		username: username,
		password: password,
		timeout:  timeout,
	}
}

// conn is a live IMAP connection bound to one operation.
type conn struct {
	*imapclient.Client
	stop func() bool
}

// release logs out and closes the connection.
func (c *conn) release() {
	c.stop()
	_ = c.Logout().Wait()
	_ = c.Client.Close()
}

// Connect establishes a connection to the IMAP server and authenticates.
// Cancelling ctx closes the connection. The caller must call release.
func (c *IMAPClient) Connect(ctx context.Context) (*conn, error) {
	addr := c.endpoint.Addr()

	raw, err := c.endpoint.dial(ctx, c.timeout)
	if err != nil {
		return nil, &TransportError{Op: "connecting to IMAP " + addr, Err: err}
	}

	tlsConfig := &tls.Config{ServerName: c.endpoint.Host}

	var client *imapclient.Client
	switch c.endpoint.Security {
	case SecurityStartTLS:
		client, err = imapclient.NewStartTLS(
			raw, &imapclient.Options{TLSConfig: tlsConfig},
		)
		if err != nil {
			raw.Close()
			return nil, &TransportError{Op: "IMAP STARTTLS " + addr, Err: err}
		}
	case SecurityNone:
		client = imapclient.New(raw, nil)
	default:
		tlsConn := tls.Client(raw, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, &TransportError{Op: "IMAP TLS handshake " + addr, Err: err}
		}
		client = imapclient.New(tlsConn, nil)
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		stop()
		_ = client.Close()
		if ctx.Err() != nil {
			return nil, &TransportError{Op: "IMAP login", Err: ctx.Err()}
		}
		return nil, &AuthError{Username: c.username, Err: err}
	}

	return &conn{Client: client, stop: stop}, nil
}

// withMailbox connects, selects mailbox and runs fn. The connection is
// released when fn returns.
func (c *IMAPClient) withMailbox(
	ctx context.Context,
	mailbox string,
	readOnly bool,
	fn func(*imapclient.Client) error,
) error {
	cl, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer cl.release()

	opts := &imap.SelectOptions{ReadOnly: readOnly}
	if _, err := cl.Select(mailbox, opts).Wait(); err != nil {
		return &TransportError{Op: "selecting " + mailbox, Err: err}
	}

	return fn(cl.Client)
}

// rawMessage is one fetched message before decoding.
type rawMessage struct {
	UID   imap.UID
	Flags []imap.Flag
	Body  []byte
}

// searchUIDs runs UID SEARCH; a nil criteria matches every message.
func searchUIDs(
	client *imapclient.Client, criteria *imap.SearchCriteria,
) ([]imap.UID, error) {
	if criteria == nil {
		criteria = &imap.SearchCriteria{}
	}
	data, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &TransportError{Op: "searching messages", Err: err}
	}
	return data.AllUIDs(), nil
}

// newestFirst returns at most limit UIDs, highest (most recent) first.
func newestFirst(uids []imap.UID, limit int) []imap.UID {
	sorted := slices.Clone(uids)
	slices.Sort(sorted)
	if limit >= 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	slices.Reverse(sorted)
	return sorted
}

// fetchRaw fetches flags and the full RFC 5322 source of each UID without
// setting \Seen. Results are ordered newest first.
func fetchRaw(
	client *imapclient.Client, uids []imap.UID,
) ([]rawMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	section := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		Flags:       true,
		BodySection: []*imap.FetchItemBodySection{section},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)

	var out []rawMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		out = append(out, rawMessage{
			UID:   buf.UID,
			Flags: buf.Flags,
			Body:  buf.FindBodySection(section),
		})
	}

	if err := fetchCmd.Close(); err != nil {
		return out, &TransportError{Op: "fetching messages", Err: err}
	}

	slices.SortFunc(out, func(a, b rawMessage) int {
		switch {
		case a.UID > b.UID:
			return -1
		case a.UID < b.UID:
			return 1
		default:
			return 0
		}
	})

	return out, nil
}

// fetchHeaderField fetches a single header field for each UID, returning
// the raw field text keyed by UID.
func fetchHeaderField(
	client *imapclient.Client, uids []imap.UID, field string,
) (map[imap.UID]string, error) {
	out := make(map[imap.UID]string, len(uids))
	if len(uids) == 0 {
		return out, nil
	}

	section := &imap.FetchItemBodySection{
		Specifier:    imap.PartSpecifierHeader,
		HeaderFields: []string{field},
		Peek:         true,
	}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}

	msgs, err := client.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
	if err != nil {
		return out, &TransportError{Op: "fetching " + field + " headers", Err: err}
	}

	for _, msg := range msgs {
		out[msg.UID] = string(msg.FindBodySection(section))
	}

	return out, nil
}

// requireUID fails with NotFoundError unless uid exists in the selected
// mailbox.
func requireUID(client *imapclient.Client, uid imap.UID) error {
	msgs, err := client.Fetch(
		imap.UIDSetNum(uid), &imap.FetchOptions{UID: true},
	).Collect()
	if err != nil {
		return &TransportError{Op: "looking up message", Err: err}
	}
	if len(msgs) == 0 {
		return &NotFoundError{ID: FormatID(uid)}
	}
	return nil
}

// storeFlags adds or removes flags on uid.
func storeFlags(
	client *imapclient.Client, uid imap.UID, flags []imap.Flag, add bool,
) error {
	op := imap.StoreFlagsAdd
	if !add {
		op = imap.StoreFlagsDel
	}

	storeCmd := client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  flags,
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return &TransportError{Op: "storing flags", Err: err}
	}
	return nil
}

// purge marks uid \Deleted and expunges it. UID EXPUNGE is used when the
// server supports UIDPLUS so that other \Deleted messages are untouched.
func purge(client *imapclient.Client, uid imap.UID) error {
	if err := storeFlags(
		client, uid, []imap.Flag{imap.FlagDeleted}, true,
	); err != nil {
		return err
	}

	uidSet := imap.UIDSetNum(uid)

	var err error
	if client.Caps().Has(imap.CapUIDPlus) {
		err = client.UIDExpunge(uidSet).Close()
	} else {
		err = client.Expunge().Close()
	}
	if err != nil {
		return &TransportError{Op: "expunging message", Err: err}
	}
	return nil
}

// Append stores msg in mailbox with the given flags on its own connection
// and returns the new UID when the server reports one.
func (c *IMAPClient) Append(
	ctx context.Context,
	mailbox string,
	msg []byte,
	flags []imap.Flag,
	date time.Time,
) (imap.UID, error) {
	cl, err := c.Connect(ctx)
	if err != nil {
		return 0, err
	}
	defer cl.release()

	appendCmd := cl.Append(mailbox, int64(len(msg)), &imap.AppendOptions{
		Flags: flags,
		Time:  date,
	})
	if _, err := appendCmd.Write(msg); err != nil {
		_ = appendCmd.Close()
		return 0, &TransportError{Op: "writing to " + mailbox, Err: err}
	}
	if err := appendCmd.Close(); err != nil {
		return 0, &TransportError{Op: "appending to " + mailbox, Err: err}
	}

	data, err := appendCmd.Wait()
	if err != nil {
		return 0, &TransportError{Op: "appending to " + mailbox, Err: err}
	}

	return data.UID, nil
}

// ParseID converts a string message id to a UID.
func ParseID(id string) (imap.UID, error) {
	trimmed := strings.TrimSpace(id)
	uid, err := strconv.ParseUint(trimmed, 10, 32)
	if err != nil || uid == 0 {
		return 0, &InvalidIDError{ID: id}
	}
	return imap.UID(uid), nil
}

// FormatID renders a UID as the string id exposed to callers.
func FormatID(uid imap.UID) string {
	return strconv.FormatUint(uint64(uid), 10)
}
