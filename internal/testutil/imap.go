package testutil

import (
	"errors"
	"net"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
)

// IMAPServer is an in-memory IMAP server listening on loopback.
type IMAPServer struct {
	Host string
	Port string
	User *imapmemserver.User
}

// NewIMAPServer starts a plaintext in-memory IMAP server with one account
// owning INBOX and the given extra mailboxes. It stops when the test
// completes.
func NewIMAPServer(t *testing.T, username, password string, mailboxes ...string) *IMAPServer {
	t.Helper()

	user := imapmemserver.NewUser(username, password)
	for _, name := range append([]string{"INBOX"}, mailboxes...) {
		if err := user.Create(name, nil); err != nil {
			t.Fatalf("creating mailbox %s: %v", name, err)
		}
	}

	mem := imapmemserver.New()
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
			t.Logf("imap server stopped: %v", err)
		}
	}()
	t.Cleanup(func() { _ = srv.Close() })

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	return &IMAPServer{Host: host, Port: port, User: user}
}
