package testutil

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is an in-process IMAP server backed by go-imap's memory backend.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	username string
	password string
}

// NewTestIMAPServer starts a plaintext IMAP server on a random local port.
// The memory backend ships one user, "username" / "password", with an INBOX.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	srv, err := NewTestIMAPServerForE2E("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start IMAP server: %v", err)
	}
	t.Cleanup(srv.Close)

	return srv
}

// NewTestIMAPServerForE2E starts the server outside of a test, for the dev harness.
func NewTestIMAPServerForE2E(addr string) (*TestIMAPServer, error) {
	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = s.Serve(listener)
	}()

	return &TestIMAPServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be,
		username: "username",
		password: "password",
	}, nil
}

// Close shuts the server down.
func (s *TestIMAPServer) Close() {
	_ = s.Server.Close()
}

// Username returns the backend's user name.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the backend's password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Connect opens a logged-in client connection.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	c, err := s.dial()
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	return c, func() { _ = c.Logout() }
}

func (s *TestIMAPServer) dial() (*imapclient.Client, error) {
	c, err := imapclient.Dial(s.Address)
	if err != nil {
		return nil, err
	}
	if err := c.Login(s.username, s.password); err != nil {
		_ = c.Logout()
		return nil, err
	}
	return c, nil
}

// MarkAllSeen flags every message in the folder as \Seen, including the backend's seed message.
func (s *TestIMAPServer) MarkAllSeen(t *testing.T, folderName string) {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	mbox, err := c.Select(folderName, false)
	if err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}
	if mbox.Messages == 0 {
		return
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, mbox.Messages)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		t.Fatalf("Failed to mark messages seen: %v", err)
	}
}

// AddRawMessage appends an unseen RFC 822 message to the folder.
func (s *TestIMAPServer) AddRawMessage(t *testing.T, folderName, raw string) {
	t.Helper()

	if err := s.AppendRaw(folderName, raw); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
}

// AppendRaw appends an unseen RFC 822 message to the folder.
func (s *TestIMAPServer) AppendRaw(folderName, raw string) error {
	c, err := s.dial()
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout() }()

	return c.Append(folderName, nil, time.Now(), strings.NewReader(raw))
}

// SeenFlags reports, per message subject, whether the message carries \Seen.
func (s *TestIMAPServer) SeenFlags(t *testing.T, folderName string) map[string]bool {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	mbox, err := c.Select(folderName, true)
	if err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}

	result := make(map[string]bool)
	if mbox.Messages == 0 {
		return result
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, mbox.Messages)
	messages := make(chan *imap.Message, mbox.Messages)
	if err := c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags}, messages); err != nil {
		t.Fatalf("Failed to fetch flags: %v", err)
	}

	for msg := range messages {
		seen := false
		for _, flag := range msg.Flags {
			if flag == imap.SeenFlag {
				seen = true
			}
		}
		if msg.Envelope != nil {
			result[msg.Envelope.Subject] = seen
		}
	}
	return result
}
