package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

const (
	// DefaultSMTPAddr is SendGrid's SMTP relay.
	DefaultSMTPAddr = "smtp.sendgrid.net:587"
	// DefaultSMTPUsername is the literal username SendGrid expects alongside an API key.
	DefaultSMTPUsername = "apikey"
)

// SMTPTransport relays messages to the provider over SMTP with PLAIN auth.
// STARTTLS is mandatory unless the transport was built with WithoutTLS.
type SMTPTransport struct {
	addr      string
	username  string
	password  string
	tlsConfig *tls.Config
	insecure  bool
}

var _ Transport = (*SMTPTransport)(nil)

// NewSMTPTransport creates a transport for addr authenticating as username with the API key.
func NewSMTPTransport(addr, username, apiKey string) *SMTPTransport {
	if addr == "" {
		addr = DefaultSMTPAddr
	}
	if username == "" {
		username = DefaultSMTPUsername
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	return &SMTPTransport{
		addr:      addr,
		username:  username,
		password:  apiKey,
		tlsConfig: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
	}
}

// WithoutTLS skips STARTTLS so the credential is sent in cleartext. Only for local sinks.
func (t *SMTPTransport) WithoutTLS() *SMTPTransport {
	t.insecure = true
	return t
}

// SendMail delivers message. The connection deadline follows ctx and the connection is
// closed when ctx is done, so an abandoned exchange cannot complete later.
func (t *SMTPTransport) SendMail(ctx context.Context, from string, to []string, message []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: failed to connect to %s: %w", ctxErr, t.addr, err)
		}
		return fmt.Errorf("failed to connect to %s: %w", t.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := t.send(conn, from, to, message); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		// The conn deadline can fire just before ctx reports it.
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return err
	}
	return nil
}

func (t *SMTPTransport) send(conn net.Conn, from string, to []string, message []byte) error {
	var c *smtp.Client
	if t.insecure {
		c = smtp.NewClient(conn)
	} else {
		var err error
		if c, err = smtp.NewClientStartTLS(conn, t.tlsConfig); err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to start TLS with %s: %w", t.addr, err)
		}
	}
	defer func() { _ = c.Close() }()

	if err := c.Auth(sasl.NewPlainClient("", t.username, t.password)); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	if err := c.SendMail(from, to, bytes.NewReader(message)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return c.Quit()
}
