package imap

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
)

const dialTimeout = 5 * time.Second

var (
	// ErrMailboxUnavailable is returned when the IMAP server cannot be reached.
	ErrMailboxUnavailable = errors.New("mailbox server unavailable")
	// ErrMailboxLogin is returned when the server rejects the credentials.
	ErrMailboxLogin = errors.New("mailbox login rejected")
	// ErrFolderSelect is returned when the folder cannot be selected.
	ErrFolderSelect = errors.New("mailbox folder not selectable")
)

// openMailbox connects, logs in and selects the configured folder. The caller must Logout.
// The dial timeout also bounds the server greeting.
func openMailbox(cfg PollerConfig, readOnly bool) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}

	var (
		c   *client.Client
		err error
	)
	if cfg.UseTLS {
		c, err = client.DialWithDialerTLS(dialer, cfg.Server, nil)
	} else {
		c, err = client.DialWithDialer(dialer, cfg.Server)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMailboxUnavailable, cfg.Server, err)
	}

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: %s: %v", ErrMailboxLogin, cfg.Username, err)
	}

	if _, err := c.Select(cfg.Folder, readOnly); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: %s: %v", ErrFolderSelect, cfg.Folder, err)
	}

	return c, nil
}
