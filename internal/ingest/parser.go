package ingest

import (
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/nrpatel890/email-agent/internal/models"
)

// NoSubject is stored when the message carries no Subject header.
const NoSubject = "(no subject)"

// ErrParseFailed is returned when the raw message cannot be read as MIME.
var ErrParseFailed = errors.New("failed to parse email")

// MessageParser turns a raw RFC 822 message into inbound email fields.
type MessageParser interface {
	Parse(r io.Reader) (*models.NewInboundEmail, error)
}

// Parser is the enmime-backed MessageParser.
type Parser struct {
	now func() time.Time
}

var _ MessageParser = (*Parser)(nil)

// NewParser creates a Parser that stamps undated messages with the current time.
func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// Parse reads a raw MIME message and applies the inbound defaults:
// empty sender and body, "(no subject)", and the ingestion time when there is no usable Date header.
func (p *Parser) Parse(r io.Reader) (*models.NewInboundEmail, error) {
	envelope, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}

	email := &models.NewInboundEmail{
		Subject:    strings.TrimSpace(envelope.GetHeader("Subject")),
		Text:       envelope.Text,
		HTML:       envelope.HTML,
		ReceivedAt: p.receivedAt(envelope.GetHeader("Date")),
	}
	if email.Subject == "" {
		email.Subject = NoSubject
	}

	email.From, email.FromName = firstAddress(envelope)

	return email, nil
}

func (p *Parser) receivedAt(dateHeader string) time.Time {
	if dateHeader != "" {
		if date, err := mail.ParseDate(dateHeader); err == nil {
			return date
		}
	}
	return p.now()
}

// firstAddress returns the address and display name of the first From entry.
func firstAddress(envelope *enmime.Envelope) (address, name string) {
	addresses, err := envelope.AddressList("From")
	if err != nil || len(addresses) == 0 {
		return "", ""
	}
	return addresses[0].Address, addresses[0].Name
}
