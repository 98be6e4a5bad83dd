package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"
)

const (
	// FallbackFromAddress is used when neither the caller nor the configuration names a sender.
	FallbackFromAddress = "no-reply@example.com"
	DefaultTimeout      = 30 * time.Second
)

var (
	// ErrMissingAPIKey is returned before any delivery attempt when the provider key is not configured.
	ErrMissingAPIKey = errors.New("missing email provider API key")
	// ErrInvalidMessage is returned when the message cannot be composed.
	ErrInvalidMessage = errors.New("invalid email message")
	// ErrDeliveryFailed is returned when the provider rejects or fails the delivery.
	ErrDeliveryFailed = errors.New("email delivery failed")
	// ErrDeliveryTimeout is returned when the provider does not answer in time.
	ErrDeliveryTimeout = errors.New("email delivery timed out")
)

// Message is a fully composed outgoing email.
type Message struct {
	To      []string
	Subject string
	HTML    string
	// Text is derived from HTML when empty.
	Text string
	// From overrides the configured sender.
	From    string
	ReplyTo string
}

// Sender delivers composed emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Transport hands an encoded message to the provider.
type Transport interface {
	SendMail(ctx context.Context, from string, to []string, message []byte) error
}

// Options configures a Mailer.
type Options struct {
	APIKey      string
	DefaultFrom string
	Timeout     time.Duration
}

// Mailer composes messages and delivers them through a Transport.
type Mailer struct {
	transport Transport
	opts      Options
	logger    *logrus.Logger
}

var _ Sender = (*Mailer)(nil)

// NewMailer creates a Mailer. Missing credentials are reported on Send, not here.
func NewMailer(transport Transport, opts Options, logger *logrus.Logger) *Mailer {
	if opts.DefaultFrom == "" {
		opts.DefaultFrom = FallbackFromAddress
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Mailer{
		transport: transport,
		opts:      opts,
		logger:    logger,
	}
}

// Send delivers msg, filling in the sender and text fallback.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if m.opts.APIKey == "" {
		return ErrMissingAPIKey
	}

	if msg.From == "" {
		msg.From = m.opts.DefaultFrom
	}
	if msg.Text == "" && msg.HTML != "" {
		msg.Text = StripHTML(msg.HTML)
	}

	from, recipients, raw, err := compose(msg)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	if err := m.transport.SendMail(sendCtx, from, recipients, raw); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %w", ErrDeliveryTimeout, m.opts.Timeout, err)
		}
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	m.logger.WithFields(logrus.Fields{
		"to":      recipients,
		"subject": msg.Subject,
	}).Info("Mailer: email delivered")
	return nil
}

// compose encodes msg as MIME, multipart/alternative when both bodies are present.
func compose(msg Message) (string, []string, []byte, error) {
	if len(msg.To) == 0 {
		return "", nil, nil, fmt.Errorf("%w: no recipients", ErrInvalidMessage)
	}

	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: sender %q: %w", ErrInvalidMessage, msg.From, err)
	}

	builder := enmime.Builder().
		From(from.Name, from.Address).
		Subject(msg.Subject)

	recipients := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		address, err := mail.ParseAddress(to)
		if err != nil {
			return "", nil, nil, fmt.Errorf("%w: recipient %q: %w", ErrInvalidMessage, to, err)
		}
		builder = builder.To(address.Name, address.Address)
		recipients = append(recipients, address.Address)
	}

	if msg.ReplyTo != "" {
		replyTo, err := mail.ParseAddress(msg.ReplyTo)
		if err != nil {
			return "", nil, nil, fmt.Errorf("%w: reply-to %q: %w", ErrInvalidMessage, msg.ReplyTo, err)
		}
		builder = builder.ReplyTo(replyTo.Name, replyTo.Address)
	}

	if msg.Text != "" {
		builder = builder.Text([]byte(msg.Text))
	}
	if msg.HTML != "" {
		builder = builder.HTML([]byte(msg.HTML))
	}

	root, err := builder.Build()
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	var buf bytes.Buffer
	if err := root.Encode(&buf); err != nil {
		return "", nil, nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	return from.Address, recipients, buf.Bytes(), nil
}
