package imap

import (
	"bytes"
	"context"
	"time"

	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
	"github.com/nrpatel890/email-agent/internal/ingest"
	"github.com/nrpatel890/email-agent/internal/store"
	ws "github.com/nrpatel890/email-agent/internal/websocket"
	"github.com/sirupsen/logrus"
)

const (
	DefaultFolder       = "INBOX"
	DefaultPollInterval = time.Minute
)

// PollerConfig describes the mailbox the poller reads.
type PollerConfig struct {
	Server   string
	Username string
	Password string
	Folder   string
	UseTLS   bool
	Interval time.Duration
}

// Poller ingests unseen messages from an IMAP mailbox into the store.
type Poller struct {
	cfg      PollerConfig
	parser   ingest.MessageParser
	store    store.Store
	notifier ws.Notifier
	logger   *logrus.Logger
}

// NewPoller creates a Poller. The mailbox is only contacted by PollOnce and Run.
func NewPoller(cfg PollerConfig, parser ingest.MessageParser, s store.Store, notifier ws.Notifier, logger *logrus.Logger) *Poller {
	if cfg.Folder == "" {
		cfg.Folder = DefaultFolder
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if notifier == nil {
		notifier = ws.NopNotifier{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Poller{
		cfg:      cfg,
		parser:   parser,
		store:    s,
		notifier: notifier,
		logger:   logger,
	}
}

// Run polls immediately, then again on every IDLE wakeup and at least every interval,
// until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	wake := make(chan struct{}, 1)
	go p.watch(ctx, wake)
	p.run(ctx, wake)
}

func (p *Poller) run(ctx context.Context, wake <-chan struct{}) {
	log := p.logger.WithFields(logrus.Fields{"server": p.cfg.Server, "folder": p.cfg.Folder})
	log.WithField("interval", p.cfg.Interval.String()).Info("Poller: starting")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if count, err := p.PollOnce(ctx); err != nil {
			log.WithError(err).Error("Poller: poll failed")
		} else if count > 0 {
			log.WithField("count", count).Info("Poller: ingested messages")
		}

		select {
		case <-ctx.Done():
			log.Info("Poller: stopped")
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

// watch keeps an IDLE connection open on the folder and signals wake when new mail arrives.
// A failed connection is retried after one interval; the ticker in run covers the gap.
func (p *Poller) watch(ctx context.Context, wake chan<- struct{}) {
	for {
		if err := p.idleOnce(ctx, wake); err != nil {
			p.logger.WithError(err).WithField("folder", p.cfg.Folder).Warn("Poller: IDLE ended")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.Interval):
		}
	}
}

// idleOnce idles on a single connection until ctx is cancelled or the connection fails.
func (p *Poller) idleOnce(ctx context.Context, wake chan<- struct{}) error {
	c, err := openMailbox(p.cfg, true)
	if err != nil {
		return err
	}
	defer func(c *client.Client) {
		if err := c.Logout(); err != nil {
			p.logger.WithError(err).Debug("Poller: IDLE logout failed")
		}
	}(c)

	updates := make(chan client.Update, 32)
	c.Updates = updates

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idle.NewClient(c).IdleWithFallback(stop, p.cfg.Interval)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			// The client blocks on a full updates channel, so keep draining until IDLE returns.
			for {
				select {
				case <-done:
					return nil
				case <-updates:
				}
			}
		case err := <-done:
			return err
		case update := <-updates:
			notifyNewMail(update, wake)
		}
	}
}

// notifyNewMail signals wake for mailbox updates that report messages. It never blocks:
// a pending signal already covers the new mail.
func notifyNewMail(update client.Update, wake chan<- struct{}) bool {
	mboxUpdate, ok := update.(*client.MailboxUpdate)
	if !ok || mboxUpdate.Mailbox == nil || mboxUpdate.Mailbox.Messages == 0 {
		return false
	}

	select {
	case wake <- struct{}{}:
	default:
	}
	return true
}

// PollOnce ingests every unseen message once and returns how many were stored.
// Messages that fail to parse stay unseen so they can be inspected in the mailbox.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	c, err := openMailbox(p.cfg, false)
	if err != nil {
		return 0, err
	}
	defer func(c *client.Client) {
		if err := c.Logout(); err != nil {
			p.logger.WithError(err).Debug("Poller: logout failed")
		}
	}(c)

	uids, err := SearchUnseen(c)
	if err != nil {
		return 0, err
	}
	if len(uids) == 0 {
		return 0, nil
	}

	messages, err := FetchRawMessages(c, uids)
	if err != nil {
		return 0, err
	}

	ingested := make([]uint32, 0, len(messages))
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			break
		}

		fields, err := p.parser.Parse(bytes.NewReader(msg.Body))
		if err != nil {
			p.logger.WithError(err).WithField("uid", msg.UID).Warn("Poller: skipping unparseable message")
			continue
		}

		record, err := p.store.AddInboundEmail(ctx, *fields)
		if err != nil {
			p.logger.WithError(err).WithField("uid", msg.UID).Error("Poller: failed to store message")
			continue
		}

		ingested = append(ingested, msg.UID)
		p.notifier.Publish(ws.EventInboundReceived, record.ID)
	}

	if err := MarkSeen(c, ingested); err != nil {
		return len(ingested), err
	}

	return len(ingested), nil
}
