package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nrpatel890/email-agent/internal/agent"
	"github.com/nrpatel890/email-agent/internal/api"
	"github.com/nrpatel890/email-agent/internal/config"
	"github.com/nrpatel890/email-agent/internal/delivery"
	"github.com/nrpatel890/email-agent/internal/imap"
	"github.com/nrpatel890/email-agent/internal/ingest"
	"github.com/nrpatel890/email-agent/internal/store"
	"github.com/nrpatel890/email-agent/internal/testutil"
	ws "github.com/nrpatel890/email-agent/internal/websocket"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// Fixed credentials for the in-process SMTP sink.
const (
	testSMTPUsername = "apikey"
	testSMTPAPIKey   = "test-sendgrid-key"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := os.Setenv("APP_ENV", "test"); err != nil {
		logger.Fatalf("Failed to set APP_ENV: %v", err)
	}
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	imapServer, smtpServer, err := startMailServers(logger)
	if err != nil {
		logger.Fatalf("Failed to start mail servers: %v", err)
	}
	defer imapServer.Close()
	defer smtpServer.Close()

	if err := seedTestData(imapServer); err != nil {
		logger.Fatalf("Failed to seed test data: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, poller := newTestServer(cfg, logger, imapServer, smtpServer)
	go poller.Run(ctx)

	if err := startHTTPServer(ctx, cfg, logger, handler, imapServer, smtpServer); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}

// startMailServers starts the IMAP mailbox the poller reads and the SMTP sink the mailer sends to.
func startMailServers(logger *logrus.Logger) (*testutil.TestIMAPServer, *testutil.TestSMTPServer, error) {
	imapServer, err := testutil.NewTestIMAPServerForE2E("127.0.0.1:0")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start test IMAP server: %w", err)
	}
	logger.WithField("address", imapServer.Address).Info("Test IMAP server started")

	smtpServer, err := testutil.NewTestSMTPServerForE2E("127.0.0.1:0", testSMTPUsername, testSMTPAPIKey)
	if err != nil {
		imapServer.Close()
		return nil, nil, fmt.Errorf("failed to start test SMTP server: %w", err)
	}
	logger.WithField("address", smtpServer.Address).Info("Test SMTP server started")

	return imapServer, smtpServer, nil
}

// newTestServer wires the real handlers against the in-process mail servers and an offline model.
func newTestServer(cfg *config.Config, logger *logrus.Logger, imapServer *testutil.TestIMAPServer, smtpServer *testutil.TestSMTPServer) (http.Handler, *imap.Poller) {
	emailStore := store.NewMemoryStore()
	parser := ingest.NewParser()
	hub := ws.NewHub(cfg.WSMaxClients, logger)

	drafter := agent.NewDrafter(cannedCompleter{}, agent.Options{Timeout: cfg.LLMTimeout}, logger)

	mailer := delivery.NewMailer(
		delivery.NewSMTPTransport(smtpServer.Address, smtpServer.Username(), smtpServer.Password()).WithoutTLS(),
		delivery.Options{
			APIKey:      smtpServer.Password(),
			DefaultFrom: cfg.DefaultFromEmail,
			Timeout:     cfg.DeliveryTimeout,
		},
		logger,
	)

	router := api.NewRouter(
		api.NewInboundHandler(emailStore, parser, hub, logger),
		api.NewDraftsHandler(emailStore, drafter, mailer, hub, logger),
		api.NewWebSocketHandler(hub, logger),
		logger,
	)

	poller := imap.NewPoller(imap.PollerConfig{
		Server:   imapServer.Address,
		Username: imapServer.Username(),
		Password: imapServer.Password(),
		Folder:   imap.DefaultFolder,
		UseTLS:   false,
		Interval: 5 * time.Second,
	}, parser, emailStore, hub, logger)

	return router, poller
}

// startHTTPServer serves until ctx is cancelled by a shutdown signal.
func startHTTPServer(ctx context.Context, cfg *config.Config, logger *logrus.Logger, handler http.Handler, imapServer *testutil.TestIMAPServer, smtpServer *testutil.TestSMTPServer) error {
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithField("address", server.Addr).Info("Email agent test server starting")
	logger.Infof("Test IMAP server: %s (username: %s, password: %s)", imapServer.Address, imapServer.Username(), imapServer.Password())
	logger.Infof("Test SMTP server: %s (username: %s, password: %s)", smtpServer.Address, smtpServer.Username(), smtpServer.Password())
	logger.Info("Server ready. Press Ctrl+C to stop.")

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
}

// seedTestData puts a few unseen lead emails in the INBOX for the poller to pick up.
func seedTestData(imapServer *testutil.TestIMAPServer) error {
	messages := []struct {
		from    string
		subject string
		body    string
		sentAt  time.Time
	}{
		{
			from:    "Jane Doe <jane.doe@example.com>",
			subject: "Hi",
			body:    "Is the two-bedroom on Elm Street still available?",
			sentAt:  time.Now().Add(-2 * time.Hour),
		},
		{
			from:    "Marcus Lee <marcus@example.com>",
			subject: "Tour this weekend",
			body:    "Could I tour the studio on Saturday morning?",
			sentAt:  time.Now().Add(-1 * time.Hour),
		},
		{
			from:    "priya@example.com",
			subject: "Pet policy",
			body:    "Do you allow cats? I have one.",
			sentAt:  time.Now(),
		},
	}

	for _, msg := range messages {
		raw := fmt.Sprintf("From: %s\r\nTo: leasing@example.com\r\nSubject: %s\r\nDate: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
			msg.from, msg.subject, msg.sentAt.Format(time.RFC1123Z), msg.body)
		if err := imapServer.AppendRaw(imap.DefaultFolder, raw); err != nil {
			return fmt.Errorf("failed to add message %q: %w", msg.subject, err)
		}
	}

	return nil
}

// cannedCompleter answers every chat completion with a fixed reply so drafting works offline.
type cannedCompleter struct{}

func (cannedCompleter) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	reply := "Hello,\n\nThanks for reaching out! I'd be happy to help. " +
		"The next step is to book a tour so you can see the unit in person.\n\n" +
		"— [Manager Name]"
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply}},
		},
	}, nil
}
