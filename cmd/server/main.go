package main

import (
	"context"
	"errors"
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
	ws "github.com/nrpatel890/email-agent/internal/websocket"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, poller := NewServer(cfg, logger)
	if poller != nil {
		go poller.Run(ctx)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"address":     server.Addr,
		"environment": cfg.Environment,
		"poller":      poller != nil,
	}).Info("Email agent server starting")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("Server failed to start")
	}
	logger.Info("Server stopped")
}

// newLogger builds the process logger: text in development, JSON elsewhere.
func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if cfg.Environment == "development" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// NewServer wires the store, providers and handlers and returns the HTTP handler.
// The poller is nil when no mailbox is configured.
func NewServer(cfg *config.Config, logger *logrus.Logger) (http.Handler, *imap.Poller) {
	emailStore := store.NewMemoryStore()
	parser := ingest.NewParser()
	hub := ws.NewHub(cfg.WSMaxClients, logger)

	drafter := agent.NewDrafter(
		agent.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, nil),
		agent.Options{
			Model:       cfg.OpenAIModel,
			Temperature: cfg.OpenAITemperature,
			Timeout:     cfg.LLMTimeout,
			MaxRetries:  agent.DefaultMaxRetries,
		},
		logger,
	)

	mailer := delivery.NewMailer(
		delivery.NewSMTPTransport(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SendGridAPIKey),
		delivery.Options{
			APIKey:      cfg.SendGridAPIKey,
			DefaultFrom: cfg.DefaultFromEmail,
			Timeout:     cfg.DeliveryTimeout,
		},
		logger,
	)
	if cfg.SendGridAPIKey == "" {
		logger.Warn("SENDGRID_API_KEY is not set; sending drafts will fail")
	}

	router := api.NewRouter(
		api.NewInboundHandler(emailStore, parser, hub, logger),
		api.NewDraftsHandler(emailStore, drafter, mailer, hub, logger),
		api.NewWebSocketHandler(hub, logger),
		logger,
	)

	var poller *imap.Poller
	if cfg.PollerEnabled() {
		poller = imap.NewPoller(imap.PollerConfig{
			Server:   cfg.IMAPServer,
			Username: cfg.IMAPUsername,
			Password: cfg.IMAPPassword,
			Folder:   cfg.IMAPFolder,
			UseTLS:   cfg.IMAPUseTLS,
			Interval: cfg.IMAPPollInterval,
		}, parser, emailStore, hub, logger)
	}

	return router, poller
}
