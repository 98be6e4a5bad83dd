package api

import (
	"errors"
	"net/http"

	"github.com/nrpatel890/email-agent/internal/ingest"
	"github.com/nrpatel890/email-agent/internal/models"
	"github.com/nrpatel890/email-agent/internal/store"
	ws "github.com/nrpatel890/email-agent/internal/websocket"
	"github.com/sirupsen/logrus"
)

// InboundHandler handles the inbound email webhook and inbound listings.
type InboundHandler struct {
	store    store.Store
	parser   ingest.MessageParser
	notifier ws.Notifier
	logger   *logrus.Logger
}

// NewInboundHandler creates a new InboundHandler instance.
func NewInboundHandler(s store.Store, parser ingest.MessageParser, notifier ws.Notifier, logger *logrus.Logger) *InboundHandler {
	if notifier == nil {
		notifier = ws.NopNotifier{}
	}
	return &InboundHandler{
		store:    s,
		parser:   parser,
		notifier: notifier,
		logger:   logger,
	}
}

// PostInbound accepts a provider webhook carrying a raw MIME message in the "email" form field.
func (h *InboundHandler) PostInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := ingest.ReadRawEmail(r, ingest.DefaultMaxMemory)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrMissingEmailField):
			http.Error(w, "Missing email field", http.StatusBadRequest)
		default:
			http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		}
		return
	}

	fields, err := h.parser.Parse(raw)
	if err != nil {
		h.logger.WithError(err).Error("InboundHandler: failed to parse inbound email")
		http.Error(w, "Failed to parse email", http.StatusInternalServerError)
		return
	}

	email, err := h.store.AddInboundEmail(ctx, *fields)
	if err != nil {
		h.logger.WithError(err).Error("InboundHandler: failed to store inbound email")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"id":      email.ID,
		"from":    email.From,
		"subject": email.Subject,
	}).Info("InboundHandler: inbound email stored")
	h.notifier.Publish(ws.EventInboundReceived, email.ID)

	writeJSON(w, h.logger, http.StatusCreated, models.InboundCreatedResponse{ID: email.ID})
}

// ListInbound returns every inbound email, newest first.
func (h *InboundHandler) ListInbound(w http.ResponseWriter, r *http.Request) {
	emails, err := h.store.ListInboundEmails(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("InboundHandler: failed to list inbound emails")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if emails == nil {
		emails = []models.InboundEmail{}
	}

	writeJSON(w, h.logger, http.StatusOK, emails)
}

// GetInbound returns a single inbound email.
func (h *InboundHandler) GetInbound(w http.ResponseWriter, r *http.Request) {
	email, err := h.store.GetInboundEmail(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrInboundEmailNotFound) {
			http.Error(w, "Inbound email not found", http.StatusNotFound)
			return
		}
		h.logger.WithError(err).Error("InboundHandler: failed to get inbound email")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, email)
}
