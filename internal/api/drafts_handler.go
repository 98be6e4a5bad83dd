package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nrpatel890/email-agent/internal/agent"
	"github.com/nrpatel890/email-agent/internal/delivery"
	"github.com/nrpatel890/email-agent/internal/models"
	"github.com/nrpatel890/email-agent/internal/store"
	ws "github.com/nrpatel890/email-agent/internal/websocket"
	"github.com/sirupsen/logrus"
)

// maxEditBodyBytes caps the size of a draft edit request.
const maxEditBodyBytes = 1 << 20

// DraftsHandler handles reply generation, draft review and sending.
type DraftsHandler struct {
	store    store.Store
	drafter  agent.ReplyDrafter
	sender   delivery.Sender
	notifier ws.Notifier
	logger   *logrus.Logger
}

// NewDraftsHandler creates a new DraftsHandler instance.
func NewDraftsHandler(s store.Store, drafter agent.ReplyDrafter, sender delivery.Sender, notifier ws.Notifier, logger *logrus.Logger) *DraftsHandler {
	if notifier == nil {
		notifier = ws.NopNotifier{}
	}
	return &DraftsHandler{
		store:    s,
		drafter:  drafter,
		sender:   sender,
		notifier: notifier,
		logger:   logger,
	}
}

// GenerateDraft drafts a reply to the inbound email named in the path and stores it as a draft.
func (h *DraftsHandler) GenerateDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inboundID := r.PathValue("id")

	inbound, err := h.store.GetInboundEmail(ctx, inboundID)
	if err != nil {
		if errors.Is(err, store.ErrInboundEmailNotFound) {
			http.Error(w, "Inbound email not found", http.StatusNotFound)
			return
		}
		h.logger.WithError(err).Error("DraftsHandler: failed to get inbound email")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	reply, err := h.drafter.DraftReply(ctx, agent.DraftReplyParams{
		Lead:        models.Lead{Name: inbound.FromName, Email: inbound.From},
		InboundText: inbound.Text,
	})
	if err != nil {
		log := h.logger.WithError(err).WithField("inboundId", inboundID)
		if errors.Is(err, agent.ErrProviderTimeout) {
			log.Error("DraftsHandler: reply generation timed out")
			http.Error(w, "Reply generation timed out", http.StatusGatewayTimeout)
			return
		}
		log.Error("DraftsHandler: reply generation failed")
		http.Error(w, "Reply generation failed", http.StatusBadGateway)
		return
	}

	draft, err := h.store.AddDraftEmail(ctx, models.NewDraftEmail{
		InboundID: inbound.ID,
		To:        inbound.From,
		Subject:   "Re: " + inbound.Subject,
		Text:      reply,
		HTML:      models.TextToHTML(reply),
	})
	if err != nil {
		h.logger.WithError(err).Error("DraftsHandler: failed to store draft")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.notifier.Publish(ws.EventDraftCreated, draft.ID)
	writeJSON(w, h.logger, http.StatusCreated, draft)
}

// ListDrafts returns drafts newest first, optionally filtered by ?status= and ?q=.
func (h *DraftsHandler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.DraftFilter{
		Status: models.DraftStatus(query.Get("status")),
		Query:  query.Get("q"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		http.Error(w, "Invalid status", http.StatusBadRequest)
		return
	}

	drafts, err := h.store.ListDraftEmails(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("DraftsHandler: failed to list drafts")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if drafts == nil {
		drafts = []models.DraftEmail{}
	}

	writeJSON(w, h.logger, http.StatusOK, drafts)
}

// GetDraft returns a single draft.
func (h *DraftsHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	draft, ok := h.findDraft(w, r)
	if !ok {
		return
	}
	writeJSON(w, h.logger, http.StatusOK, draft)
}

// PatchDraft applies a reviewer's edit to a draft that has not been sent.
func (h *DraftsHandler) PatchDraft(w http.ResponseWriter, r *http.Request) {
	var edit models.DraftEdit
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEditBodyBytes)).Decode(&edit); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if edit.IsEmpty() {
		http.Error(w, "No fields to update", http.StatusBadRequest)
		return
	}

	draft, err := h.store.UpdateDraftContent(r.Context(), r.PathValue("id"), edit)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDraftEmailNotFound):
			http.Error(w, "Draft not found", http.StatusNotFound)
		case errors.Is(err, store.ErrDraftAlreadySent):
			http.Error(w, "Draft already sent", http.StatusConflict)
		default:
			h.logger.WithError(err).Error("DraftsHandler: failed to update draft")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.notifier.Publish(ws.EventDraftUpdated, draft.ID)
	writeJSON(w, h.logger, http.StatusOK, draft)
}

// SendDraft delivers a draft and marks it sent. A failed delivery leaves the draft untouched.
func (h *DraftsHandler) SendDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	draft, ok := h.findDraft(w, r)
	if !ok {
		return
	}
	if draft.Status == models.DraftStatusSent {
		http.Error(w, "Draft already sent", http.StatusConflict)
		return
	}

	err := h.sender.Send(ctx, delivery.Message{
		To:      []string{draft.To},
		Subject: draft.Subject,
		HTML:    draft.HTML,
		Text:    draft.Text,
	})
	if err != nil {
		log := h.logger.WithError(err).WithField("draftId", draft.ID)
		switch {
		case errors.Is(err, delivery.ErrMissingAPIKey):
			log.Error("DraftsHandler: delivery is not configured")
			http.Error(w, "Email delivery is not configured", http.StatusInternalServerError)
		case errors.Is(err, delivery.ErrInvalidMessage):
			log.Warn("DraftsHandler: draft cannot be delivered")
			http.Error(w, "Draft cannot be delivered", http.StatusUnprocessableEntity)
		case errors.Is(err, delivery.ErrDeliveryTimeout):
			log.Error("DraftsHandler: delivery timed out")
			http.Error(w, "Email delivery timed out", http.StatusGatewayTimeout)
		default:
			log.Error("DraftsHandler: delivery failed")
			http.Error(w, "Email delivery failed", http.StatusBadGateway)
		}
		return
	}

	sent, err := h.store.UpdateDraftStatus(ctx, draft.ID, models.DraftStatusSent)
	if err != nil {
		h.logger.WithError(err).WithField("draftId", draft.ID).Error("DraftsHandler: draft delivered but status update failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.notifier.Publish(ws.EventDraftSent, sent.ID)
	writeJSON(w, h.logger, http.StatusOK, sent)
}

// findDraft loads the draft named in the path and writes the error response when it cannot.
func (h *DraftsHandler) findDraft(w http.ResponseWriter, r *http.Request) (*models.DraftEmail, bool) {
	draft, err := h.store.GetDraftEmail(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrDraftEmailNotFound) {
			http.Error(w, "Draft not found", http.StatusNotFound)
			return nil, false
		}
		h.logger.WithError(err).Error("DraftsHandler: failed to get draft")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return draft, true
}
