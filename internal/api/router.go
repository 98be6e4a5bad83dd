package api

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// NewRouter mounts every API route on a new mux and wraps it with request logging.
func NewRouter(inbound *InboundHandler, drafts *DraftsHandler, wsHandler *WebSocketHandler, logger *logrus.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", handleRoot)

	mux.HandleFunc("POST /api/email/inbound", inbound.PostInbound)
	mux.HandleFunc("GET /api/email/inbound", inbound.ListInbound)
	mux.HandleFunc("GET /api/email/inbound/{id}", inbound.GetInbound)

	mux.HandleFunc("POST /api/email/{id}/generate-draft", drafts.GenerateDraft)
	mux.HandleFunc("GET /api/email/drafts", drafts.ListDrafts)
	mux.HandleFunc("GET /api/email/drafts/{id}", drafts.GetDraft)
	mux.HandleFunc("PATCH /api/email/drafts/{id}", drafts.PatchDraft)
	mux.HandleFunc("POST /api/email/drafts/{id}/send", drafts.SendDraft)

	mux.HandleFunc("GET /api/ws", wsHandler.Handle)

	return LogRequests(logger, mux)
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Email agent API is running")
}
