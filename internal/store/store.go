package store

import (
	"context"
	"errors"

	"github.com/nrpatel890/email-agent/internal/models"
)

var (
	// ErrInboundEmailNotFound is returned when a requested inbound email cannot be found.
	ErrInboundEmailNotFound = errors.New("inbound email not found")
	// ErrDraftEmailNotFound is returned when a requested draft cannot be found.
	ErrDraftEmailNotFound = errors.New("draft email not found")
	// ErrInvalidDraftStatus is returned for a status outside draft/sent.
	ErrInvalidDraftStatus = errors.New("invalid draft status")
	// ErrInvalidStatusTransition is returned when a sent draft would move back to draft.
	ErrInvalidStatusTransition = errors.New("invalid draft status transition")
	// ErrDraftAlreadySent is returned when editing a draft that has already been sent.
	ErrDraftAlreadySent = errors.New("draft already sent")
)

// Store is the registry of inbound emails and drafts.
// Lists are returned newest-first and records are returned as copies.
type Store interface {
	AddInboundEmail(ctx context.Context, email models.NewInboundEmail) (*models.InboundEmail, error)
	ListInboundEmails(ctx context.Context) ([]models.InboundEmail, error)
	GetInboundEmail(ctx context.Context, id string) (*models.InboundEmail, error)

	AddDraftEmail(ctx context.Context, draft models.NewDraftEmail) (*models.DraftEmail, error)
	ListDraftEmails(ctx context.Context, filter models.DraftFilter) ([]models.DraftEmail, error)
	GetDraftEmail(ctx context.Context, id string) (*models.DraftEmail, error)
	UpdateDraftStatus(ctx context.Context, id string, status models.DraftStatus) (*models.DraftEmail, error)
	UpdateDraftContent(ctx context.Context, id string, edit models.DraftEdit) (*models.DraftEmail, error)
}
