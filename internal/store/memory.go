package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nrpatel890/email-agent/internal/models"
)

// MemoryStore keeps everything in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu sync.RWMutex

	// Both slices are in insertion order; listings walk them backwards.
	inbound     []*models.InboundEmail
	inboundByID map[string]*models.InboundEmail
	drafts      []*models.DraftEmail
	draftsByID  map[string]*models.DraftEmail

	now   func() time.Time
	newID func() string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		inboundByID: make(map[string]*models.InboundEmail),
		draftsByID:  make(map[string]*models.DraftEmail),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) AddInboundEmail(_ context.Context, email models.NewInboundEmail) (*models.InboundEmail, error) {
	record := &models.InboundEmail{
		ID:         s.newID(),
		From:       email.From,
		FromName:   email.FromName,
		Subject:    email.Subject,
		Text:       email.Text,
		HTML:       email.HTML,
		ReceivedAt: email.ReceivedAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inbound = append(s.inbound, record)
	s.inboundByID[record.ID] = record

	result := *record
	return &result, nil
}

func (s *MemoryStore) ListInboundEmails(_ context.Context) ([]models.InboundEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.InboundEmail, 0, len(s.inbound))
	for i := len(s.inbound) - 1; i >= 0; i-- {
		result = append(result, *s.inbound[i])
	}
	return result, nil
}

func (s *MemoryStore) GetInboundEmail(_ context.Context, id string) (*models.InboundEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.inboundByID[id]
	if !ok {
		return nil, ErrInboundEmailNotFound
	}
	result := *record
	return &result, nil
}

func (s *MemoryStore) AddDraftEmail(_ context.Context, draft models.NewDraftEmail) (*models.DraftEmail, error) {
	now := s.now()
	record := &models.DraftEmail{
		ID:        s.newID(),
		InboundID: draft.InboundID,
		To:        draft.To,
		Subject:   draft.Subject,
		Text:      draft.Text,
		HTML:      draft.HTML,
		Status:    models.DraftStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.drafts = append(s.drafts, record)
	s.draftsByID[record.ID] = record

	return copyDraft(record), nil
}

func (s *MemoryStore) ListDraftEmails(_ context.Context, filter models.DraftFilter) ([]models.DraftEmail, error) {
	query := strings.ToLower(strings.TrimSpace(filter.Query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.DraftEmail, 0, len(s.drafts))
	for i := len(s.drafts) - 1; i >= 0; i-- {
		draft := s.drafts[i]
		if filter.Status != "" && draft.Status != filter.Status {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(draft.To), query) &&
			!strings.Contains(strings.ToLower(draft.Subject), query) {
			continue
		}
		result = append(result, *copyDraft(draft))
	}
	return result, nil
}

func (s *MemoryStore) GetDraftEmail(_ context.Context, id string) (*models.DraftEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	draft, ok := s.draftsByID[id]
	if !ok {
		return nil, ErrDraftEmailNotFound
	}
	return copyDraft(draft), nil
}

// UpdateDraftStatus moves a draft along draft -> sent. Setting the current status again is a no-op.
func (s *MemoryStore) UpdateDraftStatus(_ context.Context, id string, status models.DraftStatus) (*models.DraftEmail, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDraftStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.draftsByID[id]
	if !ok {
		return nil, ErrDraftEmailNotFound
	}

	if draft.Status == status {
		return copyDraft(draft), nil
	}
	if draft.Status == models.DraftStatusSent {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, draft.Status, status)
	}

	now := s.now()
	draft.Status = status
	draft.UpdatedAt = now
	if status == models.DraftStatusSent {
		draft.SentAt = &now
	}

	return copyDraft(draft), nil
}

// UpdateDraftContent applies an edit to a draft that has not been sent yet.
// When the text changes without an explicit HTML body, the HTML is rebuilt from the text.
func (s *MemoryStore) UpdateDraftContent(_ context.Context, id string, edit models.DraftEdit) (*models.DraftEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.draftsByID[id]
	if !ok {
		return nil, ErrDraftEmailNotFound
	}
	if draft.Status != models.DraftStatusDraft {
		return nil, ErrDraftAlreadySent
	}

	if edit.IsEmpty() {
		return copyDraft(draft), nil
	}

	if edit.Subject != nil {
		draft.Subject = *edit.Subject
	}
	if edit.Text != nil {
		draft.Text = *edit.Text
		if edit.HTML == nil {
			draft.HTML = models.TextToHTML(draft.Text)
		}
	}
	if edit.HTML != nil {
		draft.HTML = *edit.HTML
	}
	draft.UpdatedAt = s.now()

	return copyDraft(draft), nil
}

func copyDraft(d *models.DraftEmail) *models.DraftEmail {
	result := *d
	if d.SentAt != nil {
		sentAt := *d.SentAt
		result.SentAt = &sentAt
	}
	return &result
}
