package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nrpatel890/email-agent/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func addTestDraft(t *testing.T, s *MemoryStore, to, subject string) *models.DraftEmail {
	t.Helper()
	draft, err := s.AddDraftEmail(context.Background(), models.NewDraftEmail{
		InboundID: "inbound-1",
		To:        to,
		Subject:   subject,
		Text:      "Hello,\nThanks for reaching out.",
		HTML:      "Hello,<br/>Thanks for reaching out.",
	})
	require.NoError(t, err)
	return draft
}

func TestMemoryStore_InboundEmails(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns id and returns stored fields", func(t *testing.T) {
		s := NewMemoryStore()
		receivedAt := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

		record, err := s.AddInboundEmail(ctx, models.NewInboundEmail{
			From:       "a@x.com",
			FromName:   "A",
			Subject:    "Hi",
			Text:       "When can I tour?",
			ReceivedAt: receivedAt,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, record.ID)

		found, err := s.GetInboundEmail(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, *record, *found)
		assert.Equal(t, "a@x.com", found.From)
		assert.Equal(t, "A", found.FromName)
		assert.Equal(t, receivedAt, found.ReceivedAt)
	})

	t.Run("lists newest first", func(t *testing.T) {
		s := NewMemoryStore()
		first, _ := s.AddInboundEmail(ctx, models.NewInboundEmail{Subject: "first"})
		second, _ := s.AddInboundEmail(ctx, models.NewInboundEmail{Subject: "second"})
		third, _ := s.AddInboundEmail(ctx, models.NewInboundEmail{Subject: "third"})

		list, err := s.ListInboundEmails(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, third.ID, list[0].ID)
		assert.Equal(t, second.ID, list[1].ID)
		assert.Equal(t, first.ID, list[2].ID)
	})

	t.Run("returns empty non-nil list when empty", func(t *testing.T) {
		list, err := NewMemoryStore().ListInboundEmails(ctx)
		require.NoError(t, err)
		assert.NotNil(t, list)
		assert.Empty(t, list)
	})

	t.Run("returns not found for unknown id", func(t *testing.T) {
		_, err := NewMemoryStore().GetInboundEmail(ctx, "missing")
		assert.ErrorIs(t, err, ErrInboundEmailNotFound)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		s := NewMemoryStore()
		record, _ := s.AddInboundEmail(ctx, models.NewInboundEmail{Subject: "original"})
		record.Subject = "changed"

		list, _ := s.ListInboundEmails(ctx)
		list[0].Subject = "changed again"

		found, err := s.GetInboundEmail(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, "original", found.Subject)
	})
}

func TestMemoryStore_AddDraftEmail(t *testing.T) {
	now := time.Date(2024, 1, 15, 14, 22, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(fixedClock(now))

	draft := addTestDraft(t, s, "sarah@example.com", "Re: Tour")

	assert.NotEmpty(t, draft.ID)
	assert.Equal(t, "inbound-1", draft.InboundID)
	assert.Equal(t, models.DraftStatusDraft, draft.Status)
	assert.Equal(t, now, draft.CreatedAt)
	assert.Equal(t, now, draft.UpdatedAt)
	assert.Nil(t, draft.SentAt)

	other := addTestDraft(t, s, "sarah@example.com", "Re: Tour")
	assert.NotEqual(t, draft.ID, other.ID, "drafts for the same inbound must not be deduplicated")

	list, err := s.ListDraftEmails(context.Background(), models.DraftFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, other.ID, list[0].ID)
	assert.Equal(t, draft.ID, list[1].ID)
}

func TestMemoryStore_ListDraftEmailsFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sarah := addTestDraft(t, s, "sarah@example.com", "Re: Application status")
	michael := addTestDraft(t, s, "michael@example.com", "Re: Move-in incentive")
	_, err := s.UpdateDraftStatus(ctx, michael.ID, models.DraftStatusSent)
	require.NoError(t, err)

	tests := []struct {
		name     string
		filter   models.DraftFilter
		expected []string
	}{
		{name: "no filter", filter: models.DraftFilter{}, expected: []string{michael.ID, sarah.ID}},
		{name: "by status", filter: models.DraftFilter{Status: models.DraftStatusDraft}, expected: []string{sarah.ID}},
		{name: "by subject query", filter: models.DraftFilter{Query: "INCENTIVE"}, expected: []string{michael.ID}},
		{name: "by recipient query", filter: models.DraftFilter{Query: "sarah"}, expected: []string{sarah.ID}},
		{name: "status and query", filter: models.DraftFilter{Status: models.DraftStatusSent, Query: "sarah"}, expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListDraftEmails(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(list))
			for _, d := range list {
				ids = append(ids, d.ID)
			}
			assert.Equal(t, tt.expected, ids)
		})
	}
}

func TestMemoryStore_UpdateDraftStatus(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	sent := created.Add(time.Hour)

	t.Run("unknown id leaves the store unchanged", func(t *testing.T) {
		s := NewMemoryStore()
		draft := addTestDraft(t, s, "a@x.com", "Re: Hi")

		_, err := s.UpdateDraftStatus(ctx, "missing", models.DraftStatusSent)
		assert.ErrorIs(t, err, ErrDraftEmailNotFound)

		found, err := s.GetDraftEmail(ctx, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, *draft, *found)
	})

	t.Run("changes only the status and its timestamps", func(t *testing.T) {
		s := NewMemoryStore().WithClock(fixedClock(created))
		draft := addTestDraft(t, s, "a@x.com", "Re: Hi")
		s.WithClock(fixedClock(sent))

		updated, err := s.UpdateDraftStatus(ctx, draft.ID, models.DraftStatusSent)
		require.NoError(t, err)

		expected := *draft
		expected.Status = models.DraftStatusSent
		expected.UpdatedAt = sent
		expected.SentAt = &sent
		assert.Equal(t, expected, *updated)

		found, err := s.GetDraftEmail(ctx, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, expected, *found)
	})

	t.Run("rejects sent to draft", func(t *testing.T) {
		s := NewMemoryStore()
		draft := addTestDraft(t, s, "a@x.com", "Re: Hi")
		_, err := s.UpdateDraftStatus(ctx, draft.ID, models.DraftStatusSent)
		require.NoError(t, err)

		_, err = s.UpdateDraftStatus(ctx, draft.ID, models.DraftStatusDraft)
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)

		found, _ := s.GetDraftEmail(ctx, draft.ID)
		assert.Equal(t, models.DraftStatusSent, found.Status)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		s := NewMemoryStore()
		draft := addTestDraft(t, s, "a@x.com", "Re: Hi")

		updated, err := s.UpdateDraftStatus(ctx, draft.ID, models.DraftStatusDraft)
		require.NoError(t, err)
		assert.Equal(t, *draft, *updated)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		s := NewMemoryStore()
		draft := addTestDraft(t, s, "a@x.com", "Re: Hi")

		_, err := s.UpdateDraftStatus(ctx, draft.ID, models.DraftStatus("failed"))
		assert.ErrorIs(t, err, ErrInvalidDraftStatus)
	})

	t.Run("concurrent sends leave a single consistent record", func(t *testing.T) {
		s := NewMemoryStore()
		draft := addTestDraft(t, s, "a@x.com", "Re: Hi")

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.UpdateDraftStatus(ctx, draft.ID, models.DraftStatusSent)
			}()
		}
		wg.Wait()

		found, err := s.GetDraftEmail(ctx, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DraftStatusSent, found.Status)
	})
}

func TestMemoryStore_UpdateDraftContent(t *testing.T) {
	ctx := context.Background()
	strPtr := func(s string) *string { return &s }

	t.Run("text edit rebuilds html", func(t *testing.T) {
		s := NewMemoryStore()
		draft := addTestDraft(t, s, "a@x.com", "Re: Hi")

		updated, err := s.UpdateDraftContent(ctx, draft.ID, models.DraftEdit{Text: strPtr("Hi A,\nSee you Friday.")})
		require.NoError(t, err)
		assert.Equal(t, "Hi A,\nSee you Friday.", updated.Text)
		assert.Equal(t, "Hi A,<br/>See you Friday.", updated.HTML)
		assert.Equal(t, draft.Subject, updated.Subject)
	})

	t.Run("explicit html wins over derived html", func(t *testing.T) {
		s := NewMemoryStore()
		draft := addTestDraft(t, s, "a@x.com", "Re: Hi")

		updated, err := s.UpdateDraftContent(ctx, draft.ID, models.DraftEdit{
			Subject: strPtr("Re: Hi there"),
			Text:    strPtr("plain"),
			HTML:    strPtr("<p>rich</p>"),
		})
		require.NoError(t, err)
		assert.Equal(t, "Re: Hi there", updated.Subject)
		assert.Equal(t, "plain", updated.Text)
		assert.Equal(t, "<p>rich</p>", updated.HTML)
	})

	t.Run("rejects edits to sent drafts", func(t *testing.T) {
		s := NewMemoryStore()
		draft := addTestDraft(t, s, "a@x.com", "Re: Hi")
		_, err := s.UpdateDraftStatus(ctx, draft.ID, models.DraftStatusSent)
		require.NoError(t, err)

		_, err = s.UpdateDraftContent(ctx, draft.ID, models.DraftEdit{Text: strPtr("too late")})
		assert.ErrorIs(t, err, ErrDraftAlreadySent)
	})

	t.Run("returns not found for unknown id", func(t *testing.T) {
		_, err := NewMemoryStore().UpdateDraftContent(ctx, "missing", models.DraftEdit{Text: strPtr("x")})
		assert.ErrorIs(t, err, ErrDraftEmailNotFound)
	})
}
