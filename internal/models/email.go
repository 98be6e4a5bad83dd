package models

import (
	"strings"
	"time"
)

// DraftStatus is the lifecycle state of an outgoing draft.
type DraftStatus string

const (
	DraftStatusDraft DraftStatus = "draft"
	DraftStatusSent  DraftStatus = "sent"
)

// Valid reports whether s is a status the store knows about.
func (s DraftStatus) Valid() bool {
	return s == DraftStatusDraft || s == DraftStatusSent
}

// InboundEmail is a message received from a lead. It is never modified after it is stored.
type InboundEmail struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	FromName   string    `json:"fromName"`
	Subject    string    `json:"subject"`
	Text       string    `json:"text"`
	HTML       string    `json:"html,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// NewInboundEmail holds the fields of an inbound email before the store assigns an ID.
type NewInboundEmail struct {
	From       string
	FromName   string
	Subject    string
	Text       string
	HTML       string
	ReceivedAt time.Time
}

// DraftEmail is an outgoing reply, generated by the drafting service and optionally edited.
type DraftEmail struct {
	ID        string      `json:"id"`
	InboundID string      `json:"inboundId,omitempty"`
	To        string      `json:"to"`
	Subject   string      `json:"subject"`
	Text      string      `json:"text"`
	HTML      string      `json:"html,omitempty"`
	Status    DraftStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	SentAt    *time.Time  `json:"sentAt,omitempty"`
}

// NewDraftEmail holds the fields of a draft before the store assigns ID, status and timestamps.
type NewDraftEmail struct {
	InboundID string
	To        string
	Subject   string
	Text      string
	HTML      string
}

// DraftEdit is a partial update of a draft's content. Nil fields are left unchanged.
type DraftEdit struct {
	Subject *string `json:"subject,omitempty"`
	Text    *string `json:"text,omitempty"`
	HTML    *string `json:"html,omitempty"`
}

// IsEmpty reports whether the edit changes nothing.
func (e DraftEdit) IsEmpty() bool {
	return e.Subject == nil && e.Text == nil && e.HTML == nil
}

// DraftFilter narrows a draft listing. The zero value matches every draft.
type DraftFilter struct {
	Status DraftStatus
	// Query is matched case-insensitively against the recipient and the subject.
	Query string
}

// InboundCreatedResponse is returned after an inbound email is accepted.
type InboundCreatedResponse struct {
	ID string `json:"id"`
}

// TextToHTML renders a plain-text body as HTML by turning newlines into line breaks.
func TextToHTML(text string) string {
	return strings.ReplaceAll(text, "\n", "<br/>")
}
