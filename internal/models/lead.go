package models

// Lead is a prospective resident the assistant replies to.
type Lead struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	AISummary string `json:"aiSummary,omitempty"`
}
