package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nrpatel890/email-agent/internal/models"
)

const systemPrompt = `You are Ava, the AI leasing assistant. Craft a concise, friendly email *to* the lead on behalf of the property manager.
Respond ONLY with the email text (no subject line, no commentary).

Instructions:
1. If lead.name is provided, start with "Hi [Lead Name],". Otherwise start with "Hello,".
2. Briefly acknowledge or address the content of *inboundText*.
3. Use lead.aiSummary (if present) to guide context and next steps.
4. Clearly state the next recommended action (tour scheduling, application, answering questions, etc.).
5. End with a signature placeholder on its own line:
   — [Manager Name]`

// buildUserPrompt embeds the lead as indented JSON and the inbound text verbatim.
func buildUserPrompt(lead models.Lead, inboundText string) (string, error) {
	leadJSON, err := json.MarshalIndent(lead, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode lead: %w", err)
	}

	var b strings.Builder
	b.WriteString("Lead JSON:\n")
	b.Write(leadJSON)
	b.WriteString("\n\nLatest email *from the lead*:\n\"\"\"\n")
	b.WriteString(inboundText)
	b.WriteString("\n\"\"\"\n\nDraft the reply now.")
	return b.String(), nil
}

// cleanReply trims the completion and drops a leading "Subject:" line the model sometimes adds.
func cleanReply(content string) string {
	reply := strings.TrimSpace(content)
	firstLine, rest, found := strings.Cut(reply, "\n")
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(firstLine)), "subject:") {
		if !found {
			return ""
		}
		reply = strings.TrimSpace(rest)
	}
	return reply
}
