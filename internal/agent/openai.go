package agent

import (
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// NewOpenAIClient builds the production chat completion client.
// An empty baseURL keeps the provider default.
func NewOpenAIClient(apiKey, baseURL string, httpClient *http.Client) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if httpClient != nil {
		config.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(config)
}
