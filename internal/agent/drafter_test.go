package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nrpatel890/email-agent/internal/models"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(openai.ChatCompletionResponse), args.Error(1)
}

func completion(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDrafter(client ChatCompleter, opts Options) *Drafter {
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = time.Millisecond
	}
	return NewDrafter(client, opts, quietLogger())
}

var testParams = DraftReplyParams{
	Lead:        models.Lead{Name: "A", Email: "a@x.com"},
	InboundText: "When can I tour?",
}

func TestDrafter_DraftReply(t *testing.T) {
	ctx := context.Background()

	t.Run("sends the templated prompt with fixed parameters", func(t *testing.T) {
		client := new(mockCompleter)
		var captured openai.ChatCompletionRequest
		client.On("CreateChatCompletion", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				captured = args.Get(1).(openai.ChatCompletionRequest)
			}).
			Return(completion("  Hi A,\n\nThanks for asking about tours.\n\n— [Manager Name]  \n"), nil).
			Once()

		reply, err := newTestDrafter(client, Options{}).DraftReply(ctx, testParams)
		require.NoError(t, err)
		assert.Equal(t, "Hi A,\n\nThanks for asking about tours.\n\n— [Manager Name]", reply)

		assert.Equal(t, openai.GPT3Dot5Turbo, captured.Model)
		assert.Equal(t, 350, captured.MaxTokens)
		assert.InDelta(t, 0.7, captured.Temperature, 0.0001)
		require.Len(t, captured.Messages, 2)

		system := captured.Messages[0]
		assert.Equal(t, openai.ChatMessageRoleSystem, system.Role)
		assert.Contains(t, system.Content, "You are Ava, the AI leasing assistant.")
		assert.Contains(t, system.Content, "— [Manager Name]")

		user := captured.Messages[1]
		assert.Equal(t, openai.ChatMessageRoleUser, user.Role)
		assert.Contains(t, user.Content, "Lead JSON:\n{\n  \"name\": \"A\",\n  \"email\": \"a@x.com\"\n}")
		assert.Contains(t, user.Content, "\"\"\"\nWhen can I tour?\n\"\"\"")
		assert.NotContains(t, user.Content, "aiSummary")
		assert.True(t, strings.HasSuffix(user.Content, "Draft the reply now."))
		client.AssertExpectations(t)
	})

	t.Run("includes the conversation summary when present", func(t *testing.T) {
		client := new(mockCompleter)
		client.On("CreateChatCompletion", mock.Anything, mock.MatchedBy(func(r openai.ChatCompletionRequest) bool {
			return strings.Contains(r.Messages[1].Content, `"aiSummary": "Wants a 2-bedroom in March"`)
		})).Return(completion("Hi A, ..."), nil).Once()

		params := testParams
		params.Lead.AISummary = "Wants a 2-bedroom in March"
		_, err := newTestDrafter(client, Options{}).DraftReply(ctx, params)
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("uses configured model", func(t *testing.T) {
		client := new(mockCompleter)
		client.On("CreateChatCompletion", mock.Anything, mock.MatchedBy(func(r openai.ChatCompletionRequest) bool {
			return r.Model == "gpt-4o-mini"
		})).Return(completion("Hello,"), nil).Once()

		_, err := newTestDrafter(client, Options{Model: "gpt-4o-mini"}).DraftReply(ctx, testParams)
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("keeps an explicit zero temperature", func(t *testing.T) {
		client := new(mockCompleter)
		var captured openai.ChatCompletionRequest
		client.On("CreateChatCompletion", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				captured = args.Get(1).(openai.ChatCompletionRequest)
			}).
			Return(completion("Hi A, ..."), nil).
			Once()

		_, err := newTestDrafter(client, Options{Temperature: Float32(0)}).DraftReply(ctx, testParams)
		require.NoError(t, err)
		assert.Greater(t, captured.Temperature, float32(0))
		assert.InDelta(t, 0, captured.Temperature, 0.0001)
	})

	t.Run("uses configured temperature", func(t *testing.T) {
		client := new(mockCompleter)
		client.On("CreateChatCompletion", mock.Anything, mock.MatchedBy(func(r openai.ChatCompletionRequest) bool {
			return r.Temperature == 0.2
		})).Return(completion("Hi A, ..."), nil).Once()

		_, err := newTestDrafter(client, Options{Temperature: Float32(0.2)}).DraftReply(ctx, testParams)
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("drops a leading subject line", func(t *testing.T) {
		client := new(mockCompleter)
		client.On("CreateChatCompletion", mock.Anything, mock.Anything).
			Return(completion("Subject: Re: Tour\n\nHi A,\nFriday works."), nil).Once()

		reply, err := newTestDrafter(client, Options{}).DraftReply(ctx, testParams)
		require.NoError(t, err)
		assert.Equal(t, "Hi A,\nFriday works.", reply)
	})

	t.Run("retries empty output then fails with empty completion", func(t *testing.T) {
		client := new(mockCompleter)
		client.On("CreateChatCompletion", mock.Anything, mock.Anything).
			Return(openai.ChatCompletionResponse{}, nil).Times(3)

		_, err := newTestDrafter(client, Options{MaxRetries: 2}).DraftReply(ctx, testParams)
		assert.ErrorIs(t, err, ErrEmptyCompletion)
		client.AssertNumberOfCalls(t, "CreateChatCompletion", 3)
	})

	t.Run("retries a transient provider error", func(t *testing.T) {
		client := new(mockCompleter)
		client.On("CreateChatCompletion", mock.Anything, mock.Anything).
			Return(openai.ChatCompletionResponse{}, &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable, Message: "overloaded"}).Once()
		client.On("CreateChatCompletion", mock.Anything, mock.Anything).
			Return(completion("Hi A, Thursday at 2 PM is open."), nil).Once()

		reply, err := newTestDrafter(client, Options{MaxRetries: 2}).DraftReply(ctx, testParams)
		require.NoError(t, err)
		assert.Equal(t, "Hi A, Thursday at 2 PM is open.", reply)
		client.AssertNumberOfCalls(t, "CreateChatCompletion", 2)
	})

	t.Run("does not retry authentication errors", func(t *testing.T) {
		client := new(mockCompleter)
		client.On("CreateChatCompletion", mock.Anything, mock.Anything).
			Return(openai.ChatCompletionResponse{}, &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "invalid api key"}).Once()

		_, err := newTestDrafter(client, Options{MaxRetries: 2}).DraftReply(ctx, testParams)
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.NotErrorIs(t, err, ErrProviderTimeout)
		client.AssertNumberOfCalls(t, "CreateChatCompletion", 1)
	})

	t.Run("does not retry exhausted quota", func(t *testing.T) {
		client := new(mockCompleter)
		client.On("CreateChatCompletion", mock.Anything, mock.Anything).
			Return(openai.ChatCompletionResponse{}, &openai.APIError{
				HTTPStatusCode: http.StatusTooManyRequests,
				Type:           "insufficient_quota",
				Message:        "You exceeded your current quota",
			}).Once()

		_, err := newTestDrafter(client, Options{MaxRetries: 2}).DraftReply(ctx, testParams)
		assert.ErrorIs(t, err, ErrProviderFailed)
		client.AssertNumberOfCalls(t, "CreateChatCompletion", 1)
	})

	t.Run("reports a hung provider as timeout", func(t *testing.T) {
		client := new(mockCompleter)
		client.On("CreateChatCompletion", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(openai.ChatCompletionResponse{}, context.DeadlineExceeded).Once()

		_, err := newTestDrafter(client, Options{Timeout: 20 * time.Millisecond, MaxRetries: 0}).DraftReply(ctx, testParams)
		assert.ErrorIs(t, err, ErrProviderTimeout)
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false},
		{"forbidden", &openai.RequestError{HTTPStatusCode: http.StatusForbidden}, false},
		{"network", io.ErrUnexpectedEOF, true},
		{"empty", ErrEmptyCompletion, true},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}
}

func TestDrafter_WithOpenAIClient(t *testing.T) {
	t.Run("round-trips through the OpenAI wire format", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "gpt-3.5-turbo", body["model"])
			assert.EqualValues(t, 350, body["max_tokens"])
			assert.Contains(t, body, "temperature")

			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"created": 1700000000,
				"model": "gpt-3.5-turbo",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi A,\nLet's get you a tour.\n— [Manager Name]"}, "finish_reason": "stop"}]
			}`)
		}))
		defer server.Close()

		client := NewOpenAIClient("test-key", server.URL+"/v1", server.Client())
		reply, err := newTestDrafter(client, Options{Temperature: Float32(0)}).DraftReply(context.Background(), testParams)
		require.NoError(t, err)
		assert.Equal(t, "Hi A,\nLet's get you a tour.\n— [Manager Name]", reply)
		assert.Equal(t, int32(1), requests.Load())
	})

	t.Run("surfaces an invalid key without retrying", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}}`)
		}))
		defer server.Close()

		client := NewOpenAIClient("bad-key", server.URL+"/v1", server.Client())
		_, err := newTestDrafter(client, Options{MaxRetries: 2}).DraftReply(context.Background(), testParams)
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Equal(t, int32(1), requests.Load())
	})
}

func TestCleanReply(t *testing.T) {
	assert.Equal(t, "Hello,", cleanReply("  Hello,  "))
	assert.Equal(t, "", cleanReply("Subject: only a subject"))
	assert.Equal(t, "Body", cleanReply("subject: lower\nBody"))
	assert.Equal(t, "Hi A,\nSubject: tours", cleanReply("Hi A,\nSubject: tours"))
}
