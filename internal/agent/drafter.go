package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nrpatel890/email-agent/internal/models"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

const (
	DefaultModel       = openai.GPT3Dot5Turbo
	DefaultMaxTokens   = 350
	DefaultTemperature = 0.7
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 2
)

var (
	// ErrProviderFailed is returned when the language-model call fails.
	ErrProviderFailed = errors.New("language model request failed")
	// ErrProviderTimeout is returned when the language-model call does not finish in time.
	ErrProviderTimeout = errors.New("language model request timed out")
	// ErrEmptyCompletion is returned when the model answers with no usable text.
	ErrEmptyCompletion = errors.New("language model returned no reply")
)

// ChatCompleter is the slice of the OpenAI client the drafter needs. *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ReplyDrafter produces reply bodies for inbound lead emails.
type ReplyDrafter interface {
	DraftReply(ctx context.Context, params DraftReplyParams) (string, error)
}

// DraftReplyParams is the input of a reply draft.
type DraftReplyParams struct {
	Lead models.Lead
	// InboundText is the plain-text body of the lead's latest email.
	InboundText string
}

// Options tunes the drafter. Zero values fall back to the defaults above.
type Options struct {
	Model     string
	MaxTokens int
	// Temperature is nil for DefaultTemperature. Use Float32(0) for deterministic output.
	Temperature *float32
	Timeout     time.Duration
	MaxRetries  int
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
}

// Drafter writes reply emails through a chat completion provider.
type Drafter struct {
	client ChatCompleter
	opts   Options
	logger *logrus.Logger
}

var _ ReplyDrafter = (*Drafter)(nil)

// NewDrafter creates a drafter with defaults applied to any unset option.
func NewDrafter(client ChatCompleter, opts Options, logger *logrus.Logger) *Drafter {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature == nil || *opts.Temperature < 0 {
		opts.Temperature = Float32(DefaultTemperature)
	} else {
		opts.Temperature = Float32(*opts.Temperature)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Drafter{
		client: client,
		opts:   opts,
		logger: logger,
	}
}

// Float32 returns a pointer to v, for Options.Temperature.
func Float32(v float32) *float32 {
	return &v
}

// requestTemperature keeps an explicit zero on the wire. The client omits a zero temperature,
// which the provider would read as its own default.
func requestTemperature(v float32) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return v
}

// DraftReply returns only the reply body: no subject line and no commentary.
func (d *Drafter) DraftReply(ctx context.Context, params DraftReplyParams) (string, error) {
	userPrompt, err := buildUserPrompt(params.Lead, params.InboundText)
	if err != nil {
		return "", err
	}

	request := openai.ChatCompletionRequest{
		Model: d.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: requestTemperature(*d.opts.Temperature),
		MaxTokens:   d.opts.MaxTokens,
	}

	var reply string
	operation := func() error {
		text, err := d.complete(ctx, request)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		reply = text
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.opts.InitialBackoff
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.opts.MaxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"model": d.opts.Model,
			"wait":  wait.String(),
		}).Warn("Drafter: retrying reply draft")
	}

	if err := backoff.RetryNotify(operation, retry, notify); err != nil {
		return "", err
	}
	return reply, nil
}

// complete runs a single attempt with its own timeout.
func (d *Drafter) complete(ctx context.Context, request openai.ChatCompletionRequest) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	response, err := d.client.CreateChatCompletion(attemptCtx, request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s: %w", ErrProviderTimeout, d.opts.Timeout, err)
		}
		return "", fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	if len(response.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	reply := cleanReply(response.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyCompletion
	}
	return reply, nil
}

// isRetryable reports whether a failed attempt is worth repeating.
// Authentication, exhausted quota, other client errors and caller cancellation are final.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrEmptyCompletion) || errors.Is(err, ErrProviderTimeout) {
		return true
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Type == "insufficient_quota" {
			return false
		}
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == 0:
		// Transport-level failure without a response.
		return true
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}
