// Package generate is the gateway to the language model: prompt
// construction, shared capacity control, retry with fallback, and token
// streaming.
package generate

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	docerrors "github.com/docsense/docsense/internal/errors"
)

// Request is one completion call.
type Request struct {
	System      string
	User        string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client executes completion requests against a model provider.
type Client interface {
	// Complete returns the full completion text.
	Complete(ctx context.Context, req Request) (string, error)
	// Stream delivers tokens through onToken as they arrive and returns
	// the accumulated text.
	Stream(ctx context.Context, req Request, onToken func(string)) (string, error)
}

// OpenAIClient talks to any OpenAI-compatible chat completions API,
// such as OpenRouter. Outbound calls are throttled by a client-side
// rate limiter so bursts degrade into queueing instead of 429 storms.
type OpenAIClient struct {
	client  openai.Client
	limiter *rate.Limiter
}

// ClientOptions configures the API client.
type ClientOptions struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
}

// NewOpenAIClient creates the API client.
func NewOpenAIClient(opts ClientOptions) *OpenAIClient {
	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	return &OpenAIClient{
		client:  openai.NewClient(clientOpts...),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (c *OpenAIClient) params(req Request) openai.ChatCompletionNewParams {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    req.Model,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	return params
}

// Complete executes a non-streaming completion.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", docerrors.GenerationTransient("model returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream executes a streaming completion, invoking onToken per delta.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, onToken func(string)) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(req))
	defer stream.Close()

	var acc openai.ChatCompletionAccumulator
	for stream.Next() {
		part := stream.Current()
		acc.AddChunk(part)
		if len(part.Choices) > 0 && part.Choices[0].Delta.Content != "" {
			if onToken != nil {
				onToken(part.Choices[0].Delta.Content)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", classify(err)
	}
	if len(acc.Choices) == 0 {
		return "", docerrors.GenerationTransient("model returned no choices", nil)
	}
	return acc.Choices[0].Message.Content, nil
}

// classify maps provider errors onto the retry taxonomy: rate limits and
// server errors are transient, other API errors are permanent, and
// everything else (network, timeouts) is transient.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return docerrors.GenerationTransient(
				fmt.Sprintf("model API returned %d", apiErr.StatusCode), err)
		}
		return docerrors.GenerationPermanent(
			fmt.Sprintf("model API returned %d", apiErr.StatusCode), err)
	}

	return docerrors.GenerationTransient("model call failed", err)
}
