// Package llm implements a thin wrapper over an OpenAI-compatible chat
// completions endpoint, with a unary Chat call that retries transport
// errors and a ChatStream call that turns upstream SSE deltas into a
// channel of non-empty tokens.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/tiammomo/ShuaiTravelAgent/log"
)

// Role mirrors the small role vocabulary the ReAct engine and
// orchestrator need; it is not the full OpenAI role set.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a chat history.
type Message struct {
	Role    Role
	Content string
}

// Usage reports token accounting for a completed call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResult is the outcome of a unary Chat call. Success is false only
// when every retry attempt exhausted itself against a transport error;
// a terminal HTTP/API error is returned as a Go error directly.
type ChatResult struct {
	Success bool
	Content string
	Model   string
	Usage   *Usage
	Error   string
}

// CallOptions customises one Chat/ChatStream invocation; zero values
// fall back to the Client's configured defaults.
type CallOptions struct {
	Temperature *float64
	MaxTokens   *int
}

// Client wraps an openai.Client with the model name, retry policy, and
// default sampling parameters.
type Client struct {
	client       openai.Client
	model        string
	temperature  float64
	maxTokens    int
	maxAttempts  int
	retryBaseSec int
}

// Option configures a Client.
type Option func(*Client)

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens sets the default max output tokens.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithMaxAttempts sets the total number of attempts Chat makes while it
// keeps hitting transport errors (default 3).
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// New builds a Client for model against apiBase using apiKey. apiBase
// may be empty to use the provider's default endpoint.
func New(model, apiKey, apiBase string, opts ...Option) *Client {
	var clientOpts []openaiopt.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(apiKey))
	}
	if apiBase != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(apiBase))
	}

	c := &Client{
		client:       openai.NewClient(clientOpts...),
		model:        model,
		temperature:  0.7,
		maxTokens:    2000,
		maxAttempts:  3,
		retryBaseSec: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) buildParams(messages []Message, opts CallOptions) openai.ChatCompletionNewParams {
	temp := c.temperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    convertMessages(messages),
		Temperature: openai.Float(temp),
		MaxTokens:   openai.Int(int64(maxTokens)),
	}
	return params
}

func convertMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out[i] = openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			}
		case RoleAssistant:
			out[i] = openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			}
		default:
			out[i] = openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			}
		}
	}
	return out
}

// isTransportError reports whether err looks like a connection-level
// failure (timeout, refused, DNS, reset) worth retrying, as opposed to
// a terminal HTTP error response from the provider (4xx/5xx), which
// Chat surfaces immediately without consuming a retry attempt.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return false
	}
	return true
}

// Chat sends one non-streaming completion request, retrying transport
// errors with exponential backoff (2^attempt seconds) up to
// maxAttempts times. A terminal API error (a non-2xx response the
// provider actually answered) is returned as a Go error on the first
// attempt instead of being retried.
func (c *Client) Chat(ctx context.Context, messages []Message, opts CallOptions) (*ChatResult, error) {
	params := c.buildParams(messages, opts)

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err == nil {
			result := &ChatResult{Success: true, Model: completion.Model}
			if len(completion.Choices) > 0 {
				result.Content = completion.Choices[0].Message.Content
			}
			if completion.Usage.TotalTokens > 0 {
				result.Usage = &Usage{
					PromptTokens:     int(completion.Usage.PromptTokens),
					CompletionTokens: int(completion.Usage.CompletionTokens),
					TotalTokens:      int(completion.Usage.TotalTokens),
				}
			}
			return result, nil
		}

		if !isTransportError(err) {
			return nil, fmt.Errorf("llm: chat completion rejected: %w", err)
		}

		lastErr = err
		log.Warnf("llm: transport error on attempt %d/%d: %v", attempt+1, c.maxAttempts, err)

		if attempt < c.maxAttempts-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Duration(c.retryBaseSec) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return &ChatResult{Success: false, Error: lastErr.Error()}, nil
}

// ChatStream streams a completion and returns a channel of non-empty
// content deltas. The channel is closed when the stream ends, whether
// normally or on error; a failure mid-stream yields a single
// "[error: ...]" token rather than propagating a Go error, since a
// stream's caller cannot act on an error after tokens are already
// in flight to the client.
func (c *Client) ChatStream(ctx context.Context, messages []Message, opts CallOptions) (<-chan string, error) {
	params := c.buildParams(messages, opts)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	tokens := make(chan string, 64)

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	go func() {
		defer close(tokens)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case tokens <- delta:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			log.Errorf("llm: stream error: %v", err)
			select {
			case tokens <- fmt.Sprintf("[error: %s]", err.Error()):
			case <-ctx.Done():
			}
		}
	}()

	return tokens, nil
}
