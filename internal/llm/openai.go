package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
	"github.com/LIUAPP/AgenticBugFix/internal/metrics"
)

// Options configure the OpenAI adapter.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	// EmbeddingModel is used by Embed.
	EmbeddingModel string
	Temperature    float64
	// MaxRetries bounds retries of rate-limited or 5xx responses.
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// OpenAI implements Completer with the Chat Completions API and embeds
// knowledge base text with the Embeddings API.
type OpenAI struct {
	client *openai.Client
	opts   Options
	logger *slog.Logger
}

// NewOpenAI creates the adapter. Retries are handled here, so the SDK's own
// retry loop is disabled.
func NewOpenAI(opts Options, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Model == "" {
		opts.Model = openai.ChatModelGPT4oMini
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = openai.EmbeddingModelTextEmbedding3Small
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Second
	}

	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(reqOpts...)
	return &OpenAI{client: &client, opts: opts, logger: logger}
}

func (m *OpenAI) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.InitialInterval
	b.MaxInterval = m.opts.MaxInterval
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, m.opts.MaxRetries), ctx)
}

// Complete implements Completer.
func (m *OpenAI) Complete(ctx context.Context, req Request) (Reply, error) {
	params := m.buildParams(req)

	var resp *openai.ChatCompletion
	err := m.retry(ctx, func() error {
		start := time.Now()
		r, err := m.client.Chat.Completions.New(ctx, params)
		metrics.Completion(time.Since(start))
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("no choices returned")
	}

	msg := resp.Choices[0].Message
	reply := Reply{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return reply, nil
}

// retry runs op with exponential backoff while its errors are retryable.
func (m *OpenAI) retry(ctx context.Context, op func() error) error {
	attempt := func() error {
		err := op()
		if err != nil && (ctx.Err() != nil || !retryable(err)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		m.logger.Warn("OpenAI call failed, retrying", "error", err, "retry_in", next)
	}
	if err := backoff.RetryNotify(attempt, m.newBackoff(ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("openai api error: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (m *OpenAI) buildParams(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: buildMessages(req.Messages),
		Model:    m.opts.Model,
	}
	if m.opts.Temperature > 0 {
		params.Temperature = openai.Float(m.opts.Temperature)
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, def := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  def.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// buildMessages converts the transcript into chat messages. Tool results keep
// their position directly after the assistant message that requested them.
func buildMessages(msgs []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case domain.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case domain.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				calls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: args,
					},
				}
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: calls,
			}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case domain.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}
	return out
}
