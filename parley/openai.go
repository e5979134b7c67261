package parley

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIClient defines the methods used from the OpenAI API client, to
// enable testing/mocking
type OpenAIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// OpenAI manages chat completion requests for the bot.
//
// Requests are rate-limited, and any transport or API failure is returned
// to the caller as an error - the caller decides on fallback behavior.
type OpenAI struct {
	client         OpenAIClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
}

func newOpenAI(config *OpenAIConfig, httpClient *http.Client) *OpenAI {
	o := &OpenAI{
		config: config,
		requestLimiter: rate.NewLimiter(
			rate.Limit(config.MaxRequestsPerSecond),
			config.MaxRequestsPerSecond,
		),
	}
	o.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "openai")

	clientCfg := openai.DefaultConfig(config.Token)
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	o.client = openai.NewClientWithConfig(clientCfg)

	return o
}

// Complete submits the given conversation log and returns the generated
// reply text
func (o *OpenAI) Complete(
	ctx context.Context,
	conversation []ConversationTurn,
) (string, error) {
	if err := o.requestLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("error waiting on rate limiter: %w", err)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(conversation))
	for _, turn := range conversation {
		messages = append(
			messages, openai.ChatCompletionMessage{
				Role:    turn.Role,
				Content: turn.Content,
				Name:    turn.Name,
			},
		)
	}

	started := time.Now()
	resp, err := o.client.CreateChatCompletion(
		ctx, openai.ChatCompletionRequest{
			Model:     o.config.Model,
			Messages:  messages,
			MaxTokens: o.config.MaxTokens,
		},
	)
	elapsed := time.Since(started)
	if err != nil {
		o.logger.ErrorContext(
			ctx,
			"completion request failed",
			tint.Err(err),
			"model", o.config.Model,
			"turns", len(conversation),
			"elapsed", elapsed,
		)
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion response contained no choices")
	}

	o.logger.InfoContext(
		ctx,
		"completion finished",
		"model", o.config.Model,
		"turns", len(conversation),
		"elapsed", elapsed,
		"total_tokens", resp.Usage.TotalTokens,
	)
	return resp.Choices[0].Message.Content, nil
}
