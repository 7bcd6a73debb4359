package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"

	"github.com/joseph-ayodele/permit-intake/internal/common"
)

var errNoChoices = errors.New("no choices in completion response")

// Complete sends prompt as a single user message at temperature 0 and returns the first
// choice's content unmodified.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	c.logger.Debug("llm.openai.request",
		"model", c.cfg.Model,
		"azure", c.cfg.AzureEndpoint != "",
		"prompt_len", len(prompt),
	)

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.cfg.Model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(0),
	})
	if err != nil {
		c.logger.Error("llm.openai.http_error",
			"model", c.cfg.Model,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && rejectsRequest(apiErr.StatusCode) {
			return "", common.BackendRejected(err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		c.logger.Error("llm.openai.no_choices", "id", resp.ID)
		return "", errNoChoices
	}

	c.logger.Debug("llm.openai.response",
		"id", resp.ID,
		"finish_reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return resp.Choices[0].Message.Content, nil
}

// rejectsRequest reports statuses where the request itself is at fault.
// Auth, missing deployments and throttling are left retryable: the operator can fix those.
func rejectsRequest(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
