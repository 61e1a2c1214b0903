package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// LangChain adapts a langchaingo model to the Client interface. One instance
// serves all request shapes; per-request model overrides ride the call options.
type LangChain struct {
	model        llms.Model
	defaultModel string
	temperature  float64
	maxTokens    int
}

// Complete sends a system+user message pair and returns the first choice.
func (c *LangChain) Complete(ctx context.Context, req Request) (*Response, error) {
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.User))

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	opts := []llms.CallOption{llms.WithTemperature(temperature)}
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices")
	}

	choice := resp.Choices[0]
	return &Response{
		Content:    choice.Content,
		Model:      model,
		TokensUsed: tokensUsed(choice.GenerationInfo),
	}, nil
}

// tokensUsed digs the usage count out of provider-specific generation info.
// Providers disagree on key names; zero means the provider reported nothing.
func tokensUsed(info map[string]any) int {
	if n, ok := infoInt(info, "TotalTokens"); ok {
		return n
	}
	if in, ok := infoInt(info, "InputTokens"); ok {
		out, _ := infoInt(info, "OutputTokens")
		return in + out
	}
	prompt, _ := infoInt(info, "PromptTokens")
	completion, _ := infoInt(info, "CompletionTokens")
	return prompt + completion
}

func infoInt(info map[string]any, key string) (int, bool) {
	switch n := info[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
