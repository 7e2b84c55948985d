package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string // optional, for OpenAI-compatible gateways
	Model   string
	Timeout time.Duration // per-call bound; default 30s
}

// OpenAIGateway implements Gateway on the OpenAI chat completions API with
// function tools.
type OpenAIGateway struct {
	client  openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewOpenAIGateway(cfg OpenAIConfig, logger *zap.Logger) *OpenAIGateway {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIGateway{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

func (g *OpenAIGateway) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := req.Prompt
	if len(req.Context) > 0 {
		ctxJSON, err := json.MarshalIndent(req.Context, "", "  ")
		if err != nil {
			return nil, err
		}
		prompt = fmt.Sprintf("%s\n\nContext:\n%s", prompt, ctxJSON)
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(prompt),
		},
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  shared.FunctionParameters(t.Parameters),
		}))
	}

	start := time.Now()
	completion, err := g.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}
		return nil, fmt.Errorf("reasoning: %w", err)
	}

	g.logger.Debug("reasoning completed",
		zap.String("model", g.model),
		zap.Duration("latency", latency),
	)

	if len(completion.Choices) == 0 {
		return nil, &ParseError{Reason: "no choices in completion"}
	}
	msg := completion.Choices[0].Message

	resp := &Response{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		name := tc.Function.Name
		args := tc.Function.Arguments
		if name == "" {
			return nil, &ParseError{Reason: "tool call without a function name", Raw: msg.Content}
		}
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			return nil, &ParseError{
				Reason: fmt.Sprintf("tool call %s has invalid JSON arguments", name),
				Raw:    args,
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: name,
			Args: json.RawMessage(args),
		})
	}

	if resp.Text == "" && len(resp.ToolCalls) == 0 {
		return nil, &ParseError{Reason: "empty completion"}
	}
	return resp, nil
}
