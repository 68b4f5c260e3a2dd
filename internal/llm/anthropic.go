package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicFallbackMaxTokens = 1024

// anthropic lazily builds the SDK client. The SDK wants the base URL
// without a /v1 suffix and with a trailing slash.
func (c *Client) anthropic() (*anthropic.Client, error) {
	if len(c.anthropicSDK.Options) > 0 {
		return &c.anthropicSDK, nil
	}
	key := strings.TrimSpace(c.APIKey)
	if key == "" {
		return nil, errors.New("api key is required")
	}

	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	base = strings.TrimRight(strings.TrimSuffix(base, "/v1"), "/") + "/"

	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(key),
		anthropicoption.WithBaseURL(base),
	}
	if c.HTTPClient != nil {
		opts = append(opts, anthropicoption.WithHTTPClient(c.HTTPClient))
	}
	c.anthropicSDK = anthropic.NewClient(opts...)
	return &c.anthropicSDK, nil
}

// chatAnthropic maps the OpenAI-shaped request onto the Messages API and
// the reply back. Tool calls round-trip as tool_use/tool_result blocks.
func (c *Client) chatAnthropic(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c == nil {
		return nil, errors.New("nil client")
	}
	sdk, err := c.anthropic()
	if err != nil {
		return nil, err
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(c.Model)
	}
	if model == "" {
		return nil, errors.New("model is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = anthropicFallbackMaxTokens
	}

	system, history, err := anthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  history,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	msg, err := sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}
	return chatResponseFromAnthropic(msg), nil
}

// anthropicMessages splits the conversation: leading system messages merge
// into the system prompt, the remainder becomes alternating message params.
// Consecutive tool results collapse into one user message, which the
// Messages API requires after a tool_use turn.
func anthropicMessages(msgs []Message) (system string, out []anthropic.MessageParam, err error) {
	i := 0
	var sysParts []string
	for ; i < len(msgs) && roleOf(msgs[i]) == "system"; i++ {
		if s := strings.TrimSpace(msgs[i].Content); s != "" {
			sysParts = append(sysParts, msgs[i].Content)
		}
	}
	system = strings.Join(sysParts, "\n\n")

	var toolResults []anthropic.ContentBlockParamUnion
	emitToolResults := func() {
		if len(toolResults) > 0 {
			out = append(out, anthropic.NewUserMessage(toolResults...))
			toolResults = nil
		}
	}

	for ; i < len(msgs); i++ {
		m := msgs[i]
		switch role := roleOf(m); role {
		case "tool":
			id := strings.TrimSpace(m.ToolCallID)
			if id == "" {
				return "", nil, errors.New("tool message missing tool_call_id")
			}
			failed := strings.HasPrefix(m.Content, "ERROR:")
			toolResults = append(toolResults, anthropic.NewToolResultBlock(id, m.Content, failed))
		case "user", "system":
			// A system message after the conversation started keeps its
			// position as user text; the API has no mid-stream system role.
			emitToolResults()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			emitToolResults()
			blocks, err := anthropicAssistantBlocks(m)
			if err != nil {
				return "", nil, err
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case "":
			return "", nil, errors.New("message role is required")
		default:
			return "", nil, fmt.Errorf("unsupported message role: %q", m.Role)
		}
	}
	emitToolResults()
	return system, out, nil
}

func roleOf(m Message) string {
	return strings.ToLower(strings.TrimSpace(m.Role))
}

func anthropicAssistantBlocks(m Message) ([]anthropic.ContentBlockParamUnion, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
	if strings.TrimSpace(m.Content) != "" || len(m.ToolCalls) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	for _, call := range m.ToolCalls {
		if t := strings.ToLower(strings.TrimSpace(call.Type)); t != "" && t != "function" {
			return nil, fmt.Errorf("unsupported tool call type: %q", call.Type)
		}
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return nil, errors.New("tool call missing function name")
		}
		// Arguments the model garbled still need to round-trip; wrap them
		// rather than drop them.
		var input any = map[string]any{}
		if args := strings.TrimSpace(call.Function.Arguments); args != "" {
			if err := json.Unmarshal([]byte(args), &input); err != nil {
				input = map[string]any{"__raw": args}
			}
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, name))
	}
	return blocks, nil
}

func anthropicTools(defs []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if t := strings.ToLower(strings.TrimSpace(def.Type)); t != "" && t != "function" {
			return nil, fmt.Errorf("unsupported tool type: %q", def.Type)
		}
		schema, err := anthropicInputSchema(def.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", def.Function.Name, err)
		}
		tool := anthropic.ToolParam{
			Name:        def.Function.Name,
			InputSchema: schema,
		}
		if desc := strings.TrimSpace(def.Function.Description); desc != "" {
			tool.Description = anthropic.String(desc)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

// anthropicInputSchema converts whatever shape the tool declared its
// parameters in (a map for local tools, an SDK schema struct for MCP tools)
// into the Messages API schema param.
func anthropicInputSchema(v any) (anthropic.ToolInputSchemaParam, error) {
	var m map[string]any
	switch s := v.(type) {
	case nil:
		m = map[string]any{}
	case map[string]any:
		m = s
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return anthropic.ToolInputSchemaParam{}, fmt.Errorf("marshal schema: %w", err)
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return anthropic.ToolInputSchemaParam{}, fmt.Errorf("parse schema: %w", err)
		}
	}

	out := anthropic.ToolInputSchemaParam{}
	out.Type = out.Type.Default()
	extras := make(map[string]any)
	for key, value := range m {
		switch key {
		case "properties":
			out.Properties = value
		case "required":
			out.Required = schemaRequired(value)
		case "type":
			// always "object"; the SDK fills it in
		default:
			extras[key] = value
		}
	}
	if len(extras) > 0 {
		out.ExtraFields = extras
	}
	return out, nil
}

func schemaRequired(v any) []string {
	switch raw := v.(type) {
	case []string:
		return raw
	case []any:
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func chatResponseFromAnthropic(msg *anthropic.Message) *ChatResponse {
	if msg == nil {
		return &ChatResponse{Choices: []Choice{{Message: Message{Role: "assistant"}}}}
	}

	var (
		text  strings.Builder
		calls []ToolCall
	)
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(v.Text)
		case anthropic.ToolUseBlock:
			calls = append(calls, ToolCall{
				ID:   v.ID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      v.Name,
					Arguments: string(v.Input),
				},
			})
		}
	}

	role := "assistant"
	if msg.Role != "" {
		role = string(msg.Role)
	}
	return &ChatResponse{
		ID:      msg.ID,
		Object:  string(msg.Type),
		Created: time.Now().Unix(),
		Model:   string(msg.Model),
		Choices: []Choice{{
			Message: Message{
				Role:      role,
				Content:   text.String(),
				ToolCalls: calls,
			},
			FinishReason: string(msg.StopReason),
		}},
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}
