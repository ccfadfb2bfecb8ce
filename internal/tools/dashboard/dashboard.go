// Package dashboard provides the dashboard component generator tool. It asks
// a chat model to describe a UI component for a free-text query and returns
// the description as JSON.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/toolrun/internal/tools"
)

// ToolName is the registered name of the generator.
const ToolName = "dashboard_component_generator"

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o"

const systemPrompt = "You are a helpful assistant that generates dashboard components based on user queries."

const userPromptTemplate = `Given the following user query for a dashboard component, generate a JSON object
that describes how to create this component. The object should include:
- 'type': The type of component (e.g., 'chart', 'table', 'metric')
- 'title': A title for the component
- 'id': A unique identifier for the component
- 'data': Sample data for the component
- 'layout': Layout information for the component (for charts only)

User query: %s

Respond with JSON only, in this format:
{
    "type": "component_type",
    "title": "Component Title",
    "id": "unique_id",
    "data": [...],
    "layout": {...} (for charts only)
}`

// Completer is the subset of *openai.Client the generator needs.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type args struct {
	Query string `json:"query" jsonschema:"description=The user's query describing the desired dashboard component"`
}

// Generator implements tools.Tool.
type Generator struct {
	client Completer
	model  string
	schema json.RawMessage
}

// New creates a generator. An empty model selects DefaultModel.
func New(client Completer, model string) *Generator {
	if model == "" {
		model = DefaultModel
	}
	return &Generator{client: client, model: model, schema: tools.ReflectSchema(&args{})}
}

// NewOpenAI builds a generator on an OpenAI client. baseURL may be empty.
func NewOpenAI(apiKey, baseURL, model string) *Generator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return New(openai.NewClientWithConfig(cfg), model)
}

// Register adds the generator to the catalog.
func Register(catalog *tools.Catalog, g *Generator) {
	catalog.RegisterTool(g)
}

func (g *Generator) Name() string { return ToolName }

func (g *Generator) Description() string {
	return "Generates a dashboard component based on a user's description"
}

func (g *Generator) Schema() json.RawMessage { return g.schema }

func (g *Generator) Execute(ctx context.Context, params map[string]any) (any, error) {
	query, _ := params["query"].(string)
	if strings.TrimSpace(query) == "" {
		return tools.Errorf("query is required"), nil
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(userPromptTemplate, query)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return tools.Errorf(fmt.Sprintf("Failed to generate component: %d", apiErr.HTTPStatusCode)), nil
		}
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	var component map[string]any
	content := stripFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &component); err != nil {
		return nil, fmt.Errorf("component description is not a JSON object: %w", err)
	}
	return component, nil
}

// stripFence removes a surrounding markdown code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
