package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bko/agentmux/internal/tools"
)

// maxToolIterations bounds the tool-use loop inside a single invocation so a
// model stuck calling tools cannot spin forever.
const maxToolIterations = 25

// ClaudeConfig configures the Anthropic-backed Invoker.
type ClaudeConfig struct {
	// Model is the Claude model to use. Empty selects a default.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// MaxTokens caps the response size per API call.
	MaxTokens int64
}

// Claude is an Invoker backed by the Anthropic Messages API. It drives the
// tool-use loop: tool_use blocks in the response are executed against the
// request's tools and fed back until the model ends its turn.
type Claude struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
	tracker   *TokenTracker
}

// NewClaude creates the Anthropic Invoker.
func NewClaude(cfg ClaudeConfig) (*Claude, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	return &Claude{
		inner:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
		tracker:   NewTokenTracker(),
	}, nil
}

// Tracker returns the token tracker for this client.
func (c *Claude) Tracker() *TokenTracker {
	return c.tracker
}

// Invoke runs one model turn to completion, executing requested tool calls
// against req.Tools along the way.
func (c *Claude) Invoke(ctx context.Context, req Request) (string, error) {
	byName := make(map[string]tools.Tool, len(req.Tools))
	defs := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
	for _, tool := range req.Tools {
		byName[tool.Name()] = tool
		defs = append(defs, toolDefinition(tool.Name()))
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
	}

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		params := anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			Messages:  messages,
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.System}}
		}
		if len(defs) > 0 {
			params.Tools = defs
		}

		resp, err := c.inner.Messages.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("anthropic messages: %w", err)
		}
		c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion
		var text strings.Builder

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				text.WriteString(variant.Text)
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				tool, ok := byName[variant.Name]
				if !ok {
					toolResultBlocks = append(toolResultBlocks,
						anthropic.NewToolResultBlock(variant.ID,
							fmt.Sprintf("tool %q is not available", variant.Name), true))
					continue
				}
				output, toolErr := tool.Call(ctx, string(variant.Input))
				if toolErr != nil {
					log.Printf("[agent] tool %s failed: %v", variant.Name, toolErr)
					toolResultBlocks = append(toolResultBlocks,
						anthropic.NewToolResultBlock(variant.ID, "tool error: "+toolErr.Error(), true))
					continue
				}
				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, output, false))
			}
		}

		if resp.StopReason == anthropic.StopReasonEndTurn || len(toolResultBlocks) == 0 {
			return text.String(), nil
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
	}

	return "", fmt.Errorf("tool-use loop exceeded %d iterations", maxToolIterations)
}

// toolDefinition returns the schema for a known tool name. Unknown names get
// a permissive single-field schema so custom tools still round-trip.
func toolDefinition(name string) anthropic.ToolUnionParam {
	switch {
	case tools.MatchesName(name, tools.ToolListDirectory):
		return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String("List entries of a directory inside the workspace."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Directory path relative to the workspace root",
					},
				},
				Required: []string{"path"},
			},
		}}
	case tools.MatchesName(name, tools.ToolReadFile):
		return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String("Read a file inside the workspace and return its content."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "File path relative to the workspace root",
					},
				},
				Required: []string{"path"},
			},
		}}
	case tools.MatchesName(name, tools.ToolWriteFile):
		return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String("Write content to a file inside the workspace."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "File path relative to the workspace root",
					},
					"content": map[string]interface{}{
						"type":        "string",
						"description": "Content to write",
					},
				},
				Required: []string{"path", "content"},
			},
		}}
	}
	return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
		Name:        name,
		Description: anthropic.String("Invoke the " + name + " tool."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]interface{}{
				"input": map[string]interface{}{
					"type":        "string",
					"description": "Tool input payload",
				},
			},
		},
	}}
}

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from an API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

var _ Invoker = (*Claude)(nil)
