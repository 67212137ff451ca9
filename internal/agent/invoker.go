// Package agent issues LLM calls on behalf of the engine. The Invoker
// interface is the seam between orchestration logic and the model provider;
// the Service applies tool policy and auditing around each call.
package agent

import (
	"context"

	"github.com/bko/agentmux/internal/tools"
)

// Request is one model invocation: a system prompt, a user prompt, and the
// tools the model may call during the turn.
type Request struct {
	System string
	Prompt string
	Tools  []tools.Tool
}

// Invoker executes one model turn and returns the assistant's final text.
// Tool calls happen inside the turn; the Invoker drives them to completion
// before returning.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (string, error)
}
