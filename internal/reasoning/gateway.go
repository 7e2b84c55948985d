// Package reasoning is the client side of the AI gateway: it turns a prompt,
// structured context and a tool catalog into either plain text or a set of
// requested tool calls.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrTimeout = errors.New("reasoning: timed out")

// ParseError marks model output the gateway could not interpret. Callers must
// handle it explicitly rather than scraping the raw text.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("reasoning: malformed model output: %s", e.Reason)
}

// ToolSpec describes one callable tool for prompt construction.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// ToolCall is one action the model asked for.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

type Request struct {
	System  string
	Prompt  string
	Context map[string]any
	Tools   []ToolSpec
}

// Response holds exactly one of: plain text, or one-plus tool calls. Malformed
// output never reaches here; it surfaces as *ParseError from Generate.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

type Gateway interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
