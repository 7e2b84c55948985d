// Package tools is the catalog of side-effecting actions the executor can
// dispatch on the model's behalf. The set of tools is closed: each known tool
// is a typed variant with an explicit parameter schema behind the uniform
// Invoke(name, params) interface. Concrete delivery (SMTP, calendar sync, SMS
// gateways) lives behind injected sender interfaces.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/avolokh/taskmind/internal/reasoning"
)

var ErrUnknownTool = errors.New("tools: unknown tool")

// Result is the per-call outcome. A failed call is data, not an error return:
// the executor aggregates per-call failures into a partial execution instead
// of aborting.
type Result struct {
	OK   bool           `json:"ok"`
	Data map[string]any `json:"data,omitempty"`
	Err  string         `json:"error,omitempty"`
}

type Tool interface {
	Spec() reasoning.ToolSpec
	Invoke(ctx context.Context, params json.RawMessage) (*Result, error)
}

type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Spec().Name] = t
}

// Catalog enumerates tool specs for prompt construction, in stable order.
func (r *Registry) Catalog() []reasoning.ToolSpec {
	out := make([]reasoning.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Spec())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke dispatches a requested call to the named tool. An unknown name is an
// error; a tool-level failure comes back inside the Result.
func (r *Registry) Invoke(ctx context.Context, name string, params json.RawMessage) (*Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t.Invoke(ctx, params)
}

// decodeParams is lenient about extra fields; models pad arguments freely.
func decodeParams(params json.RawMessage, into any) error {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	return json.Unmarshal(params, into)
}
