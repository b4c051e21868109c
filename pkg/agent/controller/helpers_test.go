package controller

import (
	"context"
	"fmt"

	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/tools"
)

type mockResponse struct {
	chunks []llm.Chunk
	err    error
	// hang returns a channel that never delivers, for cancellation tests.
	hang bool
}

// mockClient is a test double for llm.Client. Not safe for concurrent use;
// the controller calls Generate sequentially.
type mockClient struct {
	responses []mockResponse
	callCount int
	lastInput *llm.GenerateInput

	// capture records every input, not just the last one.
	capture        bool
	capturedInputs []*llm.GenerateInput

	// onGenerate runs before the response is produced, so tests can cancel
	// a context at a chosen call index.
	onGenerate func(callIndex int)
}

func (m *mockClient) Generate(_ context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	idx := m.callCount
	m.callCount++
	m.lastInput = input
	if m.capture {
		m.capturedInputs = append(m.capturedInputs, input)
	}
	if m.onGenerate != nil {
		m.onGenerate(idx)
	}

	if idx >= len(m.responses) {
		return nil, fmt.Errorf("no more mock responses (call %d)", idx+1)
	}

	r := m.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	if r.hang {
		return make(chan llm.Chunk), nil
	}

	ch := make(chan llm.Chunk, len(r.chunks))
	for _, c := range r.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (m *mockClient) Close() error { return nil }

// mockRunner is a test double for ToolRunner. Results are keyed by tool
// name; an unknown name produces a failure result, the way the executor
// reports tool-level problems to the model.
type mockRunner struct {
	results map[string]map[string]any
	calls   []llm.ToolCall
	err     error
}

func (m *mockRunner) Execute(_ context.Context, call llm.ToolCall) (*tools.Execution, error) {
	m.calls = append(m.calls, call)
	if m.err != nil {
		return nil, m.err
	}
	result, ok := m.results[call.Name]
	if !ok {
		result = tools.Fail("unknown tool: " + call.Name)
	}
	return &tools.Execution{CallID: call.ID, Name: call.Name, Result: result}, nil
}

type emitted struct {
	kind      string
	text      string
	toolUseID string
	name      string
	payload   any
}

// recordingEmitter captures the event stream a run produces. Setting
// failOn makes the matching method return failErr, simulating a dead sink.
type recordingEmitter struct {
	events  []emitted
	failOn  string
	failErr error
}

func (r *recordingEmitter) record(e emitted) error {
	if r.failOn == e.kind {
		return r.failErr
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEmitter) Response(_ context.Context, text string) error {
	return r.record(emitted{kind: "response", text: text})
}

func (r *recordingEmitter) Reasoning(_ context.Context, text string) error {
	return r.record(emitted{kind: "reasoning", text: text})
}

func (r *recordingEmitter) ToolUse(_ context.Context, toolUseID, name string, input any) error {
	return r.record(emitted{kind: "tool_use", toolUseID: toolUseID, name: name, payload: input})
}

func (r *recordingEmitter) ToolResult(_ context.Context, toolUseID string, result any) error {
	return r.record(emitted{kind: "tool_result", toolUseID: toolUseID, payload: result})
}

func (r *recordingEmitter) kinds() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.kind)
	}
	return out
}

func (r *recordingEmitter) responseText() string {
	var text string
	for _, e := range r.events {
		if e.kind == "response" {
			text += e.text
		}
	}
	return text
}
