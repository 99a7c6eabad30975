package providers

import (
	"context"
	"fmt"
	"sync"
)

// StubProvider replays a scripted sequence of responses. It exists
// for tests that exercise the agent loop without a network backend.
type StubProvider struct {
	mu       sync.Mutex
	script   []*ChatResponse
	errs     []error
	next     int
	Requests []*ChatRequest
}

// NewStub creates a stub that returns the given responses in order.
func NewStub(script ...*ChatResponse) *StubProvider {
	return &StubProvider{script: script}
}

// FailWith makes the call at the given index return err instead of a
// response.
func (s *StubProvider) FailWith(index int, err error) *StubProvider {
	for len(s.errs) <= index {
		s.errs = append(s.errs, nil)
	}
	s.errs[index] = err
	return s
}

func (s *StubProvider) Name() string { return "stub" }

func (s *StubProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, req)
	i := s.next
	s.next++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.script) {
		return nil, fmt.Errorf("stub provider: no response scripted for call %d", i)
	}
	return s.script[i], nil
}

// Calls returns how many requests the stub has served.
func (s *StubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Text is a convenience for a plain assistant response.
func Text(content string) *ChatResponse {
	return &ChatResponse{Content: content, StopReason: StopEndTurn}
}

// Tools is a convenience for a tool-calling response.
func Tools(calls ...ToolCall) *ChatResponse {
	return &ChatResponse{ToolCalls: calls, StopReason: StopToolCalls}
}
