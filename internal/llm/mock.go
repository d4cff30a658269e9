package llm

import (
	"context"
	"sync"
	"time"
)

// MockClient provides a deterministic client for tests and offline mode.
type MockClient struct {
	mu        sync.Mutex
	queue     []mockReply
	fallback  string
	respondFn func(InvokeRequest) (string, error)
	calls     []InvokeRequest
}

type mockReply struct {
	content string
	err     error
}

// NewMockClient creates a mock client that returns fallback when its
// scripted queue is empty.
func NewMockClient(fallback string) *MockClient {
	return &MockClient{fallback: fallback}
}

// Enqueue appends a scripted response.
func (c *MockClient) Enqueue(content string) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, mockReply{content: content})
	return c
}

// EnqueueError appends a scripted failure.
func (c *MockClient) EnqueueError(err error) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, mockReply{err: err})
	return c
}

// SetRespondFunc installs a handler that computes responses from the
// request. Takes precedence over the scripted queue.
func (c *MockClient) SetRespondFunc(fn func(InvokeRequest) (string, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respondFn = fn
}

// Invoke returns the next scripted response.
func (c *MockClient) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.calls = append(c.calls, req)
	fn := c.respondFn

	var reply mockReply
	if fn == nil {
		if len(c.queue) > 0 {
			reply = c.queue[0]
			c.queue = c.queue[1:]
		} else {
			reply = mockReply{content: c.fallback}
		}
	}
	c.mu.Unlock()

	if fn != nil {
		content, err := fn(req)
		if err != nil {
			return nil, err
		}
		return mockResult(req, content), nil
	}

	if reply.err != nil {
		return nil, reply.err
	}
	return mockResult(req, reply.content), nil
}

// Model returns the mock model name.
func (c *MockClient) Model() string {
	return "mock-model"
}

// Calls returns a copy of all requests seen so far.
func (c *MockClient) Calls() []InvokeRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]InvokeRequest, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns the number of invocations.
func (c *MockClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func mockResult(req InvokeRequest, content string) *InvokeResult {
	// Rough 4 chars per token estimate keeps usage fields plausible
	return &InvokeResult{
		Content:   content,
		TokensIn:  len(req.Prompt) / 4,
		TokensOut: len(content) / 4,
		Duration:  time.Millisecond,
	}
}

// Ensure implementations satisfy interface.
var (
	_ Client = (*HTTPClient)(nil)
	_ Client = (*MockClient)(nil)
)
