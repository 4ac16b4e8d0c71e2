package generation

import (
	"context"
	"errors"
	"sync"
)

// MockGenerator returns scripted responses and records the prompts it receives.
type MockGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
	options   []Options
}

// NewMockGenerator returns a generator that answers with responses in turn,
// repeating the last one once they run out.
func NewMockGenerator(responses ...string) *MockGenerator {
	return &MockGenerator{responses: responses}
}

// NewMockGeneratorWithError returns a generator that always fails with message.
func NewMockGeneratorWithError(message string) *MockGenerator {
	return &MockGenerator{err: errors.New(message)}
}

// Generate records the call and returns the next scripted response.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	m.options = append(m.options, opts)
	if m.err != nil {
		return "", m.err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(m.responses) == 0 {
		return "", ErrEmptyResponse
	}
	i := len(m.prompts) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

// Model returns "mock".
func (m *MockGenerator) Model() string { return "mock" }

// Calls returns how many times Generate was called.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// LastPrompt returns the most recent prompt, or "" if there was none.
func (m *MockGenerator) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// LastOptions returns the options of the most recent call.
func (m *MockGenerator) LastOptions() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.options) == 0 {
		return Options{}
	}
	return m.options[len(m.options)-1]
}
