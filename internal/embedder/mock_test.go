package embedder

import (
	"context"
	"errors"
	"sync"
)

// mockClient is a VectorClient returning one-element vectors derived from text length
type mockClient struct {
	mu     sync.Mutex
	calls  int
	texts  [][]string
	err    error
	closed bool
}

func (m *mockClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.texts = append(m.texts, append([]string(nil), texts...))
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (m *mockClient) Close() error {
	m.closed = true
	return nil
}

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var errUpstream = errors.New("upstream 503")
