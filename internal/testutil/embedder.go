package testutil

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// MockEmbedder implements ai.Embedder for testing. It returns a
// deterministic vector per input text, so tests can assert that identical
// content embeds identically without a live API. Safe for concurrent use.
type MockEmbedder struct {
	// Dimension is the length of generated vectors. Default: 8.
	Dimension int

	// Err, when set, is returned from Embed. If FailFirst is positive,
	// only the first FailFirst calls fail; later calls succeed.
	Err       error
	FailFirst int

	// Response, when set, is returned verbatim regardless of the input.
	Response *ai.EmbedResponse

	mu     sync.Mutex
	calls  int
	inputs [][]string
}

func (m *MockEmbedder) Name() string {
	return "mock-embedder"
}

func (m *MockEmbedder) Register(r api.Registry) {
	// No-op for testing
}

func (m *MockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	texts := make([]string, len(req.Input))
	for i, doc := range req.Input {
		if len(doc.Content) > 0 {
			texts[i] = doc.Content[0].Text
		}
	}

	m.mu.Lock()
	m.calls++
	call := m.calls
	m.inputs = append(m.inputs, texts)
	m.mu.Unlock()

	if m.Err != nil && (m.FailFirst == 0 || call <= m.FailFirst) {
		return nil, m.Err
	}
	if m.Response != nil {
		return m.Response, nil
	}

	resp := &ai.EmbedResponse{Embeddings: make([]*ai.Embedding, len(texts))}
	for i, text := range texts {
		resp.Embeddings[i] = &ai.Embedding{Embedding: m.vectorFor(text)}
	}
	return resp, nil
}

// Calls reports how many Embed calls were made.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Inputs returns the text batches seen so far, one slice per call.
func (m *MockEmbedder) Inputs() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.inputs))
	copy(out, m.inputs)
	return out
}

// vectorFor derives a pseudo-random unit-scale vector from the text hash.
func (m *MockEmbedder) vectorFor(text string) []float32 {
	dim := m.Dimension
	if dim <= 0 {
		dim = 8
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	var buf [8]byte
	for i := range vec {
		binary.LittleEndian.PutUint64(buf[:], seed+uint64(i))
		h.Reset()
		_, _ = h.Write(buf[:])
		// Map the hash into [-1, 1).
		vec[i] = float32(int64(h.Sum64()%2000))/1000.0 - 1.0
	}
	return vec
}
