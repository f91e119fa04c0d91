package knowledge

import (
	"context"
	"errors"
	"sync"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	model string
	vecs  map[string][]float32
	err   error
	calls int
}

func newFakeEmbedder(vecs map[string][]float32) *fakeEmbedder {
	return &fakeEmbedder{model: DefaultEmbeddingModel, vecs: vecs}
}

func (f *fakeEmbedder) Model() string { return f.model }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vecs[text]
	if !ok {
		return nil, errors.New("no vector for text")
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		f.mu.Lock()
		err := f.err
		f.mu.Unlock()
		if err != nil {
			return nil, err
		}
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
