package model

import "fmt"

// State is the serializable form of the model parameters, embedded in
// checkpoint artifacts.
type State struct {
	EmbeddingSize int       `msgpack:"embedding_size"`
	VocabSize     int       `msgpack:"vocab_size"`
	Shared        bool      `msgpack:"shared"`
	LHS           []float32 `msgpack:"lhs"`
	RHS           []float32 `msgpack:"rhs,omitempty"`
}

// State snapshots the current parameters. The snapshot is taken under the
// step lock so it never interleaves with an optimizer update.
func (m *Model) State() *State {
	m.stepMu.Lock()
	defer m.stepMu.Unlock()
	s := &State{
		EmbeddingSize: m.opts.EmbeddingSize,
		VocabSize:     m.vocab,
		Shared:        m.opts.ShareEmbeddings,
		LHS:           append([]float32(nil), m.lhs.Data...),
	}
	if !m.opts.ShareEmbeddings {
		s.RHS = append([]float32(nil), m.rhs.Data...)
	}
	return s
}

// LoadState restores parameters from a snapshot. The snapshot must match the
// model's vocabulary size, embedding size, and table layout exactly; any
// mismatch is an error and the model is left untouched.
func (m *Model) LoadState(s *State) error {
	if s.VocabSize != m.vocab || s.EmbeddingSize != m.opts.EmbeddingSize {
		return fmt.Errorf("model state is %dx%d, expected %dx%d",
			s.VocabSize, s.EmbeddingSize, m.vocab, m.opts.EmbeddingSize)
	}
	if s.Shared != m.opts.ShareEmbeddings {
		return fmt.Errorf("model state table layout mismatch: shared=%v, expected shared=%v",
			s.Shared, m.opts.ShareEmbeddings)
	}
	if len(s.LHS) != len(m.lhs.Data) {
		return fmt.Errorf("model state has %d left weights, expected %d", len(s.LHS), len(m.lhs.Data))
	}
	if !s.Shared && len(s.RHS) != len(m.rhs.Data) {
		return fmt.Errorf("model state has %d right weights, expected %d", len(s.RHS), len(m.rhs.Data))
	}
	m.stepMu.Lock()
	defer m.stepMu.Unlock()
	copy(m.lhs.Data, s.LHS)
	if !s.Shared {
		copy(m.rhs.Data, s.RHS)
	}
	return nil
}
