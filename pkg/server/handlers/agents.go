package handlers

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soundprediction/starspace"
	"github.com/soundprediction/starspace/pkg/session"
)

// Agents maps conversation sessions onto agent instances. Each session gets
// its own child of the root agent, so histories and negative caches stay
// separate while every child trains the same shared model. Requests within
// one session are serialized; different sessions run concurrently.
type Agents struct {
	root   *starspace.Agent
	store  *session.Store
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]*liveAgent
}

type liveAgent struct {
	mu    sync.Mutex
	agent *starspace.Agent
}

// NewAgents creates a session manager over the root agent. store may be nil,
// in which case transcripts are not persisted and sessions do not survive a
// restart.
func NewAgents(root *starspace.Agent, store *session.Store, logger *slog.Logger) *Agents {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agents{
		root:   root,
		store:  store,
		logger: logger,
		live:   make(map[string]*liveAgent),
	}
}

// Act runs one observed turn through the session's agent and persists the
// exchange. A transcript write failure degrades to a log line; the reply
// still stands.
func (m *Agents) Act(id string, obs starspace.Observation) (starspace.Reply, error) {
	la, err := m.resolve(id)
	if err != nil {
		return starspace.Reply{}, err
	}

	la.mu.Lock()
	defer la.mu.Unlock()
	la.agent.Observe(obs)
	reply := la.agent.Act()

	if m.store != nil {
		turn := session.Turn{
			Text:        obs.Text,
			Labels:      obs.Labels,
			EpisodeDone: obs.EpisodeDone,
			Reply:       reply.Text,
			At:          time.Now().UTC(),
		}
		if err := m.store.Append(id, turn); err != nil {
			m.logger.Error("failed to persist session turn", "session", id, "error", err)
		}
	}
	return reply, nil
}

// Rank runs one stateless ranking turn on a throwaway child agent.
func (m *Agents) Rank(text string, candidates []string) (starspace.Reply, error) {
	child, err := m.root.Share()
	if err != nil {
		return starspace.Reply{}, fmt.Errorf("failed to derive agent: %w", err)
	}
	child.Observe(starspace.Observation{
		Text:            text,
		LabelCandidates: candidates,
		EpisodeDone:     true,
	})
	return child.Act(), nil
}

// resolve returns the session's live agent, rebuilding it from the stored
// transcript when the session is known but not resident.
func (m *Agents) resolve(id string) (*liveAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if la, ok := m.live[id]; ok {
		return la, nil
	}

	child, err := m.root.Share()
	if err != nil {
		return nil, fmt.Errorf("failed to derive agent: %w", err)
	}

	if m.store != nil && m.store.Exists(id) {
		turns, err := m.store.Turns(id)
		if err != nil {
			return nil, fmt.Errorf("failed to restore session %s: %w", id, err)
		}
		for _, turn := range turns {
			child.Replay(turn.Text, turn.Labels, turn.EpisodeDone, turn.Reply)
		}
		m.logger.Info("restored session", "session", id, "turns", len(turns))
	}

	la := &liveAgent{agent: child}
	m.live[id] = la
	return la, nil
}

// Drop evicts a session's live agent.
func (m *Agents) Drop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, id)
}

// IsLive reports whether a session currently has a resident agent.
func (m *Agents) IsLive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[id]
	return ok
}

// LiveCount returns the number of resident session agents.
func (m *Agents) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Root returns the root agent.
func (m *Agents) Root() *starspace.Agent { return m.root }

// Store returns the transcript store, which may be nil.
func (m *Agents) Store() *session.Store { return m.store }
