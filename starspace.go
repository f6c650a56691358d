package starspace

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/soundprediction/starspace/pkg/checkpoint"
	"github.com/soundprediction/starspace/pkg/config"
	"github.com/soundprediction/starspace/pkg/dict"
	"github.com/soundprediction/starspace/pkg/history"
	"github.com/soundprediction/starspace/pkg/model"
	"github.com/soundprediction/starspace/pkg/optim"
	"github.com/soundprediction/starspace/pkg/telemetry"
)

// AgentID identifies replies produced by this agent.
const AgentID = "Starspace"

// Agent ranks candidate responses against dialogue contexts in a learned
// joint embedding space. One agent drives one conversation: it observes a
// turn, then acts, training on the turn's label when one is present and
// ranking the turn's candidates otherwise.
//
// Agents are not safe for concurrent use. To serve several conversations at
// once, derive a child per conversation with Share: children share the model
// parameters and vocabulary while keeping independent optimizers, negative
// caches, and dialog histories.
type Agent struct {
	cfg    *config.Config
	logger *slog.Logger

	dict  *dict.Dictionary
	model *model.Model
	opt   optim.Optimizer

	cache   *negCache
	history *history.Tracker
	rng     *rand.Rand

	ckpt *checkpoint.Manager
	tele *telemetry.Writer

	fixedCands    []string
	fixedCandVecs [][]int

	truncate int

	observation *Observation
	lastReply   string

	seed     int64
	children *atomic.Int64
}

// New builds an agent from configuration. d may be nil, in which case the
// dictionary is loaded from the configured dictionary file. When the
// configured model file already exists, the checkpoint is loaded, its
// model-scoped options override the configuration, and training resumes
// from the saved optimizer state; a corrupt checkpoint aborts construction.
func New(cfg *config.Config, d *dict.Dictionary, logger *slog.Logger) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	mgr := checkpoint.NewManager(logger)

	var art *checkpoint.Artifact
	if cfg.Model.File != "" && mgr.Exists(cfg.Model.File) {
		loaded, err := mgr.Load(cfg.Model.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load model checkpoint: %w", err)
		}
		art = loaded
		cfg.ApplyCheckpoint(art.Config, logger)
	}

	if d == nil {
		path := cfg.DictFile()
		if path == "" {
			return nil, fmt.Errorf("no dictionary available: set dict.file or model.file")
		}
		loaded, err := dict.Load(path, dict.Options{
			Lowercase: cfg.Dict.Lowercase,
			MinFreq:   cfg.Dict.MinFreq,
			MaxTokens: cfg.Dict.MaxTokens,
			CacheSize: cfg.Dict.CacheSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load dictionary: %w", err)
		}
		d = loaded
		logger.Info("loaded dictionary", "path", path, "tokens", d.Len())
	}

	seed := cfg.Training.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	m, err := model.New(model.Options{
		EmbeddingSize:   cfg.Model.EmbeddingSize,
		MaxNorm:         cfg.Model.EmbeddingNorm,
		ShareEmbeddings: cfg.Model.ShareEmbeddings,
		TFIDF:           cfg.Model.TFIDF,
		Margin:          cfg.Training.Margin,
	}, d, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build model: %w", err)
	}
	if art != nil {
		if err := m.LoadState(art.Model); err != nil {
			return nil, fmt.Errorf("failed to restore model state: %w", err)
		}
	}

	opt, err := optim.New(cfg.Training.Optimizer, m.Params(), cfg.Training.LearningRate)
	if err != nil {
		return nil, err
	}
	if art != nil && art.Optimizer != nil {
		if err := opt.Restore(art.Optimizer); err != nil {
			return nil, fmt.Errorf("failed to restore optimizer state: %w", err)
		}
	}

	policy, err := history.ParsePolicy(cfg.History.Replies)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:      cfg,
		logger:   logger,
		dict:     d,
		model:    m,
		opt:      opt,
		cache:    newNegCache(cfg.Training.CacheSize, rng),
		history:  history.NewTracker(d, cfg.History.Length, policy),
		rng:      rng,
		ckpt:     mgr,
		truncate: cfg.Training.Truncate,
		seed:     seed,
		children: new(atomic.Int64),
	}

	if cfg.Data.FixedCandidatesFile != "" {
		cands, err := LoadCandidates(cfg.Data.FixedCandidatesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load fixed candidates: %w", err)
		}
		a.fixedCands = cands
		a.fixedCandVecs = tokenizeAll(d, cands)
		logger.Info("loaded fixed candidates",
			"path", cfg.Data.FixedCandidatesFile, "count", len(cands))
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.ParquetPath != "" {
		w, err := telemetry.NewWriter(cfg.Telemetry.ParquetPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open telemetry writer: %w", err)
		}
		a.tele = w
	}

	logger.Info("created agent",
		"vocab", d.Len(),
		"embedding_size", cfg.Model.EmbeddingSize,
		"optimizer", cfg.Training.Optimizer,
		"resumed", art != nil)
	return a, nil
}

// Share derives a child agent for a separate conversation. The child shares
// the model parameters, vocabulary, and fixed candidates with its parent and
// gets a fresh optimizer, negative cache, dialog history, and random source.
// Parameter updates from any family member are visible to all of them; the
// optimizer step is the only synchronized operation.
func (a *Agent) Share() (*Agent, error) {
	opt, err := optim.New(a.cfg.Training.Optimizer, a.model.Params(), a.cfg.Training.LearningRate)
	if err != nil {
		return nil, err
	}
	policy, err := history.ParsePolicy(a.cfg.History.Replies)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(a.seed + a.children.Add(1)))
	return &Agent{
		cfg:           a.cfg,
		logger:        a.logger,
		dict:          a.dict,
		model:         a.model,
		opt:           opt,
		cache:         newNegCache(a.cfg.Training.CacheSize, rng),
		history:       history.NewTracker(a.dict, a.cfg.History.Length, policy),
		rng:           rng,
		ckpt:          a.ckpt,
		tele:          a.tele,
		fixedCands:    a.fixedCands,
		fixedCandVecs: a.fixedCandVecs,
		truncate:      a.truncate,
		seed:          a.seed,
		children:      a.children,
	}, nil
}

// Observe folds one turn into the dialog history and stores it as the
// pending turn for Act. The returned copy carries the derived context
// vector.
func (a *Agent) Observe(obs Observation) Observation {
	labels := obs.Labels
	if labels == nil {
		labels = obs.EvalLabels
	}
	obs.TextVec = a.history.Update(obs.Text, labels, obs.EpisodeDone, a.lastReply)
	a.observation = &obs
	return obs
}

// Act processes the pending observed turn: a training step when it carries
// labels, a candidate ranking otherwise.
func (a *Agent) Act() Reply {
	if a.observation == nil {
		return Reply{ID: AgentID}
	}
	reply := a.BatchAct([]Observation{*a.observation})[0]
	if reply.Text != "" {
		a.lastReply = reply.Text
	}
	return reply
}

// BatchAct processes a batch of observed turns, returning one reply per
// observation in the original order. Observations without a usable context
// get an empty reply.
func (a *Agent) BatchAct(observations []Observation) []Reply {
	replies := make([]Reply, len(observations))
	for i := range replies {
		replies[i].ID = AgentID
	}

	b := a.vectorize(observations)
	if b == nil {
		return replies
	}
	a.predict(b, replies)

	// Targets enter the cache only after prediction, so a step never
	// samples the target it is about to insert.
	for _, y := range b.ysRaw {
		a.cache.add(y)
	}
	return replies
}

// Replay folds a stored exchange back into the dialog history without
// training or ranking, so a restored conversation resumes where it left off.
// reply is the answer the agent gave on that turn, if any.
func (a *Agent) Replay(text string, labels []string, episodeDone bool, reply string) {
	a.history.Update(text, labels, episodeDone, a.lastReply)
	a.observation = nil
	if reply != "" {
		a.lastReply = reply
	}
}

// Reset clears conversation state. Model parameters and optimizer state are
// left untouched.
func (a *Agent) Reset() {
	a.observation = nil
	a.lastReply = ""
	a.history.Reset()
}

// Save writes the model, optimizer state, and configuration to path, or to
// the configured model file when path is empty.
func (a *Agent) Save(path string) error {
	if path == "" {
		path = a.cfg.Model.File
	}
	if path == "" {
		return fmt.Errorf("no model file configured")
	}
	return a.ckpt.Save(path, &checkpoint.Artifact{
		Model:     a.model.State(),
		Optimizer: a.opt.Snapshot(),
		Config:    a.cfg.Map(),
	})
}

// Close flushes any buffered telemetry.
func (a *Agent) Close() error {
	return a.tele.Flush()
}

// Dict returns the agent's vocabulary.
func (a *Agent) Dict() *dict.Dictionary { return a.dict }

// Config returns the agent's active configuration.
func (a *Agent) Config() *config.Config { return a.cfg }

// Model returns the shared embedding model.
func (a *Agent) Model() *model.Model { return a.model }

// CacheSize returns the number of targets currently in the negative cache.
func (a *Agent) CacheSize() int { return a.cache.size() }

// FixedCandidates returns the configured fallback candidate list.
func (a *Agent) FixedCandidates() []string { return a.fixedCands }

// OptimizerName returns the active optimizer's registry name.
func (a *Agent) OptimizerName() string { return a.opt.Name() }
