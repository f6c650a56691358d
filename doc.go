// Package starspace provides a trainable conversational response ranker.
//
// Starspace learns a joint embedding over dialogue contexts and candidate
// responses: both sides are bags of token vectors, scored by cosine
// similarity, and trained online with a margin ranking loss against negative
// responses sampled from recent traffic. There is no generation step; the
// agent always answers by ranking a candidate set and returning the best
// entry.
//
// # Basic Usage
//
// Create an agent from a configuration and a dictionary built over your
// corpus:
//
//	cfg, _ := config.Load()
//	cfg.Model.EmbeddingSize = 64
//
//	d := dict.New(dict.DefaultOptions())
//	d.Add("where are you from")
//	d.Add("i live in texas")
//	d.Sort()
//
//	agent, err := starspace.New(cfg, d, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer agent.Close()
//
// # Training
//
// Feed labeled turns through Observe and Act. When an observation carries
// Labels, Act runs one training step and reports it in Reply.Metrics:
//
//	agent.Observe(starspace.Observation{
//		Text:   "where are you from",
//		Labels: []string{"i live in texas"},
//	})
//	reply := agent.Act()
//	fmt.Printf("loss=%.4f rank=%d\n", reply.Metrics.Loss, reply.Metrics.MeanRank)
//
// Negative responses are drawn from a cache of recently seen labels, so
// ranking quality improves as traffic flows even without an explicit
// negatives file.
//
// # Inference
//
// Unlabeled observations are ranked against their LabelCandidates, or
// against the fixed candidate list configured at construction:
//
//	agent.Observe(starspace.Observation{
//		Text:            "where are you from",
//		LabelCandidates: []string{"i live in texas", "i like pizza"},
//	})
//	reply := agent.Act()
//	fmt.Println(reply.Text) // best-ranked candidate
//
// Observations carrying EvalLabels instead of Labels flow through the dialog
// history but never update the model, so held-out evaluation cannot leak
// into training.
//
// # Conversations
//
// Each agent keeps a dialog history that is prepended to incoming text, and
// resets when a turn is marked EpisodeDone. To serve several conversations
// over one model, derive a child agent per conversation with Share: children
// keep private history, negative caches, and RNG state while training
// updates flow back to the shared parameter tables.
//
//	child, err := agent.Share()
//
// # Persistence
//
// Save writes the model parameters, optimizer state, and configuration to a
// single msgpack checkpoint with a YAML options sidecar. New loads the
// checkpoint back when the configured model file exists. The dictionary is
// stored separately; see pkg/dict.
//
// # Architecture
//
// The library follows a modular architecture:
//
//   - pkg/model: embedding tables, scoring, and gradient application
//   - pkg/optim: sparse per-row optimizers (sgd, adagrad, adam, lbfgs, ...)
//   - pkg/dict: token dictionary with frequency-ordered persistence
//   - pkg/history: dialog history tracking
//   - pkg/data: dialogue corpus reader
//   - pkg/checkpoint: model artifact persistence
//   - pkg/server: HTTP API for serving agents
//   - pkg/session: transcript store backing server restarts
//
// This design keeps the learning core free of transport concerns; the HTTP
// layer in pkg/server composes the same public Agent API exposed here.
package starspace
