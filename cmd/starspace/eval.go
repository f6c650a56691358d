package starspace

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/soundprediction/starspace"
	"github.com/soundprediction/starspace/pkg/config"
	"github.com/soundprediction/starspace/pkg/data"
)

var evalCmd = &cobra.Command{
	Use:   "eval <data-file>",
	Short: "Evaluate ranking quality on a dialog file",
	Long: `Rank each turn's candidates against the dialog context and report where
the true label lands: hits@1, hits@10, hits@100, and the mean rank of the
label among the candidates. Evaluation never updates the model.`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().String("model-file", "", "Model checkpoint path")
	evalCmd.Flags().String("dict-file", "", "Dictionary path (defaults to the model file + .dict)")
	evalCmd.Flags().String("fixed-candidates-file", "", "Fallback candidate list for turns without candidates")
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("model-file") {
		cfg.Model.File, _ = cmd.Flags().GetString("model-file")
	}
	if cmd.Flags().Changed("dict-file") {
		cfg.Dict.File, _ = cmd.Flags().GetString("dict-file")
	}
	if cmd.Flags().Changed("fixed-candidates-file") {
		cfg.Data.FixedCandidatesFile, _ = cmd.Flags().GetString("fixed-candidates-file")
	}
	log := newLogger(cfg)

	agent, err := starspace.New(cfg, nil, log)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	defer agent.Close()

	r, err := data.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	var stats evalStats
	for {
		turn, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		// Labels ride along as eval labels: they feed the dialog context
		// but never the training step.
		agent.Observe(starspace.Observation{
			Text:            turn.Text,
			EvalLabels:      turn.Labels,
			LabelCandidates: turn.Candidates,
			EpisodeDone:     turn.EpisodeDone,
		})
		reply := agent.Act()
		stats.observe(turn.Labels, reply.TextCandidates)
	}

	log.Info("evaluation complete",
		"turns", stats.turns,
		"examples", stats.examples,
		"hits@1", stats.rate(stats.hits1),
		"mean_rank", stats.meanRank())

	fmt.Printf("turns:     %d\n", stats.turns)
	fmt.Printf("examples:  %d (label not ranked: %d)\n", stats.examples, stats.examples-stats.found)
	fmt.Printf("hits@1:    %.3f\n", stats.rate(stats.hits1))
	fmt.Printf("hits@10:   %.3f\n", stats.rate(stats.hits10))
	fmt.Printf("hits@100:  %.3f\n", stats.rate(stats.hits100))
	fmt.Printf("mean rank: %.2f\n", stats.meanRank())
	return nil
}

// evalStats accumulates label-rank metrics over scored turns.
type evalStats struct {
	turns    int
	examples int
	found    int
	hits1    int
	hits10   int
	hits100  int
	rankSum  int
}

// observe records where the first matching label landed in the ranking.
// Turns without labels or without a ranking are counted but not scored.
func (s *evalStats) observe(labels, ranked []string) {
	s.turns++
	if len(labels) == 0 || len(ranked) == 0 {
		return
	}
	s.examples++

	rank := 0
	for i, cand := range ranked {
		for _, label := range labels {
			if cand == label {
				rank = i + 1
				break
			}
		}
		if rank > 0 {
			break
		}
	}
	if rank == 0 {
		return
	}

	s.found++
	s.rankSum += rank
	if rank <= 1 {
		s.hits1++
	}
	if rank <= 10 {
		s.hits10++
	}
	if rank <= 100 {
		s.hits100++
	}
}

func (s *evalStats) rate(hits int) float64 {
	if s.examples == 0 {
		return 0
	}
	return float64(hits) / float64(s.examples)
}

func (s *evalStats) meanRank() float64 {
	if s.found == 0 {
		return 0
	}
	return float64(s.rankSum) / float64(s.found)
}
