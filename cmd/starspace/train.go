package starspace

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soundprediction/starspace"
	"github.com/soundprediction/starspace/pkg/config"
	"github.com/soundprediction/starspace/pkg/data"
	"github.com/soundprediction/starspace/pkg/dict"
	"github.com/soundprediction/starspace/pkg/optim"
)

var trainCmd = &cobra.Command{
	Use:   "train <data-file>",
	Short: "Train the agent on a dialog file",
	Long: `Train the agent on a dialog file in the numbered tab-separated format:

  1 hello friend<TAB>hi there
  2 how are you<TAB>fine thanks
  1 new episode starts at index one<TAB>indeed

Each turn's labels become positive targets; negatives are drawn from the
replies seen recently. When the dictionary file does not exist yet it is
built from the data first and saved next to the model.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrain,
}

var (
	trainEpochs    int
	trainSaveEvery int
	trainLogEvery  int
)

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 1, "Passes over the training data")
	trainCmd.Flags().IntVar(&trainSaveEvery, "save-every", 0, "Checkpoint every N training steps (0 saves only at the end)")
	trainCmd.Flags().IntVar(&trainLogEvery, "log-every", 500, "Log running metrics every N training steps")

	// Model flags
	trainCmd.Flags().String("model-file", "", "Model checkpoint path")
	trainCmd.Flags().String("dict-file", "", "Dictionary path (defaults to the model file + .dict)")
	trainCmd.Flags().Int("embedding-size", 0, "Embedding dimension")

	// Training flags
	trainCmd.Flags().Float64("learning-rate", 0, "Learning rate")
	trainCmd.Flags().Float64("margin", 0, "Ranking loss margin")
	trainCmd.Flags().String("optimizer", "", "Optimizer ("+strings.Join(optim.Names(), ", ")+")")
	trainCmd.Flags().Int("neg-samples", 0, "Negatives drawn per step")
	trainCmd.Flags().Int("cache-size", 0, "Negative cache capacity")
	trainCmd.Flags().Int64("seed", 0, "Random seed")

	// Telemetry flags
	trainCmd.Flags().Bool("telemetry", false, "Enable parquet step telemetry")
	trainCmd.Flags().String("telemetry-parquet-path", "", "Directory for telemetry parquet files")
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrideTrainFlags(cmd, cfg)
	log := newLogger(cfg)

	dataFile := args[0]

	// Load the dictionary when it already exists; build and save it from the
	// training data otherwise.
	var d *dict.Dictionary
	dictPath := cfg.DictFile()
	if dictPath == "" || !fileExists(dictPath) {
		d, err = buildDictionary(cfg, log, dataFile)
		if err != nil {
			return err
		}
		if dictPath != "" {
			if err := d.Save(dictPath); err != nil {
				return fmt.Errorf("failed to save dictionary: %w", err)
			}
			log.Info("saved dictionary", "path", dictPath)
		}
	}

	agent, err := starspace.New(cfg, d, log)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	defer agent.Close()

	var total trainStats
	for epoch := 1; epoch <= trainEpochs; epoch++ {
		stats, err := trainEpoch(agent, dataFile, epoch, log)
		if err != nil {
			return err
		}
		log.Info("epoch complete",
			"epoch", epoch,
			"turns", stats.turns,
			"steps", stats.steps,
			"loss", stats.meanLoss(),
			"mean_rank", stats.meanRank())
		total.add(stats)
	}

	if cfg.Model.File != "" {
		if err := agent.Save(""); err != nil {
			return fmt.Errorf("failed to save model: %w", err)
		}
		log.Info("saved model", "path", cfg.Model.File)
	} else {
		log.Warn("no model file configured, training results were not saved")
	}

	log.Info("training complete",
		"epochs", trainEpochs,
		"steps", total.steps,
		"loss", total.meanLoss(),
		"mean_rank", total.meanRank())
	return nil
}

// trainEpoch streams one pass over the data file through the agent.
func trainEpoch(agent *starspace.Agent, dataFile string, epoch int, log *slog.Logger) (trainStats, error) {
	r, err := data.Open(dataFile)
	if err != nil {
		return trainStats{}, err
	}
	defer r.Close()

	var stats, window trainStats
	for {
		turn, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read %s: %w", dataFile, err)
		}

		agent.Observe(starspace.Observation{
			Text:            turn.Text,
			Labels:          turn.Labels,
			LabelCandidates: turn.Candidates,
			EpisodeDone:     turn.EpisodeDone,
		})
		reply := agent.Act()

		stats.turns++
		window.turns++
		if reply.Metrics == nil {
			continue
		}
		stats.observe(reply.Metrics)
		window.observe(reply.Metrics)

		if trainLogEvery > 0 && stats.steps%trainLogEvery == 0 {
			log.Info("training",
				"epoch", epoch,
				"turn", stats.turns,
				"steps", stats.steps,
				"loss", window.meanLoss(),
				"mean_rank", window.meanRank(),
				"cache", agent.CacheSize())
			window = trainStats{}
		}
		if trainSaveEvery > 0 && stats.steps%trainSaveEvery == 0 {
			if err := agent.Save(""); err != nil {
				log.Error("periodic save failed", "error", err)
			} else {
				log.Info("checkpoint saved", "steps", stats.steps)
			}
		}
	}
	return stats, nil
}

// trainStats accumulates per-step metrics.
type trainStats struct {
	turns   int
	steps   int
	loss    float64
	rankSum int
}

func (s *trainStats) observe(m *starspace.Metrics) {
	s.steps++
	s.loss += m.Loss
	s.rankSum += m.MeanRank
}

func (s *trainStats) add(o trainStats) {
	s.turns += o.turns
	s.steps += o.steps
	s.loss += o.loss
	s.rankSum += o.rankSum
}

func (s *trainStats) meanLoss() float64 {
	if s.steps == 0 {
		return 0
	}
	return s.loss / float64(s.steps)
}

func (s *trainStats) meanRank() float64 {
	if s.steps == 0 {
		return 0
	}
	return float64(s.rankSum) / float64(s.steps)
}

func overrideTrainFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("model-file") {
		cfg.Model.File, _ = cmd.Flags().GetString("model-file")
	}
	if cmd.Flags().Changed("dict-file") {
		cfg.Dict.File, _ = cmd.Flags().GetString("dict-file")
	}
	if cmd.Flags().Changed("embedding-size") {
		cfg.Model.EmbeddingSize, _ = cmd.Flags().GetInt("embedding-size")
	}
	if cmd.Flags().Changed("learning-rate") {
		cfg.Training.LearningRate, _ = cmd.Flags().GetFloat64("learning-rate")
	}
	if cmd.Flags().Changed("margin") {
		cfg.Training.Margin, _ = cmd.Flags().GetFloat64("margin")
	}
	if cmd.Flags().Changed("optimizer") {
		cfg.Training.Optimizer, _ = cmd.Flags().GetString("optimizer")
	}
	if cmd.Flags().Changed("neg-samples") {
		cfg.Training.NegSamples, _ = cmd.Flags().GetInt("neg-samples")
	}
	if cmd.Flags().Changed("cache-size") {
		cfg.Training.CacheSize, _ = cmd.Flags().GetInt("cache-size")
	}
	if cmd.Flags().Changed("seed") {
		cfg.Training.Seed, _ = cmd.Flags().GetInt64("seed")
	}
	if cmd.Flags().Changed("telemetry") {
		cfg.Telemetry.Enabled, _ = cmd.Flags().GetBool("telemetry")
	}
	if cmd.Flags().Changed("telemetry-parquet-path") {
		cfg.Telemetry.ParquetPath, _ = cmd.Flags().GetString("telemetry-parquet-path")
	}
}
