package main

import (
	"log/slog"

	"github.com/soundprediction/starspace/pkg/logger"
)

func main() {
	log := logger.NewDefaultLogger(slog.LevelDebug)

	log.Info("============================================")
	log.Info("    Starspace Colored Logger Demo")
	log.Info("============================================")
	log.Info("")

	log.Debug("Debug message - gray")
	log.Info("Info message - standard color")
	log.Warn("Warning message - yellow!")
	log.Error("Error message - red!")

	log.Info("")
	log.Info("Training output looks like this:")
	log.Info("loaded dictionary", "path", "train.dict", "tokens", 18412)
	log.Info("created agent", "vocab", 18412, "embedding_size", 128, "optimizer", "sgd")
	log.Info("training step", "step", 1200, "loss", 0.4138, "mean_rank", 2, "negatives", 10)
	log.Warn("negative cache underfilled", "want", 10, "got", 3)
	log.Error("checkpoint load failed", "error", "unexpected EOF")

	log.Info("")
	log.Info("Demo complete!")
}
