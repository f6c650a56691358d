package starspace

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/soundprediction/starspace/pkg/config"
	"github.com/soundprediction/starspace/pkg/data"
	"github.com/soundprediction/starspace/pkg/dict"
	"github.com/soundprediction/starspace/pkg/logger"
)

// newLogger builds the CLI logger from the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	return logger.NewLogger(logger.Options{
		Level:        parseLevel(cfg.Log.Level),
		DisableColor: cfg.Log.NoColor,
	})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func dictOptions(cfg *config.Config) dict.Options {
	return dict.Options{
		Lowercase: cfg.Dict.Lowercase,
		MinFreq:   cfg.Dict.MinFreq,
		MaxTokens: cfg.Dict.MaxTokens,
		CacheSize: cfg.Dict.CacheSize,
	}
}

// buildDictionary scans a dialog file and builds a vocabulary from every
// text, label, and candidate it carries.
func buildDictionary(cfg *config.Config, log *slog.Logger, dataFile string) (*dict.Dictionary, error) {
	r, err := data.Open(dataFile)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	d := dict.New(dictOptions(cfg))
	turns := 0
	for {
		turn, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dataFile, err)
		}
		d.Add(turn.Text)
		for _, label := range turn.Labels {
			d.Add(label)
		}
		for _, cand := range turn.Candidates {
			d.Add(cand)
		}
		turns++
	}
	d.Sort()
	log.Info("built dictionary", "source", dataFile, "turns", turns, "tokens", d.Len())
	return d, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
