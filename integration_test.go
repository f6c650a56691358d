package starspace_test

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/starspace"
	"github.com/soundprediction/starspace/pkg/config"
	"github.com/soundprediction/starspace/pkg/data"
	"github.com/soundprediction/starspace/pkg/dict"
)

// The full pipeline the CLI wires together, driven through the public API:
// parse a transcript, build and persist a dictionary, train, rank against a
// candidates file, checkpoint, and resume.

const pipelineTranscript = "1 hello there friend\thi there how are you\n" +
	"2 i am doing great thanks\tglad to hear it friend\n" +
	"3 what should we eat tonight\tlet us get pizza tonight\n" +
	"1 do you like the ocean\tyes i swim there every morning\n" +
	"2 is it cold in winter\twinter is too cold for swimming\n" +
	"1 goodbye see you soon\tgoodbye take care friend\n"

var pipelineReplies = []string{
	"hi there how are you",
	"glad to hear it friend",
	"let us get pizza tonight",
	"yes i swim there every morning",
	"winter is too cold for swimming",
	"goodbye take care friend",
}

func pipelineConfig(dir string) *config.Config {
	cfg := &config.Config{}
	cfg.Model.File = filepath.Join(dir, "model.bin")
	cfg.Model.EmbeddingSize = 24
	cfg.Model.EmbeddingNorm = 10
	cfg.Model.ShareEmbeddings = true
	cfg.Training.LearningRate = 0.1
	cfg.Training.Margin = 0.1
	cfg.Training.Optimizer = "adagrad"
	cfg.Training.Truncate = -1
	cfg.Training.NegSamples = 5
	cfg.Training.CacheSize = 100
	cfg.Training.Seed = 17
	cfg.History.Length = 10000
	cfg.History.Replies = "label"
	cfg.Dict.Lowercase = true
	cfg.Dict.CacheSize = 256
	cfg.Data.FixedCandidatesFile = filepath.Join(dir, "candidates.txt")
	return cfg
}

// trainEpoch streams the transcript through the agent once and returns the
// mean loss over the steps that actually trained.
func trainEpoch(t *testing.T, a *starspace.Agent, path string) float64 {
	t.Helper()
	r, err := data.Open(path)
	require.NoError(t, err)
	defer r.Close()

	var lossSum float64
	var steps int
	for {
		turn, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		a.Observe(starspace.Observation{
			Text:        turn.Text,
			Labels:      turn.Labels,
			EpisodeDone: turn.EpisodeDone,
		})
		if reply := a.Act(); reply.Metrics != nil {
			lossSum += reply.Metrics.Loss
			steps++
		}
	}
	if steps == 0 {
		return 0
	}
	return lossSum / float64(steps)
}

func TestTranscriptTrainingPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pipeline test in short mode")
	}

	dir := t.TempDir()
	dataPath := filepath.Join(dir, "train.txt")
	require.NoError(t, os.WriteFile(dataPath, []byte(pipelineTranscript), 0o644))

	// Numbered candidates, as reply files ship them.
	var sb strings.Builder
	for i, reply := range pipelineReplies {
		fmt.Fprintf(&sb, "%d %s\n", i+1, reply)
	}
	cfg := pipelineConfig(dir)
	require.NoError(t, os.WriteFile(cfg.Data.FixedCandidatesFile, []byte(sb.String()), 0o644))

	// Build the dictionary from the transcript and persist it where the
	// agent expects to find it.
	d := dict.New(dict.DefaultOptions())
	r, err := data.Open(dataPath)
	require.NoError(t, err)
	for {
		turn, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		d.Add(turn.Text)
		for _, label := range turn.Labels {
			d.Add(label)
		}
	}
	require.NoError(t, r.Close())
	d.Sort()
	require.NoError(t, d.Save(cfg.DictFile()))

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	agent, err := starspace.New(cfg, nil, quiet)
	require.NoError(t, err)
	require.Len(t, agent.FixedCandidates(), len(pipelineReplies),
		"numbered candidate lines should load with their indices stripped")

	const epochs = 25
	first := trainEpoch(t, agent, dataPath)
	var last float64
	for i := 1; i < epochs; i++ {
		last = trainEpoch(t, agent, dataPath)
	}
	require.Greater(t, first, 0.0, "the first epoch should reach real training steps")
	assert.Less(t, last, first, "mean loss should fall across epochs")

	// Rank with no per-turn candidates so the fixed list is the pool.
	evalObs := starspace.Observation{Text: "hello there friend", EpisodeDone: true}
	agent.Reset()
	agent.Observe(evalObs)
	want := agent.Act()
	require.False(t, want.Empty())
	assert.Contains(t, pipelineReplies, want.Text)
	assert.Len(t, want.TextCandidates, len(pipelineReplies))

	require.NoError(t, agent.Save(""))

	t.Run("resume from checkpoint", func(t *testing.T) {
		resumed, err := starspace.New(pipelineConfig(dir), nil, quiet)
		require.NoError(t, err)

		resumed.Observe(evalObs)
		got := resumed.Act()
		assert.Equal(t, want.Text, got.Text)
		assert.Equal(t, want.TextCandidates, got.TextCandidates)
		assert.Equal(t, "adagrad", resumed.OptimizerName())
	})

	t.Run("shared child ranks identically", func(t *testing.T) {
		child, err := agent.Share()
		require.NoError(t, err)

		child.Observe(evalObs)
		got := child.Act()
		assert.Equal(t, want.Text, got.Text)
	})
}
