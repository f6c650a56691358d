// Package checkpoint persists trained model artifacts.
//
// A checkpoint is a single msgpack file holding the model parameters, the
// optimizer state, and the configuration that produced them, plus a YAML
// sidecar (<path>.opt.yaml) carrying just the configuration so tooling can
// inspect a model without loading its weights. Writes go through a temporary
// file and rename so a crash never leaves a truncated artifact behind.
package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/soundprediction/starspace/pkg/model"
	"github.com/soundprediction/starspace/pkg/optim"
)

// ErrNotFound is returned when no checkpoint exists at the given path.
var ErrNotFound = errors.New("checkpoint not found")

// Artifact is the payload of one checkpoint file.
type Artifact struct {
	SavedAt   time.Time      `msgpack:"saved_at"`
	Model     *model.State   `msgpack:"model"`
	Optimizer *optim.State   `msgpack:"optimizer"`
	Config    map[string]any `msgpack:"config"`
}

// Manager reads and writes checkpoint files.
type Manager struct {
	logger *slog.Logger
}

// NewManager creates a checkpoint manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Save writes the artifact to path and its configuration to the sidecar.
func (m *Manager) Save(path string, art *Artifact) error {
	if path == "" {
		return errors.New("checkpoint path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	art.SavedAt = time.Now()
	data, err := msgpack.Marshal(art)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	opts, err := yaml.Marshal(art.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint options: %w", err)
	}
	if err := writeAtomic(SidecarPath(path), opts); err != nil {
		return fmt.Errorf("failed to write checkpoint options file: %w", err)
	}

	m.logger.Info("saved checkpoint", "path", path, "bytes", len(data))
	return nil
}

// Load reads the artifact at path. A missing file is ErrNotFound; anything
// unreadable or unparseable is an error, never a silently empty artifact.
func (m *Manager) Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var art Artifact
	if err := msgpack.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if art.Model == nil {
		return nil, fmt.Errorf("checkpoint %s has no model state", path)
	}

	m.logger.Info("loaded checkpoint", "path", path, "saved_at", art.SavedAt)
	return &art, nil
}

// Exists reports whether a checkpoint file is present at path.
func (m *Manager) Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// LoadOptions reads just the configuration sidecar for a checkpoint.
func (m *Manager) LoadOptions(path string) (map[string]any, error) {
	data, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, SidecarPath(path))
		}
		return nil, fmt.Errorf("failed to read checkpoint options file: %w", err)
	}
	var opts map[string]any
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint options: %w", err)
	}
	return opts, nil
}

// SidecarPath returns the options sidecar path for a checkpoint path.
func SidecarPath(path string) string {
	return path + ".opt.yaml"
}

// writeAtomic writes data through a temporary file and rename.
func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
