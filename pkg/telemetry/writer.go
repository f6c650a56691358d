// Package telemetry records per-step training metrics to Parquet files for
// offline analysis.
package telemetry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
)

// StepRecord is one training step's outcome.
type StepRecord struct {
	ID            string    `parquet:"id"`
	Timestamp     time.Time `parquet:"timestamp"`
	AgentID       string    `parquet:"agent_id"`
	Loss          float64   `parquet:"loss"`
	MeanRank      int32     `parquet:"mean_rank"`
	Negatives     int32     `parquet:"negatives"`
	CacheSize     int32     `parquet:"cache_size"`
	ContextTokens int32     `parquet:"context_tokens"`
}

// Writer buffers step records and writes them out in Parquet batches, one
// file per flush. Write failures are logged, never propagated into the
// training loop.
type Writer struct {
	outputDir string
	logger    *slog.Logger

	mu        sync.Mutex
	buffer    []StepRecord
	batchSize int
}

// NewWriter creates a telemetry writer rooted at outputDir.
func NewWriter(outputDir string, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		outputDir: outputDir,
		logger:    logger,
		batchSize: 256,
		buffer:    make([]StepRecord, 0, 256),
	}, nil
}

// Record buffers one step record, stamping its ID and timestamp when unset.
// A nil writer is a no-op so callers can leave telemetry unconfigured.
func (w *Writer) Record(rec StepRecord) {
	if w == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer = append(w.buffer, rec)
	if len(w.buffer) >= w.batchSize {
		if err := w.flush(); err != nil {
			w.logger.Error("failed to flush telemetry batch", "error", err)
		}
	}
}

// Flush writes any buffered records out immediately.
func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

// flush writes the buffer to a new Parquet file. Caller must hold the lock.
func (w *Writer) flush() error {
	if len(w.buffer) == 0 {
		return nil
	}

	name := fmt.Sprintf("steps_%s_%d.parquet", time.Now().Format("20060102_150405"), time.Now().UnixNano())
	path := filepath.Join(w.outputDir, name)
	if err := parquet.WriteFile(path, w.buffer); err != nil {
		return fmt.Errorf("failed to write telemetry parquet file: %w", err)
	}

	w.buffer = w.buffer[:0]
	return nil
}

// Close flushes any remaining records.
func (w *Writer) Close() error {
	return w.Flush()
}
