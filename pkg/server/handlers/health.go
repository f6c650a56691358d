package handlers

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// Build information - can be set at build time using ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// HealthHandler handles health check requests
type HealthHandler struct {
	agents *Agents
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(agents *Agents) *HealthHandler {
	return &HealthHandler{agents: agents}
}

// HealthCheck handles GET /health - basic liveness check
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "starspace",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// LivenessCheck handles GET /live - Kubernetes liveness probe endpoint
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"service":   "starspace",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadinessCheck handles GET /ready
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	response := gin.H{
		"status":    "ready",
		"service":   "starspace",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    gin.H{},
	}

	allHealthy := true
	checks := response["checks"].(gin.H)

	if root := h.agents.Root(); root != nil {
		checks["model"] = gin.H{
			"status":         "healthy",
			"vocab":          root.Dict().Len(),
			"embedding_size": root.Model().Opts().EmbeddingSize,
		}
	} else {
		checks["model"] = gin.H{
			"status": "unhealthy",
			"error":  "agent not initialized",
		}
		allHealthy = false
	}

	if store := h.agents.Store(); store != nil {
		start := time.Now()
		ids, err := store.IDs()
		duration := time.Since(start)
		if err != nil {
			checks["sessions"] = gin.H{
				"status":   "unhealthy",
				"error":    err.Error(),
				"duration": duration.String(),
			}
			allHealthy = false
		} else {
			checks["sessions"] = gin.H{
				"status":   "healthy",
				"stored":   len(ids),
				"live":     h.agents.LiveCount(),
				"duration": duration.String(),
			}
		}
	} else {
		checks["sessions"] = gin.H{
			"status": "healthy",
			"note":   "persistence disabled",
			"live":   h.agents.LiveCount(),
		}
	}

	if !allHealthy {
		response["status"] = "not_ready"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// DetailedHealthCheck handles GET /health/detailed - comprehensive health
// information including model and runtime metrics
func (h *HealthHandler) DetailedHealthCheck(c *gin.Context) {
	startTime := time.Now()
	response := gin.H{
		"status":  "healthy",
		"service": "starspace",
		"version": Version,
		"build_info": gin.H{
			"git_commit": GitCommit,
			"build_time": BuildTime,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"environment": gin.H{
			"go_version": GoVersion,
		},
		"checks": gin.H{},
		"metrics": gin.H{
			"response_time_ms": 0, // Set at the end
		},
	}

	allHealthy := true
	checks := response["checks"].(gin.H)

	if root := h.agents.Root(); root != nil {
		opts := root.Model().Opts()
		checks["model"] = gin.H{
			"status":           "healthy",
			"vocab":            root.Dict().Len(),
			"embedding_size":   opts.EmbeddingSize,
			"shared_tables":    opts.ShareEmbeddings,
			"optimizer":        root.OptimizerName(),
			"fixed_candidates": len(root.FixedCandidates()),
		}
	} else {
		checks["model"] = gin.H{
			"status": "unhealthy",
			"error":  "agent not initialized",
		}
		allHealthy = false
	}

	systemMetrics := h.getSystemMetrics()
	checks["system"] = gin.H{
		"status":       "healthy",
		"memory_usage": systemMetrics.MemoryUsage,
		"goroutines":   systemMetrics.Goroutines,
		"gc_cycles":    systemMetrics.GCCycles,
		"heap_objects": systemMetrics.HeapObjects,
		"stack_usage":  systemMetrics.StackUsage,
	}

	totalDuration := time.Since(startTime)
	response["metrics"].(gin.H)["response_time_ms"] = totalDuration.Milliseconds()

	if !allHealthy {
		response["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// SystemMetrics holds system runtime metrics
type SystemMetrics struct {
	MemoryUsage string `json:"memory_usage"`
	Goroutines  int    `json:"goroutines"`
	GCCycles    uint32 `json:"gc_cycles"`
	HeapObjects uint64 `json:"heap_objects"`
	StackUsage  string `json:"stack_usage"`
}

// getSystemMetrics collects current system runtime metrics
func (h *HealthHandler) getSystemMetrics() SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	memoryUsage := fmt.Sprintf("%.2f MB", float64(m.Alloc)/(1024*1024))
	stackUsage := fmt.Sprintf("%.2f MB", float64(m.StackSys)/(1024*1024))

	return SystemMetrics{
		MemoryUsage: memoryUsage,
		Goroutines:  runtime.NumGoroutine(),
		GCCycles:    m.NumGC,
		HeapObjects: m.HeapObjects,
		StackUsage:  stackUsage,
	}
}
