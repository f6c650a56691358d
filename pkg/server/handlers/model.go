package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/starspace"
	"github.com/soundprediction/starspace/pkg/dict"
	"github.com/soundprediction/starspace/pkg/server/dto"
)

// ModelHandler serves model inspection and persistence endpoints
type ModelHandler struct {
	agents *Agents
}

// NewModelHandler creates a new model handler
func NewModelHandler(agents *Agents) *ModelHandler {
	return &ModelHandler{agents: agents}
}

// Info handles GET /model
func (h *ModelHandler) Info(c *gin.Context) {
	root := h.agents.Root()
	opts := root.Model().Opts()

	c.JSON(http.StatusOK, dto.ModelInfoResponse{
		Vocab:           root.Dict().Len(),
		EmbeddingSize:   opts.EmbeddingSize,
		SharedTables:    opts.ShareEmbeddings,
		Optimizer:       root.OptimizerName(),
		FixedCandidates: len(root.FixedCandidates()),
		LiveSessions:    h.agents.LiveCount(),
	})
}

// AgentInfo handles GET /agent, reporting the configuration the agent is
// actually running with (checkpoint overrides included).
func (h *ModelHandler) AgentInfo(c *gin.Context) {
	root := h.agents.Root()
	cfg := root.Config()

	c.JSON(http.StatusOK, dto.AgentInfoResponse{
		ID: starspace.AgentID,
		Model: dto.ModelSettings{
			EmbeddingSize: cfg.Model.EmbeddingSize,
			EmbeddingNorm: cfg.Model.EmbeddingNorm,
			SharedTables:  cfg.Model.ShareEmbeddings,
			TFIDF:         cfg.Model.TFIDF,
			Vocab:         root.Dict().Len(),
		},
		Training: dto.TrainingSettings{
			LearningRate: cfg.Training.LearningRate,
			Margin:       cfg.Training.Margin,
			Optimizer:    root.OptimizerName(),
			NegSamples:   cfg.Training.NegSamples,
			ParrotNeg:    cfg.Training.ParrotNeg,
			CacheSize:    cfg.Training.CacheSize,
			Truncate:     cfg.Training.Truncate,
		},
		History: dto.HistorySettings{
			Length:  cfg.History.Length,
			Replies: cfg.History.Replies,
		},
	})
}

// Save handles POST /model/save. An empty body saves to the configured
// model file.
func (h *ModelHandler) Save(c *gin.Context) {
	var req dto.SaveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
			return
		}
	}

	if err := h.agents.Root().Save(req.Path); err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "save_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.SaveResponse{Success: true, Path: req.Path})
}

// Neighbors handles GET /neighbors/:token, listing the vocabulary entries
// closest to the token in embedding space.
func (h *ModelHandler) Neighbors(c *gin.Context) {
	token := c.Param("token")
	root := h.agents.Root()

	ind := root.Dict().Index(token)
	if ind == dict.UnkIndex && token != dict.UnkToken {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "unknown_token", Message: token})
		return
	}

	k := 10
	if raw := c.Query("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "k must be a positive integer"})
			return
		}
		k = parsed
	}

	// Ask for one extra hit since the token itself always ranks first.
	hits := root.Model().Neighbors(ind, k+1, false)
	resp := dto.NeighborsResponse{Token: token, Neighbors: make([]dto.Neighbor, 0, k)}
	for _, hit := range hits {
		if hit.Index == ind {
			continue
		}
		resp.Neighbors = append(resp.Neighbors, dto.Neighbor{
			Token: root.Dict().Token(hit.Index),
			Score: hit.Score,
		})
		if len(resp.Neighbors) == k {
			break
		}
	}
	c.JSON(http.StatusOK, resp)
}
