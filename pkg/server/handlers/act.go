package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soundprediction/starspace"
	"github.com/soundprediction/starspace/pkg/server/dto"
)

// AgentHandler handles conversational turns
type AgentHandler struct {
	agents *Agents
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(agents *Agents) *AgentHandler {
	return &AgentHandler{agents: agents}
}

// Act handles POST /act. A turn with labels is a training step; a turn with
// candidates is a ranking request. The reply carries whichever the agent
// produced.
func (h *AgentHandler) Act(c *gin.Context) {
	var req dto.ActRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	reply, err := h.agents.Act(sessionID, starspace.Observation{
		Text:            req.Text,
		Labels:          req.Labels,
		LabelCandidates: req.Candidates,
		EpisodeDone:     req.EpisodeDone,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "act_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.ActResponse{
		SessionID: sessionID,
		Reply:     toReplyDTO(reply),
	})
}

// Rank handles POST /rank, scoring candidates against a context with no
// session state involved.
func (h *AgentHandler) Rank(c *gin.Context) {
	var req dto.RankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	reply, err := h.agents.Rank(req.Text, req.Candidates)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "rank_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.RankResponse{Reply: toReplyDTO(reply)})
}

// toReplyDTO converts an agent reply into its wire form.
func toReplyDTO(r starspace.Reply) dto.Reply {
	out := dto.Reply{
		ID:             r.ID,
		Text:           r.Text,
		TextCandidates: r.TextCandidates,
	}
	if r.Metrics != nil {
		out.Metrics = &dto.Metrics{
			MeanRank:  r.Metrics.MeanRank,
			Loss:      r.Metrics.Loss,
			Negatives: r.Metrics.Negatives,
		}
	}
	return out
}
