package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/starspace/pkg/server/dto"
	"github.com/soundprediction/starspace/pkg/session"
)

// SessionHandler serves session management endpoints
type SessionHandler struct {
	agents *Agents
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(agents *Agents) *SessionHandler {
	return &SessionHandler{agents: agents}
}

// List handles GET /sessions
func (h *SessionHandler) List(c *gin.Context) {
	store := h.agents.Store()
	if store == nil {
		c.JSON(http.StatusOK, dto.SessionListResponse{Sessions: []string{}})
		return
	}

	ids, err := store.IDs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "list_failed", Message: err.Error()})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, dto.SessionListResponse{Sessions: ids})
}

// Info handles GET /sessions/:id
func (h *SessionHandler) Info(c *gin.Context) {
	id := c.Param("id")

	resp := dto.SessionInfoResponse{SessionID: id, Live: h.agents.IsLive(id)}
	if store := h.agents.Store(); store != nil {
		turns, err := store.Turns(id)
		switch {
		case errors.Is(err, session.ErrNotFound):
			if !resp.Live {
				c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "unknown_session", Message: id})
				return
			}
		case err != nil:
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "info_failed", Message: err.Error()})
			return
		default:
			resp.Turns = len(turns)
		}
	} else if !resp.Live {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "unknown_session", Message: id})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Delete handles DELETE /sessions/:id, evicting the live agent and dropping
// the stored transcript.
func (h *SessionHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	h.agents.Drop(id)

	if store := h.agents.Store(); store != nil {
		if err := store.Delete(id); err != nil {
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "delete_failed", Message: err.Error()})
			return
		}
	}
	c.Status(http.StatusNoContent)
}
