package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type insertClimbLogPayload struct {
	RouteID    string `json:"route_id" binding:"required"`
	IsComplete *bool  `json:"is_complete" binding:"required"`
}

type updateClimbLogPayload struct {
	IsComplete *bool `json:"is_complete" binding:"required"`
}

func (h *httpHandler) handleListClimbLogs(c *gin.Context) {
	logs, err := h.gym.ListClimbLogs(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, "list climb logs failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"climb_logs": logs})
}

func (h *httpHandler) handleFindClimbLog(c *gin.Context) {
	log, err := h.gym.FindClimbLog(c.Request.Context(), c.Param("userId"), c.Param("routeId"))
	if err != nil {
		h.respondError(c, "climb log lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, log)
}

func (h *httpHandler) handleInsertClimbLog(c *gin.Context) {
	var request insertClimbLogPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	log, err := h.gym.InsertClimbLog(c.Request.Context(), c.Param("userId"), request.RouteID, *request.IsComplete)
	if err != nil {
		h.respondError(c, "climb log insert failed", err)
		return
	}
	c.JSON(http.StatusCreated, log)
}

func (h *httpHandler) handleUpdateClimbLog(c *gin.Context) {
	var request updateClimbLogPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	log, err := h.gym.UpdateClimbLog(c.Request.Context(), c.Param("userId"), c.Param("logId"), *request.IsComplete)
	if err != nil {
		h.respondError(c, "climb log update failed", err)
		return
	}
	c.JSON(http.StatusOK, log)
}

func (h *httpHandler) handleCompletedByGrade(c *gin.Context) {
	counts, err := h.gym.CompletedRoutesByGrade(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, "completed route count failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}
