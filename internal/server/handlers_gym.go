package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const photoFormField = "photo"

type performResetPayload struct {
	PhotoURL        string `json:"photo_url"`
	PreviousResetID string `json:"previous_reset_id"`
	ResetDate       string `json:"reset_date"`
}

type resetDatePayload struct {
	ResetDate string `json:"reset_date" binding:"required"`
}

type createRoutePayload struct {
	WallID      string   `json:"wall_id" binding:"required"`
	WallResetID string   `json:"wall_reset_id" binding:"required"`
	Grade       string   `json:"grade" binding:"required"`
	TapeColor   string   `json:"tape_color" binding:"required"`
	HoldColors  []string `json:"hold_color" binding:"required,min=1"`
	DateSet     string   `json:"date_set" binding:"required"`
	IsActive    *bool    `json:"is_active"`
}

func (h *httpHandler) handleListWalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"walls": h.gym.Walls()})
}

func (h *httpHandler) handleListResets(c *gin.Context) {
	resets, err := h.gym.ListResets(c.Request.Context(), c.Param("wallId"))
	if err != nil {
		h.respondError(c, "list resets failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resets": resets})
}

func (h *httpHandler) handleCurrentReset(c *gin.Context) {
	current, err := h.gym.CurrentReset(c.Request.Context(), c.Param("wallId"))
	if err != nil {
		h.respondError(c, "current reset lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, current)
}

func (h *httpHandler) handlePerformReset(c *gin.Context) {
	var request performResetPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	var resetDate time.Time
	if request.ResetDate != "" {
		parsed, err := gym.ParseDate(request.ResetDate)
		if err != nil {
			badRequest(c)
			return
		}
		resetDate = parsed
	}

	created, err := h.gym.PerformWallReset(c.Request.Context(), gym.ResetRequest{
		WallID:          c.Param("wallId"),
		PhotoURL:        request.PhotoURL,
		PreviousResetID: request.PreviousResetID,
		ResetDate:       resetDate,
	})
	if err != nil {
		h.respondError(c, "wall reset failed", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleUploadPhoto(c *gin.Context) {
	if h.photos == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": codeStorageDisabled})
		return
	}
	wallID := c.Param("wallId")
	if err := h.gym.ValidateWall(wallID); err != nil {
		h.respondError(c, "photo upload rejected", err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxPhotoBytes)
	fileHeader, err := c.FormFile(photoFormField)
	if err != nil {
		badRequest(c)
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	photoID, err := h.idProvider.NewID()
	if err != nil {
		h.respondError(c, "photo id generation failed", err)
		return
	}
	key, err := storage.PhotoKey(wallID, photoID, contentType)
	if err != nil {
		h.respondError(c, "photo upload rejected", err)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		badRequest(c)
		return
	}
	defer file.Close()

	url, err := h.photos.PutPhoto(c.Request.Context(), key, contentType, file, fileHeader.Size)
	if err != nil {
		h.respondError(c, "photo upload failed", err)
		return
	}
	h.logger.Info("wall photo stored", zap.String("wall_id", wallID), zap.String("key", key))
	c.JSON(http.StatusCreated, gin.H{"photo_url": url})
}

func (h *httpHandler) handleUpdateResetDate(c *gin.Context) {
	var request resetDatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	resetDate, err := gym.ParseDate(request.ResetDate)
	if err != nil {
		badRequest(c)
		return
	}
	updated, err := h.gym.UpdateResetDate(c.Request.Context(), c.Param("resetId"), resetDate)
	if err != nil {
		h.respondError(c, "reset date update failed", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleListRoutes(c *gin.Context) {
	query := gym.RouteQuery{
		WallID:      strings.TrimSpace(c.Query("wall_id")),
		WallResetID: strings.TrimSpace(c.Query("wall_reset_id")),
	}
	if raw := strings.TrimSpace(c.Query("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c)
			return
		}
		query.ActiveOnly = active
	}
	routes, err := h.gym.ListRoutes(c.Request.Context(), query)
	if err != nil {
		h.respondError(c, "list routes failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"routes": routes})
}

func (h *httpHandler) handleGetRoute(c *gin.Context) {
	route, err := h.gym.GetRoute(c.Request.Context(), c.Param("routeId"))
	if err != nil {
		h.respondError(c, "route lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, route)
}

func (h *httpHandler) handleCreateRoute(c *gin.Context) {
	var request createRoutePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	dateSet, err := gym.ParseDate(request.DateSet)
	if err != nil {
		badRequest(c)
		return
	}
	isActive := true
	if request.IsActive != nil {
		isActive = *request.IsActive
	}

	created, err := h.gym.CreateRoute(c.Request.Context(), gym.Route{
		WallID:      strings.TrimSpace(request.WallID),
		WallResetID: strings.TrimSpace(request.WallResetID),
		Grade:       request.Grade,
		TapeColor:   request.TapeColor,
		HoldColors:  gym.ParseHoldColors(strings.Join(request.HoldColors, ",")),
		DateSet:     dateSet,
		IsActive:    isActive,
	})
	if err != nil {
		h.respondError(c, "route creation failed", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleDeleteRoute(c *gin.Context) {
	if err := h.gym.DeleteRoute(c.Request.Context(), c.Param("routeId")); err != nil {
		h.respondError(c, "route deletion failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleActiveRoutesByGrade(c *gin.Context) {
	counts, err := h.gym.CountActiveRoutesByGrade(c.Request.Context())
	if err != nil {
		h.respondError(c, "active route count failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}
