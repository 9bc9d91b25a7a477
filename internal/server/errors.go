package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/storage"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error codes returned in {"error": code} bodies.
const (
	codeInvalidRequest     = "invalid_request"
	codeNotFound           = "not_found"
	codeUnknownWall        = "unknown_wall"
	codeStaleReset         = "stale_reset"
	codeDuplicate          = "duplicate"
	codeRouteDate          = "route_date_before_reset"
	codeEmailTaken         = "email_taken"
	codeInvalidCredentials = "invalid_credentials"
	codeUnsupportedMedia   = "unsupported_media_type"
	codeStorageDisabled    = "storage_disabled"
	codeInternal           = "internal_error"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{target: gym.ErrNotFound, status: http.StatusNotFound, code: codeNotFound},
	{target: gym.ErrUnknownWall, status: http.StatusNotFound, code: codeUnknownWall},
	{target: gym.ErrRouteDateBeforeReset, status: http.StatusBadRequest, code: codeRouteDate},
	{target: gym.ErrInvalidInput, status: http.StatusBadRequest, code: codeInvalidRequest},
	{target: gym.ErrStaleReset, status: http.StatusConflict, code: codeStaleReset},
	{target: gym.ErrDuplicateClimbLog, status: http.StatusConflict, code: codeDuplicate},
	{target: users.ErrEmailTaken, status: http.StatusConflict, code: codeEmailTaken},
	{target: users.ErrInvalidProfile, status: http.StatusBadRequest, code: codeInvalidRequest},
	{target: users.ErrInvalidCredentials, status: http.StatusUnauthorized, code: codeInvalidCredentials},
	{target: users.ErrProfileNotFound, status: http.StatusNotFound, code: codeNotFound},
	{target: storage.ErrUnsupportedContentType, status: http.StatusUnsupportedMediaType, code: codeUnsupportedMedia},
}

// respondError maps domain errors onto status codes; anything unrecognised is logged and
// reported as an internal error.
func (h *httpHandler) respondError(c *gin.Context, message string, err error) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			c.JSON(mapping.status, gin.H{"error": mapping.code})
			return
		}
	}
	fields := []zap.Field{zap.Error(err), zap.String("path", c.FullPath())}
	var serviceErr *gym.ServiceError
	if errors.As(err, &serviceErr) {
		fields = append(fields, zap.String("code", serviceErr.Code()))
	}
	h.logger.Error(message, fields...)
	c.JSON(http.StatusInternalServerError, gin.H{"error": codeInternal})
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidRequest})
}
