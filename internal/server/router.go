package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/auth"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/storage"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	userIDContextKey     = "gymroutes_user_id"
	claimsContextKey     = "gymroutes_claims"
	defaultMaxPhotoBytes = 10 << 20
	defaultPingInterval  = 30 * time.Second
)

var (
	errMissingGymService      = errors.New("gym service dependency required")
	errMissingProfileService  = errors.New("profile service dependency required")
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingRealtimeService = errors.New("realtime dispatcher dependency required")
)

// ProfileService registers and authenticates climbers.
type ProfileService interface {
	SignUp(ctx context.Context, email, password, username string) (users.Profile, error)
	Authenticate(ctx context.Context, email, password string) (users.Profile, error)
	GetProfile(ctx context.Context, userID string) (users.Profile, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// TokenManager issues, validates and revokes session tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateRequest(r *http.Request) (auth.Claims, error)
	Revoke(claims auth.Claims)
}

// Dependencies wires the HTTP handler. Photos may be nil when no bucket is configured.
type Dependencies struct {
	GymService     *gym.Service
	Profiles       ProfileService
	TokenManager   TokenManager
	Realtime       *RealtimeDispatcher
	Photos         storage.PhotoStore
	IDProvider     gym.IDProvider
	Logger         *zap.Logger
	AllowedOrigins []string
	MaxPhotoBytes  int64
	PingInterval   time.Duration
}

// NewHTTPHandler builds the gin engine serving the gym API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GymService == nil {
		return nil, errMissingGymService
	}
	if deps.Profiles == nil {
		return nil, errMissingProfileService
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtimeService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	idProvider := deps.IDProvider
	if idProvider == nil {
		idProvider = gym.NewUUIDProvider()
	}
	maxPhotoBytes := deps.MaxPhotoBytes
	if maxPhotoBytes <= 0 {
		maxPhotoBytes = defaultMaxPhotoBytes
	}
	pingInterval := deps.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}

	handler := &httpHandler{
		gym:           deps.GymService,
		profiles:      deps.Profiles,
		tokens:        deps.TokenManager,
		realtime:      deps.Realtime,
		photos:        deps.Photos,
		idProvider:    idProvider,
		logger:        logger,
		maxPhotoBytes: maxPhotoBytes,
		pingInterval:  pingInterval,
		upgrader:      newUpgrader(deps.AllowedOrigins),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.POST("/auth/signup", handler.handleSignUp)
	router.POST("/auth/signin", handler.handleSignIn)

	router.GET("/walls", handler.handleListWalls)
	router.GET("/walls/:wallId/resets", handler.handleListResets)
	router.GET("/walls/:wallId/resets/current", handler.handleCurrentReset)
	router.GET("/routes", handler.handleListRoutes)
	router.GET("/routes/:routeId", handler.handleGetRoute)
	router.GET("/stats/active-routes-by-grade", handler.handleActiveRoutesByGrade)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/signout", handler.handleSignOut)
	protected.GET("/auth/user", handler.handleCurrentUser)

	admin := protected.Group("/")
	admin.Use(handler.requireAdmin)
	admin.POST("/walls/:wallId/resets", handler.handlePerformReset)
	admin.POST("/walls/:wallId/photos", handler.handleUploadPhoto)
	admin.PATCH("/resets/:resetId", handler.handleUpdateResetDate)
	admin.POST("/routes", handler.handleCreateRoute)
	admin.DELETE("/routes/:routeId", handler.handleDeleteRoute)

	self := protected.Group("/users/:userId")
	self.Use(handler.requireSelf)
	self.GET("/climb-logs", handler.handleListClimbLogs)
	self.GET("/climb-logs/stream", handler.handleClimbLogStream)
	self.GET("/climb-logs/:routeId", handler.handleFindClimbLog)
	self.POST("/climb-logs", handler.handleInsertClimbLog)
	self.PATCH("/climb-logs/:logId", handler.handleUpdateClimbLog)
	self.GET("/stats/completed-by-grade", handler.handleCompletedByGrade)

	return router, nil
}

type httpHandler struct {
	gym           *gym.Service
	profiles      ProfileService
	tokens        TokenManager
	realtime      *RealtimeDispatcher
	photos        storage.PhotoStore
	idProvider    gym.IDProvider
	logger        *zap.Logger
	maxPhotoBytes int64
	pingInterval  time.Duration
	upgrader      *websocket.Upgrader
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if strings.TrimSpace(origin) == "*" {
			return true
		}
	}
	return false
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.tokens.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrMissingToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Set(claimsContextKey, claims)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	isAdmin, err := h.profiles.IsAdmin(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, users.ErrProfileNotFound) {
		h.logger.Error("admin lookup failed", zap.String("user_id", userID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if !isAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func (h *httpHandler) requireSelf(c *gin.Context) {
	if c.Param("userId") != c.GetString(userIDContextKey) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}
