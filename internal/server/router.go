package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/Luciana501/koli-admin-sub001/internal/auth"
	"github.com/Luciana501/koli-admin-sub001/internal/members"
	"github.com/Luciana501/koli-admin-sub001/internal/realtime"
	"github.com/Luciana501/koli-admin-sub001/internal/rewards"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	principalContextKey      = "koli_principal"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingRewardsService = errors.New("rewards service dependency required")
	errMissingMembersService = errors.New("members service dependency required")
	errMissingUsageService   = errors.New("usage synchronizer dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

type TokenValidator interface {
	ValidateToken(token string) (auth.Principal, error)
}

type Dependencies struct {
	Tokens            TokenValidator
	RewardsService    *rewards.Service
	MembersService    *members.Service
	UsageService      *members.Synchronizer
	Realtime          *realtime.Dispatcher
	MetricsHandler    http.Handler
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.RewardsService == nil {
		return nil, errMissingRewardsService
	}
	if deps.MembersService == nil {
		return nil, errMissingMembersService
	}
	if deps.UsageService == nil {
		return nil, errMissingUsageService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(traceRequests())
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	handler := &httpHandler{
		tokens:    deps.Tokens,
		rewards:   deps.RewardsService,
		members:   deps.MembersService,
		usage:     deps.UsageService,
		realtime:  deps.Realtime,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(metricsHandler))

	authenticated := router.Group("/")
	authenticated.Use(handler.authorizeRequest)
	authenticated.POST("/rewards/claim", handler.handleClaim)

	admin := router.Group("/admin")
	admin.Use(handler.authorizeRequest, handler.requireAdmin)
	admin.POST("/rewards", handler.handleGenerate)
	admin.GET("/rewards/current", handler.handleCurrentPool)
	admin.GET("/rewards/history", handler.handleHistory)
	admin.GET("/rewards/:code/analytics", handler.handleAnalytics)
	admin.GET("/rewards/:code/claims", handler.handleListClaims)
	admin.POST("/platform-codes", handler.handleCreatePlatformCode)
	admin.GET("/platform-codes", handler.handleListPlatformCodes)
	admin.POST("/platform-codes/recount", handler.handleRecount)
	admin.POST("/members", handler.handleCreateMember)
	admin.GET("/members/:id", handler.handleGetMember)
	admin.PUT("/members/:id/platform-code", handler.handleUpdatePlatformCode)
	admin.DELETE("/members/:id", handler.handleDeleteMember)
	admin.GET("/stream", handler.handleStream)

	return router, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

type httpHandler struct {
	tokens    TokenValidator
	rewards   *rewards.Service
	members   *members.Service
	usage     *members.Synchronizer
	realtime  *realtime.Dispatcher
	heartbeat time.Duration
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := auth.TokenFromRequest(c.Request)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	principal, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok || !principal.IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func principalFrom(c *gin.Context) (auth.Principal, bool) {
	value, exists := c.Get(principalContextKey)
	if !exists {
		return auth.Principal{}, false
	}
	principal, ok := value.(auth.Principal)
	return principal, ok
}
