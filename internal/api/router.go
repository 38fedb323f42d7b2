package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/retro-relay/internal/blobstore"
	"github.com/wfunc/retro-relay/internal/config"
	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/ledsign"
	"github.com/wfunc/retro-relay/internal/middleware"
	"github.com/wfunc/retro-relay/internal/service"
	"github.com/wfunc/retro-relay/internal/websocket"
)

// Router API路由器
type Router struct {
	engine   *gin.Engine
	db       *gorm.DB
	services *service.Services

	kioskHandler     *KioskHandler
	operatorHandler  *OperatorHandler
	sessionHandler   *SessionHandler
	admissionHandler *AdmissionHandler
	ledgerHandler    *LedgerHandler
	auditHandler     *AuditHandler
	ledSignHandler   *LedSignHandler
	wsHandler        *WebSocketHandler

	authMiddleware  *middleware.AuthMiddleware
	kioskMiddleware *middleware.KioskMiddleware
	rateLimiter     *middleware.RateLimiter
}

// NewRouter 创建路由器并装配全部依赖
func NewRouter(db *gorm.DB, blobs *blobstore.Store, hub *websocket.Hub, notifier *ledsign.Notifier, cfg *config.Config, log *zap.Logger) *Router {
	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())

	services := service.NewServices(db, blobs, service.FromAppConfig(cfg), log)

	router := &Router{
		engine:   engine,
		db:       db,
		services: services,

		kioskHandler:     NewKioskHandler(services.Admission),
		operatorHandler:  NewOperatorHandler(services.Auth),
		sessionHandler:   NewSessionHandler(services.Session, services.Ledger, hub, notifier, log),
		admissionHandler: NewAdmissionHandler(services.Admission, services.Session, hub, log),
		ledgerHandler:    NewLedgerHandler(services.Session, services.Ledger, services.Snapshot, hub, notifier),
		auditHandler:     NewAuditHandler(services.Audit),
		ledSignHandler:   NewLedSignHandler(notifier),
		wsHandler:        NewWebSocketHandler(services.Session, hub, wsConfig(cfg), log),

		authMiddleware:  middleware.NewAuthMiddleware(services.Auth),
		kioskMiddleware: middleware.NewKioskMiddleware(services.Admission),
		rateLimiter:     middleware.NewRateLimiter(rateLimitConfig(cfg)),
	}

	router.setupRoutes()

	return router
}

func wsConfig(cfg *config.Config) *config.WebSocketConfig {
	if cfg == nil {
		return nil
	}
	return &cfg.WebSocket
}

func rateLimitConfig(cfg *config.Config) *config.RateLimitConfig {
	if cfg == nil {
		return nil
	}
	return &cfg.Security.RateLimit
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)
	r.engine.Static("/static", "./static")
	registerOpenAPIRoutes(r.engine)
	registerSwaggerRoutes(r.engine)

	kioskGuard := r.kioskMiddleware.RequireApproved()
	authGuard := r.authMiddleware.RequireAuth()
	limit := r.rateLimiter.Limit()

	// 事件流，升级前校验准入凭据
	r.engine.GET("/ws", kioskGuard, r.wsHandler.Handle)

	v1 := r.engine.Group("/api/v1")
	{
		// 终端注册，轮询审批结果时还没有准入凭据，不加守卫
		kiosk := v1.Group("/kiosk")
		kiosk.Use(limit)
		{
			kiosk.POST("/registrations", r.kioskHandler.Register)
			kiosk.GET("/registrations/:id", r.kioskHandler.GetRegistration)
		}

		// 会话接口，仅准入终端可用
		sessions := v1.Group("/sessions")
		sessions.Use(limit, kioskGuard)
		{
			sessions.POST("/:code/turns", r.ledgerHandler.CommitTurn)
			sessions.GET("/:code/head", r.ledgerHandler.GetHead)
			sessions.GET("/:code/turns", r.ledgerHandler.ListTurns)
			sessions.POST("/:code/snapshots", r.ledgerHandler.CaptureForHead)
			sessions.GET("/:code/snapshots/latest", r.ledgerHandler.GetLatestSnapshot)
		}

		turns := v1.Group("/turns")
		turns.Use(limit, kioskGuard)
		{
			turns.GET("/:id", r.ledgerHandler.GetTurn)
			turns.GET("/:id/savestate", r.ledgerHandler.GetSaveState)
			turns.GET("/:id/snapshots", r.ledgerHandler.ListSnapshots)
			turns.POST("/:id/snapshots", r.ledgerHandler.CaptureSnapshot)
		}

		// 运营侧
		operator := v1.Group("/operator")
		{
			operator.POST("/login", r.operatorHandler.Login)
			operator.POST("/refresh", r.operatorHandler.Refresh)

			authed := operator.Group("")
			authed.Use(authGuard)
			{
				authed.GET("/me", r.operatorHandler.Me)
				authed.POST("/password", r.operatorHandler.ChangePassword)

				authed.POST("/sessions", r.sessionHandler.Create)
				authed.GET("/sessions", r.sessionHandler.List)
				authed.GET("/sessions/:id", r.sessionHandler.Get)
				authed.POST("/sessions/:id/activate", r.sessionHandler.Activate)
				authed.POST("/sessions/:id/deactivate", r.sessionHandler.Deactivate)
				authed.POST("/sessions/:id/regenerate-code", r.sessionHandler.RegenerateCode)
				authed.POST("/sessions/:id/restore", r.sessionHandler.Restore)
				authed.GET("/sessions/:id/audit", r.auditHandler.ListBySession)

				authed.GET("/admissions", r.admissionHandler.List)
				authed.POST("/admissions/:id/approve", r.admissionHandler.Approve)
				authed.POST("/admissions/:id/deny", r.admissionHandler.Deny)

				authed.GET("/audit", r.auditHandler.Search)
				authed.GET("/ledsign/status", r.ledSignHandler.Status)

				// 账号管理仅限管理员
				admin := authed.Group("/operators")
				admin.Use(r.authMiddleware.RequireRole("admin"))
				{
					admin.POST("", r.operatorHandler.CreateOperator)
					admin.GET("", r.operatorHandler.ListOperators)
					admin.POST("/:id/status", r.operatorHandler.SetOperatorStatus)
				}
			}
		}
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    apperrors.ErrNotFound,
			Message: "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	sqlDB, err := r.db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "unhealthy",
			"message": "数据库连接失败",
		})
		return
	}

	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "unhealthy",
			"message": "数据库ping失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
	})
}

// GetEngine 获取Gin引擎，测试和优雅停机时使用
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// Services 暴露服务集合，启动引导时使用
func (r *Router) Services() *service.Services {
	return r.services
}
