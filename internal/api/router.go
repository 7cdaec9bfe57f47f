package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/print_go_server/config"
	"github.com/qs3c/print_go_server/internal/api/handler"
	"github.com/qs3c/print_go_server/internal/api/middleware"
)

type Router struct {
	authHandler      *handler.AuthHandler
	jobHandler       *handler.JobHandler
	materialHandler  *handler.MaterialHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	jobHandler *handler.JobHandler,
	materialHandler *handler.MaterialHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:      authHandler,
		jobHandler:       jobHandler,
		materialHandler:  materialHandler,
		websocketHandler: websocketHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket 进度推送
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 认证
		auth := api.Group("/auth")
		{
			auth.POST("/login", r.authHandler.Login)
		}

		// 公开接口 - 耗材目录
		api.GET("/materials", r.materialHandler.List)

		// 公开接口 - 顾客侧任务操作（无账号体系，任务 ID 即凭证）
		jobs := api.Group("/jobs")
		{
			jobs.POST("", r.jobHandler.Create)
			jobs.GET("/:id/status", r.jobHandler.GetStatus)
			jobs.GET("/:id/details", r.jobHandler.GetDetails)
			jobs.PATCH("/:id", r.jobHandler.Update)
		}

		// 运营侧接口（需要管理员凭证）
		admin := api.Group("/jobs")
		admin.Use(middleware.AdminAuth(r.cfg.JWT.Secret))
		{
			admin.GET("", r.jobHandler.List)
			admin.POST("/:id/approve", r.jobHandler.Approve)
			admin.POST("/:id/pause", r.jobHandler.Pause)
			admin.POST("/:id/reject", r.jobHandler.Reject)
			admin.POST("/:id/complete", r.jobHandler.Complete)
			admin.GET("/:id/model", r.jobHandler.DownloadModel)
			admin.GET("/:id/sliced", r.jobHandler.DownloadSliced)
		}
	}

	return engine
}
