package main

import (
	"context"
	"fmt"
	"log"

	"github.com/qs3c/print_go_server/config"
	"github.com/qs3c/print_go_server/internal/api"
	"github.com/qs3c/print_go_server/internal/api/handler"
	"github.com/qs3c/print_go_server/internal/database"
	"github.com/qs3c/print_go_server/internal/pkg/cron"
	"github.com/qs3c/print_go_server/internal/pkg/pubsub"
	"github.com/qs3c/print_go_server/internal/pkg/queue"
	"github.com/qs3c/print_go_server/internal/pkg/ws"
	"github.com/qs3c/print_go_server/internal/repository"
	"github.com/qs3c/print_go_server/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化切片任务队列
	sliceQueue := queue.NewQueue(rdb, cfg.Queue.SliceQueue)

	// 初始化 WebSocket Hub
	wsHub := ws.NewHub()
	log.Println("WebSocket hub started")

	// 初始化 Repository
	jobRepo := repository.NewJobRepository(db)
	materialRepo := repository.NewMaterialRepository(db)

	// 初始化 Service
	pricingService := service.NewPricingService(cfg)
	jobService := service.NewJobService(jobRepo, materialRepo, pricingService, sliceQueue, cfg)
	materialService := service.NewMaterialService(materialRepo)
	authService := service.NewAuthService(cfg)

	// 耗材目录为空时写入默认数据
	if err := materialService.EnsureDefaults(); err != nil {
		log.Printf("Warning: failed to seed materials: %v", err)
	}

	// 订阅切片进度，转发给订阅了对应任务的 WebSocket 连接
	subscriber := pubsub.NewSubscriber(rdb)
	go func() {
		err := subscriber.Subscribe(context.Background(), func(msg *pubsub.ProgressMessage) {
			wsHub.SendToJob(msg.JobID, &ws.Message{
				Type: msg.Type,
				Data: msg,
			})
		})
		if err != nil {
			log.Printf("Progress subscriber stopped: %v", err)
		}
	}()

	// 启动定时清理
	cronService := cron.NewService(jobRepo, cfg.Upload.Dir, cfg.Slicer.OutputDir, cfg.Upload.ExpireHours)
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Handler
	authHandler := handler.NewAuthHandler(authService)
	jobHandler := handler.NewJobHandler(jobService)
	materialHandler := handler.NewMaterialHandler(materialService)
	websocketHandler := handler.NewWebSocketHandler(wsHub, jobService)

	// 初始化 Router
	router := api.NewRouter(
		authHandler,
		jobHandler,
		materialHandler,
		websocketHandler,
		cfg,
	)
	engine := router.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
