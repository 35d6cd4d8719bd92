// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"ledgerbase-go/internal/cache"
	"ledgerbase-go/internal/config"
	"ledgerbase-go/internal/handler"
	"ledgerbase-go/internal/middleware"
	"ledgerbase-go/internal/model"
	"ledgerbase-go/internal/pipeline"
	"ledgerbase-go/internal/repository"
	"ledgerbase-go/internal/service"
	"ledgerbase-go/internal/store"
	"ledgerbase-go/pkg/database"
	"ledgerbase-go/pkg/embedding"
	"ledgerbase-go/pkg/es"
	"ledgerbase-go/pkg/hash"
	"ledgerbase-go/pkg/kafka"
	"ledgerbase-go/pkg/ledger"
	"ledgerbase-go/pkg/llm"
	"ledgerbase-go/pkg/log"
	"ledgerbase-go/pkg/storage"
	"ledgerbase-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化镜像库、Redis、对象存储、全文镜像和任务队列
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(&model.EntityMirror{}); err != nil {
		log.Fatalf("镜像表迁移失败: %v", err)
	}
	storage.InitMinIO(cfg.MinIO)
	esEnabled := true
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		// 全文镜像是补充视图，不可用时本体检索不受影响。
		log.Errorf("es 初始化失败, 全文镜像功能已禁用: %s", err)
		esEnabled = false
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化账本网关（载荷先写 MinIO 归档，弥合网关检索的收敛窗口）
	archive := storage.NewPayloadArchive(storage.MinioClient, cfg.MinIO.BucketName)
	gateway := ledger.NewClient(cfg.Ledger, archive)

	// 5. 初始化 Repository 与核心引擎
	mirrorRepo := repository.NewMirrorRepository(database.DB)
	askHistoryRepo := repository.NewAskHistoryRepository(database.RDB)
	entityCache := cache.NewRedisCache(database.RDB, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	entityStore := store.NewEntityStore(gateway, entityCache, mirrorRepo)

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	embeddingClient := embedding.NewFallbackClient(embedding.NewClient(cfg.Embedding), cfg.Embedding.Dimensions)
	llmClient := llm.NewClient(cfg.LLM)
	entityService := service.NewEntityService(entityStore, kafka.ProduceIndexTask)
	userService := service.NewUserService(entityStore, mirrorRepo, jwtManager)
	indexService := service.NewIndexService(gateway, embeddingClient)
	searchService := service.NewSearchService(gateway, embeddingClient, entityStore, llmClient,
		askHistoryRepo, cfg.Search, cfg.Elasticsearch, cfg.LLM)

	// 7. 初始化索引管道并启动后台 Kafka 消费者
	processor := pipeline.NewProcessor(indexService, cfg.Elasticsearch, esEnabled)
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 7.1 确保存在管理员账户（幂等）
	seedCtx, cancelSeed := context.WithCancel(context.Background())
	defer cancelSeed()
	go seedAdminUser(seedCtx, entityStore, mirrorRepo)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	entityHandler := handler.NewEntityHandler(entityService)
	searchHandler := handler.NewSearchHandler(searchService)
	userHandler := handler.NewUserHandler(userService)
	askHandler := handler.NewAskHandler(searchService, llmClient, jwtManager, cfg.LLM)
	adminHandler := handler.NewAdminHandler(entityCache, entityService, kafka.ProduceIndexTask)

	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", userHandler.RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.Profile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		// Entity 路由组，需要认证
		entities := apiV1.Group("/entities")
		entities.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			entities.POST("/:kind", entityHandler.Create)
			entities.GET("/:kind", entityHandler.List)
			entities.GET("/:kind/:id", entityHandler.Get)
			entities.PUT("/:kind/:id", entityHandler.Update)
			entities.DELETE("/:kind/:id", entityHandler.Delete)
		}

		// Search 路由组，需要认证
		search := apiV1.Group("/search")
		search.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			search.GET("/semantic", searchHandler.Semantic)
			search.GET("/hybrid", searchHandler.Hybrid)
			search.GET("/keyword", searchHandler.Keyword)
			search.GET("/similar/:docId", searchHandler.Similar)
		}

		// 问答路由：HTTP 一次性问答需要认证，WebSocket 在 URL 中带 token
		ask := apiV1.Group("/ask")
		ask.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			ask.POST("", searchHandler.Ask)
		}
		r.GET("/ask/:token", askHandler.Handle)

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(middleware.AuthMiddleware(jwtManager, userService), middleware.AdminAuthMiddleware())
		{
			admin.POST("/cache/clear", adminHandler.ClearCache)
			admin.POST("/reindex/:docId", adminHandler.ReindexDocument)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// Kafka 消费循环会在进程退出时自然结束，无需单独关闭。
	log.Info("服务已优雅关闭")
}

// seedAdminUser 确保账本上存在一个管理员用户（幂等）。
// 默认口令仅用于首次部署，生产环境应在首次登录后立即修改。
func seedAdminUser(ctx context.Context, entityStore store.EntityStore, mirrorRepo repository.MirrorRepository) {
	if _, err := mirrorRepo.FindByUsername("admin"); err == nil {
		log.Info("seedAdminUser: 管理员账户已存在，跳过")
		return
	}
	if recs, err := entityStore.ListByTag(ctx, model.EntityTypeUser, map[string]string{"username": "admin"}, 1); err == nil && len(recs) > 0 {
		log.Info("seedAdminUser: 管理员账户已存在于账本，跳过")
		return
	}

	hashed, err := hash.HashPassword("admin123")
	if err != nil {
		log.Warnf("seedAdminUser: 生成口令哈希失败: %v", err)
		return
	}
	rec, err := entityStore.Create(ctx, model.EntityTypeUser, &model.UserFields{
		Username:     "admin",
		PasswordHash: hashed,
		Role:         "ADMIN",
		DisplayName:  "Administrator",
	})
	if err != nil {
		log.Warnf("seedAdminUser: 创建管理员账户失败: %v", err)
		return
	}
	log.Infof("seedAdminUser: 管理员账户已创建, entityId: %s", rec.EntityID)
}
