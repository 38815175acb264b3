package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"skillswap/apps/realtime-service/dao"
	"skillswap/apps/realtime-service/handler"
	"skillswap/apps/realtime-service/model"
	"skillswap/apps/realtime-service/service"
	"skillswap/pkg/lifecycle"
	"skillswap/pkg/middleware"
	"skillswap/pkg/server"
	"skillswap/pkg/telemetry"
)

func main() {
	serviceName := "realtime-service"

	// 初始化OpenTelemetry
	// 根据环境变量选择配置
	var otelConfig *telemetry.Config
	if os.Getenv("OTEL_DEBUG") == "true" {
		// 调试模式：输出到控制台
		otelConfig = telemetry.DevelopmentConfig(serviceName)
		log.Printf("OpenTelemetry debug mode enabled - traces will be printed to console")
	} else {
		// 默认模式：不输出，只记录到日志
		otelConfig = telemetry.DefaultConfig(serviceName)
		log.Printf("OpenTelemetry quiet mode - traces recorded but not printed")
	}

	if err := telemetry.InitGlobal(otelConfig); err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	// 确保在程序退出时关闭OpenTelemetry
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.ShutdownGlobal(ctx); err != nil {
			log.Printf("Failed to shutdown OpenTelemetry: %v", err)
		}
	}()

	// 创建应用程序
	app := server.NewApplication(serviceName)

	// 启用HTTP服务器
	app.EnableHTTP()

	// 创建OpenTelemetry中间件
	otelMW := middleware.NewOTelMiddleware(serviceName, app.GetLogger())

	cfg := app.GetConfig()
	postgreSQL := app.GetPostgreSQL()

	// 自动迁移数据库表结构
	if err := postgreSQL.AutoMigrate(
		&model.User{},
		&model.ExchangeSession{},
	); err != nil {
		panic("Failed to migrate database: " + err.Error())
	}

	// 初始化DAO层
	presenceDAO := dao.NewPresenceDAO(app.GetRedisClient())
	userDAO := dao.NewUserDAO(postgreSQL)
	sessionDAO := dao.NewSessionDAO(postgreSQL)
	notificationDAO := dao.NewNotificationDAO(app.GetMongoDB())

	// 初始化Service层
	registry := service.NewPresenceRegistry(cfg.Realtime.OfflineDebounce, presenceDAO, app.GetKafkaProducer(), app.GetLogger())
	router := service.NewNotificationRouter(notificationDAO, app.GetLogger())
	svc := service.NewService(userDAO, sessionDAO, registry, router, app.GetKafkaProducer(), cfg.App.JWTSecret, app.GetLogger())

	// 进程关闭时停掉待生效的离线定时器
	app.AddLifecycleHook(lifecycle.Hook{
		Name: "presence-registry",
		OnStop: func(ctx context.Context) error {
			registry.Stop()
			return nil
		},
		Priority: 200,
	})

	// 初始化Handler
	httpHandler := handler.NewHTTPHandler(svc, app.GetLogger())
	wsHandler := handler.NewWSHandler(svc, cfg.Realtime.HeartbeatTimeout, app.GetLogger())

	// 注册HTTP和WebSocket路由
	app.RegisterHTTPRoutes(func(engine *gin.Engine) {
		engine.Use(otelMW.GinMiddleware())
		httpHandler.RegisterRoutes(engine)
		wsHandler.RegisterRoutes(engine)
	})

	// 运行应用程序
	if err := app.Run(); err != nil {
		panic(err)
	}
}
