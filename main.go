package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"adreel/internal/agents"
	"adreel/internal/api"
	"adreel/internal/config"
	"adreel/internal/engine"
	"adreel/internal/events"
	"adreel/internal/queue"
	"adreel/internal/service"
	"adreel/internal/stitcher"
	"adreel/internal/storage"
	"adreel/internal/store"
	"adreel/internal/tools"
	"adreel/internal/volc"
)

func main() {
	// 初始化日志
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(logrus.InfoLevel)

	// 初始化配置、数据库、队列
	config.InitConfig()
	store.InitDB()
	queue.InitQueue()

	gormStore := store.NewGormStore(store.GormDB)

	// 初始化ArkClient与工具
	arkClient := volc.NewArkClientDefault()
	pipe := config.AppConfig.Pipeline
	imageTool := tools.NewImageTool(arkClient, config.AppConfig.Ark.ImageModel)
	videoTool := tools.NewVideoTool(arkClient, config.AppConfig.Ark.VideoModel,
		pipe.RenderPollInterval(), pipe.RenderPollTimeout())

	// 初始化对话模型
	ctx := context.Background()
	llm, err := agents.NewLLM(ctx, config.AppConfig.Ark.ChatModel)
	if err != nil {
		log.Fatalf("初始化对话模型失败: %v", err)
	}

	// 初始化对象存储与拼接客户端
	artifacts, err := storage.NewArtifactStore()
	if err != nil {
		log.Fatalf("初始化对象存储失败: %v", err)
	}
	stitchClient := stitcher.NewClient(config.AppConfig.Stitcher.Addr, 0, 0)

	// 组装流水线：事件枢纽、后台评分器、五个阶段、调度器。
	// 评分探针走独立的Ark客户端，超时与评分窗口对齐
	hub := events.NewHub()
	probeArk := volc.NewArkClientWithTimeout(pipe.ScoreTimeout())
	scorer := engine.NewBackgroundScorer(agents.NewQualityProbe(probeArk, config.AppConfig.Ark.ChatModel), gormStore, pipe.ScoreTimeout())
	pipeline := service.NewPipelineService(llm, imageTool, videoTool, artifacts, stitchClient, pipe)
	sequencer := engine.NewSequencer(gormStore, hub, scorer, pipeline.Stages())

	// 启动队列消费者
	processor := queue.NewProcessor(sequencer)
	processor.StartProcessor(pipe.WorkerConcurrency)

	// 初始化Gin路由
	router := gin.Default()
	api.NewHandler(gormStore, hub).RegisterRoutes(router)

	port := config.AppConfig.Server.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// 在goroutine中启动服务器
	go func() {
		log.Printf("服务器启动在 :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("启动服务器失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("关闭服务器...")

	// 优雅关闭服务器
	if err := srv.Close(); err != nil {
		log.Fatalf("服务器关闭失败: %v", err)
	}

	log.Println("服务器已关闭")
}
