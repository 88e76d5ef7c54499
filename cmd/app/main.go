package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github-scout/internal/adapter/gemini"
	"github-scout/internal/adapter/github"
	"github-scout/internal/adapter/httpapi"
	"github-scout/internal/adapter/repository"
	"github-scout/internal/adapter/webhook"
	"github-scout/internal/config"
	"github-scout/internal/service"
)

// 超过 30 天没在任何搜索结果里出现过的仓库快照会被清理
const stalenessWindow = 30 * 24 * time.Hour

func main() {
	// .env 不存在时静默跳过，容器环境直接注入环境变量
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()

	// 1. 持久化
	store, err := repository.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ 数据库初始化失败: %v", err)
	}

	// 启动即清理陈旧仓库快照，失败只告警不阻塞启动
	if pruned, err := store.PruneStaleRepos(ctx, stalenessWindow); err != nil {
		log.Printf("⚠️ 陈旧仓库清理失败: %v", err)
	} else if pruned > 0 {
		log.Printf("🧹 已清理 %d 个陈旧仓库快照", pruned)
	}

	// 2. GitHub 侧
	gateway, err := github.NewGateway(cfg.GitHubToken, cfg.RateLimitFloor)
	if err != nil {
		log.Fatalf("❌ GitHub 客户端初始化失败: %v", err)
	}
	discoverer := github.NewDiscoveryService(gateway, cfg.MaxRepos)
	readmes := github.NewReadmeClient(gateway)

	// 3. AI 侧
	appraiser, err := gemini.NewBatchAppraiser(ctx, cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("❌ AI 初始化失败: %v", err)
	}
	defer appraiser.Close()

	// 4. 组装服务
	notifier := webhook.NewNotifier(cfg.WebhookURL)
	guard := service.NewRunGuard(cfg.SearchRateLimit, cfg.SearchRateWindow)
	svc := service.NewScoutService(discoverer, readmes, appraiser, store, notifier, guard, service.Options{
		MaxRepos:             cfg.MaxRepos,
		BatchSize:            cfg.BatchSize,
		BatchTimeout:         cfg.BatchTimeout,
		MaxConcurrentBatches: cfg.MaxConcurrentBatches,
	})

	// 5. HTTP 接入层
	router := gin.Default()
	httpapi.Register(router, svc, store)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 GitHub Scout 已启动，监听 %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ HTTP 服务异常退出: %v", err)
		}
	}()

	// 优雅关闭：在途的运行会被整体超时兜底，这里只等 HTTP 连接排空
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("👋 收到停止信号，正在退出...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP 关闭超时: %v", err)
	}
}
