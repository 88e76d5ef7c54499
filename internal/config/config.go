package config

import (
	"os"
	"strconv"
	"time"
)

// Config 进程级配置，全部来自环境变量 (.env 由入口加载)
type Config struct {
	Addr string

	// 外部凭证
	GitHubToken  string
	GeminiAPIKey string

	// 持久化
	DBPath string

	// 流水线参数
	MaxRepos             int           // 单次运行最多分析的仓库数
	BatchSize            int           // 每次评分调用的仓库数 (5-10)
	BatchTimeout         time.Duration // 单个批次的超时
	MaxConcurrentBatches int           // 同时在途的评分调用数

	// 资源护栏
	RateLimitFloor   int           // GitHub 限额低于该点数时暂停调用
	SearchRateLimit  int           // 每个来源每窗口允许的运行启动数
	SearchRateWindow time.Duration // 滚动窗口长度

	// 可选的运行结束通知
	WebhookURL string
}

// Load 读取环境变量并套用默认值
func Load() *Config {
	return &Config{
		Addr:                 getEnv("ADDR", ":8080"),
		GitHubToken:          os.Getenv("GITHUB_TOKEN"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		DBPath:               getEnv("SCOUT_DB_PATH", "data/scout.db"),
		MaxRepos:             getEnvInt("SCOUT_MAX_REPOS", 50),
		BatchSize:            getEnvInt("SCOUT_BATCH_SIZE", 8),
		BatchTimeout:         time.Duration(getEnvInt("SCOUT_BATCH_TIMEOUT_SECONDS", 60)) * time.Second,
		MaxConcurrentBatches: getEnvInt("SCOUT_MAX_CONCURRENT_BATCHES", 4),
		RateLimitFloor:       getEnvInt("SCOUT_RATE_LIMIT_FLOOR", 100),
		SearchRateLimit:      getEnvInt("SCOUT_SEARCH_RATE_LIMIT", 5),
		SearchRateWindow:     time.Duration(getEnvInt("SCOUT_SEARCH_RATE_WINDOW_SECONDS", 3600)) * time.Second,
		WebhookURL:           os.Getenv("SCOUT_WEBHOOK_URL"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
