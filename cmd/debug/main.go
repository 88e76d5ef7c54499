package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"

	"github-scout/internal/adapter/filter"
	"github-scout/internal/adapter/github"
	"github-scout/internal/config"
	"github-scout/internal/domain"
)

// 调试入口：不落库、不评分，单次跑完 发现→过滤 并打印短名单
func main() {
	languages := flag.String("languages", "Go", "逗号分隔的语言列表")
	topics := flag.String("topics", "", "逗号分隔的主题列表")
	minStars := flag.Int("min-stars", 50, "最小 star 数")
	maxStars := flag.Int("max-stars", 50000, "最大 star 数")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	filters := domain.SearchFilters{
		Languages: splitList(*languages),
		Topics:    splitList(*topics),
		MinStars:  *minStars,
		MaxStars:  *maxStars,
	}
	if err := filters.Validate(); err != nil {
		log.Fatalf("❌ 过滤条件非法: %v", err)
	}

	gateway, err := github.NewGateway(cfg.GitHubToken, cfg.RateLimitFloor)
	if err != nil {
		log.Fatalf("❌ GitHub 客户端初始化失败: %v", err)
	}
	discoverer := github.NewDiscoveryService(gateway, cfg.MaxRepos)

	ctx := context.Background()

	fmt.Println("🔍 调试模式：发现并过滤候选仓库")
	disc, err := discoverer.Discover(ctx, filters)
	if err != nil {
		log.Fatalf("❌ 仓库发现失败: %v", err)
	}
	for _, w := range disc.Warnings {
		fmt.Printf("⚠️ %s\n", w)
	}
	fmt.Printf("✅ 发现 %d 个候选仓库 (GitHub 报告命中 %d)\n", len(disc.Repos), disc.Total)

	shortlist := filter.Apply(disc.Repos, filter.Thresholds{
		MinStars: filters.MinStars,
		MaxStars: filters.MaxStars,
	})
	fmt.Printf("✅ 过滤后剩余 %d 个仓库\n\n", len(shortlist))

	limit := cfg.MaxRepos
	if limit > len(shortlist) {
		limit = len(shortlist)
	}
	for i, repo := range shortlist[:limit] {
		fmt.Printf("  #%-3d %-45s ⭐ %-6d 加权 %.1f\n", i+1, repo.FullName(), repo.StarCount, repo.PriorityBoost())
		fmt.Printf("       gfi=%d help-wanted=%d open-issues=%d %s\n",
			repo.GoodFirstIssueCount, repo.HelpWantedCount, repo.OpenIssueCount, repo.PrimaryLanguage)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
