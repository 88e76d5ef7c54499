package port

import (
	"context"
	"time"

	"github-scout/internal/domain"
)

// Discoverer (侦察兵): 把过滤条件翻译成 GitHub 搜索并分页拉取候选仓库
type Discoverer interface {
	Discover(ctx context.Context, filters domain.SearchFilters) (*domain.Discovery, error)
}

// ReadmeFetcher 只针对过滤后的短名单批量拉取 README
// 缺少 README 的仓库在返回 map 中没有对应条目，不视为错误
type ReadmeFetcher interface {
	FetchReadmes(ctx context.Context, repos []*domain.Repository) (map[int64]string, error)
}

// Appraiser (鉴定师): 一次评估一批仓库与开发者画像的匹配度
// 返回的结果数可以少于提交数，差额由调用方记为 skipped
type Appraiser interface {
	AppraiseBatch(ctx context.Context, profile *domain.DeveloperProfile, repos []*domain.Repository, readmes map[int64]string) ([]*domain.AnalysisResult, error)
}

// Store (仓库管理员): 四张表的持久化操作
type Store interface {
	// 画像：单例，create-or-replace
	SaveProfile(ctx context.Context, profile *domain.DeveloperProfile) (string, error)
	GetProfile(ctx context.Context) (*domain.DeveloperProfile, error)

	// 运行记录
	CreateRun(ctx context.Context, run *domain.SearchRun) error
	GetRun(ctx context.Context, runID string) (*domain.SearchRun, error)
	FinishRun(ctx context.Context, run *domain.SearchRun) error

	// 仓库快照：按 GitHub 数字 id 去重 upsert
	UpsertRepositories(ctx context.Context, repos []*domain.Repository) error

	// 分析结果：(run_id, repository_id) 唯一，只插入不更新
	SaveAnalysisResults(ctx context.Context, results []*domain.AnalysisResult) error
	GetRunResults(ctx context.Context, runID string) (*domain.ScoutResult, error)

	// 清理 30 天未出现且无分析结果引用的仓库
	PruneStaleRepos(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Notifier (信使): 运行结束后推送摘要，失败不影响运行结果
type Notifier interface {
	NotifyRunFinished(ctx context.Context, result *domain.ScoutResult) error
}
