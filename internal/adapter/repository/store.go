package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github-scout/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store 实现了 port.Store 接口
// SQLite 开 WAL 模式：单写多读，进度轮询的读请求不会被写路径阻塞
type Store struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

// NewStore 打开数据库并自动迁移四张表
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	store := &Store{nowFunc: time.Now}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		// gorm 自动维护的时间戳 (UpdatedAt 等) 也走注入的时钟
		NowFunc: func() time.Time { return store.nowFunc() },
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	err = db.AutoMigrate(
		&domain.DeveloperProfile{},
		&domain.SearchRun{},
		&domain.Repository{},
		&domain.AnalysisResult{},
	)
	if err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	store.db = db
	return store, nil
}

// SaveProfile 单例画像 create-or-replace，固定使用 default id
func (s *Store) SaveProfile(ctx context.Context, profile *domain.DeveloperProfile) (string, error) {
	profile.ID = domain.DefaultProfileID
	now := s.nowFunc()
	profile.UpdatedAt = now

	var existing domain.DeveloperProfile
	err := s.db.WithContext(ctx).First(&existing, "id = ?", domain.DefaultProfileID).Error
	switch {
	case err == nil:
		profile.CreatedAt = existing.CreatedAt
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile.CreatedAt = now
	default:
		return "", err
	}

	// Save 按主键自动处理 Insert 或 Update
	if err := s.db.WithContext(ctx).Save(profile).Error; err != nil {
		return "", err
	}
	return profile.ID, nil
}

// GetProfile 返回当前画像，不存在时返回 (nil, nil)
func (s *Store) GetProfile(ctx context.Context) (*domain.DeveloperProfile, error) {
	var profile domain.DeveloperProfile
	err := s.db.WithContext(ctx).First(&profile, "id = ?", domain.DefaultProfileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// CreateRun 写入一条 running 状态的运行记录
func (s *Store) CreateRun(ctx context.Context, run *domain.SearchRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

// GetRun 按 id 查询运行记录
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.SearchRun, error) {
	var run domain.SearchRun
	err := s.db.WithContext(ctx).First(&run, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FinishRun 把运行推进到终态并回填统计
// WHERE status = 'running' 保证终态只会被写一次：已终结的运行不再被改写
func (s *Store) FinishRun(ctx context.Context, run *domain.SearchRun) error {
	finished := s.nowFunc()
	return s.db.WithContext(ctx).
		Model(&domain.SearchRun{}).
		Where("id = ? AND status = ?", run.ID, domain.StatusRunning).
		Updates(map[string]interface{}{
			"status":           run.Status,
			"finished_at":      finished,
			"total_discovered": run.TotalDiscovered,
			"total_filtered":   run.TotalFiltered,
			"total_analyzed":   run.TotalAnalyzed,
			"skipped_repos":    run.SkippedRepos,
		}).Error
}

// UpsertRepositories 按 github_id 去重 upsert：元数据整体刷新，last_seen_at 永远前进
// 所有字段来自同一份上游快照，last-writer-wins 不会产生不一致
func (s *Store) UpsertRepositories(ctx context.Context, repos []*domain.Repository) error {
	if len(repos) == 0 {
		return nil
	}
	now := s.nowFunc()
	for _, repo := range repos {
		repo.LastSeenAt = now
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "github_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner", "name", "url", "description", "primary_language", "languages",
			"star_count", "fork_count", "open_issue_count", "topics", "license",
			"pushed_at", "upstream_created_at", "good_first_issue_count",
			"help_wanted_count", "last_seen_at",
		}),
	}).Create(repos).Error
}

// SaveAnalysisResults 插入分析结果；(run_id, repository_id) 冲突时忽略，绝不更新旧行
func (s *Store) SaveAnalysisResults(ctx context.Context, results []*domain.AnalysisResult) error {
	if len(results) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		DoNothing: true,
	}).Create(results).Error
}

// GetRunResults 运行记录 + 按 fit_score 降序的分析结果 + 关联仓库元数据
func (s *Store) GetRunResults(ctx context.Context, runID string) (*domain.ScoutResult, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil || run == nil {
		return nil, err
	}

	var results []*domain.AnalysisResult
	err = s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("fit_score DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	var repos []*domain.Repository
	if len(results) > 0 {
		ids := make([]int64, 0, len(results))
		for _, r := range results {
			ids = append(ids, r.RepositoryID)
		}
		if err := s.db.WithContext(ctx).Find(&repos, "github_id IN ?", ids).Error; err != nil {
			return nil, err
		}
	}

	byID := make(map[int64]*domain.Repository, len(repos))
	for _, repo := range repos {
		byID[repo.GithubID] = repo
	}
	for _, r := range results {
		if repo, ok := byID[r.RepositoryID]; ok {
			r.Repo = repo.FullName()
		}
	}

	return &domain.ScoutResult{
		RunID:           run.ID,
		Status:          run.Status,
		TotalDiscovered: run.TotalDiscovered,
		TotalFiltered:   run.TotalFiltered,
		TotalAnalyzed:   run.TotalAnalyzed,
		Results:         results,
		Repos:           repos,
		Skipped:         run.SkippedRepos,
	}, nil
}

// PruneStaleRepos 删除超过保留期且没有任何分析结果引用的仓库快照
func (s *Store) PruneStaleRepos(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.nowFunc().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Where("last_seen_at < ? AND github_id NOT IN (SELECT repository_id FROM analysis_results)", cutoff).
		Delete(&domain.Repository{})
	return result.RowsAffected, result.Error
}
