package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github-scout/internal/adapter/filter"
	"github-scout/internal/common"
	"github-scout/internal/domain"
	"github-scout/internal/port"

	"github.com/google/uuid"
)

// 整个运行的兜底超时，防止卡死的运行永远占着全局运行槽
const runDeadline = 15 * time.Minute

// Options 流水线参数
type Options struct {
	MaxRepos             int           // 分析上限 (短名单按优先级截断到这个数)
	BatchSize            int           // 每个评分批次的仓库数
	BatchTimeout         time.Duration // 单批次超时，超时批次记为 skipped，运行继续
	MaxConcurrentBatches int           // 同时在途的评分调用数
}

func (o *Options) withDefaults() {
	if o.MaxRepos <= 0 {
		o.MaxRepos = 50
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 8
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 60 * time.Second
	}
	if o.MaxConcurrentBatches <= 0 {
		o.MaxConcurrentBatches = 4
	}
}

// ScoutService 处理一次完整的 发现 → 过滤 → 分析 运行
// 除 RunGuard 和 Store 外全部是纯转换，运行内的可变状态只属于本服务
type ScoutService struct {
	discoverer port.Discoverer
	readmes    port.ReadmeFetcher
	appraiser  port.Appraiser
	store      port.Store
	notifier   port.Notifier // 可以为 nil
	guard      *RunGuard
	opts       Options

	mu         sync.Mutex
	streams    map[string]*Stream
	subscribed map[string]bool
}

// NewScoutService 创建搜索服务
func NewScoutService(
	discoverer port.Discoverer,
	readmes port.ReadmeFetcher,
	appraiser port.Appraiser,
	store port.Store,
	notifier port.Notifier,
	guard *RunGuard,
	opts Options,
) *ScoutService {
	opts.withDefaults()
	return &ScoutService{
		discoverer: discoverer,
		readmes:    readmes,
		appraiser:  appraiser,
		store:      store,
		notifier:   notifier,
		guard:      guard,
		opts:       opts,
		streams:    make(map[string]*Stream),
		subscribed: make(map[string]bool),
	}
}

// StartRun 校验过滤条件、通过 RunGuard 准入后立即返回，流水线在后台执行
func (s *ScoutService) StartRun(ctx context.Context, origin string, filters domain.SearchFilters) (*domain.SearchRun, error) {
	if err := filters.Validate(); err != nil {
		return nil, common.WrapError(common.ErrCodeInvalidInput, "过滤条件非法", err)
	}

	runID := uuid.NewString()
	if err := s.guard.Acquire(origin, runID); err != nil {
		return nil, err
	}

	profile, err := s.store.GetProfile(ctx)
	if err != nil {
		s.guard.Release(runID)
		return nil, common.WrapError(common.ErrCodeDatabase, "读取画像失败", err)
	}

	serialized, _ := json.Marshal(filters)
	run := &domain.SearchRun{
		ID:        runID,
		Filters:   string(serialized),
		Status:    domain.StatusRunning,
		StartedAt: time.Now(),
	}
	if profile != nil {
		run.ProfileID = &profile.ID
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.guard.Release(runID)
		return nil, common.WrapError(common.ErrCodeDatabase, "创建运行记录失败", err)
	}

	stream := NewStream()
	s.mu.Lock()
	s.streams[runID] = stream
	s.mu.Unlock()

	go s.execute(runID, filters, profile, stream)

	return run, nil
}

// Subscribe 把唯一的订阅者接到运行的进度流上
// 运行不存在或已经有订阅者时返回 false，调用方应改走持久化结果
func (s *ScoutService) Subscribe(runID string) (<-chan Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.streams[runID]
	if !ok || s.subscribed[runID] {
		return nil, false
	}
	s.subscribed[runID] = true
	return stream.Events(), true
}

// Cancel 幂等取消：对已终结的运行是空操作
func (s *ScoutService) Cancel(runID string) {
	s.guard.Cancel(runID)
}

// batchOutcome 单个批次的完成结果，按完成顺序消费，与提交顺序无关
type batchOutcome struct {
	idx       int
	results   []*domain.AnalysisResult
	err       error
	cancelled bool
}

// execute 在后台跑完整个流水线，退出前保证运行进入终态并释放运行槽
func (s *ScoutService) execute(runID string, filters domain.SearchFilters, profile *domain.DeveloperProfile, stream *Stream) {
	ctx, cancel := context.WithTimeout(context.Background(), runDeadline)
	defer cancel()

	defer func() {
		stream.Close()
		s.guard.Release(runID)
		s.mu.Lock()
		delete(s.streams, runID)
		delete(s.subscribed, runID)
		s.mu.Unlock()
	}()

	run := &domain.SearchRun{ID: runID}

	// --- 发现阶段 ---
	fmt.Printf("🚀 [%s] 开始搜索运行\n", runID)
	stream.Publish(Event{Type: EventPhase, Phase: PhaseDiscovering, Message: "正在搜索 GitHub..."})

	disc, err := s.discoverer.Discover(ctx, filters)
	if err != nil {
		// 发现失败没有任何候选，部分结果无从谈起，整个运行失败
		log.Printf("❌ [%s] 仓库发现失败: %v", runID, err)
		run.Status = domain.StatusFailed
		s.finishRun(ctx, run)
		stream.Publish(Event{Type: EventError, Message: friendlyMessage(err, "仓库发现失败，请稍后重试")})
		return
	}
	run.TotalDiscovered = len(disc.Repos)
	for _, w := range disc.Warnings {
		stream.Publish(Event{Type: EventStatus, Phase: PhaseDiscovering, Message: w})
	}
	stream.Publish(Event{Type: EventStatus, Phase: PhaseDiscovering,
		Message: fmt.Sprintf("发现 %d 个候选仓库", len(disc.Repos))})

	if len(disc.Repos) == 0 {
		run.Status = domain.StatusCompleted
		s.finishRun(ctx, run)
		stream.Publish(Event{Type: EventComplete, Data: s.buildResult(run, nil, nil, disc.Warnings)})
		return
	}

	if err := s.store.UpsertRepositories(ctx, disc.Repos); err != nil {
		log.Printf("❌ [%s] 仓库快照落库失败: %v", runID, err)
		run.Status = domain.StatusFailed
		s.finishRun(ctx, run)
		stream.Publish(Event{Type: EventError, Message: "仓库数据保存失败"})
		return
	}

	if s.checkCancelled(ctx, runID, run, stream) {
		return
	}

	// --- 过滤阶段 ---
	stream.Publish(Event{Type: EventPhase, Phase: PhaseFiltering, Message: "正在过滤候选仓库..."})
	shortlist := filter.Apply(disc.Repos, filter.Thresholds{
		MinStars: filters.MinStars,
		MaxStars: filters.MaxStars,
	})
	run.TotalFiltered = len(shortlist)
	stream.Publish(Event{Type: EventStatus, Phase: PhaseFiltering,
		Message: fmt.Sprintf("%d 个仓库通过过滤", len(shortlist))})

	if len(shortlist) == 0 {
		run.Status = domain.StatusCompleted
		s.finishRun(ctx, run)
		stream.Publish(Event{Type: EventStatus, Message: "所有候选都被过滤掉了，试试放宽条件"})
		stream.Publish(Event{Type: EventComplete, Data: s.buildResult(run, nil, nil, disc.Warnings)})
		return
	}

	capped := shortlist
	if len(capped) > s.opts.MaxRepos {
		capped = capped[:s.opts.MaxRepos]
	}

	if s.checkCancelled(ctx, runID, run, stream) {
		return
	}

	// 没有画像时评分无从谈起：跑完发现+过滤就收工，结果以未评分形式展示
	if profile == nil {
		log.Printf("⚠️ [%s] 未配置开发者画像，跳过 AI 分析", runID)
		stream.Publish(Event{Type: EventStatus,
			Message: "未配置开发者画像，已跳过 AI 分析；保存画像后重新运行即可评分"})
		run.Status = domain.StatusCompleted
		s.finishRun(ctx, run)
		stream.Publish(Event{Type: EventComplete, Data: s.buildResult(run, nil, capped, disc.Warnings)})
		return
	}

	// --- README 阶段 (仍属 filtering，只针对截断后的短名单) ---
	stream.Publish(Event{Type: EventStatus, Phase: PhaseFiltering,
		Message: fmt.Sprintf("正在为 %d 个仓库拉取 README...", len(capped))})
	readmes, err := s.readmes.FetchReadmes(ctx, capped)
	if err != nil {
		// README 缺失不致命，退化成仅用元数据评分
		log.Printf("⚠️ [%s] README 拉取失败: %v", runID, err)
		stream.Publish(Event{Type: EventStatus, Phase: PhaseFiltering,
			Message: "README 拉取失败，将仅基于元数据评分"})
		readmes = nil
	}

	if s.checkCancelled(ctx, runID, run, stream) {
		return
	}

	// --- 分析阶段 ---
	stream.Publish(Event{Type: EventPhase, Phase: PhaseAnalyzing, Message: "开始 AI 批量分析..."})
	all, skipped, succeeded, failed := s.runAnalysis(ctx, runID, profile, capped, readmes, stream)

	run.TotalAnalyzed = len(all)
	run.SkippedRepos = skipped

	switch {
	case s.guard.Cancelled(runID):
		run.Status = domain.StatusCancelled
	case succeeded == 0 && failed > 0:
		run.Status = domain.StatusFailed
	case failed > 0 || len(all) < len(capped):
		run.Status = domain.StatusPartial
	default:
		run.Status = domain.StatusCompleted
	}
	s.finishRun(ctx, run)

	switch run.Status {
	case domain.StatusCancelled:
		fmt.Printf("👋 [%s] 搜索已取消\n", runID)
		stream.Publish(Event{Type: EventStatus, Message: "搜索已取消"})
	case domain.StatusFailed:
		stream.Publish(Event{Type: EventError,
			Message: "所有分析批次都失败了；无法完成的仓库: " + strings.Join(skipped, ", ")})
	default:
		result := s.buildResult(run, all, capped, disc.Warnings)
		stream.Publish(Event{Type: EventComplete, Data: result})
		s.notify(result)
	}
	fmt.Printf("🎉 [%s] 运行结束: %s (分析 %d/%d)\n", runID, run.Status, len(all), len(capped))
}

// runAnalysis 把短名单切批并发评分，按完成顺序消费结果
// 每个批次作为一个整体落库和上报，不存在半个批次
func (s *ScoutService) runAnalysis(
	ctx context.Context,
	runID string,
	profile *domain.DeveloperProfile,
	capped []*domain.Repository,
	readmes map[int64]string,
	stream *Stream,
) (all []*domain.AnalysisResult, skipped []string, succeeded, failed int) {
	batches := chunkRepos(capped, s.opts.BatchSize)
	total := len(capped)

	jobs := make(chan int, len(batches))
	results := make(chan batchOutcome, len(batches))

	workers := s.opts.MaxConcurrentBatches
	if workers > len(batches) {
		workers = len(batches)
	}
	for w := 1; w <= workers; w++ {
		go s.analyzeWorker(ctx, runID, w, profile, batches, readmes, jobs, results)
	}
	for i := range batches {
		jobs <- i
	}
	close(jobs)

	for range batches {
		out := <-results
		batch := batches[out.idx]

		switch {
		case out.cancelled:
			// 取消后不再派发的批次：整批记为 skipped，已在途的批次照常收尾
			skipped = append(skipped, repoNames(batch)...)

		case out.err != nil:
			failed++
			names := repoNames(batch)
			skipped = append(skipped, names...)
			stream.Publish(Event{
				Type:     EventProgress,
				Phase:    PhaseAnalyzing,
				Analyzed: len(all),
				Total:    total,
				Message:  batchFailureMessage(out.err, names),
			})

		default:
			succeeded++
			// 结果归属由服务端定：(run_id, repository_id) 是分析结果的复合主键
			for _, result := range out.results {
				result.RunID = runID
			}
			if err := s.store.SaveAnalysisResults(ctx, out.results); err != nil {
				log.Printf("❌ [%s] 批次 #%d 结果落库失败: %v", runID, out.idx+1, err)
			}
			all = append(all, out.results...)
			// 批次可以合法地少返回几条，差额记为 skipped 而不是错误
			missing := missingRepos(batch, out.results)
			skipped = append(skipped, missing...)
			msg := fmt.Sprintf("已分析 %d/%d 个仓库...", len(all), total)
			if len(missing) > 0 {
				msg += "；本批未返回结果: " + strings.Join(missing, ", ")
			}
			stream.Publish(Event{
				Type:     EventProgress,
				Phase:    PhaseAnalyzing,
				Analyzed: len(all),
				Total:    total,
				Message:  msg,
			})
		}
	}

	return all, skipped, succeeded, failed
}

// analyzeWorker 工作协程：派发前观察取消标记，单批次带独立超时
func (s *ScoutService) analyzeWorker(
	ctx context.Context,
	runID string,
	workerID int,
	profile *domain.DeveloperProfile,
	batches [][]*domain.Repository,
	readmes map[int64]string,
	jobs <-chan int,
	results chan<- batchOutcome,
) {
	for idx := range jobs {
		if s.guard.Cancelled(runID) {
			results <- batchOutcome{idx: idx, cancelled: true}
			continue
		}

		batch := batches[idx]
		fmt.Printf("   [Worker-%d] 正在分析批次 #%d (%d 个仓库)...\n", workerID, idx+1, len(batch))

		bctx, cancel := context.WithTimeout(ctx, s.opts.BatchTimeout)
		res, err := s.appraiser.AppraiseBatch(bctx, profile, batch, readmes)
		cancel()

		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			err = common.WrapError(common.ErrCodeBatchTimeout,
				fmt.Sprintf("批次 #%d 超过 %s 未返回", idx+1, s.opts.BatchTimeout), err)
		}
		if err != nil {
			fmt.Printf("   [Worker-%d] ❌ 批次 #%d 失败: %v\n", workerID, idx+1, err)
		} else {
			fmt.Printf("   [Worker-%d] ✅ 批次 #%d 完成 (%d 条结果)\n", workerID, idx+1, len(res))
		}
		results <- batchOutcome{idx: idx, results: res, err: err}
	}
}

// checkCancelled 阶段之间的安全点：命中取消标记时终结运行
func (s *ScoutService) checkCancelled(ctx context.Context, runID string, run *domain.SearchRun, stream *Stream) bool {
	if !s.guard.Cancelled(runID) {
		return false
	}
	fmt.Printf("👋 [%s] 搜索已取消\n", runID)
	run.Status = domain.StatusCancelled
	s.finishRun(ctx, run)
	stream.Publish(Event{Type: EventStatus, Message: "搜索已取消"})
	return true
}

func (s *ScoutService) finishRun(ctx context.Context, run *domain.SearchRun) {
	if err := s.store.FinishRun(ctx, run); err != nil {
		log.Printf("❌ [%s] 运行状态落库失败: %v", run.ID, err)
	}
}

// buildResult 组装终态汇总：被拒绝的仓库不进结果列表，其余按 fit_score 降序
func (s *ScoutService) buildResult(run *domain.SearchRun, all []*domain.AnalysisResult, repos []*domain.Repository, warnings []string) *domain.ScoutResult {
	visible := make([]*domain.AnalysisResult, 0, len(all))
	for _, r := range all {
		if !r.Reject {
			visible = append(visible, r)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].FitScore > visible[j].FitScore
	})
	return &domain.ScoutResult{
		RunID:           run.ID,
		Status:          run.Status,
		TotalDiscovered: run.TotalDiscovered,
		TotalFiltered:   run.TotalFiltered,
		TotalAnalyzed:   run.TotalAnalyzed,
		Results:         visible,
		Repos:           repos,
		Warnings:        warnings,
		Skipped:         run.SkippedRepos,
	}
}

func (s *ScoutService) notify(result *domain.ScoutResult) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.notifier.NotifyRunFinished(ctx, result); err != nil {
		log.Printf("⚠️ 运行结果推送失败: %v", err)
	}
}

// friendlyMessage 对外只暴露可读的错误说明，绝不透传上游原始报文
func friendlyMessage(err error, fallback string) string {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	var rl *common.RateLimitedError
	if errors.As(err, &rl) {
		return fmt.Sprintf("GitHub API 限额不足，%s 后重试", time.Until(rl.ResetAt).Round(time.Second))
	}
	return fallback
}

func batchFailureMessage(err error, names []string) string {
	if common.HasCode(err, common.ErrCodeBatchTimeout) {
		return "批次超时，已跳过: " + strings.Join(names, ", ")
	}
	return "批次失败，已跳过: " + strings.Join(names, ", ")
}

func chunkRepos(repos []*domain.Repository, size int) [][]*domain.Repository {
	var batches [][]*domain.Repository
	for start := 0; start < len(repos); start += size {
		end := start + size
		if end > len(repos) {
			end = len(repos)
		}
		batches = append(batches, repos[start:end])
	}
	return batches
}

func repoNames(repos []*domain.Repository) []string {
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		names = append(names, r.FullName())
	}
	return names
}

// missingRepos 批次提交了但 AI 没有返回结果的仓库
func missingRepos(batch []*domain.Repository, results []*domain.AnalysisResult) []string {
	returned := make(map[int64]bool, len(results))
	for _, r := range results {
		returned[r.RepositoryID] = true
	}
	var missing []string
	for _, repo := range batch {
		if !returned[repo.GithubID] {
			missing = append(missing, repo.FullName())
		}
	}
	return missing
}
