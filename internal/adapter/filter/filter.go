package filter

import (
	"regexp"
	"sort"

	"github-scout/internal/domain"
)

// 教程/合集类仓库的噪音特征：这些仓库 star 再高也没有贡献空间
var noisePatterns = []string{
	`\bawesome[-_]`,
	`\btutorial\b`,
	`\blearn[-_]`,
	`\bcheatsheet\b`,
	`\bcourse\b`,
	`\binterview[-_]prep\b`,
	`\bcurated\s+list\b`,
	`\bcoding[-_]challenges?\b`,
}

var noiseRE = regexp.MustCompile(`(?i)` + joinPatterns(noisePatterns))

func joinPatterns(patterns []string) string {
	out := ""
	for i, p := range patterns {
		if i > 0 {
			out += "|"
		}
		out += p
	}
	return out
}

// Thresholds 过滤阈值，对应 SearchFilters 里的 star 区间
type Thresholds struct {
	MinStars int
	MaxStars int
}

// IsNoise 识别教程 / awesome 合集 / 课程资料类仓库
func IsNoise(repo *domain.Repository) bool {
	return noiseRE.MatchString(repo.Name + " " + repo.Description)
}

// HasOpenIssues 没有任何 open issue 的仓库不值得贡献
func HasOpenIssues(repo *domain.Repository) bool {
	return repo.OpenIssueCount > 0
}

// WithinThresholds star 数落在配置区间内
func WithinThresholds(repo *domain.Repository, t Thresholds) bool {
	return repo.StarCount >= t.MinStars && repo.StarCount <= t.MaxStars
}

// passes 逐条规则评估单个候选，顺序：噪音 → 零 issue → 阈值
func passes(repo *domain.Repository, t Thresholds) bool {
	if IsNoise(repo) {
		return false
	}
	if !HasOpenIssues(repo) {
		return false
	}
	return WithinThresholds(repo, t)
}

// Apply 纯函数：候选集 → 短名单，无 I/O，逐候选独立评估
// 幸存者按贡献友好度加权降序排列；加权只决定顺序 (以及截断时谁被保留)，
// 不作为排除依据。并列时先比 star 数 (降序) 再比 github id (升序)，保证确定性
func Apply(candidates []*domain.Repository, t Thresholds) []*domain.Repository {
	shortlist := make([]*domain.Repository, 0, len(candidates))
	for _, repo := range candidates {
		if passes(repo, t) {
			shortlist = append(shortlist, repo)
		}
	}

	sort.SliceStable(shortlist, func(i, j int) bool {
		bi, bj := shortlist[i].PriorityBoost(), shortlist[j].PriorityBoost()
		if bi != bj {
			return bi > bj
		}
		if shortlist[i].StarCount != shortlist[j].StarCount {
			return shortlist[i].StarCount > shortlist[j].StarCount
		}
		return shortlist[i].GithubID < shortlist[j].GithubID
	})

	return shortlist
}
