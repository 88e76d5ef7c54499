package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github-scout/internal/common"
	"github-scout/internal/domain"

	"github.com/shurcooL/githubv4"
)

const (
	searchPageSize = 100
	// GitHub 单个搜索查询最多返回 1000 条，命中数达到上限时给调用方打 capped 标记
	searchResultCap = 1000
	// 未指定活跃时间时默认只要最近半年有 push 的仓库
	defaultActivityDays = 180
)

// DiscoveryService 实现了 port.Discoverer 接口
type DiscoveryService struct {
	gw       *Gateway
	maxRepos int
	nowFunc  func() time.Time
}

// NewDiscoveryService 创建发现服务，maxRepos 是单次运行的分析上限
// (发现阶段最多收集 2×maxRepos 条，给过滤阶段留余量)
func NewDiscoveryService(gw *Gateway, maxRepos int) *DiscoveryService {
	return &DiscoveryService{
		gw:       gw,
		maxRepos: maxRepos,
		nowFunc:  time.Now,
	}
}

// repoNode 搜索结果里单个仓库的 GraphQL 投影
type repoNode struct {
	DatabaseID githubv4.Int
	Owner      struct {
		Login githubv4.String
	}
	Name            githubv4.String
	URL             githubv4.URI
	Description     githubv4.String
	PrimaryLanguage struct {
		Name githubv4.String
	}
	Languages struct {
		Nodes []struct {
			Name githubv4.String
		}
	} `graphql:"languages(first: 10)"`
	StargazerCount githubv4.Int
	ForkCount      githubv4.Int
	Issues         struct {
		TotalCount githubv4.Int
	} `graphql:"issues(states: OPEN)"`
	RepositoryTopics struct {
		Nodes []struct {
			Topic struct {
				Name githubv4.String
			}
		}
	} `graphql:"repositoryTopics(first: 20)"`
	LicenseInfo struct {
		SpdxID githubv4.String
	}
	PushedAt        githubv4.DateTime
	CreatedAt       githubv4.DateTime
	GoodFirstIssues struct {
		TotalCount githubv4.Int
	} `graphql:"goodFirstIssues: issues(labels: [\"good first issue\"], states: OPEN)"`
	HelpWantedIssues struct {
		TotalCount githubv4.Int
	} `graphql:"helpWantedIssues: issues(labels: [\"help wanted\"], states: OPEN)"`
}

type searchQuery struct {
	Search struct {
		RepositoryCount githubv4.Int
		PageInfo        struct {
			HasNextPage githubv4.Boolean
			EndCursor   githubv4.String
		}
		Edges []struct {
			Node struct {
				Repository repoNode `graphql:"... on Repository"`
			}
		}
	} `graphql:"search(query: $query, type: REPOSITORY, first: $first, after: $after)"`
	RateLimit struct {
		Remaining githubv4.Int
		ResetAt   githubv4.DateTime
	}
}

// Discover 把过滤条件翻译成搜索限定符并分页拉取候选仓库
// topic 条件导致零命中时会去掉 topic 再试一次 (topic 仍会影响 AI 排序)
func (s *DiscoveryService) Discover(ctx context.Context, filters domain.SearchFilters) (*domain.Discovery, error) {
	out, err := s.search(ctx, filters)
	if err != nil {
		return nil, err
	}

	if len(out.Repos) == 0 && len(filters.Topics) > 0 {
		relaxed := filters
		relaxed.Topics = nil
		retried, err := s.search(ctx, relaxed)
		if err != nil {
			return nil, err
		}
		if len(retried.Repos) > 0 {
			retried.Warnings = append(out.Warnings, retried.Warnings...)
			retried.Warnings = append(retried.Warnings, fmt.Sprintf(
				"topic 条件 (%s) 没有匹配到任何仓库，已放宽后重新搜索；topic 仍会参与 AI 排序",
				strings.Join(filters.Topics, ", ")))
			out = retried
		}
	}

	return out, nil
}

func (s *DiscoveryService) search(ctx context.Context, filters domain.SearchFilters) (*domain.Discovery, error) {
	query := buildSearchQuery(filters, s.nowFunc())
	out := &domain.Discovery{}
	maxTotal := s.maxRepos * 2

	var cursor *githubv4.String
	for {
		var q searchQuery
		variables := map[string]interface{}{
			"query": githubv4.String(query),
			"first": githubv4.Int(searchPageSize),
			"after": cursor,
		}

		if err := s.gw.Query(ctx, &q, variables); err != nil {
			// 翻页途中撞到限额：返回已收集的部分结果并告警，而不是整体失败
			var rl *common.RateLimitedError
			if errors.As(err, &rl) && len(out.Repos) > 0 {
				out.Warnings = append(out.Warnings, "GitHub API 限额接近耗尽，返回部分发现结果")
				break
			}
			return nil, err
		}

		if int(q.Search.RepositoryCount) >= searchResultCap && !out.Capped {
			out.Capped = true
			out.Warnings = append(out.Warnings,
				"命中结果可能不完整 (GitHub 单查询上限 1000 条)，建议收窄过滤条件")
		}
		out.Total = int(q.Search.RepositoryCount)

		for _, edge := range q.Search.Edges {
			out.Repos = append(out.Repos, convertRepoNode(&edge.Node.Repository, s.nowFunc()))
		}

		if int(q.RateLimit.Remaining) < s.gw.floor {
			out.Warnings = append(out.Warnings, "GitHub API 限额接近耗尽，返回部分发现结果")
			break
		}
		if !bool(q.Search.PageInfo.HasNextPage) || len(out.Repos) >= maxTotal {
			break
		}
		end := q.Search.PageInfo.EndCursor
		cursor = &end
	}

	return out, nil
}

// buildSearchQuery 拼接 GitHub 搜索限定符
func buildSearchQuery(filters domain.SearchFilters, now time.Time) string {
	var parts []string

	for _, lang := range filters.Languages {
		parts = append(parts, "language:"+lang)
	}

	parts = append(parts, fmt.Sprintf("stars:%d..%d", filters.MinStars, filters.MaxStars))

	if filters.MinActivityDate != "" {
		parts = append(parts, "pushed:>="+filters.MinActivityDate)
	} else {
		cutoff := now.AddDate(0, 0, -defaultActivityDays).Format("2006-01-02")
		parts = append(parts, "pushed:>="+cutoff)
	}

	for _, topic := range filters.Topics {
		parts = append(parts, "topic:"+topic)
	}

	if filters.License != "" {
		parts = append(parts, "license:"+filters.License)
	}

	parts = append(parts, "archived:false", "fork:false")

	return strings.Join(parts, " ")
}

func convertRepoNode(node *repoNode, now time.Time) *domain.Repository {
	repo := &domain.Repository{
		GithubID:            int64(node.DatabaseID),
		Owner:               string(node.Owner.Login),
		Name:                string(node.Name),
		URL:                 node.URL.String(),
		Description:         string(node.Description),
		PrimaryLanguage:     string(node.PrimaryLanguage.Name),
		StarCount:           int(node.StargazerCount),
		ForkCount:           int(node.ForkCount),
		OpenIssueCount:      int(node.Issues.TotalCount),
		License:             string(node.LicenseInfo.SpdxID),
		PushedAt:            node.PushedAt.Time,
		UpstreamCreatedAt:   node.CreatedAt.Time,
		GoodFirstIssueCount: int(node.GoodFirstIssues.TotalCount),
		HelpWantedCount:     int(node.HelpWantedIssues.TotalCount),
		LastSeenAt:          now,
	}
	for _, lang := range node.Languages.Nodes {
		repo.Languages = append(repo.Languages, string(lang.Name))
	}
	for _, t := range node.RepositoryTopics.Nodes {
		repo.Topics = append(repo.Topics, string(t.Topic.Name))
	}
	return repo
}
