package filter

import (
	"testing"

	"github-scout/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestIsNoise(t *testing.T) {
	tests := []struct {
		name        string
		repoName    string
		description string
		noise       bool
	}{
		{
			name:     "awesome 合集前缀",
			repoName: "awesome-python",
			noise:    true,
		},
		{
			name:     "awesome 下划线变体",
			repoName: "awesome_go",
			noise:    true,
		},
		{
			name:     "tutorial 仓库",
			repoName: "go-tutorial",
			noise:    true,
		},
		{
			name:     "learn- 前缀",
			repoName: "learn-rust",
			noise:    true,
		},
		{
			name:     "cheatsheet",
			repoName: "vim-cheatsheet",
			noise:    true,
		},
		{
			name:     "面试准备仓库",
			repoName: "interview-prep",
			noise:    true,
		},
		{
			name:        "描述里的 curated list",
			repoName:    "ml-resources",
			description: "A curated list of machine learning papers",
			noise:       true,
		},
		{
			name:     "coding challenge 合集",
			repoName: "coding-challenges",
			noise:    true,
		},
		{
			name:     "coding challenge 单数形式",
			repoName: "my-coding-challenge",
			noise:    true,
		},
		{
			name:        "正常项目不误伤",
			repoName:    "grafana",
			description: "The open observability platform",
			noise:       false,
		},
		{
			name:     "名字里包含 course 但不是独立词",
			repoName: "concourse",
			noise:    false,
		},
		{
			name:        "大小写不敏感",
			repoName:    "Awesome-Selfhosted",
			description: "",
			noise:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &domain.Repository{Name: tt.repoName, Description: tt.description}
			assert.Equal(t, tt.noise, IsNoise(repo))
		})
	}
}

func TestApply(t *testing.T) {
	thresholds := Thresholds{MinStars: 50, MaxStars: 50000}

	tests := []struct {
		name       string
		candidates []*domain.Repository
		verify     func(*testing.T, []*domain.Repository)
	}{
		{
			name: "噪音仓库被剔除，star 再高也一样",
			candidates: []*domain.Repository{
				{GithubID: 1, Owner: "vinta", Name: "awesome-python", StarCount: 200000, OpenIssueCount: 300},
				{GithubID: 2, Owner: "gin-gonic", Name: "gin", StarCount: 40000, OpenIssueCount: 500},
			},
			verify: func(t *testing.T, result []*domain.Repository) {
				assert.Len(t, result, 1)
				assert.Equal(t, "gin", result[0].Name)
			},
		},
		{
			name: "零 open issue 的仓库被剔除",
			candidates: []*domain.Repository{
				{GithubID: 1, Name: "archived-lib", StarCount: 500, OpenIssueCount: 0},
				{GithubID: 2, Name: "active-lib", StarCount: 500, OpenIssueCount: 10},
			},
			verify: func(t *testing.T, result []*domain.Repository) {
				assert.Len(t, result, 1)
				assert.Equal(t, "active-lib", result[0].Name)
			},
		},
		{
			name: "star 数超出区间的被剔除，边界值保留",
			candidates: []*domain.Repository{
				{GithubID: 1, Name: "too-small", StarCount: 49, OpenIssueCount: 5},
				{GithubID: 2, Name: "lower-bound", StarCount: 50, OpenIssueCount: 5},
				{GithubID: 3, Name: "upper-bound", StarCount: 50000, OpenIssueCount: 5},
				{GithubID: 4, Name: "too-big", StarCount: 50001, OpenIssueCount: 5},
			},
			verify: func(t *testing.T, result []*domain.Repository) {
				assert.Len(t, result, 2)
				names := []string{result[0].Name, result[1].Name}
				assert.Contains(t, names, "lower-bound")
				assert.Contains(t, names, "upper-bound")
			},
		},
		{
			name: "按贡献友好度加权降序排列",
			candidates: []*domain.Repository{
				// boost = 0*2 + 0*1.5 + 5*0.1 = 0.5
				{GithubID: 1, Name: "plain", StarCount: 9000, OpenIssueCount: 5},
				// boost = 10*2 + 10*1.5 + 100*0.1 = 45 (计数超过上限后封顶)
				{GithubID: 2, Name: "friendly", StarCount: 100, OpenIssueCount: 400,
					GoodFirstIssueCount: 30, HelpWantedCount: 25},
				// boost = 3*2 + 1*1.5 + 20*0.1 = 9.5
				{GithubID: 3, Name: "middle", StarCount: 500, OpenIssueCount: 20,
					GoodFirstIssueCount: 3, HelpWantedCount: 1},
			},
			verify: func(t *testing.T, result []*domain.Repository) {
				assert.Len(t, result, 3)
				assert.Equal(t, "friendly", result[0].Name)
				assert.Equal(t, "middle", result[1].Name)
				assert.Equal(t, "plain", result[2].Name)
			},
		},
		{
			name: "加权并列时先比 star 再比 github id",
			candidates: []*domain.Repository{
				{GithubID: 30, Name: "c", StarCount: 100, OpenIssueCount: 10},
				{GithubID: 20, Name: "b", StarCount: 100, OpenIssueCount: 10},
				{GithubID: 10, Name: "a", StarCount: 200, OpenIssueCount: 10},
			},
			verify: func(t *testing.T, result []*domain.Repository) {
				assert.Len(t, result, 3)
				assert.Equal(t, "a", result[0].Name)
				assert.Equal(t, "b", result[1].Name)
				assert.Equal(t, "c", result[2].Name)
			},
		},
		{
			name:       "空候选集",
			candidates: []*domain.Repository{},
			verify: func(t *testing.T, result []*domain.Repository) {
				assert.NotNil(t, result)
				assert.Len(t, result, 0)
			},
		},
		{
			name: "全部被过滤",
			candidates: []*domain.Repository{
				{GithubID: 1, Name: "learn-everything", StarCount: 500, OpenIssueCount: 10},
				{GithubID: 2, Name: "dead-repo", StarCount: 500, OpenIssueCount: 0},
			},
			verify: func(t *testing.T, result []*domain.Repository) {
				assert.Len(t, result, 0)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Apply(tt.candidates, thresholds)
			tt.verify(t, result)
		})
	}
}

func TestPriorityBoost(t *testing.T) {
	tests := []struct {
		name     string
		repo     *domain.Repository
		expected float64
	}{
		{
			name:     "全零",
			repo:     &domain.Repository{},
			expected: 0,
		},
		{
			name: "未触顶的线性加权",
			repo: &domain.Repository{
				GoodFirstIssueCount: 4,
				HelpWantedCount:     2,
				OpenIssueCount:      30,
			},
			expected: 4*2.0 + 2*1.5 + 30*0.1,
		},
		{
			name: "各项计数封顶",
			repo: &domain.Repository{
				GoodFirstIssueCount: 50,
				HelpWantedCount:     40,
				OpenIssueCount:      1000,
			},
			expected: 10*2.0 + 10*1.5 + 100*0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.repo.PriorityBoost(), 1e-9)
		})
	}
}
