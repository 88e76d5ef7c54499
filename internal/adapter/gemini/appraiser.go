package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github-scout/internal/common"
	"github-scout/internal/domain"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// BatchAppraiser 实现了 port.Appraiser 接口：一次评估一批仓库
type BatchAppraiser struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	nowFunc func() time.Time
}

// scoredRepo 接收 AI 返回的单条评分
type scoredRepo struct {
	Repo          string   `json:"repo"`
	FitScore      float64  `json:"fit_score"`
	Reason        string   `json:"reason"`
	Contributions []string `json:"contributions"`
	Reject        bool     `json:"reject"`
	RejectReason  string   `json:"reject_reason"`
}

type batchResponse struct {
	Results []scoredRepo `json:"results"`
}

// NewBatchAppraiser 初始化 Gemini 客户端
func NewBatchAppraiser(ctx context.Context, apiKey string) (*BatchAppraiser, error) {
	if apiKey == "" {
		return nil, common.NewError(common.ErrCodeConfig, "GEMINI_API_KEY 未配置")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	model := client.GenerativeModel("gemini-2.5-flash-lite")
	// 强制要求返回 JSON，降低解析错误的概率
	model.ResponseMIMEType = "application/json"

	return &BatchAppraiser{
		client:  client,
		model:   model,
		nowFunc: time.Now,
	}, nil
}

const scoringInstructions = `You are a senior open-source contribution advisor.
Given a developer profile and a batch of GitHub repositories (with metadata and README excerpts),
evaluate each repository's fit for the developer.

For each repository, provide:
1. fit_score (0-10): How well the repo matches the developer's skills and goals
   - 9-10: Perfect tech stack match + active issues in developer's domain
   - 7-8: Strong match with some relevant issues
   - 5-6: Partial tech stack overlap or limited contribution opportunities
   - 3-4: Weak match
   - 1-2: Marginal relevance
   - 0: Rejected (set reject=true)
2. reason: 1-2 sentence explanation of the score
3. contributions: 1-3 specific contribution suggestions
4. reject: true if the repo is a tutorial, awesome-list, documentation-only,
   or clearly outside the developer's domain
5. reject_reason: explanation if rejected

Base your analysis on tech stack overlap, topic alignment, availability of
beginner-friendly issues, project complexity vs skill level, and README quality.
If a repository has no README, base analysis on metadata only and note the limited data.

Return strict JSON: {"results": [{"repo": "owner/name", "fit_score": 0-10,
"reason": "...", "contributions": ["..."], "reject": false, "reject_reason": null}, ...]}
with exactly one entry per repository. No Markdown fences.`

// AppraiseBatch 对一批仓库发起一次评分调用
// 返回的条目数可以少于提交数，差额由调用方记为 skipped
func (a *BatchAppraiser) AppraiseBatch(ctx context.Context, profile *domain.DeveloperProfile, repos []*domain.Repository, readmes map[int64]string) ([]*domain.AnalysisResult, error) {
	prompt := buildBatchPrompt(profile, repos, readmes)

	resp, err := a.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, common.WrapError(common.ErrCodeAIProcessing, "评分调用失败", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, common.NewError(common.ErrCodeAIProcessing, "评分调用返回内容为空")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, common.NewError(common.ErrCodeAIProcessing, "评分调用返回格式错误")
	}

	batch, err := parseBatchResponse(string(text))
	if err != nil {
		return nil, err
	}

	return a.vetResults(batch.Results, repos), nil
}

// Close 释放底层 客户端连接
func (a *BatchAppraiser) Close() error {
	return a.client.Close()
}

// parseBatchResponse 从 AI 原文里抠出 JSON 并解析
// 即使模型带上了 Markdown 围栏或前后缀文字也能精准截取中间的 { ... }
func parseBatchResponse(raw string) (*batchResponse, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, common.NewError(common.ErrCodeAIProcessing, "无法从评分响应中提取 JSON: "+snippet(raw))
	}

	var batch batchResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &batch); err != nil {
		return nil, common.WrapError(common.ErrCodeAIProcessing, "评分响应 JSON 解析失败: "+snippet(raw), err)
	}
	return &batch, nil
}

func snippet(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// vetResults 逐条校验 AI 返回的评分，畸形条目单独丢弃而不是整批失败：
//   - repo 必须能对应到本批提交的某个仓库
//   - fit_score 收敛到 [0,10]；reject=true 强制 0 分且必须给出 reject_reason
//   - reason 必填；contributions 非拒绝时 1-3 条
func (a *BatchAppraiser) vetResults(items []scoredRepo, repos []*domain.Repository) []*domain.AnalysisResult {
	byName := make(map[string]*domain.Repository, len(repos))
	for _, repo := range repos {
		byName[repo.FullName()] = repo
	}

	now := a.nowFunc()
	results := make([]*domain.AnalysisResult, 0, len(items))
	seen := make(map[int64]bool, len(items))

	for _, item := range items {
		repo, ok := byName[strings.TrimSpace(item.Repo)]
		if !ok || seen[repo.GithubID] {
			continue
		}
		if item.Reason == "" {
			continue
		}

		score := item.FitScore
		if score < 0 {
			score = 0
		}
		if score > 10 {
			score = 10
		}

		if item.Reject {
			if item.RejectReason == "" {
				continue
			}
			score = 0
		} else if len(item.Contributions) == 0 {
			continue
		}

		contributions := item.Contributions
		if len(contributions) > 3 {
			contributions = contributions[:3]
		}

		seen[repo.GithubID] = true
		results = append(results, &domain.AnalysisResult{
			RepositoryID:  repo.GithubID,
			Repo:          repo.FullName(),
			FitScore:      score,
			Reason:        item.Reason,
			Contributions: contributions,
			Reject:        item.Reject,
			RejectReason:  item.RejectReason,
			AnalyzedAt:    now,
		})
	}

	return results
}

// buildBatchPrompt 拼接画像 + 批次仓库元数据 + README 节选
func buildBatchPrompt(profile *domain.DeveloperProfile, repos []*domain.Repository, readmes map[int64]string) string {
	var sb strings.Builder
	sb.WriteString(scoringInstructions)
	sb.WriteString("\n\nDEVELOPER PROFILE:\n")
	fmt.Fprintf(&sb, "Languages: %s\n", strings.Join(profile.Languages, ", "))
	fmt.Fprintf(&sb, "Topics: %s\n", strings.Join(profile.Topics, ", "))
	fmt.Fprintf(&sb, "Skill Level: %s\n", profile.SkillLevel)
	fmt.Fprintf(&sb, "Goals: %s\n", profile.Goals)
	sb.WriteString("\nREPOSITORIES TO ANALYZE:\n")

	for _, repo := range repos {
		fmt.Fprintf(&sb, "\n--- %s ---\n", repo.FullName())
		fmt.Fprintf(&sb, "URL: %s\n", repo.URL)
		fmt.Fprintf(&sb, "Description: %s\n", orNA(repo.Description))
		fmt.Fprintf(&sb, "Primary Language: %s\n", orNA(repo.PrimaryLanguage))
		fmt.Fprintf(&sb, "Languages: %s\n", strings.Join(repo.Languages, ", "))
		fmt.Fprintf(&sb, "Stars: %d\n", repo.StarCount)
		fmt.Fprintf(&sb, "Open Issues: %d\n", repo.OpenIssueCount)
		fmt.Fprintf(&sb, "Good First Issues: %d\n", repo.GoodFirstIssueCount)
		fmt.Fprintf(&sb, "Help Wanted: %d\n", repo.HelpWantedCount)
		fmt.Fprintf(&sb, "Topics: %s\n", strings.Join(repo.Topics, ", "))
		fmt.Fprintf(&sb, "License: %s\n", orNA(repo.License))
		if !repo.PushedAt.IsZero() {
			fmt.Fprintf(&sb, "Last Pushed: %s\n", repo.PushedAt.Format(time.RFC3339))
		}
		if readme, ok := readmes[repo.GithubID]; ok {
			fmt.Fprintf(&sb, "README (excerpt):\n%s\n", readme)
		} else {
			sb.WriteString("README: Not available\n")
		}
	}

	return sb.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
