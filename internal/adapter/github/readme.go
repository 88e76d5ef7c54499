package github

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github-scout/internal/common"
	"github-scout/internal/domain"

	"golang.org/x/sync/errgroup"
)

const (
	// 每次 GraphQL 调用最多复用 20 个别名，摊薄请求开销
	readmeBatchSize = 20
	// README 超过约 4000 token (≈16000 字符) 截断后再交给下游
	readmeMaxChars = 16000
	// 同时在途的 README 批次调用数
	readmeConcurrency = 3
)

// owner/name 会被插值进 GraphQL 文档，先做白名单校验
var validNameRE = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ReadmeClient 实现了 port.ReadmeFetcher 接口
// 只对过滤后的短名单工作，绝不触碰完整的发现集合
type ReadmeClient struct {
	gw *Gateway
}

// NewReadmeClient 创建 README 批量抓取客户端
func NewReadmeClient(gw *Gateway) *ReadmeClient {
	return &ReadmeClient{gw: gw}
}

// FetchReadmes 按批次拉取 README 文本，key 是 GitHub 数字 id
// 没有可读 README 的仓库在结果里没有条目，这不是错误
func (c *ReadmeClient) FetchReadmes(ctx context.Context, repos []*domain.Repository) (map[int64]string, error) {
	for _, repo := range repos {
		if !validNameRE.MatchString(repo.Owner) || !validNameRE.MatchString(repo.Name) {
			return nil, common.NewError(common.ErrCodeInvalidInput,
				fmt.Sprintf("仓库名 %q 含有非法字符", repo.FullName()))
		}
	}

	result := make(map[int64]string, len(repos))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(readmeConcurrency)

	for start := 0; start < len(repos); start += readmeBatchSize {
		end := start + readmeBatchSize
		if end > len(repos) {
			end = len(repos)
		}
		batch := repos[start:end]
		offset := start

		g.Go(func() error {
			data, err := c.gw.Exec(ctx, buildReadmeQuery(batch, offset))
			if err != nil {
				return err
			}

			var payload map[string]json.RawMessage
			if err := json.Unmarshal(data, &payload); err != nil {
				return common.WrapError(common.ErrCodeInternal, "README 响应解析失败", err)
			}

			for i, repo := range batch {
				alias := fmt.Sprintf("repo_%d", offset+i)
				raw, ok := payload[alias]
				if !ok {
					continue
				}
				var node struct {
					Object *struct {
						Text string `json:"text"`
					} `json:"object"`
				}
				if err := json.Unmarshal(raw, &node); err != nil || node.Object == nil {
					continue
				}
				if text := truncateReadme(node.Object.Text); text != "" {
					mu.Lock()
					result[repo.GithubID] = text
					mu.Unlock()
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// buildReadmeQuery 为一批仓库拼接带别名的 GraphQL 文档
func buildReadmeQuery(repos []*domain.Repository, offset int) string {
	var sb strings.Builder
	sb.WriteString("query { ")
	for i, repo := range repos {
		fmt.Fprintf(&sb,
			`repo_%d: repository(owner: %q, name: %q) { object(expression: "HEAD:README.md") { ... on Blob { text } } } `,
			offset+i, repo.Owner, repo.Name)
	}
	sb.WriteString("rateLimit { remaining resetAt } }")
	return sb.String()
}

func truncateReadme(s string) string {
	if len(s) <= readmeMaxChars {
		return s
	}
	runes := []rune(s)
	if len(runes) <= readmeMaxChars {
		return s
	}
	return string(runes[:readmeMaxChars])
}
