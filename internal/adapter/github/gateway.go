package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github-scout/internal/common"

	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

const defaultEndpoint = "https://api.github.com/graphql"

const maxRetries = 3

// Gateway 对 GitHub GraphQL API 的唯一出口
// 负责认证、限额预算跟踪、错误分类和重试，自身除预算计数外无状态
type Gateway struct {
	v4       *githubv4.Client
	http     *http.Client
	endpoint string
	floor    int

	mu        sync.Mutex
	remaining int // -1 表示还没见过任何响应
	resetAt   time.Time
}

// NewGateway 初始化 GraphQL 客户端
// token 为空直接返回配置错误：匿名访问对 GraphQL API 不可用，fail fast
func NewGateway(token string, floor int) (*Gateway, error) {
	return newGateway(token, floor, defaultEndpoint)
}

func newGateway(token string, floor int, endpoint string) (*Gateway, error) {
	if token == "" {
		return nil, common.NewError(common.ErrCodeConfig, "GITHUB_TOKEN 未配置")
	}

	gw := &Gateway{
		endpoint:  endpoint,
		floor:     floor,
		remaining: -1,
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	gw.http = &http.Client{
		Transport: &classifyTransport{
			base: &oauth2.Transport{Source: ts},
			gw:   gw,
		},
		Timeout: 30 * time.Second,
	}

	if endpoint == defaultEndpoint {
		gw.v4 = githubv4.NewClient(gw.http)
	} else {
		gw.v4 = githubv4.NewEnterpriseClient(endpoint, gw.http)
	}

	return gw, nil
}

// classifyTransport 包装底层 Transport，把 HTTP 层的失败翻译成错误分类：
// 401 → 配置错误 (不重试)，502/503/网络错误 → 瞬时错误 (可重试)
// 同时从每个响应的限额头里更新预算计数
type classifyTransport struct {
	base http.RoundTripper
	gw   *Gateway
}

func (t *classifyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, common.WrapError(common.ErrCodeTransientNetwork, "GitHub 请求失败", err)
	}

	t.gw.observe(resp)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		resp.Body.Close()
		return nil, common.NewError(common.ErrCodeConfig, "GitHub 凭证被拒绝 (401)，请检查 GITHUB_TOKEN")
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		resp.Body.Close()
		return nil, common.NewError(common.ErrCodeTransientNetwork,
			fmt.Sprintf("GitHub 服务端错误 (%d)", resp.StatusCode))
	}

	return resp, nil
}

// observe 从响应头更新限额预算
func (g *Gateway) observe(resp *http.Response) {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return
	}
	n, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.remaining = n
	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if sec, err := strconv.ParseInt(reset, 10, 64); err == nil {
			g.resetAt = time.Unix(sec, 0)
		}
	}
}

// checkBudget 预算低于下限时返回限流信号 (带重置时间)，调用方应停止发请求
func (g *Gateway) checkBudget() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.remaining >= 0 && g.remaining < g.floor {
		return &common.RateLimitedError{Remaining: g.remaining, ResetAt: g.resetAt}
	}
	return nil
}

// Query 执行一个类型化的 GraphQL 查询，瞬时错误按 1s/2s/4s 退避加抖动重试
func (g *Gateway) Query(ctx context.Context, q interface{}, variables map[string]interface{}) error {
	if err := g.checkBudget(); err != nil {
		return err
	}
	return common.Do(ctx, func() error {
		return g.v4.Query(ctx, q, variables)
	},
		common.WithMaxRetries(maxRetries),
		common.WithInitialDelay(time.Second),
		common.WithJitter(),
		common.WithRetryIf(common.IsTransient),
	)
}

// Exec 执行手工拼接的 GraphQL 文档，返回 data 部分
// README 批量查询需要动态数量的别名，githubv4 的结构体反射表达不了，
// 所以这里直接 POST 原始文档，走同一个认证/分类/重试链路
func (g *Gateway) Exec(ctx context.Context, document string) (json.RawMessage, error) {
	if err := g.checkBudget(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]string{"query": document})
	if err != nil {
		return nil, common.WrapError(common.ErrCodeInternal, "GraphQL 文档序列化失败", err)
	}

	var data json.RawMessage
	err = common.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return common.NewError(common.ErrCodeInternal,
				fmt.Sprintf("GraphQL 响应状态异常: %d", resp.StatusCode))
		}

		var body struct {
			Data   json.RawMessage `json:"data"`
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return common.WrapError(common.ErrCodeInternal, "GraphQL 响应解析失败", err)
		}
		// 部分仓库缺失时 GitHub 会同时返回 data 和 errors，只要有 data 就算成功
		if body.Data == nil {
			if len(body.Errors) > 0 {
				return common.NewError(common.ErrCodeInternal, "GraphQL 查询失败: "+body.Errors[0].Message)
			}
			return common.NewError(common.ErrCodeInternal, "GraphQL 响应不含 data")
		}
		data = body.Data
		return nil
	},
		common.WithMaxRetries(maxRetries),
		common.WithInitialDelay(time.Second),
		common.WithJitter(),
		common.WithRetryIf(common.IsTransient),
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}
