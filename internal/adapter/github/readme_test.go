package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github-scout/internal/common"
	"github-scout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReadmeQuery(t *testing.T) {
	repos := []*domain.Repository{
		{GithubID: 1, Owner: "gin-gonic", Name: "gin"},
		{GithubID: 2, Owner: "spf13", Name: "cobra"},
	}

	query := buildReadmeQuery(repos, 20)

	assert.Contains(t, query, `repo_20: repository(owner: "gin-gonic", name: "gin")`)
	assert.Contains(t, query, `repo_21: repository(owner: "spf13", name: "cobra")`)
	assert.Contains(t, query, `object(expression: "HEAD:README.md")`)
	assert.Contains(t, query, "... on Blob { text }")
	assert.Contains(t, query, "rateLimit { remaining resetAt }")
	assert.True(t, strings.HasPrefix(query, "query { "))
}

func TestTruncateReadme(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(*testing.T, string)
	}{
		{
			name:  "短文本原样返回",
			input: "# Hello",
			check: func(t *testing.T, out string) {
				assert.Equal(t, "# Hello", out)
			},
		},
		{
			name:  "超长文本按字符数截断",
			input: strings.Repeat("a", readmeMaxChars+500),
			check: func(t *testing.T, out string) {
				assert.Len(t, out, readmeMaxChars)
			},
		},
		{
			name: "多字节字符不被截成半个",
			// 每个汉字 3 字节，字节数超限但字符数不超
			input: strings.Repeat("汉", readmeMaxChars/2),
			check: func(t *testing.T, out string) {
				assert.Equal(t, readmeMaxChars/2, len([]rune(out)))
				assert.True(t, strings.HasSuffix(out, "汉"))
			},
		},
		{
			name:  "字符数超限的多字节文本",
			input: strings.Repeat("汉", readmeMaxChars+100),
			check: func(t *testing.T, out string) {
				runes := []rune(out)
				assert.Len(t, runes, readmeMaxChars)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, truncateReadme(tt.input))
		})
	}
}

func TestReadmeClient_FetchReadmes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.Unmarshal(raw, &req))
		assert.Contains(t, req.Query, "repo_0:")

		w.Header().Set("X-RateLimit-Remaining", "4000")
		fmt.Fprint(w, `{
			"data": {
				"repo_0": {"object": {"text": "# Gin\nFast HTTP framework"}},
				"repo_1": {"object": null},
				"repo_2": null,
				"rateLimit": {"remaining": 4000, "resetAt": "2026-08-01T00:00:00Z"}
			},
			"errors": [{"message": "Could not resolve to a Repository"}]
		}`)
	}))
	defer server.Close()

	gw, err := newGateway("test-token", 100, server.URL)
	require.NoError(t, err)
	client := NewReadmeClient(gw)

	repos := []*domain.Repository{
		{GithubID: 11, Owner: "gin-gonic", Name: "gin"},
		{GithubID: 12, Owner: "no-readme", Name: "project"},
		{GithubID: 13, Owner: "gone", Name: "deleted"},
	}

	readmes, err := client.FetchReadmes(context.Background(), repos)
	require.NoError(t, err)

	// 只有真正有 README 的仓库出现在结果里
	assert.Len(t, readmes, 1)
	assert.Equal(t, "# Gin\nFast HTTP framework", readmes[11])
	_, ok := readmes[12]
	assert.False(t, ok)
}

func TestReadmeClient_FetchReadmes_InvalidName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("非法仓库名不应该发出任何请求")
	}))
	defer server.Close()

	gw, err := newGateway("test-token", 100, server.URL)
	require.NoError(t, err)
	client := NewReadmeClient(gw)

	repos := []*domain.Repository{
		{GithubID: 1, Owner: "evil\"} mutation {", Name: "repo"},
	}

	_, err = client.FetchReadmes(context.Background(), repos)
	assert.True(t, common.HasCode(err, common.ErrCodeInvalidInput))
}

func TestReadmeClient_FetchReadmes_Batching(t *testing.T) {
	// 两个批次会并发到达，计数用原子操作
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.Unmarshal(raw, &req))

		// 从查询里数别名，按原别名回填
		w.Header().Set("X-RateLimit-Remaining", "4000")
		data := map[string]interface{}{
			"rateLimit": map[string]interface{}{"remaining": 4000, "resetAt": "2026-08-01T00:00:00Z"},
		}
		for i := 0; i < readmeBatchSize*2; i++ {
			alias := fmt.Sprintf("repo_%d:", i)
			if strings.Contains(req.Query, alias) {
				data[fmt.Sprintf("repo_%d", i)] = map[string]interface{}{
					"object": map[string]interface{}{"text": fmt.Sprintf("readme-%d", i)},
				}
			}
		}
		body, _ := json.Marshal(map[string]interface{}{"data": data})
		w.Write(body)
	}))
	defer server.Close()

	gw, err := newGateway("test-token", 100, server.URL)
	require.NoError(t, err)
	client := NewReadmeClient(gw)

	// 25 个仓库 → 两个批次 (20 + 5)
	repos := make([]*domain.Repository, 25)
	for i := range repos {
		repos[i] = &domain.Repository{
			GithubID: int64(1000 + i),
			Owner:    "owner",
			Name:     fmt.Sprintf("repo-%d", i),
		}
	}

	readmes, err := client.FetchReadmes(context.Background(), repos)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
	assert.Len(t, readmes, 25)
	assert.Equal(t, "readme-0", readmes[1000])
	assert.Equal(t, "readme-24", readmes[1024])
}
