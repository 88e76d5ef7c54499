package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github-scout/internal/common"
	"github-scout/internal/domain"
)

// Notifier 运行结束后把摘要 POST 到配置的 Webhook 地址
// 地址为空时是空操作，推送失败只记日志不影响运行结果
type Notifier struct {
	webhookURL string
	client     *http.Client
}

func NewNotifier(webhook string) *Notifier {
	if webhook == "" {
		log.Println("ℹ️ 未配置 Webhook，跳过运行结果推送")
	}
	return &Notifier{
		webhookURL: webhook,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// payload 推送的 JSON 结构：运行摘要加上得分最高的几个仓库
type payload struct {
	RunID           string    `json:"run_id"`
	Status          string    `json:"status"`
	TotalDiscovered int       `json:"total_discovered"`
	TotalFiltered   int       `json:"total_filtered"`
	TotalAnalyzed   int       `json:"total_analyzed"`
	Summary         string    `json:"summary"`
	TopPicks        []topPick `json:"top_picks,omitempty"`
	Skipped         []string  `json:"skipped,omitempty"`
	FinishedAt      string    `json:"finished_at"`
}

type topPick struct {
	Repo     string  `json:"repo"`
	FitScore float64 `json:"fit_score"`
	Reason   string  `json:"reason"`
}

const maxTopPicks = 5

// NotifyRunFinished 实现 port.Notifier
func (n *Notifier) NotifyRunFinished(ctx context.Context, result *domain.ScoutResult) error {
	if n.webhookURL == "" {
		return nil
	}

	picks := make([]topPick, 0, maxTopPicks)
	for _, r := range result.Results {
		if len(picks) == maxTopPicks {
			break
		}
		picks = append(picks, topPick{Repo: r.Repo, FitScore: r.FitScore, Reason: r.Reason})
	}

	p := payload{
		RunID:           result.RunID,
		Status:          string(result.Status),
		TotalDiscovered: result.TotalDiscovered,
		TotalFiltered:   result.TotalFiltered,
		TotalAnalyzed:   result.TotalAnalyzed,
		Summary:         buildSummary(result, picks),
		TopPicks:        picks,
		Skipped:         result.Skipped,
		FinishedAt:      time.Now().Format(time.RFC3339),
	}

	body, _ := json.Marshal(p)
	err := common.Do(ctx, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, postErr := n.client.Do(req)
		if postErr != nil {
			return postErr
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("Webhook 返回状态码 %d", resp.StatusCode)
		}
		return nil
	},
		common.WithMaxRetries(3),
		common.WithInitialDelay(500*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("推送运行结果失败: %w", err)
	}
	return nil
}

func buildSummary(result *domain.ScoutResult, picks []topPick) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 搜索运行 %s 结束 (%s)：发现 %d，过滤后 %d，分析 %d",
		result.RunID, result.Status,
		result.TotalDiscovered, result.TotalFiltered, result.TotalAnalyzed)
	if len(picks) > 0 {
		fmt.Fprintf(&b, "；最佳匹配 %s (%.1f 分)", picks[0].Repo, picks[0].FitScore)
	}
	return b.String()
}
