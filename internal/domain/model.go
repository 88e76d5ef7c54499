package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// StringList 以 JSON 文本落库的字符串列表 (languages / topics 等集合字段)
type StringList []string

// Value 实现 driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("无法将 %T 扫描为 StringList", value)
	}
}

// 技能等级枚举
const (
	SkillBeginner     = "beginner"
	SkillIntermediate = "intermediate"
	SkillAdvanced     = "advanced"
)

// DefaultProfileID 系统内画像是单例的，固定使用这个 id
const DefaultProfileID = "default"

// DeveloperProfile 开发者画像：匹配仓库时的唯一依据
// 新建画像会替换旧画像（create-or-replace 语义）
type DeveloperProfile struct {
	ID         string     `json:"id" gorm:"primaryKey"`
	Languages  StringList `json:"languages" gorm:"type:text"`
	Topics     StringList `json:"topics" gorm:"type:text"`
	SkillLevel string     `json:"skill_level"`
	Goals      string     `json:"goals" gorm:"type:text"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

const maxGoalsLength = 500

// Validate 校验画像输入，非法时返回错误描述
func (p *DeveloperProfile) Validate() error {
	if len(p.Languages) == 0 {
		return fmt.Errorf("languages 至少需要一项")
	}
	if p.SkillLevel == "" {
		p.SkillLevel = SkillIntermediate
	}
	switch p.SkillLevel {
	case SkillBeginner, SkillIntermediate, SkillAdvanced:
	default:
		return fmt.Errorf("未知的 skill_level: %s", p.SkillLevel)
	}
	if len(p.Goals) > maxGoalsLength {
		return fmt.Errorf("goals 过长 (最多 %d 字符)", maxGoalsLength)
	}
	return nil
}

// SearchFilters 搜索过滤条件，会被翻译成 GitHub 的查询限定符
type SearchFilters struct {
	Languages       []string `json:"languages"`
	MinStars        int      `json:"min_stars"`
	MaxStars        int      `json:"max_stars"`
	Topics          []string `json:"topics"`
	MinActivityDate string   `json:"min_activity_date,omitempty"`
	License         string   `json:"license,omitempty"`
}

// Validate 校验过滤条件并填充默认值
func (f *SearchFilters) Validate() error {
	if len(f.Languages) == 0 {
		return fmt.Errorf("languages 至少需要一项")
	}
	if f.MinStars < 0 || f.MaxStars < 0 {
		return fmt.Errorf("star 数不能为负")
	}
	if f.MaxStars == 0 {
		f.MaxStars = 50000
	}
	if f.MinStars > f.MaxStars {
		return fmt.Errorf("min_stars 不能大于 max_stars")
	}
	return nil
}

// RunStatus 一次搜索运行的状态
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusPartial   RunStatus = "partial"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal 判断状态是否为终态 (running 是唯一的非终态)
func (s RunStatus) Terminal() bool {
	return s != StatusRunning && s != ""
}

// SearchRun 一次端到端的 发现→过滤→分析 运行记录
// 进入终态后不再被修改
type SearchRun struct {
	ID              string     `json:"run_id" gorm:"primaryKey"`
	ProfileID       *string    `json:"profile_id,omitempty"`
	Filters         string     `json:"filters" gorm:"type:text"` // 序列化后的 SearchFilters
	Status          RunStatus  `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	TotalDiscovered int        `json:"total_discovered"`
	TotalFiltered   int        `json:"total_filtered"`
	TotalAnalyzed   int        `json:"total_analyzed"`
	SkippedRepos    StringList `json:"skipped_repos,omitempty" gorm:"type:text"`
}

// Repository GitHub 仓库快照
// 主键是 GitHub 的数字 id：owner/name 可能被改名，数字 id 不会
type Repository struct {
	GithubID            int64      `json:"github_id" gorm:"column:github_id;primaryKey;autoIncrement:false"`
	Owner               string     `json:"owner"`
	Name                string     `json:"name"`
	URL                 string     `json:"url"`
	Description         string     `json:"description" gorm:"type:text"`
	PrimaryLanguage     string     `json:"primary_language"`
	Languages           StringList `json:"languages" gorm:"type:text"`
	StarCount           int        `json:"star_count"`
	ForkCount           int        `json:"fork_count"`
	OpenIssueCount      int        `json:"open_issue_count"`
	Topics              StringList `json:"topics" gorm:"type:text"`
	License             string     `json:"license"`
	PushedAt            time.Time  `json:"pushed_at"`
	UpstreamCreatedAt   time.Time  `json:"created_at"`
	GoodFirstIssueCount int        `json:"good_first_issue_count"`
	HelpWantedCount     int        `json:"help_wanted_count"`
	LastSeenAt          time.Time  `json:"last_seen_at"`
}

// FullName 返回 "owner/name"
func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// PriorityBoost 贡献友好度加权：只用于排序和截断，不用于排除
// good first issue 最多计 10 个 (×2.0)，help wanted 最多 10 个 (×1.5)，
// open issue 最多 100 个 (×0.1)，满分 45
func (r *Repository) PriorityBoost() float64 {
	boost := math.Min(float64(r.GoodFirstIssueCount), 10) * 2.0
	boost += math.Min(float64(r.HelpWantedCount), 10) * 1.5
	boost += math.Min(float64(r.OpenIssueCount), 100) * 0.1
	return boost
}

// AnalysisResult 单个仓库的 AI 分析结果
// 复合唯一键 (run_id, repository_id)，写入后不再更新
type AnalysisResult struct {
	RunID         string     `json:"-" gorm:"primaryKey"`
	RepositoryID  int64      `json:"-" gorm:"primaryKey;autoIncrement:false"`
	Repo          string     `json:"repo" gorm:"-"` // owner/name，查询时由仓库表回填
	FitScore      float64    `json:"fit_score"`
	Reason        string     `json:"reason" gorm:"type:text"`
	Contributions StringList `json:"contributions" gorm:"type:text"`
	Reject        bool       `json:"reject"`
	RejectReason  string     `json:"reject_reason,omitempty"`
	AnalyzedAt    time.Time  `json:"analyzed_at"`
}

// ScoutResult 一次运行的最终汇总 (complete 事件与 results 接口的载荷)
type ScoutResult struct {
	RunID           string            `json:"run_id"`
	Status          RunStatus         `json:"status"`
	TotalDiscovered int               `json:"total_discovered"`
	TotalFiltered   int               `json:"total_filtered"`
	TotalAnalyzed   int               `json:"total_analyzed"`
	Results         []*AnalysisResult `json:"results"`
	Repos           []*Repository     `json:"repos,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	Skipped         []string          `json:"skipped,omitempty"`
}

// Discovery 发现阶段的输出
type Discovery struct {
	Repos    []*Repository
	Total    int  // GitHub 报告的命中总数
	Capped   bool // 命中数达到 GitHub 单查询 1000 条上限
	Warnings []string
}
