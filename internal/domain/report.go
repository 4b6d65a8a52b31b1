package domain

import "time"

// Outcome 描述一次收集是如何结束的。
const (
	OutcomeCompleted      = "completed"       // 滚动位置连续不变，视为到底
	OutcomeStopped        = "stopped"         // 外部请求停止
	OutcomeIterationLimit = "iteration_limit" // 触发安全上限，结果可能不完整
	OutcomeAborted        = "aborted"         // 页面通信失败（仅 bridge）
)

const (
	ErrCodeDiscoveryFailed = "discovery_failed"
	ErrCodePageFailed      = "page_failed"
	ErrCodeConfigNotFound  = "config_not_found"
	ErrCodeConfigInvalid   = "config_invalid"
	ErrCodeExportFailed    = "export_failed"
)

// RunReport 是 --format json 时对外稳定输出的结构。
type RunReport struct {
	Source string `json:"source"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Outcome    string `json:"outcome"`
	ErrorCode  string `json:"error_code"`
	ErrorMsg   string `json:"error_msg"`
	Iterations int    `json:"iterations"`
	StuckCount int    `json:"stuck_count"`

	// ItemStrategy 是最后一次命中的条目发现策略（便于排查选择器漂移）。
	ItemStrategy string `json:"item_strategy"`

	Summary ReportSummary `json:"summary"`
	Records []Record      `json:"records"`
}

type ReportSummary struct {
	Collected int `json:"collected"`
	Rendered  int `json:"rendered"`
}

// Finalize 统一时间为 UTC，并保证 records 不会被编码为 null。
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Records == nil {
		r.Records = []Record{}
	}
	r.Summary.Collected = len(r.Records)
}
