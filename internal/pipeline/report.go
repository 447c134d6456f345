package pipeline

import "time"

// SourceReport 是单个适配器在一次运行中的结果
type SourceReport struct {
	Source   string `json:"source"`
	Fetched  int    `json:"fetched"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

type DedupCounts struct {
	Exact int `json:"exact"`
	Fuzzy int `json:"fuzzy"`
}

// Report 汇总一次运行。每个抓到的条目最终落在且只落在一个计数里：
// malformed、去重丢弃、stored / storedDuplicate / urlConflicts / storedEmergency / lost。
type Report struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	Sources []SourceReport `json:"sources"`

	Fetched      int         `json:"fetched"`
	Malformed    int         `json:"malformed"`
	DedupDropped DedupCounts `json:"dedupDropped"`
	Enriched     int         `json:"enriched"`
	EnrichFailed int         `json:"enrichFailed"`

	Stored          int `json:"stored"`
	StoredDuplicate int `json:"storedDuplicate"`
	URLConflicts    int `json:"urlConflicts"`
	StoredEmergency int `json:"storedEmergency"`
	Lost            int `json:"lost"`

	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degradedReason,omitempty"`
}

// Balanced 检查计数守恒
func (r Report) Balanced() bool {
	persisted := r.Stored + r.StoredDuplicate + r.URLConflicts + r.StoredEmergency + r.Lost
	return r.Fetched == r.Malformed+r.DedupDropped.Exact+r.DedupDropped.Fuzzy+persisted
}

// FailedSources 返回本轮失败的数据源名称
func (r Report) FailedSources() []string {
	var out []string
	for _, s := range r.Sources {
		if s.Error != "" {
			out = append(out, s.Source)
		}
	}
	return out
}
