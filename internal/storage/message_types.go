package storage

import "time"

// MatchNeededMessage 匹配计算事件
// 画像版本写入成功后发布，消费端据此异步计算匹配分。
type MatchNeededMessage struct {
	CandidateID string    `json:"candidate_id"`
	VersionKey  string    `json:"version_key"`
	JobID       string    `json:"job_id"`
	RequestedAt time.Time `json:"requested_at"`

	// 原始文件MD5，消费端处理失败时用于回滚去重记录
	RawFileMD5 string `json:"raw_file_md5,omitempty"`
}
