package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Candidate 候选人主表
type Candidate struct {
	CandidateID     string    `gorm:"type:char(36);primaryKey"`
	PrimaryName     string    `gorm:"type:varchar(255)"`
	PrimaryPhone    string    `gorm:"type:varchar(50);index:idx_candidates_primary_phone"`
	PrimaryEmail    string    `gorm:"type:varchar(255);index:idx_candidates_primary_email"`
	CurrentLocation string    `gorm:"type:varchar(255)"`
	CreatedAt       time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt       time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Candidate) TableName() string {
	return "candidates"
}

// Job 岗位信息表。岗位内容由外部岗位服务维护，本服务只读取
type Job struct {
	JobID                string    `gorm:"type:char(36);primaryKey"`
	JobTitle             string    `gorm:"type:varchar(255);not null"`
	JobDescriptionText   string    `gorm:"type:text"`
	JDSkillsKeywordsText string    `gorm:"type:text"` // 逗号分隔的自由文本技能列表
	Status               string    `gorm:"type:varchar(50);default:'ACTIVE';index:idx_jobs_status"`
	CreatedAt            time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt            time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Job) TableName() string {
	return "jobs"
}

// ProfileVersion 候选人档案版本索引表。追加写入，行本身不可变；
// "latest"由version_key的字典序解析（时间戳token保证字典序即时间序）。
type ProfileVersion struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	CandidateID string    `gorm:"type:char(36);not null;index:idx_pv_candidate_id;uniqueIndex:idx_pv_candidate_version,priority:1"`
	VersionKey  string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_pv_candidate_version,priority:2"`
	RawPathOSS  string    `gorm:"type:varchar(1024)"` // 原始文档对象键
	ParsedPath  string    `gorm:"type:varchar(1024);not null"`
	RawFileMD5  string    `gorm:"type:char(32);index:idx_pv_raw_file_md5"`
	// 来源：UPLOAD（新文档提取）或 UPDATE（基于既有版本的编辑）
	Source    string    `gorm:"type:varchar(20);default:'UPLOAD'"`
	Strategy  string    `gorm:"type:varchar(20)"` // 提取使用的解析策略，诊断用
	CreatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`

	Candidate *Candidate `gorm:"foreignKey:CandidateID;references:CandidateID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (ProfileVersion) TableName() string {
	return "profile_versions"
}

// MatchScore 匹配分数表。三态：行不存在或status=PENDING表示计算中，
// COMPUTED时score非NULL（0是有效值），FAILED时记录原因且不自动重试。
type MatchScore struct {
	ScoreID       uint64         `gorm:"primaryKey;autoIncrement"`
	CandidateID   string         `gorm:"type:char(36);not null;uniqueIndex:idx_ms_candidate_version_job,priority:1"`
	VersionKey    string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_ms_candidate_version_job,priority:2"`
	JobID         string         `gorm:"type:char(36);not null;uniqueIndex:idx_ms_candidate_version_job,priority:3;index:idx_ms_job_id_score,priority:1"`
	Status        string         `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_ms_status"`
	Score         *float64       `gorm:"type:double;index:idx_ms_job_id_score,priority:2"` // COMPUTED时非NULL
	SubScoresJSON datatypes.JSON `gorm:"type:json"`
	FailReason    string         `gorm:"type:text"`
	EvaluatedAt   *time.Time     `gorm:"type:datetime(6)"`
	CreatedAt     time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt     time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Job *Job `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (MatchScore) TableName() string {
	return "match_scores"
}

// SubScoresToJSON 序列化子分量
func SubScoresToJSON(v interface{}) (datatypes.JSON, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}
