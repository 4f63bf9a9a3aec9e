package processor

import (
	"context"

	"cv-core-go/internal/extractor"
	"cv-core-go/internal/profile"
	"cv-core-go/internal/storage"
	"cv-core-go/internal/storage/models"
	"cv-core-go/internal/types"
)

// TextExtractor 文档纯文本提取（严格/宽松/回退阶梯）
type TextExtractor interface {
	Extract(ctx context.Context, doc *types.RawDocument) (*types.ExtractedText, error)
}

// SectionExtractor 并发分节LLM提取
type SectionExtractor interface {
	ExtractAll(ctx context.Context, cvText string) *extractor.ExtractionResult
}

// SkillAnalyzer 技能证据分析
type SkillAnalyzer interface {
	Analyze(experiences []types.ExperienceEntry, rawText string) types.SkillsAnalysis
}

// ProfileStore 版本化档案存储
type ProfileStore interface {
	Put(ctx context.Context, candidateID string, p *types.CandidateProfile, rawDoc *types.RawDocument) (*types.ProfileVersion, error)
	Get(ctx context.Context, candidateID string, sel profile.Selector) (*types.CandidateProfile, *types.ProfileVersion, error)
}

// CandidateRepo 候选人身份落库
type CandidateRepo interface {
	FindOrCreateCandidate(ctx context.Context, identity *types.Identity) (*models.Candidate, error)
}

// Deduper 上传文件MD5去重
type Deduper interface {
	CheckAndAddRawFileMD5(ctx context.Context, md5Hex string) (bool, error)
	RemoveRawFileMD5(ctx context.Context, md5Hex string) error
}

// EventPublisher 匹配事件发布
type EventPublisher interface {
	PublishMatchNeeded(ctx context.Context, msg *storage.MatchNeededMessage) error
}

// ScoreRepo 匹配分数与岗位数据访问
type ScoreRepo interface {
	GetJobByID(ctx context.Context, jobID string) (*models.Job, error)
	MarkScorePending(ctx context.Context, candidateID, versionKey, jobID string) error
	SaveScoreComputed(ctx context.Context, candidateID, versionKey, jobID string, score float64, subScores interface{}) error
	SaveScoreFailed(ctx context.Context, candidateID, versionKey, jobID, reason string) error
	GetMatchScore(ctx context.Context, candidateID, versionKey, jobID string) (*models.MatchScore, error)
}
