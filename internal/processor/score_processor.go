package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cv-core-go/internal/logger"
	"cv-core-go/internal/profile"
	"cv-core-go/internal/scoring"
	"cv-core-go/internal/storage"
	"cv-core-go/internal/storage/models"
	"cv-core-go/internal/tracing"
	"cv-core-go/internal/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// ScoreProcessor 匹配分数的计算与三态持久化。
// 消费match.needed事件异步计算，也提供查询端的按需计算路径。
type ScoreProcessor struct {
	store     ProfileStore
	scores    ScoreRepo
	engine    *scoring.Engine
	publisher EventPublisher // 可为nil，TriggerScore退化为只登记PENDING
}

// NewScoreProcessor 创建分数处理器
func NewScoreProcessor(store ProfileStore, scores ScoreRepo, engine *scoring.Engine, publisher EventPublisher) (*ScoreProcessor, error) {
	if store == nil {
		return nil, fmt.Errorf("档案存储不能为空")
	}
	if scores == nil {
		return nil, fmt.Errorf("分数数据访问不能为空")
	}
	if engine == nil {
		return nil, fmt.Errorf("打分引擎不能为空")
	}
	return &ScoreProcessor{store: store, scores: scores, engine: engine, publisher: publisher}, nil
}

// TriggerScore 登记PENDING并发布重算事件。
// 幂等：已计算的分数行不会被PENDING覆盖。
func (sp *ScoreProcessor) TriggerScore(ctx context.Context, candidateID, versionKey, jobID string) error {
	if err := sp.scores.MarkScorePending(ctx, candidateID, versionKey, jobID); err != nil {
		return NewDatabaseError(candidateID, fmt.Sprintf("登记PENDING分数行失败: %v", err))
	}
	if sp.publisher == nil {
		return nil
	}
	msg := &storage.MatchNeededMessage{
		CandidateID: candidateID,
		VersionKey:  versionKey,
		JobID:       jobID,
	}
	if err := sp.publisher.PublishMatchNeeded(ctx, msg); err != nil {
		return NewPublishError(candidateID, err.Error())
	}
	return nil
}

// Compute 对一个(候选人版本, 岗位)对执行计算并持久化结果。
// 上游数据缺失（岗位无技能要求、档案无技能）落为FAILED且不重试；
// 基础设施错误原样返回，由调用方决定重试。
func (sp *ScoreProcessor) Compute(ctx context.Context, candidateID, versionKey, jobID string) (*types.MatchScore, error) {
	ctx, span := tracer.Start(ctx, "ScoreProcessor.Compute",
		trace.WithAttributes(
			attribute.String("candidate_id", candidateID),
			attribute.String("version_key", versionKey),
			attribute.String("job_id", jobID),
		),
	)
	defer span.End()

	candidateProfile, version, err := sp.store.Get(ctx, candidateID, profile.Selector{VersionKey: versionKey})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		if errors.Is(err, profile.ErrVersionNotFound) {
			return nil, &ProcessError{CandidateID: candidateID, Op: "compute", BaseErr: ErrVersionNotFound, Detail: versionKey}
		}
		return nil, NewDatabaseError(candidateID, err.Error())
	}

	job, err := sp.scores.GetJobByID(ctx, jobID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ProcessError{CandidateID: candidateID, Op: "compute", BaseErr: ErrJobNotFound, Detail: jobID}
		}
		return nil, NewDatabaseError(candidateID, err.Error())
	}

	requirement := &types.JobRequirement{
		JobID:          job.JobID,
		JobTitle:       job.JobTitle,
		JobSkills:      job.JDSkillsKeywordsText,
		JobDescription: job.JobDescriptionText,
	}

	score, subScores, scoreErr := sp.engine.Score(candidateProfile, requirement)
	if scoreErr != nil {
		// 数据缺失是确定性失败：记录原因，不自动重试
		if errors.Is(scoreErr, scoring.ErrMissingSkillData) || errors.Is(scoreErr, scoring.ErrMissingJobData) {
			if err := sp.scores.SaveScoreFailed(ctx, candidateID, version.VersionKey, jobID, scoreErr.Error()); err != nil {
				return nil, NewDatabaseError(candidateID, err.Error())
			}
			logger.Ctx(ctx).Info().
				Str("candidate_id", candidateID).Str("job_id", jobID).
				Str("reason", scoreErr.Error()).
				Msg("匹配分数计算失败已落库")
			return sp.lookupScore(ctx, candidateID, version.VersionKey, jobID)
		}
		tracing.RecordError(span, scoreErr, tracing.ErrorTypeScoring)
		return nil, fmt.Errorf("计算匹配分数失败: %w", scoreErr)
	}

	if err := sp.scores.SaveScoreComputed(ctx, candidateID, version.VersionKey, jobID, score, subScores); err != nil {
		return nil, NewDatabaseError(candidateID, err.Error())
	}
	span.SetAttributes(attribute.Float64("score", score))
	return sp.lookupScore(ctx, candidateID, version.VersionKey, jobID)
}

// GetScore 查询分数。行缺席映射为PENDING——"还没算"不是零分。
func (sp *ScoreProcessor) GetScore(ctx context.Context, candidateID, versionKey, jobID string) (*types.MatchScore, error) {
	return sp.lookupScore(ctx, candidateID, versionKey, jobID)
}

func (sp *ScoreProcessor) lookupScore(ctx context.Context, candidateID, versionKey, jobID string) (*types.MatchScore, error) {
	row, err := sp.scores.GetMatchScore(ctx, candidateID, versionKey, jobID)
	if err != nil {
		return nil, NewDatabaseError(candidateID, err.Error())
	}
	if row == nil {
		return &types.MatchScore{
			CandidateID: candidateID,
			VersionKey:  versionKey,
			JobID:       jobID,
			Status:      types.ScorePending,
		}, nil
	}
	return scoreFromModel(row), nil
}

func scoreFromModel(row *models.MatchScore) *types.MatchScore {
	score := &types.MatchScore{
		CandidateID: row.CandidateID,
		VersionKey:  row.VersionKey,
		JobID:       row.JobID,
		Status:      types.ScoreStatus(row.Status),
		Score:       row.Score,
		FailReason:  row.FailReason,
		EvaluatedAt: row.EvaluatedAt,
	}
	if len(row.SubScoresJSON) > 0 {
		var sub types.SubScores
		if err := json.Unmarshal(row.SubScoresJSON, &sub); err == nil {
			score.SubScores = &sub
		}
	}
	return score
}

// HandleMatchNeeded 消费端入口。返回true表示消息应被ack。
// 确定性失败（版本/岗位不存在、载荷非法、数据缺失已落FAILED）ack掉，
// 基础设施错误nack重新入队。
func (sp *ScoreProcessor) HandleMatchNeeded(ctx context.Context, body []byte) bool {
	var msg storage.MatchNeededMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("匹配事件载荷反序列化失败，丢弃消息")
		return true
	}
	if msg.CandidateID == "" || msg.VersionKey == "" || msg.JobID == "" {
		logger.Ctx(ctx).Error().
			Str("candidate_id", msg.CandidateID).Str("version_key", msg.VersionKey).Str("job_id", msg.JobID).
			Msg("匹配事件缺少必要字段，丢弃消息")
		return true
	}

	_, err := sp.Compute(ctx, msg.CandidateID, msg.VersionKey, msg.JobID)
	if err != nil {
		if errors.Is(err, ErrVersionNotFound) || errors.Is(err, ErrJobNotFound) {
			logger.Ctx(ctx).Warn().Err(err).Msg("匹配事件引用的数据不存在，丢弃消息")
			return true
		}
		logger.Ctx(ctx).Error().Err(err).
			Str("candidate_id", msg.CandidateID).Str("job_id", msg.JobID).
			Msg("匹配分数计算失败，消息重新入队")
		return false
	}
	return true
}

// StartConsumer 在给定队列上启动匹配事件消费
func (sp *ScoreProcessor) StartConsumer(ctx context.Context, mq *storage.RabbitMQ, queueName string, prefetchCount int) (<-chan struct{}, error) {
	return mq.StartConsumer(queueName, prefetchCount, func(body []byte) bool {
		return sp.HandleMatchNeeded(ctx, body)
	})
}
