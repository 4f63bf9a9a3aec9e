package processor

import (
	"context"
	"errors"
	"testing"

	"cv-core-go/internal/profile"
	"cv-core-go/internal/scoring"
	"cv-core-go/internal/storage/models"
	"cv-core-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeScoreRepo struct {
	jobs    map[string]*models.Job
	rows    map[string]*models.MatchScore
	failAll bool
}

func newFakeScoreRepo() *fakeScoreRepo {
	return &fakeScoreRepo{
		jobs: make(map[string]*models.Job),
		rows: make(map[string]*models.MatchScore),
	}
}

func scoreKey(candidateID, versionKey, jobID string) string {
	return candidateID + "|" + versionKey + "|" + jobID
}

func (f *fakeScoreRepo) GetJobByID(_ context.Context, jobID string) (*models.Job, error) {
	if f.failAll {
		return nil, errors.New("db down")
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return job, nil
}

func (f *fakeScoreRepo) MarkScorePending(_ context.Context, candidateID, versionKey, jobID string) error {
	if f.failAll {
		return errors.New("db down")
	}
	key := scoreKey(candidateID, versionKey, jobID)
	if _, exists := f.rows[key]; exists {
		return nil
	}
	f.rows[key] = &models.MatchScore{
		CandidateID: candidateID, VersionKey: versionKey, JobID: jobID,
		Status: string(types.ScorePending),
	}
	return nil
}

func (f *fakeScoreRepo) SaveScoreComputed(_ context.Context, candidateID, versionKey, jobID string, score float64, subScores interface{}) error {
	if f.failAll {
		return errors.New("db down")
	}
	subJSON, err := models.SubScoresToJSON(subScores)
	if err != nil {
		return err
	}
	f.rows[scoreKey(candidateID, versionKey, jobID)] = &models.MatchScore{
		CandidateID: candidateID, VersionKey: versionKey, JobID: jobID,
		Status: string(types.ScoreComputed), Score: &score, SubScoresJSON: subJSON,
	}
	return nil
}

func (f *fakeScoreRepo) SaveScoreFailed(_ context.Context, candidateID, versionKey, jobID, reason string) error {
	if f.failAll {
		return errors.New("db down")
	}
	f.rows[scoreKey(candidateID, versionKey, jobID)] = &models.MatchScore{
		CandidateID: candidateID, VersionKey: versionKey, JobID: jobID,
		Status: string(types.ScoreFailed), FailReason: reason,
	}
	return nil
}

func (f *fakeScoreRepo) GetMatchScore(_ context.Context, candidateID, versionKey, jobID string) (*models.MatchScore, error) {
	if f.failAll {
		return nil, errors.New("db down")
	}
	return f.rows[scoreKey(candidateID, versionKey, jobID)], nil
}

type fakeVersionedStore struct {
	profiles map[string]*types.CandidateProfile
}

func (f *fakeVersionedStore) Put(_ context.Context, _ string, _ *types.CandidateProfile, _ *types.RawDocument) (*types.ProfileVersion, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeVersionedStore) Get(_ context.Context, candidateID string, sel profile.Selector) (*types.CandidateProfile, *types.ProfileVersion, error) {
	p, ok := f.profiles[scoreKey(candidateID, sel.VersionKey, "")]
	if !ok {
		return nil, nil, profile.ErrVersionNotFound
	}
	return p, &types.ProfileVersion{CandidateID: candidateID, VersionKey: sel.VersionKey}, nil
}

func scoredProfile(skills ...string) *types.CandidateProfile {
	return &types.CandidateProfile{
		Identity: types.Identity{FullName: ptr("张三")},
		Experience: []types.ExperienceEntry{
			{Role: ptr("Backend Engineer"), Company: ptr("某公司")},
		},
		SkillsAnalysis: types.SkillsAnalysis{ExplicitSkills: skills},
	}
}

func newScoreProcessor(t *testing.T) (*ScoreProcessor, *fakeScoreRepo, *fakeVersionedStore, *fakePublisher) {
	t.Helper()
	engine, err := scoring.NewEngine(scoring.DefaultWeights())
	require.NoError(t, err)

	repo := newFakeScoreRepo()
	repo.jobs["job-1"] = &models.Job{
		JobID:                "job-1",
		JobTitle:             "Backend Engineer",
		JobDescriptionText:   "负责后端服务开发，要求熟悉go与mysql",
		JDSkillsKeywordsText: "go, mysql, docker",
	}
	repo.jobs["job-empty"] = &models.Job{
		JobID:    "job-empty",
		JobTitle: "Mystery Role",
	}

	store := &fakeVersionedStore{profiles: map[string]*types.CandidateProfile{
		scoreKey("cand-1", "v1", ""): scoredProfile("go", "mysql"),
		scoreKey("cand-2", "v1", ""): {Identity: types.Identity{FullName: ptr("李四")}},
	}}

	publisher := &fakePublisher{}
	sp, err := NewScoreProcessor(store, repo, engine, publisher)
	require.NoError(t, err)
	return sp, repo, store, publisher
}

func TestComputePersistsComputedScore(t *testing.T) {
	sp, repo, _, _ := newScoreProcessor(t)

	result, err := sp.Compute(context.Background(), "cand-1", "v1", "job-1")
	require.NoError(t, err)

	assert.Equal(t, types.ScoreComputed, result.Status)
	require.NotNil(t, result.Score)
	assert.Greater(t, *result.Score, 0.0)
	require.NotNil(t, result.SubScores)
	assert.InDelta(t, 2.0/3.0, result.SubScores.Skills, 1e-9)

	row := repo.rows[scoreKey("cand-1", "v1", "job-1")]
	require.NotNil(t, row)
	assert.Equal(t, string(types.ScoreComputed), row.Status)
}

func TestComputeIsIdempotent(t *testing.T) {
	sp, _, _, _ := newScoreProcessor(t)
	ctx := context.Background()

	first, err := sp.Compute(ctx, "cand-1", "v1", "job-1")
	require.NoError(t, err)
	second, err := sp.Compute(ctx, "cand-1", "v1", "job-1")
	require.NoError(t, err)

	assert.Equal(t, *first.Score, *second.Score)
}

func TestComputeMissingJobDataFailsWithoutRetry(t *testing.T) {
	sp, repo, _, _ := newScoreProcessor(t)

	result, err := sp.Compute(context.Background(), "cand-1", "v1", "job-empty")
	require.NoError(t, err, "数据缺失落为FAILED，不作为错误向上传播")

	assert.Equal(t, types.ScoreFailed, result.Status)
	assert.Nil(t, result.Score)
	assert.NotEmpty(t, result.FailReason)

	row := repo.rows[scoreKey("cand-1", "v1", "job-empty")]
	require.NotNil(t, row)
	assert.Equal(t, string(types.ScoreFailed), row.Status)
}

func TestComputeMissingSkillDataFails(t *testing.T) {
	sp, _, _, _ := newScoreProcessor(t)

	result, err := sp.Compute(context.Background(), "cand-2", "v1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.ScoreFailed, result.Status)
}

func TestComputeUnknownVersion(t *testing.T) {
	sp, _, _, _ := newScoreProcessor(t)

	_, err := sp.Compute(context.Background(), "cand-1", "missing", "job-1")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestComputeUnknownJob(t *testing.T) {
	sp, _, _, _ := newScoreProcessor(t)

	_, err := sp.Compute(context.Background(), "cand-1", "v1", "job-404")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetScoreAbsentRowIsPending(t *testing.T) {
	sp, _, _, _ := newScoreProcessor(t)

	result, err := sp.GetScore(context.Background(), "cand-1", "v1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.ScorePending, result.Status)
	assert.Nil(t, result.Score, "计算中没有分数，而不是零分")
}

func TestTriggerScoreMarksPendingAndPublishes(t *testing.T) {
	sp, repo, _, publisher := newScoreProcessor(t)

	require.NoError(t, sp.TriggerScore(context.Background(), "cand-1", "v1", "job-1"))

	row := repo.rows[scoreKey("cand-1", "v1", "job-1")]
	require.NotNil(t, row)
	assert.Equal(t, string(types.ScorePending), row.Status)
	require.Len(t, publisher.published, 1)
	assert.Equal(t, "job-1", publisher.published[0].JobID)
}

func TestTriggerScoreDoesNotOverwriteComputed(t *testing.T) {
	sp, repo, _, _ := newScoreProcessor(t)
	ctx := context.Background()

	_, err := sp.Compute(ctx, "cand-1", "v1", "job-1")
	require.NoError(t, err)
	require.NoError(t, sp.TriggerScore(ctx, "cand-1", "v1", "job-1"))

	row := repo.rows[scoreKey("cand-1", "v1", "job-1")]
	assert.Equal(t, string(types.ScoreComputed), row.Status, "幂等触发不得覆盖已计算的分数")
}

func TestHandleMatchNeededAckDecisions(t *testing.T) {
	sp, repo, _, _ := newScoreProcessor(t)
	ctx := context.Background()

	// 非法载荷与缺字段：ack丢弃
	assert.True(t, sp.HandleMatchNeeded(ctx, []byte("not json")))
	assert.True(t, sp.HandleMatchNeeded(ctx, []byte(`{"candidate_id":"cand-1"}`)))

	// 引用不存在的数据：确定性失败，ack丢弃
	assert.True(t, sp.HandleMatchNeeded(ctx,
		[]byte(`{"candidate_id":"cand-1","version_key":"missing","job_id":"job-1"}`)))

	// 正常计算：ack
	assert.True(t, sp.HandleMatchNeeded(ctx,
		[]byte(`{"candidate_id":"cand-1","version_key":"v1","job_id":"job-1"}`)))
	assert.Equal(t, string(types.ScoreComputed), repo.rows[scoreKey("cand-1", "v1", "job-1")].Status)

	// 基础设施错误：nack重新入队
	repo.failAll = true
	assert.False(t, sp.HandleMatchNeeded(ctx,
		[]byte(`{"candidate_id":"cand-1","version_key":"v1","job_id":"job-1"}`)))
}
