package scoring

import (
	"testing"

	"cv-core-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func testProfile() *types.CandidateProfile {
	return &types.CandidateProfile{
		Experience: []types.ExperienceEntry{
			{Company: strPtr("Acme"), Role: strPtr("Backend Engineer")},
		},
		Education: []types.EducationEntry{
			{Institution: strPtr("Fudan University"), Degree: strPtr("B.Sc. Computer Science")},
		},
		SkillsAnalysis: types.SkillsAnalysis{
			ExplicitSkills:   []string{"go"},
			JobRelatedSkills: []string{"mysql"},
		},
	}
}

func testJob() *types.JobRequirement {
	return &types.JobRequirement{
		JobID:          "job-1",
		JobTitle:       "Backend Engineer",
		JobSkills:      "Go, MySQL, Kafka",
		JobDescription: "Build backend services in Go with computer science fundamentals.",
	}
}

// TestScoreTwoOfThreeCoverage 显式{A}+推断{B}对岗位{A,B,C}应得2/3技能子分
func TestScoreTwoOfThreeCoverage(t *testing.T) {
	engine, err := NewEngine(DefaultWeights())
	require.NoError(t, err)

	score, sub, err := engine.Score(testProfile(), testJob())
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0, sub.Skills, 1e-9)
	assert.Greater(t, score, 0.0)
	assert.Less(t, score, 1.0)
}

// TestScoreDeterministic 同一输入两次打分结果完全一致
func TestScoreDeterministic(t *testing.T) {
	engine, err := NewEngine(DefaultWeights())
	require.NoError(t, err)

	first, firstSub, err := engine.Score(testProfile(), testJob())
	require.NoError(t, err)
	second, secondSub, err := engine.Score(testProfile(), testJob())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstSub, secondSub)
}

// TestScoreZeroOverlapIsValid 零技能重叠是有效结果而非错误
func TestScoreZeroOverlapIsValid(t *testing.T) {
	engine, err := NewEngine(DefaultWeights())
	require.NoError(t, err)

	job := testJob()
	job.JobSkills = "Rust; Erlang"
	job.JobTitle = "Embedded Developer"
	job.JobDescription = "Firmware work."

	score, sub, err := engine.Score(testProfile(), job)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sub.Skills)
	// 教育子分仍可贡献非零总分，但结果必须是有限值而非错误
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

// TestScoreMissingJobData 岗位技能为空时返回类型化失败
func TestScoreMissingJobData(t *testing.T) {
	engine, err := NewEngine(DefaultWeights())
	require.NoError(t, err)

	job := testJob()
	job.JobSkills = "  ,; "
	_, _, err = engine.Score(testProfile(), job)
	assert.ErrorIs(t, err, ErrMissingJobData)
}

// TestScoreMissingSkillData 候选人无任何技能数据时返回类型化失败
func TestScoreMissingSkillData(t *testing.T) {
	engine, err := NewEngine(DefaultWeights())
	require.NoError(t, err)

	profile := testProfile()
	profile.SkillsAnalysis = types.SkillsAnalysis{}
	_, _, err = engine.Score(profile, testJob())
	assert.ErrorIs(t, err, ErrMissingSkillData)
}

// TestWeightsValidate 权重校验
func TestWeightsValidate(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())
	assert.Error(t, Weights{Skills: 0.9, Experience: 0.3, Education: 0.2}.Validate())
	assert.Error(t, Weights{Skills: -0.1, Experience: 0.6, Education: 0.5}.Validate())

	_, err := NewEngine(Weights{Skills: 1, Experience: 1, Education: 1})
	assert.Error(t, err)
}

// TestExperienceFitTokenAlignment 经历角色词元与岗位文本的对齐
func TestExperienceFitTokenAlignment(t *testing.T) {
	job := testJob()
	full := ExperienceFit([]types.ExperienceEntry{{Role: strPtr("Backend Engineer")}}, job)
	assert.Equal(t, 1.0, full)

	// seniority前缀属于停用词，不拉低契合度
	senior := ExperienceFit([]types.ExperienceEntry{{Role: strPtr("Senior Backend Engineer")}}, job)
	assert.Equal(t, 1.0, senior)

	none := ExperienceFit([]types.ExperienceEntry{{Role: strPtr("Pastry Chef")}}, job)
	assert.Equal(t, 0.0, none)

	assert.Equal(t, 0.0, ExperienceFit(nil, job))
}

// TestEducationFitDegreeLevels 学位档位与专业相关性
func TestEducationFitDegreeLevels(t *testing.T) {
	job := testJob()

	bachelor := EducationFit([]types.EducationEntry{{Degree: strPtr("Bachelor of Computer Science")}}, job)
	assert.Greater(t, bachelor, 0.6, "本科满档之外专业相关性应有贡献")

	unknown := EducationFit([]types.EducationEntry{{Degree: strPtr("Certificate of Attendance")}}, job)
	assert.Less(t, unknown, bachelor)

	assert.Equal(t, 0.0, EducationFit(nil, job))
}

// TestSplitSkillList 自由文本技能列表切分
func TestSplitSkillList(t *testing.T) {
	assert.Equal(t, []string{"Go", "MySQL", "Kafka"}, SplitSkillList("Go, MySQL; Kafka"))
	assert.Empty(t, SplitSkillList("  ,; \n"))
}
