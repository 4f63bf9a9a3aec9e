package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"cv-core-go/internal/types"
)

// 打分无法进行的类型化失败。均为上游数据问题，不自动重试。
var (
	// ErrMissingSkillData 候选人档案不含任何技能数据
	ErrMissingSkillData = errors.New("候选人档案缺少技能数据")
	// ErrMissingJobData 岗位要求不含可用的技能列表
	ErrMissingJobData = errors.New("岗位要求缺少技能数据")
)

// Weights 组合分数的权重，必须和为1
type Weights struct {
	Skills     float64 `json:"skills" yaml:"skills"`
	Experience float64 `json:"experience" yaml:"experience"`
	Education  float64 `json:"education" yaml:"education"`
}

// DefaultWeights 默认权重。技能覆盖是最强的匹配信号，占一半。
func DefaultWeights() Weights {
	return Weights{Skills: 0.5, Experience: 0.3, Education: 0.2}
}

// Validate 校验权重取值与总和
func (w Weights) Validate() error {
	for name, v := range map[string]float64{"skills": w.Skills, "experience": w.Experience, "education": w.Education} {
		if v < 0 || v > 1 {
			return fmt.Errorf("权重 %s 超出 [0,1]: %f", name, v)
		}
	}
	if sum := w.Skills + w.Experience + w.Education; math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("权重总和必须为1，当前为 %f", sum)
	}
	return nil
}

// Engine 匹配分数引擎。完全确定性：同一(档案版本, 岗位要求)输入
// 永远产出同一标量，零分是有效结果，与"未计算"严格区分（由存储层
// 三态建模，引擎本身只产出值或类型化失败）。
type Engine struct {
	weights Weights
}

// NewEngine 创建打分引擎。权重非法时回退默认权重并返回错误由调用方决定处置。
func NewEngine(weights Weights) (*Engine, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Engine{weights: weights}, nil
}

// Score 计算组合匹配分数。
// 各子分量独立计算后按权重线性组合，最终裁剪到[0,1]。
func (e *Engine) Score(profile *types.CandidateProfile, job *types.JobRequirement) (float64, *types.SubScores, error) {
	if profile == nil {
		return 0, nil, ErrMissingSkillData
	}
	if job == nil {
		return 0, nil, ErrMissingJobData
	}

	jobSkills := SplitSkillList(job.JobSkills)
	if len(jobSkills) == 0 {
		return 0, nil, fmt.Errorf("%w: job_id=%s", ErrMissingJobData, job.JobID)
	}

	candidateSkills := profile.CombinedSkills()
	if len(candidateSkills) == 0 {
		return 0, nil, fmt.Errorf("%w: 显式技能与推断技能均为空", ErrMissingSkillData)
	}

	sub := &types.SubScores{
		Skills:     SkillsOverlap(candidateSkills, jobSkills),
		Experience: ExperienceFit(profile.Experience, job),
		Education:  EducationFit(profile.Education, job),
	}

	score := e.weights.Skills*sub.Skills +
		e.weights.Experience*sub.Experience +
		e.weights.Education*sub.Education

	// 数值安全裁剪
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, sub, nil
}

// SplitSkillList 切分自由文本技能列表（逗号/分号/换行分隔）
func SplitSkillList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	var skills []string
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			skills = append(skills, trimmed)
		}
	}
	return skills
}
