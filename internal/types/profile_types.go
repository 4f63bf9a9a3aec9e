package types

import "time"

// ExtractionStrategy 表示文档文本提取所使用的解析策略
type ExtractionStrategy string

const (
	// StrategyStrict 严格的逐页结构化解析（主策略）
	StrategyStrict ExtractionStrategy = "STRICT"
	// StrategyRelaxed 宽松模式解析（首页成功但个别后续页失败时）
	StrategyRelaxed ExtractionStrategy = "RELAXED"
	// StrategyFallback 整文档回退解析器（首页在主策略下失败时）
	StrategyFallback ExtractionStrategy = "FALLBACK"
)

// RawDocument 原始上传文档，一经写入不再修改
type RawDocument struct {
	CandidateID string    `json:"candidate_id"`
	Filename    string    `json:"filename"`
	MediaType   string    `json:"media_type"`
	Content     []byte    `json:"-"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// ExtractedText 从单个RawDocument提取出的纯文本及其诊断信息
type ExtractedText struct {
	Text string `json:"text"`

	// 实际使用的解析策略
	Strategy ExtractionStrategy `json:"strategy"`

	// 使用了回退解析器的页码（从1开始），仅在Strategy为FALLBACK/RELAXED时非空
	FallbackPages []int `json:"fallback_pages,omitempty"`

	// 文档总页数
	PageCount int `json:"page_count"`
}

// Identity 候选人身份信息
type Identity struct {
	FullName     *string `json:"full_name"`
	Headline     *string `json:"headline"`
	Introduction *string `json:"introduction"`
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
	Location     *string `json:"location"`
}

// ExperienceEntry 一段工作经历
type ExperienceEntry struct {
	Company          *string  `json:"company"`
	Role             *string  `json:"role"`
	Responsibilities []string `json:"responsibilities"`
	StartDate        *string  `json:"start_date"` // ISO格式文本或null，禁止编造
	EndDate          *string  `json:"end_date"`
}

// EducationEntry 一段教育经历
type EducationEntry struct {
	Institution      *string  `json:"institution"`
	Degree           *string  `json:"degree"`
	StartDate        *string  `json:"start_date"`
	EndDate          *string  `json:"end_date"`
	Certifications   []string `json:"certifications"`
	AcademicProjects []string `json:"academic_projects"`
}

// SkillsAnalysis 技能分析结果，区分两类证据来源：
// ExplicitSkills是简历文本中逐字出现的技能；
// JobRelatedSkills是由经历角色经分类表推断出的技能，两个集合互不重叠。
type SkillsAnalysis struct {
	ExplicitSkills   []string `json:"explicit_skills"`
	RelatedRoles     []string `json:"related_roles"`
	JobRelatedSkills []string `json:"job_related_skills"`
}

// ExtractionMeta 一次提取的元数据
type ExtractionMeta struct {
	ExtractionDate     string `json:"extraction_date"`
	ExtractionTime     string `json:"extraction_time"`
	ExtractionDatetime string `json:"extraction_datetime"`

	// 解析策略相关诊断
	Strategy      ExtractionStrategy `json:"strategy"`
	FallbackPages []int              `json:"fallback_pages,omitempty"`

	// 失败的提取章节: section名 -> 失败原因，成功时为空
	SectionFailures map[string]string `json:"section_failures,omitempty"`
}

// CandidateProfile 合并后的结构化候选人档案，写入后不可变；
// 编辑会基于最新版本与显式的部分更新载荷生成新的合并记录。
type CandidateProfile struct {
	Metadata       ExtractionMeta    `json:"metadata"`
	Identity       Identity          `json:"identity"`
	Experience     []ExperienceEntry `json:"experience"`
	Education      []EducationEntry  `json:"education"`
	Projects       []string          `json:"projects"`
	Certifications []string          `json:"certifications"`
	SkillsAnalysis SkillsAnalysis    `json:"skills_analysis"`
}

// CombinedSkills 返回显式技能与推断技能的并集（去重，仅用于展示和打分）
func (p *CandidateProfile) CombinedSkills() []string {
	seen := make(map[string]struct{}, len(p.SkillsAnalysis.ExplicitSkills)+len(p.SkillsAnalysis.JobRelatedSkills))
	var combined []string
	for _, group := range [][]string{p.SkillsAnalysis.ExplicitSkills, p.SkillsAnalysis.JobRelatedSkills} {
		for _, s := range group {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			combined = append(combined, s)
		}
	}
	return combined
}

// ProfileVersion 唯一标识一个已存储的CandidateProfile及其来源文档
type ProfileVersion struct {
	CandidateID string    `json:"candidate_id"`
	VersionKey  string    `json:"version_key"` // 时间戳token，字典序即时间序
	RawPath     string    `json:"raw_path"`
	ParsedPath  string    `json:"parsed_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProfileUpdate 部分更新载荷：仅身份字段子集和/或替换性的技能选择
type ProfileUpdate struct {
	FullName     *string `json:"full_name,omitempty"`
	Headline     *string `json:"headline,omitempty"`
	Introduction *string `json:"introduction,omitempty"`
	Email        *string `json:"email,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	Location     *string `json:"location,omitempty"`

	// 非nil时整体替换explicit_skills
	SelectedSkills []string `json:"selected_skills,omitempty"`
}

// IsEmpty 判断更新载荷是否不含任何字段
func (u *ProfileUpdate) IsEmpty() bool {
	return u.FullName == nil && u.Headline == nil && u.Introduction == nil &&
		u.Email == nil && u.Phone == nil && u.Location == nil && u.SelectedSkills == nil
}

// JobRequirement 岗位要求，由外部岗位服务维护，对本核心只读
type JobRequirement struct {
	JobID          string `json:"job_id"`
	JobTitle       string `json:"job_title"`
	JobSkills      string `json:"job_skills"` // 自由文本技能列表（逗号分隔）
	JobDescription string `json:"job_description"`
}

// ScoreStatus 匹配分数的三态状态
type ScoreStatus string

const (
	// ScorePending 尚未计算，调用方应视为"计算中"而非零分
	ScorePending ScoreStatus = "PENDING"
	// ScoreComputed 已计算出有限值，0是有效且有含义的结果
	ScoreComputed ScoreStatus = "COMPUTED"
	// ScoreFailed 计算失败（上游数据缺失），不自动重试
	ScoreFailed ScoreStatus = "FAILED"
)

// SubScores 组合分数的各独立子分量，均位于[0,1]
type SubScores struct {
	Skills     float64 `json:"skills"`
	Experience float64 `json:"experience"`
	Education  float64 `json:"education"`
}

// MatchScore 一个(候选人档案版本, 岗位)对的匹配分数
type MatchScore struct {
	CandidateID string      `json:"candidate_id"`
	VersionKey  string      `json:"version_key"`
	JobID       string      `json:"job_id"`
	Status      ScoreStatus `json:"status"`
	Score       *float64    `json:"score,omitempty"` // 仅COMPUTED时非nil
	SubScores   *SubScores  `json:"sub_scores,omitempty"`
	FailReason  string      `json:"fail_reason,omitempty"`
	EvaluatedAt *time.Time  `json:"evaluated_at,omitempty"`
}
