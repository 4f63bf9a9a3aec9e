package extractor

import (
	"context"
	"encoding/json"
	"fmt"

	"cv-core-go/internal/types"

	"github.com/cloudwego/eino/components/model"
)

// 各章节的提示词。规则重点：逐字拷贝、禁止编造、缺失字段保持null。
const (
	identityPromptTemplate = `You are extracting CANDIDATE IDENTITY information from a CV.

Rules:
- You may lightly normalize wording.
- Do NOT invent information.
- Extract only what is explicitly present.
- Headline must not contain duplicated spaces.
- Pay special attention to the beginning of the CV text where name, email, phone, and contact information are typically located.
- Look for email addresses (containing @ symbol).
- Look for phone numbers (sequences of digits, possibly with dashes, spaces, parentheses, or country codes).
- Extract the full name which is usually the first prominent text at the top of the CV.

Return a JSON object EXACTLY matching this format:
{"full_name": string or null, "headline": string or null, "introduction": string or null, "email": string or null, "phone": string or null, "location": string or null}

CV TEXT:
<<<
%s
>>>`

	experiencePromptTemplate = `You are an ATS-grade CV parser.

Extract ONLY real professional work experience.

STRICT RULES:
- DO NOT paraphrase.
- DO NOT invent companies, roles, or dates.
- Copy text EXACTLY as written in the CV.
- Fix only spelling or duplicated spaces.
- Exclude academic projects, certifications, and summaries.

Return a JSON structure EXACTLY matching this format:
{"experiences": [{"company": string or null, "role": string or null, "responsibilities": [string], "start_date": string or null, "end_date": string or null}]}

CV TEXT:
<<<
%s
>>>`

	educationPromptTemplate = `You are extracting EDUCATION information from a CV.

Rules:
- Education includes degrees, institutions, academic projects, and certifications.
- Academic projects must stay under education.
- Do NOT paraphrase project descriptions.
- Copy text as written.
- Do NOT invent data.

Return a JSON structure EXACTLY matching this format:
{"education": [{"institution": string or null, "degree": string or null, "start_date": string or null, "end_date": string or null, "certifications": [string], "academic_projects": [string]}]}

CV TEXT:
<<<
%s
>>>`

	projectsPromptTemplate = `You are extracting PROJECT BLOCKS from a CV.

Rules:
- Extract ONLY blocks labeled as projects (e.g. "Key Projects", "Major Projects").
- Copy text EXACTLY as written.
- Do NOT paraphrase.
- Do NOT assign projects to jobs.
- Preserve order of appearance.

Return a JSON structure EXACTLY matching this format:
{"projects": [string]}

CV TEXT:
<<<
%s
>>>`

	certificationsPromptTemplate = `You are extracting CERTIFICATIONS from a CV.

Rules:
- Extract ONLY certifications.
- Do NOT paraphrase.
- Do NOT invent certifications.
- Copy text as written.

Return a JSON structure EXACTLY matching this format:
{"certifications": [string]}

CV TEXT:
<<<
%s
>>>`
)

// 章节名，失败记录与日志使用
const (
	SectionIdentity       = "identity"
	SectionExperience     = "experience"
	SectionEducation      = "education"
	SectionProjects       = "projects"
	SectionCertifications = "certifications"
)

// sectionCall 执行单个章节的 提示词→LLM→JSON定位→严格解码 流程
func sectionCall(ctx context.Context, llm model.ChatModel, template, cvText string, maxRetries int, out interface{}) error {
	prompt := fmt.Sprintf(template, cvText)
	response, err := callLLM(ctx, llm, prompt, maxRetries)
	if err != nil {
		return err
	}
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return fmt.Errorf("响应中未找到JSON对象")
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return fmt.Errorf("解析JSON失败: %w", err)
	}
	return nil
}

// IdentityAgent 提取候选人身份信息
type IdentityAgent struct {
	llm        model.ChatModel
	maxRetries int
}

func NewIdentityAgent(llm model.ChatModel, maxRetries int) *IdentityAgent {
	return &IdentityAgent{llm: llm, maxRetries: maxRetries}
}

func (a *IdentityAgent) Extract(ctx context.Context, cvText string) (*types.Identity, error) {
	var out types.Identity
	if err := sectionCall(ctx, a.llm, identityPromptTemplate, cvText, a.maxRetries, &out); err != nil {
		return nil, err
	}
	out.FullName = trimOrNil(out.FullName)
	out.Headline = collapseSpaces(out.Headline)
	out.Introduction = trimOrNil(out.Introduction)
	out.Email = trimOrNil(out.Email)
	out.Phone = trimOrNil(out.Phone)
	out.Location = trimOrNil(out.Location)
	return &out, nil
}

// ExperienceAgent 提取工作经历
type ExperienceAgent struct {
	llm        model.ChatModel
	maxRetries int
}

func NewExperienceAgent(llm model.ChatModel, maxRetries int) *ExperienceAgent {
	return &ExperienceAgent{llm: llm, maxRetries: maxRetries}
}

func (a *ExperienceAgent) Extract(ctx context.Context, cvText string) ([]types.ExperienceEntry, error) {
	var out struct {
		Experiences []types.ExperienceEntry `json:"experiences"`
	}
	if err := sectionCall(ctx, a.llm, experiencePromptTemplate, cvText, a.maxRetries, &out); err != nil {
		return nil, err
	}
	for i := range out.Experiences {
		e := &out.Experiences[i]
		e.Company = trimOrNil(e.Company)
		e.Role = trimOrNil(e.Role)
		e.StartDate = trimOrNil(e.StartDate)
		e.EndDate = trimOrNil(e.EndDate)
		e.Responsibilities = cleanStringList(e.Responsibilities)
	}
	return out.Experiences, nil
}

// EducationAgent 提取教育经历（学术项目与教育内证书归属教育章节）
type EducationAgent struct {
	llm        model.ChatModel
	maxRetries int
}

func NewEducationAgent(llm model.ChatModel, maxRetries int) *EducationAgent {
	return &EducationAgent{llm: llm, maxRetries: maxRetries}
}

func (a *EducationAgent) Extract(ctx context.Context, cvText string) ([]types.EducationEntry, error) {
	var out struct {
		Education []types.EducationEntry `json:"education"`
	}
	if err := sectionCall(ctx, a.llm, educationPromptTemplate, cvText, a.maxRetries, &out); err != nil {
		return nil, err
	}
	for i := range out.Education {
		e := &out.Education[i]
		e.Institution = trimOrNil(e.Institution)
		e.Degree = trimOrNil(e.Degree)
		e.StartDate = trimOrNil(e.StartDate)
		e.EndDate = trimOrNil(e.EndDate)
		e.Certifications = cleanStringList(e.Certifications)
		e.AcademicProjects = cleanStringList(e.AcademicProjects)
	}
	return out.Education, nil
}

// ProjectsAgent 提取独立标注的项目块
type ProjectsAgent struct {
	llm        model.ChatModel
	maxRetries int
}

func NewProjectsAgent(llm model.ChatModel, maxRetries int) *ProjectsAgent {
	return &ProjectsAgent{llm: llm, maxRetries: maxRetries}
}

func (a *ProjectsAgent) Extract(ctx context.Context, cvText string) ([]string, error) {
	var out struct {
		Projects []string `json:"projects"`
	}
	if err := sectionCall(ctx, a.llm, projectsPromptTemplate, cvText, a.maxRetries, &out); err != nil {
		return nil, err
	}
	return cleanStringList(out.Projects), nil
}

// CertificationsAgent 提取证书
type CertificationsAgent struct {
	llm        model.ChatModel
	maxRetries int
}

func NewCertificationsAgent(llm model.ChatModel, maxRetries int) *CertificationsAgent {
	return &CertificationsAgent{llm: llm, maxRetries: maxRetries}
}

func (a *CertificationsAgent) Extract(ctx context.Context, cvText string) ([]string, error) {
	var out struct {
		Certifications []string `json:"certifications"`
	}
	if err := sectionCall(ctx, a.llm, certificationsPromptTemplate, cvText, a.maxRetries, &out); err != nil {
		return nil, err
	}
	return cleanStringList(out.Certifications), nil
}
