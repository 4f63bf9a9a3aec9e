package extractor

import (
	"context"
	"sync"
	"time"

	"cv-core-go/internal/logger"
	"cv-core-go/internal/types"

	"github.com/cloudwego/eino/components/model"
)

const (
	defaultDocumentTimeout = 120 * time.Second
	defaultMaxRetries      = 2
)

// Orchestrator 并发运行五个章节提取agent并合并结果。
// 单个章节失败不影响其他章节：失败章节置空并记录到SectionFailures，
// 调用方可据此针对性重试。
type Orchestrator struct {
	identity       *IdentityAgent
	experience     *ExperienceAgent
	education      *EducationAgent
	projects       *ProjectsAgent
	certifications *CertificationsAgent

	documentTimeout time.Duration
}

// OrchestratorOption 配置选项
type OrchestratorOption func(*Orchestrator)

// WithDocumentTimeout 设置单文档提取的总超时。超时的章节按该章节失败处理。
func WithDocumentTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.documentTimeout = timeout
		}
	}
}

// NewOrchestrator 创建提取编排器
func NewOrchestrator(llm model.ChatModel, maxRetries int, options ...OrchestratorOption) *Orchestrator {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	o := &Orchestrator{
		identity:        NewIdentityAgent(llm, maxRetries),
		experience:      NewExperienceAgent(llm, maxRetries),
		education:       NewEducationAgent(llm, maxRetries),
		projects:        NewProjectsAgent(llm, maxRetries),
		certifications:  NewCertificationsAgent(llm, maxRetries),
		documentTimeout: defaultDocumentTimeout,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// ExtractionResult 五个章节的合并结果及失败记录
type ExtractionResult struct {
	Identity       types.Identity
	Experience     []types.ExperienceEntry
	Education      []types.EducationEntry
	Projects       []string
	Certifications []string

	// 章节名 -> 失败原因，全部成功时为空
	SectionFailures map[string]string
}

// ExtractAll 并发运行全部章节agent，等待所有章节完成（或各自失败）后合并。
// 永不因单章节失败而整体失败；上下文取消是唯一的整体失败来源之外，
// 本方法不返回error——失败全部体现在SectionFailures中。
func (o *Orchestrator) ExtractAll(ctx context.Context, cvText string) *ExtractionResult {
	ctx, cancel := context.WithTimeout(ctx, o.documentTimeout)
	defer cancel()

	result := &ExtractionResult{
		SectionFailures: make(map[string]string),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	fail := func(section string, err error) {
		mu.Lock()
		result.SectionFailures[section] = err.Error()
		mu.Unlock()
		logger.Ctx(ctx).Warn().Str("section", section).Err(err).Msg("章节提取失败，该章节置空")
	}

	wg.Add(5)
	go func() {
		defer wg.Done()
		identity, err := o.identity.Extract(ctx, cvText)
		if err != nil {
			fail(SectionIdentity, err)
			return
		}
		mu.Lock()
		result.Identity = *identity
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		experience, err := o.experience.Extract(ctx, cvText)
		if err != nil {
			fail(SectionExperience, err)
			return
		}
		mu.Lock()
		result.Experience = experience
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		education, err := o.education.Extract(ctx, cvText)
		if err != nil {
			fail(SectionEducation, err)
			return
		}
		mu.Lock()
		result.Education = education
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		projects, err := o.projects.Extract(ctx, cvText)
		if err != nil {
			fail(SectionProjects, err)
			return
		}
		mu.Lock()
		result.Projects = projects
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		certifications, err := o.certifications.Extract(ctx, cvText)
		if err != nil {
			fail(SectionCertifications, err)
			return
		}
		mu.Lock()
		result.Certifications = certifications
		mu.Unlock()
	}()
	wg.Wait()

	// 空章节归一化为空切片，序列化时输出[]而非null
	if result.Experience == nil {
		result.Experience = []types.ExperienceEntry{}
	}
	if result.Education == nil {
		result.Education = []types.EducationEntry{}
	}
	if result.Projects == nil {
		result.Projects = []string{}
	}
	if result.Certifications == nil {
		result.Certifications = []string{}
	}
	return result
}
