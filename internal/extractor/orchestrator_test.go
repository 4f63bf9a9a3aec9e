package extractor

import (
	"context"
	"errors"
	"testing"

	"cv-core-go/internal/agent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCV = `Zhang San
Senior Backend Engineer
zhang@example.com | +86 138-0000-0000 | Shanghai

EXPERIENCE
Acme Corp — Backend Engineer (2020-01 - Present)
- Built payment gateway in Go

EDUCATION
Fudan University — B.Sc. Computer Science (2014 - 2018)

KEY PROJECTS
Distributed task scheduler

CERTIFICATIONS
AWS Certified Solutions Architect`

// 按提示词中的章节标记路由mock响应，章节并发执行顺序不确定
func routedMock(overrides map[string]agent.MockResponse) *agent.MockChatClient {
	routes := map[string]agent.MockResponse{
		"CANDIDATE IDENTITY": {Content: `{"full_name": "Zhang San", "headline": "Senior  Backend   Engineer", "introduction": null, "email": "zhang@example.com", "phone": "+86 138-0000-0000", "location": "Shanghai"}`},
		"professional work experience": {Content: "```json\n" + `{"experiences": [{"company": "Acme Corp", "role": "Backend Engineer", "responsibilities": ["Built payment gateway in Go", "  "], "start_date": "2020-01", "end_date": null}]}` + "\n```"},
		"EDUCATION information":        {Content: `{"education": [{"institution": "Fudan University", "degree": "B.Sc. Computer Science", "start_date": "2014", "end_date": "2018", "certifications": [], "academic_projects": []}]}`},
		"PROJECT BLOCKS":               {Content: `{"projects": ["Distributed task scheduler"]}`},
		"extracting CERTIFICATIONS":    {Content: `{"certifications": ["AWS Certified Solutions Architect"]}`},
	}
	for k, v := range overrides {
		routes[k] = v
	}
	return agent.NewMockChatClientRouted(routes)
}

// TestExtractAllSuccess 五个章节全部成功时合并完整结果
func TestExtractAllSuccess(t *testing.T) {
	o := NewOrchestrator(routedMock(nil), 0)
	result := o.ExtractAll(context.Background(), sampleCV)

	assert.Empty(t, result.SectionFailures)

	require.NotNil(t, result.Identity.FullName)
	assert.Equal(t, "Zhang San", *result.Identity.FullName)
	// headline中的重复空格必须折叠
	require.NotNil(t, result.Identity.Headline)
	assert.Equal(t, "Senior Backend Engineer", *result.Identity.Headline)
	assert.Nil(t, result.Identity.Introduction)

	require.Len(t, result.Experience, 1)
	assert.Equal(t, "Acme Corp", *result.Experience[0].Company)
	assert.Equal(t, []string{"Built payment gateway in Go"}, result.Experience[0].Responsibilities)
	assert.Nil(t, result.Experience[0].EndDate)

	require.Len(t, result.Education, 1)
	assert.Equal(t, "Fudan University", *result.Education[0].Institution)
	assert.Equal(t, []string{"Distributed task scheduler"}, result.Projects)
	assert.Equal(t, []string{"AWS Certified Solutions Architect"}, result.Certifications)
}

// TestExtractAllSectionFailureIsolated 单章节失败不影响其余章节
func TestExtractAllSectionFailureIsolated(t *testing.T) {
	mock := routedMock(map[string]agent.MockResponse{
		"EDUCATION information": {Error: errors.New("invalid api key")},
	})
	o := NewOrchestrator(mock, 0)
	result := o.ExtractAll(context.Background(), sampleCV)

	require.Contains(t, result.SectionFailures, SectionEducation)
	assert.Len(t, result.SectionFailures, 1)
	// 失败章节置空，其他章节照常
	assert.Empty(t, result.Education)
	assert.NotNil(t, result.Education, "失败章节序列化为空数组而非null")
	assert.Len(t, result.Experience, 1)
	require.NotNil(t, result.Identity.Email)
	assert.Equal(t, "zhang@example.com", *result.Identity.Email)
}

// TestExtractAllMalformedJSON 无法定位JSON的响应按章节失败处理
func TestExtractAllMalformedJSON(t *testing.T) {
	mock := routedMock(map[string]agent.MockResponse{
		"extracting CERTIFICATIONS": {Content: "I could not find any JSON worth returning."},
	})
	o := NewOrchestrator(mock, 0)
	result := o.ExtractAll(context.Background(), sampleCV)

	assert.Contains(t, result.SectionFailures, SectionCertifications)
	assert.Empty(t, result.Certifications)
}

// TestExtractAllAllSectionsFail 全部失败仍返回结果，由上层决定如何处置
func TestExtractAllAllSectionsFail(t *testing.T) {
	mock := agent.NewMockChatClient("", errors.New("service unreachable"))
	o := NewOrchestrator(mock, 0)
	result := o.ExtractAll(context.Background(), sampleCV)

	assert.Len(t, result.SectionFailures, 5)
	assert.NotNil(t, result.Experience)
	assert.NotNil(t, result.Projects)
}

// TestExtractJSONFenced 围栏JSON与裸JSON的定位
func TestExtractJSONFenced(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, extractJSON("Here you go:\n```json\n{\"a\": 1}\n```\nanything else"))
	assert.Equal(t, `{"a": {"b": 2}}`, extractJSON(`prefix {"a": {"b": 2}} suffix`))
	assert.Equal(t, "", extractJSON("no json here"))
}

// TestIsRetryableError 瞬时错误分类
func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(errors.New("429 Too Many Requests")))
	assert.True(t, isRetryableError(errors.New("context deadline exceeded")))
	assert.False(t, isRetryableError(errors.New("invalid api key")))
	assert.False(t, isRetryableError(nil))
}

// TestCallLLMRetriesTransientError 瞬时错误在有限次数内重试
func TestCallLLMRetriesTransientError(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: errors.New("503 service temporarily unavailable")},
		{Content: `{"ok": true}`},
	})
	out, err := callLLM(context.Background(), mock, "prompt", 2)
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)
}

// TestCallLLMNoRetryOnPermanentError 非瞬时错误立即放弃
func TestCallLLMNoRetryOnPermanentError(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: errors.New("invalid api key")},
		{Content: "should never be reached"},
	})
	_, err := callLLM(context.Background(), mock, "prompt", 2)
	require.Error(t, err)
	assert.Equal(t, 1, mock.ResponseIndex, "首次失败后不应再次调用")
}
