package parser

import (
	"context"
	"errors"
	"testing"

	"cv-core-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStrictParser 模拟严格逐页解析策略
type fakeStrictParser struct {
	result *StrictParseResult
	err    error
}

func (f *fakeStrictParser) ParsePages(ctx context.Context, data []byte) (*StrictParseResult, error) {
	return f.result, f.err
}

// fakeFallbackParser 模拟整文档回退解析策略
type fakeFallbackParser struct {
	text   string
	err    error
	called bool
}

func (f *fakeFallbackParser) ExtractAll(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error) {
	f.called = true
	return f.text, nil, f.err
}

func pdfDoc(content string) *types.RawDocument {
	return &types.RawDocument{
		CandidateID: "cand-1",
		Filename:    "resume.pdf",
		MediaType:   "application/pdf",
		Content:     []byte(content),
	}
}

// TestExtractStrictSuccess 所有页严格解析成功时不应触碰回退解析器
func TestExtractStrictSuccess(t *testing.T) {
	strict := &fakeStrictParser{
		result: &StrictParseResult{
			PageTexts:  []string{"张三 zhang@example.com", "工作经历"},
			PageErrors: []error{nil, nil},
			PageCount:  2,
		},
	}
	fallback := &fakeFallbackParser{text: "should not be used"}

	extractor := NewDocumentTextExtractor(strict, fallback, nil)
	result, err := extractor.Extract(context.Background(), pdfDoc("%PDF-1.7"))

	require.NoError(t, err)
	assert.Equal(t, types.StrategyStrict, result.Strategy)
	assert.Contains(t, result.Text, "张三")
	assert.Contains(t, result.Text, "工作经历")
	assert.Empty(t, result.FallbackPages)
	assert.Equal(t, 2, result.PageCount)
	assert.False(t, fallback.called, "主策略成功时不应调用回退解析器")
}

// TestExtractRelaxedTolerance 首页完好时个别后续页失败不应整体降级
func TestExtractRelaxedTolerance(t *testing.T) {
	strict := &fakeStrictParser{
		result: &StrictParseResult{
			PageTexts:  []string{"李四 li@example.com", "", "项目经历"},
			PageErrors: []error{nil, errors.New("bad font descriptor"), nil},
			PageCount:  3,
		},
	}
	fallback := &fakeFallbackParser{text: "should not be used"}

	extractor := NewDocumentTextExtractor(strict, fallback, nil)
	result, err := extractor.Extract(context.Background(), pdfDoc("%PDF-1.4"))

	require.NoError(t, err)
	assert.Equal(t, types.StrategyRelaxed, result.Strategy)
	assert.Equal(t, []int{2}, result.FallbackPages)
	assert.Contains(t, result.Text, "李四")
	assert.False(t, fallback.called)
}

// TestExtractFirstPageFailureSwitchesWholeDocument 首页字体错误应整文档切换回退解析器
func TestExtractFirstPageFailureSwitchesWholeDocument(t *testing.T) {
	strict := &fakeStrictParser{
		result: &StrictParseResult{
			PageTexts:  []string{"", "第二页内容"},
			PageErrors: []error{errors.New("missing font bbox"), nil},
			PageCount:  2,
		},
	}
	fallback := &fakeFallbackParser{text: "王五 wang@example.com\n第二页内容"}

	extractor := NewDocumentTextExtractor(strict, fallback, nil)
	result, err := extractor.Extract(context.Background(), pdfDoc("%PDF-1.3"))

	require.NoError(t, err)
	assert.True(t, fallback.called)
	assert.Equal(t, types.StrategyFallback, result.Strategy)
	assert.Contains(t, result.Text, "王五", "首页保证：回退后必须包含首页内容")
	assert.Contains(t, result.FallbackPages, 1)
}

// TestExtractBothStrategiesFailOnFirstPage 两种策略都取不到首页时整体拒绝为Corrupted
func TestExtractBothStrategiesFailOnFirstPage(t *testing.T) {
	strict := &fakeStrictParser{
		result: &StrictParseResult{
			PageTexts:  []string{"", "第二页内容"},
			PageErrors: []error{errors.New("missing font bbox"), nil},
			PageCount:  2,
		},
	}
	fallback := &fakeFallbackParser{err: errors.New("cannot parse stream")}

	extractor := NewDocumentTextExtractor(strict, fallback, nil)
	_, err := extractor.Extract(context.Background(), pdfDoc("%PDF-9.9"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupted, "不能返回丢失首页的部分结果")
}

// TestExtractPasswordProtected 密码保护错误应原样向上传递，不走回退
func TestExtractPasswordProtected(t *testing.T) {
	strict := &fakeStrictParser{err: ErrPasswordProtected}
	fallback := &fakeFallbackParser{text: "should not be used"}

	extractor := NewDocumentTextExtractor(strict, fallback, nil)
	_, err := extractor.Extract(context.Background(), pdfDoc("%PDF-1.7"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPasswordProtected)
	assert.False(t, fallback.called)
}

// TestExtractUnsupportedExtension 非PDF扩展名在提取阶段拒绝
func TestExtractUnsupportedExtension(t *testing.T) {
	extractor := NewDocumentTextExtractor(&fakeStrictParser{}, &fakeFallbackParser{}, nil)
	doc := &types.RawDocument{Filename: "resume.docx", Content: []byte("PK")}

	_, err := extractor.Extract(context.Background(), doc)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

// TestExtractEmptyDocument 无文本内容时返回Empty而非Corrupted
func TestExtractEmptyDocument(t *testing.T) {
	strict := &fakeStrictParser{
		result: &StrictParseResult{
			PageTexts:  []string{""},
			PageErrors: []error{nil},
			PageCount:  1,
		},
	}
	fallback := &fakeFallbackParser{text: "   "}

	extractor := NewDocumentTextExtractor(strict, fallback, nil)
	_, err := extractor.Extract(context.Background(), pdfDoc("%PDF-1.7"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

// TestIsFontGeometryError 字体/几何类错误的分类
func TestIsFontGeometryError(t *testing.T) {
	assert.True(t, IsFontGeometryError(errors.New("missing font descriptor")))
	assert.True(t, IsFontGeometryError(errors.New("invalid bbox entry")))
	assert.True(t, IsFontGeometryError(errors.New("页面解析panic: index out of range")))
	assert.False(t, IsFontGeometryError(errors.New("unexpected EOF")))
	assert.False(t, IsFontGeometryError(nil))
}
