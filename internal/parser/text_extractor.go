package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"cv-core-go/internal/types"
)

// strictParser 严格逐页解析策略
type strictParser interface {
	ParsePages(ctx context.Context, data []byte) (*StrictParseResult, error)
}

// fallbackParser 整文档回退解析策略
type fallbackParser interface {
	ExtractAll(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error)
}

// DocumentTextExtractor 文档文本提取器，实现两级解析阶梯：
// 严格逐页 → 宽松遍历（容忍非首页失败）→ 整文档回退解析器。
// 回退是整文档切换而非逐页混用：混用策略产生的版面差异
// 会破坏下游字段对齐，统一降级的文本反而更可靠。
type DocumentTextExtractor struct {
	strict   strictParser
	fallback fallbackParser
	logger   *log.Logger
}

// NewDocumentTextExtractor 创建文档文本提取器
func NewDocumentTextExtractor(strict strictParser, fallback fallbackParser, logger *log.Logger) *DocumentTextExtractor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &DocumentTextExtractor{
		strict:   strict,
		fallback: fallback,
		logger:   logger,
	}
}

// Extract 从RawDocument提取纯文本。
// 首页承载身份信息，保证永不静默丢弃：两种策略都拿不到首页文本时，
// 整个文档按ErrCorrupted拒绝，而不是返回会误导身份提取的部分结果。
func (d *DocumentTextExtractor) Extract(ctx context.Context, doc *types.RawDocument) (*types.ExtractedText, error) {
	ext := strings.ToLower(filepath.Ext(doc.Filename))
	if ext != ".pdf" {
		// DOC/DOCX在入口被接受，但当前未配置转换器，在提取阶段拒绝
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if len(doc.Content) == 0 {
		return nil, ErrEmptyDocument
	}

	// 第一级：严格逐页解析
	result, err := d.strict.ParsePages(ctx, doc.Content)
	if err != nil {
		if errors.Is(err, ErrPasswordProtected) || isPasswordError(err) {
			return nil, err
		}
		// 打开即失败：字体/几何类错误直接走整文档回退
		d.logger.Printf("[TextExtractor] 严格解析打开失败: %v, 切换回退解析器", err)
		return d.extractWithFallback(ctx, doc, nil, 0)
	}

	if result.FirstPageOK() {
		failed := result.FailedPages()
		text := joinPages(result.PageTexts)
		if strings.TrimSpace(text) == "" {
			return nil, ErrEmptyDocument
		}
		if len(failed) == 0 {
			return &types.ExtractedText{
				Text:      text,
				Strategy:  types.StrategyStrict,
				PageCount: result.PageCount,
			}, nil
		}
		// 第二级：首页完好，个别后续页失败时继续使用已有文本（宽松模式）
		d.logger.Printf("[TextExtractor] 宽松模式: %d/%d 页失败", len(failed), result.PageCount)
		return &types.ExtractedText{
			Text:          text,
			Strategy:      types.StrategyRelaxed,
			FallbackPages: failed,
			PageCount:     result.PageCount,
		}, nil
	}

	// 首页失败是整文档结构非规范的信号，第三级：整文档切换到回退解析器
	if firstErr := result.PageErrors[0]; firstErr != nil {
		d.logger.Printf("[TextExtractor] 首页解析失败: %v (字体/几何类: %v), 整文档切换回退解析器",
			firstErr, IsFontGeometryError(firstErr))
	} else {
		d.logger.Printf("[TextExtractor] 首页文本为空, 整文档切换回退解析器")
	}
	return d.extractWithFallback(ctx, doc, result, result.PageCount)
}

// extractWithFallback 整文档回退解析。strictResult可为nil（打开即失败的场合）。
func (d *DocumentTextExtractor) extractWithFallback(ctx context.Context, doc *types.RawDocument, strictResult *StrictParseResult, pageCount int) (*types.ExtractedText, error) {
	text, _, err := d.fallback.ExtractAll(ctx, doc.Content, doc.Filename)
	if err != nil {
		// 两种策略都失败，首页无法保证，整体拒绝
		return nil, fmt.Errorf("%w: 主策略与回退策略均失败: %v", ErrCorrupted, err)
	}
	if strings.TrimSpace(text) == "" {
		if strictResult != nil && strings.TrimSpace(joinPages(strictResult.PageTexts)) != "" {
			// 回退无文本但严格解析有非首页文本：首页仍缺失，按损坏处理
			return nil, fmt.Errorf("%w: 首页文本在两种策略下均缺失", ErrCorrupted)
		}
		return nil, ErrEmptyDocument
	}

	fallbackPages := make([]int, 0, pageCount)
	if strictResult != nil {
		fallbackPages = strictResult.FailedPages()
	}
	if len(fallbackPages) == 0 {
		// 打开即失败时无逐页信息，至少记录首页触发了回退
		fallbackPages = []int{1}
	}

	return &types.ExtractedText{
		Text:          text,
		Strategy:      types.StrategyFallback,
		FallbackPages: fallbackPages,
		PageCount:     pageCount,
	}, nil
}

// joinPages 连接各页文本，保留页间分隔
func joinPages(pages []string) string {
	var nonEmpty []string
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n")
}
