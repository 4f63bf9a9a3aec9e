package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/ledongthuc/pdf"
)

// StrictParseResult 严格逐页解析的结果
type StrictParseResult struct {
	// 逐页文本，索引0对应第1页；失败的页为空字符串
	PageTexts []string
	// 逐页解析错误，成功的页为nil
	PageErrors []error
	// 总页数
	PageCount int
}

// FirstPageOK 第1页是否取得了非空文本
func (r *StrictParseResult) FirstPageOK() bool {
	return r.PageCount > 0 && r.PageErrors[0] == nil && strings.TrimSpace(r.PageTexts[0]) != ""
}

// FailedPages 返回解析失败或为空的页码（从1开始）
func (r *StrictParseResult) FailedPages() []int {
	var failed []int
	for i := 0; i < r.PageCount; i++ {
		if r.PageErrors[i] != nil || strings.TrimSpace(r.PageTexts[i]) == "" {
			failed = append(failed, i+1)
		}
	}
	return failed
}

// StrictPDFExtractor 基于结构化PDF解析的严格逐页提取器（主策略）
type StrictPDFExtractor struct {
	logger *log.Logger
}

// NewStrictPDFExtractor 创建严格解析提取器
func NewStrictPDFExtractor(logger *log.Logger) *StrictPDFExtractor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &StrictPDFExtractor{logger: logger}
}

// ParsePages 逐页解析PDF字节内容。
// 打开失败时按错误类别返回ErrPasswordProtected或原始错误；
// 单页失败不会中断遍历，结果中逐页记录。
func (e *StrictPDFExtractor) ParsePages(ctx context.Context, data []byte) (*StrictParseResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if isPasswordError(err) {
			return nil, fmt.Errorf("%w: %s", ErrPasswordProtected, err.Error())
		}
		return nil, fmt.Errorf("打开PDF失败: %w", err)
	}

	pageCount := reader.NumPage()
	if pageCount == 0 {
		return nil, ErrEmptyDocument
	}

	result := &StrictParseResult{
		PageTexts:  make([]string, pageCount),
		PageErrors: make([]error, pageCount),
		PageCount:  pageCount,
	}

	for i := 1; i <= pageCount; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		text, pageErr := e.extractPage(reader, i)
		result.PageTexts[i-1] = text
		result.PageErrors[i-1] = pageErr
		if pageErr != nil {
			e.logger.Printf("[StrictPDF] 第%d页解析失败: %v", i, pageErr)
		}
	}

	return result, nil
}

// extractPage 提取单页文本。底层库在畸形字体表上可能panic，这里统一转为error。
func (e *StrictPDFExtractor) extractPage(reader *pdf.Reader, pageNum int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("页面解析panic: %v", r)
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return "", fmt.Errorf("第%d页内容为空引用", pageNum)
	}

	return page.GetPlainText(nil)
}

// isPasswordError 判断是否为密码/加密相关错误
func isPasswordError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypted")
}

// IsFontGeometryError 判断是否为字体/几何元数据类结构错误。
// 此类错误是整文档采用非规范内部结构的信号，应整体切换回退解析器。
func IsFontGeometryError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"font", "bbox", "cmap", "charmap", "glyph", "panic", "malformed"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
