package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
)

// EinoPDFTextExtractor 使用 Eino PDF Parser 做整文档结构化提取（回退策略）。
// 与逐页严格解析不同，它对非规范的内部结构有更强的容忍度，
// 代价是无法给出逐页归属，因此只作整文档切换使用。
type EinoPDFTextExtractor struct {
	parser  *pdf.PDFParser
	timeout time.Duration
	logger  *log.Logger
}

// EinoPDFOption PDF提取器的配置选项
type EinoPDFOption func(*EinoPDFTextExtractor)

// WithEinoLogger 配置自定义日志记录器
func WithEinoLogger(logger *log.Logger) EinoPDFOption {
	return func(e *EinoPDFTextExtractor) {
		e.logger = logger
	}
}

// WithEinoTimeout 配置单文档解析超时
func WithEinoTimeout(timeout time.Duration) EinoPDFOption {
	return func(e *EinoPDFTextExtractor) {
		e.timeout = timeout
	}
}

// NewEinoPDFTextExtractor 初始化 Eino PDF 文本提取器
// 配置为不按页面分割，以获取整个文档的连续文本
func NewEinoPDFTextExtractor(ctx context.Context, options ...EinoPDFOption) (*EinoPDFTextExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{
		ToPages: false, // 整个PDF的文本作为单个字符串
	})
	if err != nil {
		return nil, fmt.Errorf("创建Eino PDF解析器失败: %w", err)
	}

	extractor := &EinoPDFTextExtractor{
		parser:  p,
		timeout: 30 * time.Second,
		logger:  log.New(os.Stderr, "[FallbackPDF] ", log.LstdFlags),
	}

	for _, option := range options {
		option(extractor)
	}

	return extractor, nil
}

// ExtractAll 从字节内容提取整文档文本，返回文本和解析器元数据
func (e *EinoPDFTextExtractor) ExtractAll(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error) {
	return e.extractFromReader(ctx, bytes.NewReader(data), uri)
}

func (e *EinoPDFTextExtractor) extractFromReader(ctx context.Context, reader io.Reader, uri string) (string, map[string]interface{}, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	docs, err := e.parser.Parse(ctx, reader, einoParser.WithURI(uri))
	duration := time.Since(startTime)
	if err != nil {
		e.logger.Printf("回退解析失败: %s (用时 %.2f秒)", err, duration.Seconds())
		return "", nil, fmt.Errorf("回退PDF解析器处理 %s 失败: %w", uri, err)
	}

	if len(docs) == 0 {
		return "", nil, fmt.Errorf("回退PDF解析器对 %s 未返回任何文档", uri)
	}

	// 合并所有文档的内容（以防万一返回了多个）
	var fullContent string
	for i, doc := range docs {
		fullContent += doc.Content
		if i < len(docs)-1 {
			fullContent += "\n\n"
		}
	}

	metadata := make(map[string]interface{})
	if docs[0].MetaData != nil {
		for k, v := range docs[0].MetaData {
			metadata[k] = v
		}
	}
	metadata["processing_duration_ms"] = duration.Milliseconds()
	metadata["text_length"] = len(fullContent)

	e.logger.Printf("回退解析完成: 提取了 %d 个字符 (用时 %.2f秒)", len(fullContent), duration.Seconds())
	return fullContent, metadata, nil
}
