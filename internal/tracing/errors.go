package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType 定义错误类型，便于分类和过滤
type ErrorType string

const (
	// ErrorTypeHTTP HTTP错误
	ErrorTypeHTTP ErrorType = "http"
	// ErrorTypeDB 数据库错误
	ErrorTypeDB ErrorType = "db"
	// ErrorTypeRedis Redis错误
	ErrorTypeRedis ErrorType = "redis"
	// ErrorTypeRabbitMQ RabbitMQ错误
	ErrorTypeRabbitMQ ErrorType = "rabbitmq"
	// ErrorTypeObjectStorage 对象存储错误
	ErrorTypeObjectStorage ErrorType = "object_storage"
	// ErrorTypeExtraction 文档文本提取错误
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeLLM LLM调用错误
	ErrorTypeLLM ErrorType = "llm"
	// ErrorTypeScoring 匹配打分错误
	ErrorTypeScoring ErrorType = "scoring"
	// ErrorTypeValidation 验证错误
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeInternal 内部错误
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeTimeout 超时错误
	ErrorTypeTimeout ErrorType = "timeout"
)

// RecordError 记录错误，添加统一的错误类型和详情
func RecordError(span trace.Span, err error, errorType ErrorType) {
	if span == nil || err == nil {
		return
	}

	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", err.Error()),
	)
	span.SetStatus(codes.Error, err.Error())
}

// RecordErrorWithInfo 记录错误并添加额外信息
func RecordErrorWithInfo(span trace.Span, err error, errorType ErrorType, attributes ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}

	span.RecordError(err)
	attrs := append([]attribute.KeyValue{
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", err.Error()),
	}, attributes...)
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Error, err.Error())
}
