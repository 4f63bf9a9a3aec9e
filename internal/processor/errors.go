package processor

import (
	"errors"
	"fmt"

	"cv-core-go/internal/tracing"
)

// 基础错误类型
var (
	ErrUnsupportedFileType = errors.New("不支持的文件类型")
	ErrFileTooLarge        = errors.New("文件超过大小限制")
	ErrDuplicateDocument   = errors.New("重复上传的文档")
	ErrExtractTextFailed   = errors.New("提取文档文本失败")
	ErrStoreProfileFailed  = errors.New("写入档案存储失败")
	ErrPublishFailed       = errors.New("发布匹配事件失败")
	ErrJobNotFound         = errors.New("岗位不存在")
	ErrVersionNotFound     = errors.New("档案版本不存在")
	ErrDatabaseFailed      = errors.New("数据库操作失败")
)

// ProcessError 包含阶段与候选人上下文的处理错误
type ProcessError struct {
	CandidateID string
	Op          string
	BaseErr     error
	Detail      string
}

func (e *ProcessError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, 候选人:%s): %s", e.BaseErr, e.Op, e.CandidateID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, 候选人:%s)", e.BaseErr, e.Op, e.CandidateID)
}

func (e *ProcessError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *ProcessError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数

func NewValidationError(base error, detail string) error {
	return &ProcessError{Op: "validate", BaseErr: base, Detail: detail}
}

func NewExtractError(candidateID, detail string) error {
	return &ProcessError{
		CandidateID: candidateID,
		Op:          "extract",
		BaseErr:     ErrExtractTextFailed,
		Detail:      detail,
	}
}

func NewStoreError(candidateID, detail string) error {
	return &ProcessError{
		CandidateID: candidateID,
		Op:          "store",
		BaseErr:     ErrStoreProfileFailed,
		Detail:      detail,
	}
}

func NewPublishError(candidateID, detail string) error {
	return &ProcessError{
		CandidateID: candidateID,
		Op:          "publish",
		BaseErr:     ErrPublishFailed,
		Detail:      detail,
	}
}

func NewDatabaseError(candidateID, detail string) error {
	return &ProcessError{
		CandidateID: candidateID,
		Op:          "database",
		BaseErr:     ErrDatabaseFailed,
		Detail:      detail,
	}
}

// classifyProcessError 将处理错误归入链路追踪的错误类型
func classifyProcessError(err error) tracing.ErrorType {
	switch {
	case errors.Is(err, ErrUnsupportedFileType), errors.Is(err, ErrFileTooLarge), errors.Is(err, ErrDuplicateDocument):
		return tracing.ErrorTypeValidation
	case errors.Is(err, ErrExtractTextFailed):
		return tracing.ErrorTypeExtraction
	case errors.Is(err, ErrStoreProfileFailed):
		return tracing.ErrorTypeObjectStorage
	case errors.Is(err, ErrPublishFailed):
		return tracing.ErrorTypeRabbitMQ
	case errors.Is(err, ErrDatabaseFailed), errors.Is(err, ErrJobNotFound), errors.Is(err, ErrVersionNotFound):
		return tracing.ErrorTypeDB
	default:
		return tracing.ErrorTypeInternal
	}
}
