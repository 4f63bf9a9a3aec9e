package parser

import "errors"

// 文档文本提取的类型化失败，拒绝均发生在提取阶段内
var (
	// ErrUnsupportedFormat 文档格式不在支持范围内
	ErrUnsupportedFormat = errors.New("不支持的文档格式")
	// ErrCorrupted 文档损坏，两种解析策略都无法取得首页文本
	ErrCorrupted = errors.New("文档损坏无法解析")
	// ErrPasswordProtected 文档被密码保护
	ErrPasswordProtected = errors.New("文档被密码保护")
	// ErrEmptyDocument 解析成功但不含任何文本（可能是纯图片扫描件）
	ErrEmptyDocument = errors.New("文档不包含可提取的文本")
)
