package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"cv-core-go/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

// ObjectStorage 对象存储接口。
// 布局约定：每个候选人一个命名空间，原始文档在raw区、解析档案在parsed区，
// 条目以上传时间戳token为键：
//
//	{candidate_id}/raw/{version_key}_{filename}
//	{candidate_id}/parsed/{version_key}_{filename}.json
type ObjectStorage interface {
	// UploadRawDocument 上传原始文档，流式计算MD5。返回对象键与MD5
	UploadRawDocument(ctx context.Context, candidateID, versionKey, filename string, reader io.Reader, fileSize int64) (string, string, error)

	// UploadParsedProfile 上传序列化后的档案JSON，返回对象键
	UploadParsedProfile(ctx context.Context, candidateID, versionKey, filename string, data []byte) (string, error)

	// GetRawDocument 按对象键下载原始文档
	GetRawDocument(ctx context.Context, objectKey string) ([]byte, error)

	// OverwriteParsedProfile 在已有对象键上原地覆盖档案JSON（编辑合并场景）
	OverwriteParsedProfile(ctx context.Context, objectKey string, data []byte) error

	// GetParsedProfile 按对象键下载档案JSON
	GetParsedProfile(ctx context.Context, objectKey string) ([]byte, error)

	// GetPresignedURL 为原始文档生成预签名下载URL
	GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)

	// DeleteRawDocument 删除原始文档
	DeleteRawDocument(ctx context.Context, objectKey string) error
}

// 确保MinIO实现了ObjectStorage接口
var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client       *minio.Client
	cfg          *config.MinIOConfig
	rawBucket    string
	parsedBucket string
	logger       *log.Logger
}

// NewMinIO 创建MinIO客户端并确保存储桶与生命周期规则就绪
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	rawBucket := cfg.RawDocumentsBucket
	if rawBucket == "" {
		rawBucket = "raw-documents"
	}
	parsedBucket := cfg.ParsedProfilesBucket
	if parsedBucket == "" {
		parsedBucket = "parsed-profiles"
	}

	m := &MinIO{
		client:       client,
		cfg:          cfg,
		rawBucket:    rawBucket,
		parsedBucket: parsedBucket,
		logger:       logger,
	}

	if err := m.ensureBucketExists(rawBucket, cfg.Location); err != nil {
		return nil, fmt.Errorf("确保原始文档存储桶 %s 存在失败: %w", rawBucket, err)
	}
	if err := m.ensureBucketExists(parsedBucket, cfg.Location); err != nil {
		return nil, fmt.Errorf("确保解析档案存储桶 %s 存在失败: %w", parsedBucket, err)
	}

	// 仅原始文档配置过期；解析档案是版本历史，不自动过期
	if cfg.RawDocumentExpireDays > 0 {
		if err := m.setupBucketLifecycle(context.Background(), rawBucket, "expire-raw-documents", cfg.RawDocumentExpireDays); err != nil {
			logger.Printf("[MinIO] 设置生命周期规则失败(忽略): %v", err)
		}
	}

	logger.Printf("[MinIO] 客户端初始化完成: endpoint=%s, rawBucket=%s, parsedBucket=%s", cfg.Endpoint, rawBucket, parsedBucket)
	return m, nil
}

// ensureBucketExists 确保存储桶存在
func (m *MinIO) ensureBucketExists(bucketName, location string) error {
	exists, err := m.client.BucketExists(context.Background(), bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if !exists {
		if err := m.client.MakeBucket(context.Background(), bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
			return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
		}
		m.logger.Printf("[MinIO] 存储桶 %s 已创建", bucketName)
	}
	return nil
}

// setupBucketLifecycle 为指定存储桶设置对象过期规则
func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName, ruleID string, expiryDays int) error {
	lc := lifecycle.NewConfiguration()
	lc.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, bucketName, lc)
}

// RawObjectKey 构建原始文档的对象键
func RawObjectKey(candidateID, versionKey, filename string) string {
	return fmt.Sprintf("%s/raw/%s_%s", candidateID, versionKey, sanitizeFilename(filename))
}

// ParsedObjectKey 构建解析档案的对象键
func ParsedObjectKey(candidateID, versionKey, filename string) string {
	base := strings.TrimSuffix(sanitizeFilename(filename), extOf(filename))
	return fmt.Sprintf("%s/parsed/%s_%s.json", candidateID, versionKey, base)
}

// UploadRawDocument 流式上传原始文档并同时计算MD5（用于重复上传去重）
func (m *MinIO) UploadRawDocument(ctx context.Context, candidateID, versionKey, filename string, reader io.Reader, fileSize int64) (string, string, error) {
	objectKey := RawObjectKey(candidateID, versionKey, filename)
	contentType := getContentType(extOf(filename))

	md5Hash := md5.New()
	teeReader := io.TeeReader(reader, md5Hash)

	info, err := m.client.PutObject(ctx, m.rawBucket, objectKey, teeReader, fileSize,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", "", fmt.Errorf("上传原始文档 %s/%s 失败: %w", m.rawBucket, objectKey, err)
	}

	md5Hex := hex.EncodeToString(md5Hash.Sum(nil))
	if m.cfg.EnableTestLogging {
		m.logger.Printf("[MinIO] 原始文档已上传: %s, ETag=%s, Size=%d, MD5=%s", objectKey, info.ETag, info.Size, md5Hex)
	}
	return objectKey, md5Hex, nil
}

// UploadParsedProfile 上传序列化后的档案JSON
func (m *MinIO) UploadParsedProfile(ctx context.Context, candidateID, versionKey, filename string, data []byte) (string, error) {
	objectKey := ParsedObjectKey(candidateID, versionKey, filename)
	_, err := m.client.PutObject(ctx, m.parsedBucket, objectKey, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("上传解析档案 %s/%s 失败: %w", m.parsedBucket, objectKey, err)
	}
	return objectKey, nil
}

// OverwriteParsedProfile 在已有对象键上原地覆盖档案JSON
func (m *MinIO) OverwriteParsedProfile(ctx context.Context, objectKey string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.parsedBucket, objectKey, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("覆盖解析档案 %s/%s 失败: %w", m.parsedBucket, objectKey, err)
	}
	return nil
}

// GetRawDocument 按对象键下载原始文档
func (m *MinIO) GetRawDocument(ctx context.Context, objectKey string) ([]byte, error) {
	return m.downloadObject(ctx, m.rawBucket, objectKey)
}

// GetParsedProfile 按对象键下载档案JSON
func (m *MinIO) GetParsedProfile(ctx context.Context, objectKey string) ([]byte, error) {
	return m.downloadObject(ctx, m.parsedBucket, objectKey)
}

func (m *MinIO) downloadObject(ctx context.Context, bucketName, objectKey string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", bucketName, objectKey, err)
	}
	defer obj.Close()

	// Stat区分对象不存在与读取失败
	if _, err := obj.Stat(); err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 状态失败: %w", bucketName, objectKey, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", bucketName, objectKey, err)
	}
	return data, nil
}

// GetPresignedURL 为原始文档生成预签名下载URL
func (m *MinIO) GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	presignedURL, err := m.client.PresignedGetObject(ctx, m.rawBucket, objectKey, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成MinIO预签名URL失败: %w", err)
	}
	return presignedURL.String(), nil
}

// DeleteRawDocument 删除原始文档
func (m *MinIO) DeleteRawDocument(ctx context.Context, objectKey string) error {
	if err := m.client.RemoveObject(ctx, m.rawBucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象 %s 失败: %w", objectKey, err)
	}
	return nil
}

// sanitizeFilename 去掉文件名中的路径分隔符，防止对象键逃出候选人命名空间
func sanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "..", "_")
	return filename
}

func extOf(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		return filename[idx:]
	}
	return ""
}

// 获取内容类型
func getContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
