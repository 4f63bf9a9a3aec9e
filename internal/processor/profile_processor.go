package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"cv-core-go/internal/constants"
	"cv-core-go/internal/logger"
	"cv-core-go/internal/storage"
	"cv-core-go/internal/tracing"
	"cv-core-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("cv-core-go/processor")

// UploadRequest 一次档案上传
type UploadRequest struct {
	Filename    string
	Content     []byte
	TargetJobID string // 可选，指定后上传完成即触发该岗位的匹配计算
}

// UploadResult 上传处理的同步响应
type UploadResult struct {
	CandidateID string                  `json:"candidate_id"`
	VersionKey  string                  `json:"version_key"`
	RawPath     string                  `json:"raw_path"`
	ParsedPath  string                  `json:"parsed_path"`
	Profile     *types.CandidateProfile `json:"profile"`
}

// ProfileProcessor 上传到档案的完整流水线：
// 校验 → 去重 → 文本提取 → 分节LLM提取 → 技能分析 → 合并落库 → 触发匹配。
type ProfileProcessor struct {
	textExtractor    TextExtractor
	sectionExtractor SectionExtractor
	skillAnalyzer    SkillAnalyzer
	store            ProfileStore
	candidates       CandidateRepo
	deduper          Deduper        // 可为nil，去重降级为关闭
	publisher        EventPublisher // 可为nil，匹配触发降级为关闭
	scores           ScoreRepo      // 可为nil

	allowedExtensions map[string]bool
	maxFileSizeBytes  int64
}

// ProfileProcessorOption 配置项
type ProfileProcessorOption func(*ProfileProcessor)

// WithAllowedExtensions 覆盖允许的文件扩展名（形如".pdf"，大小写不敏感）
func WithAllowedExtensions(exts []string) ProfileProcessorOption {
	return func(p *ProfileProcessor) {
		if len(exts) == 0 {
			return
		}
		p.allowedExtensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			p.allowedExtensions[strings.ToLower(ext)] = true
		}
	}
}

// WithMaxFileSize 覆盖文件大小上限
func WithMaxFileSize(maxBytes int64) ProfileProcessorOption {
	return func(p *ProfileProcessor) {
		if maxBytes > 0 {
			p.maxFileSizeBytes = maxBytes
		}
	}
}

// WithDeduper 启用上传去重
func WithDeduper(deduper Deduper) ProfileProcessorOption {
	return func(p *ProfileProcessor) { p.deduper = deduper }
}

// WithMatchTrigger 启用上传后的匹配计算触发
func WithMatchTrigger(publisher EventPublisher, scores ScoreRepo) ProfileProcessorOption {
	return func(p *ProfileProcessor) {
		p.publisher = publisher
		p.scores = scores
	}
}

// NewProfileProcessor 创建档案处理器
func NewProfileProcessor(
	textExtractor TextExtractor,
	sectionExtractor SectionExtractor,
	skillAnalyzer SkillAnalyzer,
	store ProfileStore,
	candidates CandidateRepo,
	opts ...ProfileProcessorOption,
) (*ProfileProcessor, error) {
	if textExtractor == nil {
		return nil, fmt.Errorf("文本提取器不能为空")
	}
	if sectionExtractor == nil {
		return nil, fmt.Errorf("分节提取器不能为空")
	}
	if skillAnalyzer == nil {
		return nil, fmt.Errorf("技能分析器不能为空")
	}
	if store == nil {
		return nil, fmt.Errorf("档案存储不能为空")
	}
	if candidates == nil {
		return nil, fmt.Errorf("候选人数据访问不能为空")
	}

	p := &ProfileProcessor{
		textExtractor:     textExtractor,
		sectionExtractor:  sectionExtractor,
		skillAnalyzer:     skillAnalyzer,
		store:             store,
		candidates:        candidates,
		allowedExtensions: map[string]bool{".pdf": true, ".doc": true, ".docx": true},
		maxFileSizeBytes:  constants.DefaultMaxFileSizeBytes,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ProcessUpload 处理一次文档上传，同步返回合并后的档案与版本信息。
// 分节提取的局部失败不阻断流程，失败原因随档案元数据返回。
func (p *ProfileProcessor) ProcessUpload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	ctx, span := tracer.Start(ctx, "ProfileProcessor.ProcessUpload",
		trace.WithAttributes(
			attribute.String("filename", tracing.TruncateAttr(req.Filename, tracing.DefaultMaxLength)),
			attribute.Int("file_size", len(req.Content)),
		),
	)
	defer span.End()

	if err := p.validate(req); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	// 去重基于原始字节MD5：同一文件的重复上传直接拒绝
	md5Hex := ""
	if p.deduper != nil {
		sum := md5.Sum(req.Content)
		md5Hex = hex.EncodeToString(sum[:])
		duplicate, err := p.deduper.CheckAndAddRawFileMD5(ctx, md5Hex)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("检查文件MD5失败，跳过去重继续处理")
			md5Hex = ""
		} else if duplicate {
			return nil, NewValidationError(ErrDuplicateDocument, fmt.Sprintf("MD5 %s 已存在", md5Hex))
		}
	}

	result, err := p.processDocument(ctx, req, md5Hex)
	if err != nil {
		// 处理失败回滚去重登记，同一文件可以重新提交
		if md5Hex != "" {
			if rmErr := p.deduper.RemoveRawFileMD5(ctx, md5Hex); rmErr != nil {
				logger.Ctx(ctx).Warn().Err(rmErr).Str("md5", md5Hex).Msg("回滚文件MD5登记失败")
			}
		}
		tracing.RecordError(span, err, classifyProcessError(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("candidate_id", result.CandidateID),
		attribute.String("version_key", result.VersionKey),
	)
	return result, nil
}

func (p *ProfileProcessor) validate(req *UploadRequest) error {
	if req == nil || len(req.Content) == 0 {
		return NewValidationError(ErrUnsupportedFileType, "空文件")
	}
	ext := strings.ToLower(filepath.Ext(req.Filename))
	if !p.allowedExtensions[ext] {
		return NewValidationError(ErrUnsupportedFileType, ext)
	}
	if int64(len(req.Content)) > p.maxFileSizeBytes {
		return NewValidationError(ErrFileTooLarge,
			fmt.Sprintf("%d字节超过上限%d字节", len(req.Content), p.maxFileSizeBytes))
	}
	return nil
}

func (p *ProfileProcessor) processDocument(ctx context.Context, req *UploadRequest, md5Hex string) (*UploadResult, error) {
	rawDoc := &types.RawDocument{
		Filename:   req.Filename,
		MediaType:  "application/pdf",
		Content:    req.Content,
		UploadedAt: time.Now(),
	}

	// 1. 文本提取
	extracted, err := p.textExtractor.Extract(ctx, rawDoc)
	if err != nil {
		return nil, NewExtractError("", err.Error())
	}
	logger.Ctx(ctx).Debug().
		Str("strategy", string(extracted.Strategy)).
		Ints("fallback_pages", extracted.FallbackPages).
		Int("text_len", len(extracted.Text)).
		Msg("文档文本提取完成")

	// 2. 并发分节LLM提取，局部失败保留在SectionFailures中
	sections := p.sectionExtractor.ExtractAll(ctx, extracted.Text)

	// 3. 技能分析
	skills := p.skillAnalyzer.Analyze(sections.Experience, extracted.Text)

	// 4. 合并为档案
	now := time.Now()
	merged := &types.CandidateProfile{
		Metadata: types.ExtractionMeta{
			ExtractionDate:     now.Format("2006-01-02"),
			ExtractionTime:     now.Format("15:04:05"),
			ExtractionDatetime: now.Format(time.RFC3339),
			Strategy:           extracted.Strategy,
			FallbackPages:      extracted.FallbackPages,
			SectionFailures:    sections.SectionFailures,
		},
		Identity:       sections.Identity,
		Experience:     sections.Experience,
		Education:      sections.Education,
		Projects:       sections.Projects,
		Certifications: sections.Certifications,
		SkillsAnalysis: skills,
	}

	// 5. 候选人身份落库
	candidate, err := p.candidates.FindOrCreateCandidate(ctx, &merged.Identity)
	if err != nil {
		return nil, NewDatabaseError("", err.Error())
	}

	// 6. 追加档案版本
	version, err := p.store.Put(ctx, candidate.CandidateID, merged, rawDoc)
	if err != nil {
		return nil, NewStoreError(candidate.CandidateID, err.Error())
	}

	// 7. 触发目标岗位的匹配计算。触发失败只告警，不影响上传结果
	if req.TargetJobID != "" && p.publisher != nil {
		p.triggerMatch(ctx, candidate.CandidateID, version.VersionKey, req.TargetJobID, md5Hex)
	}

	return &UploadResult{
		CandidateID: candidate.CandidateID,
		VersionKey:  version.VersionKey,
		RawPath:     version.RawPath,
		ParsedPath:  version.ParsedPath,
		Profile:     merged,
	}, nil
}

func (p *ProfileProcessor) triggerMatch(ctx context.Context, candidateID, versionKey, jobID, md5Hex string) {
	if p.scores != nil {
		if err := p.scores.MarkScorePending(ctx, candidateID, versionKey, jobID); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("candidate_id", candidateID).Str("job_id", jobID).
				Msg("登记PENDING分数行失败")
		}
	}
	msg := &storage.MatchNeededMessage{
		CandidateID: candidateID,
		VersionKey:  versionKey,
		JobID:       jobID,
		RawFileMD5:  md5Hex,
	}
	if err := p.publisher.PublishMatchNeeded(ctx, msg); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("candidate_id", candidateID).Str("job_id", jobID).
			Msg("发布匹配事件失败")
	}
}
