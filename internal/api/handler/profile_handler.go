package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cv-core-go/internal/logger"
	"cv-core-go/internal/parser"
	"cv-core-go/internal/processor"
	"cv-core-go/internal/profile"
	"cv-core-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// UploadProcessor 上传流水线入口
type UploadProcessor interface {
	ProcessUpload(ctx context.Context, req *processor.UploadRequest) (*processor.UploadResult, error)
}

// ProfileReader 档案读取与编辑
type ProfileReader interface {
	Get(ctx context.Context, candidateID string, sel profile.Selector) (*types.CandidateProfile, *types.ProfileVersion, error)
	Update(ctx context.Context, candidateID string, update *types.ProfileUpdate, versionKey string) (*types.CandidateProfile, *types.ProfileVersion, error)
	ListVersions(ctx context.Context, candidateID string) ([]types.ProfileVersion, error)
}

// ScoreService 匹配分数查询与触发
type ScoreService interface {
	GetScore(ctx context.Context, candidateID, versionKey, jobID string) (*types.MatchScore, error)
	TriggerScore(ctx context.Context, candidateID, versionKey, jobID string) error
}

// ProfileHandler 档案相关HTTP处理器
type ProfileHandler struct {
	uploads UploadProcessor
	store   ProfileReader
	scores  ScoreService
}

// NewProfileHandler 创建档案处理器
func NewProfileHandler(uploads UploadProcessor, store ProfileReader, scores ScoreService) *ProfileHandler {
	return &ProfileHandler{uploads: uploads, store: store, scores: scores}
}

// HandleExtract POST /api/v1/profile/extract
// multipart表单：file必填，target_job_id可选。
// 同步返回合并档案与版本信息，章节失败原因在profile.metadata中。
func (h *ProfileHandler) HandleExtract(c context.Context, ctx *app.RequestContext) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "读取文件失败"})
		return
	}

	result, err := h.uploads.ProcessUpload(c, &processor.UploadRequest{
		Filename:    fileHeader.Filename,
		Content:     content,
		TargetJobID: ctx.PostForm("target_job_id"),
	})
	if err != nil {
		h.writeUploadError(c, ctx, err)
		return
	}

	ctx.JSON(consts.StatusOK, result)
}

func (h *ProfileHandler) writeUploadError(c context.Context, ctx *app.RequestContext, err error) {
	switch {
	case errors.Is(err, processor.ErrUnsupportedFileType):
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
	case errors.Is(err, processor.ErrFileTooLarge):
		ctx.JSON(consts.StatusRequestEntityTooLarge, utils.H{"error": err.Error()})
	case errors.Is(err, processor.ErrDuplicateDocument):
		ctx.JSON(consts.StatusConflict, utils.H{"error": err.Error()})
	case errors.Is(err, parser.ErrPasswordProtected),
		errors.Is(err, parser.ErrCorrupted),
		errors.Is(err, parser.ErrEmptyDocument),
		errors.Is(err, processor.ErrExtractTextFailed):
		ctx.JSON(consts.StatusUnprocessableEntity, utils.H{"error": err.Error()})
	default:
		logger.Ctx(c).Error().Err(err).Msg("上传处理失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
	}
}

// UpdateRequest PATCH /api/v1/profile/update 请求体
type UpdateRequest struct {
	CandidateID string `json:"candidate_id"`
	VersionKey  string `json:"version_key,omitempty"` // 留空更新最新版本
	types.ProfileUpdate
}

// UpdateResponse 更新响应
type UpdateResponse struct {
	CandidateID string                  `json:"candidate_id"`
	VersionKey  string                  `json:"version_key"`
	Profile     *types.CandidateProfile `json:"profile"`
}

// HandleUpdate PATCH /api/v1/profile/update
func (h *ProfileHandler) HandleUpdate(c context.Context, ctx *app.RequestContext) {
	var req UpdateRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体解析失败"})
		return
	}
	if req.CandidateID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "candidate_id不能为空"})
		return
	}

	merged, version, err := h.store.Update(c, req.CandidateID, &req.ProfileUpdate, req.VersionKey)
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrEmptyUpdate):
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		case errors.Is(err, profile.ErrVersionNotFound):
			ctx.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
		case errors.Is(err, profile.ErrUpdateLocked):
			ctx.JSON(consts.StatusConflict, utils.H{"error": err.Error()})
		default:
			logger.Ctx(c).Error().Err(err).Str("candidate_id", req.CandidateID).Msg("档案更新失败")
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		}
		return
	}

	ctx.JSON(consts.StatusOK, &UpdateResponse{
		CandidateID: req.CandidateID,
		VersionKey:  version.VersionKey,
		Profile:     merged,
	})
}

// ProfileResponse 档案查询响应
type ProfileResponse struct {
	CandidateID string                  `json:"candidate_id"`
	VersionKey  string                  `json:"version_key"`
	CreatedAt   time.Time               `json:"created_at"`
	Profile     *types.CandidateProfile `json:"profile"`
}

// HandleGetProfile GET /api/v1/profile/:candidate_id
// 查询参数：version精确版本键，as_of为RFC3339时刻（取不晚于该时刻的最新版本），
// 两者都缺省为最新版本。
func (h *ProfileHandler) HandleGetProfile(c context.Context, ctx *app.RequestContext) {
	candidateID := ctx.Param("candidate_id")
	if candidateID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "candidate_id不能为空"})
		return
	}

	sel := profile.Selector{VersionKey: ctx.Query("version")}
	if asOfRaw := ctx.Query("as_of"); asOfRaw != "" {
		asOf, err := time.Parse(time.RFC3339, asOfRaw)
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": fmt.Sprintf("as_of时间格式非法: %s", asOfRaw)})
			return
		}
		sel.AsOf = asOf
	}

	candidateProfile, version, err := h.store.Get(c, candidateID, sel)
	if err != nil {
		if errors.Is(err, profile.ErrVersionNotFound) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		logger.Ctx(c).Error().Err(err).Str("candidate_id", candidateID).Msg("档案查询失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}

	ctx.JSON(consts.StatusOK, &ProfileResponse{
		CandidateID: candidateID,
		VersionKey:  version.VersionKey,
		CreatedAt:   version.CreatedAt,
		Profile:     candidateProfile,
	})
}

// HandleListVersions GET /api/v1/profile/:candidate_id/versions
func (h *ProfileHandler) HandleListVersions(c context.Context, ctx *app.RequestContext) {
	candidateID := ctx.Param("candidate_id")
	if candidateID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "candidate_id不能为空"})
		return
	}

	versions, err := h.store.ListVersions(c, candidateID)
	if err != nil {
		logger.Ctx(c).Error().Err(err).Str("candidate_id", candidateID).Msg("版本列表查询失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"candidate_id": candidateID, "versions": versions})
}

// HandleGetScore GET /api/v1/match/score?candidate_id=&job_id=&version_key=
// version_key缺省为最新版本。行缺席返回PENDING而非404——"还没算"是合法状态。
func (h *ProfileHandler) HandleGetScore(c context.Context, ctx *app.RequestContext) {
	candidateID := ctx.Query("candidate_id")
	jobID := ctx.Query("job_id")
	if candidateID == "" || jobID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "candidate_id和job_id不能为空"})
		return
	}

	versionKey, ok := h.resolveVersionKey(c, ctx, candidateID)
	if !ok {
		return
	}

	score, err := h.scores.GetScore(c, candidateID, versionKey, jobID)
	if err != nil {
		logger.Ctx(c).Error().Err(err).Str("candidate_id", candidateID).Str("job_id", jobID).Msg("分数查询失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusOK, score)
}

// TriggerRequest POST /api/v1/match/trigger 请求体
type TriggerRequest struct {
	CandidateID string `json:"candidate_id"`
	VersionKey  string `json:"version_key,omitempty"`
	JobID       string `json:"job_id"`
}

// HandleTriggerScore POST /api/v1/match/trigger
func (h *ProfileHandler) HandleTriggerScore(c context.Context, ctx *app.RequestContext) {
	var req TriggerRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体解析失败"})
		return
	}
	if req.CandidateID == "" || req.JobID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "candidate_id和job_id不能为空"})
		return
	}

	versionKey := req.VersionKey
	if versionKey == "" {
		var ok bool
		versionKey, ok = h.resolveVersionKey(c, ctx, req.CandidateID)
		if !ok {
			return
		}
	}

	if err := h.scores.TriggerScore(c, req.CandidateID, versionKey, req.JobID); err != nil {
		logger.Ctx(c).Error().Err(err).Str("candidate_id", req.CandidateID).Str("job_id", req.JobID).Msg("触发匹配计算失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}

	ctx.JSON(consts.StatusAccepted, utils.H{
		"candidate_id": req.CandidateID,
		"version_key":  versionKey,
		"job_id":       req.JobID,
		"status":       string(types.ScorePending),
	})
}

// resolveVersionKey 将"缺省版本"解析为该候选人的最新版本键。
// 解析失败时已写入响应，返回ok=false。
func (h *ProfileHandler) resolveVersionKey(c context.Context, ctx *app.RequestContext, candidateID string) (string, bool) {
	if versionKey := ctx.Query("version_key"); versionKey != "" {
		return versionKey, true
	}
	_, version, err := h.store.Get(c, candidateID, profile.Selector{})
	if err != nil {
		if errors.Is(err, profile.ErrVersionNotFound) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "候选人没有任何档案版本"})
			return "", false
		}
		logger.Ctx(c).Error().Err(err).Str("candidate_id", candidateID).Msg("解析最新版本失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return "", false
	}
	return version.VersionKey, true
}
