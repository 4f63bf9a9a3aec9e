package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"cv-core-go/internal/constants"
	"cv-core-go/internal/logger"
	"cv-core-go/internal/storage"
	"cv-core-go/internal/storage/models"
	"cv-core-go/internal/types"

	"github.com/gofrs/uuid/v5"
)

var (
	// ErrVersionNotFound 请求的档案版本不存在
	ErrVersionNotFound = storage.ErrVersionNotFound

	// ErrUpdateLocked 同一候选人的另一次更新正在进行
	ErrUpdateLocked = errors.New("该候选人的档案更新正在进行中")

	// ErrEmptyUpdate 更新载荷不含任何字段
	ErrEmptyUpdate = errors.New("更新载荷为空")
)

// ObjectStore 档案二进制存取，由MinIO适配器实现
type ObjectStore interface {
	UploadRawDocument(ctx context.Context, candidateID, versionKey, filename string, reader io.Reader, fileSize int64) (string, string, error)
	UploadParsedProfile(ctx context.Context, candidateID, versionKey, filename string, data []byte) (string, error)
	OverwriteParsedProfile(ctx context.Context, objectKey string, data []byte) error
	GetParsedProfile(ctx context.Context, objectKey string) ([]byte, error)
}

// VersionIndex 版本索引，由MySQL适配器实现
type VersionIndex interface {
	InsertProfileVersion(ctx context.Context, version *models.ProfileVersion) error
	GetLatestVersion(ctx context.Context, candidateID string) (*models.ProfileVersion, error)
	GetVersionByKey(ctx context.Context, candidateID, versionKey string) (*models.ProfileVersion, error)
	GetVersionAsOf(ctx context.Context, candidateID string, asOf time.Time) (*models.ProfileVersion, error)
	ListVersions(ctx context.Context, candidateID string) ([]models.ProfileVersion, error)
}

// VersionCache 最新版本缓存与更新锁，由Redis适配器实现
type VersionCache interface {
	CacheLatestVersionKey(ctx context.Context, candidateID, versionKey string) error
	GetCachedLatestVersionKey(ctx context.Context, candidateID string) (string, error)
	InvalidateLatestVersionKey(ctx context.Context, candidateID string) error
	AcquireUpdateLock(ctx context.Context, candidateID string) (string, error)
	ReleaseUpdateLock(ctx context.Context, candidateID, lockValue string) (bool, error)
}

// Store 版本化档案存储。
// 写入只追加：每次Put产生一个新版本，历史版本不可变；
// 编辑是对最新版本解析JSON的原地合并覆盖，由Redis锁串行化。
type Store struct {
	objects ObjectStore
	index   VersionIndex
	cache   VersionCache // 可为nil，此时不做缓存也不加锁
}

// NewStore 创建档案存储
func NewStore(objects ObjectStore, index VersionIndex, cache VersionCache) (*Store, error) {
	if objects == nil {
		return nil, fmt.Errorf("对象存储不能为空")
	}
	if index == nil {
		return nil, fmt.Errorf("版本索引不能为空")
	}
	return &Store{objects: objects, index: index, cache: cache}, nil
}

// Selector 版本选择器。零值表示最新版本。
type Selector struct {
	// VersionKey 非空时精确读取该版本
	VersionKey string

	// AsOf 非零时读取创建时间不晚于该时刻的最新版本
	AsOf time.Time
}

// Latest 判断是否为"最新版本"选择
func (s Selector) Latest() bool {
	return s.VersionKey == "" && s.AsOf.IsZero()
}

// NewVersionKey 生成新的版本键。
// 时间戳前缀保证字典序即时间序（秒粒度），UUID随机段后缀保证同秒内唯一。
func NewVersionKey(now time.Time) string {
	token := now.Format(constants.VersionTokenLayout)
	id, err := uuid.NewV7()
	if err != nil {
		return token
	}
	return token + "_" + id.String()[24:32]
}

// Put 追加一个新的档案版本，绝不修改既有版本。
// rawDoc可为nil（例如重新分析已有文档时）。
func (s *Store) Put(ctx context.Context, candidateID string, profile *types.CandidateProfile, rawDoc *types.RawDocument) (*types.ProfileVersion, error) {
	if candidateID == "" {
		return nil, fmt.Errorf("候选人ID不能为空")
	}
	if profile == nil {
		return nil, fmt.Errorf("档案不能为空")
	}

	now := time.Now()
	versionKey := NewVersionKey(now)

	var rawPath, rawMD5 string
	filename := "profile"
	if rawDoc != nil && len(rawDoc.Content) > 0 {
		filename = rawDoc.Filename
		var err error
		rawPath, rawMD5, err = s.objects.UploadRawDocument(ctx, candidateID, versionKey,
			rawDoc.Filename, bytes.NewReader(rawDoc.Content), int64(len(rawDoc.Content)))
		if err != nil {
			return nil, fmt.Errorf("上传原始文档失败: %w", err)
		}
	}

	payload, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("序列化档案失败: %w", err)
	}
	parsedPath, err := s.objects.UploadParsedProfile(ctx, candidateID, versionKey, filename, payload)
	if err != nil {
		return nil, fmt.Errorf("上传解析档案失败: %w", err)
	}

	record := &models.ProfileVersion{
		CandidateID: candidateID,
		VersionKey:  versionKey,
		RawPathOSS:  rawPath,
		ParsedPath:  parsedPath,
		RawFileMD5:  rawMD5,
		Source:      "UPLOAD",
		Strategy:    string(profile.Metadata.Strategy),
		CreatedAt:   now,
	}
	if err := s.index.InsertProfileVersion(ctx, record); err != nil {
		return nil, fmt.Errorf("写入版本索引失败: %w", err)
	}

	// 版本键单调递增，新版本即最新版本，直接刷新缓存
	if s.cache != nil {
		if err := s.cache.CacheLatestVersionKey(ctx, candidateID, versionKey); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("candidate_id", candidateID).Msg("刷新最新版本缓存失败")
		}
	}

	return versionFromModel(record), nil
}

// Get 按选择器读取档案：零值选择器为最新版本，
// 指定VersionKey为精确版本，指定AsOf为不晚于该时刻的最新版本。
func (s *Store) Get(ctx context.Context, candidateID string, sel Selector) (*types.CandidateProfile, *types.ProfileVersion, error) {
	row, err := s.resolveVersion(ctx, candidateID, sel)
	if err != nil {
		return nil, nil, err
	}

	profile, err := s.loadProfile(ctx, row.ParsedPath)
	if err != nil {
		return nil, nil, err
	}
	return profile, versionFromModel(row), nil
}

// ListVersions 按时间倒序返回候选人的全部版本
func (s *Store) ListVersions(ctx context.Context, candidateID string) ([]types.ProfileVersion, error) {
	rows, err := s.index.ListVersions(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	versions := make([]types.ProfileVersion, 0, len(rows))
	for i := range rows {
		versions = append(versions, *versionFromModel(&rows[i]))
	}
	return versions, nil
}

// Update 对指定版本（空键为最新版本）做读-合并-写的原地更新。
// 非nil字段逐字段覆盖，SelectedSkills整体替换显式技能；
// 整个过程持有候选人级Redis锁，并发更新直接失败而不是排队。
func (s *Store) Update(ctx context.Context, candidateID string, update *types.ProfileUpdate, versionKey string) (*types.CandidateProfile, *types.ProfileVersion, error) {
	if update == nil || update.IsEmpty() {
		return nil, nil, ErrEmptyUpdate
	}

	if s.cache != nil {
		lockValue, err := s.cache.AcquireUpdateLock(ctx, candidateID)
		if err != nil {
			return nil, nil, fmt.Errorf("获取更新锁失败: %w", err)
		}
		if lockValue == "" {
			return nil, nil, ErrUpdateLocked
		}
		defer func() {
			if _, err := s.cache.ReleaseUpdateLock(ctx, candidateID, lockValue); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("candidate_id", candidateID).Msg("释放更新锁失败")
			}
		}()
	}

	row, err := s.resolveVersion(ctx, candidateID, Selector{VersionKey: versionKey})
	if err != nil {
		return nil, nil, err
	}

	profile, err := s.loadProfile(ctx, row.ParsedPath)
	if err != nil {
		return nil, nil, err
	}

	applyUpdate(profile, update)

	payload, err := json.Marshal(profile)
	if err != nil {
		return nil, nil, fmt.Errorf("序列化档案失败: %w", err)
	}
	if err := s.objects.OverwriteParsedProfile(ctx, row.ParsedPath, payload); err != nil {
		return nil, nil, fmt.Errorf("覆盖解析档案失败: %w", err)
	}

	return profile, versionFromModel(row), nil
}

func (s *Store) resolveVersion(ctx context.Context, candidateID string, sel Selector) (*models.ProfileVersion, error) {
	if candidateID == "" {
		return nil, fmt.Errorf("候选人ID不能为空")
	}

	switch {
	case sel.VersionKey != "":
		return s.index.GetVersionByKey(ctx, candidateID, sel.VersionKey)
	case !sel.AsOf.IsZero():
		return s.index.GetVersionAsOf(ctx, candidateID, sel.AsOf)
	}

	// 最新版本优先走缓存；缓存指向的版本不存在时视为失效，回源后刷新
	if s.cache != nil {
		if cachedKey, err := s.cache.GetCachedLatestVersionKey(ctx, candidateID); err == nil && cachedKey != "" {
			row, err := s.index.GetVersionByKey(ctx, candidateID, cachedKey)
			if err == nil {
				return row, nil
			}
			if !errors.Is(err, ErrVersionNotFound) {
				return nil, err
			}
		}
	}

	row, err := s.index.GetLatestVersion(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.CacheLatestVersionKey(ctx, candidateID, row.VersionKey); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("candidate_id", candidateID).Msg("刷新最新版本缓存失败")
		}
	}
	return row, nil
}

func (s *Store) loadProfile(ctx context.Context, parsedPath string) (*types.CandidateProfile, error) {
	data, err := s.objects.GetParsedProfile(ctx, parsedPath)
	if err != nil {
		return nil, fmt.Errorf("读取解析档案失败: %w", err)
	}
	var profile types.CandidateProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("反序列化档案 %s 失败: %w", parsedPath, err)
	}
	return &profile, nil
}

// applyUpdate 逐字段合并：非nil字段覆盖原值（last-write-wins）。
// SelectedSkills整体替换显式技能，并从推断技能中剔除重合项以保持两集合互斥。
func applyUpdate(profile *types.CandidateProfile, update *types.ProfileUpdate) {
	if update.FullName != nil {
		profile.Identity.FullName = update.FullName
	}
	if update.Headline != nil {
		profile.Identity.Headline = update.Headline
	}
	if update.Introduction != nil {
		profile.Identity.Introduction = update.Introduction
	}
	if update.Email != nil {
		profile.Identity.Email = update.Email
	}
	if update.Phone != nil {
		profile.Identity.Phone = update.Phone
	}
	if update.Location != nil {
		profile.Identity.Location = update.Location
	}

	if update.SelectedSkills != nil {
		explicit := normalizeSkillList(update.SelectedSkills)
		explicitSet := make(map[string]struct{}, len(explicit))
		for _, s := range explicit {
			explicitSet[s] = struct{}{}
		}

		var related []string
		for _, s := range profile.SkillsAnalysis.JobRelatedSkills {
			if _, ok := explicitSet[strings.ToLower(strings.TrimSpace(s))]; ok {
				continue
			}
			related = append(related, s)
		}
		if related == nil {
			related = []string{}
		}

		profile.SkillsAnalysis.ExplicitSkills = explicit
		profile.SkillsAnalysis.JobRelatedSkills = related
	}
}

func normalizeSkillList(skills []string) []string {
	seen := make(map[string]struct{}, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		normalized := strings.ToLower(strings.TrimSpace(s))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.Strings(out)
	return out
}

func versionFromModel(row *models.ProfileVersion) *types.ProfileVersion {
	return &types.ProfileVersion{
		CandidateID: row.CandidateID,
		VersionKey:  row.VersionKey,
		RawPath:     row.RawPathOSS,
		ParsedPath:  row.ParsedPath,
		CreatedAt:   row.CreatedAt,
	}
}
