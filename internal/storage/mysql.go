package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"cv-core-go/internal/config"
	"cv-core-go/internal/storage/models"
	"cv-core-go/internal/types"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("cv-core-go/storage/mysql")

// ErrVersionNotFound 请求的档案版本不存在
var ErrVersionNotFound = errors.New("档案版本不存在")

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("otel:after_row", p.after()); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}
	return nil
}

type gormSpanKey struct{}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		}
		if sqlStatement := db.Statement.SQL.String(); sqlStatement != "" {
			opts = append(opts, trace.WithAttributes(attribute.String("db.statement", sqlStatement)))
		}

		newCtx, span := p.tracer.Start(ctx, spanName, opts...)
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// 未找到记录是业务正常分支，不算追踪错误
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.SetAttributes(attribute.String("error.type", "database_error"))
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// MySQL 提供关系数据库功能：档案版本索引与匹配分数
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case "silent":
		logLevel = logger.Silent
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	default:
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	m := &MySQL{db: db, cfg: cfg}

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (m *MySQL) autoMigrateSchema() error {
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)
	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	return silentDB.AutoMigrate(
		&models.Candidate{},
		&models.Job{},
		&models.ProfileVersion{},
		&models.MatchScore{},
	)
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// InsertProfileVersion 追加写入一条版本索引记录。版本行不可变，
// 同一(candidate_id, version_key)重复写入视为幂等。
func (m *MySQL) InsertProfileVersion(ctx context.Context, version *models.ProfileVersion) error {
	return m.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "candidate_id"}, {Name: "version_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"version_key"}),
		}).Create(version).Error
}

// GetLatestVersion 返回候选人最新的版本记录。
// version_key是时间戳token，字典序即时间序。
func (m *MySQL) GetLatestVersion(ctx context.Context, candidateID string) (*models.ProfileVersion, error) {
	var v models.ProfileVersion
	err := m.db.WithContext(ctx).
		Where("candidate_id = ?", candidateID).
		Order("version_key DESC").
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询最新版本失败: %w", err)
	}
	return &v, nil
}

// GetVersionByKey 返回指定版本记录
func (m *MySQL) GetVersionByKey(ctx context.Context, candidateID, versionKey string) (*models.ProfileVersion, error) {
	var v models.ProfileVersion
	err := m.db.WithContext(ctx).
		Where("candidate_id = ? AND version_key = ?", candidateID, versionKey).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询版本 %s 失败: %w", versionKey, err)
	}
	return &v, nil
}

// GetVersionAsOf 返回创建时间不晚于asOf的最大版本。
// 岗位申请协作方用它钉住候选人申请时刻的档案快照。
func (m *MySQL) GetVersionAsOf(ctx context.Context, candidateID string, asOf time.Time) (*models.ProfileVersion, error) {
	var v models.ProfileVersion
	err := m.db.WithContext(ctx).
		Where("candidate_id = ? AND created_at <= ?", candidateID, asOf).
		Order("version_key DESC").
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("按时间点查询版本失败: %w", err)
	}
	return &v, nil
}

// ListVersions 返回候选人的全部版本记录，按版本倒序
func (m *MySQL) ListVersions(ctx context.Context, candidateID string) ([]models.ProfileVersion, error) {
	var versions []models.ProfileVersion
	err := m.db.WithContext(ctx).
		Where("candidate_id = ?", candidateID).
		Order("version_key DESC").
		Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("查询版本列表失败: %w", err)
	}
	return versions, nil
}

// FindOrCreateCandidate 按邮箱或电话查找候选人，未找到时新建。
// 两个标识都缺失时直接新建（身份提取可能失败，不阻塞档案写入）。
func (m *MySQL) FindOrCreateCandidate(ctx context.Context, identity *types.Identity) (*models.Candidate, error) {
	ctx, span := mysqlTracer.Start(ctx, "FindOrCreateCandidate")
	defer span.End()

	email, phone, name, location := "", "", "", ""
	if identity != nil {
		if identity.Email != nil {
			email = *identity.Email
		}
		if identity.Phone != nil {
			phone = *identity.Phone
		}
		if identity.FullName != nil {
			name = *identity.FullName
		}
		if identity.Location != nil {
			location = *identity.Location
		}
	}

	if email != "" || phone != "" {
		var candidate models.Candidate
		query := m.db.WithContext(ctx).Model(&models.Candidate{})
		switch {
		case email != "" && phone != "":
			query = query.Where("primary_email = ?", email).Or("primary_phone = ?", phone)
		case email != "":
			query = query.Where("primary_email = ?", email)
		default:
			query = query.Where("primary_phone = ?", phone)
		}
		err := query.First(&candidate).Error
		if err == nil {
			span.SetAttributes(attribute.Bool("candidate.found", true), attribute.String("candidate.id", candidate.CandidateID))
			return &candidate, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to query candidate")
			return nil, fmt.Errorf("查询候选人失败: %w", err)
		}
	}

	newUUID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成UUIDv7失败: %w", err)
	}
	newCandidate := &models.Candidate{
		CandidateID:     newUUID.String(),
		PrimaryName:     name,
		PrimaryEmail:    email,
		PrimaryPhone:    phone,
		CurrentLocation: location,
	}
	if err := m.db.WithContext(ctx).Create(newCandidate).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create candidate")
		return nil, fmt.Errorf("创建新候选人失败: %w", err)
	}
	span.SetAttributes(attribute.Bool("candidate.found", false), attribute.String("candidate.id", newCandidate.CandidateID))
	return newCandidate, nil
}

// GetJobByID 通过 JobID 获取岗位记录
func (m *MySQL) GetJobByID(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkScorePending 为(候选人版本, 岗位)对登记待计算状态。
// 已有行时保持其现状（幂等触发不得覆盖已计算的分数）。
func (m *MySQL) MarkScorePending(ctx context.Context, candidateID, versionKey, jobID string) error {
	score := models.MatchScore{
		CandidateID: candidateID,
		VersionKey:  versionKey,
		JobID:       jobID,
		Status:      string(types.ScorePending),
	}
	return m.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "candidate_id"}, {Name: "version_key"}, {Name: "job_id"}},
			DoNothing: true,
		}).Create(&score).Error
}

// SaveScoreComputed 写入计算结果。0是有效分数，与PENDING严格区分。
func (m *MySQL) SaveScoreComputed(ctx context.Context, candidateID, versionKey, jobID string, score float64, subScores interface{}) error {
	subJSON, err := models.SubScoresToJSON(subScores)
	if err != nil {
		return fmt.Errorf("序列化子分量失败: %w", err)
	}
	now := time.Now()
	row := models.MatchScore{
		CandidateID:   candidateID,
		VersionKey:    versionKey,
		JobID:         jobID,
		Status:        string(types.ScoreComputed),
		Score:         &score,
		SubScoresJSON: subJSON,
		FailReason:    "",
		EvaluatedAt:   &now,
	}
	return m.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "candidate_id"}, {Name: "version_key"}, {Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "score", "sub_scores_json", "fail_reason", "evaluated_at"}),
		}).Create(&row).Error
}

// SaveScoreFailed 记录计算失败及原因。失败不自动重试，score保持NULL。
func (m *MySQL) SaveScoreFailed(ctx context.Context, candidateID, versionKey, jobID, reason string) error {
	now := time.Now()
	row := models.MatchScore{
		CandidateID: candidateID,
		VersionKey:  versionKey,
		JobID:       jobID,
		Status:      string(types.ScoreFailed),
		FailReason:  reason,
		EvaluatedAt: &now,
	}
	return m.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "candidate_id"}, {Name: "version_key"}, {Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "score", "sub_scores_json", "fail_reason", "evaluated_at"}),
		}).Create(&row).Error
}

// GetMatchScore 查询(候选人版本, 岗位)对的分数行。
// 行不存在返回nil而非错误——缺席即"计算中"，由调用方映射为PENDING。
func (m *MySQL) GetMatchScore(ctx context.Context, candidateID, versionKey, jobID string) (*models.MatchScore, error) {
	var row models.MatchScore
	err := m.db.WithContext(ctx).
		Where("candidate_id = ? AND version_key = ? AND job_id = ?", candidateID, versionKey, jobID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询匹配分数失败: %w", err)
	}
	return &row, nil
}
