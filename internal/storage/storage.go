package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"cv-core-go/internal/config"
	applogger "cv-core-go/internal/logger"
)

// Storage 存储管理器，聚合所有存储相关依赖
type Storage struct {
	// 对象存储
	MinIO *MinIO

	// 消息队列
	RabbitMQ *RabbitMQ

	// 关系型数据库
	MySQL *MySQL

	// 键值存储
	Redis *Redis
}

// NewStorage 创建存储管理器
// 单个组件初始化失败只记录警告，全部失败才返回错误。
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	storage := &Storage{}
	var err error
	var initErrors []string

	// 根据配置决定 MinIO 的 logger
	var minioLogger *log.Logger
	if cfg.Logger.Level == "debug" || cfg.MinIO.EnableTestLogging {
		minioLogger = log.New(os.Stderr, "[MinIOStorage] ", log.LstdFlags|log.Lshortfile)
	} else {
		minioLogger = log.New(io.Discard, "", 0)
	}

	// 初始化MinIO
	storage.MinIO, err = NewMinIO(&cfg.MinIO, minioLogger)
	if err != nil {
		applogger.Warn().Err(err).Msg("初始化MinIO失败")
		initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
	} else {
		applogger.Info().Msg("MinIO客户端初始化成功")
	}

	// 初始化RabbitMQ（如果配置了）
	if cfg.RabbitMQ.URL != "" {
		storage.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			applogger.Warn().Err(err).Msg("初始化RabbitMQ失败")
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		} else if err := storage.RabbitMQ.SetupMatchEventsTopology(); err != nil {
			applogger.Warn().Err(err).Msg("声明匹配事件拓扑失败")
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ topology: %v", err))
		}
	}

	// 初始化MySQL（如果配置了）
	if cfg.MySQL.Host != "" {
		storage.MySQL, err = NewMySQL(&cfg.MySQL)
		if err != nil {
			applogger.Warn().Err(err).Msg("初始化MySQL失败")
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	}

	// 初始化Redis（如果配置了）
	if cfg.Redis.Address != "" {
		storage.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			applogger.Warn().Err(err).Msg("初始化Redis失败")
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	} else {
		applogger.Info().Msg("Redis未配置, 跳过初始化")
	}

	// 全部组件初始化失败时才整体失败
	if storage.MinIO == nil && storage.RabbitMQ == nil && storage.MySQL == nil && storage.Redis == nil {
		return nil, fmt.Errorf("所有存储组件初始化失败: %s", strings.Join(initErrors, "; "))
	}

	if len(initErrors) > 0 {
		applogger.Warn().Str("errors", strings.Join(initErrors, "; ")).Msg("部分存储组件初始化失败")
	}

	return storage, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			applogger.Error().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}

	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			applogger.Error().Err(err).Msg("关闭MySQL连接失败")
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			applogger.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
	// MinIO客户端无需显式Close
}
