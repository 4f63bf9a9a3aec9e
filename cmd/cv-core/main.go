package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cv-core-go/internal/agent"
	"cv-core-go/internal/api/handler"
	"cv-core-go/internal/api/router"
	"cv-core-go/internal/config"
	"cv-core-go/internal/extractor"
	applogger "cv-core-go/internal/logger"
	"cv-core-go/internal/matcher"
	"cv-core-go/internal/parser"
	"cv-core-go/internal/processor"
	"cv-core-go/internal/profile"
	"cv-core-go/internal/scoring"
	"cv-core-go/internal/storage"
	"cv-core-go/internal/taxonomy"
	"cv-core-go/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	hertzadapter "github.com/hertz-contrib/logger/zerolog"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径，为空时在常见位置查找")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	initLogger(cfg)
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(applogger.WithContext(context.Background()))
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		ServiceName:  cfg.Tracing.ServiceName,
		SampleRatio:  cfg.Tracing.SampleRatio,
	})
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	if storageManager.MinIO == nil || storageManager.MySQL == nil {
		glog.Fatal("MinIO与MySQL是档案存储的硬依赖，无法继续启动")
	}
	glog.Info("存储服务初始化成功")

	// 档案版本存储：Redis缺席时降级为无缓存、无锁
	var versionCache profile.VersionCache
	if storageManager.Redis != nil {
		versionCache = storageManager.Redis
	}
	profileStore, err := profile.NewStore(storageManager.MinIO, storageManager.MySQL, versionCache)
	if err != nil {
		glog.Fatalf("初始化档案存储失败: %v", err)
	}

	// 角色→技能参考表，启动时一次性加载
	taxonomyIndex, err := taxonomy.LoadDir(cfg.Taxonomy.DataDir)
	if err != nil {
		glog.Fatalf("加载技能分类表失败: %v", err)
	}
	glog.Infof("技能分类表加载成功，共 %d 个角色", taxonomyIndex.RoleCount())
	skillMatcher := matcher.NewSkillMatcher(taxonomyIndex, cfg.Taxonomy.MaxSkills)

	// 文本提取：严格解析优先，逐页回退兜底
	var parserLogger *log.Logger
	if cfg.Logger.Level == "debug" {
		parserLogger = log.New(os.Stderr, "[Parser] ", log.LstdFlags|log.Lshortfile)
	} else {
		parserLogger = log.New(io.Discard, "", 0)
	}
	fallbackExtractor, err := parser.NewEinoPDFTextExtractor(ctx,
		parser.WithEinoLogger(parserLogger),
		parser.WithEinoTimeout(time.Duration(cfg.Extraction.FallbackTimeoutSeconds)*time.Second),
	)
	if err != nil {
		glog.Fatalf("创建回退PDF提取器失败: %v", err)
	}
	textExtractor := parser.NewDocumentTextExtractor(
		parser.NewStrictPDFExtractor(parserLogger),
		fallbackExtractor,
		parserLogger,
	)

	// 分节LLM提取
	llmModel, err := agent.NewOpenAIChatModel(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.APIURL,
		agent.WithHTTPTimeout(time.Duration(cfg.LLM.Timeout)*time.Second))
	if err != nil {
		glog.Fatalf("初始化LLM客户端失败: %v", err)
	}
	orchestrator := extractor.NewOrchestrator(llmModel, cfg.LLM.MaxRetries,
		extractor.WithDocumentTimeout(time.Duration(cfg.LLM.DocumentTimeout)*time.Second))

	// 打分引擎与分数处理器
	engine, err := scoring.NewEngine(scoring.Weights{
		Skills:     cfg.Scoring.SkillsWeight,
		Experience: cfg.Scoring.ExperienceWeight,
		Education:  cfg.Scoring.EducationWeight,
	})
	if err != nil {
		glog.Fatalf("初始化打分引擎失败: %v", err)
	}
	var publisher processor.EventPublisher
	if storageManager.RabbitMQ != nil {
		publisher = storageManager.RabbitMQ
	}
	scoreProcessor, err := processor.NewScoreProcessor(profileStore, storageManager.MySQL, engine, publisher)
	if err != nil {
		glog.Fatalf("初始化分数处理器失败: %v", err)
	}

	// 上传流水线
	processorOpts := []processor.ProfileProcessorOption{
		processor.WithAllowedExtensions(cfg.Extraction.AllowedExtensions),
		processor.WithMaxFileSize(cfg.Extraction.MaxFileSizeBytes),
	}
	if storageManager.Redis != nil {
		processorOpts = append(processorOpts, processor.WithDeduper(storageManager.Redis))
	}
	if publisher != nil {
		processorOpts = append(processorOpts, processor.WithMatchTrigger(publisher, storageManager.MySQL))
	}
	profileProcessor, err := processor.NewProfileProcessor(
		textExtractor,
		orchestrator,
		skillMatcher,
		profileStore,
		storageManager.MySQL,
		processorOpts...,
	)
	if err != nil {
		glog.Fatalf("初始化档案处理器失败: %v", err)
	}
	glog.Info("处理流水线初始化成功")

	// 匹配事件消费者
	if storageManager.RabbitMQ != nil {
		done, err := scoreProcessor.StartConsumer(ctx, storageManager.RabbitMQ,
			cfg.RabbitMQ.ScoreQueue, cfg.RabbitMQ.PrefetchCount)
		if err != nil {
			glog.Fatalf("启动匹配分数消费者失败: %v", err)
		}
		glog.Infof("匹配分数消费者已启动，队列: %s", cfg.RabbitMQ.ScoreQueue)
		go func() {
			<-done
			glog.Warn("匹配分数消费者已退出")
		}()
	} else {
		glog.Warn("RabbitMQ未配置，匹配分数将只能同步计算")
	}

	serverTracer, serverTracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		serverTracer,
	)
	h.Use(hertztracing.ServerMiddleware(serverTracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		ctx.Next(applogger.WithContext(c))
	})

	profileHandler := handler.NewProfileHandler(profileProcessor, profileStore, scoreProcessor)
	router.RegisterRoutes(h, cfg.Server.APIKey, profileHandler)
	glog.Info("HTTP路由注册成功")

	go func() {
		glog.Infof("HTTP服务器启动中，监听地址: %s", cfg.Server.Address)
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		glog.Errorf("关闭链路追踪失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

func initLogger(cfg *config.Config) {
	applogger.Init(applogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	glog.SetLogger(hertzadapter.From(applogger.Logger))
}
