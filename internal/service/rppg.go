package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"heartlen/common/database"
	mqttclient "heartlen/common/mqtt"
	rediscommon "heartlen/common/redis"
	"heartlen/internal/capture"
	"heartlen/internal/config"
	httpapi "heartlen/internal/http"
	"heartlen/internal/models"
	"heartlen/internal/pipeline"
	"heartlen/internal/publisher"
	"heartlen/internal/quality"
	"heartlen/internal/repository"
	"heartlen/internal/signal"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var _ httpapi.RecordingController = (*RPPGService)(nil)

// RPPGService 录制服务：采集 → 管道 → 分发 / 持久化 / HTTP
type RPPGService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttclient.Client

	source     capture.Source
	classifier *quality.Classifier
	provider   *quality.Provider
	driver     *pipeline.Driver
	repo       repository.RecordRepository

	cache     *publisher.CacheManager
	events    *publisher.RecordEventPublisher
	vitalsPub *publisher.MQTTVitalsPublisher

	hub        *httpapi.LiveHub
	dispatcher *Dispatcher
	uploader   *Uploader
	server     *Server

	subject atomic.Value // string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRPPGService 创建录制服务并连接已启用的外部依赖
func NewRPPGService(cfg *config.Config, logger *zap.Logger) (*RPPGService, error) {
	ctx := context.Background()

	var (
		db          *sql.DB
		redisClient *redis.Client
		mqttClient  *mqttclient.Client
		err         error
	)

	// 初始化数据库
	if cfg.Database.Enabled {
		db, err = database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}

	// 初始化Redis
	if cfg.Redis.Enabled {
		redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, redisClient); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	// 初始化MQTT
	if cfg.MQTT.Enabled {
		mqttClient, err = mqttclient.NewClient(&cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
		}
	}

	source, err := newSource(cfg, mqttClient, logger)
	if err != nil {
		return nil, err
	}

	var repo repository.RecordRepository
	if db != nil {
		pgRepo := repository.NewPostgresRecordRepository(db, logger)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure record schema: %w", err)
		}
		repo = pgRepo
	} else {
		logger.Warn("Database disabled, records are kept in memory")
		repo = repository.NewMemoryRecordRepository()
	}

	s, err := newRPPGService(cfg, logger, source, repo)
	if err != nil {
		return nil, err
	}
	s.db = db
	s.redisClient = redisClient
	s.mqttClient = mqttClient

	if redisClient != nil {
		s.cache = publisher.NewCacheManager(cfg, publisher.NewRedisKVStore(redisClient), logger)
		s.events = publisher.NewRecordEventPublisher(redisClient, cfg.Cache.RecordStream, cfg.Cache.StreamMaxLen, logger)
		s.dispatcher.AddSink("cache", SinkFunc(s.cache.UpdateRealtime))
	}
	if mqttClient != nil {
		s.vitalsPub = publisher.NewMQTTVitalsPublisher(mqttClient, cfg.Vitals.TopicPrefix, cfg.MQTT.QoS, cfg.Vitals.Retained)
		s.dispatcher.AddSink("mqtt", SinkFunc(s.vitalsPub.PublishVitals))
	}
	return s, nil
}

func newSource(cfg *config.Config, mqttClient *mqttclient.Client, logger *zap.Logger) (capture.Source, error) {
	switch cfg.Capture.Source {
	case "mqtt":
		if mqttClient == nil {
			return nil, errors.New("mqtt capture source requires MQTT_ENABLED")
		}
		return capture.NewMQTTSource(mqttClient, cfg.Capture.FrameTopic, cfg.MQTT.QoS,
			cfg.Capture.FPS, cfg.Capture.BufferSize, logger)
	case "", "synthetic":
		return capture.NewSyntheticSource(capture.SyntheticConfig{
			Width:      cfg.Capture.Width,
			Height:     cfg.Capture.Height,
			FPS:        cfg.Capture.FPS,
			HeartRate:  cfg.Capture.HeartRate,
			Noise:      cfg.Capture.Noise,
			BufferSize: cfg.Capture.BufferSize,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Capture.Source)
	}
}

// newRPPGService 组装与外部依赖无关的部分
func newRPPGService(cfg *config.Config, logger *zap.Logger, source capture.Source, repo repository.RecordRepository) (*RPPGService, error) {
	mode, err := signal.ParseCombinationMode(cfg.Pipeline.CombinationMode)
	if err != nil {
		return nil, err
	}

	classifier := quality.NewClassifier(logger)
	driver := pipeline.NewDriver(source, classifier, pipeline.Options{
		BufferCapacity:  cfg.Pipeline.BufferCapacity,
		ROIFraction:     cfg.Pipeline.ROIFraction,
		QualityEvery:    cfg.Pipeline.QualityEvery,
		QualityInterval: cfg.Pipeline.QualityInterval,
		Mode:            mode,
	}, logger)

	s := &RPPGService{
		config:     cfg,
		logger:     logger,
		source:     source,
		classifier: classifier,
		provider:   quality.NewProvider(cfg.Quality.LoadTimeout, cfg.Quality.RetryCount, logger),
		driver:     driver,
		repo:       repo,
		hub:        httpapi.NewLiveHub(logger),
	}
	s.subject.Store(models.DefaultSubjectID)

	s.dispatcher = NewDispatcher(cfg.Pipeline.UpdateQueueSize, s.Subject, logger)
	s.dispatcher.AddSink("websocket", SinkFunc(func(_ context.Context, v models.Vitals) error {
		return s.hub.Broadcast(v)
	}))
	driver.OnUpdate(s.dispatcher.Enqueue)

	s.uploader = NewUploader(cfg.Sampling.Interval, s, logger)

	router := httpapi.NewRouter(logger)
	router.RegisterRecordingRoutes(httpapi.NewRecordingHandler(s, logger))
	router.RegisterLiveRoutes(s.hub)
	s.server = NewServer(cfg.HTTP.Addr, router, logger)

	return s, nil
}

// Handler HTTP 路由
func (s *RPPGService) Handler() http.Handler {
	return s.server.httpServer.Handler
}

// Start 启动服务
func (s *RPPGService) Start(ctx context.Context) error {
	s.logger.Info("Starting rPPG service components")

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// 质量模型在后台加载，加载完成前质量为 unassessed
	if ref := s.config.Quality.ModelRef; ref != "" {
		s.provider.LoadAsync(ctx, ref, s.classifier)
	} else {
		s.logger.Warn("No quality model configured, quality stays unassessed")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatcher.Run(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	s.logger.Info("rPPG service started successfully")
	return nil
}

// Stop 停止服务
func (s *RPPGService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping rPPG service")

	if err := s.StopRecording(ctx); err != nil {
		s.logger.Error("Error stopping recording", zap.Error(err))
	}

	if err := s.server.Stop(ctx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
	}
	s.hub.CloseAll()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	// 关闭MQTT
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭Redis
	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}

	// 关闭数据库
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("rPPG service stopped",
		zap.Uint64("vitals_delivered", s.dispatcher.Delivered()),
		zap.Uint64("vitals_dropped", s.dispatcher.Dropped()),
	)
	return nil
}

// StartRecording 开始录制
func (s *RPPGService) StartRecording(ctx context.Context) (string, error) {
	return s.driver.Start(ctx)
}

// StopRecording 结束录制，同时关闭采样模式
func (s *RPPGService) StopRecording(ctx context.Context) error {
	s.uploader.Stop()

	sessionID := s.driver.Current().SessionID
	if err := s.driver.Stop(); err != nil {
		return err
	}
	if s.cache != nil && sessionID != "" {
		if err := s.cache.ClearRealtime(ctx, sessionID); err != nil {
			s.logger.Warn("Failed to clear realtime cache", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return nil
}

// StartSampling 开启采样模式，需在录制中
func (s *RPPGService) StartSampling() error {
	if s.driver.State() != pipeline.StateRecording {
		return httpapi.ErrSamplingRequiresRecording
	}
	s.uploader.Start(context.Background())
	return nil
}

// StopSampling 关闭采样模式
func (s *RPPGService) StopSampling() {
	s.uploader.Stop()
}

// SamplingEnabled 是否处于采样模式
func (s *RPPGService) SamplingEnabled() bool {
	return s.uploader.Enabled()
}

// CombinationMode 当前组合方式
func (s *RPPGService) CombinationMode() signal.CombinationMode {
	return s.driver.Mode()
}

// SetCombinationMode 切换组合方式
func (s *RPPGService) SetCombinationMode(mode signal.CombinationMode) error {
	return s.driver.SetCombinationMode(mode)
}

// Subject 当前受试者
func (s *RPPGService) Subject() string {
	return s.subject.Load().(string)
}

// SetSubject 设置当前受试者，空值恢复为默认
func (s *RPPGService) SetSubject(subjectID string) {
	if subjectID == "" {
		subjectID = models.DefaultSubjectID
	}
	s.subject.Store(subjectID)
	s.logger.Info("Subject changed", zap.String("subject_id", subjectID))
}

// Current 最新生命体征
func (s *RPPGService) Current() models.Vitals {
	v := s.driver.Current()
	v.SubjectID = s.Subject()
	return v
}

// Finalize 当前会话的记录（未保存）
func (s *RPPGService) Finalize() (*models.Record, error) {
	return s.driver.Finalize(s.Subject())
}

// SaveNow 生成记录并保存，成功后发布记录事件
func (s *RPPGService) SaveNow(ctx context.Context) (*models.Record, error) {
	rec, err := s.Finalize()
	if err != nil {
		return nil, err
	}
	rec.Sanitize()

	if err := s.repo.SaveRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save record: %w", err)
	}

	if s.events != nil {
		if err := s.events.PublishRecordSaved(ctx, rec); err != nil {
			s.logger.Warn("Failed to publish record event", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}

	s.logger.Info("Record saved",
		zap.String("record_id", rec.ID),
		zap.String("subject_id", rec.SubjectID),
		zap.Float64("bpm", rec.HeartRate.BPM),
		zap.Float64("sdnn", rec.HRV.SDNN),
		zap.Int("samples", len(rec.Samples)),
	)
	return rec, nil
}

// SubjectSummary 受试者历史汇总
func (s *RPPGService) SubjectSummary(ctx context.Context, subjectID string) (*models.SubjectSummary, error) {
	return s.repo.GetSubjectSummary(ctx, subjectID)
}

// ListRecords 受试者最近的记录
func (s *RPPGService) ListRecords(ctx context.Context, subjectID string, limit int) ([]*models.Record, error) {
	return s.repo.ListRecords(ctx, subjectID, limit)
}

// ModelReady 质量模型是否已加载
func (s *RPPGService) ModelReady() bool {
	return s.classifier.Ready()
}
