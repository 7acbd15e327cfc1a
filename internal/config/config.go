package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"heartlen/common/config"
	"heartlen/internal/signal"

	"gopkg.in/yaml.v3"
)

// Config rPPG 服务配置
type Config struct {
	HTTP struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	Database config.DatabaseConfig `yaml:"database"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQTT     config.MQTTConfig     `yaml:"mqtt"`

	// 采集源
	Capture struct {
		Source     string  `yaml:"source"` // "synthetic" 或 "mqtt"
		FPS        float64 `yaml:"fps"`
		Width      int     `yaml:"width"`
		Height     int     `yaml:"height"`
		HeartRate  float64 `yaml:"heart_rate"` // 合成源心率
		Noise      float64 `yaml:"noise"`
		BufferSize int     `yaml:"buffer_size"`
		FrameTopic string  `yaml:"frame_topic"` // MQTT 帧主题
	} `yaml:"capture"`

	// 信号处理
	Pipeline struct {
		BufferCapacity  int           `yaml:"buffer_capacity"` // 0 表示无界
		ROIFraction     float64       `yaml:"roi_fraction"`
		CombinationMode string        `yaml:"combination_mode"`
		QualityEvery    int           `yaml:"quality_every"`
		QualityInterval time.Duration `yaml:"quality_interval"`
		UpdateQueueSize int           `yaml:"update_queue_size"`
	} `yaml:"pipeline"`

	// 质量模型
	Quality struct {
		ModelRef    string        `yaml:"model_ref"` // 本地路径或 http(s) URL，空表示不加载
		LoadTimeout time.Duration `yaml:"load_timeout"`
		RetryCount  int           `yaml:"retry_count"`
	} `yaml:"quality"`

	// 定时自动保存
	Sampling struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"sampling"`

	// Redis 缓存与事件流
	Cache struct {
		RealtimeKeyPrefix string        `yaml:"realtime_key_prefix"`
		RealtimeTTL       time.Duration `yaml:"realtime_ttl"`
		RecordStream      string        `yaml:"record_stream"`
		StreamMaxLen      int64         `yaml:"stream_max_len"`
	} `yaml:"cache"`

	// MQTT 生命体征发布
	Vitals struct {
		TopicPrefix string `yaml:"topic_prefix"`
		Retained    bool   `yaml:"retained"`
	} `yaml:"vitals"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default 默认配置
func Default() *Config {
	cfg := &Config{}

	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ShutdownTimeout = 10 * time.Second

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "heartlen"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 2

	cfg.Redis.Addr = "localhost:6379"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "heartlen-rppg"
	cfg.MQTT.ConnectTimeout = 10 * time.Second

	cfg.Capture.Source = "synthetic"
	cfg.Capture.FPS = 30
	cfg.Capture.Width = 64
	cfg.Capture.Height = 64
	cfg.Capture.HeartRate = 72
	cfg.Capture.Noise = 0.02
	cfg.Capture.BufferSize = 8
	cfg.Capture.FrameTopic = "heartlen/camera/frames"

	cfg.Pipeline.BufferCapacity = 1800 // 30fps 下约 60 秒
	cfg.Pipeline.ROIFraction = 0.5
	cfg.Pipeline.CombinationMode = string(signal.ModeDefault)
	cfg.Pipeline.QualityEvery = 1
	cfg.Pipeline.UpdateQueueSize = 64

	cfg.Quality.LoadTimeout = 30 * time.Second
	cfg.Quality.RetryCount = 2

	cfg.Sampling.Interval = 10 * time.Second

	cfg.Cache.RealtimeKeyPrefix = "heartlen:session:"
	cfg.Cache.RealtimeTTL = 5 * time.Minute
	cfg.Cache.RecordStream = "heartlen:record:stream"
	cfg.Cache.StreamMaxLen = 10000

	cfg.Vitals.TopicPrefix = "heartlen"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

// Load 加载配置：默认值 → CONFIG_FILE（YAML，可选）→ 环境变量
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)

	c.Database.LoadFromEnv("DB")
	c.Redis.LoadFromEnv("REDIS")
	c.MQTT.LoadFromEnv("MQTT")

	c.Capture.Source = getEnv("CAPTURE_SOURCE", c.Capture.Source)
	c.Capture.FPS = getEnvFloat("CAPTURE_FPS", c.Capture.FPS)
	c.Capture.Width = getEnvInt("CAPTURE_WIDTH", c.Capture.Width)
	c.Capture.Height = getEnvInt("CAPTURE_HEIGHT", c.Capture.Height)
	c.Capture.HeartRate = getEnvFloat("CAPTURE_HEART_RATE", c.Capture.HeartRate)
	c.Capture.Noise = getEnvFloat("CAPTURE_NOISE", c.Capture.Noise)
	c.Capture.FrameTopic = getEnv("CAPTURE_FRAME_TOPIC", c.Capture.FrameTopic)

	c.Pipeline.BufferCapacity = getEnvInt("SIGNAL_BUFFER_CAPACITY", c.Pipeline.BufferCapacity)
	c.Pipeline.ROIFraction = getEnvFloat("SIGNAL_ROI_FRACTION", c.Pipeline.ROIFraction)
	c.Pipeline.CombinationMode = getEnv("COMBINATION_MODE", c.Pipeline.CombinationMode)
	c.Pipeline.QualityEvery = getEnvInt("QUALITY_EVERY_N", c.Pipeline.QualityEvery)
	if ms := getEnvInt("QUALITY_MIN_INTERVAL_MS", -1); ms >= 0 {
		c.Pipeline.QualityInterval = time.Duration(ms) * time.Millisecond
	}

	c.Quality.ModelRef = getEnv("QUALITY_MODEL_REF", c.Quality.ModelRef)
	c.Quality.LoadTimeout = getEnvDuration("QUALITY_LOAD_TIMEOUT", c.Quality.LoadTimeout)

	c.Sampling.Interval = getEnvDuration("SAMPLING_INTERVAL", c.Sampling.Interval)

	c.Cache.RealtimeKeyPrefix = getEnv("CACHE_REALTIME_PREFIX", c.Cache.RealtimeKeyPrefix)
	c.Cache.RealtimeTTL = getEnvDuration("CACHE_REALTIME_TTL", c.Cache.RealtimeTTL)
	c.Cache.RecordStream = getEnv("RECORD_STREAM", c.Cache.RecordStream)

	c.Vitals.TopicPrefix = getEnv("MQTT_VITALS_TOPIC_PREFIX", c.Vitals.TopicPrefix)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	if c.Capture.FPS <= 0 {
		errs = append(errs, fmt.Errorf("capture fps must be positive, got %v", c.Capture.FPS))
	}
	switch c.Capture.Source {
	case "synthetic":
		if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
			errs = append(errs, fmt.Errorf("invalid capture size %dx%d", c.Capture.Width, c.Capture.Height))
		}
	case "mqtt":
		if !c.MQTT.Enabled {
			errs = append(errs, errors.New("capture source mqtt requires MQTT_ENABLED=true"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown capture source %q", c.Capture.Source))
	}
	if c.Pipeline.BufferCapacity < 0 {
		errs = append(errs, fmt.Errorf("buffer capacity must be >= 0, got %d", c.Pipeline.BufferCapacity))
	}
	if c.Pipeline.ROIFraction < 0 || c.Pipeline.ROIFraction > 1 {
		errs = append(errs, fmt.Errorf("roi fraction must be in [0,1], got %v", c.Pipeline.ROIFraction))
	}
	if _, err := signal.ParseCombinationMode(c.Pipeline.CombinationMode); err != nil {
		errs = append(errs, err)
	}
	if c.Pipeline.QualityEvery < 0 {
		errs = append(errs, fmt.Errorf("quality every must be >= 0, got %d", c.Pipeline.QualityEvery))
	}
	if c.Sampling.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sampling interval must be positive, got %s", c.Sampling.Interval))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}
