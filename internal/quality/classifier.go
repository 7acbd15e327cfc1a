package quality

import (
	"math"
	"sync/atomic"

	"heartlen/internal/features"
	"heartlen/internal/models"

	"go.uber.org/zap"
)

type handle struct {
	model Model
	name  string
}

// Classifier 信号质量分类器
// 模型句柄保存在原子指针中，非 nil 即表示已就绪
type Classifier struct {
	current atomic.Pointer[handle]
	logger  *zap.Logger
}

// NewClassifier 创建分类器（初始未加载模型）
func NewClassifier(logger *zap.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// SetModel 安装模型，nil 表示卸载
func (c *Classifier) SetModel(name string, m Model) {
	if m == nil {
		c.current.Store(nil)
		return
	}
	c.current.Store(&handle{model: m, name: name})
}

// Ready 模型是否已加载
func (c *Classifier) Ready() bool {
	return c.current.Load() != nil
}

// ModelName 当前模型名称
func (c *Classifier) ModelName() string {
	if h := c.current.Load(); h != nil {
		return h.name
	}
	return ""
}

// Classify 对特征向量分类
// 未加载模型或推理失败时返回未评估结果
func (c *Classifier) Classify(fv features.FeatureVector) models.QualityResult {
	h := c.current.Load()
	if h == nil {
		return models.UnassessedQuality()
	}

	probs, err := h.model.Predict(fv.Slice())
	if err != nil {
		c.logger.Warn("Quality model prediction failed", zap.String("model", h.name), zap.Error(err))
		return models.UnassessedQuality()
	}
	if len(probs) != len(models.QualityClasses) {
		c.logger.Warn("Quality model returned unexpected output size",
			zap.String("model", h.name),
			zap.Int("size", len(probs)),
		)
		return models.UnassessedQuality()
	}

	best := 0
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return models.UnassessedQuality()
		}
		if p > probs[best] {
			best = i
		}
	}

	return models.QualityResult{
		Class:      models.QualityClasses[best],
		Confidence: math.Max(0, math.Min(100, probs[best]*100)),
	}
}
