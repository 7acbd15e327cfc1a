package quality

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Provider 按引用加载质量模型
// 引用可以是本地路径或 http(s) URL
type Provider struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewProvider 创建模型加载器
func NewProvider(timeout time.Duration, retryCount int, logger *zap.Logger) *Provider {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")

	return &Provider{
		httpClient: client,
		logger:     logger,
	}
}

// Load 同步加载模型
func (p *Provider) Load(ctx context.Context, ref string) (*DenseNetwork, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty model reference", ErrInvalidModel)
	}

	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		data, err = p.fetch(ctx, ref)
	} else {
		data, err = os.ReadFile(ref)
		if err != nil {
			err = fmt.Errorf("failed to read model file %s: %w", ref, err)
		}
	}
	if err != nil {
		return nil, err
	}

	network, err := ParseDenseNetwork(data)
	if err != nil {
		return nil, err
	}
	if network.Name == "" {
		network.Name = ref
	}
	return network, nil
}

func (p *Provider) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := p.httpClient.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download model %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to download model %s: status %d", url, resp.StatusCode())
	}
	return resp.Body(), nil
}

// LoadAsync 后台加载模型，成功后安装到分类器
// 返回的通道在加载结束后收到结果（nil 表示成功）并关闭
func (p *Provider) LoadAsync(ctx context.Context, ref string, c *Classifier) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)

		start := time.Now()
		network, err := p.Load(ctx, ref)
		if err != nil {
			p.logger.Error("Failed to load quality model",
				zap.String("ref", ref),
				zap.Error(err),
			)
			done <- err
			return
		}

		c.SetModel(network.Name, network)
		p.logger.Info("Quality model loaded",
			zap.String("model", network.Name),
			zap.Int("layers", len(network.Layers)),
			zap.Duration("elapsed", time.Since(start)),
		)
		done <- nil
	}()
	return done
}
