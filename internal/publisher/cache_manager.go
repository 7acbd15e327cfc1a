package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"heartlen/internal/config"
	"heartlen/internal/models"

	"go.uber.org/zap"
)

// CacheManager 会话实时生命体征缓存
type CacheManager struct {
	config *config.Config
	kv     KVStore
	logger *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(cfg *config.Config, kv KVStore, logger *zap.Logger) *CacheManager {
	return &CacheManager{
		config: cfg,
		kv:     kv,
		logger: logger,
	}
}

func (c *CacheManager) realtimeKey(sessionID string) string {
	return fmt.Sprintf("%s%s:realtime", c.config.Cache.RealtimeKeyPrefix, sessionID)
}

// UpdateRealtime 写入会话最新生命体征
func (c *CacheManager) UpdateRealtime(ctx context.Context, v models.Vitals) error {
	if v.SessionID == "" {
		return nil
	}
	key := c.realtimeKey(v.SessionID)

	jsonData, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal vitals: %w", err)
	}

	if err := c.kv.Set(ctx, key, string(jsonData), c.config.Cache.RealtimeTTL); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated realtime vitals cache",
		zap.String("session_id", v.SessionID),
		zap.String("key", key),
	)
	return nil
}

// GetRealtime 读取会话最新生命体征，不存在时返回 ErrCacheMiss
func (c *CacheManager) GetRealtime(ctx context.Context, sessionID string) (*models.Vitals, error) {
	raw, err := c.kv.Get(ctx, c.realtimeKey(sessionID))
	if err != nil {
		return nil, err
	}

	var v models.Vitals
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vitals: %w", err)
	}
	return &v, nil
}

// ClearRealtime 删除会话缓存
func (c *CacheManager) ClearRealtime(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := c.kv.Del(ctx, c.realtimeKey(sessionID)); err != nil {
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}
