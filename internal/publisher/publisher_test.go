package publisher_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"heartlen/internal/config"
	"heartlen/internal/models"
	"heartlen/internal/publisher"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleVitals() models.Vitals {
	return models.Vitals{
		SessionID:       "session-1",
		SubjectID:       "alice",
		Recording:       true,
		CombinationMode: "default",
		HeartRate:       models.HeartRateResult{BPM: 72.5, Confidence: 91},
		HRV:             models.NotComputableHRV(),
		Quality:         models.QualityResult{Class: models.QualityAcceptable, Confidence: 64},
		SampleCount:     240,
	}
}

func TestCacheManager_UpdateRealtime_WritesJSON(t *testing.T) {
	kv := newFakeKVStore()
	cfg := config.Default()
	cm := publisher.NewCacheManager(cfg, kv, zap.NewNop())

	require.NoError(t, cm.UpdateRealtime(context.Background(), sampleVitals()))

	raw, err := kv.Get(context.Background(), "heartlen:session:session-1:realtime")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, kv.ttlOf("heartlen:session:session-1:realtime"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "alice", decoded["subject_id"])
	hrv := decoded["hrv"].(map[string]any)
	// NaN 序列化为 null
	assert.Nil(t, hrv["sdnn"])

	got, err := cm.GetRealtime(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, 72.5, got.HeartRate.BPM)
	assert.True(t, math.IsNaN(got.HRV.SDNN))
	assert.Equal(t, models.QualityAcceptable, got.Quality.Class)
}

func TestCacheManager_MissAndClear(t *testing.T) {
	kv := newFakeKVStore()
	cm := publisher.NewCacheManager(config.Default(), kv, zap.NewNop())

	_, err := cm.GetRealtime(context.Background(), "nope")
	assert.ErrorIs(t, err, publisher.ErrCacheMiss)

	// 无会话ID时不写入
	v := sampleVitals()
	v.SessionID = ""
	require.NoError(t, cm.UpdateRealtime(context.Background(), v))
	assert.Empty(t, kv.data)

	require.NoError(t, cm.UpdateRealtime(context.Background(), sampleVitals()))
	require.NoError(t, cm.ClearRealtime(context.Background(), "session-1"))
	_, err = cm.GetRealtime(context.Background(), "session-1")
	assert.ErrorIs(t, err, publisher.ErrCacheMiss)
}

func TestRedisKVStore_WithMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	kv := publisher.NewRedisKVStore(client)
	ctx := context.Background()

	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, publisher.ErrCacheMiss)

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, publisher.ErrCacheMiss)

	require.NoError(t, kv.Set(ctx, "k2", "v", 0))
	require.NoError(t, kv.Del(ctx, "k2"))
	assert.False(t, mr.Exists("k2"))
}

func TestRecordEventPublisher_WritesStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := publisher.NewRecordEventPublisher(client, "heartlen:record:stream", 100, zap.NewNop())
	rec := &models.Record{
		ID:        "rec-1",
		SubjectID: "alice",
		SessionID: "session-1",
		HeartRate: models.HeartRateResult{BPM: 70},
		HRV:       models.HRVResult{SDNN: 35},
		Samples:   []float64{1, 2, 3},
		Timestamp: time.Unix(1700000000, 0),
	}
	require.NoError(t, p.PublishRecordSaved(context.Background(), rec))

	msgs, err := client.XRange(context.Background(), "heartlen:record:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var event models.RecordSavedEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &event))
	assert.Equal(t, "rec-1", event.RecordID)
	assert.Equal(t, "alice", event.SubjectID)
	assert.Equal(t, 3, event.SampleCount)
	assert.Equal(t, int64(1700000000), event.Timestamp)
}

type fakeMQTT struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
	err      error
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.topic, f.qos, f.retained, f.payload = topic, qos, retained, payload
	return f.err
}

func TestMQTTVitalsPublisher(t *testing.T) {
	client := &fakeMQTT{}
	p := publisher.NewMQTTVitalsPublisher(client, "heartlen", 1, true)

	require.NoError(t, p.PublishVitals(context.Background(), sampleVitals()))
	assert.Equal(t, "heartlen/alice/vitals", client.topic)
	assert.Equal(t, byte(1), client.qos)
	assert.True(t, client.retained)

	var decoded models.Vitals
	require.NoError(t, json.Unmarshal(client.payload, &decoded))
	assert.Equal(t, 72.5, decoded.HeartRate.BPM)

	assert.Equal(t, "heartlen/unknown/vitals", p.Topic(""))

	client.err = errors.New("not connected")
	assert.Error(t, p.PublishVitals(context.Background(), sampleVitals()))
}
