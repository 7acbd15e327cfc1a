package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"heartlen/internal/capture"
	"heartlen/internal/features"
	"heartlen/internal/models"
	"heartlen/internal/quality"
	"heartlen/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Predict(x []float64) ([]float64, error) {
	args := m.Called(x)
	probs, _ := args.Get(0).([]float64)
	return probs, args.Error(1)
}

func pulseFrames(n int, fps, bpm float64) []models.Frame {
	w := capture.NewPulseWave(fps, bpm, 0)
	out := make([]models.Frame, n)
	for i := range out {
		f := capture.RenderSkinFrame(8, 8, w.Next(), 6)
		f.Seq = uint64(i)
		out[i] = f
	}
	return out
}

func readyClassifier(m quality.Model) *quality.Classifier {
	c := quality.NewClassifier(zap.NewNop())
	c.SetModel("stub", m)
	return c
}

func TestSession_EstimatesHeartRate(t *testing.T) {
	s := NewSession("s1", 30, Options{}, quality.NewClassifier(zap.NewNop()), zap.NewNop())

	var v models.Vitals
	for _, f := range pulseFrames(300, 30, 72) {
		v, _ = s.Process(f, signal.ModeDefault)
	}

	assert.Equal(t, "s1", v.SessionID)
	assert.Equal(t, 300, v.SampleCount)
	require.True(t, v.HeartRate.Computable())
	assert.InDelta(t, 72, v.HeartRate.BPM, 2)
	assert.True(t, v.HRV.Computable())
	// 未加载模型
	assert.Equal(t, models.UnassessedQuality(), v.Quality)
}

func TestSession_QualityWaitsForMinWindow(t *testing.T) {
	m := &mockModel{}
	m.On("Predict", mock.Anything).Return([]float64{0.1, 0.2, 0.7}, nil)
	s := NewSession("s1", 30, Options{QualityEvery: 1}, readyClassifier(m), zap.NewNop())

	frames := pulseFrames(features.MinWindow, 30, 72)
	var v models.Vitals
	for _, f := range frames[:features.MinWindow-1] {
		v, _ = s.Process(f, signal.ModeDefault)
	}
	assert.Equal(t, models.QualityUnassessed, v.Quality.Class)
	m.AssertNotCalled(t, "Predict", mock.Anything)

	v, _ = s.Process(frames[features.MinWindow-1], signal.ModeDefault)
	assert.Equal(t, models.QualityExcellent, v.Quality.Class)
	assert.InDelta(t, 70, v.Quality.Confidence, 1e-9)
}

func TestSession_QualityEveryN(t *testing.T) {
	m := &mockModel{}
	m.On("Predict", mock.Anything).Return([]float64{0.6, 0.3, 0.1}, nil)
	s := NewSession("s1", 30, Options{QualityEvery: 3}, readyClassifier(m), zap.NewNop())

	// 合格帧为第 100..106 帧，共 7 帧，按每 3 帧评估一次：第 1、4、7 个
	for _, f := range pulseFrames(features.MinWindow+6, 30, 72) {
		s.Process(f, signal.ModeDefault)
	}
	m.AssertNumberOfCalls(t, "Predict", 3)
}

func TestSession_ZeroVarianceIsUnassessed(t *testing.T) {
	m := &mockModel{}
	m.On("Predict", mock.Anything).Return([]float64{0, 0, 1}, nil)
	s := NewSession("s1", 30, Options{}, readyClassifier(m), zap.NewNop())

	flat := capture.RenderSkinFrame(8, 8, 0.5, 6)
	var v models.Vitals
	for i := 0; i < features.MinWindow+5; i++ {
		v, _ = s.Process(flat, signal.ModeDefault)
	}

	assert.Equal(t, models.UnassessedQuality(), v.Quality)
	assert.False(t, v.HeartRate.Computable())
	m.AssertNotCalled(t, "Predict", mock.Anything)
}

func TestSession_SkipsBadFrames(t *testing.T) {
	s := NewSession("s1", 30, Options{}, quality.NewClassifier(zap.NewNop()), zap.NewNop())

	good := capture.RenderSkinFrame(4, 4, 0, 6)
	s.Process(good, signal.ModeDefault)

	bad := good
	bad.Data = bad.Data[:5]
	v, snap := s.Process(bad, signal.ModeDefault)

	assert.Equal(t, 1, v.SampleCount)
	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, uint64(1), v.FramesProcessed)
	assert.Equal(t, uint64(1), v.FramesSkipped)
}

func TestSession_ModeAppliesToNextSample(t *testing.T) {
	s := NewSession("s1", 30, Options{}, quality.NewClassifier(zap.NewNop()), zap.NewNop())
	f := capture.RenderSkinFrame(8, 8, 0, 6) // R=170 G=120 B=100

	v, _ := s.Process(f, signal.ModeDefault)
	assert.InDelta(t, 120, v.LastSample, 1e-9)

	v, snap := s.Process(f, signal.ModeRedOnly)
	assert.InDelta(t, 170, v.LastSample, 1e-9)
	assert.Equal(t, "redOnly", v.CombinationMode)
	assert.InDelta(t, 120, snap.Values[0], 1e-9)
}

func TestSession_RingBufferRetention(t *testing.T) {
	s := NewSession("s1", 30, Options{BufferCapacity: 50}, quality.NewClassifier(zap.NewNop()), zap.NewNop())

	var snap signal.Snapshot
	for _, f := range pulseFrames(120, 30, 72) {
		_, snap = s.Process(f, signal.ModeDefault)
	}
	assert.Equal(t, 50, snap.Len())
	assert.Equal(t, uint64(70), snap.FirstSeq)
}

// fakeSource 由测试控制的采集源
type fakeSource struct {
	mu       sync.Mutex
	fps      float64
	ch       chan models.Frame
	starts   int
	stops    int
	startErr error
}

func (f *fakeSource) Start(ctx context.Context) (<-chan models.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.starts++
	f.ch = make(chan models.Frame, 512)
	return f.ch, nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeSource) FrameRate() float64 { return f.fps }

func (f *fakeSource) push(frames ...models.Frame) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	for _, fr := range frames {
		ch <- fr
	}
}

// closeFrames 模拟采集源自行结束
func (f *fakeSource) closeFrames() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.ch)
}

func waitSamples(t *testing.T, d *Driver, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return d.Current().SampleCount >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDriver_Lifecycle(t *testing.T) {
	src := &fakeSource{fps: 30}
	d := NewDriver(src, quality.NewClassifier(zap.NewNop()), Options{}, zap.NewNop())

	assert.Equal(t, StateIdle, d.State())
	_, err := d.Finalize("alice")
	assert.ErrorIs(t, err, ErrNoSamples)

	sessionID, err := d.Start(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, StateRecording, d.State())

	_, err = d.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	// 还没有帧
	_, err = d.Finalize("alice")
	assert.ErrorIs(t, err, ErrNoSamples)

	src.push(pulseFrames(240, 30, 72)...)
	waitSamples(t, d, 240)

	v := d.Current()
	assert.True(t, v.Recording)
	assert.Equal(t, sessionID, v.SessionID)
	assert.InDelta(t, 72, v.HeartRate.BPM, 2)

	rec, err := d.Finalize("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.SubjectID)
	assert.Equal(t, sessionID, rec.SessionID)
	assert.Len(t, rec.Samples, 240)
	assert.NotEmpty(t, rec.ID)
	assert.Len(t, d.Samples(), 240)

	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())
	assert.Equal(t, 1, src.stops)
	assert.Equal(t, StateIdle, d.State())

	v = d.Current()
	assert.False(t, v.Recording)
	assert.Zero(t, v.SampleCount)
	_, err = d.Finalize("alice")
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestDriver_RestartStartsFreshSession(t *testing.T) {
	src := &fakeSource{fps: 30}
	d := NewDriver(src, quality.NewClassifier(zap.NewNop()), Options{}, zap.NewNop())

	first, err := d.Start(context.Background())
	require.NoError(t, err)
	src.push(pulseFrames(10, 30, 72)...)
	waitSamples(t, d, 10)
	require.NoError(t, d.Stop())

	second, err := d.Start(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Zero(t, d.Current().SampleCount)

	src.push(pulseFrames(3, 30, 72)...)
	waitSamples(t, d, 3)
	assert.Equal(t, 3, d.Current().SampleCount)
	require.NoError(t, d.Stop())
}

func TestDriver_StartError(t *testing.T) {
	src := &fakeSource{fps: 30, startErr: errors.New("camera busy")}
	d := NewDriver(src, quality.NewClassifier(zap.NewNop()), Options{}, zap.NewNop())

	_, err := d.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateIdle, d.State())
}

func TestDriver_ListenerAndMode(t *testing.T) {
	src := &fakeSource{fps: 30}
	d := NewDriver(src, quality.NewClassifier(zap.NewNop()), Options{Mode: signal.ModeGreenOnly}, zap.NewNop())

	updates := make(chan models.Vitals, 16)
	d.OnUpdate(func(v models.Vitals) {
		select {
		case updates <- v:
		default:
		}
	})

	assert.Error(t, d.SetCombinationMode("sepia"))
	assert.Equal(t, signal.ModeGreenOnly, d.Mode())

	_, err := d.Start(context.Background())
	require.NoError(t, err)
	defer d.Stop()

	f := capture.RenderSkinFrame(4, 4, 0, 6)
	src.push(f)
	v := <-updates
	assert.InDelta(t, 120, v.LastSample, 1e-9)

	require.NoError(t, d.SetCombinationMode(signal.ModeCustom))
	src.push(f)
	v = <-updates
	assert.InDelta(t, 3*170-120-100, v.LastSample, 1e-9)
	assert.Equal(t, "custom", v.CombinationMode)
}

func TestDriver_IdleReportsCurrentMode(t *testing.T) {
	d := NewDriver(&fakeSource{fps: 30}, quality.NewClassifier(zap.NewNop()), Options{}, zap.NewNop())
	require.NoError(t, d.SetCombinationMode(signal.ModeBlueOnly))

	v := d.Current()
	assert.Equal(t, "blueOnly", v.CombinationMode)
	assert.Equal(t, models.UnassessedQuality(), v.Quality)
}

func TestDriver_SourceClosedEndsSession(t *testing.T) {
	src := &fakeSource{fps: 30}
	d := NewDriver(src, quality.NewClassifier(zap.NewNop()), Options{}, zap.NewNop())

	sessionID, err := d.Start(context.Background())
	require.NoError(t, err)

	src.push(pulseFrames(60, 30, 72)...)
	waitSamples(t, d, 60)

	src.closeFrames()
	require.Eventually(t, d.Ended, time.Second, 5*time.Millisecond)

	assert.Equal(t, StateIdle, d.State())
	v := d.Current()
	assert.False(t, v.Recording)
	assert.Equal(t, sessionID, v.SessionID)

	// 已采集的样本仍可保存
	rec, err := d.Finalize("alice")
	require.NoError(t, err)
	assert.Len(t, rec.Samples, 60)

	// 可以直接开始新的录制
	next, err := d.Start(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, sessionID, next)
	assert.False(t, d.Ended())
	assert.Equal(t, StateRecording, d.State())
	assert.Equal(t, 2, src.starts)
	assert.Equal(t, 1, src.stops)

	require.NoError(t, d.Stop())
	assert.Equal(t, 2, src.stops)
}
