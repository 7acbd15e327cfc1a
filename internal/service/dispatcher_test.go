package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"heartlen/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu  sync.Mutex
	got []models.Vitals
	err error
}

func (r *recordingSink) Deliver(_ context.Context, v models.Vitals) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, v)
	return r.err
}

func (r *recordingSink) received() []models.Vitals {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Vitals(nil), r.got...)
}

func TestDispatcher_FansOutAndFillsSubject(t *testing.T) {
	d := NewDispatcher(8, func() string { return "alice" }, zap.NewNop())
	failing := &recordingSink{err: errors.New("broker down")}
	ok := &recordingSink{}
	d.AddSink("failing", failing)
	d.AddSink("ok", ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(models.Vitals{SessionID: "s1"})
	d.Enqueue(models.Vitals{SessionID: "s1", SubjectID: "bob"})

	require.Eventually(t, func() bool { return d.Delivered() == 2 }, time.Second, 5*time.Millisecond)

	got := ok.received()
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].SubjectID)
	assert.Equal(t, "bob", got[1].SubjectID)
	// 一个下游失败不影响其它下游
	assert.Len(t, failing.received(), 2)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(1, nil, zap.NewNop())

	d.Enqueue(models.Vitals{SessionID: "a"})
	d.Enqueue(models.Vitals{SessionID: "b"})
	d.Enqueue(models.Vitals{SessionID: "c"})

	assert.Equal(t, uint64(2), d.Dropped())
	v := <-d.queue
	assert.Equal(t, "a", v.SessionID)
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	d := NewDispatcher(1, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
