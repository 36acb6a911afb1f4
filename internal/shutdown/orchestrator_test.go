package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPool struct {
	mu          sync.Mutex
	stopPulls   int
	cancels     int
	waitErr     error
	waitBlocked bool
}

func (p *stubPool) StopPulling() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopPulls++
}

func (p *stubPool) CancelProcessing() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels++
}

func (p *stubPool) Wait(ctx context.Context) error {
	if p.waitBlocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.waitErr
}

type stubQueue struct {
	mu       sync.Mutex
	idleErr  error
	closed   int
	idleWait time.Duration
}

func (q *stubQueue) WaitIdle(ctx context.Context) error {
	if q.idleWait > 0 {
		select {
		case <-time.After(q.idleWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return q.idleErr
}

func (q *stubQueue) Len() int { return 0 }

func (q *stubQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed++
}

func fastConfig() Config {
	return Config{
		DrainTimeout:    50 * time.Millisecond,
		CancelTimeout:   50 * time.Millisecond,
		WatchdogTimeout: time.Second,
	}
}

func TestOrchestratorRunsFullSequence(t *testing.T) {
	t.Parallel()

	pool := &stubPool{}
	queue := &stubQueue{}
	var closeOrder []string
	intake := []Closer{
		{Name: "transport", Close: func() error { closeOrder = append(closeOrder, "transport"); return nil }},
	}
	closers := []Closer{
		{Name: "publisher", Close: func() error { closeOrder = append(closeOrder, "publisher"); return nil }},
		{Name: "store", Close: func() error { closeOrder = append(closeOrder, "store"); return nil }},
	}
	o := New(fastConfig(), pool, queue, intake, closers, zap.NewNop())

	require.Equal(t, StateRunning, o.State())
	o.Trigger("test")
	<-o.Done()

	require.Equal(t, StateDisposed, o.State())
	require.Equal(t, 1, pool.stopPulls)
	require.Equal(t, 1, pool.cancels)
	require.Equal(t, 1, queue.closed)
	// Intake stops before anything drains; the store goes away last.
	require.Equal(t, []string{"transport", "publisher", "store"}, closeOrder)
}

func TestOrchestratorTriggerIsIdempotent(t *testing.T) {
	t.Parallel()

	pool := &stubPool{}
	queue := &stubQueue{}
	var closes atomic.Int32
	closers := []Closer{{Name: "store", Close: func() error { closes.Add(1); return nil }}}
	o := New(fastConfig(), pool, queue, nil, closers, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Trigger("concurrent")
		}()
	}
	wg.Wait()
	<-o.Done()

	require.Equal(t, int32(1), closes.Load())
	require.Equal(t, 1, pool.stopPulls)
}

func TestOrchestratorProceedsWhenDrainTimesOut(t *testing.T) {
	t.Parallel()

	pool := &stubPool{}
	queue := &stubQueue{idleWait: time.Second} // never drains inside the window
	o := New(fastConfig(), pool, queue, nil, nil, zap.NewNop())

	start := time.Now()
	o.Trigger("test")
	<-o.Done()

	// Drain window elapsed, then the sequence still force-cancelled and disposed.
	require.Equal(t, StateDisposed, o.State())
	require.Equal(t, 1, pool.cancels)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestOrchestratorProceedsWhenWorkersHang(t *testing.T) {
	t.Parallel()

	pool := &stubPool{waitBlocked: true}
	queue := &stubQueue{}
	o := New(fastConfig(), pool, queue, nil, nil, zap.NewNop())

	o.Trigger("test")
	<-o.Done()

	require.Equal(t, StateDisposed, o.State())
	require.Equal(t, 1, queue.closed)
}

func TestOrchestratorToleratesCloserErrors(t *testing.T) {
	t.Parallel()

	pool := &stubPool{}
	queue := &stubQueue{}
	ran := false
	closers := []Closer{
		{Name: "transport", Close: func() error { return errors.New("already closed") }},
		{Name: "store", Close: func() error { ran = true; return nil }},
	}
	o := New(fastConfig(), pool, queue, nil, closers, zap.NewNop())

	o.Trigger("test")
	<-o.Done()

	require.True(t, ran, "later closers must still run after an earlier failure")
	require.Equal(t, StateDisposed, o.State())
}

func TestOrchestratorWatchdogForcesExit(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.WatchdogTimeout = 30 * time.Millisecond

	pool := &stubPool{}
	// Idle wait far beyond the watchdog window.
	queue := &stubQueue{idleWait: 10 * time.Second}
	cfg.DrainTimeout = 10 * time.Second

	o := New(cfg, pool, queue, nil, nil, zap.NewNop())

	exited := make(chan int, 1)
	o.exit = func(code int) { exited <- code }

	go o.Trigger("test")

	select {
	case code := <-exited:
		require.Equal(t, 1, code)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
}
