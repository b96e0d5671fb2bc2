package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/analytics/storage"
)

func fastConfig() *Config {
	return &Config{
		InitialInterval: time.Millisecond,
		Multiplier:      1.5,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  2 * time.Second,
		PingTimeout:     time.Second,
	}
}

// flakyDialer fails the first n dials, then returns fresh memory stores.
type flakyDialer struct {
	mu       sync.Mutex
	failures int
	calls    int
	stores   []*storage.MemoryStore
}

func (d *flakyDialer) dial(ctx context.Context) (analytics.Store, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if d.calls <= d.failures {
		return nil, errors.New("connection refused")
	}
	s := storage.NewMemoryStore(nil)
	d.stores = append(d.stores, s)
	return s, nil
}

func (d *flakyDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestManager_ConnectRetries(t *testing.T) {
	d := &flakyDialer{failures: 3}
	m := NewManager(d.dial, fastConfig())
	defer m.Close()

	if m.IsAvailable() || m.Store() != nil {
		t.Fatal("expected manager to start unavailable")
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !m.IsAvailable() || m.Store() == nil {
		t.Fatal("expected store to be available after connect")
	}
	if got := d.callCount(); got != 4 {
		t.Errorf("expected 4 dial attempts, got %d", got)
	}
}

func TestManager_ConnectGivesUp(t *testing.T) {
	d := &flakyDialer{failures: 1 << 30}
	cfg := fastConfig()
	cfg.MaxElapsedTime = 30 * time.Millisecond
	m := NewManager(d.dial, cfg)
	defer m.Close()

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected error when store never comes up")
	}
	if m.IsAvailable() {
		t.Error("expected store to remain unavailable")
	}
}

func TestManager_StartIsNonBlocking(t *testing.T) {
	d := &flakyDialer{failures: 2}
	m := NewManager(d.dial, fastConfig())
	defer m.Close()

	var changes atomic.Int32
	m.OnStateChange(func(bool) { changes.Add(1) })

	start := time.Now()
	m.Start(context.Background())
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Start should return immediately")
	}

	waitFor(t, m.IsAvailable)
	if changes.Load() != 1 {
		t.Errorf("expected 1 state change, got %d", changes.Load())
	}
}

func TestManager_EnsureConnectedReconnects(t *testing.T) {
	d := &flakyDialer{}
	m := NewManager(d.dial, fastConfig())
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !m.EnsureConnected(context.Background()) {
		t.Fatal("expected healthy store")
	}

	first := d.stores[0]
	first.FailOn(storage.OpPing, 0, errors.New("socket closed"))

	if m.EnsureConnected(context.Background()) {
		t.Fatal("expected EnsureConnected to report failure")
	}

	waitFor(t, m.IsAvailable)
	if m.Store() == first {
		t.Error("expected a fresh store after reconnect")
	}
	if got := d.callCount(); got != 2 {
		t.Errorf("expected 2 dials, got %d", got)
	}
}

func TestManager_EnsureConnectedWithoutStore(t *testing.T) {
	d := &flakyDialer{}
	m := NewManager(d.dial, fastConfig())
	defer m.Close()

	if m.EnsureConnected(context.Background()) {
		t.Fatal("expected false before any connection")
	}
	waitFor(t, m.IsAvailable)
}

func TestManager_NewConnected(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	m := NewConnected(store)

	if !m.IsAvailable() || m.Store() != store {
		t.Fatal("expected wrapped store to be available")
	}
	if !m.EnsureConnected(context.Background()) {
		t.Error("expected EnsureConnected to succeed")
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	m := NewConnected(storage.NewMemoryStore(nil))

	if err := m.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if m.IsAvailable() {
		t.Error("expected unavailable after Close")
	}
	if m.EnsureConnected(context.Background()) {
		t.Error("expected EnsureConnected to fail after Close")
	}
	if err := m.Connect(context.Background()); err == nil {
		t.Error("expected Connect to fail after Close")
	}
}

// gatedDialer blocks every dial until release is closed.
type gatedDialer struct {
	release chan struct{}
	calls   atomic.Int32
}

func (d *gatedDialer) dial(ctx context.Context) (analytics.Store, error) {
	d.calls.Add(1)
	select {
	case <-d.release:
		return storage.NewMemoryStore(nil), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestManager_ConnectWaitsForBackgroundAttempt(t *testing.T) {
	d := &gatedDialer{release: make(chan struct{})}
	m := NewManager(d.dial, fastConfig())
	defer m.Close()

	m.Start(context.Background())
	waitFor(t, func() bool { return d.calls.Load() == 1 })

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("Connect returned %v while the first dial was still pending", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(d.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after the dial completed")
	}

	if !m.IsAvailable() {
		t.Error("expected store to be available once Connect returns")
	}
	if got := d.calls.Load(); got != 1 {
		t.Errorf("expected a single dial, got %d", got)
	}
}

func TestManager_ConnectHonorsContextWhileWaiting(t *testing.T) {
	d := &gatedDialer{release: make(chan struct{})}
	m := NewManager(d.dial, fastConfig())
	defer m.Close()

	m.Start(context.Background())
	waitFor(t, func() bool { return d.calls.Load() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestManager_CloseDuringReconnect(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := &flakyDialer{failures: 1 << 30}
		m := NewManager(d.dial, fastConfig())

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := 0; k < 20; k++ {
					m.EnsureConnected(context.Background())
				}
			}()
		}

		if err := m.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		wg.Wait()

		calls := d.callCount()
		time.Sleep(5 * time.Millisecond)
		if got := d.callCount(); got != calls {
			t.Fatalf("dialing continued after Close: %d -> %d", calls, got)
		}
	}
}
