// Package client owns the connection to the analytics store. It connects in
// the background, retries with exponential backoff, and reports availability
// so producers can skip writes instead of blocking while the store is down.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mercator-hq/tally/pkg/analytics"
)

// Dialer opens a new store connection.
type Dialer func(ctx context.Context) (analytics.Store, error)

// Config controls reconnection.
type Config struct {
	// InitialInterval is the first retry delay.
	// Default: 1 second
	InitialInterval time.Duration

	// Multiplier grows the delay between attempts.
	// Default: 2
	Multiplier float64

	// MaxInterval caps the delay between attempts.
	// Default: 1 minute
	MaxInterval time.Duration

	// MaxElapsedTime bounds one reconnect run. When it runs out the manager
	// stays unavailable until the next EnsureConnected call.
	// Default: 10 minutes
	MaxElapsedTime time.Duration

	// PingTimeout bounds the liveness ping in EnsureConnected.
	// Default: 5 seconds
	PingTimeout time.Duration
}

// DefaultConfig returns the default reconnect policy.
func DefaultConfig() *Config {
	return &Config{
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     time.Minute,
		MaxElapsedTime:  10 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

var errClosed = errors.New("analytics client closed")

// Manager implements analytics.Provider over a reconnecting store.
type Manager struct {
	dial   Dialer
	config *Config
	logger *slog.Logger

	mu    sync.RWMutex
	store analytics.Store

	available atomic.Bool
	closed    atomic.Bool

	// attemptMu guards inflight and orders wg.Add against Close.
	attemptMu sync.Mutex
	inflight  *attempt

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onChange func(available bool)
}

// NewManager creates a manager that opens connections with dial. Nothing is
// dialed until Start or Connect is called.
func NewManager(dial Dialer, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dial:   dial,
		config: config,
		logger: slog.Default().With("component", "analytics.client"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewConnected wraps an already open store. The manager reports it available
// and never redials.
func NewConnected(store analytics.Store) *Manager {
	m := NewManager(func(context.Context) (analytics.Store, error) { return store, nil }, nil)
	m.setStore(store)
	return m
}

// OnStateChange registers fn to be called whenever availability flips.
// Must be called before Start.
func (m *Manager) OnStateChange(fn func(available bool)) {
	m.onChange = fn
}

// Start begins connecting in the background and returns immediately.
// Cancelling ctx stops any reconnect in progress.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			m.cancel()
		case <-m.ctx.Done():
		}
	}()
	m.reconnect()
}

// attempt is one connect run. err is set before done is closed.
type attempt struct {
	done chan struct{}
	err  error
}

// Connect dials with retries and blocks until connected, the reconnect
// budget is exhausted, or ctx is done. If a background connect is already
// running, Connect waits for its outcome instead of dialing again.
func (m *Manager) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return errClosed
	}
	if m.available.Load() {
		return nil
	}

	a, started := m.begin()
	if a == nil {
		return errClosed
	}
	if started {
		return m.run(ctx, a)
	}

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsAvailable implements analytics.Provider.
func (m *Manager) IsAvailable() bool {
	return m.available.Load()
}

// Store implements analytics.Provider.
func (m *Manager) Store() analytics.Store {
	if !m.available.Load() {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store
}

// EnsureConnected pings the current store. On failure the store is marked
// unavailable and a background reconnect is started unless one is already
// running. It reports whether the store is usable right now.
func (m *Manager) EnsureConnected(ctx context.Context) bool {
	if m.closed.Load() {
		return false
	}

	store := m.Store()
	if store == nil {
		m.reconnect()
		return false
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.config.PingTimeout)
	defer cancel()

	if err := store.Ping(pingCtx); err != nil {
		m.logger.Warn("analytics store ping failed, reconnecting",
			"backend", store.Backend(),
			"error", err,
		)
		m.dropStore(store)
		m.reconnect()
		return false
	}
	return true
}

// reconnect starts a background connect unless one is in flight or the
// store is already up.
func (m *Manager) reconnect() {
	if m.available.Load() {
		return
	}

	a, started := m.begin()
	if !started {
		return
	}
	go func() {
		if err := m.run(m.ctx, a); err != nil && !errors.Is(err, errClosed) && m.ctx.Err() == nil {
			m.logger.Warn("analytics store unavailable, giving up until next check",
				"max_elapsed", m.config.MaxElapsedTime,
				"error", err,
			)
		}
	}()
}

// begin returns the attempt in flight, or registers a new one and reports
// started. It returns nil once the manager is closed.
func (m *Manager) begin() (a *attempt, started bool) {
	m.attemptMu.Lock()
	defer m.attemptMu.Unlock()

	if m.closed.Load() {
		return nil, false
	}
	if m.inflight != nil {
		return m.inflight, false
	}
	m.inflight = &attempt{done: make(chan struct{})}
	m.wg.Add(1)
	return m.inflight, true
}

// run performs the connect of a started attempt and publishes its outcome.
// Close cancels it even when ctx is a caller's context.
func (m *Manager) run(ctx context.Context, a *attempt) error {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)

	err := m.connect(ctx)

	stop()
	cancel()

	m.attemptMu.Lock()
	a.err = err
	m.inflight = nil
	m.attemptMu.Unlock()
	close(a.done)
	m.wg.Done()
	return err
}

func (m *Manager) connect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.config.InitialInterval
	b.Multiplier = m.config.Multiplier
	b.MaxInterval = m.config.MaxInterval

	tries := 0
	store, err := backoff.Retry(ctx, func() (analytics.Store, error) {
		if m.closed.Load() {
			return nil, backoff.Permanent(errClosed)
		}
		tries++
		return m.dial(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(m.config.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Info("analytics store connect failed, retrying",
				"attempt", tries,
				"retry_in", next,
				"error", err,
			)
		}),
	)
	if err != nil {
		return err
	}

	if m.closed.Load() {
		store.Close()
		return errClosed
	}

	m.setStore(store)
	m.logger.Info("analytics store connected",
		"backend", store.Backend(),
		"attempts", tries,
	)
	return nil
}

func (m *Manager) setStore(store analytics.Store) {
	m.mu.Lock()
	m.store = store
	m.mu.Unlock()

	if !m.available.Swap(true) && m.onChange != nil {
		m.onChange(true)
	}
}

// dropStore discards stale if it is still the current store.
func (m *Manager) dropStore(stale analytics.Store) {
	m.mu.Lock()
	if m.store != stale {
		m.mu.Unlock()
		return
	}
	m.store = nil
	m.mu.Unlock()

	if m.available.Swap(false) && m.onChange != nil {
		m.onChange(false)
	}
	if err := stale.Close(); err != nil {
		m.logger.Debug("closing stale analytics store failed", "error", err)
	}
}

// Close stops reconnecting and closes the store. It is safe to call more
// than once.
func (m *Manager) Close() error {
	m.attemptMu.Lock()
	if m.closed.Load() {
		m.attemptMu.Unlock()
		return nil
	}
	m.closed.Store(true)
	m.attemptMu.Unlock()

	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	store := m.store
	m.store = nil
	m.mu.Unlock()
	m.available.Store(false)

	if store == nil {
		return nil
	}
	return store.Close()
}
