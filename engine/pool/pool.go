// Package pool manages a keyed collection of workspace backends so that
// concurrent callers share one backend per key instead of dialing a fresh
// connection for every operation.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aspects-ai/agent-backend/engine/backend"
	"github.com/aspects-ai/agent-backend/engine/core"
	"github.com/aspects-ai/agent-backend/pkg/logger"
)

// PoolClosedCode marks operations attempted after Shutdown.
const PoolClosedCode = "POOL_CLOSED"

// ErrPoolClosed reports use of a pool that has been shut down.
func ErrPoolClosed() *core.Error {
	return core.NewError(errors.New("pool is shut down"), PoolClosedCode, nil)
}

// Factory builds a backend for a pool key. Called at most once per key while
// the previous backend for that key remains connected.
type Factory func(ctx context.Context, key string) (backend.Backend, error)

// Config tunes pool behavior.
type Config struct {
	// IdleTTL evicts backends unused for this long. Non-positive disables
	// idle eviction.
	IdleTTL time.Duration
	// CleanupInterval spaces eviction sweeps. Non-positive disables the
	// background sweeper.
	CleanupInterval time.Duration
	// DrainTimeout bounds how long Shutdown waits for borrowed backends
	// to be returned before destroying them anyway.
	DrainTimeout time.Duration
}

// entry tracks one pooled backend. The ready channel closes once the factory
// call finished; until then backend and err are unset and only the creating
// goroutine may write them.
type entry struct {
	ready chan struct{}

	backend backend.Backend
	err     error

	borrows  int
	lastUsed time.Time
}

func (e *entry) initialized() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// Manager owns the keyed backends. All bookkeeping happens under one mutex.
type Manager struct {
	factory Factory
	cfg     Config
	log     logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	stopSweep chan struct{}
	sweepWG   sync.WaitGroup
}

// NewManager builds a pool around the factory. The background sweeper starts
// only when both IdleTTL and CleanupInterval are positive.
func NewManager(factory Factory, cfg Config, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	m := &Manager{
		factory:   factory,
		cfg:       cfg,
		log:       log,
		entries:   make(map[string]*entry),
		stopSweep: make(chan struct{}),
	}
	if cfg.IdleTTL > 0 && cfg.CleanupInterval > 0 {
		m.sweepWG.Add(1)
		go m.sweepLoop()
	}
	return m
}

// WithBackend runs fn with the backend for key, creating it on first use. An
// empty key requests an unpooled backend that is destroyed as soon as fn
// returns.
func (m *Manager) WithBackend(ctx context.Context, key string, fn func(backend.Backend) error) error {
	if key == "" {
		b, err := m.factory(ctx, key)
		if err != nil {
			return err
		}
		defer func() { _ = b.Destroy(context.WithoutCancel(ctx)) }()
		return fn(b)
	}

	b, err := m.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer m.release(key)
	return fn(b)
}

// acquire returns the backend for key, replacing it when the pooled instance
// is no longer connected. The mutex only guards map bookkeeping: the factory
// call and the destruction of a stale backend run outside it, so a slow dial
// for one key never stalls acquisitions for other keys.
func (m *Manager) acquire(ctx context.Context, key string) (backend.Backend, error) {
	var stale backend.Backend
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrPoolClosed()
	}
	e := m.entries[key]
	if e != nil && e.initialized() && e.backend.Status() != backend.StatusConnected {
		m.log.Warn("replacing pooled backend", "key", key, "status", e.backend.Status())
		stale = e.backend
		delete(m.entries, key)
		e = nil
	}
	creating := false
	if e == nil {
		e = &entry{ready: make(chan struct{})}
		m.entries[key] = e
		creating = true
	}
	m.mu.Unlock()

	if stale != nil {
		_ = stale.Destroy(ctx)
	}

	if creating {
		if err := m.construct(ctx, key, e); err != nil {
			return nil, err
		}
	} else {
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
	}

	m.mu.Lock()
	e.borrows++
	e.lastUsed = time.Now()
	m.mu.Unlock()
	return e.backend, nil
}

// construct runs the factory for a freshly inserted placeholder entry and
// publishes the outcome to waiters. Failed constructions leave no entry
// behind; a pool shut down mid-dial destroys the new backend immediately.
func (m *Manager) construct(ctx context.Context, key string, e *entry) error {
	b, err := m.factory(ctx, key)

	m.mu.Lock()
	closedMidDial := err == nil && m.closed
	if closedMidDial {
		err = ErrPoolClosed()
	}
	if err != nil {
		delete(m.entries, key)
		e.err = err
	} else {
		e.backend = b
	}
	m.mu.Unlock()
	close(e.ready)

	if closedMidDial {
		_ = b.Destroy(ctx)
	}
	if err != nil {
		return err
	}
	m.log.Debug("created pooled backend", "key", key, "type", b.Type())
	return nil
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	if e == nil {
		return
	}
	if e.borrows > 0 {
		e.borrows--
	}
	e.lastUsed = time.Now()
}

func (m *Manager) sweepLoop() {
	defer m.sweepWG.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweepOnce(time.Now())
		}
	}
}

// sweepOnce evicts idle, unborrowed backends. Exposed on the Manager for
// deterministic tests.
func (m *Manager) sweepOnce(now time.Time) {
	m.mu.Lock()
	var evicted []backend.Backend
	for key, e := range m.entries {
		if !e.initialized() {
			continue
		}
		if e.borrows == 0 && now.Sub(e.lastUsed) > m.cfg.IdleTTL {
			evicted = append(evicted, e.backend)
			delete(m.entries, key)
			m.log.Debug("evicted idle backend", "key", key)
		}
	}
	m.mu.Unlock()

	for _, b := range evicted {
		_ = b.Destroy(context.Background())
	}
}

// Stat describes one pooled backend.
type Stat struct {
	Type     backend.Type
	Status   backend.Status
	Borrows  int
	LastUsed time.Time
}

// Stats snapshots the pool contents keyed the same way the backends are.
func (m *Manager) Stats() map[string]Stat {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make(map[string]Stat, len(m.entries))
	for key, e := range m.entries {
		if !e.initialized() {
			continue
		}
		stats[key] = Stat{
			Type:     e.backend.Type(),
			Status:   e.backend.Status(),
			Borrows:  e.borrows,
			LastUsed: e.lastUsed,
		}
	}
	return stats
}

// Len reports the number of pooled backends.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// DestroyAll tears down every pooled backend without closing the pool.
// Entries still mid-construction stay in the map; their creator observes the
// pool state when the factory returns.
func (m *Manager) DestroyAll(ctx context.Context) {
	m.mu.Lock()
	backends := make([]backend.Backend, 0, len(m.entries))
	for key, e := range m.entries {
		if !e.initialized() {
			continue
		}
		backends = append(backends, e.backend)
		delete(m.entries, key)
	}
	m.mu.Unlock()

	for _, b := range backends {
		_ = b.Destroy(ctx)
	}
}

// Shutdown closes the pool: new acquisitions fail with POOL_CLOSED, borrowed
// backends get until the drain timeout to be returned, and everything is
// destroyed at the end regardless.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopSweep)
	m.sweepWG.Wait()

	deadline := time.Now().Add(m.cfg.DrainTimeout)
	for time.Now().Before(deadline) {
		if m.borrowedCount() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			m.DestroyAll(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	if n := m.borrowedCount(); n > 0 {
		m.log.Warn("destroying still-borrowed backends", "count", n)
	}
	m.DestroyAll(context.WithoutCancel(ctx))
	return nil
}

func (m *Manager) borrowedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, e := range m.entries {
		total += e.borrows
	}
	return total
}
