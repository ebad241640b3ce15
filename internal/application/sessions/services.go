package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/bryanwahyu/weapon-detect/internal/application/detection"
)

var ErrNotFound = errors.New("session not found")

// Factory builds the orchestrator of a new session.
type Factory func() *detection.Orchestrator

// Registry holds one orchestrator per browser session, in memory only. Sessions idle for longer
// than the TTL, or pushed out by the size bound, are closed.
//
// The cache runs its eviction callback under its own lock, so evicted orchestrators are only
// queued there and closed later by reap.
type Registry struct {
	lru     *expirable.LRU[uuid.UUID, *detection.Orchestrator]
	factory Factory
	log     *zap.Logger

	mu     sync.Mutex
	doomed []victim
	reapMu sync.Mutex // held while a batch is being closed
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
}

type victim struct {
	id uuid.UUID
	o  *detection.Orchestrator
}

func New(size int, ttl time.Duration, factory Factory, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		factory: factory,
		log:     log,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	r.lru = expirable.NewLRU[uuid.UUID, *detection.Orchestrator](size, r.evicted, ttl)
	go r.reaper()
	return r
}

// Create starts a new session.
func (r *Registry) Create() (uuid.UUID, *detection.Orchestrator) {
	id := uuid.New()
	o := r.factory()
	r.lru.Add(id, o)
	r.reap()
	r.log.Info("session created", zap.String("session_id", id.String()))
	return id, o
}

// Get returns the session and restarts its idle timer.
func (r *Registry) Get(id uuid.UUID) (*detection.Orchestrator, error) {
	o, ok := r.lru.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	r.lru.Add(id, o)
	return o, nil
}

// Delete closes and forgets the session. The session is closed when Delete returns.
func (r *Registry) Delete(id uuid.UUID) error {
	if !r.lru.Remove(id) {
		return ErrNotFound
	}
	r.reap()
	return nil
}

func (r *Registry) Len() int { return r.lru.Len() }

// Close closes every session and stops the background reaper.
func (r *Registry) Close() {
	r.lru.Purge()
	r.reap()
	r.once.Do(func() { close(r.done) })
}

// evicted runs under the cache lock; it must not block.
func (r *Registry) evicted(id uuid.UUID, o *detection.Orchestrator) {
	r.mu.Lock()
	r.doomed = append(r.doomed, victim{id: id, o: o})
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// reaper closes sessions evicted by the TTL janitor or by Get.
func (r *Registry) reaper() {
	for {
		select {
		case <-r.wake:
			r.reap()
		case <-r.done:
			return
		}
	}
}

// reap closes every queued session. It returns only after any batch taken by a concurrent
// reap has been closed too.
func (r *Registry) reap() {
	r.reapMu.Lock()
	defer r.reapMu.Unlock()
	r.mu.Lock()
	batch := r.doomed
	r.doomed = nil
	r.mu.Unlock()
	for _, v := range batch {
		r.closeSession(v.id, v.o)
	}
}

func (r *Registry) closeSession(id uuid.UUID, o *detection.Orchestrator) {
	if err := o.Close(); err != nil {
		r.log.Warn("close session", zap.String("session_id", id.String()), zap.Error(err))
		return
	}
	r.log.Info("session closed", zap.String("session_id", id.String()))
}
