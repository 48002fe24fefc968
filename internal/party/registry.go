package party

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"karaoke/internal/core"
)

// Opener builds the controller for a party on first use.
type Opener func(ctx context.Context, party string) (*Controller, error)

// Registry keeps the most recently used party controllers open. The least
// recently used one is evicted when the limit is reached and closed once no
// request holds it. At most one controller per party exists at a time.
type Registry struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, *handle]
	draining map[string]*handle
	open     Opener
	logger   *zap.Logger
	recorder core.Recorder
}

// handle counts the requests using a controller.
type handle struct {
	party   string
	c       *Controller
	refs    int
	evicted bool
}

func NewRegistry(size int, open Opener, logger *zap.Logger, recorder core.Recorder) (*Registry, error) {
	if size < 1 {
		size = core.DefaultMaxActiveParties
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = core.NopRecorder{}
	}

	r := &Registry{
		draining: make(map[string]*handle),
		open:     open,
		logger:   logger,
		recorder: recorder,
	}
	// Evictions happen inside cache calls made with r.mu held.
	cache, err := lru.NewWithEvict(size, func(party string, h *handle) {
		h.evicted = true
		if h.refs > 0 {
			r.logger.Debug("Party evicted while in use", zap.String("party", party), zap.Int("refs", h.refs))
			r.draining[party] = h
			return
		}
		r.closeHandle(h)
	})
	if err != nil {
		return nil, fmt.Errorf("create party cache: %w", err)
	}
	r.cache = cache
	return r, nil
}

func (r *Registry) closeHandle(h *handle) {
	r.logger.Debug("Closing party", zap.String("party", h.party))
	delete(r.draining, h.party)
	h.c.Close()
}

// NewControllerOpener returns an Opener that builds controllers on st.
func NewControllerOpener(st core.Store, cfg core.AppConfig, logger *zap.Logger, recorder core.Recorder) Opener {
	return func(ctx context.Context, party string) (*Controller, error) {
		return NewController(ctx, st, party, cfg, logger, recorder)
	}
}

// Get returns the controller for party, opening it if needed, and holds it
// open until release is called. release is safe to call more than once.
func (r *Registry) Get(ctx context.Context, party string) (c *Controller, release func(), err error) {
	if err := ValidateID(party); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.cache.Get(party)
	if !ok {
		if h, ok = r.draining[party]; ok {
			delete(r.draining, party)
			h.evicted = false
		} else {
			opened, err := r.open(ctx, party)
			if err != nil {
				return nil, nil, err
			}
			h = &handle{party: party, c: opened}
		}
		h.refs++
		r.cache.Add(party, h)
		r.recorder.SetActiveSessions(r.cache.Len())
	} else {
		h.refs++
	}

	var once sync.Once
	return h.c, func() { once.Do(func() { r.release(h) }) }, nil
}

func (r *Registry) release(h *handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h.refs--
	if h.refs == 0 && h.evicted {
		r.closeHandle(h)
	}
}

// Lookup returns the controller for party only if it is already open.
func (r *Registry) Lookup(party string) (*Controller, bool) {
	h, ok := r.cache.Peek(party)
	if !ok {
		return nil, false
	}
	return h.c, true
}

// Parties lists the open parties, least recently used first.
func (r *Registry) Parties() []string {
	return r.cache.Keys()
}

// Release evicts the controller for party if it is open. It closes once
// the requests holding it are done.
func (r *Registry) Release(party string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.cache.Remove(party)
	r.recorder.SetActiveSessions(r.cache.Len())
	return removed
}

func (r *Registry) Len() int {
	return r.cache.Len()
}

// Close evicts every open controller. Controllers still in use close when
// released.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache.Purge()
	r.recorder.SetActiveSessions(0)
}
