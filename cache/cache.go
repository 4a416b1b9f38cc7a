// Package cache is an in-memory TTL store partitioned by category, key and sub-key.
package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Category partitions the store.
type Category string

const (
	CategoryService Category = "service"
	CategoryEntity  Category = "entity"
	CategoryMethod  Category = "method"
	CategoryGeneric Category = "generic"
)

// Categories lists every partition.
var Categories = []Category{CategoryService, CategoryEntity, CategoryMethod, CategoryGeneric}

// DefaultSubKey addresses a slot stored without parameters.
const DefaultSubKey = "default"

// Object is one cached value.
type Object struct {
	Value   any
	Expires time.Time
	// DeleteOnExpire overrides the engine default when set.
	DeleteOnExpire *bool
}

// Options tune a single Store call. Zero values fall back to the engine defaults.
type Options struct {
	TTL            time.Duration
	DeleteOnExpire *bool
}

type partition map[string]map[string]*Object

// Engine is safe for concurrent use. A background sweeper evicts expired
// objects every check period until Close is called.
type Engine struct {
	mu             sync.RWMutex
	store          map[Category]partition
	ttl            time.Duration
	checkPeriod    time.Duration
	deleteOnExpire bool

	sweepMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}

	group singleflight.Group
	now   func() time.Time
}

// New creates an engine and starts its sweeper.
func New(ttl, checkPeriod time.Duration, deleteOnExpire bool) *Engine {
	e := &Engine{
		store:          make(map[Category]partition, len(Categories)),
		ttl:            ttl,
		checkPeriod:    checkPeriod,
		deleteOnExpire: deleteOnExpire,
		now:            time.Now,
	}
	for _, c := range Categories {
		e.store[c] = make(partition)
	}
	e.startSweeper(checkPeriod)
	return e
}

// Close stops the sweeper. The store stays readable.
func (e *Engine) Close() {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()
	e.stopSweeperLocked()
}

func (e *Engine) startSweeper(period time.Duration) {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()
	e.stopSweeperLocked()
	if period <= 0 {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	e.stop, e.done = stop, done
	go func() {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := e.Sweep(); n > 0 {
					zap.S().Debugw("cache sweep evicted objects", "count", n)
				}
			case <-stop:
				return
			}
		}
	}()
}

func (e *Engine) stopSweeperLocked() {
	if e.stop == nil {
		return
	}
	close(e.stop)
	<-e.done
	e.stop, e.done = nil, nil
}

// SetDefaultTTL changes the TTL applied to objects stored without one.
func (e *Engine) SetDefaultTTL(ttl time.Duration) {
	e.mu.Lock()
	e.ttl = ttl
	e.mu.Unlock()
}

// SetDefaultCheckPeriod restarts the sweeper with a new period.
func (e *Engine) SetDefaultCheckPeriod(period time.Duration) {
	e.mu.Lock()
	e.checkPeriod = period
	e.mu.Unlock()
	e.startSweeper(period)
}

// SetDefaultDeleteOnExpire changes whether the sweeper evicts objects that carry no override.
func (e *Engine) SetDefaultDeleteOnExpire(deleteOnExpire bool) {
	e.mu.Lock()
	e.deleteOnExpire = deleteOnExpire
	e.mu.Unlock()
}

// Store saves value under (category, key, subKey). An empty subKey means DefaultSubKey.
func (e *Engine) Store(category Category, key, subKey string, value any, opts Options) {
	if subKey == "" {
		subKey = DefaultSubKey
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = e.ttl
	}
	p, ok := e.store[category]
	if !ok {
		p = make(partition)
		e.store[category] = p
	}
	slots, ok := p[key]
	if !ok {
		slots = make(map[string]*Object)
		p[key] = slots
	}
	slots[subKey] = &Object{Value: value, Expires: e.now().Add(ttl), DeleteOnExpire: opts.DeleteOnExpire}
}

// Get returns the live value under (category, key, subKey). Expired objects are misses.
func (e *Engine) Get(category Category, key, subKey string) (any, bool) {
	if subKey == "" {
		subKey = DefaultSubKey
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	obj, ok := e.store[category][key][subKey]
	if !ok || !e.now().Before(obj.Expires) {
		return nil, false
	}
	return obj.Value, true
}

// Clear removes objects. An empty category clears everything, an empty key clears the
// category, an empty subKey clears every slot of the key.
func (e *Engine) Clear(category Category, key, subKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case category == "":
		for c := range e.store {
			e.store[c] = make(partition)
		}
	case key == "":
		e.store[category] = make(partition)
	case subKey == "":
		delete(e.store[category], key)
	default:
		if slots, ok := e.store[category][key]; ok {
			delete(slots, subKey)
			if len(slots) == 0 {
				delete(e.store[category], key)
			}
		}
	}
}

// Sweep evicts expired objects whose delete-on-expire setting is on and
// returns how many were removed.
func (e *Engine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	removed := 0
	for _, p := range e.store {
		for key, slots := range p {
			for sub, obj := range slots {
				if now.Before(obj.Expires) {
					continue
				}
				doe := e.deleteOnExpire
				if obj.DeleteOnExpire != nil {
					doe = *obj.DeleteOnExpire
				}
				if doe {
					delete(slots, sub)
					removed++
				}
			}
			if len(slots) == 0 {
				delete(p, key)
			}
		}
	}
	return removed
}

// Snapshot lists category -> key -> sub-keys currently held, expired or not.
func (e *Engine) Snapshot() map[Category]map[string][]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[Category]map[string][]string, len(e.store))
	for c, p := range e.store {
		keys := make(map[string][]string, len(p))
		for key, slots := range p {
			subs := make([]string, 0, len(slots))
			for sub := range slots {
				subs = append(subs, sub)
			}
			keys[key] = subs
		}
		out[c] = keys
	}
	return out
}
