// Package query is the declarative layer over the gateway: endpoints are
// defined once with the cache tags they provide or invalidate, and results
// are cached until a mutation invalidates one of their tags.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pliu/bizdir/internal/gateway"
	"golang.org/x/sync/singleflight"
)

// Tag labels a cached resource. A Tag without ID is type-wide.
type Tag struct {
	Type string
	ID   string
}

func TypeTag(typ string) Tag {
	return Tag{Type: typ}
}

func IDTag(typ, id string) Tag {
	return Tag{Type: typ, ID: id}
}

func (t Tag) String() string {
	if t.ID == "" {
		return t.Type
	}
	return t.Type + ":" + t.ID
}

// Executor runs one request; *gateway.Client implements it.
type Executor interface {
	Do(ctx context.Context, req gateway.Request, out any) error
}

type Query[A, R any] struct {
	Name     string
	Request  func(A) gateway.Request
	Provides func(A, R) []Tag
}

// Key is the cache key of the query for arg.
func (q Query[A, R]) Key(arg A) string {
	b, err := json.Marshal(arg)
	if err != nil {
		return fmt.Sprintf("%s(%v)", q.Name, arg)
	}
	return q.Name + string(b)
}

type Mutation[A, R any] struct {
	Name        string
	Request     func(A) gateway.Request
	Invalidates func(A) []Tag
}

type entry struct {
	value any
	tags  []Tag
}

type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	subs    map[string]map[int]func()
	nextSub int
	epoch   uint64
	group   singleflight.Group
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		subs:    make(map[string]map[int]func()),
	}
}

// Subscribe registers fn to run whenever the entry under key is invalidated.
func (c *Cache) Subscribe(key string, fn func()) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	if c.subs[key] == nil {
		c.subs[key] = make(map[int]func())
	}
	c.subs[key][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[key], id)
		if len(c.subs[key]) == 0 {
			delete(c.subs, key)
		}
	}
}

// Invalidate drops every entry matching one of tags and notifies the
// subscribers of the dropped keys. It returns the dropped keys.
func (c *Cache) Invalidate(tags ...Tag) []string {
	if len(tags) == 0 {
		return nil
	}
	c.mu.Lock()
	c.epoch++
	var (
		dropped []string
		notify  []func()
	)
	for key, e := range c.entries {
		if !matches(e.tags, tags) {
			continue
		}
		delete(c.entries, key)
		dropped = append(dropped, key)
		for _, fn := range c.subs[key] {
			notify = append(notify, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return dropped
}

func matches(provided, invalidated []Tag) bool {
	for _, inv := range invalidated {
		for _, p := range provided {
			if p.Type != inv.Type {
				continue
			}
			if inv.ID == "" || inv.ID == p.ID {
				return true
			}
		}
	}
	return false
}

// Reset empties the cache. Fetches in flight when Reset runs are not stored.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries = make(map[string]*entry)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(key string, epoch uint64, value any, tags []Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return
	}
	c.entries[key] = &entry{value: value, tags: tags}
}

func (c *Cache) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Fetch returns the cached result of q for arg, running the request when
// nothing is cached. Concurrent fetches of one key share a single request.
func Fetch[A, R any](ctx context.Context, c *Cache, ex Executor, q Query[A, R], arg A) (R, error) {
	key := q.Key(arg)
	if v, ok := c.lookup(key); ok {
		return v.(R), nil
	}
	return Refetch(ctx, c, ex, q, arg)
}

// Refetch runs the request regardless of what is cached and stores the result.
func Refetch[A, R any](ctx context.Context, c *Cache, ex Executor, q Query[A, R], arg A) (R, error) {
	key := q.Key(arg)
	v, err, _ := c.group.Do(key, func() (any, error) {
		epoch := c.currentEpoch()
		var out R
		if err := ex.Do(ctx, q.Request(arg), &out); err != nil {
			return nil, err
		}
		var tags []Tag
		if q.Provides != nil {
			tags = q.Provides(arg, out)
		}
		c.store(key, epoch, out, tags)
		return out, nil
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return v.(R), nil
}

// Mutate runs m and, on success only, invalidates the tags it declares.
func Mutate[A, R any](ctx context.Context, c *Cache, ex Executor, m Mutation[A, R], arg A) (R, error) {
	var out R
	if err := ex.Do(ctx, m.Request(arg), &out); err != nil {
		return out, err
	}
	if m.Invalidates != nil {
		c.Invalidate(m.Invalidates(arg)...)
	}
	return out, nil
}
