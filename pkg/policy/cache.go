package policy

import (
	"container/list"
	"sync"

	"github.com/vmgridlabs/updpolicy/pkg/domain"
)

// verdictCache is a small LRU over evaluation results. Keys fingerprint the
// request plus the attribute facts consulted for it, so a fact change yields
// a different key; the evaluator flushes the cache whenever the rule set
// snapshot is replaced.
type verdictCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key   string
	value domain.Verdict
}

func newVerdictCache(capacity int) *verdictCache {
	return &verdictCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *verdictCache) Get(key string) (domain.Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return domain.Verdict{}, false
	}
	c.order.MoveToFront(elem)
	item := elem.Value.(cacheItem)
	return item.value, true
}

func (c *verdictCache) Add(key string, value domain.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: value}
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(cacheItem{key: key, value: value})
	c.entries[key] = elem

	if c.order.Len() <= c.max {
		return
	}

	tail := c.order.Back()
	if tail != nil {
		c.order.Remove(tail)
		item := tail.Value.(cacheItem)
		delete(c.entries, item.key)
	}
}

func (c *verdictCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}
