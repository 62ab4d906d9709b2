// Package handles caches operating system handles opened on behalf of
// debugging sessions, such as Windows process and thread handles.
package handles

import (
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Kind identifies what a cached handle refers to.
type Kind uint8

const (
	KindProcess Kind = iota
	KindThread
)

func (k Kind) String() string {
	switch k {
	case KindProcess:
		return "process"
	case KindThread:
		return "thread"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Key names one handle. Pid is the process owning it, ID is the process or
// thread id the handle was opened for.
type Key struct {
	Kind Kind
	Pid  int
	ID   int
}

// Opener is implemented by backends whose native API works on handles that
// are worth keeping open between calls.
type Opener interface {
	OpenHandle(key Key) (io.Closer, error)
}

// Cache is a bounded LRU cache of open handles. Evicted handles are closed.
type Cache struct {
	mu     sync.Mutex
	opener Opener
	lru    *lru.Cache
}

// New returns a cache holding at most size handles opened with opener.
func New(size int, opener Opener) (*Cache, error) {
	l, err := lru.NewWithEvict(size, func(_, value interface{}) {
		value.(io.Closer).Close()
	})
	if err != nil {
		return nil, err
	}
	return &Cache{opener: opener, lru: l}, nil
}

// Get returns the handle for key, opening it on first use.
func (c *Cache) Get(key Key) (io.Closer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.lru.Get(key); ok {
		return v.(io.Closer), nil
	}
	h, err := c.opener.OpenHandle(key)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, h)
	return h, nil
}

// Invalidate closes and forgets every handle owned by pid.
func (c *Cache) Invalidate(pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.lru.Keys() {
		if k.(Key).Pid == pid {
			c.lru.Remove(k)
		}
	}
}

// Len returns the number of open handles.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge closes every cached handle.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}

// Remove closes and forgets the handle for key, if it is cached.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
}
