package symbols

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCacheSize is the number of binaries whose symbols are kept.
const DefaultCacheSize = 64

type cacheKey struct {
	path  string
	mtime time.Time
	size  int64
}

type entry struct {
	table *Table
	notes []Note
	// notesRead distinguishes "no notes" from "not read yet".
	notesRead bool
}

// Cache memoizes symbol tables and USDT notes per binary. A binary
// that changes on disk is read again.
type Cache struct {
	logger *slog.Logger

	mu  sync.Mutex
	lru *simplelru.LRU[cacheKey, *entry]

	load     func(string) (*Table, error)
	readUSDT func(string) ([]Note, error)
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// NewCache returns a cache holding at most size binaries.
func NewCache(size int, opts ...CacheOption) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	lru, err := simplelru.NewLRU[cacheKey, *entry](size, nil)
	if err != nil {
		return nil, fmt.Errorf("create symbol cache: %w", err)
	}
	c := &Cache{
		logger:   slog.Default(),
		lru:      lru,
		load:     Load,
		readUSDT: ReadUSDT,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) entry(path string) (*entry, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	key := cacheKey{path: path, mtime: fi.ModTime(), size: fi.Size()}
	if e, ok := c.lru.Get(key); ok {
		return e, nil
	}
	e := &entry{}
	c.lru.Add(key, e)
	return e, nil
}

// Table returns the function symbols of the binary at path.
func (c *Cache) Table(path string) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.entry(path)
	if err != nil {
		return nil, err
	}
	if e.table == nil {
		t, err := c.load(path)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("loaded symbols", "path", path, "count", t.Len())
		e.table = t
	}
	return e.table, nil
}

// USDT returns the USDT notes of the binary at path.
func (c *Cache) USDT(path string) ([]Note, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.entry(path)
	if err != nil {
		return nil, err
	}
	if !e.notesRead {
		notes, err := c.readUSDT(path)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("loaded usdt notes", "path", path, "count", len(notes))
		e.notes = notes
		e.notesRead = true
	}
	return e.notes, nil
}

// Len is the number of binaries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
