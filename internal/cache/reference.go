// Package cache keeps reference images ready to embed in provider
// requests.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Rrens/imagegen-studio/internal/imaging"
)

const DefaultReferenceCapacity = 20

// DiskLoader reads the authoritative copy of a reference image. A missing
// reference is reported with an error matching fs.ErrNotExist.
type DiskLoader interface {
	Load(ctx context.Context, referenceID string) ([]byte, error)
}

type entry struct {
	id      string
	dataURL string
}

// ReferenceCache is a bounded LRU of reference id to JPEG data URL. Disk
// copies stay authoritative; evicted entries are reloaded on demand.
type ReferenceCache struct {
	capacity int
	disk     DiskLoader

	mu    sync.Mutex
	order *list.List // front is most recently used
	items map[string]*list.Element

	loads singleflight.Group
	// ids with a disk load in flight; true once deleted during that load
	loading map[string]bool
}

// NewReferenceCache creates a cache. A non-positive capacity falls back to
// DefaultReferenceCapacity; disk may be nil.
func NewReferenceCache(capacity int, disk DiskLoader) *ReferenceCache {
	if capacity <= 0 {
		capacity = DefaultReferenceCapacity
	}
	return &ReferenceCache{
		capacity: capacity,
		disk:     disk,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		loading:  make(map[string]bool),
	}
}

// Store inserts or refreshes id as most recently used, evicting the least
// recently used entry when over capacity.
func (c *ReferenceCache) Store(id, dataURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(id, dataURL)
}

func (c *ReferenceCache) storeLocked(id, dataURL string) {
	if el, ok := c.items[id]; ok {
		el.Value.(*entry).dataURL = dataURL
		c.order.MoveToFront(el)
		return
	}
	c.items[id] = c.order.PushFront(&entry{id: id, dataURL: dataURL})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).id)
	}
}

func (c *ReferenceCache) lookup(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[id]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).dataURL, true
}

// Get returns the data URL for id, falling back to the disk copy on a
// miss. The bool is false when the reference exists nowhere. Concurrent
// misses share one disk load, which outlives any single caller's ctx.
func (c *ReferenceCache) Get(ctx context.Context, id string) (string, bool, error) {
	if url, ok := c.lookup(id); ok {
		return url, true, nil
	}
	if c.disk == nil {
		return "", false, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.loads.DoChan(id, func() (any, error) {
		return c.load(loadCtx, id)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case res = <-ch:
	}
	if errors.Is(res.Err, fs.ErrNotExist) {
		return "", false, nil
	}
	if res.Err != nil {
		return "", false, fmt.Errorf("failed to load reference %s: %w", id, res.Err)
	}
	return res.Val.(string), true, nil
}

// load reads id from disk and caches it unless Delete ran meanwhile.
func (c *ReferenceCache) load(ctx context.Context, id string) (string, error) {
	c.mu.Lock()
	c.loading[id] = false
	c.mu.Unlock()

	data, err := c.disk.Load(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	deleted := c.loading[id]
	delete(c.loading, id)
	if err != nil {
		return "", err
	}

	url := imaging.EncodeDataURL(data, "image/jpeg")
	if !deleted {
		c.storeLocked(id, url)
		log.Debug().Str("reference_id", id).Msg("Reference reloaded from disk")
	}
	return url, nil
}

// Delete drops id from memory only. Removing the disk copy is the caller's
// job.
func (c *ReferenceCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		c.order.Remove(el)
		delete(c.items, id)
	}
	if _, ok := c.loading[id]; ok {
		c.loading[id] = true
	}
}

// Len returns the number of cached entries
func (c *ReferenceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// ResolveReferenceURLs turns reference ids into data URLs. The primary
// reference is returned separately; the style reference and then character
// references make up the additional list. Unknown ids are skipped.
func (c *ReferenceCache) ResolveReferenceURLs(ctx context.Context, primaryID, styleID string, characterIDs []string) (string, []string, error) {
	var primary string
	if primaryID != "" {
		url, _, err := c.Get(ctx, primaryID)
		if err != nil {
			return "", nil, err
		}
		primary = url
	}

	var additional []string
	ids := make([]string, 0, 1+len(characterIDs))
	if styleID != "" {
		ids = append(ids, styleID)
	}
	ids = append(ids, characterIDs...)

	for _, id := range ids {
		url, ok, err := c.Get(ctx, id)
		if err != nil {
			return "", nil, err
		}
		if ok {
			additional = append(additional, url)
		}
	}
	return primary, additional, nil
}
