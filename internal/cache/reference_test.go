package cache_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/imagegen-studio/internal/cache"
	"github.com/Rrens/imagegen-studio/internal/imaging"
)

type fakeDisk struct {
	files map[string][]byte
	loads atomic.Int32
	err   error
}

func (d *fakeDisk) Load(_ context.Context, id string) ([]byte, error) {
	d.loads.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	data, ok := d.files[id]
	if !ok {
		return nil, fmt.Errorf("open %s.jpg: %w", id, fs.ErrNotExist)
	}
	return data, nil
}

func TestReferenceCache_LRUEviction(t *testing.T) {
	ctx := context.Background()
	c := cache.NewReferenceCache(3, nil)

	c.Store("a", "A")
	c.Store("b", "B")
	c.Store("c", "C")

	// touch a so b becomes least recently used
	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	c.Store("d", "D")
	assert.Equal(t, 3, c.Len())

	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted")
	for _, id := range []string{"a", "c", "d"} {
		_, ok, _ = c.Get(ctx, id)
		assert.True(t, ok, id)
	}
}

func TestReferenceCache_StoreUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	c := cache.NewReferenceCache(2, nil)

	c.Store("a", "A1")
	c.Store("b", "B")
	c.Store("a", "A2")
	c.Store("c", "C")

	url, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A2", url)
	assert.Equal(t, 2, c.Len())
}

func TestReferenceCache_DefaultCapacity(t *testing.T) {
	c := cache.NewReferenceCache(0, nil)
	for i := 0; i < cache.DefaultReferenceCapacity+5; i++ {
		c.Store(fmt.Sprintf("r%d", i), "x")
	}
	assert.Equal(t, cache.DefaultReferenceCapacity, c.Len())
}

func TestReferenceCache_DiskFallback(t *testing.T) {
	ctx := context.Background()
	disk := &fakeDisk{files: map[string][]byte{"ref": []byte("jpeg-bytes")}}
	c := cache.NewReferenceCache(2, disk)

	url, ok, err := c.Get(ctx, "ref")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, imaging.EncodeDataURL([]byte("jpeg-bytes"), "image/jpeg"), url)
	assert.Equal(t, 1, c.Len())

	// second read is served from memory
	_, _, err = c.Get(ctx, "ref")
	require.NoError(t, err)
	assert.Equal(t, int32(1), disk.loads.Load())

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReferenceCache_DiskError(t *testing.T) {
	disk := &fakeDisk{err: errors.New("permission denied")}
	c := cache.NewReferenceCache(2, disk)

	_, ok, err := c.Get(context.Background(), "ref")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestReferenceCache_DeleteKeepsDisk(t *testing.T) {
	ctx := context.Background()
	disk := &fakeDisk{files: map[string][]byte{"ref": []byte("x")}}
	c := cache.NewReferenceCache(2, disk)

	c.Store("ref", "cached")
	c.Delete("ref")
	assert.Equal(t, 0, c.Len())

	url, ok, err := c.Get(ctx, "ref")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, "cached", url)
}

func TestReferenceCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := cache.NewReferenceCache(5, &fakeDisk{files: map[string][]byte{}})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("r%d", i%8)
			c.Store(id, id)
			_, _, _ = c.Get(ctx, id)
			if i%3 == 0 {
				c.Delete(id)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 5)
}

func TestResolveReferenceURLs(t *testing.T) {
	ctx := context.Background()
	c := cache.NewReferenceCache(10, &fakeDisk{files: map[string][]byte{}})
	c.Store("primary", "P")
	c.Store("style", "S")
	c.Store("char1", "C1")
	c.Store("char2", "C2")

	primary, additional, err := c.ResolveReferenceURLs(ctx, "primary", "style", []string{"char1", "gone", "char2"})
	require.NoError(t, err)
	assert.Equal(t, "P", primary)
	assert.Equal(t, []string{"S", "C1", "C2"}, additional)

	primary, additional, err = c.ResolveReferenceURLs(ctx, "", "", nil)
	require.NoError(t, err)
	assert.Empty(t, primary)
	assert.Empty(t, additional)
}

type blockingDisk struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingDisk() *blockingDisk {
	return &blockingDisk{started: make(chan struct{}), release: make(chan struct{})}
}

func (d *blockingDisk) Load(ctx context.Context, _ string) ([]byte, error) {
	d.once.Do(func() { close(d.started) })
	select {
	case <-d.release:
		return []byte("jpeg"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestReferenceCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	disk := newBlockingDisk()
	c := cache.NewReferenceCache(2, disk)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.Get(ctx, "ref")
		firstErr <- err
	}()
	<-disk.started
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	type result struct {
		url string
		ok  bool
		err error
	}
	second := make(chan result, 1)
	go func() {
		url, ok, err := c.Get(context.Background(), "ref")
		second <- result{url, ok, err}
	}()
	close(disk.release)

	got := <-second
	require.NoError(t, got.err)
	assert.True(t, got.ok)
	assert.Equal(t, imaging.EncodeDataURL([]byte("jpeg"), "image/jpeg"), got.url)
}

func TestReferenceCache_DeleteDuringLoadIsNotUndone(t *testing.T) {
	disk := newBlockingDisk()
	c := cache.NewReferenceCache(2, disk)

	done := make(chan bool, 1)
	go func() {
		_, ok, _ := c.Get(context.Background(), "ref")
		done <- ok
	}()
	<-disk.started
	c.Delete("ref")
	close(disk.release)

	assert.True(t, <-done)
	assert.Equal(t, 0, c.Len())
}
