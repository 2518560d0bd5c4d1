// Package stream loads tile content asynchronously for a cascade traversal.
//
// A [Loader] implements the fire-and-forget request side of the
// cascade.Renderer contract: RequestTileContents enqueues a fetch and
// returns immediately; a pool of workers pulls the queue, fetches bytes from
// a [Source] with exponential-backoff retries, and publishes the result
// through the tile's atomic load state so the next frame sees it. The loader
// cooperates with a cascade.LRUCache: tiles enter the cache when their
// request is issued, get their byte size recorded on completion, and are
// backed out on failure.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phanxgames/cascade"
)

// Options configures a Loader. The zero value is usable.
type Options struct {
	// Workers is the number of concurrent fetch workers. Default 4.
	Workers int
	// QueueSize bounds the pending request queue. When the queue is full,
	// new requests are dropped and the traversal re-requests on a later
	// frame (saturation, not an error). Default 256.
	QueueSize int
	// MaxRetries is how many times a failed fetch is retried with
	// exponential backoff before the tile is marked failed. Zero (the
	// default) means a failed fetch is not retried.
	MaxRetries uint64
	// Cache, when set, tracks residency: tiles are added on request,
	// sized on completion, and removed on failure.
	Cache *cascade.LRUCache
	// Logger receives structured load logs. Default zap.NewNop().
	Logger *zap.Logger
	// Decode, when set, runs on the fetched bytes before the tile is
	// marked loaded (the tile is in the parsing state meanwhile). A decode
	// error marks the tile failed.
	Decode func(t *cascade.Tile, data []byte) error
	// OnLoad, when set, is called from a worker goroutine after each fetch
	// a worker ran has finished: the tile is then loaded, failed, or back
	// to unloaded (cancelled by Close, or evicted while in flight). Tiles
	// still queued when Close drains the queue are not reported. Used for
	// redraw notifications and test synchronization.
	OnLoad func(t *cascade.Tile)
}

// Loader is an asynchronous tile content loader. Create one with NewLoader
// and hand its RequestTileContents to your Renderer implementation; call
// Close when done.
type Loader struct {
	src   Source
	cache *cascade.LRUCache
	log   *zap.Logger

	maxRetries uint64
	decode     func(t *cascade.Tile, data []byte) error
	onLoad     func(t *cascade.Tile)

	jobs   chan *cascade.Tile
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[uint64]struct{} // xxhash of content URI
}

// NewLoader creates a loader over the given source and starts its workers.
// Panics if src is nil.
func NewLoader(src Source, opts Options) *Loader {
	if src == nil {
		panic("stream: nil source")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		src:        src,
		cache:      opts.Cache,
		log:        log,
		maxRetries: opts.MaxRetries,
		decode:     opts.Decode,
		onLoad:     opts.OnLoad,
		jobs:       make(chan *cascade.Tile, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		inflight:   make(map[uint64]struct{}),
	}
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

// RequestTileContents enqueues a content fetch for the tile and returns
// immediately. Requests for content-empty tiles, tiles already loading or
// loaded, and URIs with a fetch already in flight are no-ops, so the
// traversal may safely re-request every frame.
func (l *Loader) RequestTileContents(t *cascade.Tile) {
	if t.ContentEmpty || t.ContentURI == "" || l.ctx.Err() != nil {
		return
	}
	switch t.LoadState() {
	case cascade.LoadStateLoading, cascade.LoadStateParsing, cascade.LoadStateLoaded:
		return
	case cascade.LoadStateFailed:
		// A failed tile is not retried behind the traversal's back; hosts
		// opt into a retry with cascade.UnloadContent.
		return
	}

	key := xxhash.Sum64String(t.ContentURI)
	l.mu.Lock()
	if _, busy := l.inflight[key]; busy {
		l.mu.Unlock()
		return
	}
	l.inflight[key] = struct{}{}
	l.mu.Unlock()

	t.SetLoadState(cascade.LoadStateLoading)
	if l.cache != nil {
		l.cache.Add(t)
	}

	select {
	case l.jobs <- t:
	default:
		// Queue saturated: back the request out entirely. The tile stays
		// unloaded and the traversal re-requests on a later frame.
		l.forget(key)
		t.SetLoadState(cascade.LoadStateUnloaded)
		if l.cache != nil {
			l.cache.Remove(t)
		}
		l.log.Warn("request queue full, dropping tile request",
			zap.String("tile", t.Name),
			zap.String("uri", t.ContentURI))
	}
}

// Close stops the workers, cancels in-flight fetches, and resets any queued
// tiles back to unloaded. Safe to call once; Request calls after Close are
// dropped by the cancelled context.
func (l *Loader) Close() {
	l.cancel()
	l.wg.Wait()
	for {
		select {
		case t := <-l.jobs:
			l.forget(xxhash.Sum64String(t.ContentURI))
			t.SetLoadState(cascade.LoadStateUnloaded)
			if l.cache != nil {
				l.cache.Remove(t)
			}
		default:
			return
		}
	}
}

func (l *Loader) worker() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case t := <-l.jobs:
			l.load(t)
		}
	}
}

func (l *Loader) load(t *cascade.Tile) {
	key := xxhash.Sum64String(t.ContentURI)
	defer l.forget(key)

	log := l.log.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("tile", t.Name),
		zap.String("uri", t.ContentURI))
	start := time.Now()

	var data []byte
	fetch := func() error {
		var err error
		data, err = l.src.Fetch(l.ctx, t.ContentURI)
		return err
	}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), l.maxRetries), l.ctx)
	if err := backoff.Retry(fetch, bo); err != nil {
		if errors.Is(err, context.Canceled) {
			// Shutdown, not failure: leave the tile requestable.
			t.SetLoadState(cascade.LoadStateUnloaded)
		} else {
			t.SetLoadState(cascade.LoadStateFailed)
			log.Warn("tile fetch failed",
				zap.Error(err),
				zap.Duration("elapsed", time.Since(start)))
		}
		if l.cache != nil {
			l.cache.Remove(t)
		}
		l.notify(t)
		return
	}

	if l.decode != nil {
		t.SetLoadState(cascade.LoadStateParsing)
		if err := l.decode(t, data); err != nil {
			t.SetLoadState(cascade.LoadStateFailed)
			if l.cache != nil {
				l.cache.Remove(t)
			}
			log.Warn("tile decode failed", zap.Error(err))
			l.notify(t)
			return
		}
	}

	if l.cache != nil && !l.cache.SetSize(t, int64(len(data))) {
		// Evicted while the fetch was in flight: drop the payload rather
		// than leave content resident that the cache no longer tracks.
		t.SetLoadState(cascade.LoadStateUnloaded)
		log.Debug("tile evicted mid-flight, dropping payload")
		l.notify(t)
		return
	}

	// Publish content before the loaded state so a reader that observes
	// loaded also observes the payload.
	t.SetContent(&cascade.Content{Data: data})
	t.SetLoadState(cascade.LoadStateLoaded)
	log.Debug("tile loaded",
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))
	l.notify(t)
}

func (l *Loader) forget(key uint64) {
	l.mu.Lock()
	delete(l.inflight, key)
	l.mu.Unlock()
}

func (l *Loader) notify(t *cascade.Tile) {
	if l.onLoad != nil {
		l.onLoad(t)
	}
}
