package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phanxgames/cascade"
)

const waitTimeout = 5 * time.Second

// loadNotify returns a channel and an OnLoad hook that feeds it.
func loadNotify() (chan *cascade.Tile, func(*cascade.Tile)) {
	ch := make(chan *cascade.Tile, 16)
	return ch, func(t *cascade.Tile) { ch <- t }
}

func awaitTile(t *testing.T, ch <-chan *cascade.Tile) *cascade.Tile {
	t.Helper()
	select {
	case tile := <-ch:
		return tile
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for tile load")
		return nil
	}
}

func TestLoaderLoadsTile(t *testing.T) {
	done, onLoad := loadNotify()
	cache := cascade.NewLRUCache(0, 16, 0, nil)
	loader := NewLoader(FuncSource(func(_ context.Context, uri string) ([]byte, error) {
		return []byte("content of " + uri), nil
	}), Options{Cache: cache, OnLoad: onLoad})
	defer loader.Close()

	tile := cascade.NewTile("west", "tiles/west.b3dm")
	loader.RequestTileContents(tile)

	require.Same(t, tile, awaitTile(t, done))
	assert.Equal(t, cascade.LoadStateLoaded, tile.LoadState())
	require.NotNil(t, tile.Content())
	assert.Equal(t, "content of tiles/west.b3dm", string(tile.Content().Data))
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, int64(len("content of tiles/west.b3dm")), cache.Bytes())
}

func TestLoaderIgnoresEmptyAndLoadedTiles(t *testing.T) {
	var fetches atomic.Int64
	loader := NewLoader(FuncSource(func(context.Context, string) ([]byte, error) {
		fetches.Add(1)
		return nil, nil
	}), Options{})
	defer loader.Close()

	empty := cascade.NewTile("group", "")
	loader.RequestTileContents(empty)

	loaded := cascade.NewTile("done", "done.b3dm")
	loaded.SetLoadState(cascade.LoadStateLoaded)
	loader.RequestTileContents(loaded)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), fetches.Load())
	assert.Equal(t, cascade.LoadStateUnloaded, empty.LoadState())
}

func TestLoaderDedupesInflightURIs(t *testing.T) {
	release := make(chan struct{})
	var fetches atomic.Int64
	done, onLoad := loadNotify()
	loader := NewLoader(FuncSource(func(context.Context, string) ([]byte, error) {
		fetches.Add(1)
		<-release
		return []byte("x"), nil
	}), Options{Workers: 4, OnLoad: onLoad})
	defer loader.Close()

	tile := cascade.NewTile("t", "same.b3dm")
	loader.RequestTileContents(tile)
	loader.RequestTileContents(tile) // already loading
	twin := cascade.NewTile("twin", "same.b3dm")
	loader.RequestTileContents(twin) // same URI in flight

	close(release)
	awaitTile(t, done)
	assert.Equal(t, int64(1), fetches.Load())
	assert.Equal(t, cascade.LoadStateUnloaded, twin.LoadState(),
		"a twin URI should stay requestable until the in-flight fetch finishes")
}

func TestLoaderMarksFailed(t *testing.T) {
	var fetches atomic.Int64
	done, onLoad := loadNotify()
	cache := cascade.NewLRUCache(0, 16, 0, nil)
	loader := NewLoader(FuncSource(func(context.Context, string) ([]byte, error) {
		fetches.Add(1)
		return nil, errors.New("boom")
	}), Options{MaxRetries: 0, Cache: cache, OnLoad: onLoad})
	defer loader.Close()

	tile := cascade.NewTile("bad", "bad.b3dm")
	loader.RequestTileContents(tile)

	awaitTile(t, done)
	assert.Equal(t, cascade.LoadStateFailed, tile.LoadState())
	assert.Nil(t, tile.Content())
	assert.Equal(t, 0, cache.Len(), "failed tiles must be backed out of the cache")

	// The traversal re-requests failed tiles every frame; the loader must
	// not hammer the source for them.
	loader.RequestTileContents(tile)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), fetches.Load())

	// Resetting the tile opts back into a retry.
	cascade.UnloadContent(tile)
	loader.RequestTileContents(tile)
	awaitTile(t, done)
	assert.Equal(t, int64(2), fetches.Load())
}

func TestLoaderRetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int64
	done, onLoad := loadNotify()
	loader := NewLoader(FuncSource(func(context.Context, string) ([]byte, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return []byte("ok"), nil
	}), Options{MaxRetries: 3, OnLoad: onLoad})
	defer loader.Close()

	tile := cascade.NewTile("flaky", "flaky.b3dm")
	loader.RequestTileContents(tile)

	awaitTile(t, done)
	assert.Equal(t, cascade.LoadStateLoaded, tile.LoadState())
	assert.Equal(t, int64(2), attempts.Load())
}

func TestLoaderDecodeHook(t *testing.T) {
	done, onLoad := loadNotify()
	loader := NewLoader(FuncSource(func(context.Context, string) ([]byte, error) {
		return []byte("payload"), nil
	}), Options{
		Decode: func(t *cascade.Tile, data []byte) error {
			if string(data) != "payload" {
				return fmt.Errorf("unexpected data %q", data)
			}
			t.UserData = "decoded"
			return nil
		},
		OnLoad: onLoad,
	})
	defer loader.Close()

	tile := cascade.NewTile("t", "t.b3dm")
	loader.RequestTileContents(tile)

	awaitTile(t, done)
	assert.Equal(t, cascade.LoadStateLoaded, tile.LoadState())
	assert.Equal(t, "decoded", tile.UserData)
}

func TestLoaderDecodeFailureMarksFailed(t *testing.T) {
	done, onLoad := loadNotify()
	loader := NewLoader(FuncSource(func(context.Context, string) ([]byte, error) {
		return []byte("garbage"), nil
	}), Options{
		Decode: func(*cascade.Tile, []byte) error { return errors.New("bad payload") },
		OnLoad: onLoad,
	})
	defer loader.Close()

	tile := cascade.NewTile("t", "t.b3dm")
	loader.RequestTileContents(tile)

	awaitTile(t, done)
	assert.Equal(t, cascade.LoadStateFailed, tile.LoadState())
}

func TestLoaderCloseLeavesTilesRequestable(t *testing.T) {
	done, onLoad := loadNotify()
	cache := cascade.NewLRUCache(0, 16, 0, nil)
	loader := NewLoader(FuncSource(func(ctx context.Context, _ string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), Options{Workers: 1, Cache: cache, OnLoad: onLoad})

	tile := cascade.NewTile("t", "t.b3dm")
	loader.RequestTileContents(tile)
	loader.Close()

	awaitTile(t, done)
	assert.Equal(t, cascade.LoadStateUnloaded, tile.LoadState(),
		"a shutdown is not a load failure")
	assert.Equal(t, 0, cache.Len())

	// Requests after Close are dropped, not queued forever.
	late := cascade.NewTile("late", "late.b3dm")
	loader.RequestTileContents(late)
	assert.Equal(t, cascade.LoadStateUnloaded, late.LoadState())
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.b3dm" {
			_, _ = w.Write([]byte("tile bytes"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	src := &HTTPSource{}
	data, err := src.Fetch(context.Background(), srv.URL+"/ok.b3dm")
	require.NoError(t, err)
	assert.Equal(t, "tile bytes", string(data))

	_, err = src.Fetch(context.Background(), srv.URL+"/missing.b3dm")
	assert.ErrorContains(t, err, "404")
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tiles"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiles", "a.b3dm"), []byte("abc"), 0o644))

	src := &FileSource{Root: dir}
	data, err := src.Fetch(context.Background(), "tiles/a.b3dm")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = src.Fetch(context.Background(), "../outside")
	assert.ErrorContains(t, err, "escapes")

	_, err = src.Fetch(context.Background(), "tiles/missing.b3dm")
	assert.Error(t, err)
}
