package cascade

// Renderer is the traversal's window onto the host rendering system. All
// geometry (frustum testing, error projection) and all content handling
// (fetching, upload, display toggling) live behind this interface.
//
// Every method must be total: the traversal has no error path and assumes
// callbacks return. Callbacks are invoked on the traversal goroutine only.
type Renderer interface {
	// TileInView reports whether any part of the tile intersects the
	// camera's view volume this frame.
	TileInView(t *Tile) bool

	// CalculateError returns the tile's projected screen-space error.
	// Called once per frame per in-frustum tile with content.
	CalculateError(t *Tile) float64

	// RequestTileContents asks the host to begin loading the tile's content.
	// Fire-and-forget: it must return without awaiting I/O. The traversal
	// may request the same tile on consecutive frames until its load state
	// becomes LoadStateLoaded; implementations are expected to treat a
	// request for a tile that is already loading as a no-op (see
	// stream.Loader).
	RequestTileContents(t *Tile)

	// SetTileVisible and SetTileActive toggle the tile's display state.
	// Only fired on transitions: each carries the new value, and a value is
	// re-delivered only after it has changed.
	//
	// Note the transposition: SetTileVisible receives the tile's ACTIVE
	// flag and SetTileActive receives its VISIBLE flag. This mirrors the
	// engine cascade was ported from, and downstream renderers depend on
	// it; see the release notes in README.md before "fixing" it.
	SetTileVisible(t *Tile, active bool)
	SetTileActive(t *Tile, visible bool)
}

// ContentCache is the bounded residency store for tile content. The
// traversal marks tiles used as it walks and stops issuing content requests
// while the cache reports full; eviction policy is the cache's own business.
// LRUCache is the provided implementation.
type ContentCache interface {
	// MarkUsed refreshes the tile's residency for the current frame.
	// Idempotent within a frame. Unknown tiles are ignored.
	MarkUsed(t *Tile)

	// IsFull reports whether the cache is at capacity. While full, the
	// traversal suppresses further RequestTileContents calls; no error is
	// raised (saturation is the only backpressure).
	IsFull() bool
}
