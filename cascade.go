package cascade

// LoadState describes where a tile's content payload is in its loading
// lifecycle. The traversal core only ever distinguishes LoadStateLoaded from
// everything else; the remaining values exist for loaders and hosts.
type LoadState int32

const (
	// LoadStateUnloaded means no content is resident and no load is in flight.
	LoadStateUnloaded LoadState = iota
	// LoadStateLoading means a content fetch has been issued and has not completed.
	LoadStateLoading
	// LoadStateParsing means content bytes arrived and are being decoded.
	LoadStateParsing
	// LoadStateLoaded means content is resident and the tile may be displayed.
	LoadStateLoaded
	// LoadStateFailed means the most recent load attempt gave up.
	LoadStateFailed
)

// String returns the lowercase name of the load state.
func (s LoadState) String() string {
	switch s {
	case LoadStateUnloaded:
		return "unloaded"
	case LoadStateLoading:
		return "loading"
	case LoadStateParsing:
		return "parsing"
	case LoadStateLoaded:
		return "loaded"
	case LoadStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Content is a tile's loaded payload. Loaders publish it with
// [Tile.SetContent] after a fetch completes; the traversal never reads it.
type Content struct {
	// Data holds the raw content bytes as fetched from the source.
	Data []byte
}

// UnloadContent releases a tile's payload and resets its load state to
// unloaded. Suitable as an [LRUCache] unload callback.
func UnloadContent(t *Tile) {
	t.SetLoadState(LoadStateUnloaded)
	t.SetContent(nil)
}

// Stats holds per-frame traversal counters. They are reset at the start of
// each [Traverser.Update] and are valid after it returns.
type Stats struct {
	// InFrustum counts tiles whose frustum test passed this frame.
	InFrustum int
	// Used counts tiles retained in cache this frame (a superset of InFrustum
	// when sibling loading is enabled).
	Used int
	// Visible counts tiles displayed this frame.
	Visible int
	// Active counts tiles that are live this frame (drawn or contributing to
	// the scene some other way, e.g. shadows).
	Active int
}
