package cascade

// Traverser drives the per-frame tile tree walk. Each Update runs four
// passes over the same tree, strictly in order:
//
//  1. frustum pass — determineFrustumSet marks the in-view used set and
//     records each tile's screen-space error.
//  2. leaf mark pass — markUsedSetLeaves marks used tiles with no used
//     children as leaves and aggregates last frame's visibility upward.
//  3. skip pass — skipTraversal decides which used tiles become visible or
//     active and which should be requested from backing storage.
//  4. toggle pass — toggleTiles diffs the decisions against last frame and
//     fires the minimal set of renderer callbacks.
//
// A Traverser is single-goroutine: no pass may run concurrently with
// another, and the tree, cache, and stats are exclusively the traversal's
// during Update. Content loads completing on other goroutines become visible
// to the next frame through the tiles' atomic load state.
type Traverser struct {
	renderer Renderer
	cache    ContentCache

	// ErrorTarget is the screen-space error goal. A tile whose projected
	// error is at or below it refines finely enough and is not subdivided.
	ErrorTarget float64
	// ErrorThreshold scales ErrorTarget into the looser "good enough to
	// display this tile instead of its children" bound used by the skip
	// pass (errorRequirement = ErrorTarget * ErrorThreshold).
	ErrorThreshold float64
	// MaxDepth caps recursion depth. 0 disables the cutoff.
	MaxDepth int
	// LoadSiblings keeps the siblings of used tiles resident so small
	// camera motions do not cause immediate cache misses.
	LoadSiblings bool

	frameCount uint64
	stats      Stats
	debug      bool
}

// Default traversal tuning. An ErrorTarget of 6 pixels with a threshold of 6
// stops refinement at 6 pixels of error and lets a loaded parent whose error
// is within 36 pixels be displayed in place of children that are still
// loading.
const (
	DefaultErrorTarget    = 6.0
	DefaultErrorThreshold = 6.0
)

// NewTraverser creates a traverser bound to a renderer and a content cache.
// Panics if either is nil.
func NewTraverser(renderer Renderer, cache ContentCache) *Traverser {
	if renderer == nil {
		panic("cascade: nil renderer")
	}
	if cache == nil {
		panic("cascade: nil cache")
	}
	return &Traverser{
		renderer:       renderer,
		cache:          cache,
		ErrorTarget:    DefaultErrorTarget,
		ErrorThreshold: DefaultErrorThreshold,
		LoadSiblings:   true,
	}
}

// FrameCount returns the current frame counter. It advances by one at the
// start of every Update and never decreases.
func (tr *Traverser) FrameCount() uint64 { return tr.frameCount }

// Stats returns the counters gathered by the most recent Update.
func (tr *Traverser) Stats() Stats { return tr.stats }

// SetDebugMode enables or disables debug mode. When enabled, frame
// invariants are verified after every Update and violations are reported on
// stderr.
func (tr *Traverser) SetDebugMode(enabled bool) {
	tr.debug = enabled
	globalDebug = enabled
}

// Update runs one frame of traversal over the tree rooted at root and
// returns the frame's stats. The tree must not be mutated while Update runs.
func (tr *Traverser) Update(root *Tile) Stats {
	if root == nil {
		panic("cascade: Update on nil root")
	}
	tr.frameCount++
	tr.stats = Stats{}

	tr.determineFrustumSet(root)
	tr.markUsedSetLeaves(root)
	tr.skipTraversal(root)
	tr.toggleTiles(root)

	if tr.debug {
		tr.debugCheckFrame(root)
	}
	return tr.stats
}

// --- Frame state pass ---

// resetFrameState lazily transitions a tile's transient block into the
// current frame. Idempotent within a frame; this is the sole entry point
// that does so, which is what keeps stale flags from prior frames inert.
func (tr *Traverser) resetFrameState(t *Tile) {
	if t.frame.lastVisited == tr.frameCount {
		return
	}
	t.frame = frameState{lastVisited: tr.frameCount}
}

// isUsedThisFrame reports whether the tile is in the current frame's used
// set. The lastVisited guard is essential: the toggle and sibling passes
// touch tiles that no traversal reset this frame, whose flags are stale.
func (tr *Traverser) isUsedThisFrame(t *Tile) bool {
	return t.frame.lastVisited == tr.frameCount && t.frame.used
}

// IsUsed reports whether the tile is in the used set of the most recent
// Update. Exposed for hosts and caches that inspect tiles between frames.
func (tr *Traverser) IsUsed(t *Tile) bool { return tr.isUsedThisFrame(t) }

// --- Frustum pass ---

// determineFrustumSet recursively marks the in-frustum used set and records
// each tile's screen-space error. Returns whether any part of the subtree is
// in frustum and used.
func (tr *Traverser) determineFrustumSet(t *Tile) bool {
	tr.resetFrameState(t)

	if !tr.renderer.TileInView(t) {
		return false
	}
	t.frame.used = true
	t.frame.inFrustum = true
	tr.stats.InFrustum++
	tr.cache.MarkUsed(t)

	// Once a tile's projected error is below target, subdividing further
	// wastes cache and bandwidth.
	if !t.ContentEmpty {
		t.frame.err = tr.renderer.CalculateError(t)
		if t.frame.err <= tr.ErrorTarget {
			return true
		}
	}

	if tr.MaxDepth > 0 && t.Depth+1 >= tr.MaxDepth {
		return true
	}

	anyChildrenUsed := false
	for _, c := range t.children {
		if tr.determineFrustumSet(c) {
			anyChildrenUsed = true
		}
	}

	// Keep siblings of used tiles resident so camera motion does not cause
	// immediate cache misses. Descends through content-empty tiles only,
	// stopping at (and including) the first tile with content.
	if anyChildrenUsed && tr.LoadSiblings {
		for _, c := range t.children {
			tr.markUsedDown(c)
		}
	}
	return true
}

// markUsedDown marks t used and, while t is content-empty, continues into
// its children. Tiles already in the used set are left alone.
func (tr *Traverser) markUsedDown(t *Tile) {
	tr.resetFrameState(t)
	if t.frame.used {
		return
	}
	t.frame.used = true
	tr.cache.MarkUsed(t)
	if t.ContentEmpty {
		for _, c := range t.children {
			tr.markUsedDown(c)
		}
	}
}

// --- Leaf mark pass ---

// markUsedSetLeaves marks used tiles with no used children as this frame's
// leaves, and aggregates childrenWereVisible from the PRIOR frame's toggle
// outcomes. That aggregate is the hysteresis signal the skip pass reads.
func (tr *Traverser) markUsedSetLeaves(t *Tile) {
	if !tr.isUsedThisFrame(t) {
		return
	}
	tr.stats.Used++

	anyChildrenUsed := false
	for _, c := range t.children {
		if tr.isUsedThisFrame(c) {
			anyChildrenUsed = true
			break
		}
	}
	if !anyChildrenUsed {
		t.frame.isLeaf = true
		return
	}

	for _, c := range t.children {
		if tr.isUsedThisFrame(c) {
			tr.markUsedSetLeaves(c)
		}
		// wasSetVisible is last frame's toggle outcome; the child's own
		// childrenWereVisible is only meaningful if it was reset this frame.
		if c.wasSetVisible || (c.frame.lastVisited == tr.frameCount && c.frame.childrenWereVisible) {
			t.frame.childrenWereVisible = true
		}
	}
}

// --- Skip pass ---

// skipTraversal decides, within the used set, which tiles become visible or
// active this frame and which should be requested from backing storage.
func (tr *Traverser) skipTraversal(t *Tile) {
	if !tr.isUsedThisFrame(t) {
		return
	}

	hasContent := !t.ContentEmpty
	loadedContent := hasContent && t.LoadState() == LoadStateLoaded

	if t.frame.isLeaf {
		if loadedContent {
			tr.markVisibleActive(t)
		} else if hasContent && !tr.cache.IsFull() {
			tr.renderer.RequestTileContents(t)
		}
		return
	}

	errorRequirement := tr.ErrorTarget * tr.ErrorThreshold
	meetsSSE := t.frame.err <= errorRequirement

	// Whether every used child has renderable content resident. The parent's
	// ContentEmpty (not the child's) makes the predicate trivially true for
	// structural tiles; this matches the engine cascade was ported from.
	allChildrenHaveContent := true
	for _, c := range t.children {
		if !tr.isUsedThisFrame(c) {
			continue
		}
		if !(c.LoadState() == LoadStateLoaded || t.ContentEmpty) {
			allChildrenHaveContent = false
		}
	}

	if meetsSSE && !loadedContent && hasContent && !tr.cache.IsFull() {
		tr.renderer.RequestTileContents(t)
	}

	// Show the parent while children load — unless children were already
	// showing last frame, in which case a transient eviction must not
	// regress to the parent LOD.
	if meetsSSE && !allChildrenHaveContent && !t.frame.childrenWereVisible {
		if loadedContent {
			tr.markVisibleActive(t)
			for _, c := range t.children {
				if tr.isUsedThisFrame(c) && !tr.cache.IsFull() {
					tr.renderer.RequestTileContents(c)
				}
			}
		}
		return
	}

	for _, c := range t.children {
		if tr.isUsedThisFrame(c) {
			tr.skipTraversal(c)
		}
	}
}

// markVisibleActive applies the display rule for a tile with loaded content:
// visible only when in frustum, active unconditionally (an out-of-frustum
// tile can still cast shadows).
func (tr *Traverser) markVisibleActive(t *Tile) {
	if t.frame.inFrustum {
		t.frame.visible = true
		tr.stats.Visible++
	}
	t.frame.active = true
	tr.stats.Active++
}

// --- Toggle pass ---

// toggleTiles walks every tile that is used this frame or was used last
// frame, fires the minimal renderer toggle callbacks, and advances the
// cross-frame fields. Subtrees outside both frames' used sets are inert.
func (tr *Traverser) toggleTiles(t *Tile) {
	isUsed := tr.isUsedThisFrame(t)
	if !isUsed && !t.usedLastFrame {
		return
	}

	var setActive, setVisible bool
	if isUsed {
		setActive = t.frame.active
		setVisible = t.frame.active || t.frame.visible
	}

	// The visible/active transposition below is deliberate; see the
	// Renderer interface docs.
	if !t.ContentEmpty && t.LoadState() == LoadStateLoaded {
		if t.wasSetActive != setActive {
			tr.renderer.SetTileVisible(t, setActive)
		}
		if t.wasSetVisible != setVisible {
			tr.renderer.SetTileActive(t, setVisible)
		}
	}
	t.wasSetActive = setActive
	t.wasSetVisible = setVisible
	t.usedLastFrame = isUsed

	for _, c := range t.children {
		tr.toggleTiles(c)
	}
}
