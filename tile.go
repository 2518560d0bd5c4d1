package cascade

import "sync/atomic"

// --- ID counter ---

// tileIDCounter is a plain counter (no atomic — trees are built on one goroutine).
var tileIDCounter uint32

func nextTileID() uint32 {
	tileIDCounter++
	return tileIDCounter
}

// frameState is the block of transient per-frame fields attached to a Tile.
// Fields are meaningful only while lastVisited equals the traverser's current
// frame counter; resetFrameState overwrites the whole block on first touch.
type frameState struct {
	lastVisited         uint64
	used                bool
	inFrustum           bool
	isLeaf              bool
	visible             bool
	active              bool
	childrenWereVisible bool
	err                 float64
}

// Tile is a node in the spatial hierarchy. A single flat struct carries the
// persistent structure, the transient per-frame block, and the cross-frame
// toggle memory, avoiding interface dispatch on the traversal hot path.
//
// Structural fields are immutable during a frame: the tree must not be
// mutated between the start and end of a [Traverser.Update] call. The load
// state and content payload are the only fields written from other
// goroutines, and both are published atomically.
type Tile struct {
	// Identity

	// ID is a unique auto-assigned identifier (never zero for live tiles).
	ID uint32
	// Name is a human-readable label for debugging; not used for lookups.
	Name string

	// Hierarchy

	// Parent points to this tile's parent, or nil for the root.
	Parent   *Tile
	children []*Tile
	// Depth is the distance from the root (root has depth 0).
	// Maintained by AddChild; do not write directly.
	Depth int

	// Content description (set at tree construction)

	// ContentEmpty is true when this tile has no renderable payload and
	// exists only to refine its children. Content-empty tiles are never
	// displayed and never requested.
	ContentEmpty bool
	// ContentURI locates this tile's content in backing storage. Empty for
	// content-empty tiles.
	ContentURI string
	// GeometricError is the error, in scene units, introduced by rendering
	// this tile instead of its children. Renderers project it to screen
	// space in their CalculateError callback.
	GeometricError float64
	// UserData is an arbitrary value the application can attach to a tile
	// (bounding volumes, source metadata, render handles).
	UserData any

	// Load state and payload, published atomically by loaders.
	loadState atomic.Int32
	content   atomic.Pointer[Content]

	// Transient per-frame block (owned by the traversal).
	frame frameState

	// Cross-frame toggle memory.
	wasSetVisible bool
	wasSetActive  bool
	usedLastFrame bool
}

// NewTile creates a tile with the given name and content URI. A tile with an
// empty URI is content-empty.
func NewTile(name, contentURI string) *Tile {
	return &Tile{
		ID:           nextTileID(),
		Name:         name,
		ContentURI:   contentURI,
		ContentEmpty: contentURI == "",
	}
}

// --- Load state and content ---

// LoadState returns the tile's current load state. Safe to call from any
// goroutine.
func (t *Tile) LoadState() LoadState {
	return LoadState(t.loadState.Load())
}

// SetLoadState publishes a new load state. Loaders call this from worker
// goroutines; the traversal only ever reads.
func (t *Tile) SetLoadState(s LoadState) {
	t.loadState.Store(int32(s))
}

// Content returns the tile's payload, or nil if none is resident.
func (t *Tile) Content() *Content {
	return t.content.Load()
}

// SetContent publishes the tile's payload. Pass nil to release it.
// Publish content before setting the load state to LoadStateLoaded so a
// reader that observes the loaded state also observes the payload.
func (t *Tile) SetContent(c *Content) {
	t.content.Store(c)
}

// --- Frame state accessors ---
// These report the outcome of the most recent Traverser.Update that reached
// this tile. Values from earlier frames are stale; hosts that need to
// distinguish use Traverser.IsUsed.

// Used reports whether the tile was retained in cache by the last traversal
// that touched it.
func (t *Tile) Used() bool { return t.frame.used }

// InFrustum reports whether the tile's frustum test passed.
func (t *Tile) InFrustum() bool { return t.frame.inFrustum }

// IsLeaf reports whether the tile had no used descendants.
func (t *Tile) IsLeaf() bool { return t.frame.isLeaf }

// Visible reports whether the tile should be displayed.
func (t *Tile) Visible() bool { return t.frame.visible }

// Active reports whether the tile is live (drawn or otherwise contributing).
func (t *Tile) Active() bool { return t.frame.active }

// Error returns the screen-space error recorded by the frustum pass, or 0 if
// the tile is content-empty or was not reached.
func (t *Tile) Error() float64 { return t.frame.err }

// --- Tree manipulation ---

// AddChild appends child to this tile's children and recomputes subtree
// depths. If child already has a parent, it is removed from that parent
// first. Panics if child is nil or child is an ancestor of this tile (cycle).
func (t *Tile) AddChild(child *Tile) {
	if child == nil {
		panic("cascade: cannot add nil child")
	}
	if isAncestor(child, t) {
		panic("cascade: adding child would create a cycle")
	}
	if child.Parent != nil {
		child.Parent.removeChildByPtr(child)
	}
	child.Parent = t
	t.children = append(t.children, child)
	setSubtreeDepth(child, t.Depth+1)
	if globalDebug {
		debugCheckTreeDepth(child)
	}
}

// RemoveChild detaches child from this tile.
// Panics if child.Parent != t.
func (t *Tile) RemoveChild(child *Tile) {
	if child.Parent != t {
		panic("cascade: child's parent is not this tile")
	}
	t.removeChildByPtr(child)
	child.Parent = nil
	setSubtreeDepth(child, 0)
}

// Children returns the child list in declared order. The returned slice MUST
// NOT be mutated by the caller.
func (t *Tile) Children() []*Tile {
	return t.children
}

// NumChildren returns the number of children.
func (t *Tile) NumChildren() int {
	return len(t.children)
}

// ChildAt returns the child at the given index.
// Panics if the index is out of range.
func (t *Tile) ChildAt(index int) *Tile {
	return t.children[index]
}

// Walk calls fn for every tile in the subtree rooted at t, pre-order,
// children in declared order. Returning false from fn skips the subtree
// below that tile.
func (t *Tile) Walk(fn func(*Tile) bool) {
	if !fn(t) {
		return
	}
	for _, c := range t.children {
		c.Walk(fn)
	}
}

// --- Helpers ---

// isAncestor reports whether candidate is an ancestor of tile.
func isAncestor(candidate, tile *Tile) bool {
	for p := tile; p != nil; p = p.Parent {
		if p == candidate {
			return true
		}
	}
	return false
}

// removeChildByPtr removes child from t.children without clearing
// child.Parent. Uses copy+nil to avoid retaining a dangling pointer in the
// backing array.
func (t *Tile) removeChildByPtr(child *Tile) {
	for i, c := range t.children {
		if c == child {
			copy(t.children[i:], t.children[i+1:])
			t.children[len(t.children)-1] = nil
			t.children = t.children[:len(t.children)-1]
			return
		}
	}
}

func setSubtreeDepth(t *Tile, depth int) {
	t.Depth = depth
	for _, c := range t.children {
		setSubtreeDepth(c, depth+1)
	}
}
