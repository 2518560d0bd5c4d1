// Package cascade is the per-frame traversal core of a hierarchical 3D tile
// streaming engine.
//
// Given a rooted tree of spatial [Tile] values with progressively refined
// content, a [Traverser] decides each frame which tiles are in view, which
// should be requested from backing storage, which should be displayed, and
// which should be hidden or retired — subject to a bounded content cache and
// a screen-space error budget.
//
// # Frame loop
//
// Cascade plugs into a host rendering loop through two small contracts: the
// [Renderer] callbacks (frustum testing, error projection, content requests,
// display toggles) and the [ContentCache] residency operations. A frame is
// one call to [Traverser.Update] followed by cache collection:
//
//	tr := cascade.NewTraverser(myRenderer, cache)
//	for running {
//		stats := tr.Update(root)
//		cache.UnloadUnused()
//		// ... draw tiles with Visible() set ...
//		_ = stats
//	}
//
// Update runs four passes in a fixed order (frustum, leaf mark, skip,
// toggle). The walk is single-goroutine; tile loads complete asynchronously
// (see the stream subpackage) and become visible to the next frame through
// each tile's atomic load state.
//
// # Tile trees
//
// Tiles are built once, parents exclusively own children, and the tree must
// not change while Update runs. Build trees by hand with [NewTile] and
// [Tile.AddChild], or parse a tileset description with the tileset
// subpackage.
//
// # Subpackages
//
// The tileset package parses 3D-Tiles-style tileset JSON into a Tile tree.
// The stream package is an asynchronous content loader that pairs with
// [LRUCache] and implements the fire-and-forget request side of the
// Renderer contract.
package cascade
