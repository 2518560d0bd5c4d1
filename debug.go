package cascade

import (
	"fmt"
	"os"
)

// globalDebug mirrors the most recently set Traverser debug flag so that
// tree operations (which lack a Traverser pointer) can check it cheaply.
// Only valid with a single Traverser; multiple Traversers with differing
// debug modes will reflect whichever called SetDebugMode last.
var globalDebug bool

// ---- Debug frame verification ----------------------------------------------

// debugCheckFrame re-derives the frame's invariants from the tree and
// reports violations on stderr. Only called when debug mode is enabled; a
// violation means a pass mutated state out of order and is always a bug in
// cascade itself, never in the host.
func (tr *Traverser) debugCheckFrame(root *Tile) {
	var recount Stats
	tr.debugCheckTile(root, &recount)

	if recount != tr.stats {
		tr.debugf("stats mismatch: counted %+v, recorded %+v", recount, tr.stats)
	}
	if root.frame.lastVisited != tr.frameCount {
		tr.debugf("root not visited this frame (lastVisited=%d frame=%d)",
			root.frame.lastVisited, tr.frameCount)
	}
	tr.debugf("frame %d: inFrustum=%d used=%d visible=%d active=%d",
		tr.frameCount, tr.stats.InFrustum, tr.stats.Used, tr.stats.Visible, tr.stats.Active)
}

func (tr *Traverser) debugCheckTile(t *Tile, recount *Stats) {
	if t.frame.lastVisited == tr.frameCount {
		f := &t.frame
		if f.inFrustum {
			recount.InFrustum++
		}
		if f.used {
			recount.Used++
		}
		if f.visible {
			recount.Visible++
		}
		if f.active {
			recount.Active++
		}

		if f.visible && !(f.used && f.inFrustum && !t.ContentEmpty && t.LoadState() == LoadStateLoaded) {
			tr.debugf("tile %q visible without used/inFrustum/loaded content", t.Name)
		}
		if f.inFrustum && !f.used {
			tr.debugf("tile %q in frustum but not used", t.Name)
		}
		if f.isLeaf && !f.used {
			tr.debugf("tile %q marked leaf but not used", t.Name)
		}
		if f.isLeaf {
			for _, c := range t.children {
				if tr.isUsedThisFrame(c) {
					tr.debugf("leaf tile %q has used child %q", t.Name, c.Name)
				}
			}
		}
		if f.used && t.Parent != nil && !tr.isUsedThisFrame(t.Parent) {
			tr.debugf("tile %q used under unused parent %q", t.Name, t.Parent.Name)
		}
	}
	for _, c := range t.children {
		tr.debugCheckTile(c, recount)
	}
}

func (tr *Traverser) debugf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "[cascade] "+format+"\n", args...)
}

// debugCheckTreeDepth warns on stderr if tree depth exceeds the threshold.
// Streaming tilesets deeper than this almost always indicate a malformed
// source (the usable LOD range of a quadtree rarely exceeds ~24 levels).
const debugMaxTreeDepth = 64

func debugCheckTreeDepth(t *Tile) {
	depth := 0
	for p := t; p != nil; p = p.Parent {
		depth++
	}
	if depth > debugMaxTreeDepth {
		_, _ = fmt.Fprintf(os.Stderr, "[cascade] warning: tree depth %d exceeds %d (tile %q)\n",
			depth, debugMaxTreeDepth, t.Name)
	}
}
