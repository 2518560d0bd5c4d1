// Package tileset parses 3D-Tiles-style tileset descriptions into cascade
// tile trees.
//
// A tileset is a JSON document with an asset header and a rooted tree of
// tiles, each carrying a bounding volume, a geometric error, an optional
// content URI, and children that refine it. Parsing produces the
// [cascade.Tile] tree the traversal core walks; the geometric metadata each
// tile needs at render time is attached through the tile's UserData (see
// [Info]).
package tileset

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/phanxgames/cascade"
)

// RefineMode says how a tile's children relate to its own content.
type RefineMode string

const (
	// RefineReplace means children replace the parent's content entirely.
	RefineReplace RefineMode = "REPLACE"
	// RefineAdd means children render in addition to the parent's content.
	RefineAdd RefineMode = "ADD"
)

// Asset is the tileset header.
type Asset struct {
	// Version is the tileset format version, e.g. "1.0".
	Version string `json:"version"`
	// TilesetVersion is an optional application-specific revision tag.
	TilesetVersion string `json:"tilesetVersion,omitempty"`
}

// BoundingVolume is a tile's spatial bound, exactly one of the three forms.
//
// Box is 12 numbers: center, then the X/Y/Z half-axis vectors of an oriented
// box. Region is [west, south, east, north, minHeight, maxHeight] in
// radians/meters. Sphere is [centerX, centerY, centerZ, radius].
type BoundingVolume struct {
	Box    []float64 `json:"box,omitempty"`
	Region []float64 `json:"region,omitempty"`
	Sphere []float64 `json:"sphere,omitempty"`
}

func (v *BoundingVolume) validate() error {
	set := 0
	if v.Box != nil {
		if len(v.Box) != 12 {
			return fmt.Errorf("box needs 12 numbers, got %d", len(v.Box))
		}
		set++
	}
	if v.Region != nil {
		if len(v.Region) != 6 {
			return fmt.Errorf("region needs 6 numbers, got %d", len(v.Region))
		}
		set++
	}
	if v.Sphere != nil {
		if len(v.Sphere) != 4 {
			return fmt.Errorf("sphere needs 4 numbers, got %d", len(v.Sphere))
		}
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of box/region/sphere required, got %d", set)
	}
	return nil
}

// TileInfo is the per-tile metadata parsed from the tileset, attached to
// each produced tile's UserData. Renderers read it to implement frustum
// testing and error projection.
type TileInfo struct {
	// Bounds is the tile's bounding volume.
	Bounds BoundingVolume
	// Refine is the effective refinement mode (inherited from the nearest
	// ancestor that declared one; the root defaults to REPLACE).
	Refine RefineMode
}

// Info returns the TileInfo attached to a tile produced by Parse, or nil for
// tiles built some other way.
func Info(t *cascade.Tile) *TileInfo {
	info, _ := t.UserData.(*TileInfo)
	return info
}

// Tileset is a parsed tileset document.
type Tileset struct {
	// Asset is the tileset header.
	Asset Asset
	// GeometricError is the error of the whole tileset when nothing of it
	// is rendered.
	GeometricError float64
	// Root is the tile tree, ready for a cascade.Traverser.
	Root *cascade.Tile
}

// JSON wire structures. Content "url" is the pre-1.0 spelling of "uri";
// both are accepted, uri wins.
type tilesetJSON struct {
	Asset          *Asset    `json:"asset"`
	GeometricError *float64  `json:"geometricError"`
	Root           *tileJSON `json:"root"`
}

type tileJSON struct {
	BoundingVolume *BoundingVolume `json:"boundingVolume"`
	GeometricError *float64        `json:"geometricError"`
	Refine         string          `json:"refine,omitempty"`
	Content        *contentJSON    `json:"content,omitempty"`
	Children       []tileJSON      `json:"children,omitempty"`
}

type contentJSON struct {
	URI string `json:"uri,omitempty"`
	URL string `json:"url,omitempty"`
}

func (c *contentJSON) uri() string {
	if c == nil {
		return ""
	}
	if c.URI != "" {
		return c.URI
	}
	return c.URL
}

// Parse decodes a tileset document. Relative content URIs are resolved
// against base (itself typically the URL the tileset was fetched from,
// directory part); pass "" to leave them as written.
func Parse(data []byte, base string) (*Tileset, error) {
	var doc tilesetJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tileset: decode: %w", err)
	}
	if doc.Asset == nil || doc.Asset.Version == "" {
		return nil, fmt.Errorf("tileset: missing asset.version")
	}
	if doc.GeometricError == nil || *doc.GeometricError < 0 {
		return nil, fmt.Errorf("tileset: missing or negative top-level geometricError")
	}
	if doc.Root == nil {
		return nil, fmt.Errorf("tileset: missing root tile")
	}

	var baseURL *url.URL
	if base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("tileset: base %q: %w", base, err)
		}
		baseURL = u
	}

	root, err := buildTile(doc.Root, "root", RefineReplace, baseURL)
	if err != nil {
		return nil, err
	}
	return &Tileset{
		Asset:          *doc.Asset,
		GeometricError: *doc.GeometricError,
		Root:           root,
	}, nil
}

func buildTile(src *tileJSON, name string, inherited RefineMode, base *url.URL) (*cascade.Tile, error) {
	if src.BoundingVolume == nil {
		return nil, fmt.Errorf("tileset: tile %s: missing boundingVolume", name)
	}
	if err := src.BoundingVolume.validate(); err != nil {
		return nil, fmt.Errorf("tileset: tile %s: %w", name, err)
	}
	if src.GeometricError == nil || *src.GeometricError < 0 {
		return nil, fmt.Errorf("tileset: tile %s: missing or negative geometricError", name)
	}

	refine := inherited
	switch src.Refine {
	case "":
	case string(RefineReplace):
		refine = RefineReplace
	case string(RefineAdd):
		refine = RefineAdd
	default:
		return nil, fmt.Errorf("tileset: tile %s: unknown refine %q", name, src.Refine)
	}

	uri, err := resolveURI(src.Content.uri(), base)
	if err != nil {
		return nil, fmt.Errorf("tileset: tile %s: content uri: %w", name, err)
	}

	t := cascade.NewTile(name, uri)
	t.GeometricError = *src.GeometricError
	t.UserData = &TileInfo{
		Bounds: *src.BoundingVolume,
		Refine: refine,
	}

	for i := range src.Children {
		child, err := buildTile(&src.Children[i], name+"/"+strconv.Itoa(i), refine, base)
		if err != nil {
			return nil, err
		}
		t.AddChild(child)
	}
	return t, nil
}

// resolveURI resolves a content URI against the tileset base. Absolute URIs
// pass through untouched.
func resolveURI(uri string, base *url.URL) (string, error) {
	if uri == "" || base == nil {
		return uri, nil
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return uri, nil
	}
	return base.ResolveReference(ref).String(), nil
}
