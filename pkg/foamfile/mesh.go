package foamfile

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"foamagent/pkg/proto"
)

// constraintTypes are patch types whose boundary condition must carry the
// same type name.
//
//nolint:gochecknoglobals // static lookup table
var constraintTypes = map[string]bool{
	"empty":         true,
	"symmetryPlane": true,
	"symmetry":      true,
	"wedge":         true,
	"cyclic":        true,
	"cyclicAMI":     true,
	"processor":     true,
}

// IsConstraintType reports whether t is a constraint patch type.
func IsConstraintType(t string) bool {
	return constraintTypes[t]
}

// MeshPatches extracts the patch list from a mesh-describing file. path
// selects the format: system/blockMeshDict or constant/polyMesh/boundary.
func MeshPatches(path, content string) ([]proto.Patch, error) {
	d, err := Parse(content)
	if err != nil {
		return nil, err
	}
	switch path {
	case proto.PathBlockMeshDict:
		return BlockMeshPatches(d), nil
	case proto.PathPolyMeshBound:
		return PolyMeshPatches(d), nil
	default:
		return nil, fmt.Errorf("%s does not describe mesh patches", path)
	}
}

// BlockMeshPatches reads the boundary list of a blockMeshDict, falling back
// to the legacy "patches" syntax. Block faces left out of every patch end up
// in the default patch, which is appended when the block topology shows such
// faces (or, when the blocks cannot be read, when defaultPatch is given).
func BlockMeshPatches(d *Dict) []proto.Patch {
	patches, faces, complete := blockMeshBoundary(d)
	if hasUnassignedFaces(d, faces, complete) {
		patches = append(patches, defaultPatch(d))
	}
	return patches
}

func blockMeshBoundary(d *Dict) ([]proto.Patch, []Node, bool) {
	if e, ok := d.Lookup("boundary"); ok {
		if l := firstList(e.Value); l != nil {
			var faces []Node
			complete := true
			for _, it := range l.Items {
				if it.Kind != NodeDict {
					continue
				}
				fe, ok := it.Dict.Lookup("faces")
				if !ok {
					continue
				}
				fl := firstList(fe.Value)
				if fl == nil {
					complete = false
					continue
				}
				f, ok := faceLists(fl.Items)
				complete = complete && ok
				faces = append(faces, f...)
			}
			return namedDictPatches(l.Items), faces, complete
		}
	}
	e, ok := d.Lookup("patches")
	if !ok {
		return nil, nil, true
	}
	l := firstList(e.Value)
	if l == nil {
		return nil, nil, true
	}
	// type name (faces) triples
	var out []proto.Patch
	var faces []Node
	complete := true
	items := l.Items
	for i := 0; i+1 < len(items); i++ {
		if items[i].Kind != NodeWord || items[i+1].Kind != NodeWord {
			continue
		}
		out = append(out, withDefaultGroups(proto.Patch{Name: items[i+1].Text, Type: items[i].Text}))
		if i+2 < len(items) && items[i+2].Kind == NodeList {
			f, ok := faceLists(items[i+2].Items)
			complete = complete && ok
			faces = append(faces, f...)
		} else {
			complete = false
		}
		i += 2
	}
	return out, faces, complete
}

// faceLists keeps the list items of a faces entry; ok is false when an item
// is not a plain vertex list (projected faces, macros).
func faceLists(items []Node) ([]Node, bool) {
	var out []Node
	ok := true
	for _, it := range items {
		if it.Kind != NodeList {
			ok = false
			continue
		}
		out = append(out, it)
	}
	return out, ok
}

// defaultPatch reads the defaultPatch entry; blockMesh names the patch
// defaultFaces with type empty when the entry is absent.
func defaultPatch(d *Dict) proto.Patch {
	p := proto.Patch{Name: "defaultFaces", Type: "empty"}
	if dp := d.SubDict("defaultPatch"); dp != nil {
		if v, ok := dp.Word("name"); ok {
			p.Name = v
		}
		if v, ok := dp.Word("type"); ok {
			p.Type = v
		}
	}
	return withDefaultGroups(p)
}

func hasUnassignedFaces(d *Dict, assigned []Node, complete bool) bool {
	outer, ok := outerBlockFaces(d)
	if !ok || !complete {
		_, explicit := d.Lookup("defaultPatch")
		return explicit
	}
	for _, f := range assigned {
		if ids, ok := vertexIDs(f.Items); ok {
			if key, ok := faceKey(ids); ok {
				delete(outer, key)
			}
		}
	}
	return len(outer) > 0
}

// hexFaces lists the faces of a hex block by local vertex index.
//
//nolint:gochecknoglobals // static lookup table
var hexFaces = [6][4]int{
	{0, 4, 7, 3},
	{1, 2, 6, 5},
	{0, 1, 5, 4},
	{3, 7, 6, 2},
	{0, 3, 2, 1},
	{4, 5, 6, 7},
}

// outerBlockFaces returns the block faces not shared by two blocks, keyed by
// faceKey. ok is false when the blocks entry cannot be read.
func outerBlockFaces(d *Dict) (map[string]bool, bool) {
	e, ok := d.Lookup("blocks")
	if !ok {
		return nil, false
	}
	l := firstList(e.Value)
	if l == nil {
		return nil, false
	}
	counts := make(map[string]int)
	found := false
	for i, it := range l.Items {
		if it.Kind != NodeWord || it.Text != "hex" {
			continue
		}
		if i+1 >= len(l.Items) || l.Items[i+1].Kind != NodeList {
			return nil, false
		}
		v, ok := vertexIDs(l.Items[i+1].Items)
		if !ok || len(v) != 8 {
			return nil, false
		}
		for _, f := range hexFaces {
			// Collapsed faces of wedge blocks have no area.
			if key, ok := faceKey([]string{v[f[0]], v[f[1]], v[f[2]], v[f[3]]}); ok {
				counts[key]++
			}
		}
		found = true
	}
	if !found {
		return nil, false
	}
	outer := make(map[string]bool)
	for k, n := range counts {
		if n == 1 {
			outer[k] = true
		}
	}
	return outer, true
}

func vertexIDs(items []Node) ([]string, bool) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.Kind != NodeWord {
			return nil, false
		}
		ids = append(ids, it.Text)
	}
	return ids, true
}

func faceKey(ids []string) (string, bool) {
	u := slices.Clone(ids)
	slices.Sort(u)
	u = slices.Compact(u)
	if len(u) < 3 {
		return "", false
	}
	return strings.Join(u, " "), true
}

// PolyMeshPatches reads constant/polyMesh/boundary.
func PolyMeshPatches(d *Dict) []proto.Patch {
	for _, e := range d.Entries {
		if e.Dict != nil {
			continue
		}
		if l := firstList(e.Value); l != nil && containsDict(l.Items) {
			return namedDictPatches(l.Items)
		}
	}
	return nil
}

func namedDictPatches(items []Node) []proto.Patch {
	var out []proto.Patch
	for i := 0; i+1 < len(items); i++ {
		if items[i].Kind != NodeWord || items[i+1].Kind != NodeDict {
			continue
		}
		pd := items[i+1].Dict
		p := proto.Patch{Name: items[i].Text}
		p.Type, _ = pd.Word("type")
		if v, ok := pd.Word("nFaces"); ok {
			p.NFaces, _ = strconv.Atoi(v)
		}
		if v, ok := pd.Word("startFace"); ok {
			p.StartFace, _ = strconv.Atoi(v)
		}
		if e, ok := pd.Lookup("inGroups"); ok {
			if l := firstList(e.Value); l != nil {
				for _, g := range l.Items {
					if g.Kind == NodeWord {
						p.Groups = append(p.Groups, g.Text)
					}
				}
			}
		}
		out = append(out, withDefaultGroups(p))
		i++
	}
	return out
}

// withDefaultGroups adds the groups OpenFOAM assigns by patch type.
func withDefaultGroups(p proto.Patch) proto.Patch {
	if p.Type == "wall" || IsConstraintType(p.Type) {
		for _, g := range p.Groups {
			if g == p.Type {
				return p
			}
		}
		p.Groups = append(p.Groups, p.Type)
	}
	return p
}

func firstList(nodes []Node) *Node {
	for i := range nodes {
		if nodes[i].Kind == NodeList {
			return &nodes[i]
		}
	}
	return nil
}

func containsDict(items []Node) bool {
	for _, it := range items {
		if it.Kind == NodeDict {
			return true
		}
	}
	return false
}

// Header renders a FoamFile header block.
func Header(class, location, object string) string {
	var sb strings.Builder
	sb.WriteString("FoamFile\n{\n")
	sb.WriteString("    version     2.0;\n")
	sb.WriteString("    format      ascii;\n")
	fmt.Fprintf(&sb, "    class       %s;\n", class)
	if location != "" {
		fmt.Fprintf(&sb, "    location    \"%s\";\n", location)
	}
	fmt.Fprintf(&sb, "    object      %s;\n", object)
	sb.WriteString("}\n")
	return sb.String()
}

// RenderBoundary renders a polyMesh/boundary file for patches.
func RenderBoundary(patches []proto.Patch) string {
	var sb strings.Builder
	sb.WriteString(Header("polyBoundaryMesh", "constant/polyMesh", "boundary"))
	fmt.Fprintf(&sb, "\n%d\n(\n", len(patches))
	for _, p := range patches {
		typ := p.Type
		if typ == "" {
			typ = "patch"
		}
		fmt.Fprintf(&sb, "    %s\n    {\n", p.Name)
		fmt.Fprintf(&sb, "        type            %s;\n", typ)
		if len(p.Groups) > 0 {
			fmt.Fprintf(&sb, "        inGroups        List<word> %d(%s);\n", len(p.Groups), strings.Join(p.Groups, " "))
		}
		fmt.Fprintf(&sb, "        nFaces          %d;\n", p.NFaces)
		fmt.Fprintf(&sb, "        startFace       %d;\n", p.StartFace)
		sb.WriteString("    }\n")
	}
	sb.WriteString(")\n")
	return sb.String()
}
