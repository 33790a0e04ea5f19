package proto

import (
	"path"
	"strings"
)

// FileRole groups case files by the part of the case they configure.
type FileRole string

// File roles.
const (
	RoleField    FileRole = "field"    // 0/* initial and boundary conditions
	RoleMesh     FileRole = "mesh"     // blockMeshDict, polyMesh/boundary
	RoleSystem   FileRole = "system"   // other system/* dictionaries
	RoleConstant FileRole = "constant" // other constant/* dictionaries
	RoleScript   FileRole = "script"   // Allrun
	RoleOther    FileRole = "other"
)

// Well-known case paths.
const (
	PathAllrun         = "Allrun"
	PathControlDict    = "system/controlDict"
	PathFvSolution     = "system/fvSolution"
	PathFvSchemes      = "system/fvSchemes"
	PathBlockMeshDict  = "system/blockMeshDict"
	PathPolyMeshBound  = "constant/polyMesh/boundary"
	PathPolyMeshPrefix = "constant/polyMesh/"
	FieldDirPrefix     = "0/"
	SystemDirPrefix    = "system/"
	ConstantDirPrefix  = "constant/"
)

// RoleForPath derives the role of a case-relative path.
func RoleForPath(p string) FileRole {
	switch {
	case p == PathAllrun:
		return RoleScript
	case p == PathBlockMeshDict || p == PathPolyMeshBound:
		return RoleMesh
	case strings.HasPrefix(p, FieldDirPrefix):
		return RoleField
	case strings.HasPrefix(p, SystemDirPrefix):
		return RoleSystem
	case strings.HasPrefix(p, ConstantDirPrefix):
		return RoleConstant
	default:
		return RoleOther
	}
}

// FieldName returns the field a 0/* file defines, or "" for other paths.
func FieldName(p string) string {
	if !strings.HasPrefix(p, FieldDirPrefix) {
		return ""
	}
	return path.Base(p)
}

// PlannedFile is one file the Writer must produce.
type PlannedFile struct {
	Path               string   `json:"path"`
	Role               FileRole `json:"role"`
	DependsOn          []string `json:"depends_on,omitempty"`
	RequiredBoundaries []string `json:"required_boundaries,omitempty"`
	// Provided entries carry their content and are committed verbatim.
	Provided bool   `json:"provided,omitempty"`
	Content  string `json:"content,omitempty"`
}

// GenerationPlan is an ordered list of files. Order is a topological order
// of the DependsOn graph.
type GenerationPlan struct {
	CaseName    string        `json:"case_name"`
	Domain      string        `json:"case_domain"`
	Category    string        `json:"case_category"`
	Solver      string        `json:"case_solver"`
	Description string        `json:"description"`
	Files       []PlannedFile `json:"files"`
}

// Paths returns the planned paths in plan order.
func (p *GenerationPlan) Paths() []string {
	out := make([]string, len(p.Files))
	for i := range p.Files {
		out[i] = p.Files[i].Path
	}
	return out
}

// Lookup finds a planned file by path.
func (p *GenerationPlan) Lookup(filePath string) (*PlannedFile, bool) {
	for i := range p.Files {
		if p.Files[i].Path == filePath {
			return &p.Files[i], true
		}
	}
	return nil, false
}

// Restrict returns the sub-plan holding only paths, in their original
// relative order. Dependencies outside the subset are kept: they refer to
// files already committed in the bundle.
func (p *GenerationPlan) Restrict(paths []string) *GenerationPlan {
	want := make(map[string]bool, len(paths))
	for _, s := range paths {
		want[s] = true
	}
	sub := *p
	sub.Files = nil
	for i := range p.Files {
		if want[p.Files[i].Path] {
			sub.Files = append(sub.Files, p.Files[i].clone())
		}
	}
	return &sub
}

// Clone returns a deep copy.
func (p *GenerationPlan) Clone() *GenerationPlan {
	c := *p
	c.Files = make([]PlannedFile, len(p.Files))
	for i := range p.Files {
		c.Files[i] = p.Files[i].clone()
	}
	return &c
}

// Summary renders a short description used in prompts.
func (p *GenerationPlan) Summary() string {
	var sb strings.Builder
	sb.WriteString("case: " + p.CaseName)
	if p.Solver != "" {
		sb.WriteString(", solver: " + p.Solver)
	}
	if p.Domain != "" {
		sb.WriteString(", domain: " + p.Domain)
	}
	if p.Category != "" {
		sb.WriteString(", category: " + p.Category)
	}
	if p.Description != "" {
		sb.WriteString("\n" + p.Description)
	}
	return sb.String()
}

func (f PlannedFile) clone() PlannedFile {
	f.DependsOn = append([]string(nil), f.DependsOn...)
	f.RequiredBoundaries = append([]string(nil), f.RequiredBoundaries...)
	return f
}

// Patch is one boundary patch of a mesh.
type Patch struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Groups    []string `json:"groups,omitempty"`
	NFaces    int      `json:"n_faces,omitempty"`
	StartFace int      `json:"start_face,omitempty"`
}

// MeshDescriptor describes an externally supplied mesh. Only the patch list
// is interpreted; Source keeps the original boundary file when known.
type MeshDescriptor struct {
	Patches []Patch `json:"patches"`
	Source  string  `json:"source,omitempty"`
}

// PatchNames returns the patch names in mesh order.
func (m *MeshDescriptor) PatchNames() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.Patches))
	for i := range m.Patches {
		out[i] = m.Patches[i].Name
	}
	return out
}
