package architect

import (
	"sort"
	"strings"

	"foamagent/pkg/proto"
)

// PlanCycleError reports files whose dependencies form a cycle. Files holds
// exactly the files on cycles, sorted.
type PlanCycleError struct {
	Files []string
}

func (e *PlanCycleError) Error() string {
	return "dependency cycle among files: " + strings.Join(e.Files, ", ")
}

// folderPriority orders independent files: system, constant, 0, others.
func folderPriority(p string) int {
	switch {
	case strings.HasPrefix(p, proto.SystemDirPrefix):
		return 0
	case strings.HasPrefix(p, proto.ConstantDirPrefix):
		return 1
	case strings.HasPrefix(p, proto.FieldDirPrefix):
		return 2
	default:
		return 3
	}
}

func before(a, b string) bool {
	pa, pb := folderPriority(a), folderPriority(b)
	if pa != pb {
		return pa < pb
	}
	return a < b
}

// SortFiles orders files so that every file follows its dependencies.
// Dependencies on paths outside files are ignored. Among files that are
// ready at the same time the folder priority and then the path decide.
func SortFiles(files []proto.PlannedFile) ([]proto.PlannedFile, error) {
	byPath := make(map[string]int, len(files))
	for i := range files {
		byPath[files[i].Path] = i
	}
	indegree := make(map[string]int, len(files))
	dependents := make(map[string][]string, len(files))
	for i := range files {
		indegree[files[i].Path] = 0
	}
	for i := range files {
		f := &files[i]
		for _, dep := range f.DependsOn {
			if _, ok := byPath[dep]; !ok {
				continue
			}
			indegree[f.Path]++
			dependents[dep] = append(dependents[dep], f.Path)
		}
	}

	var ready []string
	for p, d := range indegree {
		if d == 0 {
			ready = append(ready, p)
		}
	}
	out := make([]proto.PlannedFile, 0, len(files))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return before(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		out = append(out, files[byPath[next]])
		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if len(out) == len(files) {
		return out, nil
	}
	return nil, &PlanCycleError{Files: cycleMembers(files, byPath)}
}

// cycleMembers runs Tarjan's algorithm and keeps strongly connected
// components of more than one file plus files that depend on themselves.
func cycleMembers(files []proto.PlannedFile, byPath map[string]int) []string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var members []string

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		selfLoop := false
		for _, w := range files[byPath[v]].DependsOn {
			if _, ok := byPath[w]; !ok {
				continue
			}
			if w == v {
				selfLoop = true
			}
			if _, seen := indices[w]; !seen {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] != indices[v] {
			return
		}
		var component []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		if len(component) > 1 || selfLoop {
			members = append(members, component...)
		}
	}

	for i := range files {
		if _, seen := indices[files[i].Path]; !seen {
			strongConnect(files[i].Path)
		}
	}
	sort.Strings(members)
	return members
}
