package knowledge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"foamagent/pkg/foamfile"
	"foamagent/pkg/proto"
)

// Corpus layout constants.
const (
	CaseMetaFile     = "case.yaml"
	DependenciesFile = "dependencies.yaml"
	CommandsDir      = "commands"
	MaxTemplateBytes = 64 * 1024
)

// CaseFile is one reference file.
type CaseFile struct {
	Path    string
	Content string
}

// ReferenceCase is one case directory of the corpus.
type ReferenceCase struct {
	Path        string // relative to the corpus root, '/' separated
	Name        string
	Solver      string
	Domain      string
	Category    string
	Description string
	Files       []CaseFile
	Rules       []DependencyRule
}

// CommandDoc is the help text of one utility.
type CommandDoc struct {
	Name    string
	Content string
}

// Corpus is the parsed reference tree, sorted for deterministic indexing.
type Corpus struct {
	Root     string
	Cases    []ReferenceCase
	Commands []CommandDoc
}

type caseMeta struct {
	Solver      string `yaml:"solver"`
	Domain      string `yaml:"domain"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
}

type dependenciesFile struct {
	Rules []DependencyRule `yaml:"rules"`
}

// LoadCorpus walks root and collects every case directory (any directory
// holding system/) and the commands/ docs.
func LoadCorpus(root string) (*Corpus, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("corpus root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus root %s is not a directory", root)
	}

	c := &Corpus{Root: root}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		if rel == CommandsDir {
			docs, err := loadCommands(p)
			if err != nil {
				return err
			}
			c.Commands = docs
			return filepath.SkipDir
		}
		if strings.HasPrefix(d.Name(), ".") && rel != "." {
			return filepath.SkipDir
		}
		if !isDir(filepath.Join(p, "system")) {
			return nil
		}
		rc, err := loadCase(p, rel)
		if err != nil {
			return fmt.Errorf("case %s: %w", rel, err)
		}
		c.Cases = append(c.Cases, *rc)
		return filepath.SkipDir
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(c.Cases, func(i, j int) bool { return c.Cases[i].Path < c.Cases[j].Path })
	sort.Slice(c.Commands, func(i, j int) bool { return c.Commands[i].Name < c.Commands[j].Name })
	return c, nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func loadCommands(dir string) ([]CommandDoc, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read commands: %w", err)
	}
	var out []CommandDoc
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read command doc %s: %w", e.Name(), err)
		}
		if !utf8.Valid(data) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		out = append(out, CommandDoc{Name: name, Content: string(data)})
	}
	return out, nil
}

func loadCase(dir, rel string) (*ReferenceCase, error) {
	rc := &ReferenceCase{Path: rel, Name: path.Base(rel)}
	if rel == "." {
		rc.Name = filepath.Base(dir)
	}

	files, err := collectFiles(dir)
	if err != nil {
		return nil, err
	}
	rc.Files = files

	var meta caseMeta
	if ok, err := readYAML(filepath.Join(dir, CaseMetaFile), &meta); err != nil {
		return nil, err
	} else if ok {
		rc.Solver, rc.Domain, rc.Category, rc.Description = meta.Solver, meta.Domain, meta.Category, meta.Description
	}
	inferFromPath(rc)

	var deps dependenciesFile
	if _, err := readYAML(filepath.Join(dir, DependenciesFile), &deps); err != nil {
		return nil, err
	}
	for _, r := range deps.Rules {
		if r.File == "" || r.DependsOn == "" {
			return nil, fmt.Errorf("%s: rules need file and depends_on", DependenciesFile)
		}
		if _, err := path.Match(r.File, ""); err != nil {
			return nil, fmt.Errorf("%s: bad pattern %q: %w", DependenciesFile, r.File, err)
		}
		if _, err := path.Match(r.DependsOn, ""); err != nil {
			return nil, fmt.Errorf("%s: bad pattern %q: %w", DependenciesFile, r.DependsOn, err)
		}
		rc.Rules = append(rc.Rules, r)
	}
	return rc, nil
}

// inferFromPath fills gaps using the tutorial convention
// <domain>/<solver>/[<category>/]<case> and the controlDict application.
func inferFromPath(rc *ReferenceCase) {
	parts := strings.Split(rc.Path, "/")
	if rc.Solver == "" {
		for _, f := range rc.Files {
			if f.Path == proto.PathControlDict {
				if app, err := foamfile.Application(f.Content); err == nil {
					rc.Solver = app
				}
			}
		}
	}
	if rc.Solver == "" && len(parts) >= 3 {
		rc.Solver = parts[1]
	}
	if rc.Domain == "" && len(parts) >= 3 {
		rc.Domain = parts[0]
	}
	if rc.Category == "" && len(parts) >= 4 {
		rc.Category = parts[2]
	}
}

func readYAML(p string, out any) (bool, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(p), err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", filepath.Base(p), err)
	}
	return true, nil
}

// collectFiles gathers templates below a case directory. A case that only
// ships 0.orig has those files indexed under 0/, matching what Allrun
// restores before running.
func collectFiles(dir string) ([]CaseFile, error) {
	hasZero := isDir(filepath.Join(dir, "0"))
	var out []CaseFile
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, _ := filepath.Rel(dir, p)
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if skipDir(rel, d.Name(), hasZero) {
				return filepath.SkipDir
			}
			return nil
		}
		if skipFile(rel, d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() || info.Size() > MaxTemplateBytes {
			return nil //nolint:nilerr // unreadable or oversized files are not templates
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		if !utf8.Valid(data) {
			return nil
		}
		if !hasZero && strings.HasPrefix(rel, "0.orig/") {
			rel = "0/" + strings.TrimPrefix(rel, "0.orig/")
		}
		out = append(out, CaseFile{Path: rel, Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func skipDir(rel, name string, hasZero bool) bool {
	switch {
	case strings.HasPrefix(name, "."):
		return true
	case strings.HasPrefix(name, "processor"), name == "postProcessing":
		return true
	case rel == "0.orig":
		return hasZero
	case !strings.Contains(rel, "/") && name != "0" && isNumeric(name):
		return true
	}
	return false
}

func skipFile(rel, name string) bool {
	return strings.HasPrefix(name, "log.") || strings.HasPrefix(name, ".") ||
		rel == CaseMetaFile || rel == DependenciesFile
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
