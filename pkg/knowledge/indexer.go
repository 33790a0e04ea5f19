package knowledge

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"foamagent/pkg/logx"
	"foamagent/pkg/proto"
)

// Corpus pseudo-cases that own built-in rules and command docs.
const (
	builtinCase  = "builtin"
	commandsCase = "commands"
)

const defaultBatchSize = 32

// Indexer turns a Corpus into an Index.
type Indexer struct {
	embedder  Embedder
	batchSize int
	logger    *logx.Logger
}

// NewIndexer creates an Indexer. batchSize < 1 uses the default.
func NewIndexer(embedder Embedder, batchSize int) *Indexer {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	return &Indexer{embedder: embedder, batchSize: batchSize, logger: logx.NewLogger("indexer")}
}

// Build indexes corpus from scratch. The result depends only on the corpus
// content and the embedder.
func (ix *Indexer) Build(ctx context.Context, corpus *Corpus) (*Index, error) {
	entries := collectEntries(corpus)
	for i := range entries {
		entries[i].Seq = i
	}
	if err := ix.embed(ctx, entries); err != nil {
		return nil, err
	}
	ix.logger.Info("Built index: %d entries from %d cases, %d commands", len(entries), len(corpus.Cases), len(corpus.Commands))
	return NewIndex(entries, ix.embedder.Name(), ix.embedder.Dimension()), nil
}

// Update appends entries for ids the existing index does not have. Existing
// entries keep their sequence numbers and vectors.
func (ix *Indexer) Update(ctx context.Context, existing *Index, corpus *Corpus) (*Index, error) {
	if existing == nil || existing.Len() == 0 {
		return ix.Build(ctx, corpus)
	}
	if existing.Embedder != ix.embedder.Name() {
		return nil, fmt.Errorf("index was built with %s, cannot update with %s", existing.Embedder, ix.embedder.Name())
	}

	var added []IndexEntry
	next := 0
	for i := range existing.Entries {
		if existing.Entries[i].Seq >= next {
			next = existing.Entries[i].Seq + 1
		}
	}
	for _, e := range collectEntries(corpus) {
		if _, ok := existing.Get(e.ID); ok {
			continue
		}
		e.Seq = next
		next++
		added = append(added, e)
	}
	if err := ix.embed(ctx, added); err != nil {
		return nil, err
	}

	merged := make([]IndexEntry, 0, existing.Len()+len(added))
	merged = append(merged, existing.Entries...)
	merged = append(merged, added...)
	ix.logger.Info("Updated index: %d existing, %d appended", existing.Len(), len(added))
	return NewIndex(merged, existing.Embedder, existing.Dimension), nil
}

func (ix *Indexer) embed(ctx context.Context, entries []IndexEntry) error {
	for start := 0; start < len(entries); start += ix.batchSize {
		end := min(start+ix.batchSize, len(entries))
		texts := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			texts = append(texts, embeddingText(&entries[i]))
		}
		vectors, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if err := checkCount(len(vectors), len(texts)); err != nil {
			return err
		}
		for i, v := range vectors {
			entries[start+i].Embedding = v
		}
		ix.logger.Debug("Embedded entries %d-%d", start, end-1)
	}
	return nil
}

var kindOrder = map[EntryKind]int{
	KindCaseLayout:     0,
	KindDependencyRule: 1,
	KindFileTemplate:   2,
}

// collectEntries lists every entry in build order without sequence numbers
// or vectors.
func collectEntries(corpus *Corpus) []IndexEntry {
	var out []IndexEntry
	for _, r := range BuiltinRules() {
		out = append(out, ruleEntry(builtinCase, Metadata{Case: builtinCase}, r))
	}

	for i := range corpus.Cases {
		rc := &corpus.Cases[i]
		base := Metadata{
			Case:        rc.Path,
			Solver:      rc.Solver,
			Domain:      rc.Domain,
			Category:    rc.Category,
			Description: rc.Description,
		}
		var perCase []IndexEntry
		perCase = append(perCase, layoutEntry(rc, base))
		for _, r := range rc.Rules {
			perCase = append(perCase, ruleEntry(rc.Path, base, r))
		}
		for _, f := range rc.Files {
			meta := base
			meta.Path = f.Path
			perCase = append(perCase, IndexEntry{
				ID:      EntryID(KindFileTemplate, rc.Path, f.Path),
				Kind:    KindFileTemplate,
				Meta:    meta,
				Content: f.Content,
			})
		}
		sort.SliceStable(perCase, func(a, b int) bool {
			ka, kb := kindOrder[perCase[a].Kind], kindOrder[perCase[b].Kind]
			if ka != kb {
				return ka < kb
			}
			return perCase[a].Meta.Path < perCase[b].Meta.Path
		})
		out = append(out, dedupe(perCase)...)
	}

	for _, doc := range corpus.Commands {
		out = append(out, IndexEntry{
			ID:      EntryID(KindCommandDoc, commandsCase, doc.Name),
			Kind:    KindCommandDoc,
			Meta:    Metadata{Case: commandsCase, Path: doc.Name},
			Content: doc.Content,
		})
	}
	return out
}

// dedupe drops later entries with an id already seen, which happens when a
// dependencies.yaml repeats a rule.
func dedupe(entries []IndexEntry) []IndexEntry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out
}

func ruleEntry(casePath string, base Metadata, r DependencyRule) IndexEntry {
	meta := base
	meta.Path = r.File
	meta.DependsOn = r.DependsOn
	meta.Class = r.Class
	meta.Note = r.Note
	content := fmt.Sprintf("%s depends on %s (%s)", r.File, r.DependsOn, r.Class)
	if r.Note != "" {
		content += ": " + r.Note
	}
	return IndexEntry{
		ID:      EntryID(KindDependencyRule, casePath, r.key()),
		Kind:    KindDependencyRule,
		Meta:    meta,
		Content: content,
	}
}

func layoutEntry(rc *ReferenceCase, base Metadata) IndexEntry {
	files := make([]string, 0, len(rc.Files))
	for _, f := range rc.Files {
		files = append(files, f.Path)
	}
	meta := base
	meta.Path = rc.Path
	meta.Files = files

	var sb strings.Builder
	fmt.Fprintf(&sb, "case %s solver %s domain %s", rc.Name, rc.Solver, rc.Domain)
	if rc.Category != "" {
		fmt.Fprintf(&sb, " category %s", rc.Category)
	}
	sb.WriteString("\n")
	if rc.Description != "" {
		sb.WriteString(rc.Description + "\n")
	}
	if desc := tutorialDescription(rc); desc != "" {
		sb.WriteString(desc + "\n")
	}
	sb.WriteString("files:\n")
	for _, f := range files {
		sb.WriteString("  " + f + "\n")
	}
	return IndexEntry{
		ID:      EntryID(KindCaseLayout, rc.Path, rc.Path),
		Kind:    KindCaseLayout,
		Meta:    meta,
		Content: sb.String(),
	}
}

// tutorialDescription pulls the leading comment of Allrun, where tutorials
// usually describe themselves.
func tutorialDescription(rc *ReferenceCase) string {
	for _, f := range rc.Files {
		if path.Base(f.Path) != proto.PathAllrun {
			continue
		}
		var lines []string
		for _, line := range strings.Split(f.Content, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "#!") || line == "" || strings.HasPrefix(line, "cd ") {
				continue
			}
			if !strings.HasPrefix(line, "#") {
				break
			}
			text := strings.TrimSpace(strings.TrimLeft(line, "#-"))
			if text != "" {
				lines = append(lines, text)
			}
		}
		return strings.Join(lines, " ")
	}
	return ""
}
