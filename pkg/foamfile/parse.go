// Package foamfile reads OpenFOAM dictionary files.
//
// The parser is deliberately lenient about values: it keeps them as a small
// tree of words, strings, lists and nested dictionaries, and leaves unit and
// type interpretation to the helpers in this package.
package foamfile

import (
	"strings"
)

// NodeKind tags a value node.
type NodeKind int

// Value node kinds.
const (
	NodeWord NodeKind = iota
	NodeString
	NodeList      // ( ... )
	NodeDimension // [ ... ]
	NodeDict      // { ... } inside a list
	NodeCode      // #{ ... #}
)

// Node is one element of an entry value.
type Node struct {
	Kind  NodeKind
	Text  string
	Items []Node
	Dict  *Dict
}

// Entry is a keyword with either a value or a sub-dictionary.
type Entry struct {
	Key string
	// Pattern is set for quoted keys, which OpenFOAM treats as regular
	// expressions.
	Pattern bool
	Value   []Node
	Dict    *Dict
	Line    int
}

// Directive is a #-prefixed instruction such as #include.
type Directive struct {
	Name string
	Arg  string
	// Params holds a parenthesized list directly after Arg, as in
	// #includeFunc residuals(p, U).
	Params []Node
	Line   int
}

// Dict is an ordered dictionary.
type Dict struct {
	Entries    []*Entry
	Directives []Directive
}

// Parse parses a complete dictionary file.
func Parse(src string) (*Dict, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	d, err := p.dict(true)
	if err != nil {
		return nil, err
	}
	return d, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, msg string) error {
	return &ParseError{Line: t.line, Msg: msg}
}

// dict parses entries until '}' (nested) or EOF (top level).
func (p *parser) dict(top bool) (*Dict, error) {
	d := &Dict{}
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			if !top {
				return nil, p.errorf(t, "unexpected end of file, missing '}'")
			}
			return d, nil
		case t.kind == tokPunct && t.text == "}":
			if top {
				return nil, p.errorf(t, "unmatched '}'")
			}
			p.next()
			return d, nil
		case t.kind == tokPunct && t.text == ";":
			p.next()
		case t.kind == tokPunct && t.text == "(" && top:
			// Anonymous top-level list, as in polyMesh/boundary.
			n, err := p.node()
			if err != nil {
				return nil, err
			}
			d.Entries = append(d.Entries, &Entry{Value: []Node{n}, Line: t.line})
		case t.kind == tokPunct:
			return nil, p.errorf(t, "unexpected '"+t.text+"' where a keyword was expected")
		case t.kind == tokWord && strings.HasPrefix(t.text, "#"):
			p.next()
			dir := Directive{Name: t.text, Line: t.line}
			if a := p.peek(); a.kind == tokString || (a.kind == tokWord && !strings.HasPrefix(a.text, "#")) {
				p.next()
				dir.Arg = a.text
				if l := p.peek(); l.kind == tokPunct && l.text == "(" {
					n, err := p.node()
					if err != nil {
						return nil, err
					}
					dir.Params = n.Items
				}
			}
			d.Directives = append(d.Directives, dir)
		default:
			e, err := p.entry(top)
			if err != nil {
				return nil, err
			}
			d.Entries = append(d.Entries, e)
		}
	}
}

func (p *parser) entry(top bool) (*Entry, error) {
	k := p.next()
	e := &Entry{Key: k.text, Pattern: k.kind == tokString, Line: k.line}
	if k.kind == tokVerbatim {
		return nil, p.errorf(k, "code block used as keyword")
	}
	if t := p.peek(); t.kind == tokPunct && t.text == "{" {
		p.next()
		sub, err := p.dict(false)
		if err != nil {
			return nil, err
		}
		e.Dict = sub
		return e, nil
	}
	for {
		t := p.peek()
		switch {
		case t.kind == tokPunct && t.text == ";":
			p.next()
			return e, nil
		case t.kind == tokEOF:
			// A top-level value may end the file without ';' (polyMesh
			// files end with a bare list).
			if top && len(e.Value) > 0 {
				return e, nil
			}
			return nil, p.errorf(t, "missing ';' after "+e.Key)
		case t.kind == tokPunct && (t.text == "}" || t.text == ")" || t.text == "]"):
			return nil, p.errorf(t, "missing ';' after "+e.Key)
		case t.kind == tokPunct && t.text == "{":
			// Only function entries such as #codeStream take a dictionary
			// argument inside a value.
			if n := len(e.Value); n == 0 || e.Value[n-1].Kind != NodeWord || !strings.HasPrefix(e.Value[n-1].Text, "#") {
				return nil, p.errorf(t, "unexpected '{' in value of "+e.Key)
			}
			node, err := p.node()
			if err != nil {
				return nil, err
			}
			e.Value = append(e.Value, node)
		default:
			n, err := p.node()
			if err != nil {
				return nil, err
			}
			e.Value = append(e.Value, n)
		}
	}
}

func (p *parser) node() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokWord:
		return Node{Kind: NodeWord, Text: t.text}, nil
	case tokString:
		return Node{Kind: NodeString, Text: t.text}, nil
	case tokVerbatim:
		return Node{Kind: NodeCode, Text: t.text}, nil
	case tokEOF:
		return Node{}, p.errorf(t, "unexpected end of file in value")
	}
	switch t.text {
	case "(":
		items, err := p.list(")")
		return Node{Kind: NodeList, Items: items}, err
	case "[":
		items, err := p.list("]")
		return Node{Kind: NodeDimension, Items: items}, err
	case "{":
		sub, err := p.dict(false)
		return Node{Kind: NodeDict, Dict: sub}, err
	}
	return Node{}, p.errorf(t, "unexpected '"+t.text+"'")
}

func (p *parser) list(closer string) ([]Node, error) {
	var items []Node
	for {
		t := p.peek()
		if t.kind == tokPunct && t.text == closer {
			p.next()
			return items, nil
		}
		if t.kind == tokEOF {
			return nil, p.errorf(t, "unterminated list, missing '"+closer+"'")
		}
		if t.kind == tokPunct && (t.text == ";" || t.text == "}" || t.text == ")" || t.text == "]") {
			return nil, p.errorf(t, "unexpected '"+t.text+"' in list")
		}
		n, err := p.node()
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
}

// Lookup returns the last entry with key, mirroring OpenFOAM's override
// semantics for repeated keywords.
func (d *Dict) Lookup(key string) (*Entry, bool) {
	if d == nil {
		return nil, false
	}
	for i := len(d.Entries) - 1; i >= 0; i-- {
		if d.Entries[i].Key == key && key != "" {
			return d.Entries[i], true
		}
	}
	return nil, false
}

// SubDict follows a chain of keys through nested dictionaries.
func (d *Dict) SubDict(keys ...string) *Dict {
	cur := d
	for _, k := range keys {
		e, ok := cur.Lookup(k)
		if !ok || e.Dict == nil {
			return nil
		}
		cur = e.Dict
	}
	return cur
}

// Word returns the first scalar token of key's value.
func (d *Dict) Word(key string) (string, bool) {
	e, ok := d.Lookup(key)
	if !ok || len(e.Value) == 0 {
		return "", false
	}
	n := e.Value[0]
	if n.Kind != NodeWord && n.Kind != NodeString {
		return "", false
	}
	return n.Text, true
}

// HasDirective reports whether d contains name with argument arg.
func (d *Dict) HasDirective(name, arg string) bool {
	if d == nil {
		return false
	}
	for _, dir := range d.Directives {
		if dir.Name == name && dir.Arg == arg {
			return true
		}
	}
	return false
}

// Keys returns entry keys in file order.
func (d *Dict) Keys() []string {
	var out []string
	for _, e := range d.Entries {
		if e.Key != "" {
			out = append(out, e.Key)
		}
	}
	return out
}

// Text renders a value back to a single line.
func (e *Entry) Text() string {
	parts := make([]string, 0, len(e.Value))
	for _, n := range e.Value {
		parts = append(parts, n.String())
	}
	return strings.Join(parts, " ")
}

func (n Node) String() string {
	switch n.Kind {
	case NodeString:
		return `"` + n.Text + `"`
	case NodeList, NodeDimension:
		parts := make([]string, 0, len(n.Items))
		for _, it := range n.Items {
			parts = append(parts, it.String())
		}
		if n.Kind == NodeList {
			return "(" + strings.Join(parts, " ") + ")"
		}
		return "[" + strings.Join(parts, " ") + "]"
	case NodeDict:
		return "{...}"
	case NodeCode:
		return "#{...#}"
	default:
		return n.Text
	}
}
