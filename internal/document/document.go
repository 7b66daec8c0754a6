// Package document holds the text units the engine rewrites and the codecs
// that read and write them.
//
// A Unit is one of three shapes: *Text (flat text), *Tree (ordered nodes
// with string leaves, used for JSON, YAML and XML) and *Table (CSV). Walk
// visits every string leaf of any shape in document order; everything that
// is not a leaf is structure and passes through codecs unchanged.
package document

import (
	"fmt"
	"strconv"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// Kind tags the Unit variant.
type Kind int

const (
	KindText Kind = iota
	KindTree
	KindTable
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindTree:
		return "tree"
	case KindTable:
		return "table"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Unit is a parsed document. The set of implementations is closed.
type Unit interface {
	Kind() Kind
	unit()
}

// Text is a flat text document; the whole value is one leaf.
type Text struct {
	Value string
}

func (*Text) Kind() Kind { return KindText }
func (*Text) unit()      {}

// Tree is a structured document. Nodes are the top-level nodes in order: one
// for JSON, one per document for YAML, and the prolog, comments and root
// element for XML.
type Tree struct {
	Format string
	Nodes  []*Node
}

func (*Tree) Kind() Kind { return KindTree }
func (*Tree) unit()      {}

// Table is a CSV document. The header row is structure; every data cell is
// a leaf.
type Table struct {
	Header []string
	Rows   [][]string
}

func (*Table) Kind() Kind { return KindTable }
func (*Table) unit()      {}

// NodeKind tags a tree node.
type NodeKind int

const (
	NodeObject  NodeKind = iota // ordered members; each child carries Name
	NodeArray                   // ordered items
	NodeString                  // string leaf in Value
	NodeScalar                  // non-string literal (number, bool, null) in Value
	NodeElement                 // XML element: Name, Attrs, Children
	NodeRaw                     // verbatim markup (XML comment, directive, processing instruction)
)

// Node is one tree node.
type Node struct {
	Kind     NodeKind
	Name     string
	Value    string
	Tag      string // YAML scalar tag, e.g. "!!int"
	CDATA    bool   // XML character data written as a CDATA section
	Attrs    []Attr
	Children []*Node
}

// Attr is an XML attribute, kept as structure.
type Attr struct {
	Name  string
	Value string
}

// LeafFunc receives the location of a leaf and a pointer to its value. It
// may replace the value in place.
type LeafFunc func(path string, value *string) error

// Walk calls fn for every leaf of u in document order. It stops at the
// first error fn returns.
func Walk(u Unit, fn LeafFunc) error {
	switch d := u.(type) {
	case *Text:
		return fn("", &d.Value)
	case *Tree:
		for i, n := range d.Nodes {
			root := "$"
			if len(d.Nodes) > 1 {
				root = fmt.Sprintf("$%d", i)
			}
			if d.Format == FormatXML {
				root = ""
			}
			if err := walkNode(n, root, fn); err != nil {
				return err
			}
		}
		return nil
	case *Table:
		for r := range d.Rows {
			for c := range d.Rows[r] {
				if err := fn(cellPath(d.Header, r, c), &d.Rows[r][c]); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unit type %T", types.ErrStructuralMismatch, u)
	}
}

// Leaves returns the number of leaves in u.
func Leaves(u Unit) int {
	n := 0
	_ = Walk(u, func(string, *string) error { n++; return nil })
	return n
}

func walkNode(n *Node, path string, fn LeafFunc) error {
	switch n.Kind {
	case NodeString:
		return fn(path, &n.Value)
	case NodeScalar, NodeRaw:
		return nil
	case NodeObject:
		for _, c := range n.Children {
			if err := walkNode(c, memberPath(path, c.Name), fn); err != nil {
				return err
			}
		}
		return nil
	case NodeArray:
		for i, c := range n.Children {
			if err := walkNode(c, fmt.Sprintf("%s[%d]", path, i), fn); err != nil {
				return err
			}
		}
		return nil
	case NodeElement:
		return walkElement(n, path+"/"+n.Name, fn)
	default:
		return fmt.Errorf("%w: node kind %d at %s", types.ErrStructuralMismatch, n.Kind, path)
	}
}

// walkElement numbers same-name child elements and text children the way
// XPath does, omitting the index when there is only one.
func walkElement(n *Node, path string, fn LeafFunc) error {
	total := map[string]int{}
	texts := 0
	for _, c := range n.Children {
		switch c.Kind {
		case NodeElement:
			total[c.Name]++
		case NodeString:
			texts++
		}
	}
	seen := map[string]int{}
	text := 0
	for _, c := range n.Children {
		switch c.Kind {
		case NodeElement:
			seen[c.Name]++
			step := c.Name
			if total[c.Name] > 1 {
				step = fmt.Sprintf("%s[%d]", c.Name, seen[c.Name])
			}
			if err := walkElement(c, path+"/"+step, fn); err != nil {
				return err
			}
		case NodeString:
			text++
			step := "text()"
			if texts > 1 {
				step = fmt.Sprintf("text()[%d]", text)
			}
			if err := fn(path+"/"+step, &c.Value); err != nil {
				return err
			}
		case NodeRaw:
		default:
			return fmt.Errorf("%w: node kind %d inside element %s", types.ErrStructuralMismatch, c.Kind, path)
		}
	}
	return nil
}

func memberPath(parent, key string) string {
	if isIdent(key) {
		return parent + "." + key
	}
	return parent + "[" + strconv.Quote(key) + "]"
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

func cellPath(header []string, row, col int) string {
	name := strconv.Itoa(col + 1)
	if col < len(header) && header[col] != "" {
		name = strconv.Quote(header[col])
	}
	return fmt.Sprintf("row %d, column %s", row+1, name)
}
