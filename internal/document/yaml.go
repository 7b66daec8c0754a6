package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// maxAliasDepth bounds alias expansion.
const maxAliasDepth = 64

// nonStringTags are the core tags whose scalars are not text. Every other
// tag, including application tags such as !secret, marks a string leaf.
var nonStringTags = map[string]bool{
	"!!int":       true,
	"!!float":     true,
	"!!bool":      true,
	"!!null":      true,
	"!!timestamp": true,
	"!!binary":    true,
}

// decodeYAML reads every document of a YAML stream. Aliases are expanded
// into copies of their anchors and comments are not kept.
func decodeYAML(data []byte) (*Tree, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	t := &Tree{Format: FormatYAML}
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(doc.Content) == 0 {
			continue
		}
		n, err := fromYAML(doc.Content[0], 0)
		if err != nil {
			return nil, err
		}
		t.Nodes = append(t.Nodes, n)
	}
	return t, nil
}

func fromYAML(y *yaml.Node, depth int) (*Node, error) {
	switch y.Kind {
	case yaml.MappingNode:
		if len(y.Content)%2 != 0 {
			return nil, fmt.Errorf("line %d: odd mapping content", y.Line)
		}
		n := &Node{Kind: NodeObject}
		for i := 0; i < len(y.Content); i += 2 {
			k := y.Content[i]
			if k.Kind == yaml.AliasNode && k.Alias != nil {
				k = k.Alias
			}
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: non-scalar mapping key", k.Line)
			}
			child, err := fromYAML(y.Content[i+1], depth)
			if err != nil {
				return nil, err
			}
			child.Name = k.Value
			n.Children = append(n.Children, child)
		}
		return n, nil
	case yaml.SequenceNode:
		n := &Node{Kind: NodeArray}
		for _, c := range y.Content {
			child, err := fromYAML(c, depth)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		}
		return n, nil
	case yaml.ScalarNode:
		tag := y.ShortTag()
		if nonStringTags[tag] {
			return &Node{Kind: NodeScalar, Value: y.Value, Tag: tag}, nil
		}
		return &Node{Kind: NodeString, Value: y.Value, Tag: tag}, nil
	case yaml.AliasNode:
		if y.Alias == nil || depth >= maxAliasDepth {
			return nil, fmt.Errorf("line %d: unresolvable alias %q", y.Line, y.Value)
		}
		return fromYAML(y.Alias, depth+1)
	default:
		return nil, fmt.Errorf("line %d: unexpected yaml node kind %d", y.Line, y.Kind)
	}
}

func encodeYAML(w io.Writer, t *Tree) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, n := range t.Nodes {
		y, err := toYAML(n)
		if err != nil {
			return err
		}
		if err := enc.Encode(y); err != nil {
			return err
		}
	}
	return enc.Close()
}

// toYAML rebuilds yaml nodes. Scalars carry their resolved tag, so the
// encoder quotes strings that would otherwise read as another type.
func toYAML(n *Node) (*yaml.Node, error) {
	switch n.Kind {
	case NodeObject:
		y := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, c := range n.Children {
			v, err := toYAML(c)
			if err != nil {
				return nil, err
			}
			y.Content = append(y.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: c.Name}, v)
		}
		return y, nil
	case NodeArray:
		y := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, c := range n.Children {
			v, err := toYAML(c)
			if err != nil {
				return nil, err
			}
			y.Content = append(y.Content, v)
		}
		return y, nil
	case NodeString:
		tag := n.Tag
		if tag == "" {
			tag = "!!str"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: n.Value}, nil
	case NodeScalar:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: n.Tag, Value: n.Value}, nil
	default:
		return nil, fmt.Errorf("node kind %d in yaml tree", n.Kind)
	}
}
