package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// decodeJSON reads one JSON value token by token so object members keep
// their order. Numbers keep their literal text.
func decodeJSON(data []byte) (*Tree, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	root, err := readJSONValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return &Tree{Format: FormatJSON, Nodes: []*Node{root}}, nil
}

func readJSONValue(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			n := &Node{Kind: NodeObject}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T", keyTok)
				}
				child, err := readJSONValue(dec)
				if err != nil {
					return nil, err
				}
				child.Name = key
				n.Children = append(n.Children, child)
			}
			_, err := dec.Token() // '}'
			return n, err
		case '[':
			n := &Node{Kind: NodeArray}
			for dec.More() {
				child, err := readJSONValue(dec)
				if err != nil {
					return nil, err
				}
				n.Children = append(n.Children, child)
			}
			_, err := dec.Token() // ']'
			return n, err
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", v)
		}
	case string:
		return &Node{Kind: NodeString, Value: v}, nil
	case json.Number:
		return &Node{Kind: NodeScalar, Value: v.String()}, nil
	case bool:
		return &Node{Kind: NodeScalar, Value: fmt.Sprint(v)}, nil
	case nil:
		return &Node{Kind: NodeScalar, Value: "null"}, nil
	default:
		return nil, fmt.Errorf("unexpected token %T", tok)
	}
}

// encodeJSON writes the tree with two-space indentation and a trailing
// newline. HTML characters are not escaped.
func encodeJSON(w io.Writer, t *Tree) error {
	if len(t.Nodes) != 1 {
		return fmt.Errorf("json tree has %d roots", len(t.Nodes))
	}
	var buf bytes.Buffer
	if err := writeJSONNode(&buf, t.Nodes[0], 0); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func writeJSONNode(buf *bytes.Buffer, n *Node, depth int) error {
	switch n.Kind {
	case NodeString:
		return writeJSONString(buf, n.Value)
	case NodeScalar:
		buf.WriteString(n.Value)
		return nil
	case NodeObject, NodeArray:
		open, close := byte('{'), byte('}')
		if n.Kind == NodeArray {
			open, close = '[', ']'
		}
		buf.WriteByte(open)
		if len(n.Children) == 0 {
			buf.WriteByte(close)
			return nil
		}
		indent := strings.Repeat("  ", depth+1)
		for i, c := range n.Children {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
			buf.WriteString(indent)
			if n.Kind == NodeObject {
				if err := writeJSONString(buf, c.Name); err != nil {
					return err
				}
				buf.WriteString(": ")
			}
			if err := writeJSONNode(buf, c, depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte('\n')
		buf.WriteString(strings.Repeat("  ", depth))
		buf.WriteByte(close)
		return nil
	default:
		return fmt.Errorf("node kind %d in json tree", n.Kind)
	}
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1) // Encode appends a newline
	return nil
}
