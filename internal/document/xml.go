package document

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// decodeXML reads raw tokens so namespace prefixes stay as written.
// Character data become string leaves and remember whether they were a
// CDATA section; comments, processing instructions and directives are kept
// verbatim.
func decodeXML(data []byte) (*Tree, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	t := &Tree{Format: FormatXML}
	var stack []*Node
	appendNode := func(n *Node) {
		if len(stack) == 0 {
			t.Nodes = append(t.Nodes, n)
			return
		}
		parent := stack[len(stack)-1]
		parent.Children = append(parent.Children, n)
	}

	for {
		off := dec.InputOffset()
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch v := tok.(type) {
		case xml.StartElement:
			n := &Node{Kind: NodeElement, Name: qname(v.Name)}
			for _, a := range v.Attr {
				n.Attrs = append(n.Attrs, Attr{Name: qname(a.Name), Value: a.Value})
			}
			appendNode(n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) == 0 || stack[len(stack)-1].Name != qname(v.Name) {
				return nil, fmt.Errorf("unexpected end element </%s>", qname(v.Name))
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			cdata := off < int64(len(data)) && bytes.HasPrefix(data[off:], cdataOpen)
			appendNode(&Node{Kind: NodeString, Value: string(v), CDATA: cdata})
		case xml.Comment:
			appendNode(&Node{Kind: NodeRaw, Value: "<!--" + string(v) + "-->"})
		case xml.ProcInst:
			raw := "<?" + v.Target
			if len(v.Inst) > 0 {
				raw += " " + string(v.Inst)
			}
			appendNode(&Node{Kind: NodeRaw, Value: raw + "?>"})
		case xml.Directive:
			appendNode(&Node{Kind: NodeRaw, Value: "<!" + string(v) + ">"})
		}
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("unclosed element <%s>", stack[len(stack)-1].Name)
	}
	roots := 0
	for _, n := range t.Nodes {
		if n.Kind == NodeElement {
			roots++
		}
	}
	if roots != 1 {
		return nil, fmt.Errorf("document has %d root elements", roots)
	}
	return t, nil
}

var cdataOpen = []byte("<![CDATA[")

func qname(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// Character data keeps its line breaks; attribute values escape them so a
// parser does not normalize them to spaces.
var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#xD;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;",
		"\t", "&#x9;", "\n", "&#xA;", "\r", "&#xD;")
)

func encodeXML(w io.Writer, t *Tree) error {
	bw := bufio.NewWriter(w)
	for _, n := range t.Nodes {
		if err := writeXMLNode(bw, n); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeXMLNode(w *bufio.Writer, n *Node) error {
	switch n.Kind {
	case NodeString:
		if n.CDATA {
			// A section cannot contain "]]>", so it is split across two.
			_, err := w.WriteString("<![CDATA[" + strings.ReplaceAll(n.Value, "]]>", "]]]]><![CDATA[>") + "]]>")
			return err
		}
		_, err := textEscaper.WriteString(w, n.Value)
		return err
	case NodeRaw:
		_, err := w.WriteString(n.Value)
		return err
	case NodeElement:
		w.WriteString("<" + n.Name)
		for _, a := range n.Attrs {
			w.WriteString(" " + a.Name + `="`)
			attrEscaper.WriteString(w, a.Value)
			w.WriteByte('"')
		}
		if len(n.Children) == 0 {
			_, err := w.WriteString("/>")
			return err
		}
		w.WriteByte('>')
		for _, c := range n.Children {
			if err := writeXMLNode(w, c); err != nil {
				return err
			}
		}
		_, err := w.WriteString("</" + n.Name + ">")
		return err
	default:
		return fmt.Errorf("node kind %d in xml tree", n.Kind)
	}
}
