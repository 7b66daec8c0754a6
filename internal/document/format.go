package document

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// Formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatXML  = "xml"
	FormatCSV  = "csv"
)

var extensions = map[string]string{
	".txt":  FormatText,
	".text": FormatText,
	".md":   FormatText,
	".log":  FormatText,
	".json": FormatJSON,
	".yaml": FormatYAML,
	".yml":  FormatYAML,
	".xml":  FormatXML,
	".csv":  FormatCSV,
}

// Extensions returns the supported file extensions in sorted order.
func Extensions() []string {
	out := make([]string, 0, len(extensions))
	for ext := range extensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// FormatOf picks the format from a file name's extension.
func FormatOf(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", types.ErrUnsupportedFormat, ext)
}

// Decode parses data in the given format. Malformed input is
// ErrStructuralMismatch.
func Decode(format string, data []byte) (Unit, error) {
	var (
		u   Unit
		err error
	)
	switch format {
	case FormatText:
		return &Text{Value: string(data)}, nil
	case FormatJSON:
		u, err = decodeJSON(data)
	case FormatYAML:
		u, err = decodeYAML(data)
	case FormatXML:
		u, err = decodeXML(data)
	case FormatCSV:
		u, err = decodeCSV(data)
	default:
		return nil, fmt.Errorf("%w: format %q", types.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrStructuralMismatch, format, err)
	}
	return u, nil
}

// Encode writes u in its own format.
func Encode(w io.Writer, u Unit) error {
	switch d := u.(type) {
	case *Text:
		_, err := io.WriteString(w, d.Value)
		return err
	case *Tree:
		switch d.Format {
		case FormatJSON:
			return encodeJSON(w, d)
		case FormatYAML:
			return encodeYAML(w, d)
		case FormatXML:
			return encodeXML(w, d)
		default:
			return fmt.Errorf("%w: tree format %q", types.ErrUnsupportedFormat, d.Format)
		}
	case *Table:
		return encodeCSV(w, d)
	default:
		return fmt.Errorf("%w: unit type %T", types.ErrStructuralMismatch, u)
	}
}

// Marshal is Encode into a byte slice.
func Marshal(u Unit) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, u); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
