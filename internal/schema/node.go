package schema

import (
	"bytes"
	"fmt"
	"strings"
)

// Node is one element of a schema document. Attribute keys and node names
// are stored lower-cased so XML and YAML documents resolve the same way.
type Node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Node
}

// Attr returns the named attribute
func (n *Node) Attr(name string) (string, bool) {
	v, ok := n.Attrs[strings.ToLower(name)]
	return strings.TrimSpace(v), ok
}

// AttrOr returns the named attribute or def when it is missing or blank
func (n *Node) AttrOr(name, def string) string {
	if v, ok := n.Attr(name); ok && v != "" {
		return v
	}
	return def
}

// Child returns the first direct child with the given name
func (n *Node) Child(name string) *Node {
	name = strings.ToLower(name)
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns the direct children with the given name
func (n *Node) ChildrenNamed(name string) []*Node {
	name = strings.ToLower(name)
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Find returns every descendant with the given name in document order.
// Matching nodes are not searched further.
func (n *Node) Find(name string) []*Node {
	name = strings.ToLower(name)
	var out []*Node
	var walk func(*Node)
	walk = func(cur *Node) {
		for _, c := range cur.Children {
			if c.Name == name {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// Format identifies the concrete syntax of a schema document
type Format string

const (
	FormatAuto Format = ""
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a user supplied format name to a Format
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "xml", "log":
		return FormatXML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return FormatAuto, fmt.Errorf("unknown schema format %q", s)
	}
}

// DetectFormat guesses the document syntax from its first significant byte
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed = bytes.TrimSpace(trimmed)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return FormatXML
	}
	return FormatYAML
}

// Parse reads a schema document into a node tree
func Parse(data []byte, format Format) (*Node, error) {
	if format == FormatAuto {
		format = DetectFormat(data)
	}
	switch format {
	case FormatXML:
		return ParseXML(data)
	case FormatYAML:
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported schema format %q", format)
	}
}
