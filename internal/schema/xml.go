package schema

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseXML reads the autopilot's XML log header into a node tree
func ParseXML(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(escapeStrayAmpersands(data)))
	// Logs are written as ASCII or Latin-1; entity values are never
	// interpreted, so the bytes are passed through as-is.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var (
		root  *Node
		stack []*Node
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: invalid XML: %v", ErrSchema, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{
				Name:  strings.ToLower(t.Name.Local),
				Attrs: make(map[string]string, len(t.Attr)),
			}
			for _, a := range t.Attr {
				n.Attrs[strings.ToLower(a.Name.Local)] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("%w: multiple XML root elements", ErrSchema)
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.Text = strings.TrimSpace(top.Text)
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("%w: empty XML document", ErrSchema)
	}
	return root, nil
}

// escapeStrayAmpersands rewrites '&' characters that do not start an
// entity reference. Aircraft descriptions in real logs often contain them.
func escapeStrayAmpersands(data []byte) []byte {
	if bytes.IndexByte(data, '&') < 0 {
		return data
	}
	out := make([]byte, 0, len(data)+16)
	for i := 0; i < len(data); i++ {
		if data[i] == '&' && !isEntityAt(data[i+1:]) {
			out = append(out, "&amp;"...)
			continue
		}
		out = append(out, data[i])
	}
	return out
}

func isEntityAt(rest []byte) bool {
	if len(rest) == 0 || !(isAlnum(rest[0]) || rest[0] == '#') {
		return false
	}
	for i := 1; i < len(rest); i++ {
		switch {
		case rest[i] == ';':
			return true
		case !isAlnum(rest[i]):
			return false
		}
	}
	return false
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
