package schema

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// plural YAML keys accepted for the repeated XML element names
var yamlNodeNames = map[string]string{
	"messages":    "message",
	"fields":      "field",
	"msg_classes": "msg_class",
	"classes":     "msg_class",
}

// ParseYAML reads a YAML schema document into the same node tree shape as
// ParseXML. Scalars become attributes, mappings and sequences of mappings
// become child nodes, and sequences of scalars become '|' separated
// attribute values (the XML encoding of enum labels).
func ParseYAML(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML: %v", ErrSchema, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty YAML document", ErrSchema)
	}
	root := resolveAlias(doc.Content[0])
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: YAML document root must be a mapping", ErrSchema)
	}
	return convertYAML("root", root)
}

func convertYAML(name string, m *yaml.Node) (*Node, error) {
	n := &Node{Name: name, Attrs: make(map[string]string)}
	for i := 0; i+1 < len(m.Content); i += 2 {
		key := strings.ToLower(strings.TrimSpace(m.Content[i].Value))
		nodeName := key
		if alias, ok := yamlNodeNames[key]; ok {
			nodeName = alias
		}
		val := resolveAlias(m.Content[i+1])

		switch val.Kind {
		case yaml.ScalarNode:
			n.Attrs[key] = val.Value
		case yaml.MappingNode:
			child, err := convertYAML(nodeName, val)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		case yaml.SequenceNode:
			if err := appendYAMLSequence(n, key, nodeName, val); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unsupported YAML value for %q at line %d", ErrSchema, key, val.Line)
		}
	}
	return n, nil
}

func appendYAMLSequence(n *Node, key, nodeName string, seq *yaml.Node) error {
	scalars := make([]string, 0, len(seq.Content))
	for _, item := range seq.Content {
		item = resolveAlias(item)
		switch item.Kind {
		case yaml.ScalarNode:
			scalars = append(scalars, item.Value)
		case yaml.MappingNode:
			child, err := convertYAML(nodeName, item)
			if err != nil {
				return err
			}
			n.Children = append(n.Children, child)
		default:
			return fmt.Errorf("%w: unsupported YAML list item for %q at line %d", ErrSchema, key, item.Line)
		}
	}
	if len(scalars) > 0 {
		if len(scalars) != len(seq.Content) {
			return fmt.Errorf("%w: YAML list %q mixes scalars and mappings", ErrSchema, key)
		}
		n.Attrs[key] = strings.Join(scalars, "|")
	}
	return nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}
