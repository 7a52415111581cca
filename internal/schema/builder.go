package schema

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DefaultMessageClass is selected when a document declares several classes
// and the caller does not name one
const DefaultMessageClass = "telemetry"

// RemainingMarker is the length attribute value of a variable array that
// consumes the rest of the buffer
const RemainingMarker = "*"

// BuildOptions selects what part of a schema document becomes the catalog
type BuildOptions struct {
	MessageClass string
}

// Load parses a schema document and builds its catalog
func Load(data []byte, format Format, opts BuildOptions) (*Catalog, error) {
	root, err := Parse(data, format)
	if err != nil {
		return nil, err
	}
	return Build(root, opts)
}

// Build turns a parsed schema document into a Catalog. Every inconsistency
// is reported as a *SchemaError; nothing is partially applied.
func Build(root *Node, opts BuildOptions) (*Catalog, error) {
	if root == nil {
		return nil, &SchemaError{MessageID: -1, Reason: "empty document"}
	}

	cat := newCatalog()
	class, err := selectClass(root, opts.MessageClass)
	if err != nil {
		return nil, err
	}

	scope := root
	if class != nil {
		scope = class
		cat.Class = class.AttrOr("name", "")
		if raw, ok := class.Attr("default_stride"); ok && raw != "" {
			stride, err := strconv.Atoi(raw)
			if err != nil || stride <= 0 {
				return nil, &SchemaError{MessageID: -1, Reason: "default_stride must be a positive integer, got " + strconv.Quote(raw)}
			}
			cat.DefaultStride = stride
		}
	}

	for _, node := range scope.Find("message") {
		msg, err := buildMessage(node)
		if err != nil {
			return nil, err
		}
		if prev, dup := cat.messages[msg.ID]; dup {
			return nil, messageError(msg.Name, int(msg.ID), "duplicate message id, already used by %s", prev.Name)
		}
		if _, dup := cat.byName[msg.Name]; dup {
			return nil, messageError(msg.Name, int(msg.ID), "duplicate message name")
		}
		cat.messages[msg.ID] = msg
		cat.byName[msg.Name] = msg
	}

	declared := make(map[string]struct{})
	for _, node := range root.Find("message") {
		declared[node.AttrOr("name", "")] = struct{}{}
	}
	for _, node := range root.Find("aircraft") {
		ac, err := buildAircraft(node, cat, declared)
		if err != nil {
			return nil, err
		}
		if _, dup := cat.aircraft[ac.ID]; dup {
			return nil, aircraftError(ac.Name, "duplicate aircraft id %d", ac.ID)
		}
		cat.aircraft[ac.ID] = ac
	}

	cat.seal()
	return cat, nil
}

func selectClass(root *Node, want string) (*Node, error) {
	classes := root.Find("msg_class")
	if want != "" {
		for _, c := range classes {
			if strings.EqualFold(c.AttrOr("name", ""), want) {
				return c, nil
			}
		}
		return nil, &SchemaError{MessageID: -1, Reason: "message class " + strconv.Quote(want) + " not declared"}
	}
	switch len(classes) {
	case 0:
		return nil, nil
	case 1:
		return classes[0], nil
	}
	for _, c := range classes {
		if strings.EqualFold(c.AttrOr("name", ""), DefaultMessageClass) {
			return c, nil
		}
	}
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = c.AttrOr("name", "?")
	}
	return nil, &SchemaError{MessageID: -1, Reason: "several message classes declared (" + strings.Join(names, ", ") + ") and none selected"}
}

func buildMessage(node *Node) (*MessageDef, error) {
	name := node.AttrOr("name", "")
	rawID, _ := node.Attr("id")
	if name == "" {
		return nil, messageError("", -1, "message without a name (id %q)", rawID)
	}
	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil {
		return nil, messageError(name, -1, "invalid message id %q", rawID)
	}
	if id > MaxMessageID {
		return nil, messageError(name, int(id), "message id exceeds %d", MaxMessageID)
	}

	msg := &MessageDef{
		ID:    uint16(id),
		Name:  name,
		index: make(map[string]int),
	}
	if d := node.Child("description"); d != nil {
		msg.Description = d.Text
	} else {
		msg.Description = node.AttrOr("description", "")
	}

	fieldNodes := node.ChildrenNamed("field")
	for i, fn := range fieldNodes {
		f, err := buildField(msg, fn, i == len(fieldNodes)-1)
		if err != nil {
			return nil, err
		}
		if _, dup := msg.index[f.Name]; dup {
			return nil, fieldError(msg.Name, int(msg.ID), f.Name, "duplicate field name")
		}
		msg.index[f.Name] = len(msg.Fields)
		msg.Fields = append(msg.Fields, f)
		if f.Type.Shape == ShapeVarArray {
			msg.Variable = true
		} else {
			msg.FixedSize += f.Type.Size()
			if msg.FixedSize > MaxPayloadSize {
				return nil, fieldError(msg.Name, int(msg.ID), f.Name, "message layout exceeds %d bytes", MaxPayloadSize)
			}
		}
	}
	return msg, nil
}

func buildField(msg *MessageDef, node *Node, last bool) (FieldDef, error) {
	id := int(msg.ID)
	name := node.AttrOr("name", "")
	if name == "" {
		return FieldDef{}, fieldError(msg.Name, id, "", "field without a name")
	}
	fail := func(format string, args ...any) (FieldDef, error) {
		return FieldDef{}, fieldError(msg.Name, id, name, format, args...)
	}

	rawType, _ := node.Attr("type")
	ft, err := ParseFieldType(rawType)
	if err != nil {
		return fail("%v", err)
	}

	f := FieldDef{
		Name:        name,
		Type:        ft,
		Description: node.Text,
		Unit:        node.AttrOr("unit", ""),
		AltUnit:     node.AttrOr("alt_unit", ""),
		LengthIndex: -1,
	}
	if f.Description == "" {
		f.Description = node.AttrOr("description", "")
	}

	if raw, ok := node.Attr("alt_unit_coef"); ok && raw != "" {
		coef, err := strconv.ParseFloat(raw, 64)
		if err != nil || coef == 0 || math.IsNaN(coef) || math.IsInf(coef, 0) {
			return fail("invalid alt_unit_coef %q", raw)
		}
		if ft.IsString() || ft.Base == KindBool {
			return fail("scale factor on non-numeric type %s", ft)
		}
		if ft.Base == KindInt64 || ft.Base == KindUint64 {
			return fail("scale factor on 64-bit integer type %s", ft)
		}
		f.Scale = coef
	}

	if raw, ok := node.Attr("values"); ok && raw != "" {
		labels, err := splitLabels(raw, false)
		if err != nil {
			return fail("values: %v", err)
		}
		f.Enum = labels
	}
	if raw, ok := node.Attr("bits"); ok && raw != "" {
		labels, err := splitLabels(raw, true)
		if err != nil {
			return fail("bits: %v", err)
		}
		if len(labels) > ft.Base.Size()*8 {
			return fail("%d bit labels do not fit in %s", len(labels), ft)
		}
		f.Bits = labels
	}
	if f.Enum != nil || f.Bits != nil {
		switch {
		case f.Enum != nil && f.Bits != nil:
			return fail("field declares both values and bits")
		case ft.Shape != ShapeScalar || !ft.Base.IsInteger():
			return fail("values and bits require an integer scalar, got %s", ft)
		case f.Scale != 0:
			return fail("values and bits cannot be combined with a scale factor")
		}
	}

	ref, hasRef := node.Attr("length")
	switch {
	case ft.Shape != ShapeVarArray:
		if hasRef && ref != "" {
			return fail("length reference on fixed-size type %s", ft)
		}
	case !hasRef || ref == "":
		return fail("variable-length field needs a length reference or length=%q", RemainingMarker)
	case ref == RemainingMarker:
		if !last {
			return fail("only the last field may consume the remaining bytes")
		}
		f.Remaining = true
	default:
		idx, ok := msg.index[ref]
		if !ok {
			if ref == name {
				return fail("length reference to itself")
			}
			return fail("length reference %q does not name an earlier field", ref)
		}
		target := msg.Fields[idx].Type
		if target.Shape != ShapeScalar || !target.Base.IsInteger() {
			return fail("length reference %q is not an integer scalar", ref)
		}
		f.LengthIndex = idx
	}
	return f, nil
}

// splitLabels splits a '|' separated table. Bit tables may leave positions
// unnamed; enum tables may not.
func splitLabels(raw string, allowEmpty bool) ([]string, error) {
	parts := strings.Split(raw, "|")
	seen := make(map[string]struct{}, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		parts[i] = p
		if p == "" {
			if allowEmpty {
				continue
			}
			return nil, fmt.Errorf("empty label at position %d", i)
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("duplicate label %q", p)
		}
		seen[p] = struct{}{}
	}
	return parts, nil
}

// reserved aircraft attributes; everything else is kept as metadata
var aircraftKeys = map[string]struct{}{
	"ac_id":    {},
	"id":       {},
	"name":     {},
	"messages": {},
}

// buildAircraft resolves the permitted messages against the whole document
// and keeps the ones that belong to the selected class
func buildAircraft(node *Node, cat *Catalog, declared map[string]struct{}) (*AircraftDef, error) {
	name := node.AttrOr("name", "")
	rawID, ok := node.Attr("ac_id")
	if !ok {
		rawID, _ = node.Attr("id")
	}
	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil {
		return nil, aircraftError(name, "invalid aircraft id %q", rawID)
	}
	if name == "" {
		name = "Unknown"
	}

	ac := &AircraftDef{
		ID:       uint32(id),
		Name:     name,
		Metadata: make(map[string]string),
	}
	for k, v := range node.Attrs {
		if _, reserved := aircraftKeys[k]; !reserved {
			ac.Metadata[k] = strings.TrimSpace(v)
		}
	}

	if raw, ok := node.Attr("messages"); ok && strings.Trim(raw, "| \t") != "" {
		ac.permitted = make(map[uint16]struct{})
		for _, mn := range strings.Split(raw, "|") {
			mn = strings.TrimSpace(mn)
			if mn == "" {
				continue
			}
			if _, ok := declared[mn]; !ok {
				return nil, aircraftError(name, "permitted message %q is not declared", mn)
			}
			if msg, ok := cat.byName[mn]; ok {
				ac.permitted[msg.ID] = struct{}{}
			}
		}
		ac.Permitted = make([]uint16, 0, len(ac.permitted))
		for mid := range ac.permitted {
			ac.Permitted = append(ac.Permitted, mid)
		}
		sort.Slice(ac.Permitted, func(i, j int) bool { return ac.Permitted[i] < ac.Permitted[j] })
	}
	return ac, nil
}
