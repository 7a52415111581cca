package schema

import (
	"sort"
)

// BuilderVersion identifies the catalog construction rules. Bump it whenever
// a change here can alter how an existing schema document is interpreted.
const BuilderVersion = "schema-builder/4"

// MaxMessageID is the largest id the frame header can carry
const MaxMessageID = 0xFFFF

// MaxPayloadSize bounds the fixed part of a message layout in bytes
const MaxPayloadSize = 1 << 24

// FieldDef is one field of a message layout, in wire order
type FieldDef struct {
	Name        string
	Type        FieldType
	Description string
	Unit        string
	AltUnit     string
	Scale       float64 // 0 means raw values are reported as-is
	Enum        []string
	Bits        []string
	LengthIndex int  // index of the length field for variable arrays, -1 otherwise
	Remaining   bool // variable array that consumes the rest of the buffer
}

// Scaled reports whether decoded values are converted to engineering units
func (f *FieldDef) Scaled() bool {
	return f.Scale != 0
}

// DisplayUnit is the unit of decoded values: the alternate unit when a
// scale factor applies, the raw unit otherwise
func (f *FieldDef) DisplayUnit() string {
	if f.Scaled() && f.AltUnit != "" {
		return f.AltUnit
	}
	return f.Unit
}

// MessageDef is an immutable message layout
type MessageDef struct {
	ID          uint16
	Name        string
	Description string
	Fields      []FieldDef
	Variable    bool
	FixedSize   int // bytes occupied by the fixed-size fields
	index       map[string]int
}

// Field returns the named field definition
func (m *MessageDef) Field(name string) (*FieldDef, bool) {
	i, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return &m.Fields[i], true
}

// AircraftDef describes one aircraft and the message types it may emit
type AircraftDef struct {
	ID        uint32
	Name      string
	Metadata  map[string]string
	Permitted []uint16 // sorted; nil means every message type
	permitted map[uint16]struct{}
}

// Permits reports whether the aircraft may emit the given message type
func (a *AircraftDef) Permits(id uint16) bool {
	if a.permitted == nil {
		return true
	}
	_, ok := a.permitted[id]
	return ok
}

// Catalog is the read-only result of building a schema document. It is safe
// for concurrent use by any number of decode runs.
type Catalog struct {
	Class         string
	DefaultStride int // 0 when unknown message ids cannot be skipped

	messages   map[uint16]*MessageDef
	byName     map[string]*MessageDef
	aircraft   map[uint32]*AircraftDef
	messageIDs []uint16
	aircraftID []uint32
}

// Message returns the layout for a message id
func (c *Catalog) Message(id uint16) (*MessageDef, bool) {
	m, ok := c.messages[id]
	return m, ok
}

// MessageByName returns the layout with the given symbolic name
func (c *Catalog) MessageByName(name string) (*MessageDef, bool) {
	m, ok := c.byName[name]
	return m, ok
}

// Aircraft returns the aircraft definition for an id
func (c *Catalog) Aircraft(id uint32) (*AircraftDef, bool) {
	a, ok := c.aircraft[id]
	return a, ok
}

// Messages returns every message layout ordered by id
func (c *Catalog) Messages() []*MessageDef {
	out := make([]*MessageDef, len(c.messageIDs))
	for i, id := range c.messageIDs {
		out[i] = c.messages[id]
	}
	return out
}

// AircraftList returns every aircraft ordered by id
func (c *Catalog) AircraftList() []*AircraftDef {
	out := make([]*AircraftDef, len(c.aircraftID))
	for i, id := range c.aircraftID {
		out[i] = c.aircraft[id]
	}
	return out
}

// HasAircraft reports whether the document declared any aircraft. A catalog
// without aircraft accepts frames from any aircraft id.
func (c *Catalog) HasAircraft() bool {
	return len(c.aircraft) > 0
}

func newCatalog() *Catalog {
	return &Catalog{
		messages: make(map[uint16]*MessageDef),
		byName:   make(map[string]*MessageDef),
		aircraft: make(map[uint32]*AircraftDef),
	}
}

func (c *Catalog) seal() {
	c.messageIDs = c.messageIDs[:0]
	for id := range c.messages {
		c.messageIDs = append(c.messageIDs, id)
	}
	sort.Slice(c.messageIDs, func(i, j int) bool { return c.messageIDs[i] < c.messageIDs[j] })

	c.aircraftID = c.aircraftID[:0]
	for id := range c.aircraft {
		c.aircraftID = append(c.aircraftID, id)
	}
	sort.Slice(c.aircraftID, func(i, j int) bool { return c.aircraftID[i] < c.aircraftID[j] })
}
