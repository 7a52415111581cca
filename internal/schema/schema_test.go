package schema

import (
	"errors"
	"strings"
	"testing"
)

const gpsXML = `<?xml version="1.0"?>
<configuration>
  <conf>
    <aircraft ac_id="1" name="Alpha" airframe="fixedwing.xml" messages="GPS"/>
    <aircraft ac_id="2" name="Bravo &amp; Co" airframe="quad.xml"/>
  </conf>
  <protocol>
    <msg_class name="telemetry" id="1">
      <message name="GPS" id="10">
        <description>GNSS position fix</description>
        <field name="lat" type="int32" unit="1e7deg" alt_unit="deg" alt_unit_coef="0.0000001"/>
        <field name="n_sats" type="uint8"/>
      </message>
      <message name="STATUS" id="11">
        <field name="mode" type="uint8" values="MANUAL|AUTO1|AUTO2"/>
        <field name="flags" type="uint8" bits="armed||gps_ok"/>
        <field name="callsign" type="char[8]"/>
      </message>
      <message name="LOG" id="12">
        <field name="n" type="uint8"/>
        <field name="samples" type="int16[]" length="n"/>
        <field name="text" type="char[]" length="*"/>
      </message>
    </msg_class>
    <msg_class name="datalink" id="2">
      <message name="PING" id="1"/>
    </msg_class>
  </protocol>
</configuration>`

func TestBuildXML(t *testing.T) {
	cat, err := Load([]byte(gpsXML), FormatAuto, BuildOptions{})
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cat.Class != "telemetry" {
		t.Errorf("Class = %q, want telemetry", cat.Class)
	}
	if got := len(cat.Messages()); got != 3 {
		t.Fatalf("len(Messages()) = %d, want 3", got)
	}

	gps, ok := cat.Message(10)
	if !ok {
		t.Fatal("message 10 not found")
	}
	if gps.Name != "GPS" || gps.Description != "GNSS position fix" {
		t.Errorf("GPS = %q/%q", gps.Name, gps.Description)
	}
	if gps.FixedSize != 5 || gps.Variable {
		t.Errorf("GPS FixedSize = %d Variable = %v, want 5 false", gps.FixedSize, gps.Variable)
	}
	lat, _ := gps.Field("lat")
	if lat.Scale != 1e-7 || lat.DisplayUnit() != "deg" {
		t.Errorf("lat scale = %v unit = %q", lat.Scale, lat.DisplayUnit())
	}

	status, _ := cat.MessageByName("STATUS")
	mode, _ := status.Field("mode")
	if len(mode.Enum) != 3 || mode.Enum[1] != "AUTO1" {
		t.Errorf("mode enum = %v", mode.Enum)
	}
	flags, _ := status.Field("flags")
	if len(flags.Bits) != 3 || flags.Bits[1] != "" {
		t.Errorf("flags bits = %q", flags.Bits)
	}
	callsign, _ := status.Field("callsign")
	if !callsign.Type.IsString() || callsign.Type.Size() != 8 {
		t.Errorf("callsign type = %s", callsign.Type)
	}

	logMsg, _ := cat.MessageByName("LOG")
	if !logMsg.Variable || logMsg.FixedSize != 1 {
		t.Errorf("LOG Variable = %v FixedSize = %d", logMsg.Variable, logMsg.FixedSize)
	}
	if logMsg.Fields[1].LengthIndex != 0 {
		t.Errorf("samples LengthIndex = %d, want 0", logMsg.Fields[1].LengthIndex)
	}
	if !logMsg.Fields[2].Remaining {
		t.Error("text should consume the remaining bytes")
	}

	alpha, ok := cat.Aircraft(1)
	if !ok || alpha.Name != "Alpha" {
		t.Fatalf("aircraft 1 = %+v", alpha)
	}
	if alpha.Metadata["airframe"] != "fixedwing.xml" {
		t.Errorf("airframe metadata = %q", alpha.Metadata["airframe"])
	}
	if !alpha.Permits(10) || alpha.Permits(11) {
		t.Errorf("Alpha permits: GPS=%v STATUS=%v", alpha.Permits(10), alpha.Permits(11))
	}
	bravo, _ := cat.Aircraft(2)
	if bravo.Name != "Bravo & Co" || !bravo.Permits(11) {
		t.Errorf("Bravo = %+v", bravo)
	}
}

func TestBuildSelectsClass(t *testing.T) {
	cat, err := Load([]byte(gpsXML), FormatXML, BuildOptions{MessageClass: "datalink"})
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if _, ok := cat.MessageByName("PING"); !ok {
		t.Error("PING not found in datalink class")
	}
	if _, ok := cat.MessageByName("GPS"); ok {
		t.Error("GPS should not be part of datalink class")
	}

	// Alpha's permitted messages live in the telemetry class
	alpha, ok := cat.Aircraft(1)
	if !ok {
		t.Fatal("aircraft 1 missing from datalink catalog")
	}
	if alpha.Permits(1) || len(alpha.Permitted) != 0 {
		t.Errorf("Alpha permits PING in datalink class: %v", alpha.Permitted)
	}
	if bravo, _ := cat.Aircraft(2); !bravo.Permits(1) {
		t.Error("Bravo has no restriction and should permit PING")
	}

	if _, err := Load([]byte(gpsXML), FormatXML, BuildOptions{MessageClass: "missing"}); !errors.Is(err, ErrSchema) {
		t.Errorf("unknown class error = %v, want ErrSchema", err)
	}
}

func TestBuildYAML(t *testing.T) {
	doc := `
aircraft:
  - ac_id: 7
    name: Charlie
    messages: [GPS]
msg_class:
  name: telemetry
  default_stride: 12
  messages:
    - name: GPS
      id: 10
      description: position
      fields:
        - {name: lat, type: int32, alt_unit_coef: 1e-7}
        - {name: n_sats, type: uint8}
    - name: MODE
      id: 20
      fields:
        - name: mode
          type: uint8
          values: [MANUAL, AUTO]
`
	cat, err := Load([]byte(doc), FormatAuto, BuildOptions{})
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cat.DefaultStride != 12 {
		t.Errorf("DefaultStride = %d, want 12", cat.DefaultStride)
	}
	gps, ok := cat.Message(10)
	if !ok || gps.Description != "position" || len(gps.Fields) != 2 {
		t.Fatalf("GPS = %+v", gps)
	}
	mode, _ := cat.MessageByName("MODE")
	if f, _ := mode.Field("mode"); len(f.Enum) != 2 || f.Enum[1] != "AUTO" {
		t.Errorf("mode enum = %v", f.Enum)
	}
	ac, ok := cat.Aircraft(7)
	if !ok || !ac.Permits(10) || ac.Permits(20) {
		t.Errorf("aircraft 7 = %+v", ac)
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantMsg   string
		wantField string
		contains  string
	}{
		{
			name: "duplicate message id",
			doc: `<protocol><msg_class name="telemetry">
				<message name="A" id="1"/><message name="B" id="1"/>
			</msg_class></protocol>`,
			wantMsg:  "B",
			contains: "duplicate message id",
		},
		{
			name: "duplicate message name",
			doc: `<protocol><msg_class name="telemetry">
				<message name="A" id="1"/><message name="A" id="2"/>
			</msg_class></protocol>`,
			wantMsg:  "A",
			contains: "duplicate message name",
		},
		{
			name:      "unknown type",
			doc:       `<protocol><message name="A" id="1"><field name="x" type="int24"/></message></protocol>`,
			wantMsg:   "A",
			wantField: "x",
			contains:  "unknown type",
		},
		{
			name:      "variable array without length",
			doc:       `<protocol><message name="A" id="1"><field name="x" type="uint8[]"/></message></protocol>`,
			wantMsg:   "A",
			wantField: "x",
			contains:  "length reference",
		},
		{
			name: "forward length reference",
			doc: `<protocol><message name="A" id="1">
				<field name="x" type="uint8[]" length="n"/><field name="n" type="uint8"/>
			</message></protocol>`,
			wantMsg:   "A",
			wantField: "x",
			contains:  "earlier field",
		},
		{
			name: "length reference to non-integer",
			doc: `<protocol><message name="A" id="1">
				<field name="n" type="float"/><field name="x" type="uint8[]" length="n"/>
			</message></protocol>`,
			wantField: "x",
			contains:  "integer scalar",
		},
		{
			name: "remaining marker not last",
			doc: `<protocol><message name="A" id="1">
				<field name="x" type="uint8[]" length="*"/><field name="y" type="uint8"/>
			</message></protocol>`,
			wantField: "x",
			contains:  "last field",
		},
		{
			name:      "enum on float",
			doc:       `<protocol><message name="A" id="1"><field name="x" type="float" values="a|b"/></message></protocol>`,
			wantField: "x",
			contains:  "integer scalar",
		},
		{
			name:      "duplicate enum label",
			doc:       `<protocol><message name="A" id="1"><field name="x" type="uint8" values="a|a"/></message></protocol>`,
			wantField: "x",
			contains:  "duplicate label",
		},
		{
			name:      "too many bits",
			doc:       `<protocol><message name="A" id="1"><field name="x" type="uint8" bits="a|b|c|d|e|f|g|h|i"/></message></protocol>`,
			wantField: "x",
			contains:  "do not fit",
		},
		{
			name:     "message id out of range",
			doc:      `<protocol><message name="A" id="70000"/></protocol>`,
			wantMsg:  "A",
			contains: "exceeds",
		},
		{
			name:     "duplicate aircraft",
			doc:      `<conf><aircraft ac_id="1" name="a"/><aircraft ac_id="1" name="b"/></conf>`,
			contains: "duplicate aircraft id",
		},
		{
			name:     "unknown permitted message",
			doc:      `<conf><aircraft ac_id="1" name="a" messages="NOPE"/></conf>`,
			contains: "not declared",
		},
		{
			name: "permitted message declared nowhere in the document",
			doc: `<configuration><conf><aircraft ac_id="1" name="a" messages="PING|NOPE"/></conf>
				<protocol><msg_class name="telemetry"><message name="GPS" id="10"/></msg_class>
				<msg_class name="datalink"><message name="PING" id="1"/></msg_class></protocol></configuration>`,
			contains: `"NOPE" is not declared`,
		},
		{
			name:      "array larger than the payload bound",
			doc:       `<protocol><message name="A" id="1"><field name="x" type="uint64[2305843009213693953]"/></message></protocol>`,
			wantMsg:   "A",
			wantField: "x",
			contains:  "exceeds",
		},
		{
			name: "message layout larger than the payload bound",
			doc: `<protocol><message name="A" id="1">
				<field name="x" type="uint8[16777216]"/><field name="y" type="uint8"/>
			</message></protocol>`,
			wantMsg:   "A",
			wantField: "y",
			contains:  "message layout exceeds",
		},
		{
			name:      "scale on 64-bit integer",
			doc:       `<protocol><message name="A" id="1"><field name="x" type="uint64" alt_unit_coef="0.001"/></message></protocol>`,
			wantField: "x",
			contains:  "64-bit",
		},
		{
			name:     "ambiguous message class",
			doc:      `<protocol><msg_class name="one"/><msg_class name="two"/></protocol>`,
			contains: "none selected",
		},
		{
			name:     "invalid stride",
			doc:      `<protocol><msg_class name="telemetry" default_stride="-4"/></protocol>`,
			contains: "default_stride",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.doc), FormatXML, BuildOptions{})
			if err == nil {
				t.Fatal("Load() expected error but got none")
			}
			if !errors.Is(err, ErrSchema) {
				t.Errorf("error %v does not match ErrSchema", err)
			}
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("error %T is not a *SchemaError", err)
			}
			if tt.wantMsg != "" && se.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", se.Message, tt.wantMsg)
			}
			if tt.wantField != "" && se.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", se.Field, tt.wantField)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.contains)
			}
		})
	}
}

func TestParseFieldType(t *testing.T) {
	tests := []struct {
		in      string
		want    FieldType
		wantErr bool
	}{
		{in: "int32", want: FieldType{Base: KindInt32}},
		{in: "uchar", want: FieldType{Base: KindUint8}},
		{in: "char", want: FieldType{Base: KindInt8}},
		{in: "double", want: FieldType{Base: KindFloat64}},
		{in: "char[16]", want: FieldType{Base: KindChar, Shape: ShapeFixedArray, Count: 16}},
		{in: "float[3]", want: FieldType{Base: KindFloat32, Shape: ShapeFixedArray, Count: 3}},
		{in: "uint16[]", want: FieldType{Base: KindUint16, Shape: ShapeVarArray}},
		{in: "int24", wantErr: true},
		{in: "uint8[0]", wantErr: true},
		{in: "uint8[x]", wantErr: true},
		{in: "uint8[16777216]", want: FieldType{Base: KindUint8, Shape: ShapeFixedArray, Count: 1 << 24}},
		{in: "uint16[8388609]", wantErr: true},
		{in: "uint64[2305843009213693953]", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFieldType(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseFieldType(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFieldType(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFieldType(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEscapeStrayAmpersands(t *testing.T) {
	in := `<a name="R&D &amp; Ops &#38; &x"/>`
	want := `<a name="R&amp;D &amp; Ops &#38; &amp;x"/>`
	if got := string(escapeStrayAmpersands([]byte(in))); got != want {
		t.Errorf("escapeStrayAmpersands() = %q, want %q", got, want)
	}
}

func TestDetectFormat(t *testing.T) {
	if DetectFormat([]byte("\xef\xbb\xbf  <x/>")) != FormatXML {
		t.Error("BOM-prefixed XML not detected")
	}
	if DetectFormat([]byte("messages: []")) != FormatYAML {
		t.Error("YAML not detected")
	}
}
