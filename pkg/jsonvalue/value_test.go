// ABOUTME: Tests for Value parsing, encoding, accessors, and equality
// ABOUTME: Covers int/float distinction, key order, duplicate keys, and trailing-data rejection

package jsonvalue

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestParse_Kinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want Kind
	}{
		{"null", `null`, KindNull},
		{"true", `true`, KindBool},
		{"int", `42`, KindInt},
		{"negative int", `-7`, KindInt},
		{"float fraction", `1.5`, KindFloat},
		{"float exponent", `1e3`, KindFloat},
		{"int overflow", `123456789012345678901234567890`, KindFloat},
		{"string", `"hi"`, KindString},
		{"array", `[1,2]`, KindArray},
		{"object", `{"a":1}`, KindObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, err := Parse([]byte(tt.in))
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if v.Kind() != tt.want {
				t.Errorf("Kind() = %v, want %v", v.Kind(), tt.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{``, `{`, `{"a":}`, `[1,]`, `{} {}`, `1 2`, `nope`} {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", in)
		}
	}
}

func TestParse_DepthLimit(t *testing.T) {
	t.Parallel()

	deep := strings.Repeat("[", maxDepth+1) + strings.Repeat("]", maxDepth+1)
	if _, err := Parse([]byte(deep)); err == nil {
		t.Fatal("expected depth error")
	}
}

func TestObject_KeyOrderAndDuplicates(t *testing.T) {
	t.Parallel()

	v, err := Parse([]byte(`{"b":1,"a":2,"b":3}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", v.Len())
	}
	members := v.Members()
	if members[0].Key != "b" || members[1].Key != "a" {
		t.Errorf("key order = [%s %s], want [b a]", members[0].Key, members[1].Key)
	}
	if n, _ := members[0].Value.AsInt(); n != 3 {
		t.Errorf("b = %d, want 3 (last value wins)", n)
	}
	if got := v.String(); got != `{"b":3,"a":2}` {
		t.Errorf("String() = %s", got)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	v, err := Parse([]byte(`{"update":{"sessionUpdate":"tool_call","n":1}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := v.StringAt("update", "sessionUpdate"); got != "tool_call" {
		t.Errorf("StringAt = %q, want tool_call", got)
	}
	if !v.Lookup("update", "missing").IsNull() {
		t.Error("missing key should be null")
	}
	if !v.Lookup("update", "n", "deeper").IsNull() {
		t.Error("lookup through scalar should be null")
	}
	if got := v.StringAt("update", "n"); got != "" {
		t.Errorf("StringAt on int = %q, want empty", got)
	}
}

func TestAccessors(t *testing.T) {
	t.Parallel()

	if n, ok := Float(3).AsInt(); !ok || n != 3 {
		t.Errorf("Float(3).AsInt() = %d, %v", n, ok)
	}
	if _, ok := Float(3.5).AsInt(); ok {
		t.Error("Float(3.5).AsInt() should fail")
	}
	if f, ok := Int(2).AsFloat(); !ok || f != 2 {
		t.Errorf("Int(2).AsFloat() = %v, %v", f, ok)
	}
	if _, ok := String("x").AsBool(); ok {
		t.Error("String.AsBool should fail")
	}
	if String("x").Items() != nil || Int(1).Members() != nil {
		t.Error("Items/Members on scalars should be nil")
	}
}

func TestMarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"null", Null(), `null`},
		{"float keeps fraction", Float(2), `2.0`},
		{"float exponent", Float(1e21), `1e+21`},
		{"no html escape", String("<a&b>"), `"<a&b>"`},
		{"escape quotes", String("say \"hi\"\n"), `"say \"hi\"\n"`},
		{"nested", Object(Field("a", Array(Int(1), Bool(false))), Field("z", Null())), `{"a":[1,false],"z":null}`},
		{"empty array", Array(), `[]`},
		{"empty object", Object(), `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.v.String(); got != tt.want {
				t.Errorf("String() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMarshal_RejectsNaN(t *testing.T) {
	t.Parallel()

	if _, err := Float(math.NaN()).MarshalJSON(); err == nil {
		t.Error("expected error for NaN")
	}
	if _, err := Array(Float(math.Inf(1))).MarshalJSON(); err == nil {
		t.Error("expected error for nested Inf")
	}
}

func TestRoundTripPreservesKinds(t *testing.T) {
	t.Parallel()

	in := `{"i":1,"f":1.0,"s":"x","a":[null,true]}`
	v, err := Parse([]byte(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	again, err := Parse([]byte(v.String()))
	if err != nil {
		t.Fatalf("re-Parse: %v", err)
	}
	if !v.Equal(again) {
		t.Errorf("round trip changed value: %s vs %s", v, again)
	}
	if again.Lookup("f").Kind() != KindFloat {
		t.Errorf("f kind = %v, want float", again.Lookup("f").Kind())
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()

	a := Object(Field("x", Int(1)), Field("y", String("z")))
	b := Object(Field("y", String("z")), Field("x", Int(1)))
	if !a.Equal(b) {
		t.Error("objects with same members in different order should be equal")
	}
	if Int(1).Equal(Float(1)) {
		t.Error("int and float should not be equal")
	}
	if Array(Int(1)).Equal(Array(Int(1), Int(2))) {
		t.Error("arrays of different length should differ")
	}
}

func TestFromAndDecode(t *testing.T) {
	t.Parallel()

	type params struct {
		Path  string `json:"path"`
		Line  *int   `json:"line,omitempty"`
		Extra []int  `json:"extra"`
	}
	v, err := From(params{Path: "/a", Extra: []int{1}})
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	if v.StringAt("path") != "/a" {
		t.Errorf("path = %q", v.StringAt("path"))
	}
	if v.Has("line") {
		t.Error("omitempty field should be absent")
	}

	var out params
	if err := v.Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Path != "/a" || len(out.Extra) != 1 {
		t.Errorf("Decode = %+v", out)
	}
}

func TestValueInsideStdlibStructs(t *testing.T) {
	t.Parallel()

	type envelope struct {
		ID     Value `json:"id"`
		Result Value `json:"result"`
	}
	var env envelope
	if err := json.Unmarshal([]byte(`{"id":"abc","result":{"k":[1.5]}}`), &env); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s, _ := env.ID.AsString(); s != "abc" {
		t.Errorf("id = %v", env.ID)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"id":"abc","result":{"k":[1.5]}}` {
		t.Errorf("Marshal = %s", data)
	}
}
