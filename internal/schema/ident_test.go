package schema

import (
	"testing"

	"github.com/arkilian/docrel/pkg/types"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Foo.Bar!", "foo_bar_"},
		{"_id", "_id"},
		{"$price", "$price"},
		{"a b-c", "a_b_c"},
		{"ÜBER", "_ber"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.expected {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestFieldIdentifier(t *testing.T) {
	if got := FieldIdentifier("Foo.Bar!", types.KindString); got != "foo_bar__s" {
		t.Errorf("expected foo_bar__s, got %q", got)
	}
	if FieldIdentifier("Foo.Bar!", types.KindString) != FieldIdentifier("Foo.Bar!", types.KindString) {
		t.Error("expected deterministic identifiers")
	}
	if got := FieldIdentifier("tags", types.KindChild); got != "tags_e" {
		t.Errorf("expected tags_e, got %q", got)
	}
	if got := ScalarIdentifier(types.KindLong); got != "l" {
		t.Errorf("expected l, got %q", got)
	}
}

func TestTableIdentifier(t *testing.T) {
	tests := []struct {
		path     *PathRef
		expected string
	}{
		{Root(), "people"},
		{Root().Field("Addr"), "people.addr"},
		{Root().Field("addr").Field("Zip Code"), "people.addr.zip_code"},
		{Root().Field("m").Dimension(2), "people.m.$2"},
		{Root().Field("m").Dimension(2).Dimension(3), "people.m.$2.$3"},
	}
	for _, tt := range tests {
		if got := TableIdentifier("People", tt.path); got != tt.expected {
			t.Errorf("TableIdentifier(%s) = %q, want %q", tt.path, got, tt.expected)
		}
	}
}

func TestValidIdentifier(t *testing.T) {
	valid := []string{"people", "people.addr", "foo_bar__s", "m.$2"}
	for _, name := range valid {
		if !ValidIdentifier(name) {
			t.Errorf("expected %q to be valid", name)
		}
	}
	invalid := []string{"", "People", "a b", "x;drop"}
	for _, name := range invalid {
		if ValidIdentifier(name) {
			t.Errorf("expected %q to be invalid", name)
		}
	}
	if !IsReservedColumn("rid") || IsReservedColumn("rid_l") {
		t.Error("unexpected reserved column classification")
	}
}
