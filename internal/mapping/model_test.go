package mapping

import (
	"encoding/json"
	"testing"
	"time"
)

func TestOptional_JSONPresence(t *testing.T) {
	var doc struct {
		A Optional[string] `json:"a"`
		B Optional[string] `json:"b"`
		C Optional[string] `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"b": null, "c": "x"}`), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !doc.A.IsAbsent() {
		t.Errorf("a should be absent")
	}
	if !doc.B.IsNull() {
		t.Errorf("b should be null")
	}
	if v, ok := doc.C.Get(); !ok || v != "x" {
		t.Errorf("c = %q, %v", v, ok)
	}
}

func TestOptional_Merge(t *testing.T) {
	prev := "kept"
	if got := (Optional[string]{}).Merge(&prev); got == nil || *got != "kept" {
		t.Errorf("absent should keep prev, got %v", got)
	}
	if got := Null[string]().Merge(&prev); got != nil {
		t.Errorf("null should clear, got %q", *got)
	}
	if got := Some("new").Merge(&prev); got == nil || *got != "new" {
		t.Errorf("value should replace, got %v", got)
	}
}

func TestParseExpiry(t *testing.T) {
	cases := map[string]time.Time{
		"2024-01-01T00:00:00Z":          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"2024-01-01T00:00:00.000Z":      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"2024-01-01T08:00:00+08:00":     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"2024-03-05T10:30":              time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC),
		"2024-03-05 10:30:15":           time.Date(2024, 3, 5, 10, 30, 15, 0, time.UTC),
		"2024-03-05":                    time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		" 2024-03-05T10:30:00.5+00:00 ": time.Date(2024, 3, 5, 10, 30, 0, 5e8, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseExpiry(in)
		if err != nil {
			t.Errorf("%q: %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("%q = %v, want %v", in, got, want)
		}
	}
	for _, bad := range []string{"tomorrow", "2024-13-01", "01/02/2024", ""} {
		if _, err := ParseExpiry(bad); err == nil {
			t.Errorf("%q should not parse", bad)
		}
	}
}

func TestFormatTime_LexicalOrder(t *testing.T) {
	a := FormatTime(time.Date(2024, 1, 1, 23, 59, 59, 999e6, time.UTC))
	b := FormatTime(time.Date(2024, 1, 2, 0, 0, 0, 0, time.FixedZone("X", 3600)))
	if a != "2024-01-01T23:59:59.999Z" || b != "2024-01-01T23:00:00.000Z" {
		t.Fatalf("format: %s %s", a, b)
	}
	if !(b < a) {
		t.Fatalf("lexical order broken: %s !< %s", b, a)
	}
}

func TestReserved(t *testing.T) {
	r := NewReserved("status", "admin", "")
	if !r.Contains("status") || !r.Contains("admin") || !r.Contains("zxing.js") {
		t.Fatalf("missing entries: %v", r.List())
	}
	if r.Contains("") || r.Contains("promo") {
		t.Fatalf("unexpected entries: %v", r.List())
	}
	if got, want := len(r.List()), len(DefaultReserved)+1; got != want {
		t.Fatalf("len = %d, want %d", got, want)
	}
}
