package fields

import (
	"context"
	"testing"

	"trackline/internal/domain"
)

func p64(v int64) *int64 { return &v }

func encode(t *testing.T, typ domain.FieldType, f domain.Field, raw string) *int64 {
	t.Helper()
	c, err := For(typ)
	if err != nil {
		t.Fatalf("codec for %s: %v", typ, err)
	}
	v, err := c.Encode(context.Background(), nil, nil, Scope{}, f, raw)
	if err != nil {
		t.Fatalf("encode %q: %v", raw, err)
	}
	return v
}

func decode(t *testing.T, typ domain.FieldType, f domain.Field, v *int64) string {
	t.Helper()
	c, _ := For(typ)
	s, err := c.Decode(context.Background(), nil, nil, f, v)
	if err != nil {
		t.Fatalf("decode %v: %v", v, err)
	}
	return s
}

func TestNumberCodec(t *testing.T) {
	f := domain.Field{Name: "count", Param1: p64(1), Param2: p64(10)}
	if got := encode(t, domain.FieldNumber, f, "7"); got == nil || *got != 7 {
		t.Fatalf("encode 7 = %v", got)
	}
	if got := decode(t, domain.FieldNumber, f, p64(7)); got != "7" {
		t.Fatalf("decode = %q", got)
	}
	c, _ := For(domain.FieldNumber)
	if _, err := c.Encode(context.Background(), nil, nil, Scope{}, f, "11"); err == nil {
		t.Fatal("expected range error above max")
	}
	if _, err := c.Encode(context.Background(), nil, nil, Scope{}, f, "0"); err == nil {
		t.Fatal("expected range error below min")
	}
	if _, err := c.Encode(context.Background(), nil, nil, Scope{}, f, "seven"); err == nil {
		t.Fatal("expected parse error")
	}
	if got := encode(t, domain.FieldNumber, f, ""); got != nil {
		t.Fatalf("empty input must encode to nil, got %v", got)
	}
}

func TestCheckboxCodec(t *testing.T) {
	f := domain.Field{Name: "done"}
	for raw, want := range map[string]int64{"true": 1, "t": 1, "1": 1, "false": 0, "f": 0, "0": 0} {
		got := encode(t, domain.FieldCheckbox, f, raw)
		if got == nil || *got != want {
			t.Fatalf("encode %q = %v, want %d", raw, got, want)
		}
	}
	c, _ := For(domain.FieldCheckbox)
	if _, err := c.Encode(context.Background(), nil, nil, Scope{}, f, "maybe"); err == nil {
		t.Fatal("expected parse error")
	}
	if got := decode(t, domain.FieldCheckbox, f, p64(1)); got != "true" {
		t.Fatalf("decode 1 = %q", got)
	}
	if got := decode(t, domain.FieldCheckbox, f, p64(0)); got != "false" {
		t.Fatalf("decode 0 = %q", got)
	}
}

func TestDateCodecRoundTrip(t *testing.T) {
	f := domain.Field{Name: "due"}
	v := encode(t, domain.FieldDate, f, "2024-05-01")
	if v == nil {
		t.Fatal("nil encoding")
	}
	if got := decode(t, domain.FieldDate, f, v); got != "2024-05-01" {
		t.Fatalf("round trip = %q", got)
	}
	// Epoch day zero.
	if got := decode(t, domain.FieldDate, f, p64(0)); got != "1970-01-01" {
		t.Fatalf("epoch = %q", got)
	}
	c, _ := For(domain.FieldDate)
	if _, err := c.Encode(context.Background(), nil, nil, Scope{}, f, "01/05/2024"); err == nil {
		t.Fatal("expected format error")
	}
}

func TestDurationCodec(t *testing.T) {
	f := domain.Field{Name: "spent"}
	if got := encode(t, domain.FieldDuration, f, "2:30"); got == nil || *got != 150 {
		t.Fatalf("encode 2:30 = %v", got)
	}
	if got := decode(t, domain.FieldDuration, f, p64(150)); got != "2:30" {
		t.Fatalf("decode 150 = %q", got)
	}
	if got := decode(t, domain.FieldDuration, f, p64(65)); got != "1:05" {
		t.Fatalf("decode 65 = %q, want zero-padded minutes", got)
	}
	c, _ := For(domain.FieldDuration)
	for _, raw := range []string{"2:60", "-1:00", "90", "h:mm"} {
		if _, err := c.Encode(context.Background(), nil, nil, Scope{}, f, raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestStringLengthValidation(t *testing.T) {
	c, _ := For(domain.FieldString)
	f := domain.Field{Name: "title", Param1: p64(5)}
	if err := c.Validate(f, "abcdef"); err == nil {
		t.Fatal("expected length error")
	}
	if err := c.Validate(f, "abcde"); err != nil {
		t.Fatalf("within limit: %v", err)
	}
}

func TestUnknownFieldType(t *testing.T) {
	if _, err := For(domain.FieldType("hologram")); err == nil {
		t.Fatal("expected unknown type error")
	}
}
