package grpcbridge

import "testing"

func TestParseBoolAcceptsCommonTokens(t *testing.T) {
	truthy := []string{"true", "1", "yes", "on", "TRUE", "Yes"}
	for _, s := range truthy {
		b, err := parseBool(s)
		if err != nil || !b {
			t.Fatalf("expected %q to parse as true, got %v err=%v", s, b, err)
		}
	}

	falsy := []string{"false", "0", "no", "off", "", "FALSE"}
	for _, s := range falsy {
		b, err := parseBool(s)
		if err != nil || b {
			t.Fatalf("expected %q to parse as false, got %v err=%v", s, b, err)
		}
	}

	if _, err := parseBool("maybe"); err == nil {
		t.Fatalf("expected error for unrecognized bool token")
	}
}

func TestCoerceBoolAcceptsNumberAndNative(t *testing.T) {
	if b, err := coerceBool("flag", true); err != nil || !b {
		t.Fatalf("expected native true, got %v err=%v", b, err)
	}
	if b, err := coerceBool("flag", float64(0)); err != nil || b {
		t.Fatalf("expected 0 to coerce false, got %v err=%v", b, err)
	}
	if b, err := coerceBool("flag", float64(5)); err != nil || !b {
		t.Fatalf("expected nonzero number to coerce true, got %v err=%v", b, err)
	}
}

func TestSignedIntFromJSONRejectsOutOfRange(t *testing.T) {
	if _, err := signedIntFromJSON("n", float64(1<<40), 32); err == nil {
		t.Fatalf("expected out-of-range int32 to error")
	}
	n, err := signedIntFromJSON("n", "-5", 32)
	if err != nil || n != -5 {
		t.Fatalf("expected -5, got %v err=%v", n, err)
	}
}

func TestUnsignedIntFromJSONRejectsNegativeStrings(t *testing.T) {
	if _, err := unsignedIntFromJSON("n", "-5", 32); err == nil {
		t.Fatalf("expected negative string to error for unsigned field instead of wrapping")
	}
	if _, err := unsignedIntFromJSON("n", float64(-5), 32); err == nil {
		t.Fatalf("expected negative number to error for unsigned field")
	}
	n, err := unsignedIntFromJSON("n", "42", 32)
	if err != nil || n != 42 {
		t.Fatalf("expected 42, got %v err=%v", n, err)
	}
}

func TestFloatFromJSONAcceptsStringAndBool(t *testing.T) {
	n, err := floatFromJSON("n", "42")
	if err != nil || n != 42 {
		t.Fatalf("expected 42, got %v err=%v", n, err)
	}
	n, err = floatFromJSON("n", true)
	if err != nil || n != 1 {
		t.Fatalf("expected bool true to coerce to 1, got %v err=%v", n, err)
	}
	if _, err := floatFromJSON("n", "not-a-number"); err == nil {
		t.Fatalf("expected error parsing non-numeric string")
	}
}

func TestJSONTypeName(t *testing.T) {
	cases := []struct {
		v    any
		want string
	}{
		{nil, "null"},
		{true, "bool"},
		{float64(1), "number"},
		{"s", "string"},
		{[]any{}, "array"},
		{map[string]any{}, "object"},
	}
	for _, tc := range cases {
		if got := jsonTypeName(tc.v); got != tc.want {
			t.Fatalf("jsonTypeName(%v) = %q, want %q", tc.v, got, tc.want)
		}
	}
}

func TestConversionErrorFormatsByKind(t *testing.T) {
	unknown := unknownFieldErr("widget.extra")
	if unknown.Error() != `unknown field "widget.extra"` {
		t.Fatalf("unexpected unknown-field error string: %s", unknown.Error())
	}

	mismatch := typeMismatchErr("widget.name", "string", "number")
	if mismatch.Error() != `field "widget.name": expected string, got number` {
		t.Fatalf("unexpected type-mismatch error string: %s", mismatch.Error())
	}

	invalid := invalidValueErr("widget.name", "expected string")
	if invalid.Error() != `field "widget.name": expected string` {
		t.Fatalf("unexpected invalid-value error string: %s", invalid.Error())
	}

	bare := invalidValueErr("", "top level failure")
	if bare.Error() != "top level failure" {
		t.Fatalf("unexpected bare error string: %s", bare.Error())
	}

	nested := nestedErr("widget", mismatch)
	if nested.Kind != KindNested || nested.Error() != `field "widget": field "widget.name": expected string, got number` {
		t.Fatalf("unexpected nested error string: %s", nested.Error())
	}
}

func TestJSONToProtobufRejectsNonObjectTopLevel(t *testing.T) {
	c := &Converter{}
	_, err := c.JSONToProtobuf(nil, "not an object")
	ce, ok := err.(*ConversionError)
	if !ok || ce.Kind != KindTypeMismatch {
		t.Fatalf("expected top-level type mismatch error, got %v", err)
	}
}
