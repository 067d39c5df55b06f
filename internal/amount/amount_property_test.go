// Property-based tests for exact-precision money arithmetic.
package amount

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// TestMicroRoundTripProperty verifies that every valid 6-decimal amount
// survives a parse -> micro -> amount -> string -> parse cycle unchanged.
func TestMicroRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		micro := rapid.Int64Range(1, 1_000_000_000_000).Draw(t, "micro")

		a := FromMicro(micro)
		if a.Micro() != micro {
			t.Fatalf("FromMicro/Micro mismatch: %d != %d", a.Micro(), micro)
		}

		reparsed, err := Parse(a.String())
		if err != nil {
			t.Fatalf("reparse of %q failed: %v", a.String(), err)
		}
		if !reparsed.Equal(a) {
			t.Fatalf("round trip mismatch: %s != %s", reparsed, a)
		}
	})
}

// TestParseFractionDigitsProperty verifies the 6-digit boundary exactly:
// 6 fractional digits parse, 7 are rejected.
func TestParseFractionDigitsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		whole := rapid.Int64Range(0, 1_000_000).Draw(t, "whole")
		frac := rapid.Int64Range(1, 999_999).Draw(t, "frac")

		ok := fmt.Sprintf("%d.%06d", whole, frac)
		if _, err := Parse(ok); err != nil {
			t.Fatalf("Parse(%q) failed: %v", ok, err)
		}

		over := fmt.Sprintf("%d.%06d1", whole, frac)
		if _, err := Parse(over); err == nil {
			t.Fatalf("Parse(%q) accepted over-precise input", over)
		}
	})
}

// TestAddSubSymmetryProperty verifies (a+b)-b == a on micro-units.
func TestAddSubSymmetryProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := FromMicro(rapid.Int64Range(0, 1_000_000_000).Draw(t, "a"))
		b := FromMicro(rapid.Int64Range(0, 1_000_000_000).Draw(t, "b"))

		sum, err := a.Add(b)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		back, err := sum.Sub(b)
		if err != nil {
			t.Fatalf("Sub failed: %v", err)
		}
		if !back.Equal(a) {
			t.Fatalf("(a+b)-b != a: %s != %s", back, a)
		}
	})
}
