package watch

import (
	"slices"
	"testing"
)

func TestStateUnsetVersusEmpty(t *testing.T) {
	if Unset().Equal(StateOf()) {
		t.Fatal("unset must differ from the observed empty set")
	}
	if !Scalar("").Equal(Unset()) {
		t.Fatal("empty scalar must be unset")
	}
	if got := StateOf().String(); got != "none" {
		t.Fatalf("String() = %q, want none", got)
	}
	if got := Unset().String(); got != "unset" {
		t.Fatalf("String() = %q, want unset", got)
	}
}

func TestStateSetSemantics(t *testing.T) {
	a := StateOf("RSI_OVERSOLD", "TOUCH_MA20", "TOUCH_MA20")
	b := StateOf("TOUCH_MA20", "RSI_OVERSOLD")
	if !a.Equal(b) {
		t.Fatalf("%s != %s", a, b)
	}
	if !a.Has("TOUCH_MA20") || a.Has("GOLDEN_CROSS") {
		t.Fatal("Has mismatch")
	}

	next := StateOf("TOUCH_MA20", "VOLUME_SPIKE")
	entered, left := next.Diff(a)
	if !slices.Equal(entered, []string{"VOLUME_SPIKE"}) {
		t.Fatalf("entered = %v", entered)
	}
	if !slices.Equal(left, []string{"RSI_OVERSOLD"}) {
		t.Fatalf("left = %v", left)
	}
}

func TestStateValue(t *testing.T) {
	if v := Scalar("OK").Value(); v != "OK" {
		t.Fatalf("Value() = %q", v)
	}
	if v := Unset().Value(); v != "" {
		t.Fatalf("Value() = %q", v)
	}
}
