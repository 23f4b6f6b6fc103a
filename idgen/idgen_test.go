package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7(t *testing.T) {
	id := UUIDv7()()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatal(err)
	}
	if u.Version() != 7 {
		t.Fatalf("version = %d", u.Version())
	}
}

func TestPrefixedSortable(t *testing.T) {
	a, b := Cycle(), Cycle()
	if !strings.HasPrefix(a, "cyc_") || !strings.HasPrefix(Notification(), "ntf_") {
		t.Fatalf("ids = %q", a)
	}
	if a == b {
		t.Fatal("duplicate id")
	}
	if a > b {
		t.Fatalf("ids not time ordered: %s > %s", a, b)
	}
}
