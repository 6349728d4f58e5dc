package bluebonnet

import (
	"sort"
	"testing"
	"time"
)

func TestNewID_UniqueAndSortable(t *testing.T) {
	const n = 100
	ids := make([]string, n)
	seen := make(map[string]bool, n)
	for i := range ids {
		ids[i] = NewID()
		if seen[ids[i]] {
			t.Fatalf("duplicate id %s", ids[i])
		}
		seen[ids[i]] = true
		if len(ids[i]) != 36 {
			t.Fatalf("id %q is not a canonical UUID", ids[i])
		}
	}
	// UUIDv7 is time-ordered: generation order and lexical order agree.
	if !sort.StringsAreSorted(ids) {
		t.Error("ids generated in sequence are not lexically sorted")
	}
}

func TestNowUnix(t *testing.T) {
	before := time.Now().Unix()
	got := NowUnix()
	after := time.Now().Unix()
	if got < before || got > after {
		t.Errorf("NowUnix = %d, want within [%d, %d]", got, before, after)
	}
}
