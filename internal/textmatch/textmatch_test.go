package textmatch

import (
	"reflect"
	"testing"
)

func TestTokens(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Tanker seized in the Strait of Hormuz!", []string{"tanker", "seized", "strait", "hormuz"}},
		{"U.S. and China hold talks; China says talks 'productive'", []string{"china", "hold", "talks", "productive"}},
		{"", []string{}},
		{"a an of to", []string{}},
		{"Kyiv: drones hit Kyiv power grid", []string{"kyiv", "drones", "hit", "power", "grid"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Tokens(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokens(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestJaccardAndOverlap(t *testing.T) {
	a := NewSet([]string{"tanker", "seized", "strait", "hormuz"})
	b := NewSet([]string{"strait", "hormuz", "tanker", "seizure"})

	if got := Overlap(a, b); got != 3 {
		t.Errorf("Overlap = %d, want 3", got)
	}
	if got := Jaccard(a, b); got != 3.0/5.0 {
		t.Errorf("Jaccard = %f, want 0.6", got)
	}
	if got := Jaccard(NewSet(nil), NewSet(nil)); got != 0 {
		t.Errorf("Jaccard of empty sets = %f, want 0", got)
	}
}

func TestContainsFold(t *testing.T) {
	if !ContainsFold("Taiwan STRAIT drills", "strait") {
		t.Error("expected case-insensitive match")
	}
	if ContainsFold("Taiwan drills", "strait") {
		t.Error("unexpected match")
	}
}
